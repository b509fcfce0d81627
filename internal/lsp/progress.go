package lsp

import (
	"fmt"
	"sync/atomic"
)

// ProgressReporter sends work done progress for long-running requests.
// Reporting is skipped unless the client announced workDoneProgress support.
type ProgressReporter struct {
	send    func(msg jsonRPCMessage) error
	enabled atomic.Bool
	seq     atomic.Int64
}

func NewProgressReporter(send func(msg jsonRPCMessage) error) *ProgressReporter {
	return &ProgressReporter{send: send}
}

// Enable turns reporting on or off.
func (p *ProgressReporter) Enable(on bool) { p.enabled.Store(on) }

// Begin creates a progress token and reports its start. The returned token
// is empty when reporting is disabled.
func (p *ProgressReporter) Begin(title string) (string, error) {
	if !p.enabled.Load() {
		return "", nil
	}
	n := p.seq.Add(1)
	token := fmt.Sprintf("quell-progress-%d", n)

	create := jsonRPCMessage{
		JSONRPC: "2.0",
		ID:      mustMarshal(fmt.Sprintf("progress-create-%d", n)),
		Method:  MethodWindowWorkDoneProgressCreate,
		Params:  mustMarshal(WorkDoneProgressCreateParams{Token: token}),
	}
	if err := p.send(create); err != nil {
		return "", err
	}
	return token, p.notify(token, WorkDoneProgressBegin{Kind: "begin", Title: title})
}

// End completes the progress started by Begin.
func (p *ProgressReporter) End(token, message string) error {
	if token == "" {
		return nil
	}
	return p.notify(token, WorkDoneProgressEnd{Kind: "end", Message: message})
}

func (p *ProgressReporter) notify(token string, value any) error {
	return p.send(jsonRPCMessage{
		JSONRPC: "2.0",
		Method:  MethodProgress,
		Params:  mustMarshal(ProgressParams{Token: token, Value: value}),
	})
}
