package scanner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chris-regnier/quell/internal/finding"
)

type rawOutput struct {
	Results []rawResult       `json:"results"`
	Errors  []json.RawMessage `json:"errors"`
	Version string            `json:"version"`
}

type rawPosition struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

type rawResult struct {
	CheckID string      `json:"check_id"`
	Path    string      `json:"path"`
	Start   rawPosition `json:"start"`
	End     rawPosition `json:"end"`
	Extra   struct {
		Message  string         `json:"message"`
		Severity string         `json:"severity"`
		Metadata map[string]any `json:"metadata"`
		Lines    string         `json:"lines"`
	} `json:"extra"`
}

// ParseOutput decodes scanner stdout. It accepts a bare JSON document or
// log text followed by a line that starts the JSON object. Results with an
// unknown severity are dropped and noted in the run's errors.
func ParseOutput(stdout []byte) (*finding.ScanRun, error) {
	raw, err := decodeOutput(stdout)
	if err != nil {
		return nil, err
	}

	run := &finding.ScanRun{
		Findings: make([]finding.Finding, 0, len(raw.Results)),
		Version:  raw.Version,
	}
	for _, e := range raw.Errors {
		run.AddError(errorText(e))
	}
	for _, r := range raw.Results {
		sev, err := finding.ParseSeverity(r.Extra.Severity)
		if err != nil {
			run.AddError(fmt.Sprintf("%s at %s:%d: %v", r.CheckID, r.Path, r.Start.Line, err))
			continue
		}
		end := r.End
		if end.Line == 0 {
			end = r.Start
		}
		run.Findings = append(run.Findings, finding.Finding{
			RuleID:   r.CheckID,
			Path:     r.Path,
			Start:    finding.Position{Line: r.Start.Line, Col: r.Start.Col},
			End:      finding.Position{Line: end.Line, Col: end.Col},
			Message:  r.Extra.Message,
			Severity: sev,
			Metadata: r.Extra.Metadata,
			Lines:    r.Extra.Lines,
		})
	}
	return run, nil
}

func decodeOutput(stdout []byte) (*rawOutput, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrParse)
	}

	// only an object counts; "null" or a bare array would decode as an
	// empty run
	var out rawOutput
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &out); err == nil {
			return &out, nil
		}
	}

	start := firstObjectLine(stdout)
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON object in output", ErrParse)
	}
	// Decode only the first value so trailing log lines are ignored.
	dec := json.NewDecoder(bytes.NewReader(stdout[start:]))
	out = rawOutput{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &out, nil
}

// firstObjectLine returns the byte offset of the first line whose first
// non-blank character is '{', or -1.
func firstObjectLine(data []byte) int {
	offset := 0
	for offset < len(data) {
		line := data[offset:]
		end := bytes.IndexByte(line, '\n')
		if end >= 0 {
			line = line[:end]
		}
		trimmed := bytes.TrimLeft(line, " \t\r")
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return offset + len(line) - len(trimmed)
		}
		if end < 0 {
			break
		}
		offset += end + 1
	}
	return -1
}

// errorText flattens a scanner error entry. Entries are plain strings in
// some scanner versions and objects with a message field in others.
func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Type    any    `json:"type"`
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		if obj.Level != "" {
			return obj.Level + ": " + strings.TrimSpace(obj.Message)
		}
		return strings.TrimSpace(obj.Message)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err == nil {
		return compact.String()
	}
	return string(raw)
}
