package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/findings"
	"github.com/chris-regnier/quell/internal/scanner"
	"github.com/chris-regnier/quell/internal/suppress"
)

// fakeScanner returns canned findings keyed by absolute path.
type fakeScanner struct {
	root string

	mu     sync.Mutex
	byFile map[string][]finding.Finding
	scans  int
}

func (f *fakeScanner) Root() string { return f.root }

func (f *fakeScanner) set(path string, fs ...finding.Finding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byFile[path] = fs
}

func (f *fakeScanner) ScanFile(_ context.Context, path, _ string) (*finding.ScanRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	run := finding.NewScanRun(path)
	run.Findings = append(run.Findings, f.byFile[path]...)
	return run, nil
}

func (f *fakeScanner) ScanProject(_ context.Context, _ string) (*scanner.ProjectScan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	run := finding.NewScanRun(coordinator.WorkspaceKey)
	byFile := make(map[string][]finding.Finding)
	for p, fs := range f.byFile {
		run.Findings = append(run.Findings, fs...)
		byFile[p] = append([]finding.Finding(nil), fs...)
	}
	return &scanner.ProjectScan{Run: run, ByFile: byFile}, nil
}

func evalFinding(path string, line int, sev finding.Severity) finding.Finding {
	return finding.Finding{
		RuleID:   "python-eval",
		Path:     path,
		Start:    finding.Position{Line: line, Col: 5},
		End:      finding.Position{Line: line, Col: 12},
		Message:  "eval of untrusted input",
		Severity: sev,
	}
}

// harness drives a running server over pipes, playing the client.
type harness struct {
	root    string
	scanner *fakeScanner
	coord   *coordinator.Coordinator

	in     *io.PipeWriter
	msgs   chan jsonRPCMessage
	done   chan error
	nextID int
}

func newHarness(t *testing.T, cfg ServerConfig) *harness {
	t.Helper()
	root := t.TempDir()
	fake := &fakeScanner{root: root, byFile: make(map[string][]finding.Finding)}
	coord := coordinator.New(fake, findings.NewStore(), suppress.NewEditor(suppress.WithSafetyCheck(false)), ".semgrep")

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	srv, err := NewServer(bufio.NewReader(inR), bufio.NewWriter(outW), coord, cfg)
	require.NoError(t, err)

	h := &harness{
		root:    root,
		scanner: fake,
		coord:   coord,
		in:      inW,
		msgs:    make(chan jsonRPCMessage, 128),
		done:    make(chan error, 1),
	}
	go func() { h.done <- srv.Run(context.Background()) }()
	go func() {
		client := &Server{reader: bufio.NewReader(outR)}
		defer close(h.msgs)
		for {
			msg, err := client.readMessage()
			if err != nil {
				return
			}
			h.msgs <- *msg
		}
	}()

	t.Cleanup(func() {
		h.request(t, MethodShutdown, nil)
		h.notify(t, MethodExit, nil)
		select {
		case err := <-h.done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not exit")
		}
		outW.Close()
		coord.Close()
	})
	return h
}

func (h *harness) write(t *testing.T, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	_, err = fmt.Fprintf(h.in, "Content-Length: %d\r\n\r\n%s", len(data), data)
	require.NoError(t, err)
}

func (h *harness) request(t *testing.T, method string, params any) int {
	t.Helper()
	h.nextID++
	h.write(t, map[string]any{"jsonrpc": "2.0", "id": h.nextID, "method": method, "params": params})
	return h.nextID
}

func (h *harness) notify(t *testing.T, method string, params any) {
	t.Helper()
	h.write(t, map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// expect returns the first server message matching match, skipping others.
func (h *harness) expect(t *testing.T, what string, match func(jsonRPCMessage) bool) jsonRPCMessage {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-h.msgs:
			if !ok {
				t.Fatalf("connection closed waiting for %s", what)
			}
			if match(msg) {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func (h *harness) response(t *testing.T, id int) jsonRPCMessage {
	t.Helper()
	want := strconv.Itoa(id)
	return h.expect(t, "response "+want, func(m jsonRPCMessage) bool {
		return m.Method == "" && string(m.ID) == want
	})
}

// diagnostics waits for a publish for uri whose diagnostic count satisfies n.
func (h *harness) diagnostics(t *testing.T, uri string, n func(int) bool) []Diagnostic {
	t.Helper()
	var got PublishDiagnosticsParams
	h.expect(t, "diagnostics for "+uri, func(m jsonRPCMessage) bool {
		if m.Method != MethodTextDocumentPublishDiagnostics {
			return false
		}
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(m.Params, &p); err != nil || p.URI != uri {
			return false
		}
		if !n(len(p.Diagnostics)) {
			return false
		}
		got = p
		return true
	})
	return got.Diagnostics
}

func (h *harness) initialize(t *testing.T, progress bool) InitializeResult {
	t.Helper()
	params := InitializeParams{RootURI: pathToURI(h.root)}
	if progress {
		params.Capabilities.Window = &WindowClientCapabilities{WorkDoneProgress: true}
	}
	id := h.request(t, MethodInitialize, params)
	resp := h.response(t, id)
	require.Nil(t, resp.Error)
	var result InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	h.notify(t, MethodInitialized, map[string]any{})
	return result
}

func (h *harness) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func exactly(n int) func(int) bool { return func(got int) bool { return got == n } }
