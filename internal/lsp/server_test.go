package lsp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-regnier/quell/internal/finding"
)

func openParams(path, lang string) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{
			"uri":        pathToURI(path),
			"languageId": lang,
			"version":    1,
			"text":       "",
		},
	}
}

func docParams(path string) map[string]any {
	return map[string]any{"textDocument": map[string]any{"uri": pathToURI(path)}}
}

func commandResult(t *testing.T, msg jsonRPCMessage) CommandResult {
	t.Helper()
	require.Nil(t, msg.Error, "unexpected error response")
	var res CommandResult
	require.NoError(t, json.Unmarshal(msg.Result, &res))
	return res
}

func TestServer_Initialize(t *testing.T) {
	h := newHarness(t, ServerConfig{Version: "1.2.3"})
	result := h.initialize(t, false)

	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, "quell", result.ServerInfo.Name)
	assert.Equal(t, "1.2.3", result.ServerInfo.Version)
	require.NotNil(t, result.Capabilities.TextDocumentSync)
	assert.True(t, result.Capabilities.TextDocumentSync.OpenClose)
	assert.True(t, result.Capabilities.TextDocumentSync.Save)
	assert.Equal(t, 0, result.Capabilities.TextDocumentSync.Change)
	assert.True(t, result.Capabilities.CodeActionProvider)
	require.NotNil(t, result.Capabilities.ExecuteCommandProvider)
	assert.Equal(t, Commands, result.Capabilities.ExecuteCommandProvider.Commands)
}

func TestServer_UnknownRequest(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t, false)

	id := h.request(t, "textDocument/hover", map[string]any{})
	resp := h.response(t, id)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestServer_DidOpenPublishesStoredFindings(t *testing.T) {
	h := newHarness(t, ServerConfig{MinSeverity: finding.SeverityWarning})
	h.initialize(t, false)

	path := filepath.Join(h.root, "app.py")
	h.coord.Store().Replace(path, []finding.Finding{
		evalFinding(path, 2, finding.SeverityInfo),
		evalFinding(path, 4, finding.SeverityError),
	})
	h.notify(t, MethodTextDocumentDidOpen, openParams(path, "python"))

	diags := h.diagnostics(t, pathToURI(path), exactly(1))
	assert.Equal(t, 3, diags[0].Range.Start.Line)
	assert.Equal(t, DiagnosticSeverityError, diags[0].Severity)
}

func TestServer_ScanOnOpenAndSave(t *testing.T) {
	h := newHarness(t, ServerConfig{
		Debounce:      10 * time.Millisecond,
		WatchPatterns: []string{"**/*.py"},
		ScanOnSave:    true,
	})
	h.initialize(t, false)

	path := h.writeFile(t, "app.py", "x = eval(input())\n")
	uri := pathToURI(path)
	h.scanner.set(path, evalFinding(path, 1, finding.SeverityError))

	h.notify(t, MethodTextDocumentDidOpen, openParams(path, "python"))
	diags := h.diagnostics(t, uri, exactly(1))
	assert.Equal(t, "python-eval", diags[0].Code)

	// the fix removed the finding
	h.scanner.set(path)
	h.notify(t, MethodTextDocumentDidSave, docParams(path))
	h.diagnostics(t, uri, exactly(0))
}

func TestServer_ScanOnSaveDisabledBySettings(t *testing.T) {
	h := newHarness(t, ServerConfig{
		Debounce:      10 * time.Millisecond,
		WatchPatterns: []string{"**/*.py"},
		ScanOnSave:    true,
	})
	h.initialize(t, false)
	h.notify(t, MethodWorkspaceDidChangeConfig, map[string]any{
		"settings": map[string]any{"quell": map[string]any{"scanOnSave": false}},
	})

	path := h.writeFile(t, "app.py", "x = 1\n")
	h.notify(t, MethodTextDocumentDidSave, docParams(path))

	// a request after the save proves the notification was handled
	id := h.request(t, "textDocument/hover", map[string]any{})
	h.response(t, id)
	time.Sleep(50 * time.Millisecond)

	h.scanner.mu.Lock()
	defer h.scanner.mu.Unlock()
	assert.Zero(t, h.scanner.scans)
}

func TestServer_MinSeverityChangeRepublishes(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t, false)

	path := filepath.Join(h.root, "app.py")
	uri := pathToURI(path)
	h.coord.Store().Replace(path, []finding.Finding{
		evalFinding(path, 2, finding.SeverityInfo),
		evalFinding(path, 4, finding.SeverityError),
	})
	h.diagnostics(t, uri, exactly(2))

	h.notify(t, MethodWorkspaceDidChangeConfig, map[string]any{
		"settings": map[string]any{"quell": map[string]any{"minSeverity": "error"}},
	})
	h.diagnostics(t, uri, exactly(1))
}

func TestServer_CodeAction(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t, false)

	path := filepath.Join(h.root, "app.py")
	h.coord.Store().Replace(path, []finding.Finding{
		evalFinding(path, 3, finding.SeverityError),
		evalFinding(path, 30, finding.SeverityError),
	})

	id := h.request(t, MethodTextDocumentCodeAction, CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
		Range:        Range{Start: Position{Line: 2}, End: Position{Line: 2, Character: 8}},
	})
	resp := h.response(t, id)
	require.Nil(t, resp.Error)

	var actions []CodeAction
	require.NoError(t, json.Unmarshal(resp.Result, &actions))
	require.Len(t, actions, 3)
	assert.Equal(t, CommandSuppressLine, actions[0].Command.Command)
	assert.Equal(t, []any{pathToURI(path), float64(2), "python-eval"}, actions[0].Command.Arguments)
}

func TestServer_ExecuteScanFile(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t, false)

	path := h.writeFile(t, "app.py", "x = eval(input())\n")
	h.scanner.set(path, evalFinding(path, 1, finding.SeverityError))

	id := h.request(t, MethodWorkspaceExecuteCommand, ExecuteCommandParams{
		Command:   CommandScanFile,
		Arguments: []any{pathToURI(path)},
	})
	h.diagnostics(t, pathToURI(path), exactly(1))
	res := commandResult(t, h.response(t, id))
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "1 findings")
}

func TestServer_ExecuteScanWorkspaceReportsProgress(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t, true)

	a := filepath.Join(h.root, "a.py")
	b := filepath.Join(h.root, "pkg", "b.py")
	h.scanner.set(a, evalFinding(a, 1, finding.SeverityError))
	h.scanner.set(b, evalFinding(b, 5, finding.SeverityWarning), evalFinding(b, 9, finding.SeverityInfo))

	id := h.request(t, MethodWorkspaceExecuteCommand, ExecuteCommandParams{Command: CommandScanWorkspace})

	create := h.expect(t, "progress create", func(m jsonRPCMessage) bool {
		return m.Method == MethodWindowWorkDoneProgressCreate
	})
	var cp WorkDoneProgressCreateParams
	require.NoError(t, json.Unmarshal(create.Params, &cp))
	require.NotEmpty(t, cp.Token)

	progressKind := func(kind string) func(jsonRPCMessage) bool {
		return func(m jsonRPCMessage) bool {
			if m.Method != MethodProgress {
				return false
			}
			var p struct {
				Token string         `json:"token"`
				Value map[string]any `json:"value"`
			}
			return json.Unmarshal(m.Params, &p) == nil && p.Token == cp.Token && p.Value["kind"] == kind
		}
	}
	h.expect(t, "progress begin", progressKind("begin"))
	h.expect(t, "progress end", progressKind("end"))

	res := commandResult(t, h.response(t, id))
	assert.True(t, res.Success)
	assert.Equal(t, "Scanned workspace: 3 findings in 2 files", res.Message)
	assert.Equal(t, 3, h.coord.Store().Count())
}

func TestServer_ExecuteSuppressLine(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t, false)

	path := h.writeFile(t, "app.py", "import os\nx = eval(input())\n")
	h.scanner.set(path, evalFinding(path, 2, finding.SeverityError))

	id := h.request(t, MethodWorkspaceExecuteCommand, ExecuteCommandParams{
		Command:   CommandSuppressLine,
		Arguments: []any{pathToURI(path), 1, "python-eval"},
	})
	res := commandResult(t, h.response(t, id))
	assert.True(t, res.Success)
	assert.Equal(t, "python-eval: applied", res.Message)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	assert.Equal(t, "import os", lines[0])
	assert.Contains(t, lines[1], "# nosemgrep: python-eval")
}

func TestServer_ExecuteSuppressGlobal(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t, false)

	id := h.request(t, MethodWorkspaceExecuteCommand, ExecuteCommandParams{
		Command:   CommandSuppressGlobal,
		Arguments: []any{"python-eval"},
	})
	res := commandResult(t, h.response(t, id))
	assert.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(h.root, ".quell-exclude.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "python-eval")
}

func TestServer_ExecuteClear(t *testing.T) {
	h := newHarness(t, ServerConfig{})
	h.initialize(t, false)

	path := filepath.Join(h.root, "app.py")
	h.coord.Store().Replace(path, []finding.Finding{evalFinding(path, 1, finding.SeverityError)})
	h.diagnostics(t, pathToURI(path), exactly(1))

	id := h.request(t, MethodWorkspaceExecuteCommand, ExecuteCommandParams{Command: CommandClear})
	h.diagnostics(t, pathToURI(path), exactly(0))
	assert.True(t, commandResult(t, h.response(t, id)).Success)
	assert.Zero(t, h.coord.Store().Count())
}

func TestServer_ExecuteCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		params ExecuteCommandParams
		code   int
	}{
		{"unknown command", ExecuteCommandParams{Command: "quell.nope"}, codeInvalidParams},
		{"missing line", ExecuteCommandParams{Command: CommandSuppressLine, Arguments: []any{"file:///p/a.py"}}, codeInvalidParams},
		{"negative line", ExecuteCommandParams{Command: CommandSuppressLine, Arguments: []any{"file:///p/a.py", -1, "r"}}, codeInvalidParams},
		{"uri not a string", ExecuteCommandParams{Command: CommandScanFile, Arguments: []any{42}}, codeInvalidParams},
		{"missing file", ExecuteCommandParams{Command: CommandSuppressFile, Arguments: []any{"file:///does/not/exist.py", "r"}}, codeRequestFailed},
	}

	h := newHarness(t, ServerConfig{})
	h.initialize(t, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := h.request(t, MethodWorkspaceExecuteCommand, tt.params)
			resp := h.response(t, id)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}
