package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/history"
	"github.com/chris-regnier/quell/internal/suppress"
)

const scannerOutput = `{"results":[` +
	`{"check_id":"python-eval","path":"app.py","start":{"line":2,"col":5},"end":{"line":2,"col":20},"extra":{"message":"eval of untrusted input","severity":"ERROR","lines":"x = eval(input())"}},` +
	`{"check_id":"python-todo","path":"app.py","start":{"line":1,"col":1},"end":{"line":1,"col":10},"extra":{"message":"leftover import","severity":"INFO"}}` +
	`],"errors":[],"version":"1.2.3"}`

// project lays out a project whose configured scanner is a shell script
// printing output.
func project(t *testing.T, output string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake scanner is a shell script")
	}
	t.Setenv("HOME", t.TempDir())

	bin := filepath.Join(t.TempDir(), "fake-scanner")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--version\" ]; then echo 1.2.3; exit 0; fi\n" +
		"cat <<'EOF'\n" + output + "\nEOF\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".semgrep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".quell"), 0o755))
	cfg := "scanner:\n  binary: " + bin + "\n" +
		"suppression:\n  safety_check: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".quell", "config.yaml"), []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte("import os\nx = eval(input())\n"), 0o644))
	return root
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the CLI against root and returns what it wrote to stdout.
func execute(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--root", root, "--quiet"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}

type jsonReport struct {
	Version  string            `json:"scanner_version"`
	Counts   map[string]int    `json:"counts"`
	Findings []finding.Finding `json:"findings"`
	Verdict  *struct {
		Decision string `json:"decision"`
	} `json:"verdict"`
}

func readReport(t *testing.T, path string) jsonReport {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var r jsonReport
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func TestScan_WorkspaceJSON(t *testing.T) {
	root := project(t, scannerOutput)
	out := filepath.Join(t.TempDir(), "report.json")

	_, err := execute(t, root, "scan", "--format", "json", "--out", out)
	require.NoError(t, err)

	r := readReport(t, out)
	assert.Equal(t, "1.2.3", r.Version)
	assert.Equal(t, 1, r.Counts["ERROR"])
	assert.Equal(t, 1, r.Counts["INFO"])
	require.Len(t, r.Findings, 2)
	assert.Equal(t, "python-eval", r.Findings[0].RuleID)
	assert.Equal(t, "app.py", r.Findings[0].Path)
}

func TestScan_MinSeverityFlag(t *testing.T) {
	root := project(t, scannerOutput)
	out := filepath.Join(t.TempDir(), "report.json")

	_, err := execute(t, root, "scan", "app.py", "--min-severity", "warning", "-f", "json", "-o", out)
	require.NoError(t, err)

	r := readReport(t, out)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, "python-eval", r.Findings[0].RuleID)
}

func TestScan_InvalidSeverity(t *testing.T) {
	root := project(t, scannerOutput)
	_, err := execute(t, root, "scan", "--min-severity", "loud")
	require.ErrorIs(t, err, finding.ErrUnknownSeverity)
}

func TestScan_ArchivesRunAndHistoryLists(t *testing.T) {
	root := project(t, scannerOutput)
	_, err := execute(t, root, "scan", "-f", "json", "-o", filepath.Join(t.TempDir(), "r.json"))
	require.NoError(t, err)

	store, err := history.Open("file", filepath.Join(root, ".quell", "history"), 0)
	require.NoError(t, err)
	runs, err := store.List(t.Context())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Findings)

	stdout, err := execute(t, root, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, runs[0].ID)

	shown := filepath.Join(t.TempDir(), "shown.json")
	_, err = execute(t, root, "history", "show", runs[0].ID, "-f", "json", "-o", shown)
	require.NoError(t, err)
	assert.Len(t, readReport(t, shown).Findings, 2)
}

func TestCheck_FailsOnError(t *testing.T) {
	root := project(t, scannerOutput)
	out := filepath.Join(t.TempDir(), "report.json")

	_, err := execute(t, root, "check", "-f", "json", "-o", out)
	var gate *gateError
	require.True(t, errors.As(err, &gate), "expected gate failure, got %v", err)

	r := readReport(t, out)
	require.NotNil(t, r.Verdict)
	assert.Equal(t, "fail", r.Verdict.Decision)
}

func TestCheck_GatesArchivedRun(t *testing.T) {
	root := project(t, scannerOutput)
	_, err := execute(t, root, "scan", "-f", "json", "-o", filepath.Join(t.TempDir(), "r.json"))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "report.json")
	_, err = execute(t, root, "check", "--run", "latest", "-f", "json", "-o", out)
	var gate *gateError
	require.True(t, errors.As(err, &gate), "expected gate failure, got %v", err)
	r := readReport(t, out)
	assert.Len(t, r.Findings, 2)
	assert.Equal(t, "fail", r.Verdict.Decision)

	_, err = execute(t, root, "check", "--run", "no-such-run")
	require.Error(t, err)
	assert.False(t, errors.As(err, &gate))
	assert.Contains(t, err.Error(), "no-such-run")
}

func TestCheck_ArchivedRunNeedsHistory(t *testing.T) {
	root := project(t, scannerOutput)
	_, err := execute(t, root, "check", "--run", "latest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archived runs")
}

func TestCheck_PassesWithoutFindings(t *testing.T) {
	root := project(t, `{"results":[],"errors":[],"version":"1.2.3"}`)
	out := filepath.Join(t.TempDir(), "report.json")

	_, err := execute(t, root, "check", "-f", "json", "-o", out)
	require.NoError(t, err)
	assert.Equal(t, "pass", readReport(t, out).Verdict.Decision)
}

func TestCheck_DiffLimitsGate(t *testing.T) {
	root := project(t, scannerOutput)
	diff := filepath.Join(t.TempDir(), "change.diff")
	require.NoError(t, os.WriteFile(diff, []byte("--- a/app.py\n+++ b/app.py\n@@ -1 +1 @@\n-import sys\n+import os\n"), 0o644))
	out := filepath.Join(t.TempDir(), "report.json")

	_, err := execute(t, root, "check", "--diff", diff, "-f", "json", "-o", out)
	require.NoError(t, err)

	r := readReport(t, out)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, "python-todo", r.Findings[0].RuleID)
	assert.Equal(t, "pass", r.Verdict.Decision)
}

func TestSuppressLine(t *testing.T) {
	root := project(t, scannerOutput)

	stdout, err := execute(t, root, "suppress", "line", filepath.Join(root, "app.py"), "2", "python-eval")
	require.NoError(t, err)
	assert.Contains(t, stdout, "python-eval app.py:2 (line): applied")

	data, err := os.ReadFile(filepath.Join(root, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "import os\nx = eval(input()) # nosemgrep: python-eval\n", string(data))

	stdout, err = execute(t, root, "suppress", "line", filepath.Join(root, "app.py"), "2", "python-eval")
	require.NoError(t, err)
	assert.Contains(t, stdout, "already suppressed")

	stdout, err = execute(t, root, "unsuppress", "line", filepath.Join(root, "app.py"), "2", "python-eval")
	require.NoError(t, err)
	assert.Contains(t, stdout, "removed")
}

func TestSuppressGlobalAndUnsuppress(t *testing.T) {
	root := project(t, scannerOutput)
	exclude := filepath.Join(root, suppress.DefaultExcludeFile)

	_, err := execute(t, root, "suppress", "global", "python-eval")
	require.NoError(t, err)
	data, err := os.ReadFile(exclude)
	require.NoError(t, err)
	assert.Contains(t, string(data), "python-eval")

	stdout, err := execute(t, root, "unsuppress", "global", "python-eval")
	require.NoError(t, err)
	assert.Contains(t, stdout, "python-eval project (global): removed")
	data, err = os.ReadFile(exclude)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "python-eval")
}

func TestSuppress_UnsupportedLanguage(t *testing.T) {
	root := project(t, scannerOutput)
	path := filepath.Join(root, "notes.unknownext")
	require.NoError(t, os.WriteFile(path, []byte("text\n"), 0o644))

	_, err := execute(t, root, "suppress", "line", path, "1", "r1")
	require.ErrorIs(t, err, suppress.ErrUnsupportedLanguage)
}

func TestRulesInitAndList(t *testing.T) {
	root := project(t, scannerOutput)

	stdout, err := execute(t, root, "rules", "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, "quell-starter")

	stdout, err = execute(t, root, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "SEVERITY")
	assert.Contains(t, stdout, "quell-starter")

	stdout, err = execute(t, root, "rules", "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, "already present")
}

func TestParseSuppressArgs(t *testing.T) {
	tests := []struct {
		name    string
		scope   suppress.Scope
		args    []string
		line    int
		path    string
		rule    string
		wantErr bool
	}{
		{name: "line is 1-based", scope: suppress.ScopeLine, args: []string{"a.py", "3", "r"}, line: 2, path: "a.py", rule: "r"},
		{name: "line zero", scope: suppress.ScopeLine, args: []string{"a.py", "0", "r"}, wantErr: true},
		{name: "line not a number", scope: suppress.ScopeLine, args: []string{"a.py", "x", "r"}, wantErr: true},
		{name: "file", scope: suppress.ScopeFile, args: []string{"a.py", "r"}, path: "a.py", rule: "r"},
		{name: "global", scope: suppress.ScopeGlobal, args: []string{"r"}, rule: "r"},
		{name: "empty rule", scope: suppress.ScopeGlobal, args: []string{""}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseSuppressArgs(tt.scope, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scope, req.Scope)
			assert.Equal(t, tt.line, req.Line)
			assert.Equal(t, tt.path, req.Path)
			assert.Equal(t, tt.rule, req.RuleID)
		})
	}
}

func TestRunEntries(t *testing.T) {
	run := finding.NewScanRun(".")
	run.Findings = []finding.Finding{
		{RuleID: "a", Path: "src/x.py"},
		{RuleID: "b", Path: "/abs/y.py"},
	}
	entries := runEntries("/proj", run)
	require.Len(t, entries, 2)
	assert.Equal(t, filepath.Join("/proj", "src", "x.py"), entries[0].Path)
	assert.Equal(t, filepath.Clean("/abs/y.py"), entries[1].Path)
}

func TestRelTo(t *testing.T) {
	assert.Equal(t, "src/a.py", relTo("/proj", filepath.Join("/proj", "src", "a.py")))
	assert.Equal(t, "/elsewhere/a.py", relTo("/proj", "/elsewhere/a.py"))
	assert.True(t, strings.HasSuffix(relTo("/proj", "/proj"), "."))
}
