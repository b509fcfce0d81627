package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/findings"
	"github.com/chris-regnier/quell/internal/metrics"
	"github.com/chris-regnier/quell/internal/scanner"
	"github.com/chris-regnier/quell/internal/suppress"
)

type fakeScanner struct {
	root string

	mu     sync.Mutex
	byFile map[string][]finding.Finding
	gate   chan struct{}
}

func (f *fakeScanner) Root() string { return f.root }

func (f *fakeScanner) ScanFile(_ context.Context, path, _ string) (*finding.ScanRun, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	run := finding.NewScanRun(path)
	run.Findings = append(run.Findings, f.byFile[path]...)
	return run, nil
}

func (f *fakeScanner) ScanProject(_ context.Context, _ string) (*scanner.ProjectScan, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	run := finding.NewScanRun(coordinator.WorkspaceKey)
	byFile := make(map[string][]finding.Finding)
	for p, fs := range f.byFile {
		run.Findings = append(run.Findings, fs...)
		byFile[p] = fs
	}
	return &scanner.ProjectScan{Run: run, ByFile: byFile}, nil
}

func sample(rule string, line int, sev finding.Severity) finding.Finding {
	return finding.Finding{
		RuleID:   rule,
		Start:    finding.Position{Line: line, Col: 1},
		End:      finding.Position{Line: line, Col: 8},
		Message:  rule + " found",
		Severity: sev,
	}
}

type testEnv struct {
	root    string
	scanner *fakeScanner
	coord   *coordinator.Coordinator
	server  *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	fake := &fakeScanner{root: root, byFile: map[string][]finding.Finding{
		filepath.Join(root, "app.py"): {sample("python-eval", 2, finding.SeverityError)},
		filepath.Join(root, "db.go"): {
			sample("go-sql-concat", 10, finding.SeverityWarning),
			sample("go-todo", 3, finding.SeverityInfo),
		},
	}}
	coord := coordinator.New(fake, findings.NewStore(), suppress.NewEditor(suppress.WithSafetyCheck(false)), ".semgrep")
	t.Cleanup(coord.Close)

	collector := metrics.NewCollector()
	collector.Record(metrics.ScanEvent{Timestamp: time.Now(), Kind: metrics.ScanKindFile, Target: "app.py", FindingCount: 1, Outcome: metrics.OutcomeOK})

	return &testEnv{
		root:    root,
		scanner: fake,
		coord:   coord,
		server:  NewServer(coord, WithCollector(collector), WithVersion("1.0.0")),
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, float64(0), body["findings"])
}

func TestScanWorkspaceThenQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	scan := decode[scanResponse](t, rec)
	assert.Equal(t, coordinator.WorkspaceKey, scan.Target)
	assert.Equal(t, 3, scan.Findings)
	assert.NotEmpty(t, scan.ScanID)

	rec = env.do(t, http.MethodGet, "/findings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]findingJSON](t, rec)
	require.Len(t, all, 3)
	assert.Equal(t, "python-eval", all[0].RuleID)
	assert.Equal(t, "app.py", all[0].Path)
	assert.Equal(t, "ERROR", all[0].Severity)
	assert.Equal(t, 2, all[0].Line)

	rec = env.do(t, http.MethodGet, "/findings?min_severity=warning", nil)
	assert.Len(t, decode[[]findingJSON](t, rec), 2)

	rec = env.do(t, http.MethodGet, "/findings?path=db.go", nil)
	assert.Len(t, decode[[]findingJSON](t, rec), 2)

	rec = env.do(t, http.MethodGet, "/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	count := decode[struct {
		Total      int            `json:"total"`
		Files      int            `json:"files"`
		BySeverity map[string]int `json:"by_severity"`
	}](t, rec)
	assert.Equal(t, 3, count.Total)
	assert.Equal(t, 2, count.Files)
	assert.Equal(t, map[string]int{"ERROR": 1, "WARNING": 1, "INFO": 1}, count.BySeverity)
}

func TestFindings_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/findings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestFindings_InvalidSeverity(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/findings?min_severity=critical", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "critical")
}

func TestScanFile(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/scan", scanRequest{Path: "app.py"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[scanResponse](t, rec).Findings)
	assert.Len(t, env.coord.Store().Get(filepath.Join(env.root, "app.py")), 1)
	assert.Empty(t, env.coord.Store().Get(filepath.Join(env.root, "db.go")))
}

func TestScan_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScan_InFlightConflict(t *testing.T) {
	env := newTestEnv(t)
	env.scanner.gate = make(chan struct{})

	first := make(chan int, 1)
	go func() { first <- env.do(t, http.MethodPost, "/scan", nil).Code }()
	require.Eventually(t, func() bool { return env.coord.InFlight(coordinator.WorkspaceKey) }, 2*time.Second, 5*time.Millisecond)

	rec := env.do(t, http.MethodPost, "/scan", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(env.scanner.gate)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestSuppressLineAndUnsuppress(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.root, "app.py")
	require.NoError(t, os.WriteFile(path, []byte("import os\nx = eval(input())\n"), 0o644))

	rec := env.do(t, http.MethodPost, "/suppress", suppressRequest{Scope: "line", Path: "app.py", Line: 1, RuleID: "python-eval"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "applied", resp["result"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "nosemgrep: python-eval")

	rec = env.do(t, http.MethodPost, "/unsuppress", suppressRequest{Scope: "line", Path: "app.py", Line: 1, RuleID: "python-eval"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "removed", decode[map[string]any](t, rec)["result"])

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "import os\nx = eval(input())\n", string(data))
}

func TestSuppressGlobal(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/suppress", suppressRequest{Scope: "global", RuleID: "go-todo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data, err := os.ReadFile(filepath.Join(env.root, suppress.DefaultExcludeFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "go-todo")
}

func TestSuppress_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
		code int
	}{
		{"bad scope", suppressRequest{Scope: "project", Path: "a.py", RuleID: "r"}, http.StatusBadRequest},
		{"missing rule", suppressRequest{Scope: "line", Path: "a.py"}, http.StatusBadRequest},
		{"missing path", suppressRequest{Scope: "file", RuleID: "r"}, http.StatusBadRequest},
		{"negative line", suppressRequest{Scope: "line", Path: "a.py", Line: -1, RuleID: "r"}, http.StatusBadRequest},
		{"missing file", suppressRequest{Scope: "line", Path: "nope.py", RuleID: "r"}, http.StatusUnprocessableEntity},
	}
	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/suppress", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestMetricsAndStats(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/scan", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "quell_scans_total 1")
	assert.Contains(t, body, "quell_findings_current 3")
	assert.Contains(t, body, "go_goroutines")

	rec = env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[metrics.AggregateStats](t, rec)
	assert.Equal(t, int64(1), stats.TotalScans)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
