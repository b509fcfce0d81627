package api

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/suppress"
)

type errorResponse struct {
	Error string `json:"error"`
}

// findingJSON is a finding as served by /findings. Lines and columns are
// 1-based; path is relative to the project root when inside it.
type findingJSON struct {
	Path     string         `json:"path"`
	RuleID   string         `json:"rule_id"`
	Severity string         `json:"severity"`
	Line     int            `json:"line"`
	Col      int            `json:"col"`
	EndLine  int            `json:"end_line"`
	EndCol   int            `json:"end_col"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type scanRequest struct {
	Path string `json:"path"`
}

type scanResponse struct {
	ScanID     string   `json:"scan_id"`
	Target     string   `json:"target"`
	Findings   int      `json:"findings"`
	Errors     []string `json:"errors,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

type suppressRequest struct {
	Scope  string `json:"scope"`
	Path   string `json:"path"`
	Line   int    `json:"line"`
	RuleID string `json:"rule_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"root":     s.backend.Root(),
		"findings": s.backend.Store().Count(),
	})
}

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	min := finding.SeverityInfo
	if v := r.URL.Query().Get("min_severity"); v != "" {
		sev, err := finding.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		min = sev
	}
	pathFilter := r.URL.Query().Get("path")

	out := []findingJSON{}
	for _, e := range s.backend.Store().List(min) {
		rel := s.relPath(e.Path)
		if pathFilter != "" && rel != pathFilter && e.Path != pathFilter {
			continue
		}
		f := e.Finding
		out = append(out, findingJSON{
			Path:     rel,
			RuleID:   f.RuleID,
			Severity: f.Severity.String(),
			Line:     f.Start.Line,
			Col:      f.Start.Col,
			EndLine:  f.End.Line,
			EndCol:   f.End.Col,
			Message:  f.Message,
			Metadata: f.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCount(w http.ResponseWriter, _ *http.Request) {
	bySeverity := make(map[string]int, len(finding.Severities))
	for _, sev := range finding.Severities {
		bySeverity[sev.String()] = 0
	}
	total := 0
	for _, e := range s.backend.Store().List(finding.SeverityInfo) {
		bySeverity[e.Finding.Severity.String()]++
		total++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       total,
		"files":       len(s.backend.Store().Paths()),
		"by_severity": bySeverity,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.GetStats())
}

// handleScan scans one file, or the workspace when path is empty.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		run *finding.ScanRun
		err error
	)
	if strings.TrimSpace(req.Path) == "" {
		run, err = s.backend.ScanWorkspace(r.Context())
	} else {
		run, err = s.backend.ScanFile(r.Context(), req.Path)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{
		ScanID:     run.ID,
		Target:     run.Target,
		Findings:   len(run.Findings),
		Errors:     run.Errors,
		DurationMs: run.Duration.Milliseconds(),
	})
}

func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSuppress(w, r)
	if !ok {
		return
	}
	resp, err := s.backend.Suppress(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnsuppress(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSuppress(w, r)
	if !ok {
		return
	}
	resp, err := s.backend.Unsuppress(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeSuppress(w http.ResponseWriter, r *http.Request) (coordinator.SuppressRequest, bool) {
	var body suppressRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return coordinator.SuppressRequest{}, false
	}
	scope, err := suppress.ParseScope(body.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return coordinator.SuppressRequest{}, false
	}
	if body.RuleID == "" {
		writeError(w, http.StatusBadRequest, errors.New("rule_id is required"))
		return coordinator.SuppressRequest{}, false
	}
	if scope != suppress.ScopeGlobal && body.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required for "+string(scope)+" scope"))
		return coordinator.SuppressRequest{}, false
	}
	if body.Line < 0 {
		writeError(w, http.StatusBadRequest, errors.New("line must not be negative"))
		return coordinator.SuppressRequest{}, false
	}
	return coordinator.SuppressRequest{
		Scope:  scope,
		Path:   body.Path,
		Line:   body.Line,
		RuleID: body.RuleID,
	}, true
}

func (s *Server) relPath(path string) string {
	rel, err := filepath.Rel(s.backend.Root(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrScanInFlight):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, suppress.ErrLineOutOfRange),
		errors.Is(err, suppress.ErrUnsupportedLanguage),
		errors.Is(err, suppress.ErrUnsafeInsertion),
		errors.Is(err, suppress.ErrConfigParse),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
