// Package mcpserver exposes scanning, the finding store and suppressions as
// Model Context Protocol tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/findings"
	"github.com/chris-regnier/quell/internal/suppress"
)

// Backend is the part of the coordinator the tools drive.
type Backend interface {
	Store() *findings.Store
	Root() string
	ScanFile(ctx context.Context, path string) (*finding.ScanRun, error)
	ScanWorkspace(ctx context.Context) (*finding.ScanRun, error)
	Suppress(ctx context.Context, req coordinator.SuppressRequest) (*coordinator.SuppressResponse, error)
	Unsuppress(ctx context.Context, req coordinator.SuppressRequest) (*coordinator.SuppressResponse, error)
}

const defaultListLimit = 200

// Server wraps an MCP server with quell's tools registered.
type Server struct {
	backend Backend
	mcp     *server.MCPServer
	logger  *slog.Logger
}

// New registers the tools. version is reported to clients.
func New(backend Backend, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend: backend,
		mcp:     server.NewMCPServer("quell", version, server.WithToolCapabilities(false), server.WithRecovery()),
		logger:  logger,
	}

	s.mcp.AddTool(mcp.NewTool("scan",
		mcp.WithDescription("Run the static analyzer. Scans one file when path is given, otherwise the whole project, and replaces the stored findings for what was scanned."),
		mcp.WithString("path", mcp.Description("File to scan, absolute or relative to the project root. Omit to scan the project.")),
	), s.handleScan)

	s.mcp.AddTool(mcp.NewTool("list_findings",
		mcp.WithDescription("List stored findings ordered by severity, most severe first. Lines and columns are 1-based."),
		mcp.WithString("min_severity", mcp.Description("Lowest severity to include."), mcp.Enum("INFO", "WARNING", "ERROR")),
		mcp.WithString("path", mcp.Description("Only findings in this file, relative to the project root.")),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Maximum findings to return (default %d).", defaultListLimit))),
	), s.handleListFindings)

	s.mcp.AddTool(mcp.NewTool("suppress",
		mcp.WithDescription("Suppress a rule on one line, in one file, or across the project, then rescan what it affects."),
		mcp.WithString("scope", mcp.Required(), mcp.Enum("line", "file", "global")),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("Rule to suppress, as reported by list_findings.")),
		mcp.WithString("path", mcp.Description("File to edit. Required for line and file scope.")),
		mcp.WithNumber("line", mcp.Description("1-based line. Required for line scope.")),
	), s.handleSuppress)

	s.mcp.AddTool(mcp.NewTool("unsuppress",
		mcp.WithDescription("Remove a line or project-wide suppression added earlier, then rescan."),
		mcp.WithString("scope", mcp.Required(), mcp.Enum("line", "global")),
		mcp.WithString("rule_id", mcp.Required()),
		mcp.WithString("path", mcp.Description("File to edit. Required for line scope.")),
		mcp.WithNumber("line", mcp.Description("1-based line. Required for line scope.")),
	), s.handleUnsuppress)

	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in/out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp server started", "root", s.backend.Root())
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) handleScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := strings.TrimSpace(req.GetString("path", ""))

	var (
		run *finding.ScanRun
		err error
	)
	if path == "" {
		run, err = s.backend.ScanWorkspace(ctx)
	} else {
		run, err = s.backend.ScanFile(ctx, path)
	}
	if err != nil {
		return mcp.NewToolResultErrorFromErr("scan failed", err), nil
	}

	counts := make(map[string]int, len(finding.Severities))
	for sev, n := range run.CountBySeverity() {
		counts[sev.String()] = n
	}
	return jsonResult(map[string]any{
		"scan_id":  run.ID,
		"target":   run.Target,
		"findings": len(run.Findings),
		"counts":   counts,
		"errors":   run.Errors,
	})
}

type findingJSON struct {
	Path     string `json:"path"`
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	EndLine  int    `json:"end_line"`
	Message  string `json:"message"`
	Snippet  string `json:"snippet,omitempty"`
}

func (s *Server) handleListFindings(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	min := finding.SeverityInfo
	if v := req.GetString("min_severity", ""); v != "" {
		sev, err := finding.ParseSeverity(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		min = sev
	}
	pathFilter := filepath.ToSlash(req.GetString("path", ""))
	limit := req.GetInt("limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}

	out := []findingJSON{}
	total := 0
	for _, e := range s.backend.Store().List(min) {
		rel := s.relPath(e.Path)
		if pathFilter != "" && rel != pathFilter && e.Path != pathFilter {
			continue
		}
		total++
		if len(out) >= limit {
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
			Message:  f.Message,
			Snippet:  f.Lines,
		})
	}
	return jsonResult(map[string]any{
		"total":     total,
		"truncated": total > len(out),
		"findings":  out,
	})
}

func (s *Server) handleSuppress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sreq, errResult := suppressArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	resp, err := s.backend.Suppress(ctx, sreq)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("suppress failed", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleUnsuppress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sreq, errResult := suppressArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	resp, err := s.backend.Unsuppress(ctx, sreq)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("unsuppress failed", err), nil
	}
	return jsonResult(resp)
}

// suppressArgs converts tool arguments, turning the 1-based line into the
// coordinator's 0-based one.
func suppressArgs(req mcp.CallToolRequest) (coordinator.SuppressRequest, *mcp.CallToolResult) {
	scopeArg, err := req.RequireString("scope")
	if err != nil {
		return coordinator.SuppressRequest{}, mcp.NewToolResultError(err.Error())
	}
	scope, err := suppress.ParseScope(scopeArg)
	if err != nil {
		return coordinator.SuppressRequest{}, mcp.NewToolResultError(err.Error())
	}
	rule, err := req.RequireString("rule_id")
	if err != nil {
		return coordinator.SuppressRequest{}, mcp.NewToolResultError(err.Error())
	}

	sreq := coordinator.SuppressRequest{Scope: scope, RuleID: rule}
	if scope == suppress.ScopeGlobal {
		return sreq, nil
	}
	sreq.Path = req.GetString("path", "")
	if sreq.Path == "" {
		return sreq, mcp.NewToolResultError(fmt.Sprintf("path is required for %s scope", scope))
	}
	if scope == suppress.ScopeLine {
		line := req.GetInt("line", 0)
		if line < 1 {
			return sreq, mcp.NewToolResultError("line must be a 1-based line number")
		}
		sreq.Line = line - 1
	}
	return sreq, nil
}

func (s *Server) relPath(path string) string {
	rel, err := filepath.Rel(s.backend.Root(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
