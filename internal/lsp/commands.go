package lsp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/suppress"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errBadArguments   = errors.New("invalid command arguments")
)

// CommandResult represents the result of executing a command
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// CommandHandler handles workspace/executeCommand requests
type CommandHandler struct {
	server *Server
}

func NewCommandHandler(server *Server) *CommandHandler {
	return &CommandHandler{server: server}
}

// Execute runs a quell command. Argument shapes:
//
//	quell.scanFile       [uri]
//	quell.scanWorkspace  []
//	quell.suppressLine   [uri, line, ruleId]
//	quell.suppressFile   [uri, ruleId]
//	quell.suppressGlobal [ruleId]
//	quell.clear          []
func (h *CommandHandler) Execute(ctx context.Context, params ExecuteCommandParams) (*CommandResult, error) {
	args := params.Arguments
	switch params.Command {
	case CommandScanFile:
		uri, err := argString(args, 0, "uri")
		if err != nil {
			return nil, err
		}
		return h.scanFile(ctx, uri)
	case CommandScanWorkspace:
		return h.scanWorkspace(ctx)
	case CommandSuppressLine:
		uri, err := argString(args, 0, "uri")
		if err != nil {
			return nil, err
		}
		line, err := argInt(args, 1, "line")
		if err != nil {
			return nil, err
		}
		rule, err := argString(args, 2, "ruleId")
		if err != nil {
			return nil, err
		}
		return h.suppress(ctx, suppress.ScopeLine, uriToPath(uri), line, rule)
	case CommandSuppressFile:
		uri, err := argString(args, 0, "uri")
		if err != nil {
			return nil, err
		}
		rule, err := argString(args, 1, "ruleId")
		if err != nil {
			return nil, err
		}
		return h.suppress(ctx, suppress.ScopeFile, uriToPath(uri), 0, rule)
	case CommandSuppressGlobal:
		rule, err := argString(args, 0, "ruleId")
		if err != nil {
			return nil, err
		}
		return h.suppress(ctx, suppress.ScopeGlobal, "", 0, rule)
	case CommandClear:
		if err := h.server.coord.Clear(ctx); err != nil {
			return nil, err
		}
		return &CommandResult{Success: true, Message: "Findings cleared"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownCommand, params.Command)
	}
}

func (h *CommandHandler) scanFile(ctx context.Context, uri string) (*CommandResult, error) {
	path := uriToPath(uri)
	run, err := h.server.coord.ScanFile(ctx, path)
	if errors.Is(err, coordinator.ErrScanInFlight) {
		return &CommandResult{Success: false, Message: fmt.Sprintf("A scan of %s is already running", path)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &CommandResult{
		Success: true,
		Message: fmt.Sprintf("Scanned %s: %d findings", path, len(run.Findings)),
		Data:    scanData(run.Findings, run.Errors),
	}, nil
}

func (h *CommandHandler) scanWorkspace(ctx context.Context) (*CommandResult, error) {
	token, err := h.server.progress.Begin("quell: scanning workspace")
	if err != nil {
		h.server.logSendError(err)
	}

	run, err := h.server.coord.ScanWorkspace(ctx)
	if errors.Is(err, coordinator.ErrScanInFlight) {
		h.server.logSendError(h.server.progress.End(token, "already running"))
		return &CommandResult{Success: false, Message: "A workspace scan is already running"}, nil
	}
	if err != nil {
		h.server.logSendError(h.server.progress.End(token, "failed"))
		return nil, err
	}

	msg := fmt.Sprintf("Scanned workspace: %d findings in %d files", len(run.Findings), len(h.server.coord.Store().Paths()))
	h.server.logSendError(h.server.progress.End(token, msg))
	return &CommandResult{Success: true, Message: msg, Data: scanData(run.Findings, run.Errors)}, nil
}

func (h *CommandHandler) suppress(ctx context.Context, scope suppress.Scope, path string, line int, rule string) (*CommandResult, error) {
	resp, err := h.server.coord.Suppress(ctx, coordinator.SuppressRequest{
		Scope:      scope,
		Path:       path,
		Line:       line,
		RuleID:     rule,
		LanguageID: h.server.languageID(path),
	})
	if err != nil {
		h.server.showMessage(MessageTypeError, fmt.Sprintf("quell: could not suppress %s: %v", rule, err))
		return nil, err
	}
	if resp.Warning != "" {
		h.server.showMessage(MessageTypeWarning, "quell: "+resp.Warning)
	}
	return &CommandResult{
		Success: true,
		Message: fmt.Sprintf("%s: %s", rule, resp.Status),
		Data:    resp,
	}, nil
}

func scanData[T any](findings []T, errs []string) map[string]any {
	data := map[string]any{"findings": len(findings)}
	if len(errs) > 0 {
		data["errors"] = errs
	}
	return data
}

func argString(args []any, i int, name string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: %s argument required", errBadArguments, name)
	}
	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", errBadArguments, name)
	}
	return s, nil
}

// argInt accepts JSON numbers, which decode as float64.
func argInt(args []any, i int, name string) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: %s argument required", errBadArguments, name)
	}
	switch v := args[i].(type) {
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadArguments, name)
		}
		return int(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadArguments, name)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", errBadArguments, name)
	}
}
