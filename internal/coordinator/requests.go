package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/scanner"
	"github.com/chris-regnier/quell/internal/suppress"
)

// ScanFile scans one file and replaces its store entry with the result.
// A missing rules directory is logged, clears the entry and yields an empty
// run carrying one error note.
func (c *Coordinator) ScanFile(ctx context.Context, path string) (*finding.ScanRun, error) {
	abs := c.resolve(path)
	v, err := c.submit(ctx, "scan_file", abs, func(ctx context.Context) (any, error) {
		return c.scanFile(ctx, abs)
	})
	if err != nil {
		return nil, err
	}
	return v.(*finding.ScanRun), nil
}

// ScanWorkspace scans the whole project and repopulates the store from
// scratch.
func (c *Coordinator) ScanWorkspace(ctx context.Context) (*finding.ScanRun, error) {
	v, err := c.submit(ctx, "scan_workspace", WorkspaceKey, func(ctx context.Context) (any, error) {
		return c.scanWorkspace(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*finding.ScanRun), nil
}

// Clear empties the store.
func (c *Coordinator) Clear(ctx context.Context) error {
	_, err := c.submit(ctx, "clear", "", func(context.Context) (any, error) {
		c.store.Clear()
		return nil, nil
	})
	return err
}

// Reconfigure switches the scanner binary (when the scanner supports it)
// and the rules directory. Empty values leave the setting unchanged.
func (c *Coordinator) Reconfigure(ctx context.Context, binary, rulesDir string) error {
	_, err := c.submit(ctx, "reconfigure", "", func(context.Context) (any, error) {
		if binary != "" {
			if r, ok := c.scanner.(Reconfigurer); ok {
				r.Reconfigure(binary)
			}
		}
		if rulesDir != "" {
			dir := c.resolve(rulesDir)
			c.mu.Lock()
			c.rulesDir = dir
			c.mu.Unlock()
		}
		return nil, nil
	})
	return err
}

func (c *Coordinator) scanFile(ctx context.Context, abs string) (*finding.ScanRun, error) {
	run, err := c.scanner.ScanFile(ctx, abs, c.RulesDir())
	if errors.Is(err, scanner.ErrRulesNotFound) {
		c.logger.Warn("rules directory not found, no findings reported", "rules_dir", c.RulesDir(), "path", abs)
		c.store.Replace(abs, nil)
		run = finding.NewScanRun(abs)
		run.AddError(err.Error())
		return run, nil
	}
	if err != nil {
		return nil, err
	}
	c.store.Replace(abs, run.Findings)
	c.logger.Debug("file scanned", "path", abs, "findings", len(run.Findings), "errors", len(run.Errors))
	return run, nil
}

func (c *Coordinator) scanWorkspace(ctx context.Context) (*finding.ScanRun, error) {
	ps, err := c.scanner.ScanProject(ctx, c.RulesDir())
	if errors.Is(err, scanner.ErrRulesNotFound) {
		c.logger.Warn("rules directory not found, no findings reported", "rules_dir", c.RulesDir())
		c.store.Clear()
		run := finding.NewScanRun(WorkspaceKey)
		run.AddError(err.Error())
		return run, nil
	}
	if err != nil {
		return nil, err
	}
	changed := c.store.ReplaceAll(ps.ByFile)
	c.logger.Info("workspace scanned",
		"findings", len(ps.Run.Findings),
		"files", len(ps.ByFile),
		"changed", len(changed),
		"errors", len(ps.Run.Errors))

	if c.archive != nil {
		if err := c.archive.Save(ctx, ps.Run); err != nil {
			c.logger.Warn("archiving scan run failed", "run", ps.Run.ID, "err", err)
		}
	}
	return ps.Run, nil
}

// SuppressRequest names a suppression to apply or remove. Line is 0-based
// and ignored outside line scope; Path is ignored for global scope.
type SuppressRequest struct {
	Scope      suppress.Scope `json:"scope"`
	Path       string         `json:"path,omitempty"`
	Line       int            `json:"line,omitempty"`
	RuleID     string         `json:"rule_id"`
	LanguageID string         `json:"language_id,omitempty"`
}

// SuppressResponse reports the edit and, when a rescan followed, its run.
type SuppressResponse struct {
	Result  suppress.Result  `json:"-"`
	Status  string           `json:"result"`
	Edit    *suppress.Edit   `json:"edit,omitempty"`
	Rescan  *finding.ScanRun `json:"rescan,omitempty"`
	Warning string           `json:"warning,omitempty"`
}

// Suppress applies a suppression and rescans what it affects: the file for
// line and file scope, the workspace for global scope.
func (c *Coordinator) Suppress(ctx context.Context, req SuppressRequest) (*SuppressResponse, error) {
	v, err := c.submit(ctx, "suppress", "", func(ctx context.Context) (any, error) {
		return c.suppress(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SuppressResponse), nil
}

// Unsuppress removes a line or global suppression and rescans.
func (c *Coordinator) Unsuppress(ctx context.Context, req SuppressRequest) (*SuppressResponse, error) {
	v, err := c.submit(ctx, "unsuppress", "", func(ctx context.Context) (any, error) {
		return c.unsuppress(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SuppressResponse), nil
}

func (c *Coordinator) suppress(ctx context.Context, req SuppressRequest) (*SuppressResponse, error) {
	resp := &SuppressResponse{Warning: c.checkRule(req.RuleID)}

	switch req.Scope {
	case suppress.ScopeLine:
		doc, err := suppress.LoadDocument(c.resolve(req.Path), req.LanguageID)
		if err != nil {
			return nil, err
		}
		res, edit, err := c.editor.SuppressAtLine(ctx, doc, req.Line, req.RuleID)
		if err != nil {
			return nil, err
		}
		resp.Result, resp.Edit = res, edit
	case suppress.ScopeFile:
		doc, err := suppress.LoadDocument(c.resolve(req.Path), req.LanguageID)
		if err != nil {
			return nil, err
		}
		edit, err := c.editor.SuppressFileWide(ctx, doc, req.RuleID)
		if err != nil {
			return nil, err
		}
		resp.Result, resp.Edit = suppress.Applied, edit
	case suppress.ScopeGlobal:
		res, err := c.editor.SuppressGlobally(c.Root(), req.RuleID)
		if err != nil {
			return nil, err
		}
		resp.Result = res
	default:
		return nil, fmt.Errorf("unknown suppression scope %q", req.Scope)
	}
	resp.Status = resp.Result.String()

	if resp.Result == suppress.Applied {
		if err := c.rescanAfter(ctx, req, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *Coordinator) unsuppress(ctx context.Context, req SuppressRequest) (*SuppressResponse, error) {
	resp := &SuppressResponse{}

	switch req.Scope {
	case suppress.ScopeLine:
		doc, err := suppress.LoadDocument(c.resolve(req.Path), req.LanguageID)
		if err != nil {
			return nil, err
		}
		res, edit, err := c.editor.UnsuppressLine(ctx, doc, req.Line, req.RuleID)
		if err != nil {
			return nil, err
		}
		resp.Result, resp.Edit = res, edit
	case suppress.ScopeGlobal:
		res, err := c.editor.UnsuppressGlobally(c.Root(), req.RuleID)
		if err != nil {
			return nil, err
		}
		resp.Result = res
	default:
		return nil, fmt.Errorf("cannot remove a %q suppression", req.Scope)
	}
	resp.Status = resp.Result.String()

	if resp.Result == suppress.Removed {
		if err := c.rescanAfter(ctx, req, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// rescanAfter runs inline on the worker, so it cannot race another scan.
func (c *Coordinator) rescanAfter(ctx context.Context, req SuppressRequest, resp *SuppressResponse) error {
	if !c.rescan {
		return nil
	}
	var (
		run *finding.ScanRun
		err error
	)
	if req.Scope == suppress.ScopeGlobal {
		run, err = c.scanWorkspace(ctx)
	} else {
		run, err = c.scanFile(ctx, c.resolve(req.Path))
	}
	if err != nil {
		return fmt.Errorf("rescan after suppression: %w", err)
	}
	resp.Rescan = run
	return nil
}

func (c *Coordinator) checkRule(id string) string {
	if c.catalog == nil || c.catalog.Has(id) {
		return ""
	}
	c.logger.Warn("suppressing a rule that is not in the loaded rule set", "rule", id)
	return fmt.Sprintf("rule %q is not defined in %s", id, c.RulesDir())
}
