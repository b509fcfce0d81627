package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/chris-regnier/quell/internal/evaluator"
	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/input"
	"github.com/chris-regnier/quell/internal/output"
	"github.com/chris-regnier/quell/internal/sarif"
)

// gateError reports a failed gate. The verdict has already been printed, so
// main exits non-zero without repeating it.
type gateError struct {
	reason string
}

func (e *gateError) Error() string { return "gate failed: " + e.reason }

func stdoutIsTTY() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// minSeverity parses flagValue, falling back to the configured floor.
func (a *app) minSeverity(flagValue string) (finding.Severity, error) {
	if flagValue == "" {
		return a.cfg.Severity(), nil
	}
	return finding.ParseSeverity(flagValue)
}

// buildReport collects stored findings at or above min, limited to path
// when it is non-empty and to changed lines when changed is non-nil.
func (a *app) buildReport(ctx context.Context, run *finding.ScanRun, min finding.Severity, path string, changed input.ChangedLines) *output.Report {
	entries := a.coord.Store().List(min)
	if path != "" {
		abs := a.abs(path)
		kept := entries[:0]
		for _, e := range entries {
			if e.Path == abs {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	return a.report(ctx, run, entries, changed)
}

// archivedReport builds a report from a run loaded from history instead of
// the live store.
func (a *app) archivedReport(ctx context.Context, run *finding.ScanRun, min finding.Severity, changed input.ChangedLines) *output.Report {
	var entries []finding.Entry
	for _, e := range runEntries(a.root, run) {
		if e.Finding.Severity.AtLeast(min) {
			entries = append(entries, e)
		}
	}
	return a.report(ctx, run, entries, changed)
}

func (a *app) report(ctx context.Context, run *finding.ScanRun, entries []finding.Entry, changed input.ChangedLines) *output.Report {
	if changed != nil {
		entries = changed.Filter(a.root, entries)
	}

	toolVersion := run.Version
	if toolVersion == "" {
		toolVersion = a.invoker.Version(ctx)
	}
	log := sarif.NewAssembler(a.root).
		AddEntries(entries).
		WithCatalog(a.catalog).
		WithRun(run).
		WithToolVersion(toolVersion).
		Build()

	return &output.Report{
		Root:    a.root,
		Entries: entries,
		Run:     run,
		SARIF:   log,
	}
}

// sarifFor builds a log for findings that did not come from this process,
// so there is no catalog or live scanner version to attach.
func sarifFor(root string, entries []finding.Entry, run *finding.ScanRun) *sarif.Log {
	return sarif.NewAssembler(root).
		AddEntries(entries).
		WithRun(run).
		WithToolVersion(run.Version).
		Build()
}

// readDiff loads --diff when given.
func readDiff(path string) (input.ChangedLines, error) {
	if path == "" {
		return nil, nil
	}
	changed, err := input.ReadDiff(path, os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading diff: %w", err)
	}
	return changed, nil
}

func (a *app) evaluate(ctx context.Context, report *output.Report, regoDir string) error {
	if regoDir == "" {
		regoDir = a.cfg.Gate.RegoDir
	}
	if regoDir != "" {
		regoDir = a.abs(regoDir)
	}
	ev, err := evaluator.NewEvaluator(regoDir)
	if err != nil {
		return fmt.Errorf("loading gate policy: %w", err)
	}
	verdict, err := ev.Evaluate(ctx, report.SARIF)
	if err != nil {
		return fmt.Errorf("evaluating gate policy: %w", err)
	}
	report.Verdict = verdict
	return nil
}

// writeReport renders report in format (resolved against the terminal when
// empty) to outPath, or stdout when outPath is empty.
func writeReport(report *output.Report, format, outPath string) error {
	f, err := output.NewFormatter(output.ResolveFormat(format, outPath == "" && stdoutIsTTY()))
	if err != nil {
		return err
	}
	data, err := f.Format(report)
	if err != nil {
		return fmt.Errorf("formatting report: %w", err)
	}
	if outPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	return os.WriteFile(outPath, data, 0o644)
}

func (a *app) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if wd, err := os.Getwd(); err == nil {
		if abs := filepath.Join(wd, p); fileExists(abs) {
			return abs
		}
	}
	return filepath.Join(a.root, p)
}

func relTo(root, p string) string {
	if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return p
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
