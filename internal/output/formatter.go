// Package output renders scan results as JSON, SARIF, Markdown or colored
// terminal text.
package output

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chris-regnier/quell/internal/evaluator"
	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/sarif"
)

// Formatter renders a Report into a byte slice in a specific format.
type Formatter interface {
	Format(report *Report) ([]byte, error)
}

// Report holds everything a formatter may render. Entries is required;
// Run, Verdict and SARIF are optional except where a formatter says so.
type Report struct {
	Root    string
	Entries []finding.Entry
	Run     *finding.ScanRun
	Verdict *evaluator.Verdict
	SARIF   *sarif.Log
}

// RelPath returns e's path relative to the report root when it lies inside
// it, using forward slashes.
func (r *Report) RelPath(e finding.Entry) string {
	if r.Root != "" {
		if rel, err := filepath.Rel(r.Root, e.Path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(e.Path)
}

// Counts tallies entries per severity.
func (r *Report) Counts() map[finding.Severity]int {
	counts := make(map[finding.Severity]int, len(finding.Severities))
	for _, e := range r.Entries {
		counts[e.Finding.Severity]++
	}
	return counts
}

// sorted returns entries ordered by severity (highest first), then path,
// then line.
func (r *Report) sorted() []finding.Entry {
	out := make([]finding.Entry, len(r.Entries))
	copy(out, r.Entries)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Finding.Severity != b.Finding.Severity {
			return a.Finding.Severity > b.Finding.Severity
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Finding.Start.Line < b.Finding.Start.Line
	})
	return out
}

// ResolveFormat determines the output format to use. If flagValue is non-empty,
// it is returned directly. Otherwise, "pretty" is returned for TTY output and
// "json" for non-TTY (piped) output.
func ResolveFormat(flagValue string, stdoutIsTTY bool) string {
	if flagValue != "" {
		return flagValue
	}
	if stdoutIsTTY {
		return "pretty"
	}
	return "json"
}

// NewFormatter returns a Formatter for the given format name.
func NewFormatter(format string) (Formatter, error) {
	switch format {
	case "json":
		return &JSONFormatter{}, nil
	case "sarif":
		return &SARIFFormatter{}, nil
	case "markdown":
		return &MarkdownFormatter{}, nil
	case "pretty":
		return &PrettyFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %q (supported: json, sarif, markdown, pretty)", format)
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
