// Package finding defines the scanner's result model: findings, severities
// and the record of a single scanner invocation.
package finding

import (
	"time"

	"github.com/google/uuid"
)

// Position is a 1-based line/column pair as reported by the scanner.
type Position struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// Finding is one reported rule violation. Findings are never patched after
// a scan; the set for a file is replaced as a whole.
type Finding struct {
	RuleID   string         `json:"rule_id"`
	Path     string         `json:"path"`
	Start    Position       `json:"start"`
	End      Position       `json:"end"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Lines    string         `json:"lines,omitempty"`
}

// ZeroBased returns the finding's range converted to 0-based editor
// coordinates, clamped to be non-negative.
func (f Finding) ZeroBased() (startLine, startCol, endLine, endCol int) {
	return clamp(f.Start.Line - 1), clamp(f.Start.Col - 1), clamp(f.End.Line - 1), clamp(f.End.Col - 1)
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Entry pairs a finding with the absolute path of the file it was stored
// under.
type Entry struct {
	Path    string  `json:"path"`
	Finding Finding `json:"finding"`
}

// ScanRun is the result of one scanner invocation.
type ScanRun struct {
	ID        string        `json:"id"`
	Target    string        `json:"target"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Findings  []Finding     `json:"findings"`
	Errors    []string      `json:"errors,omitempty"`
	Version   string        `json:"version"`
}

// NewScanRun returns an empty run for target with a fresh ID.
func NewScanRun(target string) *ScanRun {
	return &ScanRun{
		ID:        uuid.NewString(),
		Target:    target,
		StartedAt: time.Now().UTC(),
		Findings:  []Finding{},
	}
}

// AddError appends a non-fatal error note.
func (r *ScanRun) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// CountBySeverity tallies findings per severity.
func (r *ScanRun) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}
