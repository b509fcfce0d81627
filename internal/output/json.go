package output

import (
	"encoding/json"
	"fmt"

	"github.com/chris-regnier/quell/internal/evaluator"
	"github.com/chris-regnier/quell/internal/finding"
)

// JSONFormatter renders the report as indented JSON.
type JSONFormatter struct{}

type jsonReport struct {
	ScanID   string             `json:"scan_id,omitempty"`
	Target   string             `json:"target,omitempty"`
	Version  string             `json:"scanner_version,omitempty"`
	Duration string             `json:"duration,omitempty"`
	Counts   map[string]int     `json:"counts"`
	Findings []finding.Finding  `json:"findings"`
	Errors   []string           `json:"errors,omitempty"`
	Verdict  *evaluator.Verdict `json:"verdict,omitempty"`
}

// Format serializes the report with paths relative to the root and a
// trailing newline.
func (f *JSONFormatter) Format(report *Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("json formatter: report is required")
	}
	out := jsonReport{
		Counts:   make(map[string]int, len(finding.Severities)),
		Findings: make([]finding.Finding, 0, len(report.Entries)),
		Verdict:  report.Verdict,
	}
	for _, s := range finding.Severities {
		out.Counts[s.String()] = 0
	}
	for s, n := range report.Counts() {
		out.Counts[s.String()] = n
	}
	for _, e := range report.sorted() {
		f := e.Finding
		f.Path = report.RelPath(e)
		out.Findings = append(out.Findings, f)
	}
	if run := report.Run; run != nil {
		out.ScanID = run.ID
		out.Target = run.Target
		out.Version = run.Version
		if run.Duration > 0 {
			out.Duration = run.Duration.String()
		}
		out.Errors = run.Errors
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json formatter: %w", err)
	}
	return append(data, '\n'), nil
}
