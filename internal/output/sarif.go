package output

import (
	"encoding/json"
	"fmt"

	"github.com/chris-regnier/quell/internal/sarif"
)

// SARIFFormatter renders the report's SARIF log enriched with GitHub Code
// Scanning properties (security-severity and the line-hash fingerprint).
type SARIFFormatter struct{}

func (f *SARIFFormatter) Format(report *Report) ([]byte, error) {
	if report == nil || report.SARIF == nil {
		return nil, fmt.Errorf("sarif formatter: SARIF log is required")
	}

	log := report.SARIF
	for i := range log.Runs {
		enrichRun(&log.Runs[i], report.Root)
	}

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("sarif formatter: %w", err)
	}
	return append(data, '\n'), nil
}

func enrichRun(run *sarif.Run, root string) {
	if root != "" {
		if len(run.Invocations) == 0 {
			run.Invocations = []sarif.Invocation{{ExecutionSuccessful: true}}
		}
		for i := range run.Invocations {
			run.Invocations[i].WorkingDirectory = &sarif.ArtifactLocation{URI: root}
		}
	}
	for j := range run.Results {
		r := &run.Results[j]
		if r.Properties == nil {
			r.Properties = make(map[string]any)
		}
		r.Properties["security-severity"] = securitySeverity(r.Level)
		if fp, ok := r.PartialFingerprints["quell/v1"]; ok {
			r.PartialFingerprints["primaryLocationLineHash"] = fp
		}
	}
}

// securitySeverity maps SARIF levels to GitHub Code Scanning security-severity scores.
func securitySeverity(level string) string {
	switch level {
	case "error":
		return "8.0"
	case "warning":
		return "5.0"
	default:
		return "2.0"
	}
}
