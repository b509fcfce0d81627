package output

import (
	"strings"
	"testing"

	"github.com/chris-regnier/quell/internal/evaluator"
	"github.com/chris-regnier/quell/internal/finding"
)

func formatPretty(t *testing.T, report *Report) string {
	t.Helper()
	t.Setenv("NO_COLOR", "1")
	out, err := (&PrettyFormatter{}).Format(report)
	if err != nil {
		t.Fatalf("Format() returned error: %v", err)
	}
	return string(out)
}

func TestPrettyFormatter_GroupsByFile(t *testing.T) {
	output := formatPretty(t, testReport())

	cmdIdx := strings.Index(output, "cmd/main.go")
	configIdx := strings.Index(output, "config/db.go")
	internalIdx := strings.Index(output, "internal/handler.go")
	if cmdIdx < 0 || configIdx < 0 || internalIdx < 0 {
		t.Fatalf("output missing file headers:\n%s", output)
	}
	if cmdIdx >= configIdx || configIdx >= internalIdx {
		t.Errorf("files not sorted: %d %d %d", cmdIdx, configIdx, internalIdx)
	}
	// within a file, by line
	if strings.Index(output, "long-function") < strings.Index(output, "go-sql-concat") {
		t.Error("expected line 15 before line 23 in internal/handler.go")
	}
}

func TestPrettyFormatter_ContainsRuleIDs(t *testing.T) {
	output := formatPretty(t, testReport())
	for _, ruleID := range []string{"hardcoded-secret", "unchecked-error", "go-sql-concat", "long-function", "init-panic"} {
		if !strings.Contains(output, ruleID) {
			t.Errorf("output missing rule ID %q", ruleID)
		}
	}
}

func TestPrettyFormatter_SummaryAndGate(t *testing.T) {
	report := testReport()
	report.Verdict = &evaluator.Verdict{Decision: evaluator.Warn}
	output := formatPretty(t, report)

	for _, want := range []string{"5 findings", "1 error", "3 warnings", "1 info", "3 files", "gate: warn"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestPrettyFormatter_NoFindings(t *testing.T) {
	output := formatPretty(t, &Report{Run: &finding.ScanRun{Errors: []string{"rules directory not found"}}})
	if !strings.Contains(output, "no findings") {
		t.Error("expected 'no findings'")
	}
	if !strings.Contains(output, "scanner error: rules directory not found") {
		t.Error("expected scanner error line")
	}
}
