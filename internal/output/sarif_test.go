package output

import (
	"encoding/json"
	"testing"

	"github.com/chris-regnier/quell/internal/sarif"
)

func TestSARIFFormatter_Enriches(t *testing.T) {
	report := testReport()
	report.SARIF = sarif.NewAssembler(testRoot).AddEntries(report.Entries).Build()

	out, err := (&SARIFFormatter{}).Format(report)
	if err != nil {
		t.Fatalf("Format() returned error: %v", err)
	}
	var log sarif.Log
	if err := json.Unmarshal(out, &log); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	run := log.Runs[0]
	if len(run.Invocations) != 1 || run.Invocations[0].WorkingDirectory == nil || run.Invocations[0].WorkingDirectory.URI != testRoot {
		t.Errorf("expected working directory invocation, got %+v", run.Invocations)
	}
	if len(run.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(run.Results))
	}
	for _, r := range run.Results {
		want := map[string]string{"error": "8.0", "warning": "5.0", "note": "2.0"}[r.Level]
		if r.Properties["security-severity"] != want {
			t.Errorf("%s: expected security-severity %s, got %v", r.RuleID, want, r.Properties["security-severity"])
		}
		if r.PartialFingerprints["primaryLocationLineHash"] == "" {
			t.Errorf("%s: missing primaryLocationLineHash", r.RuleID)
		}
	}
}

func TestSARIFFormatter_RequiresLog(t *testing.T) {
	if _, err := (&SARIFFormatter{}).Format(testReport()); err == nil {
		t.Fatal("expected error without SARIF log")
	}
}
