package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/chris-regnier/quell/internal/evaluator"
	"github.com/chris-regnier/quell/internal/finding"
)

func TestJSONFormatter_Format(t *testing.T) {
	report := testReport()
	report.Run = &finding.ScanRun{ID: "run-1", Target: ".", Version: "1.50.0", Duration: 1500 * time.Millisecond, Errors: []string{"boom"}}
	report.Verdict = &evaluator.Verdict{Decision: evaluator.Fail, Reason: "errors present"}

	out, err := (&JSONFormatter{}).Format(report)
	if err != nil {
		t.Fatalf("Format() returned error: %v", err)
	}
	if out[len(out)-1] != '\n' {
		t.Error("output does not end with trailing newline")
	}

	var parsed struct {
		ScanID   string            `json:"scan_id"`
		Version  string            `json:"scanner_version"`
		Duration string            `json:"duration"`
		Counts   map[string]int    `json:"counts"`
		Findings []finding.Finding `json:"findings"`
		Errors   []string          `json:"errors"`
		Verdict  struct {
			Decision string `json:"decision"`
		} `json:"verdict"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, out)
	}
	if parsed.ScanID != "run-1" || parsed.Version != "1.50.0" || parsed.Duration != "1.5s" {
		t.Errorf("unexpected run fields: %+v", parsed)
	}
	if parsed.Counts["ERROR"] != 1 || parsed.Counts["WARNING"] != 3 || parsed.Counts["INFO"] != 1 {
		t.Errorf("unexpected counts: %v", parsed.Counts)
	}
	if len(parsed.Findings) != 5 {
		t.Fatalf("expected 5 findings, got %d", len(parsed.Findings))
	}
	if parsed.Findings[0].Path != "config/db.go" || parsed.Findings[0].Severity != finding.SeverityError {
		t.Errorf("expected error finding first with relative path, got %+v", parsed.Findings[0])
	}
	if parsed.Verdict.Decision != "fail" {
		t.Errorf("expected verdict fail, got %q", parsed.Verdict.Decision)
	}
	if len(parsed.Errors) != 1 {
		t.Errorf("expected scanner errors, got %v", parsed.Errors)
	}
}

func TestJSONFormatter_Empty(t *testing.T) {
	out, err := (&JSONFormatter{}).Format(&Report{})
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if !strings.Contains(s, `"findings": []`) {
		t.Errorf("expected empty findings array, got %s", s)
	}
	if strings.Contains(s, "verdict") || strings.Contains(s, "scan_id") {
		t.Errorf("expected optional fields omitted, got %s", s)
	}
	if !strings.Contains(s, `"ERROR": 0`) {
		t.Errorf("expected zero counts present, got %s", s)
	}
}

func TestJSONFormatter_NilReport(t *testing.T) {
	if _, err := (&JSONFormatter{}).Format(nil); err == nil {
		t.Fatal("expected error for nil report")
	}
}
