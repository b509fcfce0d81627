package output

import (
	"path/filepath"
	"testing"

	"github.com/chris-regnier/quell/internal/finding"
)

const testRoot = "/work/proj"

func entry(rel, rule string, sev finding.Severity, line int, msg string) finding.Entry {
	return finding.Entry{
		Path: filepath.Join(testRoot, rel),
		Finding: finding.Finding{
			RuleID:   rule,
			Path:     rel,
			Start:    finding.Position{Line: line, Col: 5},
			End:      finding.Position{Line: line, Col: 20},
			Message:  msg,
			Severity: sev,
		},
	}
}

func testReport() *Report {
	return &Report{
		Root: testRoot,
		Entries: []finding.Entry{
			entry("internal/handler.go", "go-sql-concat", finding.SeverityWarning, 15, "SQL string concatenation"),
			entry("config/db.go", "hardcoded-secret", finding.SeverityError, 42, "Hardcoded secret detected"),
			entry("config/db.go", "unchecked-error", finding.SeverityWarning, 78, "Error not checked"),
			entry("internal/handler.go", "long-function", finding.SeverityInfo, 23, "Function exceeds 50 lines"),
			entry("cmd/main.go", "init-panic", finding.SeverityWarning, 9, "Panic in init function"),
		},
	}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		tty      bool
		expected string
	}{
		{"json flag with tty", "json", true, "json"},
		{"sarif flag without tty", "sarif", false, "sarif"},
		{"markdown flag with tty", "markdown", true, "markdown"},
		{"pretty flag without tty", "pretty", false, "pretty"},
		{"tty defaults to pretty", "", true, "pretty"},
		{"pipe defaults to json", "", false, "json"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveFormat(tc.flag, tc.tty)
			if got != tc.expected {
				t.Errorf("ResolveFormat(%q, %v) = %q, want %q", tc.flag, tc.tty, got, tc.expected)
			}
		})
	}
}

func TestNewFormatter(t *testing.T) {
	for _, f := range []string{"json", "sarif", "markdown", "pretty"} {
		t.Run(f, func(t *testing.T) {
			formatter, err := NewFormatter(f)
			if err != nil {
				t.Fatalf("NewFormatter(%q) returned error: %v", f, err)
			}
			if formatter == nil {
				t.Fatalf("NewFormatter(%q) returned nil formatter", f)
			}
		})
	}
	for _, f := range []string{"xml", "", "unknown"} {
		t.Run("invalid "+f, func(t *testing.T) {
			formatter, err := NewFormatter(f)
			if err == nil || formatter != nil {
				t.Fatalf("NewFormatter(%q) = %v, %v; want nil, error", f, formatter, err)
			}
		})
	}
}

func TestReport_RelPath(t *testing.T) {
	r := &Report{Root: testRoot}
	if got := r.RelPath(finding.Entry{Path: "/work/proj/a/b.go"}); got != "a/b.go" {
		t.Errorf("expected a/b.go, got %q", got)
	}
	if got := r.RelPath(finding.Entry{Path: "/elsewhere/c.go"}); got != "/elsewhere/c.go" {
		t.Errorf("expected absolute path kept, got %q", got)
	}
}

func TestReport_Sorted(t *testing.T) {
	sorted := testReport().sorted()
	want := []string{"hardcoded-secret", "init-panic", "unchecked-error", "go-sql-concat", "long-function"}
	for i, id := range want {
		if sorted[i].Finding.RuleID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, sorted[i].Finding.RuleID)
		}
	}
}
