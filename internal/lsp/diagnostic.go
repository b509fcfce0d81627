package lsp

import (
	"github.com/chris-regnier/quell/internal/finding"
)

// DiagnosticSeverity maps to LSP severity levels
type DiagnosticSeverity int

const (
	DiagnosticSeverityError       DiagnosticSeverity = 1
	DiagnosticSeverityWarning     DiagnosticSeverity = 2
	DiagnosticSeverityInformation DiagnosticSeverity = 3
	DiagnosticSeverityHint        DiagnosticSeverity = 4
)

// Position represents a position in a text document (0-indexed)
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// DiagnosticData carries what a code action needs to build its command.
type DiagnosticData struct {
	RuleID   string         `json:"ruleId"`
	Severity string         `json:"severity"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity"`
	Code     string             `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
	Data     *DiagnosticData    `json:"data,omitempty"`
}

const diagnosticSource = "quell"

func severityToLSP(s finding.Severity) DiagnosticSeverity {
	switch s {
	case finding.SeverityError:
		return DiagnosticSeverityError
	case finding.SeverityWarning:
		return DiagnosticSeverityWarning
	default:
		return DiagnosticSeverityInformation
	}
}

// FindingToDiagnostic converts a finding's 1-based range to 0-based editor
// coordinates.
func FindingToDiagnostic(f finding.Finding) Diagnostic {
	startLine, startCol, endLine, endCol := f.ZeroBased()
	return Diagnostic{
		Range: Range{
			Start: Position{Line: startLine, Character: startCol},
			End:   Position{Line: endLine, Character: endCol},
		},
		Severity: severityToLSP(f.Severity),
		Code:     f.RuleID,
		Source:   diagnosticSource,
		Message:  f.Message,
		Data: &DiagnosticData{
			RuleID:   f.RuleID,
			Severity: f.Severity.String(),
			Metadata: f.Metadata,
		},
	}
}

// Diagnostics converts the findings at or above min, keeping their order.
// The result is never nil so that publishing it clears stale diagnostics.
func Diagnostics(fs []finding.Finding, min finding.Severity) []Diagnostic {
	out := make([]Diagnostic, 0, len(fs))
	for _, f := range fs {
		if f.Severity.AtLeast(min) {
			out = append(out, FindingToDiagnostic(f))
		}
	}
	return out
}
