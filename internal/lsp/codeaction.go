package lsp

import "fmt"

// CodeActions offers, for each diagnostic, a line suppression plus one file
// and one project suppression per distinct rule.
func CodeActions(uri string, diagnostics []Diagnostic) []CodeAction {
	actions := []CodeAction{}
	seen := make(map[string]bool)

	for _, diag := range diagnostics {
		rule := diag.Code
		if rule == "" {
			continue
		}
		actions = append(actions, CodeAction{
			Title:       fmt.Sprintf("Suppress %s on this line", rule),
			Kind:        CodeActionKindQuickFix,
			Diagnostics: []Diagnostic{diag},
			IsPreferred: true,
			Command: &Command{
				Title:     "Suppress on this line",
				Command:   CommandSuppressLine,
				Arguments: []any{uri, diag.Range.Start.Line, rule},
			},
		})
		if seen[rule] {
			continue
		}
		seen[rule] = true
		actions = append(actions,
			CodeAction{
				Title:       fmt.Sprintf("Suppress %s in this file", rule),
				Kind:        CodeActionKindQuickFix,
				Diagnostics: []Diagnostic{diag},
				Command: &Command{
					Title:     "Suppress in this file",
					Command:   CommandSuppressFile,
					Arguments: []any{uri, rule},
				},
			},
			CodeAction{
				Title:       fmt.Sprintf("Suppress %s in the whole project", rule),
				Kind:        CodeActionKindQuickFix,
				Diagnostics: []Diagnostic{diag},
				Command: &Command{
					Title:     "Suppress in the project",
					Command:   CommandSuppressGlobal,
					Arguments: []any{rule},
				},
			},
		)
	}
	return actions
}

// FilterDiagnosticsForRange returns diagnostics that overlap with the given range
func FilterDiagnosticsForRange(diagnostics []Diagnostic, r Range) []Diagnostic {
	var filtered []Diagnostic
	for _, d := range diagnostics {
		if rangesOverlap(d.Range, r) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func rangesOverlap(a, b Range) bool {
	if a.End.Line < b.Start.Line || (a.End.Line == b.Start.Line && a.End.Character < b.Start.Character) {
		return false
	}
	if b.End.Line < a.Start.Line || (b.End.Line == a.Start.Line && b.End.Character < a.Start.Character) {
		return false
	}
	return true
}
