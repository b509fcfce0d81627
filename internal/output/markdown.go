package output

import (
	"fmt"
	"strings"

	"github.com/chris-regnier/quell/internal/evaluator"
	"github.com/chris-regnier/quell/internal/finding"
)

// MarkdownFormatter renders the report as GitHub-Flavored Markdown
// suitable for PR comments, with one collapsible section per finding.
type MarkdownFormatter struct{}

func severityEmoji(s finding.Severity) string {
	switch s {
	case finding.SeverityError:
		return ":red_circle:"
	case finding.SeverityWarning:
		return ":warning:"
	case finding.SeverityInfo:
		return ":information_source:"
	default:
		return ":grey_question:"
	}
}

func decisionBanner(decision string) string {
	switch decision {
	case evaluator.Pass:
		return ":white_check_mark: Pass"
	case evaluator.Warn:
		return ":warning: Warn"
	case evaluator.Fail:
		return ":x: Fail"
	default:
		return decision
	}
}

func lineRange(f finding.Finding) string {
	if f.Start.Line == 0 {
		return ""
	}
	if f.End.Line == 0 || f.End.Line == f.Start.Line {
		return fmt.Sprintf("%d", f.Start.Line)
	}
	return fmt.Sprintf("%d-%d", f.Start.Line, f.End.Line)
}

func (f *MarkdownFormatter) Format(report *Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("markdown formatter: report is required")
	}

	var b strings.Builder
	files := make(map[string]struct{})
	for _, e := range report.Entries {
		files[e.Path] = struct{}{}
	}

	b.WriteString("## quell scan summary\n\n")
	if report.Verdict != nil {
		fmt.Fprintf(&b, "**Gate:** %s | ", decisionBanner(report.Verdict.Decision))
	}
	fmt.Fprintf(&b, "**Findings:** %d | **Files:** %d\n", len(report.Entries), len(files))

	if len(report.Entries) == 0 {
		b.WriteString("\nNo findings detected.\n")
	} else {
		counts := report.Counts()
		b.WriteString("\n### Findings by Severity\n")
		b.WriteString("| Severity | Count |\n")
		b.WriteString("|----------|-------|\n")
		for i := len(finding.Severities) - 1; i >= 0; i-- {
			s := finding.Severities[i]
			if counts[s] > 0 {
				fmt.Fprintf(&b, "| %s | %d |\n", s, counts[s])
			}
		}

		b.WriteString("\n### Findings\n\n")
		for _, e := range report.sorted() {
			fd := e.Finding
			path := report.RelPath(e)
			lines := lineRange(fd)

			loc := fmt.Sprintf("<code>%s</code>", path)
			if lines != "" {
				loc = fmt.Sprintf("<code>%s:%d</code>", path, fd.Start.Line)
			}
			b.WriteString("<details>\n")
			fmt.Fprintf(&b, "<summary>%s <strong>%s</strong> %s: %s in %s</summary>\n\n",
				severityEmoji(fd.Severity), fd.Severity, fd.RuleID, truncate(firstLine(fd.Message), 80), loc)
			fmt.Fprintf(&b, "**Rule:** `%s`\n", fd.RuleID)
			if lines != "" {
				fmt.Fprintf(&b, "**File:** `%s` lines %s\n", path, lines)
			} else {
				fmt.Fprintf(&b, "**File:** `%s`\n", path)
			}
			fmt.Fprintf(&b, "\n> %s\n", strings.ReplaceAll(strings.TrimSpace(fd.Message), "\n", "\n> "))
			if fd.Lines != "" {
				fmt.Fprintf(&b, "\n```\n%s\n```\n", strings.TrimRight(fd.Lines, "\n"))
			}
			b.WriteString("\n</details>\n\n")
		}
	}

	if report.Run != nil && len(report.Run.Errors) > 0 {
		b.WriteString("### Scanner errors\n\n")
		for _, msg := range report.Run.Errors {
			fmt.Fprintf(&b, "- %s\n", firstLine(msg))
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	b.WriteString("*Generated by [quell](https://github.com/chris-regnier/quell)*\n")
	return []byte(b.String()), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate shortens a string to maxLen characters, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
