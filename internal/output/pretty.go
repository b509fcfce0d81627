package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chris-regnier/quell/internal/evaluator"
	"github.com/chris-regnier/quell/internal/finding"
)

var (
	fileHeaderStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	locationStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	ruleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	errorStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warningStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	infoStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	passStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

// PrettyFormatter renders colored, human-readable terminal output grouped
// by file. Colors are dropped when NO_COLOR is set or stdout is not a
// terminal.
type PrettyFormatter struct{}

func severityStyle(s finding.Severity) lipgloss.Style {
	switch s {
	case finding.SeverityError:
		return errorStyle
	case finding.SeverityWarning:
		return warningStyle
	default:
		return infoStyle
	}
}

func decisionStyle(d string) lipgloss.Style {
	switch d {
	case evaluator.Fail:
		return errorStyle
	case evaluator.Warn:
		return warningStyle
	default:
		return passStyle
	}
}

func (f *PrettyFormatter) Format(report *Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("pretty formatter: report is required")
	}

	byFile := make(map[string][]finding.Entry)
	for _, e := range report.Entries {
		p := report.RelPath(e)
		byFile[p] = append(byFile[p], e)
	}
	paths := make([]string, 0, len(byFile))
	for p := range byFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(fileHeaderStyle.Render(p))
		b.WriteString("\n")
		entries := byFile[p]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Finding.Start.Line < entries[j].Finding.Start.Line
		})
		for _, e := range entries {
			fd := e.Finding
			fmt.Fprintf(&b, "  %s %s %s %s\n",
				locationStyle.Render(fmt.Sprintf("%4d:%-3d", fd.Start.Line, fd.Start.Col)),
				severityStyle(fd.Severity).Render(fmt.Sprintf("%-7s", fd.Severity)),
				firstLine(fd.Message),
				ruleStyle.Render(fd.RuleID))
		}
		b.WriteString("\n")
	}

	if report.Run != nil {
		for _, msg := range report.Run.Errors {
			fmt.Fprintf(&b, "%s %s\n", errorStyle.Render("scanner error:"), firstLine(msg))
		}
	}

	b.WriteString(summaryLine(report))
	b.WriteString("\n")
	if report.Verdict != nil {
		fmt.Fprintf(&b, "gate: %s\n", decisionStyle(report.Verdict.Decision).Render(report.Verdict.Decision))
	}
	return []byte(b.String()), nil
}

func summaryLine(report *Report) string {
	if len(report.Entries) == 0 {
		return passStyle.Render("no findings")
	}
	counts := report.Counts()
	files := make(map[string]struct{})
	for _, e := range report.Entries {
		files[e.Path] = struct{}{}
	}
	return fmt.Sprintf("%s (%s, %s, %s) in %s",
		plural(len(report.Entries), "finding"),
		errorStyle.Render(plural(counts[finding.SeverityError], "error")),
		warningStyle.Render(plural(counts[finding.SeverityWarning], "warning")),
		infoStyle.Render(fmt.Sprintf("%d info", counts[finding.SeverityInfo])),
		plural(len(files), "file"))
}
