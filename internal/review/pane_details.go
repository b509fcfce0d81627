package review

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/chris-regnier/quell/internal/finding"
)

var (
	// Details pane styles
	detailsPaneStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("63")).
				Padding(0, 1)

	severityStyles = map[finding.Severity]lipgloss.Style{
		finding.SeverityError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		finding.SeverityWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		finding.SeverityInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true),
	}
)

// renderDetailsPane renders the finding details with markdown formatting
func (m ReviewModel) renderDetailsPane(width, height int) string {
	var b strings.Builder
	b.WriteString(paneHeaderStyle.Render("Details"))
	b.WriteString("\n\n")

	e, ok := m.current()
	if !ok {
		b.WriteString("No findings to display")
	} else {
		f := e.Finding
		b.WriteString(severityStyles[f.Severity].Render(f.Severity.String()))
		b.WriteString("\n")

		content := detailsMarkdown(m.relPath(e.Path), f)
		rendered, err := renderMarkdown(content, width-4)
		if err != nil {
			// Fallback to plain text if markdown rendering fails
			rendered = content
		}
		b.WriteString(rendered)
	}

	return paneStyle(detailsPaneStyle, m.activePane == PaneDetails).
		Width(width - 2).
		Height(height - 2).
		Render(b.String())
}

func detailsMarkdown(path string, f finding.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Rule:** `%s`\n\n", f.RuleID)
	if f.Message != "" {
		b.WriteString(f.Message)
		b.WriteString("\n\n")
	}
	for _, key := range []string{"cwe", "owasp", "category", "confidence"} {
		if vals := metadataStrings(f.Metadata[key]); len(vals) > 0 {
			fmt.Fprintf(&b, "**%s:** %s\n\n", metadataLabel(key), strings.Join(vals, ", "))
		}
	}
	if refs := metadataStrings(f.Metadata["references"]); len(refs) > 0 {
		b.WriteString("**References:**\n\n")
		for _, r := range refs {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**Location:** %s:%d:%d\n", path, f.Start.Line, f.Start.Col)
	return b.String()
}

func metadataLabel(key string) string {
	switch key {
	case "cwe", "owasp":
		return strings.ToUpper(key)
	default:
		return strings.ToUpper(key[:1]) + key[1:]
	}
}

// metadataStrings flattens a rule metadata value, which scanners emit as a
// string or a list of strings.
func metadataStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	default:
		return []string{fmt.Sprint(t)}
	}
}

// renderMarkdown renders markdown text using glamour
func renderMarkdown(text string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	out, err := r.Render(text)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out), nil
}
