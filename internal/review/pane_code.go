package review

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

var (
	codePaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	gutterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(4).
			Align(lipgloss.Right)

	markStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true)

	findingLineStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("236"))

	locationStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// lines shown around the flagged range
const contextLines = 5

const codeStyle = "monokai"

func (m ReviewModel) renderCodePane(width, height int) string {
	var b strings.Builder

	b.WriteString(paneHeaderStyle.Render("Code"))
	b.WriteString("\n\n")

	e, ok := m.current()
	if !ok {
		b.WriteString("No findings to display")
	} else {
		f := e.Finding
		b.WriteString(locationStyle.Render(fmt.Sprintf("%s:%d", m.relPath(e.Path), f.Start.Line)))
		b.WriteString("\n\n")
		b.WriteString(readCodeWithContext(e.Path, f.Start.Line, max(f.End.Line, f.Start.Line)))
	}

	return paneStyle(codePaneStyle, m.activePane == PaneCode).
		Width(width - 2).
		Height(height - 2).
		Render(b.String())
}

// readCodeWithContext renders the 1-based lines first..last of filePath plus
// contextLines on either side. The window is lexed as one unit so tokens that
// span lines (block comments, triple-quoted strings) keep their colour.
func readCodeWithContext(filePath string, first, last int) string {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}

	src := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	from := max(first-contextLines, 1)
	to := min(last+contextLines, len(src))
	if from > to {
		return ""
	}
	window := src[from-1 : to]

	rendered := highlight(filePath, strings.Join(window, "\n"))
	if len(rendered) != len(window) {
		rendered = window
	}

	var b strings.Builder
	for i, text := range rendered {
		n := from + i
		gutter := gutterStyle.Render(fmt.Sprint(n))
		mark := " "
		if n >= first && n <= last {
			mark = markStyle.Render("▶")
			gutter = findingLineStyle.Render(gutter)
			text = findingLineStyle.Render(text)
		}
		fmt.Fprintf(&b, "%s %s│ %s\n", gutter, mark, text)
	}
	return b.String()
}

// highlight returns one terminal-coloured string per line of code, or nil
// when the lexer or formatter fails.
func highlight(filePath, code string) []string {
	lexer := lexers.Match(filePath)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return nil
	}
	style := styles.Get(codeStyle)

	var out []string
	for _, line := range chroma.SplitTokensIntoLines(it.Tokens()) {
		var b strings.Builder
		if err := formatters.TTY16m.Format(&b, style, chroma.Literator(line...)); err != nil {
			return nil
		}
		out = append(out, strings.TrimRight(b.String(), "\n"))
	}
	return out
}
