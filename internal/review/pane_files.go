package review

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// File pane styles
	filePaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	fileItemStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	selectedFileStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("170")).
				Bold(true)

	fileCountStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	paneHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))
)

// renderFilesPane renders the file tree pane with findings count
func (m ReviewModel) renderFilesPane(width, height int) string {
	var b strings.Builder

	b.WriteString(paneHeaderStyle.Render("Files"))
	b.WriteString("\n\n")

	files := m.getFileList()
	counts := m.getFilteredFiles()
	selected := ""
	if e, ok := m.current(); ok {
		selected = e.Path
	}

	if len(files) == 0 {
		b.WriteString(fileCountStyle.Render("no findings"))
	}
	for _, file := range files {
		line := fmt.Sprintf("%s %s", m.relPath(file), fileCountStyle.Render(fmt.Sprintf("(%d)", counts[file])))
		if file == selected {
			b.WriteString(selectedFileStyle.Render("▸ " + line))
		} else {
			b.WriteString(fileItemStyle.Render(line))
		}
		b.WriteString("\n")
	}

	return paneStyle(filePaneStyle, m.activePane == PaneFiles).
		Width(width - 2).
		Height(height - 2).
		Render(b.String())
}

// paneStyle highlights the border of the active pane.
func paneStyle(base lipgloss.Style, active bool) lipgloss.Style {
	if active {
		return base.BorderForeground(lipgloss.Color("170"))
	}
	return base
}
