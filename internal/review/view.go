package review

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	defaultWidth  = 120
	defaultHeight = 40
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	summaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

// View implements tea.Model
func (m ReviewModel) View() string {
	width, height := m.width, m.height
	if width <= 0 || height <= 0 {
		width, height = defaultWidth, defaultHeight
	}

	header := titleStyle.Render("quell review") + "  " + summaryStyle.Render(m.summary())
	footer := m.help.View(m.keys)
	if m.status != "" {
		footer = statusStyle.Render(m.status) + "\n" + footer
	}

	bodyHeight := max(height-lipgloss.Height(header)-lipgloss.Height(footer), 10)
	filesWidth := width / 3
	rightWidth := width - filesWidth
	codeHeight := bodyHeight * 55 / 100

	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderCodePane(rightWidth, codeHeight),
		m.renderDetailsPane(rightWidth, bodyHeight-codeHeight),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderFilesPane(filesWidth, bodyHeight), right)

	return strings.Join([]string{header, body, footer}, "\n")
}

func (m ReviewModel) summary() string {
	findingCount := len(m.getFilteredFindings())
	fileCount := len(m.getFilteredFiles())

	fileText := "files"
	if fileCount == 1 {
		fileText = "file"
	}
	findingText := "findings"
	if findingCount == 1 {
		findingText = "finding"
	}
	return fmt.Sprintf("%d %s in %d %s · filter: %s", findingCount, findingText, fileCount, fileText, m.filter)
}
