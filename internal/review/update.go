package review

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/suppress"
)

// storeChangedMsg is sent whenever the finding store changes.
type storeChangedMsg struct{}

type suppressDoneMsg struct {
	req  coordinator.SuppressRequest
	resp *coordinator.SuppressResponse
	err  error
}

// Init implements tea.Model
func (m ReviewModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case storeChangedMsg:
		m.reload()
		return m, nil

	case suppressDoneMsg:
		m.busy = false
		m.status = suppressStatus(msg)
		m.reload()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m ReviewModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Next):
		if n := len(m.getFilteredFindings()); n > 0 {
			m.currentFinding = (m.currentFinding + 1) % n
		}

	case key.Matches(msg, m.keys.Prev):
		if n := len(m.getFilteredFindings()); n > 0 {
			m.currentFinding--
			if m.currentFinding < 0 {
				m.currentFinding = n - 1
			}
		}

	case key.Matches(msg, m.keys.NextPane):
		m.activePane = (m.activePane + 1) % 3

	case key.Matches(msg, m.keys.Errors):
		m.setFilter(FilterErrors)
	case key.Matches(msg, m.keys.Warnings):
		m.setFilter(FilterWarnings)
	case key.Matches(msg, m.keys.All):
		m.setFilter(FilterAll)

	case key.Matches(msg, m.keys.SuppressLine):
		return m.suppress(suppress.ScopeLine)
	case key.Matches(msg, m.keys.SuppressFile):
		return m.suppress(suppress.ScopeFile)
	case key.Matches(msg, m.keys.SuppressGlobal):
		return m.suppress(suppress.ScopeGlobal)

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m *ReviewModel) setFilter(f Filter) {
	m.filter = f
	m.currentFinding = 0
}

// suppress sends the request for the selected finding. Only one request is
// outstanding at a time.
func (m ReviewModel) suppress(scope suppress.Scope) (tea.Model, tea.Cmd) {
	e, ok := m.current()
	if !ok || m.busy {
		return m, nil
	}
	startLine, _, _, _ := e.Finding.ZeroBased()
	req := coordinator.SuppressRequest{
		Scope:  scope,
		Path:   e.Path,
		Line:   startLine,
		RuleID: e.Finding.RuleID,
	}
	if scope == suppress.ScopeGlobal {
		req.Path, req.Line = "", 0
	}

	m.busy = true
	m.status = fmt.Sprintf("suppressing %s (%s)...", req.RuleID, scope)

	ctx, backend := m.ctx, m.backend
	return m, func() tea.Msg {
		resp, err := backend.Suppress(ctx, req)
		return suppressDoneMsg{req: req, resp: resp, err: err}
	}
}

func suppressStatus(msg suppressDoneMsg) string {
	if msg.err != nil {
		return fmt.Sprintf("suppress %s failed: %v", msg.req.RuleID, msg.err)
	}
	status := fmt.Sprintf("%s %s: %s", msg.req.Scope, msg.req.RuleID, msg.resp.Status)
	if msg.resp.Warning != "" {
		status += " (" + msg.resp.Warning + ")"
	}
	return status
}
