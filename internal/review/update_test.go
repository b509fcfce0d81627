package review

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chris-regnier/quell/internal/suppress"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m ReviewModel, msg tea.Msg) (ReviewModel, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(ReviewModel), cmd
}

func TestUpdate_NextAndPreviousWrap(t *testing.T) {
	m, _ := seededModel(t)

	m, _ = press(t, m, runes("n"))
	if m.currentFinding != 1 {
		t.Errorf("Expected currentFinding=1, got %d", m.currentFinding)
	}
	m, _ = press(t, m, runes("n"))
	m, _ = press(t, m, runes("n"))
	if m.currentFinding != 0 {
		t.Errorf("Expected wrap to 0, got %d", m.currentFinding)
	}
	m, _ = press(t, m, runes("p"))
	if m.currentFinding != 2 {
		t.Errorf("Expected wrap to 2, got %d", m.currentFinding)
	}
}

func TestUpdate_FilterKeysResetSelection(t *testing.T) {
	m, _ := seededModel(t)
	m.currentFinding = 2

	m, _ = press(t, m, runes("e"))
	if m.filter != FilterErrors || m.currentFinding != 0 {
		t.Errorf("expected errors filter at 0, got %v at %d", m.filter, m.currentFinding)
	}
	m, _ = press(t, m, runes("w"))
	if m.filter != FilterWarnings {
		t.Errorf("expected warnings filter, got %v", m.filter)
	}
	m, _ = press(t, m, runes("f"))
	if m.filter != FilterAll {
		t.Errorf("expected all filter, got %v", m.filter)
	}
}

func TestUpdate_TabCyclesPanes(t *testing.T) {
	m, _ := seededModel(t)
	for _, want := range []Pane{PaneCode, PaneDetails, PaneFiles} {
		m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
		if m.activePane != want {
			t.Errorf("expected pane %d, got %d", want, m.activePane)
		}
	}
}

func TestUpdate_SuppressLine(t *testing.T) {
	m, b := seededModel(t)
	m.currentFinding = 2 // python-eval at b.py:12

	m, cmd := press(t, m, runes("s"))
	if cmd == nil {
		t.Fatal("expected a suppress command")
	}
	if !m.busy {
		t.Error("expected model to be busy while suppressing")
	}

	// a second request while busy is ignored
	if _, again := press(t, m, runes("s")); again != nil {
		t.Error("expected no command while a suppression is outstanding")
	}

	m, _ = press(t, m, cmd())
	reqs := b.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Scope != suppress.ScopeLine || req.Path != "/proj/b.py" || req.Line != 11 || req.RuleID != "python-eval" {
		t.Errorf("unexpected request: %+v", req)
	}
	if m.busy {
		t.Error("expected busy cleared after completion")
	}
	if !strings.Contains(m.status, "python-eval: applied") {
		t.Errorf("unexpected status %q", m.status)
	}
	if len(m.findings) != 2 {
		t.Errorf("expected the suppressed finding gone, have %d", len(m.findings))
	}
}

func TestUpdate_SuppressFileAndGlobal(t *testing.T) {
	m, b := seededModel(t)

	m, cmd := press(t, m, runes("S"))
	m, _ = press(t, m, cmd())
	_, cmd = press(t, m, runes("g"))
	cmd()

	reqs := b.requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].Scope != suppress.ScopeFile || reqs[0].Path != "/proj/a.go" || reqs[0].RuleID != "go-sql-concat" {
		t.Errorf("unexpected file request: %+v", reqs[0])
	}
	if reqs[1].Scope != suppress.ScopeGlobal || reqs[1].Path != "" || reqs[1].RuleID != "go-sql-concat" {
		t.Errorf("unexpected global request: %+v", reqs[1])
	}
}

func TestUpdate_SuppressFailureShowsStatus(t *testing.T) {
	m, b := seededModel(t)
	b.err = errors.New("line ends inside a string")

	m, cmd := press(t, m, runes("s"))
	m, _ = press(t, m, cmd())
	if !strings.Contains(m.status, "failed: line ends inside a string") {
		t.Errorf("unexpected status %q", m.status)
	}
	if len(m.findings) != 3 {
		t.Errorf("expected findings unchanged, have %d", len(m.findings))
	}
}

func TestUpdate_SuppressWithoutFindings(t *testing.T) {
	b := newFakeBackend("/proj")
	m := NewReviewModel(t.Context(), b)
	if _, cmd := press(t, m, runes("s")); cmd != nil {
		t.Error("expected no command without a selection")
	}
}

func TestUpdate_StoreChangedReloads(t *testing.T) {
	m, b := seededModel(t)
	b.store.Clear()

	m, _ = press(t, m, storeChangedMsg{})
	if len(m.findings) != 0 {
		t.Errorf("expected empty model after store cleared, have %d", len(m.findings))
	}
}

func TestUpdate_Quit(t *testing.T) {
	m, _ := seededModel(t)
	_, cmd := press(t, m, runes("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestUpdate_WindowSize(t *testing.T) {
	m, _ := seededModel(t)
	m, _ = press(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	if m.width != 100 || m.height != 30 {
		t.Errorf("expected 100x30, got %dx%d", m.width, m.height)
	}
}
