// Package review is the terminal tree view over the finding store: files on
// the left, the highlighted source and the finding's details on the right.
// Suppressions requested here go through the coordinator like any other
// front end.
package review

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/help"

	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/findings"
)

// Pane represents which pane is currently active
type Pane int

const (
	PaneFiles Pane = iota
	PaneCode
	PaneDetails
)

// Filter represents the severity filter
type Filter int

const (
	FilterAll Filter = iota
	FilterErrors
	FilterWarnings
)

// Backend is what the review UI reads from and sends suppressions to.
// *coordinator.Coordinator implements it.
type Backend interface {
	Store() *findings.Store
	Root() string
	Suppress(ctx context.Context, req coordinator.SuppressRequest) (*coordinator.SuppressResponse, error)
}

// ReviewModel is the bubbletea model for the review TUI
type ReviewModel struct {
	ctx     context.Context
	backend Backend
	root    string

	// every stored finding ordered by path, then line
	findings []finding.Entry

	currentFinding int
	activePane     Pane
	filter         Filter

	busy   bool
	status string

	keys keyMap
	help help.Model

	width  int
	height int
}

// NewReviewModel loads the current contents of the backend's store.
func NewReviewModel(ctx context.Context, backend Backend) ReviewModel {
	m := ReviewModel{
		ctx:        ctx,
		backend:    backend,
		root:       backend.Root(),
		activePane: PaneFiles,
		filter:     FilterAll,
		keys:       defaultKeyMap(),
		help:       help.New(),
	}
	m.reload()
	return m
}

// reload re-reads the store, keeping the selection on the same finding
// when it still exists.
func (m *ReviewModel) reload() {
	var keep string
	if e, ok := m.current(); ok {
		keep = findingID(e)
	}

	entries := m.backend.Store().List(finding.SeverityInfo)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Path != entries[j].Path {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].Finding.Start.Line < entries[j].Finding.Start.Line
	})
	m.findings = entries

	filtered := m.getFilteredFindings()
	if keep != "" {
		for i, e := range filtered {
			if findingID(e) == keep {
				m.currentFinding = i
				return
			}
		}
	}
	m.clampSelection(len(filtered))
}

func (m *ReviewModel) clampSelection(n int) {
	if m.currentFinding >= n {
		m.currentFinding = n - 1
	}
	if m.currentFinding < 0 {
		m.currentFinding = 0
	}
}

// current returns the selected finding under the active filter.
func (m *ReviewModel) current() (finding.Entry, bool) {
	filtered := m.getFilteredFindings()
	if m.currentFinding < 0 || m.currentFinding >= len(filtered) {
		return finding.Entry{}, false
	}
	return filtered[m.currentFinding], true
}

// relPath shortens paths under the project root.
func (m *ReviewModel) relPath(path string) string {
	if m.root == "" {
		return path
	}
	rel, err := filepath.Rel(m.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func findingID(e finding.Entry) string {
	return e.Finding.RuleID + ":" + e.Path + ":" + strconv.Itoa(e.Finding.Start.Line)
}
