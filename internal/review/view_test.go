package review

import (
	"context"
	"strings"
	"testing"

	"github.com/chris-regnier/quell/internal/finding"
)

func TestView_RendersBasicInfo(t *testing.T) {
	b := newFakeBackend("/proj")
	b.store.Replace("/proj/test.go", []finding.Finding{mkFinding("test-rule", 1, finding.SeverityWarning)})
	m := NewReviewModel(context.Background(), b)

	view := m.View()
	if !strings.Contains(view, "1 finding in 1 file") {
		t.Errorf("View should contain counts, got:\n%s", view)
	}
	if !strings.Contains(view, "filter: all") {
		t.Error("View should show the active filter")
	}
}

func TestView_ThreePaneLayout(t *testing.T) {
	m, _ := seededModel(t)
	m.width, m.height = 120, 40

	view := m.View()
	for _, header := range []string{"Files", "Code", "Details"} {
		if !strings.Contains(view, header) {
			t.Errorf("View should contain the %s pane", header)
		}
	}
	if !strings.Contains(view, "quit") {
		t.Error("View should show key help")
	}
}

func TestView_ShowsStatus(t *testing.T) {
	m, _ := seededModel(t)
	m.status = "line python-eval: applied"
	if !strings.Contains(m.View(), "line python-eval: applied") {
		t.Error("View should show the last status")
	}
}
