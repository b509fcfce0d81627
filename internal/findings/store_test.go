package findings

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-regnier/quell/internal/finding"
)

func mk(rule string, sev finding.Severity, line int) finding.Finding {
	return finding.Finding{
		RuleID:   rule,
		Start:    finding.Position{Line: line, Col: 1},
		End:      finding.Position{Line: line, Col: 5},
		Message:  rule + " message",
		Severity: sev,
	}
}

func TestStore_ReplaceThenListInfoReturnsAll(t *testing.T) {
	s := NewStore()
	fs := []finding.Finding{
		mk("a", finding.SeverityInfo, 1),
		mk("b", finding.SeverityWarning, 2),
		mk("c", finding.SeverityError, 3),
	}
	s.Replace("/p/a.py", fs)

	got := s.List(finding.SeverityInfo)
	require.Len(t, got, 3)
	for _, e := range got {
		assert.Equal(t, "/p/a.py", e.Path)
	}
	assert.Equal(t, 3, s.Count())
}

func TestStore_ListErrorExcludesLowerSeverities(t *testing.T) {
	s := NewStore()
	s.Replace("/p/a.py", []finding.Finding{
		mk("info", finding.SeverityInfo, 1),
		mk("err1", finding.SeverityError, 2),
	})
	s.Replace("/p/b.py", []finding.Finding{
		mk("warn", finding.SeverityWarning, 1),
		mk("err2", finding.SeverityError, 4),
	})

	got := s.List(finding.SeverityError)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, finding.SeverityError, e.Finding.Severity)
	}
}

func TestStore_ReplaceEmptyRemovesEntry(t *testing.T) {
	s := NewStore()
	s.Replace("/p/a.py", []finding.Finding{mk("a", finding.SeverityError, 1)})
	s.Replace("/p/a.py", nil)

	assert.Empty(t, s.List(finding.SeverityInfo))
	assert.Empty(t, s.Paths())
	assert.Equal(t, 0, s.Count())
}

func TestStore_ListOrdering(t *testing.T) {
	s := NewStore()
	s.Replace("/p/b.py", []finding.Finding{
		mk("b-warn-1", finding.SeverityWarning, 9),
		mk("b-err", finding.SeverityError, 1),
		mk("b-warn-2", finding.SeverityWarning, 2),
	})
	s.Replace("/p/a.py", []finding.Finding{
		mk("a-warn", finding.SeverityWarning, 5),
		mk("a-info", finding.SeverityInfo, 1),
	})

	var ids []string
	for _, e := range s.List(finding.SeverityInfo) {
		ids = append(ids, e.Finding.RuleID)
	}
	assert.Equal(t, []string{"b-err", "a-warn", "b-warn-1", "b-warn-2", "a-info"}, ids)
}

func TestStore_ClearAndReplaceAll(t *testing.T) {
	s := NewStore()
	s.Replace("/p/stale.py", []finding.Finding{mk("old", finding.SeverityError, 1)})

	changed := s.ReplaceAll(map[string][]finding.Finding{
		"/p/new.py":   {mk("new", finding.SeverityWarning, 1)},
		"/p/empty.py": nil,
	})
	assert.Equal(t, []string{"/p/empty.py", "/p/new.py", "/p/stale.py"}, changed)
	assert.Equal(t, []string{"/p/new.py"}, s.Paths())

	s.Clear()
	assert.Equal(t, 0, s.Count())
}

func TestStore_ReplaceCopiesInput(t *testing.T) {
	s := NewStore()
	fs := []finding.Finding{mk("a", finding.SeverityError, 1)}
	s.Replace("/p/a.py", fs)
	fs[0].RuleID = "mutated"

	assert.Equal(t, "a", s.Get("/p/a.py")[0].RuleID)
}

func TestStore_SubscribeNotifies(t *testing.T) {
	s := NewStore()
	var got [][]string
	s.Subscribe(func(paths []string) { got = append(got, paths) })

	s.Replace("/p/./a.py", []finding.Finding{mk("a", finding.SeverityError, 1)})
	s.Clear()
	s.Clear()

	require.Len(t, got, 2)
	assert.Equal(t, []string{"/p/a.py"}, got[0])
	assert.Equal(t, []string{"/p/a.py"}, got[1])
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Replace(fmt.Sprintf("/p/%d.py", i), []finding.Finding{mk("r", finding.SeverityWarning, j+1)})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.List(finding.SeverityInfo)
				_ = s.Count()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, s.Count())
}
