package lsp

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// Matcher decides which paths are scanned on open and save.
type Matcher struct {
	watch  []glob.Glob
	ignore []glob.Glob
}

// NewMatcher compiles "**"-style patterns against slash-separated paths.
func NewMatcher(watch, ignore []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range watch {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("watch pattern %q: %w", p, err)
		}
		m.watch = append(m.watch, g)
	}
	for _, p := range ignore {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", p, err)
		}
		m.ignore = append(m.ignore, g)
	}
	return m, nil
}

// Match reports whether path is watched and not ignored. With no watch
// patterns everything not ignored is watched.
func (m *Matcher) Match(path string) bool {
	for _, g := range m.ignore {
		if g.Match(path) {
			return false
		}
	}
	if len(m.watch) == 0 {
		return true
	}
	for _, g := range m.watch {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// DebouncedWatcher batches file changes and fires once the changes have been
// quiet for the debounce duration.
type DebouncedWatcher struct {
	onTrigger func(paths []string)

	mu       sync.Mutex
	debounce time.Duration
	pending  map[string]struct{}
	timer    *time.Timer
	stopped  bool
}

func NewDebouncedWatcher(debounce time.Duration, onTrigger func(paths []string)) *DebouncedWatcher {
	if onTrigger == nil {
		panic("onTrigger callback cannot be nil")
	}
	return &DebouncedWatcher{
		onTrigger: onTrigger,
		debounce:  debounce,
		pending:   make(map[string]struct{}),
	}
}

// SetDebounce changes the quiet period for later changes.
func (w *DebouncedWatcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d > 0 {
		w.debounce = d
	}
}

// FileChanged queues path and restarts the quiet period.
func (w *DebouncedWatcher) FileChanged(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *DebouncedWatcher) flush() {
	w.mu.Lock()
	if w.stopped || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(paths)
	w.onTrigger(paths)
}

// Stop drops pending changes and ignores later ones.
func (w *DebouncedWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = make(map[string]struct{})
}
