// Package findings holds the current scanner findings per file. It is the
// single source of truth for diagnostics, the review tree and reports.
package findings

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/chris-regnier/quell/internal/finding"
)

// Listener is called after a mutation with the paths whose entries changed.
// Listeners run outside the store's lock.
type Listener func(paths []string)

// Store maps absolute file paths to the findings of their latest scan.
type Store struct {
	mu        sync.RWMutex
	entries   map[string][]finding.Finding
	listeners []Listener
}

func NewStore() *Store {
	return &Store{entries: make(map[string][]finding.Finding)}
}

// Subscribe registers fn to be called after every mutation.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Replace overwrites the findings for path. An empty slice removes the entry.
func (s *Store) Replace(path string, fs []finding.Finding) {
	path = filepath.Clean(path)
	s.mu.Lock()
	if len(fs) == 0 {
		delete(s.entries, path)
	} else {
		s.entries[path] = append([]finding.Finding(nil), fs...)
	}
	listeners := s.listeners
	s.mu.Unlock()
	notify(listeners, []string{path})
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	changed := s.pathsLocked()
	s.entries = make(map[string][]finding.Finding)
	listeners := s.listeners
	s.mu.Unlock()
	notify(listeners, changed)
}

// ReplaceAll clears the store and repopulates it from byPath in one critical
// section, so readers never observe a half-applied workspace scan. It returns
// every path that was present before or after.
func (s *Store) ReplaceAll(byPath map[string][]finding.Finding) []string {
	s.mu.Lock()
	seen := make(map[string]struct{}, len(s.entries)+len(byPath))
	for p := range s.entries {
		seen[p] = struct{}{}
	}
	s.entries = make(map[string][]finding.Finding, len(byPath))
	for p, fs := range byPath {
		p = filepath.Clean(p)
		seen[p] = struct{}{}
		if len(fs) > 0 {
			s.entries[p] = append([]finding.Finding(nil), fs...)
		}
	}
	listeners := s.listeners
	s.mu.Unlock()

	changed := make([]string, 0, len(seen))
	for p := range seen {
		changed = append(changed, p)
	}
	sort.Strings(changed)
	notify(listeners, changed)
	return changed
}

// Get returns a copy of the findings stored for path.
func (s *Store) Get(path string) []finding.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs := s.entries[filepath.Clean(path)]
	if len(fs) == 0 {
		return nil
	}
	return append([]finding.Finding(nil), fs...)
}

// Paths returns the stored paths in ascending order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pathsLocked()
}

// List returns every finding at or above min, ordered by severity descending,
// then path ascending, then scan order within a file.
func (s *Store) List(min finding.Severity) []finding.Entry {
	s.mu.RLock()
	var out []finding.Entry
	for path, fs := range s.entries {
		for _, f := range fs {
			if f.Severity.AtLeast(min) {
				out = append(out, finding.Entry{Path: path, Finding: f})
			}
		}
	}
	s.mu.RUnlock()

	// Stable sort keeps per-file scan order for equal severity and path.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Finding.Severity != out[j].Finding.Severity {
			return out[i].Finding.Severity > out[j].Finding.Severity
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Count returns the total number of findings across all files.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, fs := range s.entries {
		n += len(fs)
	}
	return n
}

func (s *Store) pathsLocked() []string {
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func notify(listeners []Listener, paths []string) {
	if len(paths) == 0 {
		return
	}
	for _, fn := range listeners {
		fn(paths)
	}
}
