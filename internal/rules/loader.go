package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrRulesDirMissing is returned by Load when dir does not exist.
var ErrRulesDirMissing = errors.New("rules directory does not exist")

// Load walks dir recursively and indexes every rule file under it. Files
// that fail to parse are recorded in Catalog.Problems and skipped; a
// duplicate id keeps the first definition in path order.
func Load(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRulesDirMissing, dir)
		}
		return nil, fmt.Errorf("reading rules directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var (
		all      []Rule
		problems []string
		origin   = make(map[string]string)
	)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isRuleFileName(name) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		rf, err := ParseRuleFile(data)
		if errors.Is(err, errNotRuleFile) {
			return nil
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", rel, err))
			return nil
		}

		category := ""
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			category = rel[:i]
		}
		for _, r := range rf.Rules {
			if first, dup := origin[r.ID]; dup {
				problems = append(problems, fmt.Sprintf("%s: duplicate rule ID %q (first defined in %s)", rel, r.ID, first))
				continue
			}
			origin[r.ID] = rel
			r.Category = category
			r.File = rel
			all = append(all, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading rules from %s: %w", dir, err)
	}

	c := newCatalog(dir, all)
	c.Problems = problems
	return c, nil
}

func isRuleFileName(name string) bool {
	lower := strings.ToLower(name)
	ext := filepath.Ext(lower)
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	// test targets for YAML rules are themselves YAML
	base := strings.TrimSuffix(lower, ext)
	return !strings.HasSuffix(base, ".test") && !strings.HasSuffix(base, ".fixed")
}
