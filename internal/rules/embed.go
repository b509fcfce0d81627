package rules

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

//go:embed starter/*.yaml
var starterFS embed.FS

// StarterRules returns the rules bundled with quell for bootstrapping a
// project that has no rules directory yet.
func StarterRules() ([]Rule, error) {
	var all []Rule
	entries, err := fs.ReadDir(starterFS, "starter")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		data, err := starterFS.ReadFile(path.Join("starter", e.Name()))
		if err != nil {
			return nil, err
		}
		rf, err := ParseRuleFile(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", e.Name(), err)
		}
		all = append(all, rf.Rules...)
	}
	return all, nil
}

// WriteStarter copies the bundled rule files into dir/quell-starter, never
// overwriting existing files. It returns the paths written.
func WriteStarter(dir string) ([]string, error) {
	entries, err := fs.ReadDir(starterFS, "starter")
	if err != nil {
		return nil, err
	}
	target := filepath.Join(dir, "quell-starter")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, err
	}

	var written []string
	for _, e := range entries {
		dst := filepath.Join(target, e.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := starterFS.ReadFile(path.Join("starter", e.Name()))
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", dst, err)
		}
		written = append(written, dst)
	}
	return written, nil
}
