// Package rules reads the scanner's YAML rule files into a catalog used to
// describe findings and to check rule ids before suppressing them.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chris-regnier/quell/internal/finding"
)

// Rule is one scanner rule. Only the fields quell reads are decoded; the
// pattern forms are kept as raw YAML.
type Rule struct {
	ID          string         `yaml:"id"`
	Message     string         `yaml:"message"`
	RawSeverity string         `yaml:"severity"`
	Languages   []string       `yaml:"languages"`
	Pattern     string         `yaml:"pattern,omitempty"`
	Patterns    []yaml.Node    `yaml:"patterns,omitempty"`
	Either      []yaml.Node    `yaml:"pattern-either,omitempty"`
	Regex       string         `yaml:"pattern-regex,omitempty"`
	Mode        string         `yaml:"mode,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`

	// Category is the first directory under the rules root, "" for files
	// at the root. File is the path relative to the root.
	Category string `yaml:"-"`
	File     string `yaml:"-"`
}

// Severity parses the rule's declared severity.
func (r Rule) Severity() (finding.Severity, error) {
	return finding.ParseSeverity(r.RawSeverity)
}

// Kind names the matching form the rule uses.
func (r Rule) Kind() string {
	switch {
	case r.Mode == "taint":
		return "taint"
	case r.Pattern != "":
		return "pattern"
	case len(r.Patterns) > 0:
		return "patterns"
	case len(r.Either) > 0:
		return "pattern-either"
	case r.Regex != "":
		return "pattern-regex"
	}
	return ""
}

// CWE returns metadata.cwe whether it is written as a string or a list.
func (r Rule) CWE() []string { return r.metaList("cwe") }

// OWASP returns metadata.owasp.
func (r Rule) OWASP() []string { return r.metaList("owasp") }

// References returns metadata.references.
func (r Rule) References() []string { return r.metaList("references") }

func (r Rule) metaList(key string) []string {
	switch v := r.Metadata[key].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// errNotRuleFile marks YAML without a top-level rules list, such as test
// fixtures living next to rules.
var errNotRuleFile = errors.New("no rules list")

func ParseRuleFile(data []byte) (*RuleFile, error) {
	var probe map[string]yaml.Node
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}
	if _, ok := probe["rules"]; !ok {
		return nil, errNotRuleFile
	}

	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}

	seen := make(map[string]bool)
	for i := range rf.Rules {
		r := &rf.Rules[i]
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %q (index %d): %w", r.ID, i, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule ID %q", r.ID)
		}
		seen[r.ID] = true
	}

	return &rf, nil
}

func validateRule(r *Rule) error {
	if r.ID == "" {
		return fmt.Errorf("missing required field: id")
	}
	if r.Message == "" {
		return fmt.Errorf("missing required field: message")
	}
	if len(r.Languages) == 0 {
		return fmt.Errorf("missing required field: languages")
	}
	if _, err := r.Severity(); err != nil {
		return err
	}
	if r.Kind() == "" {
		return fmt.Errorf("missing pattern: one of pattern, patterns, pattern-either, pattern-regex or mode: taint")
	}
	return nil
}

// Catalog indexes the rules loaded from one directory tree.
type Catalog struct {
	Root string
	// Problems lists files or rules that were skipped while loading.
	Problems []string

	rules []Rule
	byID  map[string]int
}

func newCatalog(root string, rules []Rule) *Catalog {
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	c := &Catalog{Root: root, rules: rules, byID: make(map[string]int, len(rules))}
	for i, r := range rules {
		c.byID[r.ID] = i
	}
	return c
}

// Rules returns every rule ordered by id.
func (c *Catalog) Rules() []Rule { return c.rules }

func (c *Catalog) Len() int { return len(c.rules) }

// Lookup finds a rule by id. Scanner check ids carry the rule file's
// directory as a dotted prefix ("rules.python.exec-use"), so when the exact
// id is unknown the prefix segments are stripped one at a time.
func (c *Catalog) Lookup(id string) (Rule, bool) {
	if c == nil {
		return Rule{}, false
	}
	for candidate := id; candidate != ""; {
		if i, ok := c.byID[candidate]; ok {
			return c.rules[i], true
		}
		dot := strings.IndexByte(candidate, '.')
		if dot < 0 {
			break
		}
		candidate = candidate[dot+1:]
	}
	return Rule{}, false
}

// Has reports whether id names a loaded rule.
func (c *Catalog) Has(id string) bool {
	_, ok := c.Lookup(id)
	return ok
}

func (c *Catalog) ByCategory(category string) []Rule {
	var filtered []Rule
	for _, r := range c.rules {
		if r.Category == category {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Categories lists the distinct categories in sorted order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range c.rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	sort.Strings(out)
	return out
}

func ByCWE(rules []Rule, cweID string) []Rule {
	var filtered []Rule
	for _, r := range rules {
		for _, cwe := range r.CWE() {
			if strings.HasPrefix(cwe, cweID+":") || cwe == cweID {
				filtered = append(filtered, r)
				break
			}
		}
	}
	return filtered
}
