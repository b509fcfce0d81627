package suppress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultExcludeFile is the project exclusion file name.
const DefaultExcludeFile = ".quell-exclude.yaml"

// ErrConfigParse is returned when the exclusion file exists but cannot be
// safely edited. The file is left untouched.
var ErrConfigParse = errors.New("cannot parse exclusion config")

// ExcludePath returns the exclusion file location under projectRoot.
func (e *Editor) ExcludePath(projectRoot string) string {
	if filepath.IsAbs(e.excludeFile) {
		return e.excludeFile
	}
	return filepath.Join(projectRoot, e.excludeFile)
}

// SuppressGlobally adds ruleID to rules.exclude in the project exclusion
// file, creating the file when absent. Other keys, comments and ordering
// in the file are preserved.
func (e *Editor) SuppressGlobally(projectRoot, ruleID string) (Result, error) {
	if err := validateRuleID(ruleID); err != nil {
		return 0, err
	}
	path := e.ExcludePath(projectRoot)
	docs, err := readExcludeDoc(path)
	if err != nil {
		return 0, err
	}
	list, err := excludeList(docs[0], true)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
	}
	if indexOf(list, ruleID) >= 0 {
		return AlreadySuppressed, nil
	}
	list.Content = append(list.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: ruleID})
	if err := writeExcludeDoc(path, docs); err != nil {
		return 0, err
	}
	e.logger.Info("suppressed rule globally", "file", path, "rule", ruleID)
	return Applied, nil
}

// UnsuppressGlobally removes ruleID from rules.exclude.
func (e *Editor) UnsuppressGlobally(projectRoot, ruleID string) (Result, error) {
	if err := validateRuleID(ruleID); err != nil {
		return 0, err
	}
	path := e.ExcludePath(projectRoot)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NotSuppressed, nil
	}
	docs, err := readExcludeDoc(path)
	if err != nil {
		return 0, err
	}
	list, err := excludeList(docs[0], false)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
	}
	if list == nil {
		return NotSuppressed, nil
	}
	idx := indexOf(list, ruleID)
	if idx < 0 {
		return NotSuppressed, nil
	}
	list.Content = append(list.Content[:idx], list.Content[idx+1:]...)
	if err := writeExcludeDoc(path, docs); err != nil {
		return 0, err
	}
	e.logger.Info("removed global suppression", "file", path, "rule", ruleID)
	return Removed, nil
}

// GlobalExclusions lists the rule ids in the exclusion file.
func (e *Editor) GlobalExclusions(projectRoot string) ([]string, error) {
	path := e.ExcludePath(projectRoot)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	docs, err := readExcludeDoc(path)
	if err != nil {
		return nil, err
	}
	list, err := excludeList(docs[0], false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
	}
	if list == nil {
		return nil, nil
	}
	ids := make([]string, 0, len(list.Content))
	for _, n := range list.Content {
		if n.Kind == yaml.ScalarNode {
			ids = append(ids, n.Value)
		}
	}
	return ids, nil
}

// readExcludeDoc decodes every document in the file. Only the first one is
// edited; the rest are carried through writeExcludeDoc unchanged.
func readExcludeDoc(path string) ([]*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*yaml.Node{{Kind: yaml.DocumentNode}}, nil
		}
		return nil, err
	}

	var docs []*yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
		}
		docs = append(docs, &doc)
	}
	if len(docs) > 0 && docs[0].Kind != 0 {
		return docs, nil
	}

	// empty or comment-only file
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
	}
	return []*yaml.Node{{Kind: yaml.DocumentNode, HeadComment: doc.HeadComment}}, nil
}

// excludeList finds rules.exclude in doc. With create set, missing or null
// nodes along the way are added; otherwise nil is returned for them. Nodes
// of the wrong kind are an error either way.
func excludeList(doc *yaml.Node, create bool) (*yaml.Node, error) {
	if len(doc.Content) == 0 {
		if !create {
			return nil, nil
		}
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	root := doc.Content[0]
	if isNull(root) {
		if !create {
			return nil, nil
		}
		*root = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("top level is not a mapping")
	}
	if create && len(root.Content) == 0 {
		// "{}" would otherwise force flow style onto everything added
		root.Style = 0
	}

	rules, err := mappingChild(root, "rules", yaml.MappingNode, "!!map", create)
	if err != nil || rules == nil {
		return nil, err
	}
	return mappingChild(rules, "exclude", yaml.SequenceNode, "!!seq", create)
}

func mappingChild(m *yaml.Node, key string, kind yaml.Kind, tag string, create bool) (*yaml.Node, error) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != key {
			continue
		}
		v := m.Content[i+1]
		if isNull(v) {
			if !create {
				return nil, nil
			}
			comment := v.LineComment
			*v = yaml.Node{Kind: kind, Tag: tag, LineComment: comment}
			return v, nil
		}
		if v.Kind != kind {
			return nil, fmt.Errorf("%q has the wrong type", key)
		}
		return v, nil
	}
	if !create {
		return nil, nil
	}
	v := &yaml.Node{Kind: kind, Tag: tag}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
	return v, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || n.Value == "" && n.Tag == "")
}

func indexOf(seq *yaml.Node, value string) int {
	for i, n := range seq.Content {
		if n.Kind == yaml.ScalarNode && n.Value == value {
			return i
		}
	}
	return -1
}

func writeExcludeDoc(path string, docs []*yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding %s: %w", path, err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
