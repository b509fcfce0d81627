package suppress

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	typescript "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// ErrUnsafeInsertion is returned when a comment appended to the line would
// land inside a multi-line string or comment, or after a line continuation.
var ErrUnsafeInsertion = errors.New("suppression comment would change program text")

var grammars = map[Language]*sitter.Language{
	LangC:               c.GetLanguage(),
	LangGo:              golang.GetLanguage(),
	LangJava:            java.GetLanguage(),
	LangJavaScript:      javascript.GetLanguage(),
	LangJavaScriptReact: javascript.GetLanguage(),
	LangPython:          python.GetLanguage(),
	LangRust:            rust.GetLanguage(),
	LangTypeScript:      typescript.GetLanguage(),
}

// checkLineEnd reports ErrUnsafeInsertion when appending to the end of row
// would not produce a trailing comment. Languages without a grammar only get
// the textual continuation check.
func checkLineEnd(ctx context.Context, lang Language, src []byte, row int, line string) error {
	if strings.HasSuffix(strings.TrimRight(line, " \t"), `\`) {
		return fmt.Errorf("%w: line %d ends with a continuation", ErrUnsafeInsertion, row+1)
	}

	grammar, ok := grammars[lang]
	if !ok {
		return nil
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		// Without a tree only the textual check applies.
		return nil
	}
	defer tree.Close()

	at := sitter.Point{Row: uint32(row), Column: uint32(len(line))}
	if node := spanningLiteral(tree.RootNode(), at); node != nil {
		return fmt.Errorf("%w: line %d is inside a multi-line %s", ErrUnsafeInsertion, row+1, node.Type())
	}
	return nil
}

// spanningLiteral finds a string or comment node that covers the end of the
// line at and continues onto a later row. A line ending inside a template
// substitution (`${ ... }`) is code, so the search continues inside it.
func spanningLiteral(node *sitter.Node, at sitter.Point) *sitter.Node {
	if node == nil {
		return nil
	}
	row := at.Row
	start, end := node.StartPoint(), node.EndPoint()
	if start.Row > row || end.Row < row {
		return nil
	}
	if isLiteral(node.Type()) && continuesPast(end, row) {
		if sub := substitutionAt(node, at); sub != nil {
			return spanningLiteral(sub, at)
		}
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := spanningLiteral(node.Child(i), at); found != nil {
			return found
		}
	}
	return nil
}

func substitutionAt(literal *sitter.Node, at sitter.Point) *sitter.Node {
	for i := 0; i < int(literal.ChildCount()); i++ {
		child := literal.Child(i)
		if child.Type() != "template_substitution" {
			continue
		}
		if notAfter(child.StartPoint(), at) && !notAfter(child.EndPoint(), at) {
			return child
		}
	}
	return nil
}

// notAfter reports a <= b.
func notAfter(a, b sitter.Point) bool {
	return a.Row < b.Row || a.Row == b.Row && a.Column <= b.Column
}

func continuesPast(end sitter.Point, row uint32) bool {
	if end.Row <= row {
		return false
	}
	// A node ending at column 0 of the next row stops at the newline.
	return !(end.Row == row+1 && end.Column == 0)
}

func isLiteral(nodeType string) bool {
	if strings.HasPrefix(nodeType, "concatenated_") {
		return false
	}
	return strings.Contains(nodeType, "string") ||
		strings.Contains(nodeType, "comment") ||
		nodeType == "text_block" ||
		nodeType == "heredoc_body"
}
