// Package suppress writes scanner suppression markers into source files and
// the project exclusion file. Every write is a pure insertion or removal of
// the marker text, and files are replaced atomically.
package suppress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ErrLineOutOfRange is returned when the target line does not exist.
var ErrLineOutOfRange = errors.New("line out of range")

// Result reports what a suppression call did.
type Result int

const (
	Applied Result = iota + 1
	AlreadySuppressed
	Removed
	NotSuppressed
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case AlreadySuppressed:
		return "already suppressed"
	case Removed:
		return "removed"
	case NotSuppressed:
		return "not suppressed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Scope is the breadth of a suppression.
type Scope string

const (
	ScopeLine   Scope = "line"
	ScopeFile   Scope = "file"
	ScopeGlobal Scope = "global"
)

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeLine:
		return ScopeLine, nil
	case ScopeFile:
		return ScopeFile, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	}
	return "", fmt.Errorf("unknown suppression scope %q", s)
}

// Document is a source file as the editor sees it.
type Document struct {
	Path       string
	LanguageID string
	Text       string
}

// LoadDocument reads path. An empty languageID is detected from the file
// name.
func LoadDocument(path, languageID string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if languageID == "" {
		if l, ok := DetectLanguage(path); ok {
			languageID = string(l)
		}
	}
	return &Document{Path: path, LanguageID: languageID, Text: string(data)}, nil
}

// Edit describes a single insertion or deletion in a document. Line and
// Character are 0-based and Character counts bytes.
type Edit struct {
	Line      int
	Character int
	Offset    int
	Delete    int
	Insert    string
}

// Editor applies suppressions.
type Editor struct {
	marker      string
	excludeFile string
	checkSafety bool
	logger      *slog.Logger
}

// EditorOption configures an Editor
type EditorOption func(*Editor)

// WithMarker sets the suppression keyword.
func WithMarker(marker string) EditorOption {
	return func(e *Editor) { e.marker = marker }
}

// WithExcludeFile sets the exclusion file name, relative to the project root.
func WithExcludeFile(name string) EditorOption {
	return func(e *Editor) { e.excludeFile = name }
}

// WithSafetyCheck toggles the syntax check for line suppressions.
func WithSafetyCheck(enabled bool) EditorOption {
	return func(e *Editor) { e.checkSafety = enabled }
}

func WithEditorLogger(l *slog.Logger) EditorOption {
	return func(e *Editor) { e.logger = l }
}

func NewEditor(opts ...EditorOption) *Editor {
	e := &Editor{
		marker:      DefaultMarker,
		excludeFile: DefaultExcludeFile,
		checkSafety: true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Marker returns the suppression keyword in use.
func (e *Editor) Marker() string { return e.marker }

// SuppressAtLine appends a marker for ruleID to the 0-based line. A line
// that already carries a marker is left alone.
func (e *Editor) SuppressAtLine(ctx context.Context, doc *Document, line int, ruleID string) (Result, *Edit, error) {
	if err := validateRuleID(ruleID); err != nil {
		return 0, nil, err
	}
	lang, token, err := resolveToken(doc.LanguageID)
	if err != nil {
		return 0, nil, err
	}
	start, end, err := lineBounds(doc.Text, line)
	if err != nil {
		return 0, nil, err
	}
	text := doc.Text[start:end]
	if newMarkerPattern(token, e.marker).find(text) {
		return AlreadySuppressed, nil, nil
	}
	if e.checkSafety {
		if err := checkLineEnd(ctx, lang, []byte(doc.Text), line, text); err != nil {
			return 0, nil, err
		}
	}

	insert := FormatMarker(token, e.marker, ruleID)
	if text != "" && !endsWithSpace(text) {
		insert = " " + insert
	}
	edit := &Edit{Line: line, Character: end - start, Offset: end, Insert: insert}
	if err := e.apply(doc, edit); err != nil {
		return 0, nil, err
	}
	e.logger.Info("suppressed line", "path", doc.Path, "line", line+1, "rule", ruleID)
	return Applied, edit, nil
}

// SuppressFileWide inserts a marker line at the top of the document. It
// does not check for an existing marker, so repeated calls add repeated
// lines.
func (e *Editor) SuppressFileWide(ctx context.Context, doc *Document, ruleID string) (*Edit, error) {
	if err := validateRuleID(ruleID); err != nil {
		return nil, err
	}
	_, token, err := resolveToken(doc.LanguageID)
	if err != nil {
		return nil, err
	}
	edit := &Edit{Insert: FormatMarker(token, e.marker, ruleID) + lineEnding(doc.Text)}
	if err := e.apply(doc, edit); err != nil {
		return nil, err
	}
	e.logger.Info("suppressed file", "path", doc.Path, "rule", ruleID)
	return edit, nil
}

// UnsuppressLine removes ruleID from the marker on the 0-based line. The
// whole comment goes when ruleID was its only id.
func (e *Editor) UnsuppressLine(ctx context.Context, doc *Document, line int, ruleID string) (Result, *Edit, error) {
	if err := validateRuleID(ruleID); err != nil {
		return 0, nil, err
	}
	_, token, err := resolveToken(doc.LanguageID)
	if err != nil {
		return 0, nil, err
	}
	start, end, err := lineBounds(doc.Text, line)
	if err != nil {
		return 0, nil, err
	}
	text := doc.Text[start:end]
	pat := newMarkerPattern(token, e.marker)
	loc := pat.re.FindStringIndex(text)
	if loc == nil {
		return NotSuppressed, nil, nil
	}
	ids := pat.ruleIDs(text)
	kept := make([]string, 0, len(ids))
	found := false
	for _, id := range ids {
		if id == ruleID {
			found = true
			continue
		}
		kept = append(kept, id)
	}
	if !found {
		return NotSuppressed, nil, nil
	}

	cut := loc[0]
	if len(kept) > 0 {
		// keep the comment, rewrite its id list
		replacement := FormatMarker(token, e.marker, strings.Join(kept, ", "))
		edit := &Edit{Line: line, Character: loc[0], Offset: start + loc[0], Delete: loc[1] - loc[0], Insert: replacement}
		if err := e.apply(doc, edit); err != nil {
			return 0, nil, err
		}
		return Removed, edit, nil
	}
	// drop the comment and the whitespace that separated it from the code
	for cut > 0 && (text[cut-1] == ' ' || text[cut-1] == '\t') {
		cut--
	}
	edit := &Edit{Line: line, Character: cut, Offset: start + cut, Delete: loc[1] - cut}
	if err := e.apply(doc, edit); err != nil {
		return 0, nil, err
	}
	e.logger.Info("removed line suppression", "path", doc.Path, "line", line+1, "rule", ruleID)
	return Removed, edit, nil
}

// HasLineMarker reports whether the 0-based line carries any marker.
func (e *Editor) HasLineMarker(doc *Document, line int) (bool, error) {
	_, token, err := resolveToken(doc.LanguageID)
	if err != nil {
		return false, err
	}
	start, end, err := lineBounds(doc.Text, line)
	if err != nil {
		return false, err
	}
	return newMarkerPattern(token, e.marker).find(doc.Text[start:end]), nil
}

func (e *Editor) apply(doc *Document, edit *Edit) error {
	updated := doc.Text[:edit.Offset] + edit.Insert + doc.Text[edit.Offset+edit.Delete:]
	if doc.Path != "" {
		if err := writeFileAtomic(doc.Path, []byte(updated)); err != nil {
			return fmt.Errorf("writing %s: %w", doc.Path, err)
		}
	}
	doc.Text = updated
	return nil
}

func resolveToken(languageID string) (Language, string, error) {
	lang, err := ParseLanguage(languageID)
	if err != nil {
		return "", "", err
	}
	token, err := CommentToken(string(lang))
	if err != nil {
		return "", "", err
	}
	return lang, token, nil
}

func validateRuleID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("rule id is empty")
	}
	if strings.ContainsAny(id, "\r\n,") {
		return fmt.Errorf("rule id %q contains a line break or comma", id)
	}
	return nil
}

// lineBounds returns the byte range of the 0-based line, excluding its line
// terminator.
func lineBounds(text string, line int) (int, int, error) {
	if line < 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrLineOutOfRange, line)
	}
	start := 0
	for i := 0; i < line; i++ {
		nl := strings.IndexByte(text[start:], '\n')
		if nl < 0 {
			return 0, 0, fmt.Errorf("%w: %d", ErrLineOutOfRange, line)
		}
		start += nl + 1
	}
	end := len(text)
	if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 {
		end = start + nl
	}
	if end > start && text[end-1] == '\r' {
		end--
	}
	// A trailing newline does not open a further line.
	if start == len(text) && line > 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrLineOutOfRange, line)
	}
	return start, end, nil
}

func lineEnding(text string) string {
	if nl := strings.IndexByte(text, '\n'); nl > 0 && text[nl-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

func endsWithSpace(s string) bool {
	last := s[len(s)-1]
	return last == ' ' || last == '\t'
}
