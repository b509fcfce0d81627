// Package input reads the optional inputs that narrow a report to part of
// a project, currently a unified diff of the change under review.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/chris-regnier/quell/internal/finding"
)

// ErrMalformedDiff is returned for a hunk header that cannot be parsed.
var ErrMalformedDiff = errors.New("malformed diff")

// LineRange is an inclusive, 1-based range of lines in the new file.
type LineRange struct {
	Start int
	End   int
}

// ChangedLines maps a slash-separated path, relative to the repository
// root, to the lines the diff adds or modifies.
type ChangedLines map[string][]LineRange

var hunkRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ReadDiff parses the diff at path; "-" reads stdin.
func ReadDiff(path string, stdin io.Reader) (ChangedLines, error) {
	if path == "-" {
		return ParseDiff(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseDiff(f)
}

// ParseDiff reads a unified diff as produced by git diff or diff -u.
// Deleted files contribute nothing; removed lines are ignored.
func ParseDiff(r io.Reader) (ChangedLines, error) {
	changed := make(ChangedLines)
	var (
		path             string
		newLine          int
		oldLeft, newLeft int
		lineNo           int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")

		if oldLeft > 0 || newLeft > 0 {
			switch {
			case strings.HasPrefix(line, "+"):
				changed.add(path, newLine)
				newLine++
				newLeft--
			case strings.HasPrefix(line, "-"):
				oldLeft--
			case strings.HasPrefix(line, `\`):
				// "\ No newline at end of file"
			default:
				newLine++
				oldLeft--
				newLeft--
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "diff --git "):
			fields := strings.Fields(line)
			path = stripPrefix(fields[len(fields)-1])
		case strings.HasPrefix(line, "+++ "):
			target := strings.TrimPrefix(line, "+++ ")
			if i := strings.IndexByte(target, '\t'); i >= 0 {
				target = target[:i]
			}
			if target == "/dev/null" {
				path = ""
			} else {
				path = stripPrefix(target)
			}
		case strings.HasPrefix(line, "@@"):
			m := hunkRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedDiff, lineNo, line)
			}
			oldLeft = count(m[2])
			newLine, _ = strconv.Atoi(m[3])
			newLeft = count(m[4])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading diff: %w", err)
	}
	return changed, nil
}

func count(s string) int {
	if s == "" {
		return 1
	}
	n, _ := strconv.Atoi(s)
	return n
}

func stripPrefix(p string) string {
	p = strings.Trim(p, `"`)
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		p = p[2:]
	}
	return p
}

func (c ChangedLines) add(path string, line int) {
	if path == "" {
		return
	}
	ranges := c[path]
	if n := len(ranges); n > 0 && ranges[n-1].End == line-1 {
		ranges[n-1].End = line
		return
	}
	c[path] = append(ranges, LineRange{Start: line, End: line})
}

// Files lists the changed paths in sorted order.
func (c ChangedLines) Files() []string {
	out := make([]string, 0, len(c))
	for p := range c {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Overlaps reports whether any line from start to end in path was changed.
func (c ChangedLines) Overlaps(path string, start, end int) bool {
	if end < start {
		end = start
	}
	for _, r := range c[filepath.ToSlash(path)] {
		if start <= r.End && end >= r.Start {
			return true
		}
	}
	return false
}

// Filter keeps the entries whose finding touches a changed line. Entry
// paths are made relative to root before lookup.
func (c ChangedLines) Filter(root string, entries []finding.Entry) []finding.Entry {
	kept := make([]finding.Entry, 0, len(entries))
	for _, e := range entries {
		rel, err := filepath.Rel(root, e.Path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if c.Overlaps(rel, e.Finding.Start.Line, e.Finding.End.Line) {
			kept = append(kept, e)
		}
	}
	return kept
}
