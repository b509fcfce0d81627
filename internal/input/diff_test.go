package input

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/chris-regnier/quell/internal/finding"
)

const gitDiff = `diff --git a/main.go b/main.go
index 1234567..abcdefg 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,5 @@
 package main

-func main() {}
+func main() {
+	fmt.Println("hello")
+}
@@ -10,2 +12,3 @@ func helper() {
 	a := 1
+	b := 2
 	return
diff --git a/old.py b/old.py
deleted file mode 100644
--- a/old.py
+++ /dev/null
@@ -1,2 +0,0 @@
-import os
-print(os.getcwd())
diff --git a/pkg/new.py b/pkg/new.py
new file mode 100644
--- /dev/null
+++ b/pkg/new.py
@@ -0,0 +1,2 @@
+x = 1
+y = eval(input())
\ No newline at end of file
`

func TestParseDiff(t *testing.T) {
	changed, err := ParseDiff(strings.NewReader(gitDiff))
	if err != nil {
		t.Fatal(err)
	}

	want := ChangedLines{
		"main.go":    {{Start: 3, End: 5}, {Start: 13, End: 13}},
		"pkg/new.py": {{Start: 1, End: 2}},
	}
	if !reflect.DeepEqual(changed, want) {
		t.Errorf("unexpected changed lines:\n got %v\nwant %v", changed, want)
	}
	if got := changed.Files(); !reflect.DeepEqual(got, []string{"main.go", "pkg/new.py"}) {
		t.Errorf("unexpected files %v", got)
	}
}

func TestParseDiff_PlainUnified(t *testing.T) {
	diff := "--- a.py.orig\t2024-01-01 00:00:00\n+++ a.py\t2024-01-02 00:00:00\n@@ -4 +4 @@\n-old\n+new\n"
	changed, err := ParseDiff(strings.NewReader(diff))
	if err != nil {
		t.Fatal(err)
	}
	if !changed.Overlaps("a.py", 4, 4) {
		t.Errorf("expected line 4 of a.py to be changed: %v", changed)
	}
	if changed.Overlaps("a.py", 3, 3) {
		t.Error("line 3 was not changed")
	}
}

func TestParseDiff_Malformed(t *testing.T) {
	_, err := ParseDiff(strings.NewReader("+++ b/a.go\n@@ broken @@\n"))
	if !errors.Is(err, ErrMalformedDiff) {
		t.Errorf("expected ErrMalformedDiff, got %v", err)
	}
}

func TestOverlaps(t *testing.T) {
	c := ChangedLines{"src/a.go": {{Start: 10, End: 12}}}
	tests := []struct {
		start, end int
		want       bool
	}{
		{9, 9, false},
		{9, 10, true},
		{11, 0, true},
		{12, 20, true},
		{13, 13, false},
	}
	for _, tt := range tests {
		if got := c.Overlaps("src/a.go", tt.start, tt.end); got != tt.want {
			t.Errorf("Overlaps(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
	}
	if c.Overlaps("src/b.go", 10, 10) {
		t.Error("unchanged file should not overlap")
	}
}

func TestFilter(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "proj")
	c := ChangedLines{"pkg/new.py": {{Start: 2, End: 2}}}
	entry := func(rel string, line int) finding.Entry {
		return finding.Entry{
			Path: filepath.Join(root, filepath.FromSlash(rel)),
			Finding: finding.Finding{
				RuleID: "r",
				Start:  finding.Position{Line: line, Col: 1},
				End:    finding.Position{Line: line, Col: 5},
			},
		}
	}
	entries := []finding.Entry{
		entry("pkg/new.py", 1),
		entry("pkg/new.py", 2),
		entry("main.go", 2),
		{Path: filepath.Join(string(filepath.Separator), "elsewhere", "x.py")},
	}

	kept := c.Filter(root, entries)
	if len(kept) != 1 || kept[0].Finding.Start.Line != 2 {
		t.Errorf("expected only the finding on the changed line, got %v", kept)
	}
}

func TestReadDiff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "change.diff")
	if err := os.WriteFile(path, []byte(gitDiff), 0o644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := ReadDiff(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	fromStdin, err := ReadDiff("-", strings.NewReader(gitDiff))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(fromFile, fromStdin) {
		t.Errorf("file and stdin disagree: %v vs %v", fromFile, fromStdin)
	}
	if _, err := ReadDiff(filepath.Join(t.TempDir(), "missing"), nil); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
