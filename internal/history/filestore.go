package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chris-regnier/quell/internal/finding"
)

var storeTracer = otel.Tracer("github.com/chris-regnier/quell/internal/history")

const runFile = "run.json"

// FileStore keeps one directory per run, named "<started-at>_<id>" so that
// a lexical sort is chronological.
type FileStore struct {
	dir  string
	keep int
}

func NewFileStore(dir string, keep int) *FileStore {
	return &FileStore{dir: dir, keep: keep}
}

func runDirName(run *finding.ScanRun) string {
	return run.StartedAt.UTC().Format("2006-01-02T15-04-05.000Z") + "_" + run.ID
}

func (s *FileStore) Save(ctx context.Context, run *finding.ScanRun) error {
	_, span := storeTracer.Start(ctx, "save run")
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	dir := filepath.Join(s.dir, runDirName(run))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail(err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fail(err)
	}
	if err := os.WriteFile(filepath.Join(dir, runFile), data, 0644); err != nil {
		return fail(err)
	}
	span.SetAttributes(
		attribute.String("quell.history.id", run.ID),
		attribute.Int("quell.history.finding_count", len(run.Findings)),
	)
	if err := s.prune(); err != nil {
		return fail(fmt.Errorf("pruning history: %w", err))
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, id string) (*finding.ScanRun, error) {
	dirs, err := s.runDirs()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if strings.HasSuffix(d, "_"+id) {
			return readRun(filepath.Join(s.dir, d, runFile))
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	dirs, err := s.runDirs()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(dirs))
	for _, d := range dirs {
		run, err := readRun(filepath.Join(s.dir, d, runFile))
		if err != nil {
			continue
		}
		out = append(out, summarize(run))
	}
	return out, nil
}

// runDirs returns run directory names, newest first.
func (s *FileStore) runDirs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.Contains(e.Name(), "_") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (s *FileStore) prune() error {
	if s.keep <= 0 {
		return nil
	}
	dirs, err := s.runDirs()
	if err != nil {
		return err
	}
	for i := s.keep; i < len(dirs); i++ {
		if err := os.RemoveAll(filepath.Join(s.dir, dirs[i])); err != nil {
			return err
		}
	}
	return nil
}

func readRun(path string) (*finding.ScanRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var run finding.ScanRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}
