// Package history archives completed workspace scan runs so that earlier
// results can be listed and compared.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris-regnier/quell/internal/finding"
)

// ErrNotFound is returned by Load for an unknown run id.
var ErrNotFound = errors.New("scan run not found")

// Summary describes an archived run without its findings.
type Summary struct {
	ID        string        `json:"id"`
	Target    string        `json:"target"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Findings  int           `json:"findings"`
	Errors    int           `json:"errors"`
}

func summarize(run *finding.ScanRun) Summary {
	return Summary{
		ID:        run.ID,
		Target:    run.Target,
		StartedAt: run.StartedAt,
		Duration:  run.Duration,
		Findings:  len(run.Findings),
		Errors:    len(run.Errors),
	}
}

// Store keeps scan runs. List returns the newest run first.
type Store interface {
	Save(ctx context.Context, run *finding.ScanRun) error
	Load(ctx context.Context, id string) (*finding.ScanRun, error)
	List(ctx context.Context) ([]Summary, error)
}

// Open returns the store for backend ("file" or "sqlite") rooted at dir.
// keep bounds how many runs are retained; 0 keeps everything.
func Open(backend, dir string, keep int) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dir, keep), nil
	case "sqlite":
		s, err := NewSQLiteStore(dir, keep)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}
