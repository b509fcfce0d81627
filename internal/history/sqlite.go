package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chris-regnier/quell/internal/finding"
)

const dbFile = "history.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	target      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	findings    INTEGER NOT NULL,
	errors      INTEGER NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// SQLiteStore keeps runs in a single database file under dir.
type SQLiteStore struct {
	db   *sql.DB
	keep int
}

func NewSQLiteStore(dir string, keep int) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// sqlite allows one writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &SQLiteStore{db: db, keep: keep}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(ctx context.Context, run *finding.ScanRun) error {
	ctx, span := storeTracer.Start(ctx, "save run")
	defer span.End()
	span.SetAttributes(attribute.String("quell.history.id", run.ID))

	err := s.save(ctx, run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *SQLiteStore) save(ctx context.Context, run *finding.ScanRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, target, started_at, duration_ns, findings, errors, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Target, run.StartedAt.UnixNano(), int64(run.Duration),
		len(run.Findings), len(run.Errors), string(payload),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	if s.keep > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM runs WHERE id NOT IN (
				SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
			)`, s.keep)
		if err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*finding.ScanRun, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var run finding.ScanRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target, started_at, duration_ns, findings, errors FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum      Summary
			started  int64
			duration int64
		)
		if err := rows.Scan(&sum.ID, &sum.Target, &started, &duration, &sum.Findings, &sum.Errors); err != nil {
			return nil, err
		}
		sum.StartedAt = time.Unix(0, started).UTC()
		sum.Duration = time.Duration(duration)
		out = append(out, sum)
	}
	return out, rows.Err()
}
