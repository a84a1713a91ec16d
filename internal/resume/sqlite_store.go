// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/xg2g-player/internal/persistence/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS resume_positions (
	input TEXT PRIMARY KEY,
	pos_ms INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	finished BOOLEAN NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resume_updated ON resume_positions(updated_at);
`

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens or creates the database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if dbPath == "" {
		return nil, errors.New("resume: sqlite store needs a path")
	}
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(context.Background(), db, schemaVersion, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resume store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Put(ctx context.Context, p *Position) error {
	query := `
	INSERT INTO resume_positions (input, pos_ms, duration_ms, finished, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(input) DO UPDATE SET
		pos_ms = excluded.pos_ms,
		duration_ms = excluded.duration_ms,
		finished = excluded.finished,
		updated_at = excluded.updated_at
	`
	_, err := s.DB.ExecContext(ctx, query,
		p.Input, p.Position.Milliseconds(), p.Duration.Milliseconds(), p.Finished, p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SqliteStore) Get(ctx context.Context, input string) (*Position, error) {
	query := `SELECT pos_ms, duration_ms, finished, updated_at FROM resume_positions WHERE input = ?`
	var (
		posMs, durMs int64
		updatedAt    string
		p            = Position{Input: input}
	)
	err := s.DB.QueryRowContext(ctx, query, input).Scan(&posMs, &durMs, &p.Finished, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Position = time.Duration(posMs) * time.Millisecond
	p.Duration = time.Duration(durMs) * time.Millisecond
	p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("resume store: bad updated_at for %q: %w", input, err)
	}
	return &p, nil
}

func (s *SqliteStore) Delete(ctx context.Context, input string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM resume_positions WHERE input = ?", input)
	return err
}

// Check runs the SQLite integrity check.
func (s *SqliteStore) Check(ctx context.Context) error {
	problems, err := sqlite.QuickCheck(ctx, s.DB)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("resume store integrity: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
