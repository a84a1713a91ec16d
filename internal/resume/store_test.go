// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPosition(t *testing.T) {
	tests := []struct {
		name string
		pos  *Position
		want time.Duration
	}{
		{"nil", nil, 0},
		{"finished", &Position{Position: time.Minute, Finished: true}, 0},
		{"too early", &Position{Position: 3 * time.Second}, 0},
		{"near end", &Position{Position: 95 * time.Second, Duration: 100 * time.Second}, 0},
		{"middle", &Position{Position: 40 * time.Second, Duration: 100 * time.Second}, 40 * time.Second},
		{"unknown duration", &Position{Position: time.Hour}, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StartPosition(tt.pos))
		})
	}
}

func TestNewStore_Backends(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore("", filepath.Join(dir, "resume.yaml"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = NewStore("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore("sqlite", filepath.Join(dir, "resume.sqlite"))
	require.NoError(t, err)
	assert.IsType(t, &SqliteStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore("redis", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resume store backend")
}

// exerciseStore runs the common contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Get(ctx, "synthetic://a")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, &Position{Input: "synthetic://a", Position: 42 * time.Second, Duration: 10 * time.Minute, UpdatedAt: now}))
	require.NoError(t, s.Put(ctx, &Position{Input: "synthetic://a", Position: 43500 * time.Millisecond, Duration: 10 * time.Minute, UpdatedAt: now}))

	got, err = s.Get(ctx, "synthetic://a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "synthetic://a", got.Input)
	assert.Equal(t, 43500*time.Millisecond, got.Position)
	assert.Equal(t, 10*time.Minute, got.Duration)
	assert.True(t, now.Equal(got.UpdatedAt))

	require.NoError(t, s.Delete(ctx, "synthetic://a"))
	got, err = s.Get(ctx, "synthetic://a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSqliteStore(t *testing.T) {
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "resume.sqlite"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
	require.NoError(t, s.Check(context.Background()))
}

func TestSqliteStore_CorruptTimestamp(t *testing.T) {
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "resume.sqlite"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO resume_positions (input, pos_ms, duration_ms, finished, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"synthetic://bad", 1000, 0, false, "yesterday")
	require.NoError(t, err)

	got, err := s.Get(ctx, "synthetic://bad")
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "updated_at")
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state", "resume.yaml"))
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.yaml")
	ctx := context.Background()

	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, &Position{Input: "file:///movie.ts", Position: 90 * time.Second, UpdatedAt: time.Now()}))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "file:///movie.ts")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 90*time.Second, got.Position)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::not yaml"), 0o600))
	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestFileStore_AllIsOrderedByInput(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "resume.yaml"))
	require.NoError(t, err)
	for _, in := range []string{"file:///c.ts", "file:///a.ts", "file:///b.ts"} {
		require.NoError(t, s.Put(ctx, &Position{Input: in, Position: time.Minute}))
	}

	all := s.All()
	require.Len(t, all, 3)
	assert.Equal(t, "file:///a.ts", all[0].Input)
	assert.Equal(t, "file:///b.ts", all[1].Input)
	assert.Equal(t, "file:///c.ts", all[2].Input)
}
