// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g-player/internal/resume"
)

func TestRun_MigratesOnce(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "resume.yaml")
	to := filepath.Join(dir, "resume.sqlite")
	ctx := context.Background()

	src, err := resume.NewFileStore(from)
	require.NoError(t, err)
	require.NoError(t, src.Put(ctx, &resume.Position{Input: "file:///movie.ts", Position: 2 * time.Minute, UpdatedAt: time.Now()}))

	args := []string{"-from", from, "-to", to}

	var out bytes.Buffer
	require.NoError(t, run(ctx, args, &out))
	assert.Contains(t, out.String(), "Migrated 1 resume positions")

	out.Reset()
	require.NoError(t, run(ctx, args, &out))
	assert.Contains(t, out.String(), "Already migrated")

	out.Reset()
	require.NoError(t, run(ctx, append(args, "-verify-only"), &out))
	assert.Contains(t, out.String(), "match")

	dst, err := resume.NewSqliteStore(to)
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()
	got, err := dst.Get(ctx, "file:///movie.ts")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2*time.Minute, got.Position)
}

func TestRun_VerifyReportsMissing(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "resume.yaml")
	src, err := resume.NewFileStore(from)
	require.NoError(t, err)
	require.NoError(t, src.Put(context.Background(), &resume.Position{Input: "file:///a.ts", Position: time.Minute}))

	var out bytes.Buffer
	err = run(context.Background(), []string{"-from", from, "-to", filepath.Join(dir, "resume.sqlite"), "-verify-only"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file:///a.ts")
}

func TestRun_MissingSourceIsSkipped(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-from", filepath.Join(dir, "none.yaml"), "-to", filepath.Join(dir, "resume.sqlite")}, &out))
	assert.Contains(t, out.String(), "Skipping")
}
