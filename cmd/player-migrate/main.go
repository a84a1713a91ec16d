// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command player-migrate moves resume positions from the YAML store into a
// SQLite store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/xg2g-player/internal/migration"
	"github.com/ManuGH/xg2g-player/internal/resume"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "❌ Resume migration failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("player-migrate", flag.ContinueOnError)
	fs.SetOutput(stdout)
	var (
		from       = fs.String("from", "resume.yaml", "Source YAML resume file")
		to         = fs.String("to", "resume.sqlite", "Target SQLite database")
		dryRun     = fs.Bool("dry-run", false, "Simulate migration without writing")
		verifyOnly = fs.Bool("verify-only", false, "Compare source and target positions")
		force      = fs.Bool("force", false, "Ignore migration_history and re-run migration")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*from) == "" || strings.TrimSpace(*to) == "" {
		return errors.New("--from and --to are required")
	}

	_, _ = fmt.Fprintf(stdout, "🔍 Starting resume migration (DryRun=%v, VerifyOnly=%v)\n", *dryRun, *verifyOnly)

	if _, err := os.Stat(*from); errors.Is(err, os.ErrNotExist) {
		_, _ = fmt.Fprintln(stdout, "ℹ️ Source YAML file not found. Skipping.")
		return nil
	}
	src, err := resume.NewFileStore(*from)
	if err != nil {
		return fmt.Errorf("open yaml store: %w", err)
	}
	dst, err := resume.NewSqliteStore(*to)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if *verifyOnly {
		mismatched, err := migration.VerifyResume(ctx, src, dst)
		if err != nil {
			return err
		}
		if len(mismatched) > 0 {
			return fmt.Errorf("%d positions differ: %s", len(mismatched), strings.Join(mismatched, ", "))
		}
		_, _ = fmt.Fprintln(stdout, "✅ Source and target match.")
		return nil
	}

	if !*force {
		done, err := migration.IsMigrated(ctx, dst.DB, migration.ModuleResume)
		if err == nil && done {
			_, _ = fmt.Fprintln(stdout, "⏭️ Already migrated. Skipping.")
			return nil
		}
	}

	count, checksum, err := migration.MigrateResume(ctx, src, dst, *dryRun)
	if err != nil {
		return err
	}

	if !*dryRun {
		err = migration.RecordMigration(ctx, dst.DB, migration.HistoryRecord{
			Module:       migration.ModuleResume,
			SourceType:   "yaml",
			SourcePath:   *from,
			MigratedAtMs: time.Now().UnixMilli(),
			RecordCount:  count,
			Checksum:     checksum,
		})
		if err != nil {
			return fmt.Errorf("record migration history: %w", err)
		}
	}

	_, _ = fmt.Fprintf(stdout, "✅ Migrated %d resume positions (Checksum: %s).\n", count, checksum)
	return nil
}
