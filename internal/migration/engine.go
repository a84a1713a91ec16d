// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package migration moves persisted player state between storage backends
// and records completed runs in the target database.
package migration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
)

// Module constants
const (
	ModuleResume = "resume"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS migration_history (
	module TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	source_path TEXT NOT NULL,
	migrated_at_ms INTEGER NOT NULL,
	record_count INTEGER NOT NULL,
	checksum TEXT NOT NULL
);`

// HistoryRecord matches the migration_history table schema.
type HistoryRecord struct {
	Module       string
	SourceType   string
	SourcePath   string
	MigratedAtMs int64
	RecordCount  int
	Checksum     string
}

// EnsureHistory creates the migration_history table if it is missing.
func EnsureHistory(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, historySchema)
	return err
}

// IsMigrated checks if a module has already been migrated in the target DB.
func IsMigrated(ctx context.Context, db *sql.DB, module string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migration_history WHERE module = ?", module).Scan(&exists)
	if err != nil {
		// If table doesn't exist, it's not migrated
		return false, nil
	}
	return exists > 0, nil
}

// RecordMigration saves the migration completion status to the target DB.
func RecordMigration(ctx context.Context, db *sql.DB, rec HistoryRecord) error {
	if err := EnsureHistory(ctx, db); err != nil {
		return err
	}
	query := `
	INSERT INTO migration_history (module, source_type, source_path, migrated_at_ms, record_count, checksum)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(module) DO UPDATE SET
		source_type = excluded.source_type,
		source_path = excluded.source_path,
		migrated_at_ms = excluded.migrated_at_ms,
		record_count = excluded.record_count,
		checksum = excluded.checksum
	`
	_, err := db.ExecContext(ctx, query,
		rec.Module, rec.SourceType, rec.SourcePath, rec.MigratedAtMs, rec.RecordCount, rec.Checksum,
	)
	return err
}

// GetHistory retrieves the migration record for a module; nil when the module
// was never migrated.
func GetHistory(ctx context.Context, db *sql.DB, module string) (*HistoryRecord, error) {
	var rec HistoryRecord
	query := `SELECT module, source_type, source_path, migrated_at_ms, record_count, checksum FROM migration_history WHERE module = ?`
	err := db.QueryRowContext(ctx, query, module).Scan(&rec.Module, &rec.SourceType, &rec.SourcePath, &rec.MigratedAtMs, &rec.RecordCount, &rec.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CalculateChecksum hashes the migrated records in order. Each part is
// length-prefixed so that boundaries are part of the digest.
func CalculateChecksum(parts [][]byte) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		l := uint64(len(p))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
