// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package migration

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuGH/xg2g-player/internal/resume"
)

// MigrateResume copies every position of the YAML store into the SQLite
// store. Positions are truncated to milliseconds, the resolution of the
// target schema. With dryRun nothing is written.
func MigrateResume(ctx context.Context, src *resume.FileStore, dst *resume.SqliteStore, dryRun bool) (int, string, error) {
	var checksumData [][]byte
	count := 0
	for _, p := range src.All() {
		if err := ctx.Err(); err != nil {
			return count, "", err
		}
		p = mapPosition(p)
		if !dryRun {
			if err := dst.Put(ctx, &p); err != nil {
				return count, "", fmt.Errorf("migrate resume %q: %w", p.Input, err)
			}
		}
		checksumData = append(checksumData, []byte(p.Input), positionKey(p))
		count++
	}
	return count, CalculateChecksum(checksumData), nil
}

// VerifyResume compares every source position with the target and returns
// the inputs that are missing or differ.
func VerifyResume(ctx context.Context, src *resume.FileStore, dst *resume.SqliteStore) ([]string, error) {
	var mismatched []string
	for _, p := range src.All() {
		want := mapPosition(p)
		got, err := dst.Get(ctx, p.Input)
		if err != nil {
			return nil, fmt.Errorf("verify resume %q: %w", p.Input, err)
		}
		if got == nil || string(positionKey(*got)) != string(positionKey(want)) {
			mismatched = append(mismatched, p.Input)
		}
	}
	return mismatched, nil
}

func mapPosition(p resume.Position) resume.Position {
	p.Position = p.Position.Truncate(time.Millisecond)
	p.Duration = p.Duration.Truncate(time.Millisecond)
	return p
}

func positionKey(p resume.Position) []byte {
	return []byte(strconv.FormatInt(p.Position.Milliseconds(), 10) + "/" +
		strconv.FormatInt(p.Duration.Milliseconds(), 10) + "/" +
		strconv.FormatBool(p.Finished))
}
