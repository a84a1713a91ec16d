// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command xg2g-player plays one input through the synchronization engine and
// optionally exposes its controls over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logger := xglog.WithComponent("player")
		logger.Error().Err(err).Str(xglog.FieldEvent, "player.failed").Msg("playback failed")
		os.Exit(1)
	}
}
