// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watchdog detects playback that stopped advancing.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/xg2g-player/internal/log"
)

// ErrStalled is returned by Run when playback made no progress in time. It
// wraps context.DeadlineExceeded.
var ErrStalled = fmt.Errorf("watchdog: playback stalled: %w", context.DeadlineExceeded)

type State int

const (
	StateStarting State = iota
	StateRunning
	StateIdle
	StateStalled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateStalled:
		return "stalled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Probe reports a progress counter that changes whenever playback does work
// (frames shown, audio consumed) and whether playback is idle on purpose,
// e.g. paused or at the end.
type Probe func() (progress int64, idle bool)

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// Watchdog polls a probe and enforces start and stall timeouts.
type Watchdog struct {
	mu sync.RWMutex

	startTimeout time.Duration
	stallTimeout time.Duration
	interval     time.Duration
	probe        Probe

	last          int64
	lastHeartbeat time.Time
	state         State

	clock clock
}

// New creates a watchdog. interval defaults to a quarter of the stall
// timeout, capped at one second.
func New(startTimeout, stallTimeout time.Duration, probe Probe) *Watchdog {
	interval := min(stallTimeout/4, time.Second)
	if interval <= 0 {
		interval = time.Second
	}
	return &Watchdog{
		startTimeout: startTimeout,
		stallTimeout: stallTimeout,
		interval:     interval,
		probe:        probe,
		clock:        realClock{},
	}
}

// Run polls until ctx is done or a timeout fires.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	w.lastHeartbeat = w.clock.Now()
	w.state = StateStarting
	w.mu.Unlock()

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			progress, idle := w.probe()
			w.observe(progress, idle)
			if err := w.check(); err != nil {
				return err
			}
		}
	}
}

func (w *Watchdog) observe(progress int64, idle bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	switch {
	case idle:
		// idle time never counts towards a stall
		w.lastHeartbeat = now
		if w.state != StateStarting {
			w.state = StateIdle
		}
	case progress != w.last:
		w.lastHeartbeat = now
		if w.state != StateRunning {
			log.L().Debug().Str(log.FieldEvent, "watchdog.progress").Int64("progress", progress).Msg("playback progressing")
		}
		w.state = StateRunning
	case w.state == StateIdle:
		w.state = StateRunning
	}
	w.last = progress
}

func (w *Watchdog) check() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := w.clock.Now().Sub(w.lastHeartbeat)
	switch w.state {
	case StateStarting:
		if elapsed > w.startTimeout {
			w.state = StateTimedOut
			return fmt.Errorf("no playback after %s: %w", w.startTimeout, ErrStalled)
		}
	case StateRunning:
		if elapsed > w.stallTimeout {
			w.state = StateStalled
			return fmt.Errorf("no progress for %s: %w", w.stallTimeout, ErrStalled)
		}
	}
	return nil
}

// State returns the current watchdog state.
func (w *Watchdog) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// IsStall reports whether err comes from a watchdog timeout.
func IsStall(err error) bool {
	return errors.Is(err, ErrStalled)
}
