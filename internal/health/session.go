// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"

	"github.com/ManuGH/xg2g-player/internal/playback/session"
	"github.com/ManuGH/xg2g-player/internal/resilience"
)

// SessionChecker reports the state of a playback session.
type SessionChecker struct {
	snapshot func() session.Snapshot
}

// NewSessionChecker creates a checker reading state from snapshot.
func NewSessionChecker(snapshot func() session.Snapshot) *SessionChecker {
	return &SessionChecker{snapshot: snapshot}
}

func (c *SessionChecker) Name() string {
	return "session"
}

// Check is unhealthy once playback has stopped or while the demuxer breaker
// is open, and degraded while the breaker probes or after buffer underruns.
func (c *SessionChecker) Check(_ context.Context) CheckResult {
	snap := c.snapshot()
	switch {
	case snap.Stopped:
		return CheckResult{Status: StatusUnhealthy, Message: "playback stopped"}
	case snap.DemuxBreaker == string(resilience.StateOpen):
		return CheckResult{Status: StatusUnhealthy, Error: "demuxer circuit breaker open"}
	case snap.DemuxBreaker == string(resilience.StateHalfOpen):
		return CheckResult{Status: StatusDegraded, Message: "demuxer recovering"}
	case snap.Underruns > 0:
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d audio underruns", snap.Underruns),
		}
	}

	msg := "playing"
	switch {
	case snap.EOF:
		msg = "end of input"
	case snap.Paused:
		msg = "paused"
	}
	return CheckResult{Status: StatusHealthy, Message: msg}
}
