// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/metrics"
	"github.com/ManuGH/xg2g-player/internal/playback/avsync"
)

// renderLoop polls the video scheduler every RefreshRate or earlier when a
// frame is due, and executes control commands in between. It is the only
// goroutine that touches the presentation state.
func (s *Session) renderLoop(ctx context.Context) error {
	status := rate.Sometimes{Interval: s.opts.StatusInterval}
	var last avsync.Stats

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.cmds:
			if err := cmd(); err != nil {
				return err
			}
			continue
		case <-timer.C:
		}

		remaining := avsync.RefreshRate
		s.engine.VideoRefresh(&remaining)
		status.Do(func() { last = s.report(last) })
		timer.Reset(time.Duration(remaining * float64(time.Second)))
	}
}

// report publishes metrics and, when enabled, logs the status line. It
// returns the stats the next report computes deltas against.
func (s *Session) report(prev avsync.Stats) avsync.Stats {
	st := s.engine.Stats()
	metrics.SetClocks(st.MasterClock, st.AVDiff, st.ExtSpeed)
	metrics.RecordFrameDrops("late", int(st.DropsLate-prev.DropsLate))
	metrics.RecordFramesDisplayed(int(st.Displayed - prev.Displayed))

	ev := s.logger.Debug()
	if s.opts.ShowStatus {
		ev = s.logger.Info()
	}
	ev = ev.Str(xglog.FieldEvent, "session.status").
		Float64(xglog.FieldMasterClock, st.MasterClock).
		Float64(xglog.FieldAVDiff, st.AVDiff).
		Str(xglog.FieldSyncType, st.Master.String()).
		Int64("drops_early", st.DropsEarly).
		Int64("drops_late", st.DropsLate).
		Bool("paused", st.Paused)
	for _, c := range s.components() {
		ps := c.track().pq.Stats()
		name := c.Type().String()
		metrics.SetQueueState(name, ps.Packets, ps.Bytes)
		ev = ev.Int(name+"_queue_bytes", ps.Bytes)
	}
	ev.Msg("status")
	return st
}

// exec runs fn on the render loop and waits for it. It must not be called
// from the render loop itself.
func (s *Session) exec(fn func() error) error {
	var err error
	done := make(chan struct{})
	cmd := func() error {
		err = fn()
		close(done)
		return nil
	}
	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return err
	case <-s.stopped:
		return ErrClosed
	}
}
