// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package avsync

import (
	"math"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
)

// VideoRefresh runs one presentation cycle. remaining is lowered to the time
// until the next frame is due so the caller can sleep accordingly.
//
// Frames from a stale serial are discarded without display. A frame whose
// successor is already due is dropped when dropping is allowed and no step is
// pending.
func (e *Engine) VideoRefresh(remaining *float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	master := e.MasterSyncType()
	if !e.paused && master == ExternalClock && e.opts.Realtime {
		e.CheckExternalClockSpeed()
	}

	video := e.stream(media.TypeVideo)
	if video != nil {
		e.scheduleLocked(video, master, remaining)
		if e.forceRefresh && video.Frames.RindexShown() {
			e.displayLocked(video)
		}
	}
	e.forceRefresh = false
}

func (e *Engine) scheduleLocked(video *Stream, master SyncType, remaining *float64) {
	pictq := video.Frames
	for {
		if pictq.Remaining() == 0 {
			return
		}

		lastvp := pictq.PeekLast()
		vp := pictq.Peek()

		if vp.Serial != video.Packets.Serial() {
			pictq.Next()
			continue
		}

		if lastvp.Serial != vp.Serial {
			e.frameTimer = e.ts.Now()
		}

		if e.paused {
			return
		}

		lastDuration := FrameDuration(lastvp, vp, e.opts.MaxFrameDuration)
		delay := e.ComputeTargetDelay(lastDuration)

		now := e.ts.Now()
		if now < e.frameTimer+delay {
			*remaining = math.Min(e.frameTimer+delay-now, *remaining)
			return
		}

		e.frameTimer += delay
		if delay > 0 && now-e.frameTimer > SyncThresholdMax {
			e.frameTimer = now
		}

		if vp.HasPTS() {
			e.vidclk.Set(vp.PTS, vp.Serial)
			e.extclk.SyncTo(e.vidclk, NoSyncThreshold)
		}

		if pictq.Remaining() > 1 {
			nextvp := pictq.PeekNext()
			duration := FrameDuration(vp, nextvp, e.opts.MaxFrameDuration)
			if !e.step && e.opts.FrameDrop.Allows(master) && now > e.frameTimer+duration {
				e.dropsLate.Add(1)
				e.logger.Debug().
					Str(xglog.FieldEvent, "avsync.drop_late").
					Float64(xglog.FieldPTS, vp.PTS).
					Int(xglog.FieldSerial, vp.Serial).
					Msg("dropping late frame")
				pictq.Next()
				continue
			}
		}

		e.expireSubtitlesLocked()

		pictq.Next()
		e.forceRefresh = true

		if e.step && !e.paused {
			e.togglePauseLocked()
		}
		return
	}
}

// expireSubtitlesLocked discards subtitles that are stale, have ended or are
// superseded by the next event at the current video position.
func (e *Engine) expireSubtitlesLocked() {
	sub := e.stream(media.TypeSubtitle)
	if sub == nil {
		return
	}
	subpq := sub.Frames
	vpts := e.vidclk.Pts()
	for subpq.Remaining() > 0 {
		sp := subpq.Peek()
		var sp2 *media.Frame
		if subpq.Remaining() > 1 {
			sp2 = subpq.PeekNext()
		}
		if sp.Serial != sub.Packets.Serial() ||
			vpts > sp.PTS+sp.Subtitle.EndDisplay.Seconds() ||
			(sp2 != nil && vpts > sp2.PTS+sp2.Subtitle.StartDisplay.Seconds()) {
			subpq.Next()
			continue
		}
		break
	}
}

func (e *Engine) displayLocked(video *Stream) {
	if e.opts.Presenter == nil {
		return
	}
	vp := video.Frames.PeekLast()

	var sp *media.Frame
	if sub := e.stream(media.TypeSubtitle); sub != nil && sub.Frames.Remaining() > 0 {
		candidate := sub.Frames.Peek()
		if vp.PTS >= candidate.PTS+candidate.Subtitle.StartDisplay.Seconds() {
			sp = candidate
		}
	}

	if err := e.opts.Presenter.Present(vp, sp); err != nil {
		e.logger.Warn().Err(err).Str(xglog.FieldEvent, "avsync.present_failed").Msg("present failed")
		return
	}
	vp.Uploaded = true
	if sp != nil {
		sp.Uploaded = true
	}
	e.lastDisplayed++
}
