// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/metrics"
	"github.com/ManuGH/xg2g-player/internal/resilience"
	"github.com/ManuGH/xg2g-player/internal/resume"
	"github.com/ManuGH/xg2g-player/internal/telemetry"
)

// seekRequest is a pending seek. Target and Rel are microseconds, or bytes
// for byte seeks.
type seekRequest struct {
	target  int64
	rel     int64
	byBytes bool
	mode    string
}

// seekResult is reported to afterSeek once a seek was executed.
type seekResult struct {
	req                  seekRequest
	err                  error
	serials              map[media.Type]int
	attachmentsRequested bool
}

// open positions the input and opens the selected streams.
func (s *Session) open(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.open",
		trace.WithAttributes(telemetry.SessionAttributes(s.id, s.opts.Input, "")...))
	defer func() { telemetry.EndSpan(span, err) }()

	start := s.opts.StartTime
	if start == 0 {
		start = s.resumePosition(ctx)
	}
	if start > 0 {
		target := (start + s.info.StartTime).Microseconds()
		req := media.SeekRequest{Target: target, Min: math.MinInt64, Max: math.MaxInt64}
		if err := s.deps.Demuxer.Seek(ctx, req); err != nil {
			s.logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "session.start_seek_failed").
				Dur("position", start).
				Msg("could not seek to start position")
		}
	}

	selected := s.selectStreams()
	opened := 0
	for _, t := range media.Types {
		index, ok := selected[t]
		if !ok {
			continue
		}
		if err := s.openStream(index); err != nil {
			continue
		}
		span.SetAttributes(telemetry.StreamAttributes(index, t.String(), s.streams[index].Codec)...)
		if t != media.TypeSubtitle {
			opened++
		}
	}
	if opened == 0 {
		return fmt.Errorf("%w: %s", ErrNoStreams, s.opts.Input)
	}

	s.logger.Info().
		Str(xglog.FieldEvent, "session.opened").
		Str(xglog.FieldSyncType, s.engine.MasterSyncType().String()).
		Bool("realtime", s.info.Realtime).
		Bool("infinite_buffer", s.infiniteBuffer).
		Bool("seek_by_bytes", s.seekByBytes).
		Dur("duration", s.info.Duration).
		Msg("input opened")
	return nil
}

// selectStreams picks the stream index per media type: the wanted index when
// it matches, otherwise the first usable stream of the type. Subtitles are
// only selected alongside video.
func (s *Session) selectStreams() map[media.Type]int {
	disabled := map[media.Type]bool{
		media.TypeVideo:    s.opts.DisableVideo,
		media.TypeAudio:    s.opts.DisableAudio || s.deps.AudioSink == nil,
		media.TypeSubtitle: s.opts.DisableVideo || s.opts.DisableSubtitle,
	}
	out := make(map[media.Type]int, 3)
	for _, t := range media.Types {
		if disabled[t] {
			continue
		}
		want, hasWant := s.opts.Wanted[t]
		if hasWant && want >= 0 {
			if want < len(s.streams) && s.streams[want].Type == t {
				out[t] = want
			} else {
				s.logger.Error().
					Str(xglog.FieldEvent, "session.stream_not_found").
					Int(xglog.FieldStreamIndex, want).
					Str(xglog.FieldMediaType, t.String()).
					Msg("wanted stream does not match any stream of that type")
			}
			continue
		}
		for _, st := range s.streams {
			if st.Type == t && usable(st) {
				out[t] = st.Index
				break
			}
		}
	}
	return out
}

func usable(st media.StreamInfo) bool {
	if st.Type == media.TypeAudio {
		return st.SampleRate > 0 && st.Channels > 0
	}
	return true
}

// requestSeek records a seek for the reader. A seek already pending wins.
func (s *Session) requestSeek(target, rel int64, byBytes bool, mode string) bool {
	s.seekMu.Lock()
	if s.seek != nil {
		s.seekMu.Unlock()
		s.logger.Debug().Str(xglog.FieldEvent, "session.seek_ignored").Msg("seek already pending")
		return false
	}
	s.seek = &seekRequest{target: target, rel: rel, byBytes: byBytes, mode: mode}
	s.seekMu.Unlock()
	s.wakeReader()
	return true
}

func (s *Session) takeSeek() *seekRequest {
	s.seekMu.Lock()
	defer s.seekMu.Unlock()
	req := s.seek
	s.seek = nil
	return req
}

// readLoop demuxes packets into the stream queues until ctx ends.
func (s *Session) readLoop(ctx context.Context) error {
	lastPaused := false
	var pauseErr error
	loops := s.opts.Loop

	for {
		if ctx.Err() != nil {
			return nil
		}

		if paused := s.engine.Paused(); paused != lastPaused {
			lastPaused = paused
			if paused {
				pauseErr = s.deps.Demuxer.Pause()
				s.engine.SetPauseUnsupported(errors.Is(pauseErr, media.ErrNotSupported))
			} else if err := s.deps.Demuxer.Play(); err != nil && !errors.Is(err, media.ErrNotSupported) {
				s.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.play_failed").Msg("resuming input failed")
			}
		}
		if lastPaused && s.info.Realtime && pauseErr == nil {
			// A paused live source has nothing to read.
			s.waitRead(ctx)
			continue
		}

		if req := s.takeSeek(); req != nil {
			s.executeSeek(ctx, *req)
		}

		if s.attachmentsReq.Swap(false) {
			s.queueAttachments()
		}

		if !s.infiniteBuffer && s.enoughBuffered() {
			s.waitRead(ctx)
			continue
		}

		if !s.engine.Paused() && s.playbackDrained() {
			if loops == 0 || loops > 1 {
				if loops > 1 {
					loops--
				}
				s.requestSeek(s.opts.StartTime.Microseconds()+s.info.StartTime.Microseconds(), 0, false, "loop")
			} else if s.opts.AutoExit {
				s.finished.Store(true)
				return errAutoExit
			}
		}

		pkt, err := s.readPacket(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, resilience.ErrCircuitOpen):
				return err
			case errors.Is(err, media.ErrEndOfStream), media.IsTransient(err):
				if errors.Is(err, media.ErrEndOfStream) && !s.eof.Load() {
					s.queueEndOfStream()
					s.eof.Store(true)
				}
				s.waitRead(ctx)
				continue
			default:
				return err
			}
		}
		s.eof.Store(false)
		if pkt.Pos >= 0 {
			s.lastPos.Store(pkt.Pos)
		}
		s.route(pkt)
	}
}

// readPacket reads one packet, retrying transient errors with exponential
// backoff. Exhausted retries count against the demux circuit breaker; an
// open breaker is fatal for the session.
func (s *Session) readPacket(ctx context.Context) (media.Packet, error) {
	if err := s.breaker.Allow(); err != nil {
		metrics.RecordDemuxError("fatal")
		return media.Packet{}, fmt.Errorf("session: demuxer keeps failing: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	b.MaxInterval = max(s.opts.RetryInitial, time.Second)

	pkt, err := backoff.Retry(ctx, func() (media.Packet, error) {
		pkt, err := s.deps.Demuxer.ReadPacket(ctx)
		switch {
		case err == nil:
			return pkt, nil
		case media.IsTransient(err):
			metrics.RecordDemuxError("transient")
			return pkt, err
		default:
			return pkt, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(s.opts.RetryMaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug().Err(err).Str(xglog.FieldEvent, "session.read_retry").Dur("backoff", next).Msg("retrying read")
		}),
	)

	switch {
	case err == nil, errors.Is(err, media.ErrEndOfStream):
		s.breaker.Record(nil)
	case ctx.Err() != nil:
		s.breaker.Record(nil)
	case media.IsTransient(err):
		s.breaker.Record(err)
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.read_stalled").Msg("input stalled")
		if s.breaker.State() == resilience.StateOpen {
			metrics.RecordDemuxError("fatal")
			return media.Packet{}, fmt.Errorf("session: demuxer keeps failing: %w: %w", resilience.ErrCircuitOpen, err)
		}
	default:
		s.breaker.Record(nil)
		metrics.RecordDemuxError("io")
		return media.Packet{}, fmt.Errorf("session: read packet: %w", err)
	}
	return pkt, err
}

// waitRead sleeps for readWait unless a consumer or a control operation
// wakes the reader first.
func (s *Session) waitRead(ctx context.Context) {
	timer := time.NewTimer(readWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.continueRead:
	case <-timer.C:
	}
}

// executeSeek repositions the demuxer and starts a new serial on every open
// queue.
func (s *Session) executeSeek(ctx context.Context, req seekRequest) {
	ctx, span := telemetry.StartSpan(ctx, "session.seek",
		trace.WithAttributes(telemetry.SeekAttributes(req.mode, req.target, req.byBytes)...))

	sr := media.SeekRequest{Target: req.target, Min: math.MinInt64, Max: math.MaxInt64, ByBytes: req.byBytes}
	// The +-2 absorbs rounding in the relative seek computation.
	if req.rel > 0 {
		sr.Min = req.target - req.rel + 2
	}
	if req.rel < 0 {
		sr.Max = req.target - req.rel - 2
	}

	err := s.deps.Demuxer.Seek(ctx, sr)
	if !req.byBytes {
		s.lastSeek.Store(req.target)
	}
	result := "ok"
	serials := make(map[media.Type]int, 3)
	if err != nil {
		result = "error"
		s.logger.Error().Err(err).Str(xglog.FieldEvent, "session.seek_failed").Int64("target", req.target).Msg("error while seeking")
	} else {
		for _, c := range s.components() {
			t := c.track()
			serials[c.Type()] = t.pq.Flush()
			if perr := t.pq.PutFlushMarker(); perr != nil {
				s.logger.Debug().Err(perr).Str(xglog.FieldEvent, "session.flush_marker_failed").Msg("queue aborted during seek")
			}
			metrics.RecordQueueFlush(c.Type().String())
		}
		ext := s.engine.ExternalClock()
		if req.byBytes {
			ext.Set(math.NaN(), 0)
		} else {
			ext.Set(float64(req.target)/1e6, 0)
		}
		s.seeks.Add(1)
	}
	metrics.RecordSeek(req.mode, result)
	telemetry.EndSpan(span, err)

	s.attachmentsReq.Store(true)
	s.eof.Store(false)
	if s.engine.Paused() {
		s.engine.StepFrame()
	}

	s.logger.Debug().
		Str(xglog.FieldEvent, "session.seek").
		Str("mode", req.mode).
		Int64("target", req.target).
		Bool("by_bytes", req.byBytes).
		Str("result", result).
		Msg("seek executed")

	if s.afterSeek != nil {
		s.afterSeek(seekResult{req: req, err: err, serials: serials, attachmentsRequested: s.attachmentsReq.Load()})
	}
}

// queueAttachments queues the attached picture of a cover-art video stream
// followed by an end-of-stream marker so it is decoded exactly once.
func (s *Session) queueAttachments() {
	c := s.component(media.TypeVideo)
	if c == nil {
		return
	}
	t := c.track()
	pic := t.info.AttachedPicture
	if pic == nil {
		return
	}
	if err := t.pq.Put(pic.Clone()); err != nil {
		return
	}
	_ = t.pq.PutEndOfStream(t.info.Index)
}

// enoughBuffered reports whether the reader should pause: the queues hold
// more than MaxQueueBytes, or every open stream has enough packets.
func (s *Session) enoughBuffered() bool {
	comps := s.components()
	size := 0
	enough := true
	for _, c := range comps {
		size += c.track().pq.Size()
		if !c.HasEnoughPackets() {
			enough = false
		}
	}
	return size > MaxQueueBytes || enough
}

// playbackDrained reports whether audio and video decoded and presented
// everything of the current segment.
func (s *Session) playbackDrained() bool {
	for _, t := range []media.Type{media.TypeAudio, media.TypeVideo} {
		if c := s.component(t); c != nil && !c.track().drained() {
			return false
		}
	}
	return true
}

// queueEndOfStream lets every decoder drain its buffered frames.
func (s *Session) queueEndOfStream() {
	for _, c := range s.components() {
		_ = c.track().pq.PutEndOfStream(c.Index())
	}
	s.logger.Debug().Str(xglog.FieldEvent, "session.eof").Msg("end of input reached")
}

// route hands pkt to the queue of its stream when it lies in the play range.
func (s *Session) route(pkt media.Packet) {
	c := s.componentByIndex(pkt.StreamIndex)
	if c == nil {
		return
	}
	t := c.track()
	if t.info.AttachedPicture != nil || !s.inPlayRange(t.info, pkt) {
		return
	}
	_ = t.pq.Put(pkt)
}

// inPlayRange checks pkt against the configured start time and duration.
func (s *Session) inPlayRange(info media.StreamInfo, pkt media.Packet) bool {
	if s.opts.Duration <= 0 {
		return true
	}
	ts := pkt.TS()
	if ts == media.NoPTS {
		return true
	}
	start := info.StartTime
	if start == media.NoPTS {
		start = 0
	}
	pos := float64(ts-start)*info.TimeBase.Float() - s.opts.StartTime.Seconds()
	return pos <= s.opts.Duration.Seconds()
}

// resumePosition returns the stored start position for the input.
func (s *Session) resumePosition(ctx context.Context) time.Duration {
	if !s.opts.Resume || s.deps.Resume == nil {
		return 0
	}
	p, err := s.deps.Resume.Get(ctx, s.opts.Input)
	if err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.resume_load_failed").Msg("loading resume position failed")
		return 0
	}
	start := resume.StartPosition(p)
	if start > 0 {
		s.logger.Info().Str(xglog.FieldEvent, "session.resume").Dur("position", start).Msg("resuming playback")
	}
	return start
}

// saveResume stores the current position for the input.
func (s *Session) saveResume(ctx context.Context) {
	if !s.opts.Resume || s.deps.Resume == nil {
		return
	}
	master := s.engine.MasterClock()
	if math.IsNaN(master) {
		return
	}
	pos := time.Duration((master - s.info.StartTime.Seconds()) * float64(time.Second))
	p := &resume.Position{
		Input:     s.opts.Input,
		Position:  max(pos, 0),
		Duration:  s.info.Duration,
		Finished:  s.finished.Load(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.deps.Resume.Put(ctx, p); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.resume_save_failed").Msg("saving resume position failed")
		return
	}
	s.logger.Debug().Str(xglog.FieldEvent, "session.resume_saved").Dur("position", p.Position).Msg("resume position saved")
}
