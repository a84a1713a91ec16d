// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session wires a demuxer, per-stream decoders, the synchronization
// engine and the output devices into one playback session.
//
// A session runs two goroutines of its own: the reader, which demuxes
// packets into the per-stream queues and executes seeks, and the render
// loop, which drives video refresh and serializes all control commands.
// Every open stream adds one decode goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/metrics"
	"github.com/ManuGH/xg2g-player/internal/playback/avsync"
	"github.com/ManuGH/xg2g-player/internal/playback/clock"
	"github.com/ManuGH/xg2g-player/internal/playback/decoder"
	"github.com/ManuGH/xg2g-player/internal/playback/watchdog"
	"github.com/ManuGH/xg2g-player/internal/resilience"
	"github.com/ManuGH/xg2g-player/internal/resume"
	"github.com/ManuGH/xg2g-player/internal/telemetry"
)

const (
	// MaxQueueBytes bounds the packets buffered across all streams.
	MaxQueueBytes = 15 * 1024 * 1024
	// MinFrames is the packet count a stream needs before the reader may
	// pause.
	MinFrames = 25
	// readWait is how long the reader sleeps when it has nothing to do.
	readWait = 10 * time.Millisecond
)

var (
	// ErrNoStreams is returned by Run when neither audio nor video could be
	// opened.
	ErrNoStreams = errors.New("session: no audio or video stream could be opened")
	// ErrClosed is returned by control operations after the session ended.
	ErrClosed = errors.New("session: closed")
	// ErrNoAudio is returned by volume operations without an audio stream.
	ErrNoAudio = errors.New("session: no audio stream open")
	// ErrRunning is returned when Run is called twice.
	ErrRunning = errors.New("session: already running")

	errAutoExit = errors.New("session: playback finished")
)

// Options configure playback behaviour.
type Options struct {
	Input     string
	SyncType  avsync.SyncType
	FrameDrop avsync.DropPolicy
	Reorder   decoder.ReorderMode

	// Wanted maps a media type to a stream index; a missing or negative
	// entry picks the first stream of the type.
	Wanted          map[media.Type]int
	DisableVideo    bool
	DisableAudio    bool
	DisableSubtitle bool

	// StartTime seeks there on open; Duration limits the played range.
	StartTime time.Duration
	Duration  time.Duration
	// Loop is the number of plays, 0 loops forever.
	Loop     int
	AutoExit bool
	// Volume is the startup volume in percent.
	Volume int
	// SeekByBytes and InfiniteBuffer use -1 for auto.
	SeekByBytes    int
	InfiniteBuffer int

	ShowStatus     bool
	StatusInterval time.Duration
	// StallTimeout stops a session that shows and plays nothing for this
	// long while not paused or at the end; zero disables the watchdog.
	StallTimeout time.Duration

	RetryInitial     time.Duration
	RetryMaxElapsed  time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Resume saves and restores the position of Input.
	Resume bool
}

// Deps are the collaborators a session drives.
type Deps struct {
	Demuxer  media.Demuxer
	Decoders media.DecoderFactory
	Renderer media.Renderer
	// AudioSink is optional; without it no audio stream is opened.
	AudioSink  media.AudioSink
	Resume     resume.Store
	TimeSource clock.TimeSource
	Logger     *zerolog.Logger
}

// Session is one playback of one input.
type Session struct {
	id      string
	opts    Options
	deps    Deps
	logger  zerolog.Logger
	engine  *avsync.Engine
	breaker *resilience.Breaker

	info    media.SourceInfo
	streams []media.StreamInfo

	seekByBytes    bool
	infiniteBuffer bool

	compMu     sync.RWMutex
	comps      map[media.Type]component
	lastStream map[media.Type]int
	streamCtx  context.Context

	seekMu   sync.Mutex
	seek     *seekRequest
	lastSeek atomic.Int64 // last time-based target handed to the demuxer, microseconds
	lastPos  atomic.Int64

	continueRead   chan struct{}
	attachmentsReq atomic.Bool
	eof            atomic.Bool
	finished       atomic.Bool
	seeks          atomic.Int64

	cmds chan func() error

	volume atomic.Int32
	muted  atomic.Bool

	// afterSeek observes every executed seek; tests only.
	afterSeek func(seekResult)

	running   atomic.Bool
	cancelMu  sync.Mutex
	cancel    context.CancelFunc
	closing   bool
	closeOnce sync.Once
	stopped   chan struct{}
	done      chan struct{}
}

// New validates the dependencies and prepares a session for deps.Demuxer.
// Streams are opened by Run.
func New(opts Options, deps Deps) (*Session, error) {
	if deps.Demuxer == nil || deps.Decoders == nil || deps.Renderer == nil {
		return nil, fmt.Errorf("session: demuxer, decoders and renderer are required")
	}
	if deps.TimeSource == nil {
		deps.TimeSource = clock.SystemTime{}
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 10 * time.Millisecond
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = 5 * time.Second
	}

	id := uuid.NewString()
	base := xglog.WithComponent("session")
	if deps.Logger != nil {
		base = *deps.Logger
	}
	logger := base.With().
		Str(xglog.FieldSessionID, id).
		Str(xglog.FieldInput, opts.Input).
		Logger()

	info := deps.Demuxer.Info()
	s := &Session{
		id:           id,
		opts:         opts,
		deps:         deps,
		logger:       logger,
		info:         info,
		streams:      deps.Demuxer.Streams(),
		comps:        make(map[media.Type]component, 3),
		lastStream:   map[media.Type]int{media.TypeVideo: -1, media.TypeAudio: -1, media.TypeSubtitle: -1},
		continueRead: make(chan struct{}, 1),
		cmds:         make(chan func() error, 16),
		stopped:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.lastPos.Store(-1)
	s.volume.Store(int32(opts.Volume))

	engineLogger := logger.With().Str(xglog.FieldComponent, "avsync").Logger()
	s.engine = avsync.New(avsync.Options{
		SyncType:         opts.SyncType,
		FrameDrop:        opts.FrameDrop,
		MaxFrameDuration: info.MaxFrameDuration(),
		Realtime:         info.Realtime,
		TimeSource:       deps.TimeSource,
		Presenter:        deps.Renderer,
		Logger:           &engineLogger,
	})

	s.seekByBytes = opts.SeekByBytes > 0 || (opts.SeekByBytes < 0 && info.TSDiscontinuous && info.ByteSeekable)
	s.infiniteBuffer = opts.InfiniteBuffer > 0 || (opts.InfiniteBuffer < 0 && info.Realtime)

	breakerLogger := logger.With().Str(xglog.FieldComponent, "demux").Logger()
	s.breaker = resilience.New("demux", opts.BreakerThreshold, opts.BreakerCooldown, resilience.WithLogger(breakerLogger))
	return s, nil
}

// ID returns the session id used in logs and spans.
func (s *Session) ID() string { return s.id }

// Engine exposes the synchronization engine, mainly for diagnostics.
func (s *Session) Engine() *avsync.Engine { return s.engine }

// Info describes the opened input.
func (s *Session) Info() media.SourceInfo { return s.info }

// Run opens the streams and plays until ctx ends, Close is called, playback
// finishes with auto-exit or a fatal error occurs. The position is saved for
// resume before Run returns.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(s.done)

	ctx = xglog.ContextWithInput(xglog.ContextWithSessionID(ctx, s.id), s.opts.Input)
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	if s.closing {
		cancel()
	}
	s.cancelMu.Unlock()
	defer cancel()

	metrics.IncActiveSessions()
	defer metrics.DecActiveSessions()

	ctx, span := telemetry.StartSpan(runCtx, "session.run")
	defer func() { telemetry.EndSpan(span, err) }()

	eg, egCtx := errgroup.WithContext(ctx)
	s.compMu.Lock()
	s.streamCtx = egCtx
	s.compMu.Unlock()

	if err := s.open(egCtx); err != nil {
		close(s.stopped)
		s.shutdown(ctx)
		return err
	}
	span.SetAttributes(telemetry.SessionAttributes(s.id, s.opts.Input, s.engine.MasterSyncType().String())...)

	eg.Go(func() error { return s.readLoop(egCtx) })
	if s.opts.StallTimeout > 0 {
		wd := watchdog.New(2*s.opts.StallTimeout, s.opts.StallTimeout, s.progress)
		eg.Go(func() error {
			if err := wd.Run(egCtx); err != nil {
				metrics.RecordStall()
				return err
			}
			return nil
		})
	}
	eg.Go(func() error {
		defer close(s.stopped)
		return s.renderLoop(egCtx)
	})
	err = eg.Wait()
	s.shutdown(ctx)

	switch {
	case errors.Is(err, errAutoExit):
		s.logger.Info().Str(xglog.FieldEvent, "session.finished").Msg("playback finished")
		return nil
	case err == nil || errors.Is(err, context.Canceled):
		s.logger.Info().Str(xglog.FieldEvent, "session.stopped").Msg("playback stopped")
		return nil
	default:
		s.logger.Error().Err(err).Str(xglog.FieldEvent, "session.failed").Msg("playback failed")
		return err
	}
}

// Close stops a running session and waits for Run to return. A session that
// never ran only releases its demuxer.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancelMu.Lock()
		s.closing = true
		cancel := s.cancel
		s.cancelMu.Unlock()

		if s.running.CompareAndSwap(false, true) {
			close(s.stopped)
			close(s.done)
			if err := s.deps.Demuxer.Close(); err != nil {
				s.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.demuxer_close_failed").Msg("closing demuxer failed")
			}
			return
		}
		if cancel != nil {
			cancel()
		}
	})
	<-s.done
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// shutdown closes every component, persists the position and releases the
// demuxer.
func (s *Session) shutdown(ctx context.Context) {
	s.saveResume(context.WithoutCancel(ctx))

	for _, t := range []media.Type{media.TypeAudio, media.TypeVideo, media.TypeSubtitle} {
		s.compMu.RLock()
		c := s.comps[t]
		s.compMu.RUnlock()
		if c != nil {
			s.closeComponent(c)
		}
	}
	if err := s.deps.Demuxer.Close(); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.demuxer_close_failed").Msg("closing demuxer failed")
	}
}

// progress feeds the stall watchdog: frames shown plus audio frames played.
func (s *Session) progress() (int64, bool) {
	n := s.engine.Stats().Displayed
	if out := s.audioOutput(); out != nil {
		n += out.Played()
	}
	return n, s.engine.Paused() || s.eof.Load()
}

// component returns the open component of a media type, nil if none.
func (s *Session) component(t media.Type) component {
	s.compMu.RLock()
	defer s.compMu.RUnlock()
	return s.comps[t]
}

// components returns the open components in open order.
func (s *Session) components() []component {
	s.compMu.RLock()
	defer s.compMu.RUnlock()
	out := make([]component, 0, len(s.comps))
	for _, t := range media.Types {
		if c := s.comps[t]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// componentByIndex returns the open component reading stream index.
func (s *Session) componentByIndex(index int) component {
	s.compMu.RLock()
	defer s.compMu.RUnlock()
	for _, c := range s.comps {
		if c.Index() == index {
			return c
		}
	}
	return nil
}

// wakeReader interrupts the reader's backpressure wait.
func (s *Session) wakeReader() {
	select {
	case s.continueRead <- struct{}{}:
	default:
	}
}

// MasterClock returns the master clock in seconds, NaN when unknown. Safe from
// any goroutine.
func (s *Session) MasterClock() float64 {
	return s.engine.MasterClock()
}

// StreamState describes one open stream.
type StreamState struct {
	Index   int     `json:"index"`
	Type    string  `json:"type"`
	Codec   string  `json:"codec"`
	Serial  int     `json:"serial"`
	Packets int     `json:"packets"`
	Bytes   int     `json:"bytes"`
	Frames  int     `json:"frames"`
	Clock   float64 `json:"clock"`
}

// Snapshot is a consistent-enough view of a session for status reporting.
type Snapshot struct {
	SessionID   string        `json:"session_id"`
	Input       string        `json:"input"`
	Master      string        `json:"master"`
	MasterClock float64       `json:"master_clock"`
	AVDiff      float64       `json:"av_diff"`
	ExtSpeed    float64       `json:"ext_speed"`
	Paused      bool          `json:"paused"`
	Stepping    bool          `json:"stepping"`
	EOF         bool          `json:"eof"`
	SeekByBytes bool          `json:"seek_by_bytes"`
	Seeks       int64         `json:"seeks"`
	DropsEarly  int64         `json:"drops_early"`
	DropsLate   int64         `json:"drops_late"`
	Displayed   int64         `json:"displayed"`
	Volume      int           `json:"volume"`
	Muted       bool          `json:"muted"`
	Underruns   int64         `json:"underruns"`
	Duration    time.Duration `json:"duration"`
	Streams     []StreamState `json:"streams"`
	// Stopped is set once Run has returned.
	Stopped      bool   `json:"stopped"`
	DemuxBreaker string `json:"demux_breaker"`
}

// Snapshot reports the session state. Safe from any goroutine. NaN clocks are
// reported as -1 so the snapshot stays JSON encodable.
func (s *Session) Snapshot() Snapshot {
	st := s.engine.Stats()
	snap := Snapshot{
		SessionID:   s.id,
		Input:       s.opts.Input,
		Master:      st.Master.String(),
		MasterClock: finite(st.MasterClock),
		AVDiff:      finite(st.AVDiff),
		ExtSpeed:    st.ExtSpeed,
		Paused:      st.Paused,
		Stepping:    st.Stepping,
		EOF:         s.eof.Load(),
		SeekByBytes: s.seekByBytes,
		Seeks:       s.seeks.Load(),
		DropsEarly:  st.DropsEarly,
		DropsLate:   st.DropsLate,
		Displayed:   st.Displayed,
		Volume:      int(s.volume.Load()),
		Muted:       s.muted.Load(),
		Duration:    s.info.Duration,

		DemuxBreaker: string(s.breaker.State()),
	}
	select {
	case <-s.done:
		snap.Stopped = true
	default:
	}
	for _, c := range s.components() {
		t := c.track()
		ps := t.pq.Stats()
		snap.Streams = append(snap.Streams, StreamState{
			Index:   t.info.Index,
			Type:    t.info.Type.String(),
			Codec:   t.info.Codec,
			Serial:  ps.Serial,
			Packets: ps.Packets,
			Bytes:   ps.Bytes,
			Frames:  t.fq.Remaining(),
			Clock:   finite(c.Clock().Get()),
		})
		if a, ok := c.(*audioComponent); ok && a.out != nil {
			snap.Underruns = a.out.Underruns()
		}
	}
	return snap
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return -1
	}
	return v
}
