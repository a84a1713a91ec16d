// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package avsync

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/clock"
	"github.com/ManuGH/xg2g-player/internal/playback/frameq"
	"github.com/ManuGH/xg2g-player/internal/playback/packetq"
)

// Stream binds the queues of an open stream component to the engine.
type Stream struct {
	Packets *packetq.Queue
	Frames  *frameq.Queue
}

// Presenter shows the last scheduled picture with an optional subtitle.
type Presenter interface {
	Present(video *media.Frame, subtitle *media.Frame) error
}

// Options configure an Engine.
type Options struct {
	SyncType         SyncType
	FrameDrop        DropPolicy
	MaxFrameDuration float64
	// Realtime enables external clock speed control for live sources.
	Realtime   bool
	TimeSource clock.TimeSource
	Presenter  Presenter
	Logger     *zerolog.Logger
}

// Engine owns the clocks and the presentation state of one session.
//
// VideoRefresh, TogglePause and StepFrame belong to the render goroutine.
// SynchronizeAudio belongs to the audio callback. MasterClock, Stats and the
// stream bindings are safe from any goroutine.
type Engine struct {
	opts   Options
	ts     clock.TimeSource
	logger zerolog.Logger

	bindMu   sync.RWMutex
	video    *Stream
	audio    *Stream
	subtitle *Stream

	audclk *clock.Clock
	vidclk *clock.Clock
	extclk *clock.Clock

	mu                   sync.Mutex
	frameTimer           float64
	forceRefresh         bool
	paused               bool
	step                 bool
	pauseUnsupported     bool
	frameLastFilterDelay float64
	lastDisplayed        int64

	dropsEarly atomic.Int64
	dropsLate  atomic.Int64

	audioMu       sync.Mutex
	diffCum       float64
	diffAvgCoef   float64
	diffThreshold float64
	diffAvgCount  int
	srcFreq       int
}

// New returns an engine with invalid clocks and no bound streams.
func New(opts Options) *Engine {
	if opts.TimeSource == nil {
		opts.TimeSource = clock.SystemTime{}
	}
	if opts.MaxFrameDuration <= 0 {
		opts.MaxFrameDuration = DefaultMaxFrameDuration
	}
	logger := xglog.WithComponent("avsync")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	e := &Engine{
		opts:        opts,
		ts:          opts.TimeSource,
		logger:      logger,
		diffAvgCoef: math.Exp(math.Log(0.01) / AudioDiffAvgNB),
	}
	e.vidclk = clock.New(func() int { return e.serialOf(media.TypeVideo) }, e.ts)
	e.audclk = clock.New(func() int { return e.serialOf(media.TypeAudio) }, e.ts)
	e.extclk = clock.NewExternal(e.ts)
	return e
}

func (e *Engine) serialOf(t media.Type) int {
	s := e.stream(t)
	if s == nil || s.Packets == nil {
		return -1
	}
	return s.Packets.Serial()
}

func (e *Engine) stream(t media.Type) *Stream {
	e.bindMu.RLock()
	defer e.bindMu.RUnlock()
	switch t {
	case media.TypeVideo:
		return e.video
	case media.TypeAudio:
		return e.audio
	case media.TypeSubtitle:
		return e.subtitle
	}
	return nil
}

// Bind attaches (or with nil detaches) the queues of a stream component.
func (e *Engine) Bind(t media.Type, s *Stream) {
	e.bindMu.Lock()
	switch t {
	case media.TypeVideo:
		e.video = s
	case media.TypeAudio:
		e.audio = s
	case media.TypeSubtitle:
		e.subtitle = s
	}
	e.bindMu.Unlock()
}

// AudioClock returns the clock driven by the audio callback.
func (e *Engine) AudioClock() *clock.Clock { return e.audclk }

// VideoClock returns the clock driven by the video scheduler.
func (e *Engine) VideoClock() *clock.Clock { return e.vidclk }

// ExternalClock returns the free-running external clock.
func (e *Engine) ExternalClock() *clock.Clock { return e.extclk }

// Clock returns the clock of a media type; subtitles follow the external
// clock.
func (e *Engine) Clock(t media.Type) *clock.Clock {
	switch t {
	case media.TypeVideo:
		return e.vidclk
	case media.TypeAudio:
		return e.audclk
	default:
		return e.extclk
	}
}

// MasterSyncType resolves the configured preference against the bound
// streams.
func (e *Engine) MasterSyncType() SyncType {
	e.bindMu.RLock()
	hasVideo, hasAudio := e.video != nil, e.audio != nil
	e.bindMu.RUnlock()
	return MasterSyncType(e.opts.SyncType, hasVideo, hasAudio)
}

// MasterClock returns the current value of the master clock, NaN when it is
// not yet valid.
func (e *Engine) MasterClock() float64 {
	switch e.MasterSyncType() {
	case VideoMaster:
		return e.vidclk.Get()
	case AudioMaster:
		return e.audclk.Get()
	default:
		return e.extclk.Get()
	}
}

// MaxFrameDuration returns the largest pts gap treated as continuous.
func (e *Engine) MaxFrameDuration() float64 { return e.opts.MaxFrameDuration }

// ComputeTargetDelay adjusts the nominal frame delay when video is slaved to
// another clock.
func (e *Engine) ComputeTargetDelay(delay float64) float64 {
	if e.MasterSyncType() == VideoMaster {
		return delay
	}
	out := TargetDelay(delay, e.vidclk.Get(), e.MasterClock(), e.opts.MaxFrameDuration)
	if e.logger.GetLevel() <= zerolog.TraceLevel {
		e.logger.Trace().
			Float64(xglog.FieldDelay, out).
			Float64(xglog.FieldAVDiff, e.vidclk.Get()-e.MasterClock()).
			Msg("video target delay")
	}
	return out
}

// SetPauseUnsupported records that the demuxer cannot pause, so resuming
// restarts the video clock from its frozen value.
func (e *Engine) SetPauseUnsupported(v bool) {
	e.mu.Lock()
	e.pauseUnsupported = v
	e.mu.Unlock()
}

// Paused reports the presentation pause state.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Stepping reports whether a single-frame step is pending.
func (e *Engine) Stepping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

// ForceRefresh requests a redisplay on the next refresh cycle.
func (e *Engine) ForceRefresh() {
	e.mu.Lock()
	e.forceRefresh = true
	e.mu.Unlock()
}

func (e *Engine) togglePauseLocked() {
	if e.paused {
		now := e.ts.Now()
		e.frameTimer += now - e.vidclk.LastUpdated()
		if !e.pauseUnsupported {
			e.vidclk.SetPaused(false)
		}
		e.vidclk.Resync()
	}
	e.extclk.Resync()
	e.paused = !e.paused
	e.audclk.SetPaused(e.paused)
	e.vidclk.SetPaused(e.paused)
	e.extclk.SetPaused(e.paused)
}

// TogglePause flips the pause state and cancels a pending step.
func (e *Engine) TogglePause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.togglePauseLocked()
	e.step = false
	return e.paused
}

// StepFrame resumes playback for exactly one frame.
func (e *Engine) StepFrame() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.togglePauseLocked()
	}
	e.step = true
}

// CheckExternalClockSpeed nudges the external clock speed by the fill level
// of the packet queues: slower when a queue runs low, faster when all are
// well filled, back towards 1.0 otherwise.
func (e *Engine) CheckExternalClockSpeed() {
	video, audio := e.stream(media.TypeVideo), e.stream(media.TypeAudio)
	vlen, alen := -1, -1
	if video != nil {
		vlen = video.Packets.Len()
	}
	if audio != nil {
		alen = audio.Packets.Len()
	}

	speed := e.extclk.Speed()
	switch {
	case (video != nil && vlen <= ExternalClockMinFrames) || (audio != nil && alen <= ExternalClockMinFrames):
		e.extclk.SetSpeed(math.Max(ExternalClockSpeedMin, speed-ExternalClockSpeedStep))
	case (video == nil || vlen > ExternalClockMaxFrames) && (audio == nil || alen > ExternalClockMaxFrames):
		e.extclk.SetSpeed(math.Min(ExternalClockSpeedMax, speed+ExternalClockSpeedStep))
	default:
		if speed != 1.0 {
			e.extclk.SetSpeed(speed + ExternalClockSpeedStep*(1.0-speed)/math.Abs(1.0-speed))
		}
	}
}

// ShouldDropEarly decides in the video decoder whether a freshly decoded
// frame is already late against the master clock and can be skipped before
// it reaches the frame queue.
func (e *Engine) ShouldDropEarly(pts float64, pktSerial int) bool {
	if !e.opts.FrameDrop.Allows(e.MasterSyncType()) || math.IsNaN(pts) {
		return false
	}
	video := e.stream(media.TypeVideo)
	if video == nil {
		return false
	}
	diff := pts - e.MasterClock()
	if math.IsNaN(diff) || math.Abs(diff) >= NoSyncThreshold {
		return false
	}
	e.mu.Lock()
	filterDelay := e.frameLastFilterDelay
	e.mu.Unlock()
	if diff-filterDelay < 0 && pktSerial == e.vidclk.Serial() && video.Packets.Len() > 0 {
		e.dropsEarly.Add(1)
		return true
	}
	return false
}

// Stats is a snapshot of the engine state.
type Stats struct {
	Master      SyncType
	MasterClock float64
	AudioClock  float64
	VideoClock  float64
	AVDiff      float64
	FrameTimer  float64
	ExtSpeed    float64
	DropsEarly  int64
	DropsLate   int64
	Displayed   int64
	Paused      bool
	Stepping    bool
}

// Stats returns a snapshot safe to call from any goroutine.
func (e *Engine) Stats() Stats {
	a, v := e.audclk.Get(), e.vidclk.Get()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Master:      e.MasterSyncType(),
		MasterClock: e.MasterClock(),
		AudioClock:  a,
		VideoClock:  v,
		AVDiff:      a - v,
		FrameTimer:  e.frameTimer,
		ExtSpeed:    e.extclk.Speed(),
		DropsEarly:  e.dropsEarly.Load(),
		DropsLate:   e.dropsLate.Load(),
		Displayed:   e.lastDisplayed,
		Paused:      e.paused,
		Stepping:    e.step,
	}
}
