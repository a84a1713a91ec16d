// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/media/synthetic"
	"github.com/ManuGH/xg2g-player/internal/playback/avsync"
	"github.com/ManuGH/xg2g-player/internal/playback/decoder"
	"github.com/ManuGH/xg2g-player/internal/playback/frameq"
	"github.com/ManuGH/xg2g-player/internal/playback/watchdog"
	"github.com/ManuGH/xg2g-player/internal/resilience"
	"github.com/ManuGH/xg2g-player/internal/resume"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func baseOptions() Options {
	return Options{
		Input:          "synthetic://test",
		SyncType:       avsync.AudioMaster,
		FrameDrop:      avsync.DropAuto,
		Reorder:        decoder.ReorderAuto,
		Loop:           1,
		Volume:         100,
		SeekByBytes:    -1,
		InfiniteBuffer: -1,
		StatusInterval: time.Second,
	}
}

type harness struct {
	s        *Session
	renderer *synthetic.Renderer
	sink     *synthetic.ManualSink
	errc     chan error
}

func newHarness(t *testing.T, cfg synthetic.Config, opts Options, deps Deps) *harness {
	t.Helper()
	h := &harness{renderer: &synthetic.Renderer{}, sink: &synthetic.ManualSink{}}
	deps.Demuxer = synthetic.New(cfg, opts.Input)
	deps.Decoders = synthetic.Decoders{}
	deps.Renderer = h.renderer
	if cfg.Audio {
		deps.AudioSink = h.sink
	}
	s, err := New(opts, deps)
	require.NoError(t, err)
	h.s = s
	t.Cleanup(s.Close)
	return h
}

func (h *harness) start(ctx context.Context) {
	h.errc = make(chan error, 1)
	go func() { h.errc <- h.s.Run(ctx) }()
}

func (h *harness) wait(t *testing.T, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(timeout):
		t.Fatal("session did not finish in time")
		return nil
	}
}

func (h *harness) serials() map[string]int {
	out := map[string]int{}
	for _, st := range h.s.Snapshot().Streams {
		out[st.Type] = st.Serial
	}
	return out
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(baseOptions(), Deps{})
	require.Error(t, err)
}

func TestSession_SeekFlushesEveryQueue(t *testing.T) {
	cfg := synthetic.Config{Duration: 30 * time.Second, Video: true, Audio: true, Subtitle: true}
	h := newHarness(t, cfg, baseOptions(), Deps{})

	results := make(chan seekResult, 4)
	h.s.afterSeek = func(r seekResult) { results <- r }
	h.start(context.Background())

	require.Eventually(t, func() bool { return h.renderer.Count() >= 3 }, 5*time.Second, 5*time.Millisecond)
	before := h.serials()
	require.Len(t, before, 3)

	paused, err := h.s.TogglePause()
	require.NoError(t, err)
	require.True(t, paused)
	shown := h.renderer.Count()

	require.NoError(t, h.s.Seek((10*time.Second).Microseconds(), 0, false))

	var res seekResult
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("seek was not executed")
	}
	require.NoError(t, res.err)
	assert.True(t, res.attachmentsRequested)
	for _, typ := range []media.Type{media.TypeVideo, media.TypeAudio, media.TypeSubtitle} {
		assert.Greater(t, res.serials[typ], before[typ.String()], "serial of %s", typ)
	}

	// Seeking while paused steps exactly one frame of the new segment.
	require.Eventually(t, func() bool { return h.renderer.Count() > shown }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.s.Engine().Paused() }, 5*time.Second, 5*time.Millisecond)

	after := h.renderer.Presented()[shown:]
	require.NotEmpty(t, after)
	for _, p := range after {
		assert.Equal(t, res.serials[media.TypeVideo], p.Serial)
		assert.InDelta(t, 10.0, p.PTS, 0.05)
	}
	assert.Equal(t, int64(1), h.s.Snapshot().Seeks)
}

func TestSession_AutoExitAtEnd(t *testing.T) {
	opts := baseOptions()
	opts.AutoExit = true
	h := newHarness(t, synthetic.Config{Duration: 400 * time.Millisecond, Video: true}, opts, Deps{})
	h.start(context.Background())

	require.NoError(t, h.wait(t, 10*time.Second))
	assert.Positive(t, h.renderer.Count())
	// One surface per frame queue slot, allocated on first use.
	assert.Equal(t, frameq.VideoCapacity, h.renderer.Surfaces())
	assert.True(t, h.s.Snapshot().EOF)
}

func TestSession_LoopReplaysInput(t *testing.T) {
	opts := baseOptions()
	opts.AutoExit = true
	opts.Loop = 2
	h := newHarness(t, synthetic.Config{Duration: 200 * time.Millisecond, Video: true}, opts, Deps{})
	h.start(context.Background())

	require.NoError(t, h.wait(t, 10*time.Second))
	assert.Equal(t, int64(1), h.s.Snapshot().Seeks)

	var restarts int
	prev := -1.0
	for _, p := range h.renderer.Presented() {
		if p.PTS < prev {
			restarts++
		}
		prev = p.PTS
	}
	assert.Equal(t, 1, restarts)
}

func TestSession_NoAudioOrVideo(t *testing.T) {
	h := newHarness(t, synthetic.Config{Duration: time.Second, Subtitle: true}, baseOptions(), Deps{})
	h.start(context.Background())

	err := h.wait(t, 5*time.Second)
	require.ErrorIs(t, err, ErrNoStreams)
}

func TestSession_PersistentStallIsFatal(t *testing.T) {
	opts := baseOptions()
	opts.RetryInitial = time.Millisecond
	opts.RetryMaxElapsed = 20 * time.Millisecond
	opts.BreakerThreshold = 2
	opts.BreakerCooldown = time.Minute
	h := newHarness(t, synthetic.Config{Duration: 10 * time.Second, Video: true, StallAfter: 5}, opts, Deps{})
	h.start(context.Background())

	err := h.wait(t, 10*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, errors.Is(err, media.ErrTransient), "the stall cause stays in the chain")
	assert.Equal(t, string(resilience.StateOpen), h.s.Snapshot().DemuxBreaker)
}

func TestSession_WatchdogStopsStalledPlayback(t *testing.T) {
	opts := baseOptions()
	opts.RetryInitial = time.Millisecond
	opts.RetryMaxElapsed = time.Minute
	opts.BreakerThreshold = 100
	opts.StallTimeout = 200 * time.Millisecond
	h := newHarness(t, synthetic.Config{Duration: 10 * time.Second, Video: true, StallAfter: 5}, opts, Deps{})
	h.start(context.Background())

	err := h.wait(t, 10*time.Second)
	require.ErrorIs(t, err, watchdog.ErrStalled)
	assert.Positive(t, h.renderer.Count())
}

func TestSession_TransientErrorsAreRetried(t *testing.T) {
	opts := baseOptions()
	opts.AutoExit = true
	opts.RetryInitial = time.Millisecond
	h := newHarness(t, synthetic.Config{Duration: 300 * time.Millisecond, Video: true, TransientEvery: 3}, opts, Deps{})
	h.start(context.Background())

	require.NoError(t, h.wait(t, 10*time.Second))
	assert.Positive(t, h.renderer.Count())
}

func TestSession_ResumeRestoresAndSavesPosition(t *testing.T) {
	store := resume.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &resume.Position{
		Input:    "synthetic://resume",
		Position: 20 * time.Second,
		Duration: 60 * time.Second,
	}))

	opts := baseOptions()
	opts.Input = "synthetic://resume"
	opts.Resume = true
	h := newHarness(t, synthetic.Config{Duration: 60 * time.Second, Video: true}, opts, Deps{Resume: store})
	h.start(ctx)

	require.Eventually(t, func() bool { return h.renderer.Count() >= 2 }, 5*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 20.0, h.renderer.Presented()[0].PTS, 0.05)

	h.s.Close()
	require.NoError(t, h.wait(t, 5*time.Second))

	p, err := store.Get(ctx, "synthetic://resume")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.GreaterOrEqual(t, p.Position, 20*time.Second)
	assert.False(t, p.Finished)
}

func TestSession_SeekModes(t *testing.T) {
	cfg := synthetic.Config{Duration: 20 * time.Second, Video: true, Chapters: 4}
	h := newHarness(t, cfg, baseOptions(), Deps{})
	results := make(chan seekResult, 4)
	h.s.afterSeek = func(r seekResult) { results <- r }
	h.start(context.Background())
	require.Eventually(t, func() bool { return h.renderer.Count() >= 1 }, 5*time.Second, 5*time.Millisecond)

	next := func() seekResult {
		t.Helper()
		select {
		case r := <-results:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("seek was not executed")
			return seekResult{}
		}
	}

	require.NoError(t, h.s.SeekChapter(1))
	r := next()
	assert.Equal(t, "chapter", r.req.mode)
	assert.Equal(t, (5 * time.Second).Microseconds(), r.req.target)

	require.NoError(t, h.s.SeekFraction(0.5))
	r = next()
	assert.Equal(t, "fraction", r.req.mode)
	assert.Equal(t, (10 * time.Second).Microseconds(), r.req.target)
	assert.False(t, r.req.byBytes)

	require.NoError(t, h.s.SeekRelative(-3*time.Second))
	r = next()
	assert.Equal(t, "relative", r.req.mode)
	assert.Equal(t, (-3 * time.Second).Microseconds(), r.req.rel)
	assert.GreaterOrEqual(t, r.req.target, int64(0))

	require.NoError(t, h.s.Seek(1000, 0, true))
	r = next()
	assert.True(t, r.req.byBytes)
}

func TestSession_ByteSeekOnLiveInputIsRejected(t *testing.T) {
	h := newHarness(t, synthetic.Config{Video: true}, baseOptions(), Deps{})
	h.start(context.Background())
	require.Eventually(t, func() bool { return h.renderer.Count() >= 1 }, 5*time.Second, 5*time.Millisecond)

	err := h.s.Seek(1000, 0, true)
	require.ErrorIs(t, err, media.ErrNotSupported)
	require.ErrorIs(t, h.s.SeekFraction(0.5), media.ErrNotSupported)
}

func TestSession_VolumeAndMute(t *testing.T) {
	opts := baseOptions()
	opts.Volume = 50
	h := newHarness(t, synthetic.Config{Duration: 10 * time.Second, Video: true, Audio: true}, opts, Deps{})
	h.start(context.Background())
	require.Eventually(t, func() bool { return h.renderer.Count() >= 1 }, 5*time.Second, 5*time.Millisecond)

	up, err := h.s.UpdateVolume(1)
	require.NoError(t, err)
	assert.Greater(t, up, 50)

	require.NoError(t, h.s.SetVolume(150))
	assert.Equal(t, 100, h.s.Snapshot().Volume)

	muted, err := h.s.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.True(t, h.s.Snapshot().Muted)

	buf := h.sink.Pull()
	require.NotNil(t, buf)
	for _, b := range buf {
		require.Zero(t, b)
	}
}

func TestSession_VolumeWithoutAudio(t *testing.T) {
	h := newHarness(t, synthetic.Config{Duration: 10 * time.Second, Video: true}, baseOptions(), Deps{})
	h.start(context.Background())
	require.Eventually(t, func() bool { return h.renderer.Count() >= 1 }, 5*time.Second, 5*time.Millisecond)

	_, err := h.s.UpdateVolume(1)
	require.ErrorIs(t, err, ErrNoAudio)
}

func TestSession_CycleSubtitleThroughOff(t *testing.T) {
	h := newHarness(t, synthetic.Config{Duration: 10 * time.Second, Video: true, Subtitle: true}, baseOptions(), Deps{})
	h.start(context.Background())
	require.Eventually(t, func() bool { return h.renderer.Count() >= 1 }, 5*time.Second, 5*time.Millisecond)
	require.Contains(t, h.serials(), "subtitle")

	require.NoError(t, h.s.CycleStream(media.TypeSubtitle))
	assert.NotContains(t, h.serials(), "subtitle")

	require.NoError(t, h.s.CycleStream(media.TypeSubtitle))
	assert.Contains(t, h.serials(), "subtitle")

	// A single video stream has nothing to cycle to.
	require.NoError(t, h.s.CycleStream(media.TypeVideo))
	assert.Contains(t, h.serials(), "video")
}

func TestSession_CoverArtIsQueuedOnce(t *testing.T) {
	opts := baseOptions()
	h := newHarness(t, synthetic.Config{Duration: 2 * time.Second, Video: true, Cover: true, Audio: true}, opts, Deps{})
	h.start(context.Background())

	require.Eventually(t, func() bool { return h.renderer.Count() >= 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.renderer.Count())
}

func TestSession_ControlAfterClose(t *testing.T) {
	h := newHarness(t, synthetic.Config{Duration: 10 * time.Second, Video: true}, baseOptions(), Deps{})
	h.start(context.Background())
	require.Eventually(t, func() bool { return h.renderer.Count() >= 1 }, 5*time.Second, 5*time.Millisecond)

	h.s.Close()
	require.NoError(t, h.wait(t, 5*time.Second))

	_, err := h.s.TogglePause()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, h.s.StepFrame(), ErrClosed)
}

func TestSession_CloseBeforeRun(t *testing.T) {
	h := newHarness(t, synthetic.Config{Duration: time.Second, Video: true}, baseOptions(), Deps{})
	h.s.Close()
	require.ErrorIs(t, h.s.Run(context.Background()), ErrRunning)
}

func TestSession_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, synthetic.Config{Video: true, Audio: true, Realtime: true}, baseOptions(), Deps{})
	h.start(ctx)
	require.Eventually(t, func() bool { return h.renderer.Count() >= 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, h.wait(t, 5*time.Second))
}

func TestInPlayRange(t *testing.T) {
	s := &Session{opts: Options{StartTime: 2 * time.Second, Duration: 3 * time.Second}}
	info := media.StreamInfo{TimeBase: media.Rational{Num: 1, Den: 1000}, StartTime: media.NoPTS}

	assert.True(t, s.inPlayRange(info, media.Packet{PTS: 4000}))
	assert.True(t, s.inPlayRange(info, media.Packet{PTS: 5000}))
	assert.False(t, s.inPlayRange(info, media.Packet{PTS: 5001}))
	assert.True(t, s.inPlayRange(info, media.Packet{PTS: media.NoPTS, DTS: media.NoPTS}))

	s.opts.Duration = 0
	assert.True(t, s.inPlayRange(info, media.Packet{PTS: 1 << 40}))
}

func TestSession_UnknownClockFallsBackToLastSeekTarget(t *testing.T) {
	h := newHarness(t, synthetic.Config{Duration: 60 * time.Second, Video: true}, baseOptions(), Deps{})
	ctx := context.Background()

	assert.Zero(t, h.s.pendingOrLastTarget())

	h.s.executeSeek(ctx, seekRequest{target: 7_000_000, mode: "absolute"})
	assert.Equal(t, int64(7_000_000), h.s.pendingOrLastTarget())

	require.True(t, h.s.requestSeek(9_000_000, 0, false, "absolute"))
	assert.Equal(t, int64(9_000_000), h.s.pendingOrLastTarget(), "a pending seek wins")
	h.s.takeSeek()

	h.s.executeSeek(ctx, seekRequest{target: 4096, byBytes: true, mode: "bytes"})
	assert.Equal(t, int64(7_000_000), h.s.pendingOrLastTarget(), "byte seeks carry no time")
}
