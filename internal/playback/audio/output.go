// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package audio implements the pull side of audio playback: the callback the
// audio sink invokes to fill its buffer, sample-count correction against the
// master clock, volume mixing and the audio clock update.
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/avsync"
	"github.com/ManuGH/xg2g-player/internal/playback/clock"
)

const (
	// MaxVolume is full scale for the mixer.
	MaxVolume = 128
	// VolumeStep is the increment of UpdateVolume.
	VolumeStep = MaxVolume / 50
	// MinBufferSize is the silence block written on underrun, in bytes.
	MinBufferSize = 512
	// MaxCallbacksPerSec bounds the device buffer size chosen at open.
	MaxCallbacksPerSec = 30
)

// ErrUnsupportedFormat is returned when the sink cannot play S16.
var ErrUnsupportedFormat = errors.New("audio: sink does not support s16 output")

// Options configure an Output.
type Options struct {
	Engine *avsync.Engine
	Stream *avsync.Stream
	Sink   media.AudioSink
	// Source describes the decoded audio.
	Source media.StreamInfo
	// Volume is the startup volume in percent, clamped to [0, 100].
	Volume     int
	TimeSource clock.TimeSource
	Logger     *zerolog.Logger
	// OnUnderrun is called whenever silence had to be written.
	OnUnderrun func()
}

// Output is the audio callback state of one session.
type Output struct {
	engine *avsync.Engine
	stream *avsync.Stream
	sink   media.AudioSink
	ts     clock.TimeSource
	logger zerolog.Logger

	params    media.AudioParams
	hwBufSize int
	srcFreq   int

	// Callback-owned state.
	buf          []byte
	bufIndex     int
	silent       bool
	writeBufSize int
	clockPts     float64
	clockSerial  int
	pcm          []int16
	remixed      []int16
	stretched    []int16

	volume     atomic.Int32
	muted      atomic.Bool
	underruns  atomic.Int64
	played     atomic.Int64
	onUnderrun func()
	warnRate   rate.Sometimes

	closeOnce sync.Once
}

// ClampVolume converts a startup percentage to mixer scale, logging values
// outside [0, 100].
func ClampVolume(percent int, logger zerolog.Logger) int {
	if percent < 0 {
		logger.Warn().Int("volume", percent).Msg("volume < 0, setting to 0")
	}
	if percent > 100 {
		logger.Warn().Int("volume", percent).Msg("volume > 100, setting to 100")
	}
	percent = max(0, min(100, percent))
	return max(0, min(MaxVolume, MaxVolume*percent/100))
}

// Open negotiates the output format with the sink and starts playback. The
// hardware buffer duration becomes the audio diff threshold of the engine.
func Open(opts Options) (*Output, error) {
	if opts.Engine == nil || opts.Stream == nil || opts.Sink == nil {
		return nil, fmt.Errorf("audio: engine, stream and sink are required")
	}
	logger := xglog.WithComponent("audio")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.TimeSource == nil {
		opts.TimeSource = clock.SystemTime{}
	}
	o := &Output{
		engine:     opts.Engine,
		stream:     opts.Stream,
		sink:       opts.Sink,
		ts:         opts.TimeSource,
		logger:     logger,
		clockPts:   math.NaN(),
		srcFreq:    opts.Source.SampleRate,
		onUnderrun: opts.OnUnderrun,
		warnRate:   rate.Sometimes{Interval: 5 * time.Second},
	}
	o.volume.Store(int32(ClampVolume(opts.Volume, logger)))

	want := media.AudioParams{
		SampleRate: opts.Source.SampleRate,
		Channels:   opts.Source.Channels,
		Format:     media.SampleFormatS16,
	}
	if want.SampleRate <= 0 || want.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid source format %d Hz / %d channels", want.SampleRate, want.Channels)
	}
	want.BufferSize = deviceBufferSize(want)

	got, err := o.sink.Open(want, o.Fill)
	if err != nil {
		return nil, fmt.Errorf("audio: open sink: %w", err)
	}
	if got.Format != media.SampleFormatS16 {
		_ = o.sink.Close()
		return nil, ErrUnsupportedFormat
	}
	if got.BytesPerSec() <= 0 || got.FrameSize() <= 0 {
		_ = o.sink.Close()
		return nil, fmt.Errorf("audio: sink returned invalid parameters %+v", got)
	}
	o.params = got
	o.hwBufSize = got.BufferSize
	o.engine.ConfigureAudio(o.srcFreq, float64(o.hwBufSize)/float64(got.BytesPerSec()))

	o.logger.Info().
		Str(xglog.FieldEvent, "audio.opened").
		Int(xglog.FieldSampleRate, got.SampleRate).
		Int(xglog.FieldChannels, got.Channels).
		Int("hw_buffer_bytes", o.hwBufSize).
		Msg("audio output opened")

	o.sink.Pause(false)
	return o, nil
}

// deviceBufferSize picks a power of two sample count that keeps callbacks
// under MaxCallbacksPerSec.
func deviceBufferSize(p media.AudioParams) int {
	samples := 512
	for samples < p.SampleRate/MaxCallbacksPerSec {
		samples <<= 1
	}
	return samples * p.FrameSize()
}

// Params returns the negotiated output format.
func (o *Output) Params() media.AudioParams { return o.params }

// HardwareBufferSize returns the device buffer size in bytes.
func (o *Output) HardwareBufferSize() int { return o.hwBufSize }

// Underruns returns how many callbacks produced silence.
func (o *Output) Underruns() int64 { return o.underruns.Load() }

// Played returns the number of decoded frames consumed by the callback.
func (o *Output) Played() int64 { return o.played.Load() }

// Fill is the sink callback. It never blocks longer than half the hardware
// buffer duration and falls back to silence.
func (o *Output) Fill(out []byte) {
	callbackTime := o.ts.Now()
	bytesPerSec := o.params.BytesPerSec()

	for len(out) > 0 {
		if o.bufIndex >= len(o.buf) {
			if err := o.decodeFrame(callbackTime); err != nil {
				o.silent = true
				size := MinBufferSize / o.params.FrameSize() * o.params.FrameSize()
				o.buf = growBytes(o.buf, size)
				clear(o.buf)
				o.underruns.Add(1)
				if o.onUnderrun != nil {
					o.onUnderrun()
				}
			} else {
				o.silent = false
			}
			o.bufIndex = 0
		}

		n := min(len(o.buf)-o.bufIndex, len(out))
		chunk := o.buf[o.bufIndex : o.bufIndex+n]
		vol := int(o.volume.Load())
		muted := o.muted.Load()
		if !muted && !o.silent && vol == MaxVolume {
			copy(out[:n], chunk)
		} else {
			clear(out[:n])
			if !muted && !o.silent {
				Mix(out[:n], chunk, vol)
			}
		}
		out = out[n:]
		o.bufIndex += n
	}

	o.writeBufSize = len(o.buf) - o.bufIndex
	if !math.IsNaN(o.clockPts) {
		audclk := o.engine.AudioClock()
		audclk.SetAt(o.clockPts-float64(2*o.hwBufSize+o.writeBufSize)/float64(bytesPerSec), o.clockSerial, callbackTime)
		o.engine.ExternalClock().SyncTo(audclk, avsync.NoSyncThreshold)
	}
}

// decodeFrame takes the next current-serial frame off the queue, corrects
// its length and converts it into the output buffer.
func (o *Output) decodeFrame(callbackTime float64) error {
	if o.engine.Paused() {
		return errPaused
	}

	frames := o.stream.Frames
	var af *media.Frame
	for {
		wait := float64(o.hwBufSize) / float64(o.params.BytesPerSec()) / 2
		deadline := wait - (o.ts.Now() - callbackTime)
		if deadline <= 0 {
			return errUnderrun
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(deadline*float64(time.Second)))
		af = frames.PeekReadableContext(ctx)
		cancel()
		if af == nil {
			return errUnderrun
		}
		if af.Serial == o.stream.Packets.Serial() {
			break
		}
		frames.Next()
	}

	info := af.Audio
	pts, serial := af.PTS, af.Serial
	o.pcm = append(o.pcm[:0], af.Samples()...)
	frames.Next()
	o.played.Add(1)

	channels := max(info.Channels, 1)
	nb := len(o.pcm) / channels
	if info.SampleRate > 0 && info.SampleRate != o.srcFreq {
		o.srcFreq = info.SampleRate
	}

	wanted := o.engine.SynchronizeAudio(nb)
	if wanted != nb {
		o.warnRate.Do(func() {
			o.logger.Debug().
				Str(xglog.FieldEvent, "audio.compensate").
				Int("samples", nb).
				Int("wanted", wanted).
				Msg("adjusting audio block length")
		})
	}

	src := o.pcm
	if channels != o.params.Channels {
		o.remixed = Remix(o.remixed, src, channels, o.params.Channels)
		src = o.remixed
	}
	outFrames := wanted
	if o.srcFreq > 0 && o.srcFreq != o.params.SampleRate {
		outFrames = int(math.Round(float64(wanted) * float64(o.params.SampleRate) / float64(o.srcFreq)))
	}
	o.stretched = Stretch(o.stretched, src, o.params.Channels, outFrames)
	o.buf = encodeS16(o.buf, o.stretched)

	if !math.IsNaN(pts) && info.SampleRate > 0 {
		o.clockPts = pts + float64(nb)/float64(info.SampleRate)
	} else {
		o.clockPts = math.NaN()
	}
	o.clockSerial = serial
	return nil
}

var (
	errPaused   = errors.New("audio: paused")
	errUnderrun = errors.New("audio: underrun")
)

func growBytes(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

// Volume returns the mixer volume in [0, MaxVolume].
func (o *Output) Volume() int { return int(o.volume.Load()) }

// SetVolume sets the mixer volume from a percentage.
func (o *Output) SetVolume(percent int) {
	o.volume.Store(int32(ClampVolume(percent, o.logger)))
}

// UpdateVolume moves the volume by sign*step on the mixer scale.
func (o *Output) UpdateVolume(sign, step int) int {
	for {
		cur := o.volume.Load()
		next := int32(max(0, min(MaxVolume, int(cur)+sign*step)))
		if o.volume.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

// ToggleMute flips the mute state and returns it.
func (o *Output) ToggleMute() bool {
	for {
		cur := o.muted.Load()
		if o.muted.CompareAndSwap(cur, !cur) {
			return !cur
		}
	}
}

// Muted reports the mute state.
func (o *Output) Muted() bool { return o.muted.Load() }

// Pause forwards the pause state to the sink.
func (o *Output) Pause(paused bool) { o.sink.Pause(paused) }

// Close stops the sink. The callback is not invoked afterwards.
func (o *Output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		err = o.sink.Close()
	})
	return err
}
