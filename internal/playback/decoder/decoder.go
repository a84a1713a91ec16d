// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package decoder adapts an external send/receive decode primitive to the
// serial packet queue and drives one decode goroutine per stream.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/frameq"
	"github.com/ManuGH/xg2g-player/internal/playback/packetq"
)

// ErrAborted is returned once the packet queue feeding the decoder aborts.
var ErrAborted = packetq.ErrAborted

// ReorderMode selects which timestamp becomes the video frame pts.
type ReorderMode int

const (
	// ReorderAuto uses the decoder's best effort timestamp.
	ReorderAuto ReorderMode = -1
	// ReorderOff uses the packet dts.
	ReorderOff ReorderMode = 0
	// ReorderOn uses the frame pts as reported by the decoder.
	ReorderOn ReorderMode = 1
)

// Options configure an Adapter.
type Options struct {
	Stream  media.StreamInfo
	Reorder ReorderMode
	// SeedAudioStart predicts missing audio pts from the stream start time
	// after every flush. Only useful for sources that seek by scanning.
	SeedAudioStart bool
	// OnEmpty is called whenever the decoder is about to wait on an empty
	// packet queue. The reader uses it to resume reading early.
	OnEmpty func()
	Logger  *zerolog.Logger
}

// Decoded is one frame with its pts resolved to seconds.
type Decoded struct {
	media.DecodedFrame
	PTS    float64 // seconds, NaN when unknown
	Serial int
}

// Adapter pulls packets from a packet queue, feeds the primitive and returns
// decoded frames. DecodeFrame must only be called from one goroutine.
type Adapter struct {
	dec    media.FrameDecoder
	pq     *packetq.Queue
	fq     *frameq.Queue
	stream media.StreamInfo
	reord  ReorderMode
	empty  func()
	logger zerolog.Logger

	pkt        media.Packet
	pending    bool
	pktSerial  atomic.Int64
	finished   atomic.Int64
	startPTS   int64
	startTB    media.Rational
	nextPTS    int64
	nextPTSTB  media.Rational
	frameCount atomic.Int64

	eg      *errgroup.Group
	started bool
	mu      sync.Mutex
}

// New binds dec to the packet queue pq and the frame queue fq it produces
// into.
func New(dec media.FrameDecoder, pq *packetq.Queue, fq *frameq.Queue, opts Options) *Adapter {
	logger := xglog.WithComponent("decoder")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	a := &Adapter{
		dec:       dec,
		pq:        pq,
		fq:        fq,
		stream:    opts.Stream,
		reord:     opts.Reorder,
		empty:     opts.OnEmpty,
		logger:    logger.With().Str(xglog.FieldMediaType, opts.Stream.Type.String()).Int(xglog.FieldStreamIndex, opts.Stream.Index).Logger(),
		startPTS:  media.NoPTS,
		nextPTS:   media.NoPTS,
		startTB:   opts.Stream.TimeBase,
		nextPTSTB: opts.Stream.TimeBase,
	}
	a.pktSerial.Store(-1)
	if opts.SeedAudioStart && opts.Stream.Type == media.TypeAudio && opts.Stream.StartTime != media.NoPTS && opts.Stream.TimeBase.Valid() {
		a.startPTS = opts.Stream.StartTime
		a.nextPTS = a.startPTS
	}
	return a
}

// Finished returns the serial of the last fully drained segment, 0 while
// decoding.
func (a *Adapter) Finished() int { return int(a.finished.Load()) }

// PacketSerial returns the serial of the packet last taken from the queue.
func (a *Adapter) PacketSerial() int { return int(a.pktSerial.Load()) }

// Frames returns how many frames were decoded so far.
func (a *Adapter) Frames() int64 { return a.frameCount.Load() }

// Stream returns the stream the adapter decodes.
func (a *Adapter) Stream() media.StreamInfo { return a.stream }

func (a *Adapter) resetSegment() {
	a.dec.Flush()
	a.finished.Store(0)
	a.nextPTS = a.startPTS
	a.nextPTSTB = a.startTB
}

// DecodeFrame returns the next frame. ok is false when the primitive drained
// a segment without producing a frame. err is ErrAborted once the stream is
// aborted.
func (a *Adapter) DecodeFrame() (out Decoded, ok bool, err error) {
	for {
		if int64(a.pq.Serial()) == a.pktSerial.Load() {
			for {
				if a.pq.Aborted() {
					return Decoded{}, false, ErrAborted
				}
				frame, rerr := a.dec.ReceiveFrame()
				switch {
				case rerr == nil:
					a.frameCount.Add(1)
					return a.resolve(frame), true, nil
				case errors.Is(rerr, media.ErrEndOfStream):
					a.finished.Store(a.pktSerial.Load())
					a.dec.Flush()
					a.logger.Debug().
						Str(xglog.FieldEvent, "decoder.drained").
						Int64(xglog.FieldSerial, a.pktSerial.Load()).
						Msg("decoder drained segment")
					return Decoded{}, false, nil
				case errors.Is(rerr, media.ErrWouldBlock):
				default:
					// Corrupt data is not fatal for the stream.
					a.logger.Warn().Err(rerr).Str(xglog.FieldEvent, "decoder.receive_failed").Msg("receive frame failed")
				}
				if rerr != nil {
					break
				}
			}
		}

		for {
			if a.pq.Len() == 0 && a.empty != nil {
				a.empty()
			}
			if a.pending {
				a.pending = false
			} else {
				oldSerial := a.pktSerial.Load()
				pkt, serial, gerr := a.pq.Get(true)
				if gerr != nil {
					return Decoded{}, false, ErrAborted
				}
				a.pkt = pkt
				a.pktSerial.Store(int64(serial))
				if oldSerial != int64(serial) || pkt.Kind == media.PacketFlush {
					a.resetSegment()
				}
				if pkt.Kind == media.PacketFlush {
					continue
				}
			}
			if int64(a.pq.Serial()) == a.pktSerial.Load() {
				break
			}
		}

		if err := a.dec.SendPacket(a.pkt); err != nil {
			if errors.Is(err, media.ErrWouldBlock) {
				a.logger.Error().
					Str(xglog.FieldEvent, "decoder.api_violation").
					Msg("receive frame and send packet both reported would block")
				a.pending = true
			} else {
				a.logger.Warn().Err(err).Str(xglog.FieldEvent, "decoder.send_failed").Msg("send packet failed")
			}
		}
	}
}

func (a *Adapter) resolve(f media.DecodedFrame) Decoded {
	out := Decoded{DecodedFrame: f, PTS: math.NaN(), Serial: int(a.pktSerial.Load())}
	tb := a.stream.TimeBase

	switch a.stream.Type {
	case media.TypeVideo:
		switch a.reord {
		case ReorderAuto:
			out.DecodedFrame.PTS = f.BestEffort
		case ReorderOff:
			out.DecodedFrame.PTS = f.PktDTS
		}
		out.PTS = tb.Seconds(out.DecodedFrame.PTS)
	case media.TypeAudio:
		sr := f.Audio.SampleRate
		if sr <= 0 {
			out.PTS = tb.Seconds(f.PTS)
			break
		}
		sampleTB := media.Rational{Num: 1, Den: sr}
		pts := media.NoPTS
		if f.PTS != media.NoPTS {
			pts = rescale(f.PTS, tb, sampleTB)
		} else if a.nextPTS != media.NoPTS {
			pts = rescale(a.nextPTS, a.nextPTSTB, sampleTB)
		}
		if pts != media.NoPTS {
			a.nextPTS = pts + int64(f.Audio.NbSamples)
			a.nextPTSTB = sampleTB
		}
		out.DecodedFrame.PTS = pts
		out.PTS = sampleTB.Seconds(pts)
	default:
		out.PTS = tb.Seconds(f.PTS)
	}
	return out
}

func rescale(v int64, from, to media.Rational) int64 {
	if !from.Valid() || !to.Valid() {
		return v
	}
	return int64(math.Round(float64(v) * from.Float() / to.Float()))
}

// Start runs fn in the decode goroutine. fn receives the stream context,
// which ends when the stream aborts. Start is a no-op once started.
func (a *Adapter) Start(fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true
	eg, egCtx := errgroup.WithContext(a.pq.Context())
	a.eg = eg
	eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error().Str(xglog.FieldEvent, "decoder.panic").Interface("panic", r).Msg("decoder goroutine panicked")
				err = fmt.Errorf("decoder panic: %v", r)
			}
		}()
		err = fn(egCtx)
		if errors.Is(err, ErrAborted) {
			return nil
		}
		return err
	})
}

// Abort aborts the packet queue, wakes frame queue waiters and waits for the
// decode goroutine to exit.
func (a *Adapter) Abort() error {
	a.pq.Abort()
	a.fq.Signal()
	a.mu.Lock()
	eg := a.eg
	a.mu.Unlock()
	if eg == nil {
		return nil
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("decoder %s: %w", a.stream.Type, err)
	}
	return nil
}

// Close releases the decode primitive. Call after Abort.
func (a *Adapter) Close() error {
	return a.dec.Close()
}

// Run decodes until the stream aborts and hands every frame to emit. An
// error from emit ends the loop.
func (a *Adapter) Run(emit func(Decoded) error) error {
	for {
		d, ok, err := a.DecodeFrame()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := emit(d); err != nil {
			return err
		}
	}
}
