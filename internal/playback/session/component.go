// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/metrics"
	"github.com/ManuGH/xg2g-player/internal/playback/audio"
	"github.com/ManuGH/xg2g-player/internal/playback/avsync"
	"github.com/ManuGH/xg2g-player/internal/playback/clock"
	"github.com/ManuGH/xg2g-player/internal/playback/decoder"
	"github.com/ManuGH/xg2g-player/internal/playback/frameq"
	"github.com/ManuGH/xg2g-player/internal/playback/packetq"
)

// component is one open elementary stream. The reader, the render loop and
// the engine only see this interface; the per-type behaviour lives in the
// implementations.
type component interface {
	Type() media.Type
	Index() int
	Open(index int) error
	Close() error
	// HasEnoughPackets reports whether the reader may stop reading for this
	// stream.
	HasEnoughPackets() bool
	Clock() *clock.Clock

	track() *track
}

func newComponent(s *Session, t media.Type) (component, error) {
	switch t {
	case media.TypeVideo:
		return &videoComponent{trk: track{s: s, typ: t}}, nil
	case media.TypeAudio:
		return &audioComponent{trk: track{s: s, typ: t}}, nil
	case media.TypeSubtitle:
		return &subtitleComponent{trk: track{s: s, typ: t}}, nil
	default:
		return nil, fmt.Errorf("session: unsupported stream type %s", t)
	}
}

// track is the state every component shares: the packet queue the reader
// fills, the frame queue the decoder produces into and the decoder adapter
// between them.
type track struct {
	s      *Session
	typ    media.Type
	info   media.StreamInfo
	pq     *packetq.Queue
	fq     *frameq.Queue
	dec    *decoder.Adapter
	bound  *avsync.Stream
	logger zerolog.Logger
}

// open creates the queues and the decoder for stream index. The decode
// goroutine is started by the component.
func (t *track) open(index, capacity int, keepLast bool) error {
	s := t.s
	if index < 0 || index >= len(s.streams) {
		return fmt.Errorf("session: stream index %d out of range", index)
	}
	info := s.streams[index]
	if info.Type != t.typ {
		return fmt.Errorf("session: stream %d is %s, not %s", index, info.Type, t.typ)
	}
	t.info = info
	t.logger = s.logger.With().
		Str(xglog.FieldStream, info.Type.String()).
		Int(xglog.FieldStreamIndex, info.Index).
		Str(xglog.FieldCodec, info.Codec).
		Logger()

	fd, err := s.deps.Decoders.NewDecoder(info)
	if err != nil {
		return fmt.Errorf("session: open %s decoder: %w", info.Type, err)
	}

	s.compMu.RLock()
	parent := s.streamCtx
	s.compMu.RUnlock()
	if parent == nil {
		parent = context.Background()
	}
	t.pq = packetq.New(parent, info.Type.String())
	t.fq = frameq.New(t.pq, capacity, keepLast)
	t.dec = decoder.New(fd, t.pq, t.fq, decoder.Options{
		Stream:         info,
		Reorder:        s.opts.Reorder,
		SeedAudioStart: s.info.ScanSeek,
		OnEmpty:        s.wakeReader,
		Logger:         &t.logger,
	})
	if err := t.pq.Start(); err != nil {
		t.release()
		return fmt.Errorf("session: start %s queue: %w", info.Type, err)
	}
	t.bound = &avsync.Stream{Packets: t.pq, Frames: t.fq}
	return nil
}

// bind publishes the queues to the engine.
func (t *track) bind() { t.s.engine.Bind(t.typ, t.bound) }

// abort stops the decode goroutine and waits for it.
func (t *track) abort() error {
	if t.dec == nil {
		return nil
	}
	return t.dec.Abort()
}

// release detaches the queues from the engine and frees them. Call after
// abort.
func (t *track) release() {
	t.s.engine.Bind(t.typ, nil)
	if t.dec != nil {
		if err := t.dec.Close(); err != nil {
			t.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.decoder_close_failed").Msg("closing decoder failed")
		}
	}
	if t.fq != nil {
		t.fq.Destroy()
	}
	if t.pq != nil {
		t.pq.Destroy()
	}
	metrics.ClearQueueState(t.typ.String())
}

func (t *track) hasEnoughPackets() bool {
	if t.pq == nil || t.pq.Aborted() || t.info.AttachedPicture != nil {
		return true
	}
	st := t.pq.Stats()
	if st.Packets <= MinFrames {
		return false
	}
	return st.Duration == 0 || t.info.TimeBase.Float()*float64(st.Duration) > 1.0
}

// drained reports whether the decoder finished the current segment and every
// frame has been consumed.
func (t *track) drained() bool {
	return t.dec.Finished() == t.pq.Serial() && t.fq.Remaining() == 0
}

// produce pushes a decoded frame into the next writable slot. fill may block
// (surface allocation) and reports false when the stream is aborted.
func (t *track) produce(d decoder.Decoded, fill func(slot *media.Frame) bool) error {
	slot := t.fq.PeekWritable()
	if slot == nil {
		return decoder.ErrAborted
	}
	if !fill(slot) {
		return decoder.ErrAborted
	}
	slot.PTS = d.PTS
	slot.Pos = d.Pos
	slot.Serial = d.Serial
	slot.Data = d.Data
	slot.Uploaded = false
	t.fq.Push()
	return nil
}

func (t *track) decodeDone(err error) error {
	if err != nil && !errors.Is(err, decoder.ErrAborted) {
		t.logger.Error().Err(err).Str(xglog.FieldEvent, "session.decode_failed").Msg("decode loop failed")
	}
	return err
}

// videoComponent decodes pictures and negotiates render surfaces with the
// render loop.
type videoComponent struct {
	trk track
}

func (c *videoComponent) Type() media.Type       { return media.TypeVideo }
func (c *videoComponent) Index() int             { return c.trk.info.Index }
func (c *videoComponent) Clock() *clock.Clock    { return c.trk.s.engine.VideoClock() }
func (c *videoComponent) HasEnoughPackets() bool { return c.trk.hasEnoughPackets() }
func (c *videoComponent) track() *track          { return &c.trk }

func (c *videoComponent) Open(index int) error {
	t := &c.trk
	if err := t.open(index, frameq.VideoCapacity, true); err != nil {
		return err
	}
	t.bind()

	duration := 0.0
	if fr := t.info.FrameRate; fr.Valid() {
		duration = float64(fr.Den) / float64(fr.Num)
	}
	s := t.s
	t.dec.Start(func(ctx context.Context) error {
		return t.decodeDone(t.dec.Run(func(d decoder.Decoded) error {
			if s.engine.ShouldDropEarly(d.PTS, d.Serial) {
				metrics.RecordFrameDrops("early", 1)
				return nil
			}
			return t.produce(d, func(slot *media.Frame) bool {
				if !s.ensureSurface(ctx, t.fq, slot, d.Video) {
					return false
				}
				slot.Type = media.TypeVideo
				slot.Duration = duration
				slot.Video = d.Video
				return true
			})
		}))
	})
	if t.info.AttachedPicture != nil {
		t.s.attachmentsReq.Store(true)
	}
	return nil
}

func (c *videoComponent) Close() error {
	err := c.trk.abort()
	c.trk.release()
	return err
}

// audioComponent decodes samples for the audio output callback.
type audioComponent struct {
	trk track
	out *audio.Output
}

func (c *audioComponent) Type() media.Type       { return media.TypeAudio }
func (c *audioComponent) Index() int             { return c.trk.info.Index }
func (c *audioComponent) Clock() *clock.Clock    { return c.trk.s.engine.AudioClock() }
func (c *audioComponent) HasEnoughPackets() bool { return c.trk.hasEnoughPackets() }
func (c *audioComponent) track() *track          { return &c.trk }

func (c *audioComponent) Open(index int) error {
	t := &c.trk
	s := t.s
	if s.deps.AudioSink == nil {
		return fmt.Errorf("session: no audio sink configured: %w", media.ErrNotSupported)
	}
	if err := t.open(index, frameq.AudioCapacity, true); err != nil {
		return err
	}

	audioLogger := t.logger.With().Str(xglog.FieldComponent, "audio").Logger()
	out, err := audio.Open(audio.Options{
		Engine:     s.engine,
		Stream:     t.bound,
		Sink:       s.deps.AudioSink,
		Source:     t.info,
		Volume:     int(s.volume.Load()),
		TimeSource: s.deps.TimeSource,
		Logger:     &audioLogger,
		OnUnderrun: metrics.RecordAudioUnderrun,
	})
	if err != nil {
		t.release()
		return err
	}
	if s.muted.Load() {
		out.ToggleMute()
	}
	c.out = out
	t.bind()

	t.dec.Start(func(context.Context) error {
		return t.decodeDone(t.dec.Run(func(d decoder.Decoded) error {
			return t.produce(d, func(slot *media.Frame) bool {
				slot.Type = media.TypeAudio
				slot.Audio = d.Audio
				slot.Duration = 0
				if d.Audio.SampleRate > 0 {
					slot.Duration = float64(d.Audio.NbSamples) / float64(d.Audio.SampleRate)
				}
				return true
			})
		}))
	})
	return nil
}

func (c *audioComponent) Close() error {
	err := c.trk.abort()
	if c.out != nil {
		if cerr := c.out.Close(); cerr != nil {
			c.trk.logger.Warn().Err(cerr).Str(xglog.FieldEvent, "session.audio_close_failed").Msg("closing audio output failed")
		}
	}
	c.trk.release()
	return err
}

// subtitleComponent decodes subtitle events; the engine expires them against
// the video clock.
type subtitleComponent struct {
	trk track
}

func (c *subtitleComponent) Type() media.Type       { return media.TypeSubtitle }
func (c *subtitleComponent) Index() int             { return c.trk.info.Index }
func (c *subtitleComponent) Clock() *clock.Clock    { return c.trk.s.engine.ExternalClock() }
func (c *subtitleComponent) HasEnoughPackets() bool { return c.trk.hasEnoughPackets() }
func (c *subtitleComponent) track() *track          { return &c.trk }

func (c *subtitleComponent) Open(index int) error {
	t := &c.trk
	if err := t.open(index, frameq.SubtitleCapacity, false); err != nil {
		return err
	}
	t.bind()
	t.dec.Start(func(context.Context) error {
		return t.decodeDone(t.dec.Run(func(d decoder.Decoded) error {
			return t.produce(d, func(slot *media.Frame) bool {
				slot.Type = media.TypeSubtitle
				slot.Subtitle = d.Subtitle
				slot.Duration = (d.Subtitle.EndDisplay - d.Subtitle.StartDisplay).Seconds()
				return true
			})
		}))
	})
	return nil
}

func (c *subtitleComponent) Close() error {
	err := c.trk.abort()
	c.trk.release()
	return err
}

// openStream opens the component for stream index and registers it.
func (s *Session) openStream(index int) error {
	if index < 0 || index >= len(s.streams) {
		return fmt.Errorf("session: stream index %d out of range", index)
	}
	info := s.streams[index]
	if s.component(info.Type) != nil {
		return fmt.Errorf("session: a %s stream is already open", info.Type)
	}
	c, err := newComponent(s, info.Type)
	if err != nil {
		return err
	}
	if err := c.Open(index); err != nil {
		s.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "session.stream_open_failed").
			Int(xglog.FieldStreamIndex, index).
			Str(xglog.FieldMediaType, info.Type.String()).
			Msg("failed to open stream")
		return err
	}

	s.compMu.Lock()
	s.comps[info.Type] = c
	s.lastStream[info.Type] = index
	s.compMu.Unlock()
	s.eof.Store(false)

	ev := s.logger.Info().
		Str(xglog.FieldEvent, "session.stream_opened").
		Int(xglog.FieldStreamIndex, index).
		Str(xglog.FieldMediaType, info.Type.String()).
		Str(xglog.FieldCodec, info.Codec)
	switch info.Type {
	case media.TypeVideo:
		ev = ev.Str(xglog.FieldResolution, fmt.Sprintf("%dx%d", info.Width, info.Height))
		if info.FrameRate.Valid() {
			ev = ev.Float64(xglog.FieldFPS, info.FrameRate.Float())
		}
	case media.TypeAudio:
		ev = ev.Int(xglog.FieldSampleRate, info.SampleRate).Int(xglog.FieldChannels, info.Channels)
	}
	ev.Msg("stream opened")
	return nil
}

// closeComponent aborts and releases c and unregisters it.
func (s *Session) closeComponent(c component) {
	s.compMu.Lock()
	if s.comps[c.Type()] == c {
		delete(s.comps, c.Type())
	}
	s.compMu.Unlock()

	if err := c.Close(); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.stream_close_failed").Int(xglog.FieldStreamIndex, c.Index()).Msg("stream closed with error")
	}
	s.logger.Info().
		Str(xglog.FieldEvent, "session.stream_closed").
		Int(xglog.FieldStreamIndex, c.Index()).
		Str(xglog.FieldMediaType, c.Type().String()).
		Msg("stream closed")
}

// ensureSurface makes sure slot holds a render surface matching info. The
// allocation itself runs on the render loop; the decoder waits for it.
func (s *Session) ensureSurface(ctx context.Context, fq *frameq.Queue, slot *media.Frame, info media.VideoInfo) bool {
	var current bool
	fq.Update(func() {
		current = slot.Allocated && slot.Video.Width == info.Width && slot.Video.Height == info.Height && slot.Video.Format == info.Format
		if !current {
			slot.Allocated = false
		}
	})
	if current {
		return true
	}

	req := func() error {
		surface, err := s.deps.Renderer.AllocateSurface(info.Width, info.Height, info.Format)
		if err != nil {
			return fmt.Errorf("session: allocate %dx%d surface: %w", info.Width, info.Height, err)
		}
		fq.Update(func() {
			slot.Surface = surface
			slot.Video = info
			slot.Allocated = true
		})
		return nil
	}
	select {
	case s.cmds <- req:
	case <-ctx.Done():
		return false
	case <-s.stopped:
		return false
	}
	return fq.WaitUntil(func() bool { return slot.Allocated })
}
