// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package synthetic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ManuGH/xg2g-player/internal/media"
)

// Codec names of the generated streams.
const (
	CodecVideo    = "rawcheck"
	CodecAudio    = "pcm_s16le"
	CodecSubtitle = "text"
)

const (
	videoTimeBase    = 90000
	subtitleTimeBase = 1000
	// AudioBlock is the number of samples per audio packet.
	AudioBlock        = 1024
	videoPayload      = 2048
	subtitleInterval  = 2.0
	subtitleDisplayMs = 1500
	toneAmplitude     = 8000
)

// ErrClosed is returned by a closed demuxer.
var ErrClosed = errors.New("synthetic: demuxer closed")

type track struct {
	info  media.StreamInfo
	step  float64 // seconds per packet
	next  int64
	cover bool
}

func (t *track) time() float64 { return float64(t.next) * t.step }

// Demuxer produces interleaved packets for the configured streams.
type Demuxer struct {
	mu       sync.Mutex
	cfg      Config
	info     media.SourceInfo
	streams  []media.StreamInfo
	tracks   []*track
	byteRate float64

	reads   int
	packets int
	paused  bool
	closed  bool

	// realtime pacing: source time wallBase is due at wallStart.
	wallStart time.Time
	wallBase  float64
}

// Open parses uri and returns a demuxer for it.
func Open(uri string) (*Demuxer, error) {
	cfg, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return New(cfg, uri), nil
}

// New creates a demuxer for cfg.
func New(cfg Config, uri string) *Demuxer {
	cfg = cfg.Normalize()
	d := &Demuxer{cfg: cfg}
	start := cfg.Start.Seconds()

	if cfg.Video {
		info := media.StreamInfo{
			Index:       len(d.streams),
			Type:        media.TypeVideo,
			Codec:       CodecVideo,
			TimeBase:    media.Rational{Num: 1, Den: videoTimeBase},
			StartTime:   int64(math.Round(start * videoTimeBase)),
			Width:       cfg.Width,
			Height:      cfg.Height,
			PixelFormat: media.PixelFormatYUV420P,
			SAR:         media.Rational{Num: 1, Den: 1},
		}
		tr := &track{step: 1.0 / float64(cfg.FPS), cover: cfg.Cover}
		if cfg.Cover {
			pic := media.Packet{
				StreamIndex: info.Index,
				Data:        make([]byte, videoPayload),
				PTS:         info.StartTime,
				DTS:         info.StartTime,
				Pos:         -1,
			}
			info.AttachedPicture = &pic
		} else {
			info.FrameRate = media.Rational{Num: cfg.FPS, Den: 1}
			d.byteRate += float64(videoPayload * cfg.FPS)
		}
		tr.info = info
		d.addTrack(tr)
	}
	if cfg.Audio {
		info := media.StreamInfo{
			Index:      len(d.streams),
			Type:       media.TypeAudio,
			Codec:      CodecAudio,
			TimeBase:   media.Rational{Num: 1, Den: cfg.SampleRate},
			StartTime:  int64(math.Round(start * float64(cfg.SampleRate))),
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}
		d.addTrack(&track{info: info, step: float64(AudioBlock) / float64(cfg.SampleRate)})
		d.byteRate += float64(cfg.SampleRate * cfg.Channels * 2)
	}
	if cfg.Subtitle {
		info := media.StreamInfo{
			Index:     len(d.streams),
			Type:      media.TypeSubtitle,
			Codec:     CodecSubtitle,
			TimeBase:  media.Rational{Num: 1, Den: subtitleTimeBase},
			StartTime: int64(math.Round(start * subtitleTimeBase)),
		}
		d.addTrack(&track{info: info, step: subtitleInterval})
		d.byteRate += 16 / subtitleInterval
	}

	d.info = media.SourceInfo{
		Name:            cfg.Name,
		URI:             uri,
		TSDiscontinuous: cfg.Discontinuous,
		Realtime:        cfg.Realtime,
		ByteSeekable:    cfg.Duration > 0 && d.byteRate > 0,
		ScanSeek:        cfg.ScanSeek,
		StartTime:       cfg.Start,
		Duration:        cfg.Duration,
		BitRate:         int64(d.byteRate * 8),
		Size:            -1,
	}
	if cfg.Duration > 0 {
		d.info.Size = int64(d.byteRate * cfg.Duration.Seconds())
		for i := 0; i < cfg.Chapters; i++ {
			d.info.Chapters = append(d.info.Chapters, media.Chapter{
				Start: cfg.Start + cfg.Duration*time.Duration(i)/time.Duration(cfg.Chapters),
				Title: fmt.Sprintf("Chapter %d", i+1),
			})
		}
	}
	return d
}

func (d *Demuxer) addTrack(t *track) {
	d.tracks = append(d.tracks, t)
	d.streams = append(d.streams, t.info)
}

// Info describes the source.
func (d *Demuxer) Info() media.SourceInfo { return d.info }

// Streams lists the elementary streams.
func (d *Demuxer) Streams() []media.StreamInfo {
	return append([]media.StreamInfo(nil), d.streams...)
}

// ReadPacket returns the packet with the smallest timestamp across streams.
func (d *Demuxer) ReadPacket(ctx context.Context) (media.Packet, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return media.Packet{}, ErrClosed
	}
	d.reads++
	if d.cfg.TransientEvery > 0 && d.reads%d.cfg.TransientEvery == 0 {
		d.mu.Unlock()
		return media.Packet{}, fmt.Errorf("synthetic: read stalled: %w", media.ErrTransient)
	}
	if d.cfg.StallAfter > 0 && d.packets >= d.cfg.StallAfter {
		d.mu.Unlock()
		return media.Packet{}, fmt.Errorf("synthetic: input stalled: %w", media.ErrTransient)
	}

	var tr *track
	limit := d.cfg.Duration.Seconds()
	for _, t := range d.tracks {
		if t.cover || (limit > 0 && t.time() >= limit-1e-9) {
			continue
		}
		if tr == nil || t.time() < tr.time() {
			tr = t
		}
	}
	if tr == nil {
		d.mu.Unlock()
		return media.Packet{}, media.ErrEndOfStream
	}

	ts := tr.time()
	pkt := d.buildPacket(tr)
	tr.next++
	d.packets++

	var wait time.Duration
	if d.cfg.Realtime {
		if d.wallStart.IsZero() {
			d.wallStart, d.wallBase = time.Now(), ts
		}
		wait = time.Until(d.wallStart.Add(time.Duration((ts - d.wallBase) * float64(time.Second))))
	}
	d.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return media.Packet{}, ctx.Err()
		case <-timer.C:
		}
	}
	return pkt, nil
}

func (d *Demuxer) buildPacket(tr *track) media.Packet {
	t := tr.time()
	start := d.cfg.Start.Seconds()
	pkt := media.Packet{
		StreamIndex: tr.info.Index,
		Pos:         int64(t * d.byteRate),
	}

	switch tr.info.Type {
	case media.TypeVideo:
		pkt.PTS = int64(math.Round((t + start) * videoTimeBase))
		pkt.Duration = int64(videoTimeBase / d.cfg.FPS)
		pkt.Data = make([]byte, videoPayload)
		binary.LittleEndian.PutUint64(pkt.Data, uint64(tr.next))
	case media.TypeAudio:
		rate := d.cfg.SampleRate
		first := tr.next * AudioBlock
		pkt.PTS = int64(math.Round(start*float64(rate))) + first
		pkt.Duration = AudioBlock
		pkt.Data = tone(first, AudioBlock, d.cfg.Channels, rate, d.cfg.ToneHz)
	case media.TypeSubtitle:
		pkt.PTS = int64(math.Round((t + start) * subtitleTimeBase))
		pkt.Duration = subtitleDisplayMs
		pkt.Data = []byte(fmt.Sprintf("Subtitle %d", tr.next+1))
	}
	pkt.DTS = pkt.PTS
	return pkt
}

// tone renders n interleaved S16LE samples of a sine starting at sample first.
func tone(first int64, n, channels, rate int, hz float64) []byte {
	out := make([]byte, n*channels*2)
	for i := 0; i < n; i++ {
		v := int16(toneAmplitude * math.Sin(2*math.Pi*hz*float64(first+int64(i))/float64(rate)))
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(v))
		}
	}
	return out
}

// Seek repositions every stream at the first packet at or after the target.
// Audio and subtitles restart at the block covering the target.
func (d *Demuxer) Seek(_ context.Context, req media.SeekRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	var t float64
	if req.ByBytes {
		if !d.info.ByteSeekable {
			return fmt.Errorf("synthetic: byte seek: %w", media.ErrNotSupported)
		}
		t = float64(req.Target) / d.byteRate
	} else {
		t = float64(req.Target)/1e6 - d.cfg.Start.Seconds()
	}
	t = math.Max(0, t)
	limit := d.cfg.Duration.Seconds()
	atEnd := limit > 0 && t >= limit

	for _, tr := range d.tracks {
		switch {
		case atEnd:
			tr.next = int64(math.Ceil(limit/tr.step - 1e-9))
		case tr.info.Type == media.TypeVideo:
			tr.next = int64(math.Ceil(t/tr.step - 1e-9))
		default:
			tr.next = int64(math.Floor(t/tr.step + 1e-9))
		}
	}
	d.wallStart, d.wallBase = time.Time{}, 0
	return nil
}

// Pause is only supported by realtime sources.
func (d *Demuxer) Pause() error {
	if !d.cfg.Realtime {
		return media.ErrNotSupported
	}
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	return nil
}

// Play resumes a paused realtime source; pacing restarts from the current
// position.
func (d *Demuxer) Play() error {
	if !d.cfg.Realtime {
		return media.ErrNotSupported
	}
	d.mu.Lock()
	d.paused = false
	d.wallStart, d.wallBase = time.Time{}, 0
	d.mu.Unlock()
	return nil
}

// Paused reports the network pause state.
func (d *Demuxer) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Close releases the demuxer.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
