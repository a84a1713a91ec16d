// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package synthetic

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/xg2g-player/internal/media"
)

// ErrCorrupt is returned for payloads the decoders cannot interpret.
var ErrCorrupt = errors.New("synthetic: corrupt packet")

// Decoders creates decoders for the generated codecs.
type Decoders struct {
	// VideoDelay is the number of frames the video decoder holds back, as a
	// decoder with frame reordering would.
	VideoDelay int
}

// NewDecoder implements media.DecoderFactory.
func (f Decoders) NewDecoder(info media.StreamInfo) (media.FrameDecoder, error) {
	var conv func(media.Packet) (media.DecodedFrame, error)
	delay := 0
	switch info.Codec {
	case CodecVideo:
		conv = videoConverter(info)
		delay = max(0, f.VideoDelay)
	case CodecAudio:
		conv = audioConverter(info)
	case CodecSubtitle:
		conv = subtitleConverter(info)
	default:
		return nil, fmt.Errorf("synthetic: codec %q: %w", info.Codec, media.ErrNotSupported)
	}
	return &decoder{conv: conv, delay: delay}, nil
}

// decoder implements the send/receive contract over a small frame FIFO.
type decoder struct {
	conv     func(media.Packet) (media.DecodedFrame, error)
	delay    int
	frames   []media.DecodedFrame
	draining bool
	closed   bool
}

func (d *decoder) SendPacket(pkt media.Packet) error {
	if d.closed {
		return ErrClosed
	}
	if pkt.Kind == media.PacketEndOfStream {
		d.draining = true
		return nil
	}
	if d.draining || len(d.frames) > d.delay {
		return media.ErrWouldBlock
	}
	frame, err := d.conv(pkt)
	if err != nil {
		return err
	}
	d.frames = append(d.frames, frame)
	return nil
}

func (d *decoder) ReceiveFrame() (media.DecodedFrame, error) {
	if len(d.frames) > d.delay || (d.draining && len(d.frames) > 0) {
		f := d.frames[0]
		d.frames = d.frames[1:]
		return f, nil
	}
	if d.draining {
		return media.DecodedFrame{}, media.ErrEndOfStream
	}
	return media.DecodedFrame{}, media.ErrWouldBlock
}

func (d *decoder) Flush() {
	d.frames = d.frames[:0]
	d.draining = false
}

func (d *decoder) Close() error {
	d.closed = true
	d.frames = nil
	return nil
}

func videoConverter(info media.StreamInfo) func(media.Packet) (media.DecodedFrame, error) {
	vi := media.VideoInfo{Width: info.Width, Height: info.Height, Format: info.PixelFormat, SAR: info.SAR}
	return func(pkt media.Packet) (media.DecodedFrame, error) {
		if len(pkt.Data) < 8 {
			return media.DecodedFrame{}, ErrCorrupt
		}
		return media.DecodedFrame{
			PTS:        pkt.PTS,
			PktDTS:     pkt.DTS,
			BestEffort: pkt.TS(),
			Pos:        pkt.Pos,
			Video:      vi,
			Data:       binary.LittleEndian.Uint64(pkt.Data),
		}, nil
	}
}

func audioConverter(info media.StreamInfo) func(media.Packet) (media.DecodedFrame, error) {
	return func(pkt media.Packet) (media.DecodedFrame, error) {
		frameSize := 2 * info.Channels
		if frameSize == 0 || len(pkt.Data)%frameSize != 0 {
			return media.DecodedFrame{}, ErrCorrupt
		}
		samples := make([]int16, len(pkt.Data)/2)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(pkt.Data[2*i:]))
		}
		return media.DecodedFrame{
			PTS:        pkt.PTS,
			PktDTS:     pkt.DTS,
			BestEffort: pkt.TS(),
			Pos:        pkt.Pos,
			Audio: media.AudioInfo{
				SampleRate: info.SampleRate,
				Channels:   info.Channels,
				Format:     media.SampleFormatS16,
				NbSamples:  len(pkt.Data) / frameSize,
			},
			Data: samples,
		}, nil
	}
}

func subtitleConverter(info media.StreamInfo) func(media.Packet) (media.DecodedFrame, error) {
	return func(pkt media.Packet) (media.DecodedFrame, error) {
		end := time.Duration(float64(pkt.Duration) * info.TimeBase.Float() * float64(time.Second))
		return media.DecodedFrame{
			PTS:        pkt.PTS,
			PktDTS:     pkt.DTS,
			BestEffort: pkt.TS(),
			Pos:        pkt.Pos,
			Subtitle:   media.SubtitleInfo{EndDisplay: end, Text: string(pkt.Data)},
		}, nil
	}
}
