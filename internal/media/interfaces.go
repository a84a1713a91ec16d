// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import "context"

// SeekRequest is forwarded to the demuxer. Target, Min and Max are
// microseconds, or byte offsets when ByBytes is set.
type SeekRequest struct {
	Target  int64
	Min     int64
	Max     int64
	ByBytes bool
}

// Demuxer splits a source into per-stream packets.
type Demuxer interface {
	Info() SourceInfo
	Streams() []StreamInfo
	// ReadPacket returns the next packet, ErrEndOfStream at the end of the
	// input, or an error. Errors classified by IsTransient are retried.
	ReadPacket(ctx context.Context) (Packet, error)
	Seek(ctx context.Context, req SeekRequest) error
	// Pause and Play forward network pause state; ErrNotSupported is fine.
	Pause() error
	Play() error
	Close() error
}

// FrameDecoder is the external decode primitive for one stream. It buffers
// reordered frames internally.
type FrameDecoder interface {
	// SendPacket feeds compressed data. ErrWouldBlock means frames must be
	// received first; the packet has not been consumed.
	SendPacket(pkt Packet) error
	// ReceiveFrame returns ErrWouldBlock when more input is needed and
	// ErrEndOfStream once an end-of-stream packet has been fully drained.
	ReceiveFrame() (DecodedFrame, error)
	// Flush drops all buffered state, e.g. after a seek.
	Flush()
	Close() error
}

// DecoderFactory negotiates a decoder for a stream. Failure means the stream
// component cannot be opened.
type DecoderFactory interface {
	NewDecoder(info StreamInfo) (FrameDecoder, error)
}

// Renderer is the display sink. AllocateSurface is only ever called from the
// render goroutine.
type Renderer interface {
	AllocateSurface(width, height int, format PixelFormat) (Surface, error)
	// Present shows video with an optional subtitle overlay.
	Present(video *Frame, subtitle *Frame) error
}

// AudioParams describes the output format of an audio device.
type AudioParams struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
	// BufferSize is the hardware buffer size in bytes.
	BufferSize int
}

// FrameSize returns the size in bytes of one sample for all channels.
func (p AudioParams) FrameSize() int { return p.Channels * p.Format.BytesPerSample() }

// BytesPerSec returns the byte rate of the format.
func (p AudioParams) BytesPerSec() int { return p.SampleRate * p.FrameSize() }

// AudioSink is a pull-based audio device. It opens paused; after Pause(false)
// the sink calls fill from its own goroutine and expects it to return
// promptly.
type AudioSink interface {
	Open(want AudioParams, fill func(buf []byte)) (AudioParams, error)
	Pause(paused bool)
	Close() error
}
