// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"math"
	"time"
)

// Surface is an opaque render resource handed out by a Renderer.
type Surface any

// VideoInfo describes a decoded picture.
type VideoInfo struct {
	Width  int
	Height int
	Format PixelFormat
	SAR    Rational
}

// AudioInfo describes a decoded block of audio.
type AudioInfo struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
	NbSamples  int
}

// SubtitleInfo describes a decoded subtitle event. Display times are relative
// to the frame pts.
type SubtitleInfo struct {
	StartDisplay time.Duration
	EndDisplay   time.Duration
	Text         string
	Bitmap       bool
}

// Frame is a decoded picture, audio block or subtitle event.
type Frame struct {
	Type     Type
	PTS      float64 // seconds, NaN when unknown
	Duration float64 // seconds
	Pos      int64   // byte offset of the source packet, diagnostic
	Serial   int

	Video    VideoInfo
	Audio    AudioInfo
	Subtitle SubtitleInfo

	// Data holds the decoded payload: interleaved samples for audio
	// ([]int16), planes or any renderer-specific value for video.
	Data any

	// Render resource readiness, owned by the renderer side.
	Surface   Surface
	Allocated bool
	Uploaded  bool
}

// Samples returns the interleaved S16 payload of an audio frame.
func (f *Frame) Samples() []int16 {
	if s, ok := f.Data.([]int16); ok {
		return s
	}
	return nil
}

// HasPTS reports whether the frame carries a known presentation timestamp.
func (f *Frame) HasPTS() bool {
	return !math.IsNaN(f.PTS)
}

// Reset drops the payload and timing of f but keeps render resources so the
// slot can be reused without reallocation.
func (f *Frame) Reset() {
	surface, allocated := f.Surface, f.Allocated
	video := f.Video
	*f = Frame{PTS: math.NaN(), Pos: -1}
	f.Surface, f.Allocated, f.Video = surface, allocated, video
}

// DecodedFrame is what a FrameDecoder returns. Timestamps are in the time base
// of the stream the decoder was created for.
type DecodedFrame struct {
	PTS        int64
	PktDTS     int64
	BestEffort int64
	Pos        int64
	Video      VideoInfo
	Audio      AudioInfo
	Subtitle   SubtitleInfo
	Data       any
}
