// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import "time"

// StreamInfo describes one elementary stream of an opened source.
type StreamInfo struct {
	Index     int
	Type      Type
	Codec     string
	TimeBase  Rational
	FrameRate Rational // video only, zero when unknown
	StartTime int64    // in TimeBase, NoPTS when unknown

	Width       int
	Height      int
	PixelFormat PixelFormat
	SAR         Rational

	SampleRate int
	Channels   int

	// AttachedPicture is set for cover-art style video streams: the picture
	// is queued once (and again after every seek) instead of being read from
	// the container.
	AttachedPicture *Packet
}

// Chapter is a navigation point inside a source.
type Chapter struct {
	Start time.Duration
	Title string
}

// SourceInfo describes an opened input.
type SourceInfo struct {
	Name string
	URI  string

	// TSDiscontinuous is set for containers whose timestamps may jump
	// (MPEG-TS and friends); it bounds the plausible frame duration.
	TSDiscontinuous bool
	// Realtime is set for live sources that cannot be paced by the reader.
	Realtime bool
	// ByteSeekable reports whether SeekRequest.ByBytes is supported.
	ByteSeekable bool
	// ScanSeek is set for containers without an index or native seek that
	// can only land approximately. Audio without timestamps is then
	// predicted from the stream start after a flush.
	ScanSeek bool

	StartTime time.Duration // zero when unknown
	Duration  time.Duration // zero when unknown
	BitRate   int64         // bits per second, zero when unknown
	Size      int64         // bytes, -1 when unknown
	Chapters  []Chapter
}

// MaxFrameDuration returns the largest inter-frame gap treated as continuous.
func (s SourceInfo) MaxFrameDuration() float64 {
	if s.TSDiscontinuous {
		return 10.0
	}
	return 3600.0
}
