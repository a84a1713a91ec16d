// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"fmt"
	"math"
)

// Type is the kind of an elementary stream.
type Type int

const (
	TypeUnknown Type = iota
	TypeVideo
	TypeAudio
	TypeSubtitle
)

// Types lists the media types handled by the engine, in open order.
var Types = []Type{TypeAudio, TypeVideo, TypeSubtitle}

func (t Type) String() string {
	switch t {
	case TypeVideo:
		return "video"
	case TypeAudio:
		return "audio"
	case TypeSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// ParseType parses the String form of a stream type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if t.String() == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("media: unknown stream type %q", s)
}

// NoPTS marks an unknown timestamp in stream time base units.
const NoPTS int64 = math.MinInt64

// Rational is a time base or frame rate.
type Rational struct {
	Num int
	Den int
}

// Float returns the value of r, or 0 when the denominator is zero.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Valid reports whether both terms are non-zero.
func (r Rational) Valid() bool { return r.Num != 0 && r.Den != 0 }

func (r Rational) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

// Seconds converts ts expressed in time base r to seconds. Unknown timestamps
// yield NaN.
func (r Rational) Seconds(ts int64) float64 {
	if ts == NoPTS {
		return math.NaN()
	}
	return float64(ts) * r.Float()
}

// PixelFormat identifies the memory layout of a decoded picture.
type PixelFormat int

const (
	PixelFormatNone PixelFormat = iota
	PixelFormatYUV420P
	PixelFormatBGRA
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatYUV420P:
		return "yuv420p"
	case PixelFormatBGRA:
		return "bgra"
	default:
		return "none"
	}
}

// SampleFormat identifies the layout of decoded audio samples.
type SampleFormat int

const (
	SampleFormatNone SampleFormat = iota
	// SampleFormatS16 is signed 16 bit, interleaved, native endian.
	SampleFormatS16
)

// BytesPerSample returns the size of one sample of one channel.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatS16:
		return 2
	default:
		return 0
	}
}
