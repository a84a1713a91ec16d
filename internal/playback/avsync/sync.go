// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package avsync contains the clock model and frame scheduling logic that
// keeps audio and video aligned: master clock selection, target delay
// computation, late frame dropping, audio sample-count correction and
// external clock speed control.
package avsync

import (
	"fmt"
	"math"
	"strings"

	"github.com/ManuGH/xg2g-player/internal/media"
)

const (
	// SyncThresholdMin is the lower bound of the A-V sync threshold.
	SyncThresholdMin = 0.04
	// SyncThresholdMax is the upper bound of the A-V sync threshold. A frame
	// timer that fell further behind than this is reset to now.
	SyncThresholdMax = 0.1
	// FrameDupThreshold: frames longer than this are stretched by the drift
	// instead of being shown twice.
	FrameDupThreshold = 0.1
	// NoSyncThreshold: no correction is attempted beyond this error.
	NoSyncThreshold = 10.0

	// AudioDiffAvgNB is the number of measurements the audio diff filter
	// needs before it corrects.
	AudioDiffAvgNB = 20
	// SampleCorrectionPercentMax bounds audio sample-count correction.
	SampleCorrectionPercentMax = 10

	ExternalClockMinFrames  = 2
	ExternalClockMaxFrames  = 10
	ExternalClockSpeedMin   = 0.900
	ExternalClockSpeedMax   = 1.010
	ExternalClockSpeedStep  = 0.001
	RefreshRate             = 0.01
	DefaultMaxFrameDuration = 3600.0
)

// SyncType selects the master clock.
type SyncType int

const (
	AudioMaster SyncType = iota
	VideoMaster
	ExternalClock
)

func (s SyncType) String() string {
	switch s {
	case AudioMaster:
		return "audio"
	case VideoMaster:
		return "video"
	case ExternalClock:
		return "ext"
	default:
		return fmt.Sprintf("SyncType(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SyncType) MarshalText() ([]byte, error) {
	switch s {
	case AudioMaster, VideoMaster, ExternalClock:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("invalid sync type %d", int(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SyncType) UnmarshalText(b []byte) error {
	v, err := ParseSyncType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSyncType parses "audio", "video" or "ext".
func ParseSyncType(v string) (SyncType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "audio", "":
		return AudioMaster, nil
	case "video":
		return VideoMaster, nil
	case "ext", "external":
		return ExternalClock, nil
	}
	return AudioMaster, fmt.Errorf("unknown sync type %q (want audio, video or ext)", v)
}

// DropPolicy controls late and early frame dropping.
type DropPolicy int

const (
	// DropAuto drops frames unless video is the master clock.
	DropAuto DropPolicy = -1
	DropOff  DropPolicy = 0
	DropOn   DropPolicy = 1
)

// Allows reports whether dropping is enabled for the given master.
func (p DropPolicy) Allows(master SyncType) bool {
	return p > 0 || (p != DropOff && master != VideoMaster)
}

// MasterSyncType resolves the preferred master against the open streams. A
// preference for a stream that is not open degrades to the next candidate.
func MasterSyncType(preferred SyncType, hasVideo, hasAudio bool) SyncType {
	switch preferred {
	case VideoMaster:
		if hasVideo {
			return VideoMaster
		}
		if hasAudio {
			return AudioMaster
		}
		return ExternalClock
	case AudioMaster:
		if hasAudio {
			return AudioMaster
		}
		return ExternalClock
	default:
		return ExternalClock
	}
}

// SyncThreshold clamps delay into [SyncThresholdMin, SyncThresholdMax].
func SyncThreshold(delay float64) float64 {
	return math.Max(SyncThresholdMin, math.Min(SyncThresholdMax, delay))
}

// TargetDelay returns how long the current frame should stay on screen given
// its nominal duration and the drift of the video clock from the master
// clock. Video behind the master shrinks the delay down to zero; video ahead
// stretches long frames by the drift and shows short frames twice. Unknown
// or implausible drift leaves delay unchanged.
func TargetDelay(delay, videoClock, masterClock, maxFrameDuration float64) float64 {
	diff := videoClock - masterClock
	threshold := SyncThreshold(delay)
	if math.IsNaN(diff) || math.Abs(diff) >= maxFrameDuration {
		return delay
	}
	switch {
	case diff <= -threshold:
		return math.Max(0, delay+diff)
	case diff >= threshold && delay > FrameDupThreshold:
		return delay + diff
	case diff >= threshold:
		return 2 * delay
	}
	return delay
}

// FrameDuration returns the display duration of vp given the frame queued
// after it. Frames from different serials have no duration; implausible pts
// gaps fall back to the nominal frame duration.
func FrameDuration(vp, next *media.Frame, maxFrameDuration float64) float64 {
	if vp.Serial != next.Serial {
		return 0
	}
	d := next.PTS - vp.PTS
	if math.IsNaN(d) || d <= 0 || d > maxFrameDuration {
		return vp.Duration
	}
	return d
}

// SampleBounds returns the admissible range for a corrected sample count.
// The bounds are rounded inwards so the result never leaves ±10 %.
func SampleBounds(nbSamples int) (lo, hi int) {
	lo = (nbSamples*(100-SampleCorrectionPercentMax) + 99) / 100
	hi = nbSamples * (100 + SampleCorrectionPercentMax) / 100
	return lo, hi
}
