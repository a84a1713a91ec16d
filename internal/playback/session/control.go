// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"fmt"
	"math"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/audio"
)

// bytesPerSecondFallback converts seconds to bytes when the input has no bit
// rate.
const bytesPerSecondFallback = 180000.0

// OpenStream opens stream index if no stream of its type is open.
func (s *Session) OpenStream(index int) error {
	return s.exec(func() error { return s.openStream(index) })
}

// CloseStream closes stream index.
func (s *Session) CloseStream(index int) error {
	return s.exec(func() error {
		c := s.componentByIndex(index)
		if c == nil {
			return fmt.Errorf("session: stream %d is not open", index)
		}
		s.closeComponent(c)
		return nil
	})
}

// Seek requests an absolute seek. target and rel are microseconds, or bytes
// with byBytes; rel is the signed distance from the current position and
// bounds how far the demuxer may land from target. A seek issued while
// another is pending is ignored.
func (s *Session) Seek(target, rel int64, byBytes bool) error {
	return s.exec(func() error { return s.seekTo(target, rel, byBytes, "absolute") })
}

func (s *Session) seekTo(target, rel int64, byBytes bool, mode string) error {
	if byBytes && !s.info.ByteSeekable {
		return fmt.Errorf("session: byte seek: %w", media.ErrNotSupported)
	}
	s.requestSeek(target, rel, byBytes, mode)
	return nil
}

// SeekRelative moves playback by incr from the current position. In byte
// mode the offset is converted with the input bit rate.
func (s *Session) SeekRelative(incr time.Duration) error {
	return s.exec(func() error {
		secs := incr.Seconds()
		if s.seekByBytes {
			pos := s.lastShownPos()
			delta := secs * bytesPerSecondFallback
			if s.info.BitRate > 0 {
				delta = secs * float64(s.info.BitRate) / 8.0
			}
			return s.seekTo(pos+int64(delta), int64(delta), true, "relative")
		}

		pos := s.engine.MasterClock()
		if math.IsNaN(pos) {
			pos = float64(s.pendingOrLastTarget()) / 1e6
		}
		pos += secs
		if start := s.info.StartTime.Seconds(); s.info.StartTime > 0 && pos < start {
			pos = start
		}
		return s.seekTo(int64(pos*1e6), int64(secs*1e6), false, "relative")
	})
}

// lastShownPos returns the byte position of the frame shown last, falling
// back to the reader position.
func (s *Session) lastShownPos() int64 {
	for _, t := range []media.Type{media.TypeVideo, media.TypeAudio} {
		if c := s.component(t); c != nil {
			if pos, ok := c.track().fq.LastPos(); ok {
				return pos
			}
		}
	}
	return max(s.lastPos.Load(), 0)
}

// pendingOrLastTarget is the position used while the master clock is
// unknown: the pending seek target, else the last executed one.
func (s *Session) pendingOrLastTarget() int64 {
	s.seekMu.Lock()
	defer s.seekMu.Unlock()
	if s.seek != nil && !s.seek.byBytes {
		return s.seek.target
	}
	return s.lastSeek.Load()
}

// SeekChapter jumps incr chapters from the chapter containing the current
// position. Moving before the first chapter lands on it; moving past the
// last one is ignored.
func (s *Session) SeekChapter(incr int) error {
	return s.exec(func() error {
		chapters := s.info.Chapters
		if len(chapters) == 0 {
			return nil
		}
		var pos time.Duration
		if master := s.engine.MasterClock(); !math.IsNaN(master) {
			pos = time.Duration(master * float64(time.Second))
		}
		i := 0
		for ; i < len(chapters); i++ {
			if pos < chapters[i].Start {
				i--
				break
			}
		}
		i = max(i+incr, 0)
		if i >= len(chapters) {
			return nil
		}
		s.logger.Info().Str(xglog.FieldEvent, "session.seek_chapter").Int("chapter", i).Str("title", chapters[i].Title).Msg("seeking to chapter")
		return s.seekTo(chapters[i].Start.Microseconds(), 0, false, "chapter")
	})
}

// SeekFraction seeks to frac (0..1) of the input, by bytes when byte seeking
// is active or the duration is unknown.
func (s *Session) SeekFraction(frac float64) error {
	frac = math.Max(0, math.Min(1, frac))
	return s.exec(func() error {
		if s.seekByBytes || s.info.Duration <= 0 {
			if s.info.Size <= 0 {
				return fmt.Errorf("session: fraction seek on input of unknown size: %w", media.ErrNotSupported)
			}
			return s.seekTo(int64(float64(s.info.Size)*frac), 0, true, "fraction")
		}
		ts := time.Duration(frac*float64(s.info.Duration)) + s.info.StartTime
		s.logger.Info().
			Str(xglog.FieldEvent, "session.seek_fraction").
			Float64("fraction", frac).
			Dur("position", ts-s.info.StartTime).
			Dur("duration", s.info.Duration).
			Msg("seeking to fraction")
		return s.seekTo(ts.Microseconds(), 0, false, "fraction")
	})
}

// TogglePause flips the pause state and returns the new state.
func (s *Session) TogglePause() (bool, error) {
	var paused bool
	err := s.exec(func() error {
		paused = s.engine.TogglePause()
		s.wakeReader()
		return nil
	})
	return paused, err
}

// StepFrame shows the next frame and pauses again.
func (s *Session) StepFrame() error {
	return s.exec(func() error {
		s.engine.StepFrame()
		s.wakeReader()
		return nil
	})
}

func (s *Session) audioOutput() *audio.Output {
	if c, ok := s.component(media.TypeAudio).(*audioComponent); ok {
		return c.out
	}
	return nil
}

// SetVolume sets the volume in percent, clamped to [0, 100].
func (s *Session) SetVolume(percent int) error {
	return s.exec(func() error {
		percent = max(0, min(100, percent))
		s.volume.Store(int32(percent))
		if out := s.audioOutput(); out != nil {
			out.SetVolume(percent)
		}
		return nil
	})
}

// UpdateVolume moves the volume one step up (sign > 0) or down and returns
// the new volume in percent.
func (s *Session) UpdateVolume(sign int) (int, error) {
	var percent int
	err := s.exec(func() error {
		out := s.audioOutput()
		if out == nil {
			return ErrNoAudio
		}
		switch {
		case sign > 0:
			sign = 1
		case sign < 0:
			sign = -1
		}
		mixer := out.UpdateVolume(sign, audio.VolumeStep)
		percent = (mixer*100 + audio.MaxVolume/2) / audio.MaxVolume
		s.volume.Store(int32(percent))
		return nil
	})
	return percent, err
}

// ToggleMute flips the mute state and returns it.
func (s *Session) ToggleMute() (bool, error) {
	var muted bool
	err := s.exec(func() error {
		if out := s.audioOutput(); out != nil {
			muted = out.ToggleMute()
		} else {
			muted = !s.muted.Load()
		}
		s.muted.Store(muted)
		return nil
	})
	return muted, err
}

// CycleStream switches to the next stream of type t. Subtitles cycle through
// an "off" state after the last stream.
func (s *Session) CycleStream(t media.Type) error {
	return s.exec(func() error { return s.cycleStream(t) })
}

func (s *Session) cycleStream(t media.Type) error {
	s.compMu.RLock()
	old := s.comps[t]
	start := s.lastStream[t]
	s.compMu.RUnlock()
	if old != nil {
		start = old.Index()
	}

	next := start
	for {
		next++
		if next >= len(s.streams) {
			if t == media.TypeSubtitle {
				next = -1
				break
			}
			if start == -1 {
				return nil
			}
			next = 0
		}
		if next == start {
			return nil
		}
		st := s.streams[next]
		if st.Type == t && usable(st) {
			break
		}
	}

	s.logger.Info().
		Str(xglog.FieldEvent, "session.stream_cycle").
		Str(xglog.FieldMediaType, t.String()).
		Int("from", start).
		Int("to", next).
		Msg("switching stream")

	if old != nil {
		s.closeComponent(old)
	}
	if next < 0 {
		s.compMu.Lock()
		s.lastStream[t] = -1
		s.compMu.Unlock()
		return nil
	}
	return s.openStream(next)
}
