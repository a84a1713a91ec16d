// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package synthetic

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/xg2g-player/internal/media"
)

// ErrSinkOpen is returned when a sink is opened twice.
var ErrSinkOpen = errors.New("synthetic: sink already open")

func negotiate(want media.AudioParams, rate, channels int) media.AudioParams {
	got := want
	got.Format = media.SampleFormatS16
	if rate > 0 {
		got.SampleRate = rate
	}
	if channels > 0 {
		got.Channels = channels
	}
	if got.BufferSize <= 0 {
		got.BufferSize = 1024 * got.FrameSize()
	}
	return got
}

// ClockSink emulates an audio device: it calls fill from its own goroutine
// once per buffer period while unpaused.
type ClockSink struct {
	// SampleRate and Channels override the requested format when set.
	SampleRate int
	Channels   int

	mu      sync.Mutex
	params  media.AudioParams
	fill    func([]byte)
	paused  atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	calls   atomic.Int64
	nonZero atomic.Int64
}

// Open implements media.AudioSink. The sink starts paused.
func (s *ClockSink) Open(want media.AudioParams, fill func([]byte)) (media.AudioParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return media.AudioParams{}, ErrSinkOpen
	}
	s.params = negotiate(want, s.SampleRate, s.Channels)
	s.fill = fill
	s.paused.Store(true)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	period := time.Duration(float64(s.params.BufferSize) / float64(s.params.BytesPerSec()) * float64(time.Second))
	go s.loop(period, s.params.BufferSize, s.stop, s.done)
	return s.params, nil
}

func (s *ClockSink) loop(period time.Duration, size int, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	buf := make([]byte, size)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			s.fill(buf)
			s.calls.Add(1)
			for _, b := range buf {
				if b != 0 {
					s.nonZero.Add(1)
					break
				}
			}
		}
	}
}

// Pause implements media.AudioSink.
func (s *ClockSink) Pause(paused bool) { s.paused.Store(paused) }

// Close stops the callback goroutine and waits for it.
func (s *ClockSink) Close() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// Callbacks returns how many buffers were filled, and how many of them held
// audible data.
func (s *ClockSink) Callbacks() (total, audible int64) {
	return s.calls.Load(), s.nonZero.Load()
}

// ManualSink runs the fill callback only when the test calls Pull.
type ManualSink struct {
	SampleRate int
	Channels   int

	mu     sync.Mutex
	params media.AudioParams
	fill   func([]byte)
	paused bool
	closed bool
}

// Open implements media.AudioSink.
func (s *ManualSink) Open(want media.AudioParams, fill func([]byte)) (media.AudioParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fill != nil && !s.closed {
		return media.AudioParams{}, ErrSinkOpen
	}
	s.params = negotiate(want, s.SampleRate, s.Channels)
	s.fill = fill
	s.paused = true
	s.closed = false
	return s.params, nil
}

// Pull fills one hardware buffer synchronously. It returns nil while the
// sink is paused or closed.
func (s *ManualSink) Pull() []byte {
	s.mu.Lock()
	fill, paused, closed, size := s.fill, s.paused, s.closed, s.params.BufferSize
	s.mu.Unlock()
	if fill == nil || paused || closed {
		return nil
	}
	buf := make([]byte, size)
	fill(buf)
	return buf
}

// Pause implements media.AudioSink.
func (s *ManualSink) Pause(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// Paused reports the pause state.
func (s *ManualSink) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Close implements media.AudioSink.
func (s *ManualSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
