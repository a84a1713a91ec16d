// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package clock implements the per-stream presentation clock.
//
// A clock is pinned to a pts at a system time and extrapolates from there.
// It reports NaN once the serial it was pinned under no longer matches the
// serial of its source queue, which is how data from before a seek is
// suppressed.
package clock

import (
	"math"
	"sync"
	"time"
)

// Speed bounds for clocks nudged by external clock speed control.
const (
	SpeedMin  = 0.900
	SpeedMax  = 1.010
	SpeedStep = 0.001
)

// TimeSource yields a monotonic time in seconds.
type TimeSource interface {
	Now() float64
}

var epoch = time.Now()

// SystemTime is the monotonic process clock.
type SystemTime struct{}

// Now returns seconds elapsed since package initialisation.
func (SystemTime) Now() float64 { return time.Since(epoch).Seconds() }

// IsValid reports whether v is a usable clock value.
func IsValid(v float64) bool { return !math.IsNaN(v) }

// Clock is safe for concurrent use.
type Clock struct {
	mu          sync.Mutex
	pts         float64
	ptsDrift    float64
	lastUpdated float64
	speed       float64
	serial      int
	paused      bool

	// serialOf reports the serial of the source queue. nil means the clock
	// is its own source.
	serialOf func() int
	ts       TimeSource
}

// New returns a clock whose validity follows serialOf, usually the Serial
// method of the stream packet queue.
func New(serialOf func() int, ts TimeSource) *Clock {
	if ts == nil {
		ts = SystemTime{}
	}
	c := &Clock{speed: 1.0, serialOf: serialOf, ts: ts}
	c.Set(math.NaN(), -1)
	return c
}

// NewExternal returns a free-running clock that is never stale.
func NewExternal(ts TimeSource) *Clock {
	return New(nil, ts)
}

// Set pins the clock to pts observed now.
func (c *Clock) Set(pts float64, serial int) {
	c.SetAt(pts, serial, c.ts.Now())
}

// SetAt pins the clock to pts observed at system time t.
func (c *Clock) SetAt(pts float64, serial int, t float64) {
	c.mu.Lock()
	c.setAtLocked(pts, serial, t)
	c.mu.Unlock()
}

func (c *Clock) setAtLocked(pts float64, serial int, t float64) {
	c.pts = pts
	c.lastUpdated = t
	c.ptsDrift = pts - t
	c.serial = serial
}

// Get returns the extrapolated clock value, or NaN when the clock is stale.
func (c *Clock) Get() float64 {
	source := -1
	if c.serialOf != nil {
		source = c.serialOf()
	}
	now := c.ts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(source, now)
}

func (c *Clock) getLocked(source int, now float64) float64 {
	if c.serialOf != nil && source != c.serial {
		return math.NaN()
	}
	if c.paused {
		return c.pts
	}
	return c.ptsDrift + now - (now-c.lastUpdated)*(1.0-c.speed)
}

// SetPaused freezes or releases the clock.
func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
}

// Paused reports whether the clock is frozen.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SetSpeed re-pins the clock at its current value and changes its rate.
// speed is clamped to [SpeedMin, SpeedMax].
func (c *Clock) SetSpeed(speed float64) {
	speed = math.Max(SpeedMin, math.Min(SpeedMax, speed))
	source := -1
	if c.serialOf != nil {
		source = c.serialOf()
	}
	now := c.ts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setAtLocked(c.getLocked(source, now), c.serial, now)
	c.speed = speed
}

// Speed returns the current rate.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Serial returns the serial the clock was last pinned under.
func (c *Clock) Serial() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

// Pts returns the last pinned pts.
func (c *Clock) Pts() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pts
}

// LastUpdated returns the system time of the last pin.
func (c *Clock) LastUpdated() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// Resync re-pins the clock at its current value, keeping its serial.
func (c *Clock) Resync() {
	source := -1
	if c.serialOf != nil {
		source = c.serialOf()
	}
	now := c.ts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setAtLocked(c.getLocked(source, now), c.serial, now)
}

// SyncTo re-pins c to other when c is invalid or drifted further than
// threshold from it. An invalid other leaves c untouched.
func (c *Clock) SyncTo(other *Clock, threshold float64) {
	own := c.Get()
	ref := other.Get()
	if math.IsNaN(ref) {
		return
	}
	if math.IsNaN(own) || math.Abs(own-ref) > threshold {
		c.Set(ref, other.Serial())
	}
}
