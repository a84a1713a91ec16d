// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTime struct {
	mu  sync.Mutex
	now float64
}

func (f *fakeTime) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d float64) {
	f.mu.Lock()
	f.now += d
	f.mu.Unlock()
}

type serialSource struct{ serial int }

func (s *serialSource) Serial() int { return s.serial }

func TestClock_NewIsInvalid(t *testing.T) {
	src := &serialSource{serial: 1}
	c := New(src.Serial, &fakeTime{now: 100})
	assert.True(t, math.IsNaN(c.Get()))
	assert.Equal(t, -1, c.Serial())
	assert.Equal(t, 1.0, c.Speed())
}

func TestClock_Extrapolates(t *testing.T) {
	ft := &fakeTime{now: 1000}
	src := &serialSource{serial: 1}
	c := New(src.Serial, ft)

	c.Set(10.0, 1)
	ft.Advance(0.5)
	assert.InDelta(t, 10.5, c.Get(), 1e-9)
	assert.Equal(t, 10.0, c.Pts())
	assert.Equal(t, 1000.0, c.LastUpdated())
}

func TestClock_SetAtPastTime(t *testing.T) {
	ft := &fakeTime{now: 50}
	c := NewExternal(ft)
	c.SetAt(3.0, 0, 49.8)
	assert.InDelta(t, 3.2, c.Get(), 1e-9)
}

func TestClock_StaleSerialIsNaN(t *testing.T) {
	ft := &fakeTime{now: 5}
	src := &serialSource{serial: 1}
	c := New(src.Serial, ft)
	c.Set(2.0, 1)
	assert.True(t, IsValid(c.Get()))

	src.serial = 2
	assert.True(t, math.IsNaN(c.Get()), "clock pinned under old serial must be invalid")

	c.Set(0.0, 2)
	assert.InDelta(t, 0.0, c.Get(), 1e-9)
}

func TestClock_PausedFreezes(t *testing.T) {
	ft := &fakeTime{now: 0}
	c := NewExternal(ft)
	c.Set(4.0, 0)
	c.SetPaused(true)
	ft.Advance(3)
	assert.Equal(t, 4.0, c.Get())
	assert.True(t, c.Paused())

	c.Resync()
	c.SetPaused(false)
	ft.Advance(1)
	assert.InDelta(t, 5.0, c.Get(), 1e-9)
}

func TestClock_SpeedClampedAndApplied(t *testing.T) {
	ft := &fakeTime{now: 0}
	c := NewExternal(ft)
	c.Set(0, 0)

	c.SetSpeed(2.0)
	assert.Equal(t, SpeedMax, c.Speed())
	c.SetSpeed(0.1)
	assert.Equal(t, SpeedMin, c.Speed())

	ft.Advance(10)
	assert.InDelta(t, 9.0, c.Get(), 1e-9)
}

func TestClock_SyncTo(t *testing.T) {
	ft := &fakeTime{now: 0}
	src := &serialSource{serial: 3}
	video := New(src.Serial, ft)
	ext := NewExternal(ft)

	ext.SyncTo(video, 10)
	assert.True(t, math.IsNaN(ext.Get()), "invalid reference leaves clock untouched")

	video.Set(20, 3)
	ext.SyncTo(video, 10)
	assert.InDelta(t, 20, ext.Get(), 1e-9)
	assert.Equal(t, 3, ext.Serial())

	video.Set(25, 3)
	ext.SyncTo(video, 10)
	assert.InDelta(t, 20, ext.Get(), 1e-9, "within threshold")

	video.Set(40, 3)
	ext.SyncTo(video, 10)
	assert.InDelta(t, 40, ext.Get(), 1e-9)
}
