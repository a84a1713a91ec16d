// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var errRead = errors.New("read timeout")

func newTestBreaker(clock *mockClock) *Breaker {
	return New("test", 3, 10*time.Second, WithClock(clock), WithLogger(zerolog.Nop()))
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(errRead)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Failures())

	require.NoError(t, b.Allow())
	b.Record(errRead)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := newTestBreaker(&mockClock{now: time.Now()})

	b.Record(errRead)
	b.Record(errRead)
	b.Record(nil)
	b.Record(errRead)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Failures())
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	b := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		b.Record(errRead)
	}
	require.Equal(t, StateOpen, b.State())

	clock.now = clock.now.Add(11 * time.Second)
	require.NoError(t, b.Allow(), "cooldown elapsed admits a probe")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "only one probe in flight")

	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	b := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		b.Record(errRead)
	}
	clock.now = clock.now.Add(11 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(errRead)
	assert.Equal(t, StateOpen, b.State())

	clock.now = clock.now.Add(5 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "cooldown restarts on re-open")
}

func TestBreaker_Execute(t *testing.T) {
	b := newTestBreaker(&mockClock{now: time.Now()})
	calls := 0
	for i := 0; i < 5; i++ {
		_ = b.Execute(func() error {
			calls++
			return errRead
		})
	}
	assert.Equal(t, 3, calls, "open breaker short-circuits")
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestNew_Defaults(t *testing.T) {
	b := New("defaults", 0, 0, WithLogger(zerolog.Nop()))
	assert.Equal(t, 3, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
}
