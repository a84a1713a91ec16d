// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package packetq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/xg2g-player/internal/media"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func dataPacket(n int) media.Packet {
	return media.Packet{StreamIndex: 0, Data: make([]byte, n), PTS: int64(n), DTS: int64(n), Duration: 10, Pos: -1}
}

func TestQueue_PutGetFIFO(t *testing.T) {
	q := New(context.Background(), "video")
	defer q.Destroy()

	require.NoError(t, q.Put(dataPacket(1)))
	require.NoError(t, q.Put(dataPacket(2)))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 3+2*entryOverhead, q.Size())
	assert.Equal(t, int64(20), q.Duration())

	pkt, serial, err := q.Get(false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pkt.PTS)
	assert.Equal(t, 0, serial)

	pkt, _, err = q.Get(false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pkt.PTS)

	_, _, err = q.Get(false)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Zero(t, q.Size())
	assert.Zero(t, q.Duration())
}

func TestQueue_StartQueuesFlushMarker(t *testing.T) {
	q := New(context.Background(), "audio")
	defer q.Destroy()

	require.NoError(t, q.Start())
	assert.Equal(t, 1, q.Serial())

	pkt, serial, err := q.Get(false)
	require.NoError(t, err)
	assert.Equal(t, media.PacketFlush, pkt.Kind)
	assert.Equal(t, 1, serial)
}

func TestQueue_EndOfStreamMarker(t *testing.T) {
	q := New(context.Background(), "audio")
	defer q.Destroy()

	require.NoError(t, q.PutEndOfStream(3))
	pkt, _, err := q.Get(true)
	require.NoError(t, err)
	assert.Equal(t, media.PacketEndOfStream, pkt.Kind)
	assert.Equal(t, 3, pkt.StreamIndex)
	assert.False(t, q.Aborted())
}

func TestQueue_SerialMonotonicAcrossFlushes(t *testing.T) {
	q := New(context.Background(), "video")
	defer q.Destroy()

	last := q.Serial()
	for round := 0; round < 50; round++ {
		for i := 0; i < round%4; i++ {
			require.NoError(t, q.Put(dataPacket(i+1)))
		}
		next := q.Flush()
		assert.Greater(t, next, last)
		last = next
		assert.Zero(t, q.Len())
		assert.Zero(t, q.Size())
		_, _, err := q.Get(false)
		assert.ErrorIs(t, err, ErrWouldBlock)
	}
}

// A consumer that has observed serial N must never receive a packet queued
// under an older serial, regardless of how Put, Flush and Get interleave.
func TestQueue_NoStalePacketAfterFlushObserved(t *testing.T) {
	q := New(context.Background(), "video")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			_ = q.Put(dataPacket(1))
			if i%17 == 0 {
				q.Flush()
			}
		}
	}()

	violations := 0
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			observed := q.Serial()
			_, serial, err := q.Get(false)
			if err == nil && serial < observed {
				violations++
			}
		}
	}()
	wg.Wait()
	q.Destroy()
	assert.Zero(t, violations)
}

func TestQueue_AbortReleasesBlockedGet(t *testing.T) {
	q := New(context.Background(), "subtitle")

	errCh := make(chan error, 1)
	go func() {
		_, _, err := q.Get(true)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Abort()
	q.Abort()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("blocked Get did not return after Abort")
	}

	assert.True(t, q.Aborted())
	assert.ErrorIs(t, q.Put(dataPacket(1)), ErrAborted)
	_, _, err := q.Get(false)
	assert.ErrorIs(t, err, ErrAborted)
	q.Destroy()
}

func TestQueue_ParentCancelAbortsQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := New(ctx, "audio")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = q.Get(true)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("parent cancellation did not release Get")
	}
	select {
	case <-q.Done():
	default:
		t.Fatal("Done not closed")
	}
	q.Destroy()
}

func TestQueue_Stats(t *testing.T) {
	q := New(context.Background(), "audio")
	defer q.Destroy()
	require.NoError(t, q.Start())
	require.NoError(t, q.Put(dataPacket(100)))

	st := q.Stats()
	assert.Equal(t, Stats{Serial: 1, Packets: 2, Bytes: 100 + 2*entryOverhead, Duration: 10}, st)
}
