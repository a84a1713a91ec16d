// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package decoder

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/frameq"
	"github.com/ManuGH/xg2g-player/internal/playback/packetq"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeDecoder emits one frame per data packet, in order.
type fakeDecoder struct {
	mu       sync.Mutex
	queue    []media.Packet
	draining bool
	flushes  int
	noPTS    bool
	samples  int
}

func (f *fakeDecoder) SendPacket(pkt media.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pkt.Kind == media.PacketEndOfStream {
		f.draining = true
		return nil
	}
	f.queue = append(f.queue, pkt)
	return nil
}

func (f *fakeDecoder) ReceiveFrame() (media.DecodedFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		if f.draining {
			return media.DecodedFrame{}, media.ErrEndOfStream
		}
		return media.DecodedFrame{}, media.ErrWouldBlock
	}
	pkt := f.queue[0]
	f.queue = f.queue[1:]
	pts := pkt.PTS
	if f.noPTS {
		pts = media.NoPTS
	}
	return media.DecodedFrame{
		PTS:        pts,
		PktDTS:     pkt.DTS,
		BestEffort: pkt.PTS + 1,
		Pos:        pkt.Pos,
		Audio:      media.AudioInfo{SampleRate: 48000, Channels: 2, Format: media.SampleFormatS16, NbSamples: f.samples},
	}, nil
}

func (f *fakeDecoder) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = nil
	f.draining = false
	f.flushes++
}

func (f *fakeDecoder) Close() error { return nil }

func setup(t *testing.T, stream media.StreamInfo, opts Options) (*Adapter, *fakeDecoder, *packetq.Queue) {
	t.Helper()
	pq := packetq.New(context.Background(), stream.Type.String())
	fq := frameq.New(pq, frameq.VideoCapacity, true)
	dec := &fakeDecoder{samples: 1024}
	opts.Stream = stream
	a := New(dec, pq, fq, opts)
	t.Cleanup(func() {
		_ = a.Abort()
		pq.Destroy()
		fq.Destroy()
	})
	require.NoError(t, pq.Start())
	return a, dec, pq
}

func videoStream() media.StreamInfo {
	return media.StreamInfo{Index: 0, Type: media.TypeVideo, TimeBase: media.Rational{Num: 1, Den: 1000}, StartTime: media.NoPTS}
}

func TestAdapter_ReorderModes(t *testing.T) {
	cases := []struct {
		mode ReorderMode
		want float64
	}{
		{ReorderAuto, 0.101},
		{ReorderOff, 0.090},
		{ReorderOn, 0.100},
	}
	for _, tc := range cases {
		a, _, pq := setup(t, videoStream(), Options{Reorder: tc.mode})
		require.NoError(t, pq.Put(media.Packet{PTS: 100, DTS: 90, Pos: 7}))

		d, ok, err := a.DecodeFrame()
		require.NoError(t, err)
		require.True(t, ok)
		assert.InDelta(t, tc.want, d.PTS, 1e-9)
		assert.Equal(t, pq.Serial(), d.Serial)
		assert.Equal(t, int64(7), d.Pos)
	}
}

func TestAdapter_FinishedAfterEndOfStream(t *testing.T) {
	a, dec, pq := setup(t, videoStream(), Options{Reorder: ReorderOn})
	require.NoError(t, pq.Put(media.Packet{PTS: 40, DTS: 40}))
	require.NoError(t, pq.PutEndOfStream(0))

	_, ok, err := a.DecodeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, a.Finished())

	_, ok, err = a.DecodeFrame()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, pq.Serial(), a.Finished())

	// A new segment resets the finished serial.
	pq.Flush()
	require.NoError(t, pq.PutFlushMarker())
	require.NoError(t, pq.Put(media.Packet{PTS: 80, DTS: 80}))
	d, ok, err := a.DecodeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.080, d.PTS, 1e-9)
	assert.Zero(t, a.Finished())
	assert.GreaterOrEqual(t, dec.flushes, 2)
}

func TestAdapter_StaleFramesInPrimitiveAreNotReturned(t *testing.T) {
	a, dec, pq := setup(t, videoStream(), Options{Reorder: ReorderOn})

	// Two packets reach the primitive under the first serial.
	require.NoError(t, pq.Put(media.Packet{PTS: 1, DTS: 1}))
	d, ok, err := a.DecodeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.001, d.PTS, 1e-9)
	require.NoError(t, dec.SendPacket(media.Packet{PTS: 2, DTS: 2}))

	// Seek: the buffered frame must be discarded with the old segment.
	pq.Flush()
	require.NoError(t, pq.PutFlushMarker())
	require.NoError(t, pq.Put(media.Packet{PTS: 500, DTS: 500}))

	d, ok, err = a.DecodeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.5, d.PTS, 1e-9)
	assert.Equal(t, pq.Serial(), d.Serial)
}

func TestAdapter_AudioPTSPrediction(t *testing.T) {
	stream := media.StreamInfo{Index: 1, Type: media.TypeAudio, TimeBase: media.Rational{Num: 1, Den: 48000}, StartTime: 0}
	a, dec, pq := setup(t, stream, Options{SeedAudioStart: true})
	dec.noPTS = true

	require.NoError(t, pq.Put(media.Packet{StreamIndex: 1, PTS: media.NoPTS, DTS: media.NoPTS}))
	require.NoError(t, pq.Put(media.Packet{StreamIndex: 1, PTS: media.NoPTS, DTS: media.NoPTS}))

	d, ok, err := a.DecodeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.0, d.PTS, 1e-9)

	d, ok, err = a.DecodeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1024.0/48000.0, d.PTS, 1e-9)
}

func TestAdapter_UnknownAudioPTSWithoutStart(t *testing.T) {
	stream := media.StreamInfo{Index: 1, Type: media.TypeAudio, TimeBase: media.Rational{Num: 1, Den: 48000}, StartTime: media.NoPTS}
	a, dec, pq := setup(t, stream, Options{})
	dec.noPTS = true
	require.NoError(t, pq.Put(media.Packet{StreamIndex: 1}))

	d, ok, err := a.DecodeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, math.IsNaN(d.PTS))
}

func TestAdapter_AudioStartNotSeededForIndexedSources(t *testing.T) {
	stream := media.StreamInfo{Index: 1, Type: media.TypeAudio, TimeBase: media.Rational{Num: 1, Den: 48000}, StartTime: 0}
	a, dec, pq := setup(t, stream, Options{})
	dec.noPTS = true
	require.NoError(t, pq.Put(media.Packet{StreamIndex: 1, PTS: media.NoPTS, DTS: media.NoPTS}))

	d, ok, err := a.DecodeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, math.IsNaN(d.PTS), "no prediction without a seeded start")
}

func TestAdapter_OnEmptyAndAbort(t *testing.T) {
	var empties atomic.Int32
	a, _, pq := setup(t, videoStream(), Options{OnEmpty: func() { empties.Add(1) }})

	var frames atomic.Int32
	a.Start(func(ctx context.Context) error {
		return a.Run(func(Decoded) error {
			frames.Add(1)
			return nil
		})
	})

	require.NoError(t, pq.Put(media.Packet{PTS: 10, DTS: 10}))
	require.Eventually(t, func() bool { return frames.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return empties.Load() > 0 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- a.Abort() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("abort did not stop the decode goroutine")
	}
}
