// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audio

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/avsync"
	"github.com/ManuGH/xg2g-player/internal/playback/clock"
	"github.com/ManuGH/xg2g-player/internal/playback/frameq"
	"github.com/ManuGH/xg2g-player/internal/playback/packetq"
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

// manualSink never calls fill by itself; tests drive the callback.
type manualSink struct {
	bufferSize int
	paused     bool
	closed     bool
}

func (s *manualSink) Open(want media.AudioParams, _ func([]byte)) (media.AudioParams, error) {
	want.BufferSize = s.bufferSize
	s.paused = true
	return want, nil
}

func (s *manualSink) Pause(p bool) { s.paused = p }

func (s *manualSink) Close() error {
	s.closed = true
	return nil
}

type fixture struct {
	out    *Output
	engine *avsync.Engine
	stream *avsync.Stream
	sink   *manualSink
}

func newFixture(t *testing.T, ts clock.TimeSource, syncType avsync.SyncType) *fixture {
	t.Helper()
	pq := packetq.New(context.Background(), "audio")
	require.NoError(t, pq.Start())
	fq := frameq.New(pq, frameq.AudioCapacity, true)
	t.Cleanup(func() {
		pq.Destroy()
		fq.Destroy()
	})

	engine := avsync.New(avsync.Options{SyncType: syncType, TimeSource: ts})
	stream := &avsync.Stream{Packets: pq, Frames: fq}
	engine.Bind(media.TypeAudio, stream)

	sink := &manualSink{bufferSize: 4096}
	out, err := Open(Options{
		Engine:     engine,
		Stream:     stream,
		Sink:       sink,
		Source:     media.StreamInfo{Type: media.TypeAudio, SampleRate: 48000, Channels: 2},
		Volume:     100,
		TimeSource: ts,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = out.Close() })
	return &fixture{out: out, engine: engine, stream: stream, sink: sink}
}

func (f *fixture) pushBlock(t *testing.T, pts float64, serial, frames int, value int16) {
	t.Helper()
	slot := f.stream.Frames.PeekWritable()
	require.NotNil(t, slot)
	pcm := make([]int16, frames*2)
	for i := range pcm {
		pcm[i] = value
	}
	slot.Type = media.TypeAudio
	slot.PTS = pts
	slot.Serial = serial
	slot.Duration = float64(frames) / 48000
	slot.Audio = media.AudioInfo{SampleRate: 48000, Channels: 2, Format: media.SampleFormatS16, NbSamples: frames}
	slot.Data = pcm
	f.stream.Frames.Push()
}

func samplesOf(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return out
}

func TestOpen_StartsSinkAndConfiguresBuffer(t *testing.T) {
	f := newFixture(t, &fakeTime{now: 1}, avsync.AudioMaster)
	assert.False(t, f.sink.paused)
	assert.Equal(t, 4096, f.out.HardwareBufferSize())
	assert.Equal(t, 192000, f.out.Params().BytesPerSec())
	assert.Equal(t, MaxVolume, f.out.Volume())
}

func TestFill_CopiesAndPinsAudioClock(t *testing.T) {
	ft := &fakeTime{now: 50}
	f := newFixture(t, ft, avsync.AudioMaster)
	serial := f.stream.Packets.Serial()
	f.pushBlock(t, 1.0, serial, 1024, 1000)

	buf := make([]byte, 4096)
	f.out.Fill(buf)

	for _, s := range samplesOf(buf) {
		require.Equal(t, int16(1000), s)
	}
	want := 1.0 + 1024.0/48000 - float64(2*4096)/192000
	assert.InDelta(t, want, f.engine.AudioClock().Get(), 1e-9)
	assert.InDelta(t, want, f.engine.ExternalClock().Get(), 1e-9, "external clock follows audio")
	assert.InDelta(t, want, f.engine.MasterClock(), 1e-9)
}

func TestFill_SkipsStaleSerial(t *testing.T) {
	ft := &fakeTime{now: 50}
	f := newFixture(t, ft, avsync.AudioMaster)
	old := f.stream.Packets.Serial()
	f.pushBlock(t, 9.0, old, 1024, 7)
	fresh := f.stream.Packets.Flush()
	f.pushBlock(t, 2.0, fresh, 1024, 300)

	buf := make([]byte, 4096)
	f.out.Fill(buf)
	assert.Equal(t, int16(300), samplesOf(buf)[0])
	assert.Equal(t, fresh, f.engine.AudioClock().Serial())
}

func TestFill_VolumeAndMute(t *testing.T) {
	ft := &fakeTime{now: 50}
	f := newFixture(t, ft, avsync.AudioMaster)
	serial := f.stream.Packets.Serial()

	f.out.SetVolume(50)
	assert.Equal(t, 64, f.out.Volume())
	f.pushBlock(t, 1.0, serial, 1024, 1000)
	buf := make([]byte, 4096)
	f.out.Fill(buf)
	assert.Equal(t, int16(500), samplesOf(buf)[0])

	assert.True(t, f.out.ToggleMute())
	f.pushBlock(t, 2.0, serial, 1024, 1000)
	f.out.Fill(buf)
	assert.Equal(t, int16(0), samplesOf(buf)[0])
	assert.False(t, f.out.ToggleMute())
	assert.Positive(t, f.out.Played())
}

func TestFill_UnderrunWritesSilence(t *testing.T) {
	var underruns int
	pq := packetq.New(context.Background(), "audio")
	defer pq.Destroy()
	require.NoError(t, pq.Start())
	fq := frameq.New(pq, frameq.AudioCapacity, true)
	defer fq.Destroy()
	stream := &avsync.Stream{Packets: pq, Frames: fq}
	engine := avsync.New(avsync.Options{SyncType: avsync.AudioMaster})
	engine.Bind(media.TypeAudio, stream)

	out, err := Open(Options{
		Engine:     engine,
		Stream:     stream,
		Sink:       &manualSink{bufferSize: 4096},
		Source:     media.StreamInfo{SampleRate: 48000, Channels: 2},
		Volume:     100,
		OnUnderrun: func() { underruns++ },
	})
	require.NoError(t, err)

	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	out.Fill(buf)
	assert.Equal(t, make([]byte, 8), buf)
	assert.Equal(t, 1, underruns)
	assert.Equal(t, int64(1), out.Underruns())
}

func TestFill_PausedIsSilent(t *testing.T) {
	ft := &fakeTime{now: 50}
	f := newFixture(t, ft, avsync.AudioMaster)
	f.pushBlock(t, 1.0, f.stream.Packets.Serial(), 1024, 1000)
	f.engine.TogglePause()

	buf := make([]byte, 512)
	f.out.Fill(buf)
	assert.Equal(t, make([]byte, 512), buf)
	assert.Equal(t, 1, f.stream.Frames.Remaining(), "paused output does not consume frames")
}

func TestUpdateVolumeClamps(t *testing.T) {
	f := newFixture(t, &fakeTime{}, avsync.AudioMaster)
	assert.Equal(t, MaxVolume, f.out.UpdateVolume(1, VolumeStep))
	f.out.SetVolume(0)
	assert.Equal(t, 0, f.out.UpdateVolume(-1, VolumeStep))
	assert.Equal(t, VolumeStep, f.out.UpdateVolume(1, VolumeStep))
}

func TestClampVolume(t *testing.T) {
	l := zerolog.Nop()
	assert.Equal(t, 0, ClampVolume(-5, l))
	assert.Equal(t, MaxVolume, ClampVolume(250, l))
	assert.Equal(t, 64, ClampVolume(50, l))
}

func TestStretch(t *testing.T) {
	pcm := []int16{0, 0, 100, 100, 200, 200}
	out := Stretch(nil, pcm, 2, 5)
	require.Len(t, out, 10)
	assert.Equal(t, int16(0), out[0])
	assert.Equal(t, int16(50), out[2])
	assert.Equal(t, int16(200), out[8])

	same := Stretch(nil, pcm, 2, 3)
	assert.Equal(t, pcm, same)
}

func TestRemix(t *testing.T) {
	assert.Equal(t, []int16{5, 5, 7, 7}, Remix(nil, []int16{5, 7}, 1, 2))
	assert.Equal(t, []int16{6, 8}, Remix(nil, []int16{4, 8, 8, 8}, 2, 1))
}

func TestMixSaturates(t *testing.T) {
	dst := []byte{0xff, 0x7f} // 32767
	src := []byte{0xff, 0x7f}
	Mix(dst, src, MaxVolume)
	assert.Equal(t, []byte{0xff, 0x7f}, dst)
}
