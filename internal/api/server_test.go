// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/session"
	xgtls "github.com/ManuGH/xg2g-player/internal/tls"
)

type seekCall struct {
	target, rel int64
	byBytes     bool
}

type fakeController struct {
	mu       sync.Mutex
	paused   bool
	muted    bool
	volume   int
	seeks    []seekCall
	relative []time.Duration
	chapters []int
	fracs    []float64
	cycled   []media.Type
	steps    int
	stopped  bool
	err      error
}

func (f *fakeController) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Snapshot{SessionID: "s-1", Input: "synthetic://bars", Paused: f.paused, Volume: f.volume, Muted: f.muted, MasterClock: -1, Stopped: f.stopped, DemuxBreaker: "closed"}
}

func (f *fakeController) TogglePause() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = !f.paused
	return f.paused, f.err
}

func (f *fakeController) StepFrame() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps++
	return f.err
}

func (f *fakeController) Seek(target, rel int64, byBytes bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seekCall{target, rel, byBytes})
	return f.err
}

func (f *fakeController) SeekRelative(incr time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relative = append(f.relative, incr)
	return f.err
}

func (f *fakeController) SeekChapter(incr int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chapters = append(f.chapters, incr)
	return f.err
}

func (f *fakeController) SeekFraction(frac float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fracs = append(f.fracs, frac)
	return f.err
}

func (f *fakeController) SetVolume(percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = percent
	return f.err
}

func (f *fakeController) UpdateVolume(sign int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.volume += 2 * sign
	return f.volume, nil
}

func (f *fakeController) ToggleMute() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = !f.muted
	return f.muted, f.err
}

func (f *fakeController) CycleStream(t media.Type) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycled = append(f.cycled, t)
	return f.err
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:4242"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestSnapshotAndHealth(t *testing.T) {
	h := New(Config{}, &fakeController{volume: 100}).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/session/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "s-1", body["session_id"])
	assert.EqualValues(t, 100, body["volume"])

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "xg2g_player_http_request_duration_seconds")
}

func TestReadinessFollowsSession(t *testing.T) {
	ctl := &fakeController{stopped: true}
	h := New(Config{Version: "v0.1.0"}, ctl).Handler()

	rec := do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["ready"])
	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, checks, "session")

	// Liveness stays up while the process answers.
	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v0.1.0", decode(t, rec)["version"])
}

func TestPauseStepAndMute(t *testing.T) {
	ctl := &fakeController{}
	h := New(Config{}, ctl).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/session/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["paused"])

	rec = do(t, h, http.MethodPost, "/api/v1/session/step", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, ctl.steps)

	rec = do(t, h, http.MethodPost, "/api/v1/session/mute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["muted"])
}

func TestSeekEndpoints(t *testing.T) {
	ctl := &fakeController{}
	h := New(Config{}, ctl).Handler()

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/session/seek", `{"position":"1m30s"}`).Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/session/seek", `{"bytes":4096}`).Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/session/seek/relative", `{"offset":"-10s"}`).Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/session/seek/chapter", ``).Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/session/seek/chapter", `{"incr":-1}`).Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/session/seek/fraction", `{"fraction":0.25}`).Code)

	assert.Equal(t, []seekCall{
		{target: (90 * time.Second).Microseconds()},
		{target: 4096, byBytes: true},
	}, ctl.seeks)
	assert.Equal(t, []time.Duration{-10 * time.Second}, ctl.relative)
	assert.Equal(t, []int{1, -1}, ctl.chapters)
	assert.Equal(t, []float64{0.25}, ctl.fracs)
}

func TestSeekValidation(t *testing.T) {
	ctl := &fakeController{}
	h := New(Config{}, ctl).Handler()

	cases := []struct {
		path, body string
	}{
		{"/api/v1/session/seek", `{}`},
		{"/api/v1/session/seek", `{"position":"soon"}`},
		{"/api/v1/session/seek", `{"position":"-5s"}`},
		{"/api/v1/session/seek", `{"position":"5s","bytes":10}`},
		{"/api/v1/session/seek", `{"bytes":-1}`},
		{"/api/v1/session/seek", `{"unknown":1}`},
		{"/api/v1/session/seek/relative", `{"offset":"ten"}`},
		{"/api/v1/session/seek/fraction", `{"fraction":1.5}`},
	}
	for _, tc := range cases {
		rec := do(t, h, http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %s", tc.path, tc.body)
	}
	assert.Empty(t, ctl.seeks)
	assert.Empty(t, ctl.relative)
	assert.Empty(t, ctl.fracs)
}

func TestVolume(t *testing.T) {
	ctl := &fakeController{volume: 50}
	h := New(Config{}, ctl).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/session/volume", `{"percent":30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 30, decode(t, rec)["volume"])

	rec = do(t, h, http.MethodPost, "/api/v1/session/volume", `{"step":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 32, decode(t, rec)["volume"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/session/volume", `{"percent":101}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/session/volume", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/session/volume", `{"percent":5,"step":1}`).Code)
}

func TestCycleStream(t *testing.T) {
	ctl := &fakeController{}
	h := New(Config{}, ctl).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/session/streams/subtitle/cycle", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/session/streams/data/cycle", "").Code)
	assert.Equal(t, []media.Type{media.TypeSubtitle}, ctl.cycled)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{session.ErrClosed, http.StatusServiceUnavailable},
		{session.ErrNoAudio, http.StatusConflict},
		{fmt.Errorf("session: byte seek: %w", media.ErrNotSupported), http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := New(Config{}, &fakeController{err: tc.err}).Handler()
		rec := do(t, h, http.MethodPost, "/api/v1/session/volume", `{"step":-1}`)
		assert.Equal(t, tc.code, rec.Code, "%v", tc.err)
	}
}

func TestControlRateLimit(t *testing.T) {
	h := New(Config{RateLimit: 2}, &fakeController{}).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/session/pause", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/session/pause", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/v1/session/pause", "").Code)

	// State reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/session/", "").Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv := New(Config{Listen: "127.0.0.1:0", ShutdownTimeout: time.Second}, &fakeController{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenAndServeTLSStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "api.crt"), filepath.Join(dir, "api.key")
	require.NoError(t, xgtls.GenerateSelfSigned(cert, key, nil, time.Hour))

	srv := New(Config{Listen: "127.0.0.1:0", TLSCert: cert, TLSKey: key, ShutdownTimeout: time.Second}, &fakeController{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
