// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCounter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func readGauge(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestRecordFrameDrops(t *testing.T) {
	before := readCounter(t, framesDropped.WithLabelValues("late"))
	RecordFrameDrops("late", 3)
	RecordFrameDrops("late", 0)
	RecordFrameDrops("late", -2)
	assert.Equal(t, before+3, readCounter(t, framesDropped.WithLabelValues("late")))
}

func TestSetQueueStateAndClear(t *testing.T) {
	SetQueueState("video", 12, 4096)
	assert.Equal(t, 12.0, readGauge(t, queuePackets.WithLabelValues("video")))
	assert.Equal(t, 4096.0, readGauge(t, queueBytes.WithLabelValues("video")))

	ClearQueueState("video")
	assert.Equal(t, 0.0, readGauge(t, queuePackets.WithLabelValues("video")), "cleared series restarts at zero")
}

func TestSetClocksIgnoresNaN(t *testing.T) {
	SetClocks(12.5, 0.02, 1.0)
	SetClocks(math.NaN(), math.NaN(), math.NaN())
	assert.Equal(t, 12.5, readGauge(t, masterClock))
	assert.Equal(t, 0.02, readGauge(t, avDiff))
	assert.Equal(t, 1.0, readGauge(t, externalClockSpeed))
}

func TestSetBreakerState(t *testing.T) {
	tests := []struct {
		state string
		want  float64
	}{
		{"closed", 0},
		{"half-open", 1},
		{"open", 2},
		{"bogus", 2},
	}
	for _, tt := range tests {
		SetBreakerState("demux", tt.state)
		assert.Equal(t, tt.want, readGauge(t, breakerState.WithLabelValues("demux")), tt.state)
	}
}

func TestRecordBreakerOpen(t *testing.T) {
	before := readCounter(t, breakerOpens.WithLabelValues("demux", "threshold"))
	RecordBreakerOpen("demux", "threshold")
	assert.Equal(t, before+1, readCounter(t, breakerOpens.WithLabelValues("demux", "threshold")))
}

func TestPromhttpExposure(t *testing.T) {
	RecordSeek("relative", "ok")
	RecordDemuxError("transient")
	RecordFrameDrops("early", 1)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.Handler().ServeHTTP(recorder, req)

	body := recorder.Body.String()
	for _, name := range []string{
		"xg2g_player_seeks_total",
		"xg2g_player_demux_errors_total",
		"xg2g_player_frames_dropped_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
	if !strings.Contains(body, `mode="relative"`) {
		t.Error("expected mode label in metrics output")
	}
}
