// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_frames_dropped_total",
		Help: "Video frames dropped by the synchronization engine (early=before decode queue, late=at presentation)",
	}, []string{"kind"})

	framesDisplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg2g_player_frames_displayed_total",
		Help: "Video frames handed to the renderer",
	})

	queueBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xg2g_player_queue_bytes",
		Help: "Bytes buffered in the packet queue per stream type",
	}, []string{"stream"})

	queuePackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xg2g_player_queue_packets",
		Help: "Packets buffered in the packet queue per stream type",
	}, []string{"stream"})

	queueFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_queue_flushes_total",
		Help: "Packet queue flushes (serial bumps) per stream type",
	}, []string{"stream"})

	avDiff = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_av_diff_seconds",
		Help: "Audio clock minus video clock; NaN readings are not exported",
	})

	masterClock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_master_clock_seconds",
		Help: "Current master clock position",
	})

	externalClockSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_external_clock_speed",
		Help: "Speed factor of the external clock",
	})

	playbackStalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg2g_player_playback_stalls_total",
		Help: "Sessions stopped by the stall watchdog",
	})

	audioUnderruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg2g_player_audio_underruns_total",
		Help: "Audio callbacks that had no decoded data and emitted silence",
	})

	seeks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_seeks_total",
		Help: "Seek requests by mode and result",
	}, []string{"mode", "result"})

	demuxErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_demux_errors_total",
		Help: "Demuxer read errors by kind (transient, fatal, eof)",
	}, []string{"kind"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xg2g_player_breaker_state",
		Help: "Breaker state per guarded component (0=closed, 1=half-open, 2=open)",
	}, []string{"component"})

	breakerOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_breaker_opens_total",
		Help: "Times a breaker opened, by cause (threshold, probe_failed)",
	}, []string{"component", "cause"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_sessions_active",
		Help: "Number of running playback sessions",
	})
)

// RecordFrameDrops adds n dropped frames of the given kind.
func RecordFrameDrops(kind string, n int) {
	if n <= 0 {
		return
	}
	framesDropped.WithLabelValues(kind).Add(float64(n))
}

// RecordFramesDisplayed adds n displayed frames.
func RecordFramesDisplayed(n int) {
	if n <= 0 {
		return
	}
	framesDisplayed.Add(float64(n))
}

// SetQueueState publishes the packet queue occupancy of a stream type.
func SetQueueState(stream string, packets, bytes int) {
	queuePackets.WithLabelValues(stream).Set(float64(packets))
	queueBytes.WithLabelValues(stream).Set(float64(bytes))
}

// ClearQueueState removes the gauges of a closed stream.
func ClearQueueState(stream string) {
	queuePackets.DeleteLabelValues(stream)
	queueBytes.DeleteLabelValues(stream)
}

// RecordQueueFlush counts a flush of the packet queue of a stream type.
func RecordQueueFlush(stream string) {
	queueFlushes.WithLabelValues(stream).Inc()
}

// SetClocks publishes the clock readings. NaN values leave the gauge as is.
func SetClocks(master, diff, extSpeed float64) {
	if !math.IsNaN(master) {
		masterClock.Set(master)
	}
	if !math.IsNaN(diff) {
		avDiff.Set(diff)
	}
	if !math.IsNaN(extSpeed) && extSpeed > 0 {
		externalClockSpeed.Set(extSpeed)
	}
}

// RecordAudioUnderrun counts a silent audio callback.
func RecordAudioUnderrun() {
	audioUnderruns.Inc()
}

// RecordStall counts a session stopped for lack of progress.
func RecordStall() {
	playbackStalls.Inc()
}

// RecordSeek counts a seek request.
func RecordSeek(mode, result string) {
	seeks.WithLabelValues(mode, result).Inc()
}

// RecordDemuxError counts a demuxer read error.
func RecordDemuxError(kind string) {
	demuxErrors.WithLabelValues(kind).Inc()
}

// SetBreakerState publishes the state of a component breaker. Unknown states
// are reported as open.
func SetBreakerState(component, state string) {
	v := 2.0
	switch state {
	case "closed":
		v = 0
	case "half-open":
		v = 1
	}
	breakerState.WithLabelValues(component).Set(v)
}

// RecordBreakerOpen counts a breaker opening.
func RecordBreakerOpen(component, cause string) {
	breakerOpens.WithLabelValues(component, cause).Inc()
}

// IncActiveSessions marks a session as running.
func IncActiveSessions() { activeSessions.Inc() }

// DecActiveSessions marks a session as stopped.
func DecActiveSessions() { activeSessions.Dec() }
