// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/xg2g-player/internal/playback/avsync"
)

// AppConfig is the resolved player configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	// Input is the source URI handed to the demuxer factory.
	Input string `yaml:"input"`

	Log       LogConfig       `yaml:"log"`
	Sync      SyncConfig      `yaml:"sync"`
	Streams   StreamsConfig   `yaml:"streams"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Demux     DemuxConfig     `yaml:"demux"`
	Resume    ResumeConfig    `yaml:"resume"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// SyncConfig configures the synchronization engine.
type SyncConfig struct {
	// Master is the preferred master clock: audio, video or ext.
	Master avsync.SyncType `yaml:"master"`
	// FrameDrop: auto drops late frames unless video is the master.
	FrameDrop TriState `yaml:"framedrop"`
	// ReorderPTS: auto uses best effort timestamps, off the packet dts.
	ReorderPTS TriState `yaml:"reorder_pts"`
}

// StreamsConfig selects elementary streams. -1 picks the first stream of the
// type.
type StreamsConfig struct {
	Video           int  `yaml:"video"`
	Audio           int  `yaml:"audio"`
	Subtitle        int  `yaml:"subtitle"`
	DisableVideo    bool `yaml:"disable_video"`
	DisableAudio    bool `yaml:"disable_audio"`
	DisableSubtitle bool `yaml:"disable_subtitle"`
}

// PlaybackConfig holds the playback behaviour options.
type PlaybackConfig struct {
	// StartTime seeks to this position on open.
	StartTime time.Duration `yaml:"start"`
	// Duration limits playback to this much of the input; zero plays all.
	Duration time.Duration `yaml:"duration"`
	// Loop is the number of plays; 0 loops forever.
	Loop     int  `yaml:"loop"`
	AutoExit bool `yaml:"autoexit"`
	// Volume is the startup volume in percent.
	Volume       int           `yaml:"volume"`
	SeekInterval time.Duration `yaml:"seek_interval"`
	// SeekByBytes: auto seeks by bytes for discontinuous containers.
	SeekByBytes TriState `yaml:"seek_by_bytes"`
	// InfiniteBuffer: auto disables read backpressure for realtime sources.
	InfiniteBuffer TriState      `yaml:"infinite_buffer"`
	ShowStatus     bool          `yaml:"show_status"`
	StatusInterval time.Duration `yaml:"status_interval"`
	// StallTimeout stops playback that makes no progress; zero disables it.
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// DemuxConfig configures transient read error handling.
type DemuxConfig struct {
	RetryInitial     time.Duration `yaml:"retry_initial"`
	RetryMaxElapsed  time.Duration `yaml:"retry_max_elapsed"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// ResumeConfig configures the resume position store.
type ResumeConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is yaml, sqlite or memory.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// APIConfig configures the debug and remote control HTTP surface. An empty
// Listen address disables it.
type APIConfig struct {
	Listen    string `yaml:"listen"`
	RateLimit int    `yaml:"rate_limit"` // control requests per minute
	// TLSCert and TLSKey switch the API to HTTPS. With TLSSelfSigned a
	// missing pair is generated at the given paths.
	TLSCert       string `yaml:"tls_cert"`
	TLSKey        string `yaml:"tls_key"`
	TLSSelfSigned bool   `yaml:"tls_self_signed"`
}

// TelemetryConfig configures OpenTelemetry tracing of session operations.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc or http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Log: LogConfig{Level: "info", Service: "xg2g-player"},
		Sync: SyncConfig{
			Master:     avsync.AudioMaster,
			FrameDrop:  Auto,
			ReorderPTS: Auto,
		},
		Streams: StreamsConfig{Video: -1, Audio: -1, Subtitle: -1},
		Playback: PlaybackConfig{
			Loop:           1,
			Volume:         100,
			SeekInterval:   10 * time.Second,
			SeekByBytes:    Auto,
			InfiniteBuffer: Auto,
			StatusInterval: time.Second,
			StallTimeout:   30 * time.Second,
		},
		Demux: DemuxConfig{
			RetryInitial:     10 * time.Millisecond,
			RetryMaxElapsed:  5 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  10 * time.Second,
		},
		Resume: ResumeConfig{Backend: "yaml", Path: "resume.yaml"},
		API:    APIConfig{RateLimit: 120},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
