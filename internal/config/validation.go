// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/ManuGH/xg2g-player/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package.
// The startup volume is not validated here; out of range values are clamped
// with a warning when the audio output opens.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.NotEmpty("Input", cfg.Input)
	v.OneOf("Log.Level", strings.ToLower(cfg.Log.Level),
		[]string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"})

	v.Min("Streams.Video", cfg.Streams.Video, -1)
	v.Min("Streams.Audio", cfg.Streams.Audio, -1)
	v.Min("Streams.Subtitle", cfg.Streams.Subtitle, -1)
	if cfg.Streams.DisableVideo && cfg.Streams.DisableAudio {
		v.AddError("Streams", "audio and video cannot both be disabled", nil)
	}

	v.NonNegative("Playback.Loop", cfg.Playback.Loop)
	v.NonNegativeDuration("Playback.StartTime", cfg.Playback.StartTime)
	v.NonNegativeDuration("Playback.Duration", cfg.Playback.Duration)
	v.PositiveDuration("Playback.SeekInterval", cfg.Playback.SeekInterval)
	v.NonNegativeDuration("Playback.StallTimeout", cfg.Playback.StallTimeout)
	if cfg.Playback.ShowStatus {
		v.PositiveDuration("Playback.StatusInterval", cfg.Playback.StatusInterval)
	}

	v.PositiveDuration("Demux.RetryInitial", cfg.Demux.RetryInitial)
	v.PositiveDuration("Demux.RetryMaxElapsed", cfg.Demux.RetryMaxElapsed)
	v.Range("Demux.BreakerThreshold", cfg.Demux.BreakerThreshold, 1, 100)
	v.PositiveDuration("Demux.BreakerCooldown", cfg.Demux.BreakerCooldown)

	if cfg.Resume.Enabled {
		v.OneOf("Resume.Backend", cfg.Resume.Backend, []string{"yaml", "sqlite", "memory"})
		if cfg.Resume.Backend != "memory" {
			v.NotEmpty("Resume.Path", cfg.Resume.Path)
			v.FilePath("Resume.Path", cfg.Resume.Path)
		}
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.Exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("Telemetry.SamplingRate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	if cfg.API.Listen != "" {
		if _, port, err := net.SplitHostPort(cfg.API.Listen); err != nil {
			v.AddError("API.Listen", fmt.Sprintf("invalid listen address: %v", err), cfg.API.Listen)
		} else {
			v.PortString("API.Listen", port)
		}
		v.Range("API.RateLimit", cfg.API.RateLimit, 1, 100000)
		v.FilePath("API.TLSCert", cfg.API.TLSCert)
		v.FilePath("API.TLSKey", cfg.API.TLSKey)
		if !cfg.API.TLSSelfSigned && (cfg.API.TLSCert == "") != (cfg.API.TLSKey == "") {
			v.AddError("API.TLSCert", "tls_cert and tls_key must be set together", cfg.API.TLSCert)
		}
	}

	return v.Err()
}
