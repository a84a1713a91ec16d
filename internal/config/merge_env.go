// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"

	"github.com/ManuGH/xg2g-player/internal/playback/avsync"
)

// mergeEnvConfig applies XG2G_PLAYER_* overrides on top of cfg.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) error {
	cfg.Input = l.envString("INPUT", cfg.Input)

	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = l.envString("LOG_SERVICE", cfg.Log.Service)

	if err := l.mergeEnvSync(cfg); err != nil {
		return err
	}
	l.mergeEnvStreams(cfg)
	l.mergeEnvPlayback(cfg)
	l.mergeEnvDemux(cfg)

	cfg.Resume.Enabled = l.envBool("RESUME", cfg.Resume.Enabled)
	cfg.Resume.Backend = l.envString("RESUME_BACKEND", cfg.Resume.Backend)
	cfg.Resume.Path = l.envString("RESUME_PATH", cfg.Resume.Path)

	cfg.API.Listen = l.envString("API_LISTEN", cfg.API.Listen)
	cfg.API.RateLimit = l.envInt("API_RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.TLSCert = l.envString("API_TLS_CERT", cfg.API.TLSCert)
	cfg.API.TLSKey = l.envString("API_TLS_KEY", cfg.API.TLSKey)
	cfg.API.TLSSelfSigned = l.envBool("API_TLS_SELF_SIGNED", cfg.API.TLSSelfSigned)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
	return nil
}

func (l *Loader) mergeEnvSync(cfg *AppConfig) error {
	master := l.envString("SYNC", cfg.Sync.Master.String())
	st, err := avsync.ParseSyncType(master)
	if err != nil {
		return fmt.Errorf("%sSYNC: %w", EnvPrefix, err)
	}
	cfg.Sync.Master = st
	cfg.Sync.FrameDrop = l.envTriState("FRAMEDROP", cfg.Sync.FrameDrop)
	cfg.Sync.ReorderPTS = l.envTriState("REORDER_PTS", cfg.Sync.ReorderPTS)
	return nil
}

func (l *Loader) mergeEnvStreams(cfg *AppConfig) {
	s := &cfg.Streams
	s.Video = l.envInt("VIDEO_STREAM", s.Video)
	s.Audio = l.envInt("AUDIO_STREAM", s.Audio)
	s.Subtitle = l.envInt("SUBTITLE_STREAM", s.Subtitle)
	s.DisableVideo = l.envBool("DISABLE_VIDEO", s.DisableVideo)
	s.DisableAudio = l.envBool("DISABLE_AUDIO", s.DisableAudio)
	s.DisableSubtitle = l.envBool("DISABLE_SUBTITLE", s.DisableSubtitle)
}

func (l *Loader) mergeEnvPlayback(cfg *AppConfig) {
	p := &cfg.Playback
	p.StartTime = l.envDuration("START", p.StartTime)
	p.Duration = l.envDuration("DURATION", p.Duration)
	p.Loop = l.envInt("LOOP", p.Loop)
	p.AutoExit = l.envBool("AUTOEXIT", p.AutoExit)
	p.Volume = l.envInt("VOLUME", p.Volume)
	p.SeekInterval = l.envDuration("SEEK_INTERVAL", p.SeekInterval)
	p.SeekByBytes = l.envTriState("SEEK_BY_BYTES", p.SeekByBytes)
	p.InfiniteBuffer = l.envTriState("INFINITE_BUFFER", p.InfiniteBuffer)
	p.ShowStatus = l.envBool("SHOW_STATUS", p.ShowStatus)
	p.StatusInterval = l.envDuration("STATUS_INTERVAL", p.StatusInterval)
	p.StallTimeout = l.envDuration("STALL_TIMEOUT", p.StallTimeout)
}

func (l *Loader) mergeEnvDemux(cfg *AppConfig) {
	d := &cfg.Demux
	d.RetryInitial = l.envDuration("DEMUX_RETRY_INITIAL", d.RetryInitial)
	d.RetryMaxElapsed = l.envDuration("DEMUX_RETRY_MAX", d.RetryMaxElapsed)
	d.BreakerThreshold = l.envInt("BREAKER_THRESHOLD", d.BreakerThreshold)
	d.BreakerCooldown = l.envDuration("BREAKER_COOLDOWN", d.BreakerCooldown)
}
