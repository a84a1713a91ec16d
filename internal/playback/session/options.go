// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"github.com/ManuGH/xg2g-player/internal/config"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/avsync"
	"github.com/ManuGH/xg2g-player/internal/playback/decoder"
)

// OptionsFromConfig maps the resolved configuration onto session options.
// Tri-state values share the engine's -1/0/1 encoding.
func OptionsFromConfig(cfg config.AppConfig) Options {
	return Options{
		Input:     cfg.Input,
		SyncType:  cfg.Sync.Master,
		FrameDrop: avsync.DropPolicy(cfg.Sync.FrameDrop),
		Reorder:   decoder.ReorderMode(cfg.Sync.ReorderPTS),
		Wanted: map[media.Type]int{
			media.TypeVideo:    cfg.Streams.Video,
			media.TypeAudio:    cfg.Streams.Audio,
			media.TypeSubtitle: cfg.Streams.Subtitle,
		},
		DisableVideo:     cfg.Streams.DisableVideo,
		DisableAudio:     cfg.Streams.DisableAudio,
		DisableSubtitle:  cfg.Streams.DisableSubtitle,
		StartTime:        cfg.Playback.StartTime,
		Duration:         cfg.Playback.Duration,
		Loop:             cfg.Playback.Loop,
		AutoExit:         cfg.Playback.AutoExit,
		Volume:           cfg.Playback.Volume,
		SeekByBytes:      int(cfg.Playback.SeekByBytes),
		InfiniteBuffer:   int(cfg.Playback.InfiniteBuffer),
		ShowStatus:       cfg.Playback.ShowStatus,
		StatusInterval:   cfg.Playback.StatusInterval,
		StallTimeout:     cfg.Playback.StallTimeout,
		RetryInitial:     cfg.Demux.RetryInitial,
		RetryMaxElapsed:  cfg.Demux.RetryMaxElapsed,
		BreakerThreshold: cfg.Demux.BreakerThreshold,
		BreakerCooldown:  cfg.Demux.BreakerCooldown,
		Resume:           cfg.Resume.Enabled,
	}
}
