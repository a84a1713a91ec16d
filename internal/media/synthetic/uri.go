// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package synthetic

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Scheme is the URI scheme of synthetic sources.
const Scheme = "synthetic"

// Config describes a generated source. The zero value of a field selects
// its default in Normalize.
type Config struct {
	Name string

	// Duration of the source; zero generates an endless live source.
	Duration time.Duration
	// Start is the container start time added to every timestamp.
	Start time.Duration

	Video    bool
	Audio    bool
	Subtitle bool
	// Cover replaces the video stream by a single attached picture.
	Cover bool

	FPS        int
	Width      int
	Height     int
	SampleRate int
	Channels   int
	// ToneHz is the frequency of the generated sine.
	ToneHz float64

	Chapters      int
	Realtime      bool
	Discontinuous bool
	ScanSeek      bool

	// TransientEvery makes every n-th read fail once with a transient error.
	TransientEvery int
	// StallAfter makes every read after n packets fail transiently.
	StallAfter int
}

// Normalize fills defaults.
func (c Config) Normalize() Config {
	if c.Name == "" {
		c.Name = "synthetic"
	}
	if c.FPS <= 0 {
		c.FPS = 25
	}
	if c.Width <= 0 {
		c.Width = 320
	}
	if c.Height <= 0 {
		c.Height = 240
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.ToneHz <= 0 {
		c.ToneHz = 440
	}
	return c
}

// ParseURI parses synthetic://name?duration=10s&video=1&audio=1&subtitle=0&...
// Unknown parameters are rejected. Video and audio default to on.
func ParseURI(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("synthetic: parse uri: %w", err)
	}
	if u.Scheme != Scheme {
		return Config{}, fmt.Errorf("synthetic: unsupported scheme %q", u.Scheme)
	}

	cfg := Config{Name: u.Host, Video: true, Audio: true, Duration: 10 * time.Second}
	for key, values := range u.Query() {
		v := values[len(values)-1]
		var perr error
		switch strings.ToLower(key) {
		case "duration":
			cfg.Duration, perr = time.ParseDuration(v)
		case "start":
			cfg.Start, perr = time.ParseDuration(v)
		case "video":
			cfg.Video, perr = strconv.ParseBool(v)
		case "audio":
			cfg.Audio, perr = strconv.ParseBool(v)
		case "subtitle":
			cfg.Subtitle, perr = strconv.ParseBool(v)
		case "cover":
			cfg.Cover, perr = strconv.ParseBool(v)
		case "fps":
			cfg.FPS, perr = strconv.Atoi(v)
		case "width":
			cfg.Width, perr = strconv.Atoi(v)
		case "height":
			cfg.Height, perr = strconv.Atoi(v)
		case "rate":
			cfg.SampleRate, perr = strconv.Atoi(v)
		case "channels":
			cfg.Channels, perr = strconv.Atoi(v)
		case "tone":
			cfg.ToneHz, perr = strconv.ParseFloat(v, 64)
		case "chapters":
			cfg.Chapters, perr = strconv.Atoi(v)
		case "realtime":
			cfg.Realtime, perr = strconv.ParseBool(v)
		case "discontinuous":
			cfg.Discontinuous, perr = strconv.ParseBool(v)
		case "scan_seek":
			cfg.ScanSeek, perr = strconv.ParseBool(v)
		case "transient_every":
			cfg.TransientEvery, perr = strconv.Atoi(v)
		case "stall_after":
			cfg.StallAfter, perr = strconv.Atoi(v)
		default:
			return Config{}, fmt.Errorf("synthetic: unknown parameter %q", key)
		}
		if perr != nil {
			return Config{}, fmt.Errorf("synthetic: parameter %s: %w", key, perr)
		}
	}
	if cfg.Duration < 0 || cfg.Start < 0 {
		return Config{}, fmt.Errorf("synthetic: negative duration or start")
	}
	if !cfg.Video && !cfg.Audio && !cfg.Subtitle {
		return Config{}, fmt.Errorf("synthetic: no streams requested")
	}
	return cfg.Normalize(), nil
}
