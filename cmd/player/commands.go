// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/xg2g-player/internal/api"
	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
)

// player is what the interactive commands drive.
type player interface {
	api.Controller
	Info() media.SourceInfo
}

const (
	bigSeek     = time.Minute
	chapterSeek = 10 * time.Minute
)

// lines feeds stdin line by line. The goroutine ends with the input.
func lines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

// runCommands executes one command per line until ctx is done, the input
// ends or the user quits. Command errors are reported, never fatal.
func runCommands(ctx context.Context, p player, in <-chan string, out io.Writer, seekInterval time.Duration, quit func()) error {
	logger := xglog.WithComponent("commands")
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-in:
			if !ok {
				return nil
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "q" || fields[0] == "quit" {
			quit()
			return nil
		}
		if err := execCommand(p, fields, out, seekInterval); err != nil {
			logger.Warn().Err(err).Str("command", line).Msg("command failed")
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func execCommand(p player, fields []string, out io.Writer, seekInterval time.Duration) error {
	switch cmd := fields[0]; cmd {
	case "p", "pause":
		paused, err := p.TogglePause()
		if err == nil {
			_, _ = fmt.Fprintf(out, "paused=%t\n", paused)
		}
		return err
	case "s", "step":
		return p.StepFrame()
	case "m", "mute":
		muted, err := p.ToggleMute()
		if err == nil {
			_, _ = fmt.Fprintf(out, "muted=%t\n", muted)
		}
		return err
	case "9", "0", "/", "*":
		sign := 1
		if cmd == "9" || cmd == "/" {
			sign = -1
		}
		vol, err := p.UpdateVolume(sign)
		if err == nil {
			_, _ = fmt.Fprintf(out, "volume=%d\n", vol)
		}
		return err
	case "a":
		return p.CycleStream(media.TypeAudio)
	case "v":
		return p.CycleStream(media.TypeVideo)
	case "t":
		return p.CycleStream(media.TypeSubtitle)
	case "c":
		for _, t := range []media.Type{media.TypeVideo, media.TypeAudio, media.TypeSubtitle} {
			if err := p.CycleStream(t); err != nil {
				return err
			}
		}
		return nil
	case "left":
		return p.SeekRelative(-seekInterval)
	case "right":
		return p.SeekRelative(seekInterval)
	case "down":
		return p.SeekRelative(-bigSeek)
	case "up":
		return p.SeekRelative(bigSeek)
	case "pgdown", "pgup":
		incr := 1
		if cmd == "pgdown" {
			incr = -1
		}
		if len(p.Info().Chapters) <= 1 {
			return p.SeekRelative(time.Duration(incr) * chapterSeek)
		}
		return p.SeekChapter(incr)
	case "seek":
		if len(fields) != 2 {
			return fmt.Errorf("usage: seek <fraction|duration>")
		}
		if d, err := time.ParseDuration(fields[1]); err == nil {
			return p.Seek(d.Microseconds(), 0, false)
		}
		frac, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || frac < 0 || frac > 1 {
			return fmt.Errorf("seek: %q is neither a duration nor a fraction in [0, 1]", fields[1])
		}
		return p.SeekFraction(frac)
	case "status":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p.Snapshot())
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
