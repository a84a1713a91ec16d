// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/validate"
)

// maxBodyBytes bounds control request bodies.
const maxBodyBytes = 4 << 10

type seekRequest struct {
	// Position is an absolute position such as "1m30s".
	Position string `json:"position,omitempty"`
	// Bytes requests a byte seek to this offset instead.
	Bytes *int64 `json:"bytes,omitempty"`
}

type relativeSeekRequest struct {
	Offset string `json:"offset"`
}

type chapterSeekRequest struct {
	Incr int `json:"incr"`
}

type fractionSeekRequest struct {
	Fraction float64 `json:"fraction"`
}

type volumeRequest struct {
	// Percent sets the volume; Step moves it up (>0) or down (<0).
	Percent *int `json:"percent,omitempty"`
	Step    int  `json:"step,omitempty"`
}

// decodeBody decodes a small JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	paused, err := s.ctl.TogglePause()
	if err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, "pause").Bool("paused", paused).Msg("pause toggled")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.StepFrame(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	v := validate.New()
	var pos time.Duration
	switch {
	case req.Bytes != nil && req.Position != "":
		v.AddError("position", "position and bytes are mutually exclusive", req.Position)
	case req.Bytes != nil:
		if *req.Bytes < 0 {
			v.AddError("bytes", "value cannot be negative", *req.Bytes)
		}
	default:
		d, err := time.ParseDuration(req.Position)
		if err != nil {
			v.AddError("position", "must be a duration such as 90s", req.Position)
		}
		v.NonNegativeDuration("position", d)
		pos = d
	}
	if err := v.Err(); err != nil {
		writeError(w, err)
		return
	}

	var err error
	if req.Bytes != nil {
		err = s.ctl.Seek(*req.Bytes, 0, true)
	} else {
		err = s.ctl.Seek(pos.Microseconds(), 0, false)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, "seek").Str("position", req.Position).Msg("seek requested")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSeekRelative(w http.ResponseWriter, r *http.Request) {
	var req relativeSeekRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	offset, err := time.ParseDuration(req.Offset)
	if err != nil {
		v := validate.New()
		v.AddError("offset", "must be a signed duration such as -10s", req.Offset)
		writeError(w, v.Err())
		return
	}
	if err := s.ctl.SeekRelative(offset); err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, "seek_relative").Dur("offset", offset).Msg("relative seek requested")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSeekChapter(w http.ResponseWriter, r *http.Request) {
	req := chapterSeekRequest{Incr: 1}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.ctl.SeekChapter(req.Incr); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSeekFraction(w http.ResponseWriter, r *http.Request) {
	var req fractionSeekRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	v := validate.New()
	v.Custom("fraction", req.Fraction, func(any) error {
		if req.Fraction < 0 || req.Fraction > 1 {
			return fmt.Errorf("value must be between 0 and 1, got %g", req.Fraction)
		}
		return nil
	})
	if err := v.Err(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctl.SeekFraction(req.Fraction); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	v := validate.New()
	switch {
	case req.Percent != nil && req.Step != 0:
		v.AddError("step", "percent and step are mutually exclusive", req.Step)
	case req.Percent != nil:
		v.Range("percent", *req.Percent, 0, 100)
	case req.Step == 0:
		v.AddError("step", "either percent or a non-zero step is required", req.Step)
	}
	if err := v.Err(); err != nil {
		writeError(w, err)
		return
	}

	if req.Percent != nil {
		if err := s.ctl.SetVolume(*req.Percent); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"volume": *req.Percent})
		return
	}
	percent, err := s.ctl.UpdateVolume(req.Step)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"volume": percent})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	muted, err := s.ctl.ToggleMute()
	if err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, "mute").Bool("muted", muted).Msg("mute toggled")
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (s *Server) handleCycleStream(w http.ResponseWriter, r *http.Request) {
	typ, err := media.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		v := validate.New()
		v.OneOf("type", chi.URLParam(r, "type"), []string{"video", "audio", "subtitle"})
		writeError(w, v.Err())
		return
	}
	if err := s.ctl.CycleStream(typ); err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, "cycle_stream").Str(log.FieldMediaType, typ.String()).Msg("stream cycle requested")
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}
