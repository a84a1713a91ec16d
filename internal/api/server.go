// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes a running playback session over HTTP: state, metrics
// and the interactive playback controls.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g-player/internal/health"
	"github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/media"
	"github.com/ManuGH/xg2g-player/internal/playback/session"
)

// Controller is the subset of a playback session the API drives.
type Controller interface {
	Snapshot() session.Snapshot
	TogglePause() (bool, error)
	StepFrame() error
	Seek(target, rel int64, byBytes bool) error
	SeekRelative(incr time.Duration) error
	SeekChapter(incr int) error
	SeekFraction(frac float64) error
	SetVolume(percent int) error
	UpdateVolume(sign int) (int, error)
	ToggleMute() (bool, error)
	CycleStream(t media.Type) error
}

// Config configures the API server.
type Config struct {
	Listen string
	// RateLimit is the number of control requests per minute and client;
	// zero disables limiting.
	RateLimit int
	// TracingService names the HTTP spans; empty disables request tracing.
	TracingService string
	// Version is reported by the liveness endpoint.
	Version string
	// ConfigFile, when set, is checked for readiness.
	ConfigFile string
	// Checkers are added to the readiness checks next to the session.
	Checkers []health.Checker
	// TLSCert and TLSKey, when both set, serve HTTPS.
	TLSCert string
	TLSKey  string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the control API for one session.
type Server struct {
	cfg    Config
	ctl    Controller
	health *health.Manager
	logger zerolog.Logger
}

// New creates a server driving ctl.
func New(cfg Config, ctl Controller) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewSessionChecker(ctl.Snapshot))
	if cfg.ConfigFile != "" {
		hm.RegisterChecker(health.NewFileChecker("config", cfg.ConfigFile))
	}
	for _, c := range cfg.Checkers {
		hm.RegisterChecker(c)
	}
	return &Server{cfg: cfg, ctl: ctl, health: hm, logger: log.WithComponent("api")}
}

// Handler returns the HTTP handler with all routes and middleware applied.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout / 2,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			s.logger.Info().Str(log.FieldEvent, "api.listen").Str("addr", s.cfg.Listen).Msg("API server listening (HTTPS)")
			errc <- srv.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
			return
		}
		s.logger.Info().Str(log.FieldEvent, "api.listen").Str("addr", s.cfg.Listen).Msg("API server listening (HTTP)")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error().Err(err).Str(log.FieldEvent, "api.server.failed").Msg("API server failed")
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info().Str(log.FieldEvent, "api.shutdown").Msg("shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	<-errc
	return nil
}
