// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/xg2g-player/internal/api/middleware"
)

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/session", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ControlRateLimit(s.cfg.RateLimit))

			r.Post("/pause", s.handlePause)
			r.Post("/step", s.handleStep)
			r.Post("/seek", s.handleSeek)
			r.Post("/seek/relative", s.handleSeekRelative)
			r.Post("/seek/chapter", s.handleSeekChapter)
			r.Post("/seek/fraction", s.handleSeekFraction)
			r.Post("/volume", s.handleVolume)
			r.Post("/mute", s.handleMute)
			r.Post("/streams/{type}/cycle", s.handleCycleStream)
		})
	})
	return r
}
