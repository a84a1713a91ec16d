// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g-player/internal/log"
)

// audit starts an info event for a state changing control request.
func (s *Server) audit(r *http.Request, action string) *zerolog.Event {
	logger := log.WithContext(r.Context(), s.logger)
	return logger.Info().
		Str(log.FieldEvent, "api.control").
		Str("action", action).
		Str("remote_addr", r.RemoteAddr)
}
