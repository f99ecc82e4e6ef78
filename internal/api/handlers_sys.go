package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("health check: storage unreachable")
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":        status,
		"auditBuffered": s.auditor.Buffered(),
		"version":       "1.0.0",
	})
}
