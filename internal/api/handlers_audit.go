package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/clipguard/internal/errs"
	"github.com/org/clipguard/pkg/models"
	"github.com/rs/zerolog/log"
)

type auditEventView struct {
	*models.AuditEvent
	SealValid *bool `json:"sealValid,omitempty"`
}

// AuditEventsHandler handles GET /v1/audit/events
func (s *Server) AuditEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, errs.CodeValidation)
		return
	}

	events, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("querying audit events")
		writeError(w, r, errs.CodeSystem)
		return
	}

	verify := r.URL.Query().Get("verify") == "true"
	out := make([]auditEventView, len(events))
	for i, e := range events {
		out[i] = auditEventView{AuditEvent: e}
		if verify {
			ok := s.auditor.VerifySeal(e)
			out[i].SealValid = &ok
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// parseAuditFilter reads an audit filter from the query string. Unknown
// enum values and malformed numbers or times are rejected.
func parseAuditFilter(r *http.Request) (models.AuditFilter, error) {
	q := r.URL.Query()
	filter := models.AuditFilter{PrincipalID: q.Get("principal")}

	if v := q.Get("resourceType"); v != "" {
		rt, ok := models.ParseResourceType(v)
		if !ok {
			return filter, errs.ErrInvalidResourceType
		}
		filter.ResourceType = rt
	}
	if v := q.Get("operation"); v != "" {
		op, ok := models.ParseOperation(v)
		if !ok {
			return filter, errs.ErrValidation
		}
		filter.Operation = op
	}
	if v := q.Get("violation"); v != "" {
		filter.Violation = models.ViolationKind(v)
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, err
		}
		filter.Success = &b
	}
	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, err
			}
			*dst = &t
		}
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, errs.ErrValidation
			}
			*dst = n
		}
	}
	return filter, nil
}

// AuditMetricsHandler handles GET /v1/audit/metrics
func (s *Server) AuditMetricsHandler(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	m, err := s.auditor.GetMetrics(r.Context(), refresh)
	if err != nil {
		log.Error().Err(err).Msg("computing audit metrics")
		writeError(w, r, errs.CodeSystem)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// InvalidatePrincipalHandler handles POST /v1/admin/principals/{id}/invalidate.
// It drops every cached decision, ownership verdict and session for the
// principal, e.g. after a role change or account suspension.
func (s *Server) InvalidatePrincipalHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed := s.engine.InvalidatePrincipal(id)
	sessions := s.sessions.ForgetPrincipal(id)

	admin, _ := principalFromCtx(r.Context())
	s.auditor.LogSuccess(r.Context(), models.AuditEvent{
		PrincipalID: admin.ID,
		Operation:   models.OpUpdate,
		RequestID:   requestIDFromCtx(r.Context()),
		Metadata:    map[string]any{"action": "invalidate_principal", "target": id},
	})
	log.Info().Str("principal", id).Int("decisions", removed).Int("sessions", sessions).Msg("principal caches invalidated")

	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "sessions": sessions})
}
