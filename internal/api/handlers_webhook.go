package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/org/clipguard/internal/errs"
	"github.com/org/clipguard/pkg/models"
	"github.com/rs/zerolog/log"
)

type jobCallback struct {
	JobID    string `json:"jobId" validate:"required,max=128"`
	Status   string `json:"status" validate:"required,oneof=queued processing completed failed cancelled"`
	Progress *int   `json:"progress,omitempty" validate:"omitempty,gte=0,lte=100"`
	Error    string `json:"error,omitempty"`
}

// WebhookHandler handles POST /v1/webhooks/n8n, the job status callback
// from the automation system.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := s.webhooks.Verify(r)
	if !res.Valid {
		s.auditor.LogViolation(ctx, models.AuditEvent{
			Operation:    models.OpUpdate,
			ResourceType: models.ResourceJob,
			RequestID:    requestIDFromCtx(ctx),
			Metadata: map[string]any{
				"source": "webhook",
				"reason": res.Reason,
				"ip":     clientIP(r),
			},
		}, models.ViolationWebhookAuthFailed)
		log.Warn().Str("reason", res.Reason).Str("ip", clientIP(r)).Msg("webhook rejected")
		writeError(w, r, res.Code)
		return
	}

	var cb jobCallback
	dec := json.NewDecoder(bytes.NewReader(res.Body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cb); err != nil {
		writeError(w, r, errs.CodeValidation)
		return
	}
	if err := s.validate.Struct(cb); err != nil {
		writeError(w, r, errs.CodeValidation)
		return
	}

	meta := map[string]any{"source": "webhook", "mode": string(res.Mode), "status": cb.Status}
	if cb.Progress != nil {
		meta["progress"] = *cb.Progress
	}
	if cb.Error != "" {
		meta["jobError"] = cb.Error
	}
	s.auditor.LogSuccess(ctx, models.AuditEvent{
		Operation:    models.OpUpdate,
		ResourceType: models.ResourceJob,
		ResourceID:   cb.JobID,
		RequestID:    requestIDFromCtx(ctx),
		Metadata:     meta,
	})
	// terminal states change what the job's owner may do with it
	if cb.Status == "completed" || cb.Status == "failed" || cb.Status == "cancelled" {
		s.engine.InvalidateResource(models.ResourceJob, cb.JobID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":  true,
		"requestId": requestIDFromCtx(ctx),
	})
}
