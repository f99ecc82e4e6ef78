package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/clipguard/internal/access"
	"github.com/org/clipguard/internal/errs"
	"github.com/org/clipguard/pkg/models"
)

type accessCheckRequest struct {
	PrincipalID  string `json:"principalId,omitempty"`
	Role         string `json:"role,omitempty" validate:"omitempty,oneof=user admin moderator"`
	ResourceType string `json:"resourceType" validate:"required"`
	Operation    string `json:"operation" validate:"required,oneof=CREATE READ UPDATE DELETE LIST"`
	ResourceID   string `json:"resourceId,omitempty" validate:"max=256"`
	SkipCache    bool   `json:"skipCache,omitempty"`
}

// AccessCheckHandler handles POST /v1/access/check. Principals check their
// own access; admins may check on behalf of another principal.
func (s *Server) AccessCheckHandler(w http.ResponseWriter, r *http.Request) {
	var req accessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, errs.CodeValidation)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, errs.CodeValidation)
		return
	}

	caller, _ := principalFromCtx(r.Context())
	subject := caller
	if req.PrincipalID != "" && req.PrincipalID != caller.ID {
		if caller.Role != models.RoleAdmin {
			writeError(w, r, errs.CodeInsufficientPermissions)
			return
		}
		subject = models.Principal{ID: req.PrincipalID, Role: models.Role(req.Role)}
		if subject.Role == "" {
			subject.Role = models.RoleUser
		}
	}

	opts := []access.DecideOption{access.WithRequestID(requestIDFromCtx(r.Context()))}
	if req.SkipCache {
		opts = append(opts, access.WithoutCache())
	}
	if subject.ID != caller.ID {
		opts = append(opts, access.WithMetadata(map[string]any{"checkedBy": caller.ID}))
	}
	rt, ok := models.ParseResourceType(req.ResourceType)
	if !ok {
		rt = models.ResourceType(req.ResourceType)
	}
	d := s.engine.Decide(r.Context(), subject, models.Operation(req.Operation), rt, req.ResourceID, opts...)

	writeJSON(w, http.StatusOK, map[string]any{
		"principalId": subject.ID,
		"decision":    d,
	})
}

type resourceView struct {
	ResourceType string                 `json:"resourceType"`
	ResourceID   string                 `json:"resourceId,omitempty"`
	Operation    models.Operation       `json:"operation"`
	Permission   models.PermissionLevel `json:"permission"`
	RequestID    string                 `json:"requestId"`
}

// writeResource answers a guarded resource route. The access core only
// decides; the resource itself is served by the owning product service.
func (s *Server) writeResource(w http.ResponseWriter, r *http.Request, status int) {
	d, _ := decisionFromCtx(r.Context())
	writeJSON(w, status, resourceView{
		ResourceType: chi.URLParam(r, "type"),
		ResourceID:   chi.URLParam(r, "id"),
		Operation:    operationFor(r),
		Permission:   d.Permission,
		RequestID:    requestIDFromCtx(r.Context()),
	})
}

// ResourceListHandler handles GET /v1/resources/{type}
func (s *Server) ResourceListHandler(w http.ResponseWriter, r *http.Request) {
	s.writeResource(w, r, http.StatusOK)
}

// ResourceCreateHandler handles POST /v1/resources/{type}
func (s *Server) ResourceCreateHandler(w http.ResponseWriter, r *http.Request) {
	s.writeResource(w, r, http.StatusCreated)
}

// ResourceReadHandler handles GET /v1/resources/{type}/{id}
func (s *Server) ResourceReadHandler(w http.ResponseWriter, r *http.Request) {
	s.writeResource(w, r, http.StatusOK)
}

// ResourceUpdateHandler handles PUT and PATCH /v1/resources/{type}/{id}
func (s *Server) ResourceUpdateHandler(w http.ResponseWriter, r *http.Request) {
	s.writeResource(w, r, http.StatusOK)
}

// ResourceDeleteHandler handles DELETE /v1/resources/{type}/{id}. A deleted
// resource must not keep stale verdicts around.
func (s *Server) ResourceDeleteHandler(w http.ResponseWriter, r *http.Request) {
	rt := models.ResourceType(chi.URLParam(r, "type"))
	s.engine.InvalidateResource(rt, chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

type ownershipCheckRequest struct {
	ResourceType string   `json:"resourceType" validate:"required"`
	ResourceIDs  []string `json:"resourceIds" validate:"required,min=1,max=100,dive,required,max=256"`
}

// OwnershipCheckHandler handles POST /v1/access/ownership. It partitions a
// batch of resource ids into those the caller owns and the rest; a failed
// lookup counts as not owned.
func (s *Server) OwnershipCheckHandler(w http.ResponseWriter, r *http.Request) {
	var req ownershipCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, errs.CodeValidation)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, errs.CodeValidation)
		return
	}
	rt, ok := models.ParseResourceType(req.ResourceType)
	if !ok {
		writeError(w, r, errs.CodeInvalidResourceType)
		return
	}

	p, _ := principalFromCtx(r.Context())
	owned, unauthorized := s.owners.VerifyMany(r.Context(), p.ID, rt, req.ResourceIDs)
	if len(unauthorized) > 0 {
		s.auditor.LogViolation(r.Context(), models.AuditEvent{
			PrincipalID:  p.ID,
			Operation:    models.OpRead,
			ResourceType: rt,
			RequestID:    requestIDFromCtx(r.Context()),
			Metadata:     map[string]any{"unauthorized": unauthorized, "bulk": true},
		}, models.ViolationOwnership)
	}
	if owned == nil {
		owned = []string{}
	}
	if unauthorized == nil {
		unauthorized = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"owned": owned, "unauthorized": unauthorized})
}
