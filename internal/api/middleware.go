package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/org/clipguard/internal/access"
	"github.com/org/clipguard/internal/auth"
	"github.com/org/clipguard/internal/errs"
	"github.com/org/clipguard/internal/ratelimit"
	"github.com/org/clipguard/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/unrolled/secure"
)

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

func secureHeaders(production bool) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		STSSeconds:            31536000,
		STSIncludeSubdomains:  true,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !production,
	})
	return sm.Handler
}

// floodGuard caps raw request volume per IP before any session lookup.
func floodGuard(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			key, err := httprate.KeyByIP(r)
			if err != nil {
				return "", err
			}
			return "ip:" + key, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			rateLimitedTotal.WithLabelValues("flood").Inc()
			log.Warn().Str("ip", clientIP(r)).Msg("flood guard tripped")
			writeError(w, r, errs.CodeRateLimitExceeded)
		}),
	)
}

// authMiddleware resolves the session token to a principal. Requests without
// a valid session stop here, before any per-principal rate budget is spent.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := auth.TokenFromRequest(r)
		p, err := s.sessions.Resolve(ctx, token)
		if err != nil {
			code := errs.CodeOf(err)
			ev := models.AuditEvent{
				Operation: operationFor(r),
				RequestID: requestIDFromCtx(ctx),
				Metadata:  map[string]any{"path": r.URL.Path, "ip": clientIP(r)},
			}
			switch {
			case code != errs.CodeAuthenticationFailed:
				log.Error().Err(err).Msg("session lookup failed")
				s.auditor.LogFailure(ctx, ev, err.Error())
			case token == "":
				s.auditor.LogFailure(ctx, ev, "missing session token")
			default:
				s.auditor.LogViolation(ctx, ev, models.ViolationUnauthorizedAccess)
			}
			writeError(w, r, code)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, p)))
	})
}

type presetFunc func(r *http.Request) ratelimit.Preset

func fixedPreset(p ratelimit.Preset) presetFunc {
	return func(*http.Request) ratelimit.Preset { return p }
}

// resourcePreset picks the limit for a resource route: reads are lenient,
// video uploads have their own budget, everything else is normal.
func (s *Server) resourcePreset(r *http.Request) ratelimit.Preset {
	switch {
	case r.Method == http.MethodGet:
		return s.cfg.Presets.Lenient
	case r.Method == http.MethodPost && chi.URLParam(r, "type") == string(models.ResourceVideo):
		return s.cfg.Presets.Upload
	default:
		return s.cfg.Presets.Normal
	}
}

func (s *Server) limitByPrincipal(pick presetFunc) func(http.Handler) http.Handler {
	return s.limit(pick, func(r *http.Request) string {
		p, _ := principalFromCtx(r.Context())
		return "user:" + p.ID
	})
}

func (s *Server) limitByIP(p ratelimit.Preset) func(http.Handler) http.Handler {
	return s.limit(fixedPreset(p), func(r *http.Request) string {
		return "ip:" + clientIP(r)
	})
}

// limit applies a fixed-window limit. If the window store is unreachable the
// request is let through and the failure logged.
func (s *Server) limit(pick presetFunc, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			preset := pick(r)
			res, err := ratelimit.TakePreset(ctx, s.limits, preset, key(r))
			if err != nil {
				log.Error().Err(err).Str("preset", preset.Name).Msg("rate limit store unavailable; allowing request")
				next.ServeHTTP(w, r)
				return
			}
			setRateLimitHeaders(w, res)
			if !res.Allowed {
				rateLimitedTotal.WithLabelValues(preset.Name).Inc()
				p, _ := principalFromCtx(ctx)
				s.auditor.LogViolation(ctx, models.AuditEvent{
					PrincipalID:  p.ID,
					Operation:    operationFor(r),
					ResourceType: models.ResourceType(chi.URLParam(r, "type")),
					ResourceID:   chi.URLParam(r, "id"),
					RequestID:    requestIDFromCtx(ctx),
					Metadata:     map[string]any{"preset": preset.Name, "ip": clientIP(r), "path": r.URL.Path},
				}, models.ViolationRateLimitExceeded)
				writeRateLimited(w, r, res, s.now())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAccess asks the decision engine whether the principal may perform
// the route's operation on the addressed resource.
func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p, _ := principalFromCtx(ctx)
		rt, _ := models.ParseResourceType(chi.URLParam(r, "type"))
		if rt == "" {
			rt = models.ResourceType(chi.URLParam(r, "type"))
		}
		id := chi.URLParam(r, "id")

		d := s.engine.Decide(ctx, p, operationFor(r), rt, id,
			access.WithRequestID(requestIDFromCtx(ctx)),
			access.WithMetadata(map[string]any{"ip": clientIP(r)}))
		if !d.Allowed {
			writeError(w, r, denialCode(d))
			return
		}
		next.ServeHTTP(w, r.WithContext(withDecision(ctx, d)))
	})
}

// requireRole rejects principals without role.
func (s *Server) requireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, _ := principalFromCtx(ctx)
			if p.Role != role {
				s.auditor.LogViolation(ctx, models.AuditEvent{
					PrincipalID: p.ID,
					Operation:   operationFor(r),
					RequestID:   requestIDFromCtx(ctx),
					Metadata:    map[string]any{"path": r.URL.Path, "role": string(p.Role)},
				}, models.ViolationInsufficientPermissions)
				writeError(w, r, errs.CodeInsufficientPermissions)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// operationFor maps the HTTP method onto an operation. GET addresses a
// single resource when the route carries an id.
func operationFor(r *http.Request) models.Operation {
	switch r.Method {
	case http.MethodPost:
		return models.OpCreate
	case http.MethodPut, http.MethodPatch:
		return models.OpUpdate
	case http.MethodDelete:
		return models.OpDelete
	default:
		if chi.URLParam(r, "id") == "" {
			return models.OpList
		}
		return models.OpRead
	}
}

// denialCode maps a denied decision onto the error taxonomy.
func denialCode(d models.AccessDecision) errs.Code {
	switch {
	case d.HasViolation(models.ViolationOwnership):
		return errs.CodeOwnershipViolation
	case d.HasViolation(models.ViolationInsufficientPermissions):
		return errs.CodeInsufficientPermissions
	case d.HasViolation(models.ViolationInvalidResourceType):
		return errs.CodeInvalidResourceType
	case d.HasViolation(models.ViolationUnauthorizedAccess):
		return errs.CodeAuthenticationFailed
	default:
		return errs.CodeSystem
	}
}
