package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/org/clipguard/internal/access"
	"github.com/org/clipguard/internal/audit"
	"github.com/org/clipguard/internal/auth"
	"github.com/org/clipguard/internal/ownership"
	"github.com/org/clipguard/internal/ratelimit"
	"github.com/org/clipguard/internal/storage"
	"github.com/org/clipguard/internal/webhook"
	"github.com/org/clipguard/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string

	FloodGuardPerMinute int
	Presets             Presets

	DecisionTTL   time.Duration
	OwnershipTTL  time.Duration
	SessionTTL    time.Duration
	LookupTimeout time.Duration
	Concurrency   int

	Audit      audit.Config
	AlertSink  audit.AlertSink
	Webhook    webhook.Config
	Production bool

	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Presets are the rate limits applied per call site.
type Presets struct {
	Strict  ratelimit.Preset
	Normal  ratelimit.Preset
	Lenient ratelimit.Preset
	Upload  ratelimit.Preset
	Webhook ratelimit.Preset
}

// DefaultPresets returns the built-in limits.
func DefaultPresets() Presets {
	return Presets{
		Strict:  ratelimit.Strict,
		Normal:  ratelimit.Normal,
		Lenient: ratelimit.Lenient,
		Upload:  ratelimit.Upload,
		Webhook: ratelimit.Webhook,
	}
}

// Server is the API server.
type Server struct {
	store    storage.StorageBackend
	limits   ratelimit.Store
	sessions *auth.SessionResolver
	owners   *ownership.Cache
	engine   *access.Engine
	auditor  *audit.Logger
	webhooks *webhook.Authenticator
	validate *validator.Validate
	cfg      Config
	now      func() time.Time
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server. limits is the rate-limit window
// store, in-memory or shared through Redis.
func NewServer(store storage.StorageBackend, limits ratelimit.Store, cfg Config) (*Server, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Presets == (Presets{}) {
		cfg.Presets = DefaultPresets()
	}
	if cfg.Audit.Now == nil {
		cfg.Audit.Now = cfg.Now
	}

	auditor, err := audit.NewLogger(store, cfg.AlertSink, cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	registry := ownership.NewRegistry()
	owners := ownership.NewCache(registry, ownership.Options{
		TTL:           cfg.OwnershipTTL,
		LookupTimeout: cfg.LookupTimeout,
		Concurrency:   cfg.Concurrency,
		Now:           cfg.Now,
	})
	registerOwners(registry, owners, store)

	return &Server{
		store:    store,
		limits:   limits,
		sessions: auth.NewSessionResolver(store, cfg.SessionTTL, cfg.Now),
		owners:   owners,
		engine:   access.NewEngine(owners, auditor, access.Options{DecisionTTL: cfg.DecisionTTL, Now: cfg.Now}),
		auditor:  auditor,
		webhooks: webhook.New(cfg.Webhook, webhook.WithClock(cfg.Now)),
		validate: validator.New(),
		cfg:      cfg,
		now:      cfg.Now,
	}, nil
}

// registerOwners installs one verifier per resource type. Settings are
// owned through their parent video.
func registerOwners(reg *ownership.Registry, owners *ownership.Cache, store storage.StorageBackend) {
	for _, rt := range models.ResourceTypes {
		if _, ok := storage.OwnerTable(rt); !ok {
			continue
		}
		reg.Register(rt, ownership.VerifierFunc(func(ctx context.Context, principalID, resourceID string) (bool, error) {
			return store.Owns(ctx, rt, principalID, resourceID)
		}))
	}
	reg.Register(models.ResourceSettings, ownership.NewParentVerifier(owners, models.ResourceSettings, models.ResourceVideo, store.SettingsVideoID))
}

// Engine exposes the access decision engine.
func (s *Server) Engine() *access.Engine {
	return s.engine
}

// Auditor exposes the audit log.
func (s *Server) Auditor() *audit.Logger {
	return s.auditor
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders(s.cfg.Production))
	r.Use(metricsMiddleware)
	if s.cfg.FloodGuardPerMinute > 0 {
		r.Use(floodGuard(s.cfg.FloodGuardPerMinute))
	}

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes
	r.Get("/v1/sys/health", s.HealthHandler)
	r.With(s.limitByIP(s.cfg.Presets.Webhook)).Post("/v1/webhooks/n8n", s.WebhookHandler)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.limitByPrincipal(fixedPreset(s.cfg.Presets.Normal))).
			Post("/v1/access/check", s.AccessCheckHandler)
		r.With(s.limitByPrincipal(fixedPreset(s.cfg.Presets.Normal))).
			Post("/v1/access/ownership", s.OwnershipCheckHandler)

		r.Route("/v1/resources/{type}", func(r chi.Router) {
			// inline so {id} is resolved before the guards run
			g := r.With(s.limitByPrincipal(s.resourcePreset), s.requireAccess)
			g.Get("/", s.ResourceListHandler)
			g.Post("/", s.ResourceCreateHandler)
			g.Get("/{id}", s.ResourceReadHandler)
			g.Put("/{id}", s.ResourceUpdateHandler)
			g.Patch("/{id}", s.ResourceUpdateHandler)
			g.Delete("/{id}", s.ResourceDeleteHandler)
		})

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(s.limitByPrincipal(fixedPreset(s.cfg.Presets.Strict)))
			r.Use(s.requireRole(models.RoleAdmin))
			r.Get("/v1/audit/events", s.AuditEventsHandler)
			r.Get("/v1/audit/metrics", s.AuditMetricsHandler)
			r.Post("/v1/admin/principals/{id}/invalidate", s.InvalidatePrincipalHandler)
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var err error
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		err = s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
		err = s.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then flushes the audit log and stops
// every background sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	var errList []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errList = append(errList, err)
		}
	}
	if err := s.Close(ctx); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

// Close releases component resources without touching the listener.
func (s *Server) Close(ctx context.Context) error {
	s.engine.Close()
	s.owners.Close()
	s.sessions.Close()
	return s.auditor.Close(ctx)
}
