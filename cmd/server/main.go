package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/org/clipguard/internal/api"
	"github.com/org/clipguard/internal/audit"
	"github.com/org/clipguard/internal/config"
	"github.com/org/clipguard/internal/ratelimit"
	"github.com/org/clipguard/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("CLIPGUARD_CONFIG"); v != "" {
		cfgFile = v
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// "server migrate-down [n]" reverts n migrations (default 1) and exits
	if len(os.Args) > 1 && os.Args[1] == "migrate-down" {
		steps := 1
		if len(os.Args) > 2 {
			if steps, err = strconv.Atoi(os.Args[2]); err != nil || steps <= 0 {
				log.Fatal().Str("arg", os.Args[2]).Msg("migrate-down needs a positive step count")
			}
		}
		if err := storage.RollbackMigrations(cfg.DBUrl, cfg.MigrationsDir, steps); err != nil {
			log.Fatal().Err(err).Msg("failed to roll back migrations")
		}
		log.Info().Int("steps", steps).Msg("migrations rolled back")
		return
	}

	ctx := context.Background()

	// Connect to database
	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	// Rate-limit windows live in Redis when several replicas share one budget
	var (
		limits ratelimit.Store
		sink   audit.AlertSink = audit.LogSink{}
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		if cfg.AlertChannel != "" {
			sink = audit.MultiSink{audit.LogSink{}, audit.NewRedisSink(rdb, cfg.AlertChannel)}
		}
		if cfg.RateLimitBackend == "redis" {
			limits = ratelimit.NewRedisStore(rdb, "clipguard:rl:")
			log.Info().Str("addr", cfg.RedisAddr).Msg("using redis rate-limit store")
		}
	}
	if limits == nil {
		mem := ratelimit.New(time.Minute)
		defer mem.Close()
		limits = mem
	}

	srv, err := api.NewServer(store, limits, api.Config{
		ListenAddr:          cfg.ListenAddr,
		TLSCertFile:         cfg.TLSCertFile,
		TLSKeyFile:          cfg.TLSKeyFile,
		FloodGuardPerMinute: cfg.FloodGuardPerMinute,
		Presets: api.Presets{
			Strict:  cfg.RateLimits.Strict,
			Normal:  cfg.RateLimits.Normal,
			Lenient: cfg.RateLimits.Lenient,
			Upload:  cfg.RateLimits.Upload,
			Webhook: cfg.RateLimits.Webhook,
		},
		DecisionTTL:   cfg.Access.DecisionTTL,
		OwnershipTTL:  cfg.Access.OwnershipTTL,
		SessionTTL:    cfg.Access.SessionTTL,
		LookupTimeout: cfg.Access.LookupTimeout,
		Concurrency:   cfg.Access.Concurrency,
		Audit: audit.Config{
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
			MaxBuffer:     cfg.Audit.MaxBuffer,
			RetentionDays: cfg.Audit.RetentionDays,
			MetricsTTL:    cfg.Audit.MetricsTTL,
			SealSecret:    []byte(cfg.Audit.SealSecret),
		},
		AlertSink:  sink,
		Webhook:    cfg.Webhook,
		Production: cfg.TLSCertFile != "",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
