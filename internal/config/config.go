// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/org/clipguard/internal/ratelimit"
	"github.com/org/clipguard/internal/webhook"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CLIPGUARD_LISTEN_ADDR.
const EnvPrefix = "CLIPGUARD"

// Config is the full server configuration.
type Config struct {
	ListenAddr    string `yaml:"listen_addr" split_words:"true" validate:"required"`
	TLSCertFile   string `yaml:"tls_cert" envconfig:"TLS_CERT" validate:"required_with=TLSKeyFile"`
	TLSKeyFile    string `yaml:"tls_key" envconfig:"TLS_KEY" validate:"required_with=TLSCertFile"`
	DBUrl         string `yaml:"db_url" envconfig:"DB_URL" validate:"required"`
	DBMaxConns    int32  `yaml:"db_max_conns" split_words:"true" validate:"gte=0"`
	MigrationsDir string `yaml:"migrations_dir" split_words:"true"`
	LogLevel      string `yaml:"log_level" split_words:"true" validate:"oneof=trace debug info warn error"`
	LogFormat     string `yaml:"log_format" split_words:"true" validate:"oneof=console json"`

	RedisAddr        string `yaml:"redis_addr" split_words:"true" validate:"required_if=RateLimitBackend redis"`
	RateLimitBackend string `yaml:"rate_limit_backend" split_words:"true" validate:"oneof=memory redis"`
	AlertChannel     string `yaml:"alert_channel" split_words:"true"`

	// FloodGuardPerMinute caps unauthenticated traffic per IP ahead of
	// session resolution. Zero disables the guard.
	FloodGuardPerMinute int `yaml:"flood_guard_per_minute" split_words:"true" validate:"gte=0"`

	Webhook    webhook.Config `yaml:"webhook"`
	Access     Access         `yaml:"access"`
	Audit      Audit          `yaml:"audit"`
	RateLimits RateLimits     `yaml:"rate_limits" split_words:"true"`
}

// Access tunes the decision, ownership and session caches.
type Access struct {
	DecisionTTL   time.Duration `yaml:"decision_ttl" split_words:"true" validate:"gt=0"`
	OwnershipTTL  time.Duration `yaml:"ownership_ttl" split_words:"true" validate:"gt=0"`
	SessionTTL    time.Duration `yaml:"session_ttl" split_words:"true" validate:"gt=0"`
	LookupTimeout time.Duration `yaml:"lookup_timeout" split_words:"true" validate:"gt=0"`
	Concurrency   int           `yaml:"concurrency" validate:"gt=0"`
}

// Audit tunes the audit log.
type Audit struct {
	BatchSize     int           `yaml:"batch_size" split_words:"true" validate:"gt=0"`
	FlushInterval time.Duration `yaml:"flush_interval" split_words:"true" validate:"gt=0"`
	MaxBuffer     int           `yaml:"max_buffer" split_words:"true" validate:"gtefield=BatchSize"`
	RetentionDays int           `yaml:"retention_days" split_words:"true" validate:"gte=0"`
	MetricsTTL    time.Duration `yaml:"metrics_ttl" split_words:"true" validate:"gt=0"`
	SealSecret    string        `yaml:"seal_secret" split_words:"true"`
}

// RateLimits holds the named limiter presets.
type RateLimits struct {
	Strict  ratelimit.Preset `yaml:"strict"`
	Normal  ratelimit.Preset `yaml:"normal"`
	Lenient ratelimit.Preset `yaml:"lenient"`
	Upload  ratelimit.Preset `yaml:"upload"`
	Webhook ratelimit.Preset `yaml:"webhook"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		ListenAddr:          ":8080",
		MigrationsDir:       "migrations",
		LogLevel:            "info",
		LogFormat:           "console",
		RateLimitBackend:    "memory",
		AlertChannel:        "clipguard:alerts",
		FloodGuardPerMinute: 600,
		Webhook: webhook.Config{
			UserAgentSignatures:    []string{"n8n"},
			AllowUserAgentFallback: true,
			ReplayWindow:           webhook.DefaultReplayWindow,
			MaxBodyBytes:           webhook.DefaultMaxBodyBytes,
		},
		Access: Access{
			DecisionTTL:   5 * time.Minute,
			OwnershipTTL:  5 * time.Minute,
			SessionTTL:    time.Minute,
			LookupTimeout: 5 * time.Second,
			Concurrency:   8,
		},
		Audit: Audit{
			BatchSize:     100,
			FlushInterval: 30 * time.Second,
			MaxBuffer:     10_000,
			RetentionDays: 90,
			MetricsTTL:    5 * time.Minute,
		},
		RateLimits: RateLimits{
			Strict:  ratelimit.Strict,
			Normal:  ratelimit.Normal,
			Lenient: ratelimit.Lenient,
			Upload:  ratelimit.Upload,
			Webhook: ratelimit.Webhook,
		},
	}
}

// Load reads path (a missing file is tolerated), applies CLIPGUARD_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			log.Warn().Str("file", path).Msg("config file not found, using defaults")
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if cfg.DBUrl == "" {
		cfg.DBUrl = os.Getenv("DATABASE_URL")
	}

	cfg.RateLimits.Strict.Name = ratelimit.Strict.Name
	cfg.RateLimits.Normal.Name = ratelimit.Normal.Name
	cfg.RateLimits.Lenient.Name = ratelimit.Lenient.Name
	cfg.RateLimits.Upload.Name = ratelimit.Upload.Name
	cfg.RateLimits.Webhook.Name = ratelimit.Webhook.Name

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (%d problems)", fe.Namespace(), fe.Tag(), len(verrs))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
