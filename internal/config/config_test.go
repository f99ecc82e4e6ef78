package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clipguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
db_url: postgres://clipguard@localhost/clipguard
log_format: json
webhook:
  secret: s3cret
  allowed_origins: ["https://automation.example.com"]
  replay_window: 2m
access:
  decision_ttl: 1m
audit:
  batch_size: 50
  retention_days: 30
rate_limits:
  webhook:
    window: 1m
    max_requests: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.Equal(t, 2*time.Minute, cfg.Webhook.ReplayWindow)
	assert.True(t, cfg.Webhook.AllowUserAgentFallback, "unset keys keep their defaults")
	assert.Equal(t, time.Minute, cfg.Access.DecisionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Access.OwnershipTTL)
	assert.Equal(t, 50, cfg.Audit.BatchSize)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)
	assert.Equal(t, 10, cfg.RateLimits.Webhook.MaxRequests)
	assert.Equal(t, "webhook", cfg.RateLimits.Webhook.Name)
	assert.Equal(t, 100, cfg.RateLimits.Normal.MaxRequests)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "db_url: postgres://file\n")
	t.Setenv("CLIPGUARD_DB_URL", "postgres://env")
	t.Setenv("CLIPGUARD_WEBHOOK_SECRET", "from-env")
	t.Setenv("CLIPGUARD_WEBHOOK_ALLOW_USER_AGENT_FALLBACK", "false")
	t.Setenv("CLIPGUARD_AUDIT_SEAL_SECRET", "seal")
	t.Setenv("CLIPGUARD_RATE_LIMITS_STRICT_MAX_REQUESTS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.DBUrl)
	assert.Equal(t, "from-env", cfg.Webhook.Secret)
	assert.False(t, cfg.Webhook.AllowUserAgentFallback)
	assert.Equal(t, "seal", cfg.Audit.SealSecret)
	assert.Equal(t, 3, cfg.RateLimits.Strict.MaxRequests)
	assert.Equal(t, "strict", cfg.RateLimits.Strict.Name)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://fallback")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "postgres://fallback", cfg.DBUrl)
	assert.Equal(t, "memory", cfg.RateLimitBackend)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing db url", "listen_addr: ':1'\n"},
		{"bad log level", "db_url: x\nlog_level: loud\n"},
		{"redis backend without address", "db_url: x\nrate_limit_backend: redis\n"},
		{"unknown backend", "db_url: x\nrate_limit_backend: memcached\n"},
		{"zero preset window", "db_url: x\nrate_limits:\n  upload:\n    window: 0s\n"},
		{"buffer smaller than batch", "db_url: x\naudit:\n  batch_size: 500\n  max_buffer: 100\n"},
		{"cert without key", "db_url: x\ntls_cert: /etc/cert.pem\n"},
		{"bad origin", "db_url: x\nwebhook:\n  allowed_origins: ['not a url']\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "listen_addr: [unterminated\n"))
	assert.Error(t, err)
}
