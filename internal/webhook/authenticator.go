// Package webhook authenticates callbacks from the external automation
// system that drives transcoding workflows.
package webhook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/org/clipguard/internal/crypto"
	"github.com/org/clipguard/internal/errs"
	"github.com/rs/zerolog/log"
)

const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderSignature = "X-N8n-Signature"
	HeaderTimestamp = "X-Timestamp"

	DefaultReplayWindow = 5 * time.Minute
	DefaultMaxBodyBytes = 1 << 20

	signaturePrefix = "sha256="
)

// Mode names how a request was authenticated.
type Mode string

const (
	ModeNone      Mode = ""
	ModeDevBypass Mode = "dev_bypass"
	ModeAPIKey    Mode = "api_key"
	ModeSignature Mode = "signature"
)

// Config configures an Authenticator. An empty Secret disables
// authentication entirely and is meant for local development only.
type Config struct {
	Secret                    string        `yaml:"secret"`
	AllowedOrigins            []string      `yaml:"allowed_origins" split_words:"true" validate:"dive,url"`
	UserAgentSignatures       []string      `yaml:"user_agent_signatures" split_words:"true"`
	AllowUserAgentFallback    bool          `yaml:"allow_user_agent_fallback" split_words:"true"`
	ReplayWindow              time.Duration `yaml:"replay_window" split_words:"true" validate:"gte=0"`
	RequireTimestampForAPIKey bool          `yaml:"require_timestamp_for_api_key" envconfig:"REQUIRE_TIMESTAMP"`
	MaxBodyBytes              int64         `yaml:"max_body_bytes" split_words:"true" validate:"gte=0"`
}

// Result is the outcome of Verify. Body is the raw request body; callers
// must not act on it unless Valid is set.
type Result struct {
	Valid  bool
	Reason string
	Code   errs.Code
	Mode   Mode
	Body   []byte
}

func reject(code errs.Code, reason string, body []byte) Result {
	verifications.WithLabelValues("rejected").Inc()
	return Result{Valid: false, Reason: reason, Code: code, Body: body}
}

func accept(mode Mode, body []byte) Result {
	verifications.WithLabelValues(string(mode)).Inc()
	return Result{Valid: true, Mode: mode, Body: body}
}

// Authenticator verifies webhook requests.
type Authenticator struct {
	cfg     Config
	secret  []byte
	origins map[string]struct{}
	agents  []string
	now     func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source used for replay checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// New creates an Authenticator.
func New(cfg Config, opts ...Option) *Authenticator {
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	a := &Authenticator{
		cfg:     cfg,
		secret:  []byte(cfg.Secret),
		origins: make(map[string]struct{}, len(cfg.AllowedOrigins)),
		now:     time.Now,
	}
	for _, o := range cfg.AllowedOrigins {
		if n := normalizeOrigin(o); n != "" {
			a.origins[n] = struct{}{}
		}
	}
	for _, s := range cfg.UserAgentSignatures {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			a.agents = append(a.agents, s)
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.secret) == 0 {
		log.Warn().Msg("webhook secret not configured: webhook authentication is DISABLED")
	}
	return a
}

// Verify authenticates r. The body is read (up to MaxBodyBytes) and put back
// on the request so handlers can read it again.
func (a *Authenticator) Verify(r *http.Request) Result {
	body, err := a.readBody(r)
	if err != nil {
		// a body that cannot be read whole cannot be authenticated
		return reject(errs.CodeSignatureInvalid, err.Error(), nil)
	}

	if !a.originAllowed(r) {
		return reject(errs.CodeAuthenticationFailed, "origin not allowed", body)
	}

	if len(a.secret) == 0 {
		log.Warn().Str("remote", r.RemoteAddr).Msg("webhook accepted without authentication (no secret configured)")
		return accept(ModeDevBypass, body)
	}

	if key := r.Header.Get(HeaderAPIKey); key != "" && crypto.ConstantTimeEqual([]byte(key), a.secret) {
		ts := r.Header.Get(HeaderTimestamp)
		if ts == "" && a.cfg.RequireTimestampForAPIKey {
			return reject(errs.CodeReplayDetected, "missing timestamp", body)
		}
		if ts != "" {
			if res, ok := a.checkTimestamp(ts, body); !ok {
				return res
			}
		}
		return accept(ModeAPIKey, body)
	}

	sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if sig == "" {
		return reject(errs.CodeSignatureInvalid, "missing signature or api key", body)
	}
	ts := r.Header.Get(HeaderTimestamp)
	if ts == "" {
		return reject(errs.CodeReplayDetected, "missing timestamp", body)
	}
	if res, ok := a.checkTimestamp(ts, body); !ok {
		return res
	}
	sig = strings.TrimPrefix(sig, signaturePrefix)
	if !crypto.VerifyHMAC(a.secret, SigningPayload(ts, body), sig) {
		return reject(errs.CodeSignatureInvalid, "signature mismatch", body)
	}
	return accept(ModeSignature, body)
}

func (a *Authenticator) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, a.cfg.MaxBodyBytes+1))
	r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > a.cfg.MaxBodyBytes {
		return nil, errors.New("body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func (a *Authenticator) originAllowed(r *http.Request) bool {
	if o := normalizeOrigin(r.Header.Get("Origin")); o != "" {
		if _, ok := a.origins[o]; ok {
			return true
		}
	}
	if o := normalizeOrigin(r.Header.Get("Referer")); o != "" {
		if _, ok := a.origins[o]; ok {
			return true
		}
	}
	if !a.cfg.AllowUserAgentFallback {
		return false
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, sig := range a.agents {
		if strings.Contains(ua, sig) {
			log.Warn().Str("user_agent", r.Header.Get("User-Agent")).Str("remote", r.RemoteAddr).
				Msg("webhook origin accepted on user-agent signature only")
			return true
		}
	}
	return false
}

func (a *Authenticator) checkTimestamp(raw string, body []byte) (Result, bool) {
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return reject(errs.CodeReplayDetected, "invalid timestamp", body), false
	}
	age := a.now().Sub(ts)
	if math.Abs(float64(age)) > float64(a.cfg.ReplayWindow) {
		return reject(errs.CodeReplayDetected, "timestamp outside replay window", body), false
	}
	return Result{}, true
}

// ParseTimestamp accepts unix seconds, unix milliseconds or RFC 3339.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}
	return t, nil
}

// SigningPayload is the message a webhook signature covers.
func SigningPayload(timestamp string, body []byte) []byte {
	msg := make([]byte, 0, len(timestamp)+1+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, '.')
	return append(msg, body...)
}

// Sign returns the signature header value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	return signaturePrefix + crypto.SignHMAC([]byte(secret), SigningPayload(timestamp, body))
}

func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
