package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/org/clipguard/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newAuth(mod func(*Config)) *Authenticator {
	cfg := Config{
		Secret:                 secret,
		AllowedOrigins:         []string{"https://automation.example.com"},
		UserAgentSignatures:    []string{"n8n"},
		AllowUserAgentFallback: true,
	}
	if mod != nil {
		mod(&cfg)
	}
	return New(cfg, WithClock(func() time.Time { return now }))
}

func signedRequest(body string, sent time.Time) *http.Request {
	ts := strconv.FormatInt(sent.Unix(), 10)
	r := httptest.NewRequest(http.MethodPost, "/v1/webhooks/n8n", strings.NewReader(body))
	r.Header.Set("Origin", "https://automation.example.com")
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, Sign(secret, ts, []byte(body)))
	return r
}

func TestValidSignatureAccepted(t *testing.T) {
	a := newAuth(nil)
	for _, age := range []time.Duration{0, time.Minute, 5 * time.Minute} {
		res := a.Verify(signedRequest(`{"jobId":"j1","status":"done"}`, now.Add(-age)))
		assert.True(t, res.Valid, "age %s: %s", age, res.Reason)
		assert.Equal(t, ModeSignature, res.Mode)
		assert.JSONEq(t, `{"jobId":"j1","status":"done"}`, string(res.Body))
	}
}

func TestBodyRestoredForHandlers(t *testing.T) {
	a := newAuth(nil)
	r := signedRequest(`{"a":1}`, now)
	require.True(t, a.Verify(r).Valid)

	again, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again))
}

func TestReplayedSignatureRejected(t *testing.T) {
	a := newAuth(nil)
	res := a.Verify(signedRequest(`{"jobId":"j1"}`, now.Add(-6*time.Minute)))
	assert.False(t, res.Valid)
	assert.Equal(t, errs.CodeReplayDetected, res.Code)
	assert.Equal(t, "timestamp outside replay window", res.Reason)
}

func TestFutureTimestampRejected(t *testing.T) {
	a := newAuth(nil)
	res := a.Verify(signedRequest(`{}`, now.Add(6*time.Minute)))
	assert.False(t, res.Valid)
	assert.Equal(t, errs.CodeReplayDetected, res.Code)
}

func TestSingleByteChangeRejected(t *testing.T) {
	a := newAuth(nil)
	body := `{"jobId":"j1","status":"done"}`
	r := signedRequest(body, now)
	tampered := strings.Replace(body, "j1", "j2", 1)
	r.Body = io.NopCloser(strings.NewReader(tampered))

	res := a.Verify(r)
	assert.False(t, res.Valid)
	assert.Equal(t, errs.CodeSignatureInvalid, res.Code)
	assert.Equal(t, "signature mismatch", res.Reason)
}

func TestSignatureWithoutPrefixAccepted(t *testing.T) {
	a := newAuth(nil)
	r := signedRequest(`{}`, now)
	r.Header.Set(HeaderSignature, strings.TrimPrefix(r.Header.Get(HeaderSignature), "sha256="))
	assert.True(t, a.Verify(r).Valid)
}

func TestMillisecondAndRFC3339Timestamps(t *testing.T) {
	a := newAuth(nil)
	for _, ts := range []string{
		strconv.FormatInt(now.Add(-time.Minute).UnixMilli(), 10),
		now.Add(-time.Minute).Format(time.RFC3339),
	} {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
		r.Header.Set("Origin", "https://automation.example.com")
		r.Header.Set(HeaderTimestamp, ts)
		r.Header.Set(HeaderSignature, Sign(secret, ts, []byte("x")))
		res := a.Verify(r)
		assert.True(t, res.Valid, "timestamp %s: %s", ts, res.Reason)
	}
}

func TestMissingCredentials(t *testing.T) {
	a := newAuth(nil)

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	r.Header.Set("Origin", "https://automation.example.com")
	res := a.Verify(r)
	assert.False(t, res.Valid)
	assert.Equal(t, errs.CodeSignatureInvalid, res.Code)

	r = signedRequest("{}", now)
	r.Header.Del(HeaderTimestamp)
	res = a.Verify(r)
	assert.False(t, res.Valid)
	assert.Equal(t, errs.CodeReplayDetected, res.Code)

	r = signedRequest("{}", now)
	r.Header.Set(HeaderTimestamp, "yesterday")
	assert.False(t, a.Verify(r).Valid)
}

func TestAPIKeyMode(t *testing.T) {
	a := newAuth(nil)

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	r.Header.Set("Origin", "https://automation.example.com")
	r.Header.Set(HeaderAPIKey, secret)
	res := a.Verify(r)
	assert.True(t, res.Valid)
	assert.Equal(t, ModeAPIKey, res.Mode)

	// a supplied timestamp is still checked
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10))
	res = a.Verify(r)
	assert.False(t, res.Valid)
	assert.Equal(t, errs.CodeReplayDetected, res.Code)

	// a wrong key falls through to signature mode
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	r.Header.Set("Origin", "https://automation.example.com")
	r.Header.Set(HeaderAPIKey, "guess")
	res = a.Verify(r)
	assert.False(t, res.Valid)
	assert.Equal(t, errs.CodeSignatureInvalid, res.Code)
}

func TestAPIKeyRequiresTimestampWhenConfigured(t *testing.T) {
	a := newAuth(func(c *Config) { c.RequireTimestampForAPIKey = true })

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	r.Header.Set("Origin", "https://automation.example.com")
	r.Header.Set(HeaderAPIKey, secret)
	assert.False(t, a.Verify(r).Valid)

	r.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	assert.True(t, a.Verify(r).Valid)
}

func TestOriginChecks(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		fallback bool
		want     bool
	}{
		{"allowed origin", map[string]string{"Origin": "https://automation.example.com"}, true, true},
		{"origin case and trailing slash", map[string]string{"Origin": "HTTPS://Automation.Example.com/"}, true, true},
		{"allowed referer", map[string]string{"Referer": "https://automation.example.com/workflow/42"}, true, true},
		{"foreign origin", map[string]string{"Origin": "https://evil.example.net"}, false, false},
		{"user agent fallback", map[string]string{"User-Agent": "n8n/1.40.0"}, true, true},
		{"user agent fallback disabled", map[string]string{"User-Agent": "n8n/1.40.0"}, false, false},
		{"no headers", map[string]string{}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAuth(func(c *Config) { c.AllowUserAgentFallback = tt.fallback })
			r := signedRequest("{}", now)
			r.Header.Del("Origin")
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			res := a.Verify(r)
			assert.Equal(t, tt.want, res.Valid, res.Reason)
			if !tt.want {
				assert.Equal(t, "origin not allowed", res.Reason)
			}
		})
	}
}

func TestDevBypassWithoutSecret(t *testing.T) {
	a := newAuth(func(c *Config) { c.Secret = "" })

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"x":1}`))
	r.Header.Set("User-Agent", "n8n")
	res := a.Verify(r)
	assert.True(t, res.Valid)
	assert.Equal(t, ModeDevBypass, res.Mode)

	// origin is still enforced
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	assert.False(t, a.Verify(r).Valid)
}

func TestOversizedBodyRejected(t *testing.T) {
	a := newAuth(func(c *Config) { c.MaxBodyBytes = 8 })
	res := a.Verify(signedRequest(`{"too":"large"}`, now))
	assert.False(t, res.Valid)
	assert.Equal(t, errs.CodeSignatureInvalid, res.Code)
	assert.Equal(t, http.StatusUnauthorized, errs.HTTPStatus(res.Code))
}
