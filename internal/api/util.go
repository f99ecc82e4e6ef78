package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/org/clipguard/internal/errs"
	"github.com/org/clipguard/internal/ratelimit"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Error      string    `json:"error"`
	Code       errs.Code `json:"code"`
	RequestID  string    `json:"requestId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RetryAfter int       `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeError writes the standard error body. The message always comes from
// the safe-message table, never from an internal error.
func writeError(w http.ResponseWriter, r *http.Request, code errs.Code) {
	writeJSON(w, errs.HTTPStatus(code), errorResponse{
		Error:     errs.SafeMessage(code),
		Code:      code,
		RequestID: requestIDFromCtx(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, res ratelimit.Result, now time.Time) {
	retry := int(res.RetryAfter(now) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:      errs.SafeMessage(errs.CodeRateLimitExceeded),
		Code:       errs.CodeRateLimitExceeded,
		RequestID:  requestIDFromCtx(r.Context()),
		Timestamp:  now.UTC(),
		RetryAfter: retry,
	})
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// clientIP returns the caller's address. RealIP has already rewritten
// RemoteAddr from trusted proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
