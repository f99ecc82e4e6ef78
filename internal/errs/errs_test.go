package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsSentinel(t *testing.T) {
	err := fmt.Errorf("guard: %w", New(CodeOwnershipViolation, "principal u1 does not own job j1"))
	assert.True(t, errors.Is(err, ErrOwnershipViolation))
	assert.False(t, errors.Is(err, ErrInsufficientPermissions))
	assert.Equal(t, CodeOwnershipViolation, CodeOf(err))
}

func TestCodeOfUnknownIsSystem(t *testing.T) {
	assert.Equal(t, CodeSystem, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeRateLimitExceeded, CodeOf(fmt.Errorf("x: %w", ErrRateLimitExceeded)))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeSystem, "owner lookup", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "owner lookup: connection refused", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeAuthenticationFailed:    http.StatusUnauthorized,
		CodeSignatureInvalid:        http.StatusUnauthorized,
		CodeReplayDetected:          http.StatusUnauthorized,
		CodeInsufficientPermissions: http.StatusForbidden,
		CodeOwnershipViolation:      http.StatusForbidden,
		CodeRateLimitExceeded:       http.StatusTooManyRequests,
		CodeValidation:              http.StatusBadRequest,
		CodeSystem:                  http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}

func TestSafeMessageIsGeneric(t *testing.T) {
	// Permission and ownership denials must be indistinguishable to clients.
	assert.Equal(t, SafeMessage(CodeInsufficientPermissions), SafeMessage(CodeOwnershipViolation))
	assert.True(t, strings.HasPrefix(SafeMessage(CodeOwnershipViolation), "Access denied"))
}
