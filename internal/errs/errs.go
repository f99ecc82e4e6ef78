// Package errs defines the access-core error taxonomy and its mapping onto
// HTTP statuses and caller-safe messages.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, wire-visible error code.
type Code string

const (
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeOwnershipViolation      Code = "OWNERSHIP_VIOLATION"
	CodeRateLimitExceeded       Code = "RATE_LIMIT_EXCEEDED"
	CodeAuthenticationFailed    Code = "AUTHENTICATION_FAILED"
	CodeValidation              Code = "VALIDATION_ERROR"
	CodeInvalidResourceType     Code = "INVALID_RESOURCE_TYPE"
	CodeSignatureInvalid        Code = "SIGNATURE_INVALID"
	CodeReplayDetected          Code = "REPLAY_DETECTED"
	CodeSystem                  Code = "SYSTEM_ERROR"
)

// Sentinel errors for use with errors.Is.
var (
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrOwnershipViolation      = errors.New("ownership violation")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrValidation              = errors.New("validation error")
	ErrInvalidResourceType     = errors.New("invalid resource type")
	ErrSignatureInvalid        = errors.New("signature invalid")
	ErrReplayDetected          = errors.New("replay detected")
	ErrSystem                  = errors.New("system error")
)

var sentinels = map[Code]error{
	CodeInsufficientPermissions: ErrInsufficientPermissions,
	CodeOwnershipViolation:      ErrOwnershipViolation,
	CodeRateLimitExceeded:       ErrRateLimitExceeded,
	CodeAuthenticationFailed:    ErrAuthenticationFailed,
	CodeValidation:              ErrValidation,
	CodeInvalidResourceType:     ErrInvalidResourceType,
	CodeSignatureInvalid:        ErrSignatureInvalid,
	CodeReplayDetected:          ErrReplayDetected,
	CodeSystem:                  ErrSystem,
}

// Error carries a Code alongside an internal message and cause.
// Message is for logs and operators; it is never sent to clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to e.Code.
func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

// New creates an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates an Error with the given code wrapping err.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf extracts the Code from err, defaulting to CodeSystem.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, s := range sentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return CodeSystem
}

// HTTPStatus maps a code to the status a guarded endpoint returns.
func HTTPStatus(c Code) int {
	switch c {
	case CodeAuthenticationFailed, CodeSignatureInvalid, CodeReplayDetected:
		return http.StatusUnauthorized
	case CodeInsufficientPermissions, CodeOwnershipViolation:
		return http.StatusForbidden
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeValidation, CodeInvalidResourceType:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// SafeMessage returns the generic client-facing text for a code. It never
// reveals which resource exists or why access failed.
func SafeMessage(c Code) string {
	switch c {
	case CodeInsufficientPermissions, CodeOwnershipViolation:
		return "Access denied. You do not have permission to perform this action."
	case CodeRateLimitExceeded:
		return "Too many requests. Please try again later."
	case CodeAuthenticationFailed, CodeSignatureInvalid, CodeReplayDetected:
		return "Authentication required."
	case CodeValidation:
		return "The request is invalid."
	case CodeInvalidResourceType:
		return "Unsupported resource type."
	default:
		return "An internal error occurred. Please try again later."
	}
}
