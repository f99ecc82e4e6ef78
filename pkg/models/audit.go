package models

import "time"

// AuditEvent records a single access-relevant event. Events are append-only.
type AuditEvent struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	PrincipalID  string         `json:"principalId,omitempty"`
	Operation    Operation      `json:"operation"`
	ResourceType ResourceType   `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Success      bool           `json:"success"`
	Violation    ViolationKind  `json:"violation,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Seal         string         `json:"seal,omitempty"`
}

// AuditFilter selects audit events. Zero values mean "any".
type AuditFilter struct {
	PrincipalID  string
	ResourceType ResourceType
	Operation    Operation
	Success      *bool
	Violation    ViolationKind
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// Matches reports whether e satisfies every non-zero criterion of f.
// Limit and Offset are ignored.
func (f AuditFilter) Matches(e *AuditEvent) bool {
	if f.PrincipalID != "" && e.PrincipalID != f.PrincipalID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if f.Violation != "" && e.Violation != f.Violation {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// PrincipalViolations is one row of the top-violators table.
type PrincipalViolations struct {
	PrincipalID string `json:"principalId"`
	Count       int    `json:"count"`
}

// AuditMetrics summarises audit activity over a rolling window.
type AuditMetrics struct {
	TotalRequests        int                   `json:"totalRequests"`
	AuthorizedRequests   int                   `json:"authorizedRequests"`
	UnauthorizedRequests int                   `json:"unauthorizedRequests"`
	RateLimitedRequests  int                   `json:"rateLimitedRequests"`
	ViolationsByKind     map[ViolationKind]int `json:"violationsByKind"`
	TopViolatingUsers    []PrincipalViolations `json:"topViolatingUsers"`
	WindowStart          time.Time             `json:"windowStart"`
	GeneratedAt          time.Time             `json:"generatedAt"`
}

// Alert is an out-of-band notification about a critical violation.
type Alert struct {
	Kind        ViolationKind `json:"kind"`
	Message     string        `json:"message"`
	PrincipalID string        `json:"principalId,omitempty"`
	ResourceID  string        `json:"resourceId,omitempty"`
	RequestID   string        `json:"requestId,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}
