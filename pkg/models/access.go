package models

import "strings"

// ResourceType is a closed category of protected object.
type ResourceType string

const (
	ResourceVideo        ResourceType = "video"
	ResourceJob          ResourceType = "job"
	ResourceSubscription ResourceType = "subscription"
	ResourceUsage        ResourceType = "usage"
	ResourceSettings     ResourceType = "settings"
	ResourceAuthToken    ResourceType = "auth_token"
)

// ResourceTypes lists every resource type in a stable order.
var ResourceTypes = []ResourceType{
	ResourceVideo, ResourceJob, ResourceSubscription, ResourceUsage, ResourceSettings, ResourceAuthToken,
}

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	for _, rt := range ResourceTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// ParseResourceType converts s (case-insensitive) to a ResourceType.
func ParseResourceType(s string) (ResourceType, bool) {
	t := ResourceType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Operation is the kind of action requested on a resource.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpRead   Operation = "READ"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	OpList   Operation = "LIST"
)

// Operations lists every operation in a stable order.
var Operations = []Operation{OpCreate, OpRead, OpUpdate, OpDelete, OpList}

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpRead, OpUpdate, OpDelete, OpList:
		return true
	}
	return false
}

// ParseOperation converts s (case-insensitive) to an Operation.
func ParseOperation(s string) (Operation, bool) {
	o := Operation(strings.ToUpper(strings.TrimSpace(s)))
	return o, o.Valid()
}

// PermissionLevel is the capability a role holds on a resource type.
type PermissionLevel string

const (
	PermissionDenied   PermissionLevel = "DENIED"
	PermissionReadOnly PermissionLevel = "READ_ONLY"
	PermissionFull     PermissionLevel = "FULL_ACCESS"
)

// AccessLevel describes who may perform an operation on a resource type at all.
type AccessLevel string

const (
	AccessPublic        AccessLevel = "PUBLIC"
	AccessAuthenticated AccessLevel = "AUTHENTICATED"
	AccessOwnerOnly     AccessLevel = "OWNER_ONLY"
	AccessAdminOnly     AccessLevel = "ADMIN_ONLY"
)

// ViolationKind classifies a security-relevant denial.
type ViolationKind string

const (
	ViolationUnauthorizedAccess      ViolationKind = "UNAUTHORIZED_ACCESS"
	ViolationInsufficientPermissions ViolationKind = "INSUFFICIENT_PERMISSIONS"
	ViolationOwnership               ViolationKind = "OWNERSHIP_VIOLATION"
	ViolationRateLimitExceeded       ViolationKind = "RATE_LIMIT_EXCEEDED"
	ViolationInvalidResourceType     ViolationKind = "INVALID_RESOURCE_TYPE"
	ViolationSuspiciousActivity      ViolationKind = "SUSPICIOUS_ACTIVITY"
	ViolationDataLeakAttempt         ViolationKind = "DATA_LEAK_ATTEMPT"
	ViolationWebhookAuthFailed       ViolationKind = "WEBHOOK_AUTH_FAILED"
)

// Critical reports whether a violation of this kind must raise an alert.
func (k ViolationKind) Critical() bool {
	switch k {
	case ViolationDataLeakAttempt, ViolationSuspiciousActivity, ViolationUnauthorizedAccess:
		return true
	}
	return false
}

// AccessDecision is the verdict for one access request. Callers receive a copy;
// a decision is never mutated after it is produced.
type AccessDecision struct {
	Allowed    bool            `json:"allowed"`
	Permission PermissionLevel `json:"permission"`
	Reason     string          `json:"reason,omitempty"`
	Violations []ViolationKind `json:"violations,omitempty"`
}

// HasViolation reports whether the decision carries violation k.
func (d AccessDecision) HasViolation(k ViolationKind) bool {
	for _, v := range d.Violations {
		if v == k {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of d.
func (d AccessDecision) Clone() AccessDecision {
	if d.Violations != nil {
		d.Violations = append([]ViolationKind(nil), d.Violations...)
	}
	return d
}
