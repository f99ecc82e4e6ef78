package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/clipguard/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// StorageBackend defines the persistence interface for ClipGuard.
type StorageBackend interface {
	// Sessions
	GetSession(ctx context.Context, tokenHash string) (*models.Session, error)

	// Ownership
	Owns(ctx context.Context, rt models.ResourceType, principalID, resourceID string) (bool, error)
	SettingsVideoID(ctx context.Context, settingsID string) (string, error)

	// Audit
	WriteAuditBatch(ctx context.Context, events []*models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)
	DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}

// ownerTables maps resource types whose rows carry a direct user_id owner
// column to their table. Settings are owned through their video.
var ownerTables = map[models.ResourceType]string{
	models.ResourceVideo:        "videos",
	models.ResourceJob:          "jobs",
	models.ResourceSubscription: "subscriptions",
	models.ResourceUsage:        "usage_records",
	models.ResourceAuthToken:    "auth_tokens",
}

// OwnerTable returns the table holding rows of type rt with a user_id column.
func OwnerTable(rt models.ResourceType) (string, bool) {
	t, ok := ownerTables[rt]
	return t, ok
}
