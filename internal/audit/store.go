package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/org/clipguard/pkg/models"
)

// Store is the durable side of the audit log. Batches must be persisted in
// arrival order. A zero Limit in a filter means no limit.
type Store interface {
	WriteAuditBatch(ctx context.Context, events []*models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)
	DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) WriteAuditBatch(_ context.Context, events []*models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{}, len(m.events))
	for _, e := range m.events {
		seen[e.ID] = struct{}{}
	}
	for _, e := range events {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		cp := *e
		m.events = append(m.events, &cp)
	}
	return nil
}

func (m *MemoryStore) QueryAuditEvents(_ context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	m.mu.RLock()
	var out []*models.AuditEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if filter.Matches(m.events[i]) {
			cp := *m.events[i]
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (m *MemoryStore) DeleteAuditBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var removed int64
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(m.events[len(kept):])
	m.events = kept
	return removed, nil
}

// Len reports how many events are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func paginate(events []*models.AuditEvent, offset, limit int) []*models.AuditEvent {
	if offset >= len(events) {
		return nil
	}
	if offset > 0 {
		events = events[offset:]
	}
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}
