package reviewstore

import (
	"context"
	"sort"
	"sync"

	"github.com/greenledger/qagate/internal/review"
)

// MemoryStore is the in-memory reference implementation of review.Store.
// It honors the same optimistic version check as the SQL backends and is the
// default store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	reviews map[string]*review.DatasetReview
	audit   map[string][]review.AuditEntry
	seq     uint64 // creation order tiebreaker
	order   map[string]uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reviews: make(map[string]*review.DatasetReview),
		audit:   make(map[string][]review.AuditEntry),
		order:   make(map[string]uint64),
	}
}

// Open is a no-op for the in-memory store.
func (m *MemoryStore) Open() error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// Get returns a copy of the latest committed snapshot.
func (m *MemoryStore) Get(_ context.Context, datasetID string) (*review.DatasetReview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reviews[datasetID]
	if !ok {
		return nil, review.ErrNotFound
	}
	return r.Clone(), nil
}

// Create stores a new record, rejecting duplicates.
func (m *MemoryStore) Create(_ context.Context, r *review.DatasetReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reviews[r.DatasetID]; exists {
		return review.ErrAlreadyExists
	}
	m.seq++
	m.order[r.DatasetID] = m.seq
	m.reviews[r.DatasetID] = r.Clone()
	return nil
}

// Update commits a snapshot when the stored version matches its base version.
func (m *MemoryStore) Update(_ context.Context, r *review.DatasetReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.reviews[r.DatasetID]
	if !ok {
		return review.ErrNotFound
	}
	if stored.Version != r.Version-1 {
		return review.ErrVersionConflict
	}
	m.reviews[r.DatasetID] = r.Clone()
	return nil
}

// ListByStatus returns copies of matching records, oldest first.
func (m *MemoryStore) ListByStatus(_ context.Context, status review.Status, limit, offset int) ([]*review.DatasetReview, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matching []*review.DatasetReview
	for _, r := range m.reviews {
		if r.Status == status {
			matching = append(matching, r)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		a, b := matching[i], matching[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return m.order[a.DatasetID] < m.order[b.DatasetID]
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	total := int64(len(matching))

	if offset > 0 {
		if offset >= len(matching) {
			return nil, total, nil
		}
		matching = matching[offset:]
	}
	if limit > 0 && limit < len(matching) {
		matching = matching[:limit]
	}

	out := make([]*review.DatasetReview, 0, len(matching))
	for _, r := range matching {
		out = append(out, r.Clone())
	}
	return out, total, nil
}

// AppendAudit appends audit entries.
func (m *MemoryStore) AppendAudit(_ context.Context, entries ...review.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.audit[e.DatasetID] = append(m.audit[e.DatasetID], e)
	}
	return nil
}

// AuditTrail returns a copy of a dataset's audit entries in append order.
func (m *MemoryStore) AuditTrail(_ context.Context, datasetID string) ([]review.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.audit[datasetID]
	out := make([]review.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}
