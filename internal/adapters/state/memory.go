package state

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

// Compile-time interface conformance check.
var _ core.LockStore = (*MemoryLockStore)(nil)

var errStoreClosed = errors.New("store closed")

// MemoryLockStore keeps lock records in process memory. It only coordinates
// orchestrators inside one process.
type MemoryLockStore struct {
	mu      sync.Mutex
	records map[string]core.LockRecord
	closed  bool
}

// NewMemoryLockStore creates an empty in-memory store.
func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{records: make(map[string]core.LockRecord)}
}

// Create inserts rec or takes over an expired record.
func (m *MemoryLockStore) Create(_ context.Context, rec core.LockRecord, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.ErrStore("create", errStoreClosed)
	}
	if cur, ok := m.records[rec.ResourceID]; ok && cur.IsLive(now) {
		return core.ErrAlreadyHeld(rec.ResourceID)
	}
	m.records[rec.ResourceID] = rec
	return nil
}

// Update rewrites the record if token and signature still match.
func (m *MemoryLockStore) Update(_ context.Context, rec core.LockRecord, expectToken, expectSignature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.ErrStore("update", errStoreClosed)
	}
	cur, ok := m.records[rec.ResourceID]
	if !ok || cur.HolderToken != expectToken || cur.Signature != expectSignature {
		return core.ErrStolen(rec.ResourceID)
	}
	m.records[rec.ResourceID] = rec
	return nil
}

// Delete removes the record if it carries token.
func (m *MemoryLockStore) Delete(_ context.Context, resourceID, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, core.ErrStore("delete", errStoreClosed)
	}
	cur, ok := m.records[resourceID]
	if !ok || cur.HolderToken != token {
		return false, nil
	}
	delete(m.records, resourceID)
	return true, nil
}

// Get returns a copy of the record for resourceID.
func (m *MemoryLockStore) Get(_ context.Context, resourceID string) (*core.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, core.ErrStore("get", errStoreClosed)
	}
	cur, ok := m.records[resourceID]
	if !ok {
		return nil, core.ErrNotFound("lock", resourceID)
	}
	return &cur, nil
}

// List returns all records ordered by resource id.
func (m *MemoryLockStore) List(_ context.Context) ([]core.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, core.ErrStore("list", errStoreClosed)
	}
	records := make([]core.LockRecord, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	sortRecords(records)
	return records, nil
}

func sortRecords(records []core.LockRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ResourceID < records[j].ResourceID
	})
}

// Close marks the store unusable. Later calls fail with ErrStoreUnavailable.
func (m *MemoryLockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
