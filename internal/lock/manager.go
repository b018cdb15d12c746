// Package lock implements lease-based mutual exclusion over a core.LockStore.
//
// A lock is held by whoever wrote the live record for a resource. Holders keep
// it alive by renewing before the TTL runs out; a holder that stops renewing
// loses the resource to the next acquirer once the record expires. Renew and
// release compare the stored token and signature, so a holder that was taken
// over cannot touch its successor's record.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/logging"
)

// Clock returns the current time.
type Clock func() time.Time

// Manager acquires, renews and releases locks.
type Manager struct {
	store  core.LockStore
	signer *Signer
	now    Clock
	token  func() string
	logger *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.now = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithTokenSource replaces NewHolderToken.
func WithTokenSource(f func() string) Option {
	return func(m *Manager) {
		m.token = f
	}
}

// NewManager returns a manager over store signing records with secret.
func NewManager(store core.LockStore, secret []byte, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		signer: NewSigner(secret),
		now:    time.Now,
		token:  NewHolderToken,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() core.LockStore {
	return m.store
}

// Acquire creates a live record for resourceID valid for ttl. It fails with
// core.ErrLockHeld when another holder has a live record.
func (m *Manager) Acquire(ctx context.Context, resourceID string, ttl time.Duration) (*core.LockHandle, error) {
	if strings.TrimSpace(resourceID) == "" {
		return nil, core.ErrValidation(core.CodeEmptyItemID, "resource id must not be empty")
	}
	if ttl <= 0 {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("lock ttl must be positive, got %s", ttl))
	}

	now := m.now()
	rec := core.LockRecord{
		ResourceID:    resourceID,
		HolderToken:   m.token(),
		AcquiredAt:    now,
		ExpiresAt:     now.Add(ttl),
		LastRenewedAt: now,
	}
	rec.Signature = m.signer.Sign(rec)

	if err := m.store.Create(ctx, rec, now); err != nil {
		return nil, err
	}
	m.logger.Debug("lock acquired", "resource_id", resourceID, "expires_at", rec.ExpiresAt)
	return &core.LockHandle{
		ResourceID: resourceID,
		Token:      rec.HolderToken,
		TTL:        ttl,
		Record:     rec,
	}, nil
}

// Renew pushes the expiry of h to now+ttl. It fails with core.ErrLockStolen
// when the stored record no longer carries h's token and signature. On
// success h.Record holds the new version.
func (m *Manager) Renew(ctx context.Context, h *core.LockHandle) error {
	now := m.now()
	next := h.Record
	next.ExpiresAt = now.Add(h.TTL)
	next.LastRenewedAt = now
	next.Signature = m.signer.Sign(next)

	if err := m.store.Update(ctx, next, h.Token, h.Record.Signature); err != nil {
		return err
	}
	h.Record = next
	return nil
}

// Release deletes the record if it is still h's. Releasing twice, or after a
// takeover, is a no-op.
func (m *Manager) Release(ctx context.Context, h *core.LockHandle) error {
	if h == nil {
		return nil
	}
	removed, err := m.store.Delete(ctx, h.ResourceID, h.Token)
	if err != nil {
		return err
	}
	if !removed {
		m.logger.Debug("lock already gone at release", "resource_id", h.ResourceID)
	}
	return nil
}

// ForceRelease deletes whatever record exists for resourceID. It is an
// operator override and reports whether a record was removed.
func (m *Manager) ForceRelease(ctx context.Context, resourceID string) (bool, error) {
	rec, err := m.store.Get(ctx, resourceID)
	if core.IsCategory(err, core.ErrCatNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	removed, err := m.store.Delete(ctx, resourceID, rec.HolderToken)
	if err != nil {
		return false, err
	}
	if removed {
		m.logger.Warn("lock force-released", "resource_id", resourceID, "holder", rec.HolderToken)
	}
	return removed, nil
}

// Verify reports whether rec was signed with this manager's secret.
func (m *Manager) Verify(rec core.LockRecord) bool {
	return m.signer.Verify(rec)
}

// Status describes a stored record as seen at a point in time.
type Status struct {
	Record    core.LockRecord `json:"record"`
	Live      bool            `json:"live"`
	Valid     bool            `json:"signature_valid"`
	Remaining time.Duration   `json:"remaining"`
}

// Inspect lists every stored record with liveness and signature validity.
func (m *Manager) Inspect(ctx context.Context) ([]Status, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]Status, 0, len(records))
	for _, rec := range records {
		out = append(out, Status{
			Record:    rec,
			Live:      rec.IsLive(now),
			Valid:     m.signer.Verify(rec),
			Remaining: rec.Remaining(now),
		})
	}
	return out, nil
}

// IsLost reports whether err means the holder no longer owns the resource.
func IsLost(err error) bool {
	return errors.Is(err, core.ErrLockStolen)
}
