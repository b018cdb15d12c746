package core

import (
	"context"
	"time"
)

// LockRecord is the persisted lease for one resource.
type LockRecord struct {
	ResourceID    string    `json:"resource_id"`
	HolderToken   string    `json:"holder_token"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastRenewedAt time.Time `json:"last_renewed_at"`
	Signature     string    `json:"signature"`
}

// IsLive reports whether the record still blocks other acquirers at now.
func (r LockRecord) IsLive(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Remaining returns how long the record stays live after now.
func (r LockRecord) Remaining(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// LockHandle is what a holder keeps after a successful acquire. Record is the
// last version this holder wrote; renew and release compare against it.
type LockHandle struct {
	ResourceID string
	Token      string
	TTL        time.Duration
	Record     LockRecord
}

// LockStore is durable storage shared by every orchestrator. All mutation goes
// through exclusive create, token-checked update and token-checked delete.
// Backend failures are reported as ErrStoreUnavailable.
type LockStore interface {
	// Create inserts rec, or overwrites an existing record whose ExpiresAt is
	// not after now. Returns ErrLockHeld when a live record exists.
	Create(ctx context.Context, rec LockRecord, now time.Time) error

	// Update replaces the record only if the stored token and signature equal
	// expectToken and expectSignature. Returns ErrLockStolen otherwise.
	Update(ctx context.Context, rec LockRecord, expectToken, expectSignature string) error

	// Delete removes the record only if it carries token. It reports whether a
	// record was removed.
	Delete(ctx context.Context, resourceID, token string) (bool, error)

	// Get returns the record for resourceID, or a not-found error.
	Get(ctx context.Context, resourceID string) (*LockRecord, error)

	// List returns every stored record, live or expired.
	List(ctx context.Context) ([]LockRecord, error)

	// Close releases backend resources.
	Close() error
}
