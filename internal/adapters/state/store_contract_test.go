package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

type storeFactory func(t *testing.T) core.LockStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) core.LockStore {
			return NewMemoryLockStore()
		},
		"sqlite": func(t *testing.T) core.LockStore {
			t.Helper()
			s, err := NewSQLiteLockStore(filepath.Join(t.TempDir(), "locks.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"redis": func(t *testing.T) core.LockStore {
			t.Helper()
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s := NewRedisLockStore(client)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func record(id, token string, acquired time.Time, ttl time.Duration) core.LockRecord {
	return core.LockRecord{
		ResourceID:    id,
		HolderToken:   token,
		AcquiredAt:    acquired,
		ExpiresAt:     acquired.Add(ttl),
		LastRenewedAt: acquired,
		Signature:     "sig-" + token,
	}
}

func TestLockStore_Contract(t *testing.T) {
	t.Parallel()
	for name, newStore := range backends() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			t.Run("create then held", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				now := time.Now()
				require.NoError(t, s.Create(ctx, record("issue-1", "a", now, time.Minute), now))

				err := s.Create(ctx, record("issue-1", "b", now, time.Minute), now)
				assert.True(t, errors.Is(err, core.ErrLockHeld), "got %v", err)

				got, err := s.Get(ctx, "issue-1")
				require.NoError(t, err)
				assert.Equal(t, "a", got.HolderToken)
				assert.True(t, got.ExpiresAt.Equal(now.Add(time.Minute)))
			})

			t.Run("takeover after expiry", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				now := time.Now()
				require.NoError(t, s.Create(ctx, record("issue-2", "a", now, time.Second), now))

				// Still live one microsecond before expiry.
				err := s.Create(ctx, record("issue-2", "b", now, time.Minute), now.Add(time.Second-time.Microsecond))
				assert.True(t, errors.Is(err, core.ErrLockHeld), "got %v", err)

				later := now.Add(time.Second)
				require.NoError(t, s.Create(ctx, record("issue-2", "b", later, time.Minute), later))
				got, err := s.Get(ctx, "issue-2")
				require.NoError(t, err)
				assert.Equal(t, "b", got.HolderToken)
			})

			t.Run("update checks token and signature", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				now := time.Now()
				rec := record("issue-3", "a", now, time.Minute)
				require.NoError(t, s.Create(ctx, rec, now))

				renewed := rec
				renewed.ExpiresAt = now.Add(2 * time.Minute)
				renewed.LastRenewedAt = now.Add(time.Second)
				renewed.Signature = "sig-a-2"
				require.NoError(t, s.Update(ctx, renewed, "a", rec.Signature))

				// Reusing the superseded signature fails.
				err := s.Update(ctx, renewed, "a", rec.Signature)
				assert.True(t, errors.Is(err, core.ErrLockStolen), "got %v", err)

				err = s.Update(ctx, renewed, "zombie", renewed.Signature)
				assert.True(t, errors.Is(err, core.ErrLockStolen), "got %v", err)

				got, err := s.Get(ctx, "issue-3")
				require.NoError(t, err)
				assert.True(t, got.ExpiresAt.Equal(now.Add(2*time.Minute)))
				assert.Equal(t, "sig-a-2", got.Signature)
			})

			t.Run("update missing record is stolen", func(t *testing.T) {
				s := newStore(t)
				err := s.Update(context.Background(), record("nope", "a", time.Now(), time.Minute), "a", "sig-a")
				assert.True(t, errors.Is(err, core.ErrLockStolen), "got %v", err)
			})

			t.Run("delete is token checked and idempotent", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				now := time.Now()
				require.NoError(t, s.Create(ctx, record("issue-4", "a", now, time.Minute), now))

				removed, err := s.Delete(ctx, "issue-4", "stale")
				require.NoError(t, err)
				assert.False(t, removed)

				removed, err = s.Delete(ctx, "issue-4", "a")
				require.NoError(t, err)
				assert.True(t, removed)

				removed, err = s.Delete(ctx, "issue-4", "a")
				require.NoError(t, err)
				assert.False(t, removed)

				_, err = s.Get(ctx, "issue-4")
				assert.True(t, core.IsCategory(err, core.ErrCatNotFound), "got %v", err)
			})

			t.Run("list", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				now := time.Now()
				require.NoError(t, s.Create(ctx, record("b", "t1", now, time.Minute), now))
				require.NoError(t, s.Create(ctx, record("a", "t2", now, time.Minute), now))
				recs, err := s.List(ctx)
				require.NoError(t, err)
				require.Len(t, recs, 2)
				assert.Equal(t, "a", recs[0].ResourceID)
				assert.Equal(t, "b", recs[1].ResourceID)
			})

			t.Run("ids that look like store internals", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				now := time.Now()
				ids := []string{"__index", "index", "rec:issue-1", "rec:"}
				for i, id := range ids {
					tok := string(rune('a' + i))
					require.NoError(t, s.Create(ctx, record(id, tok, now, time.Minute), now), "id %q", id)
				}
				got, err := s.Get(ctx, "index")
				require.NoError(t, err)
				assert.Equal(t, "b", got.HolderToken)

				recs, err := s.List(ctx)
				require.NoError(t, err)
				assert.Len(t, recs, len(ids))

				removed, err := s.Delete(ctx, "__index", "a")
				require.NoError(t, err)
				assert.True(t, removed)
				recs, err = s.List(ctx)
				require.NoError(t, err)
				assert.Len(t, recs, len(ids)-1)
			})

			t.Run("concurrent creates have one winner", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				now := time.Now()
				const n = 16
				var wg sync.WaitGroup
				results := make(chan error, n)
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						tok := string(rune('a' + i))
						results <- s.Create(ctx, record("contended", tok, now, time.Minute), now)
					}(i)
				}
				wg.Wait()
				close(results)

				wins, held := 0, 0
				for err := range results {
					switch {
					case err == nil:
						wins++
					case errors.Is(err, core.ErrLockHeld):
						held++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}
				assert.Equal(t, 1, wins)
				assert.Equal(t, n-1, held)
			})
		})
	}
}
