package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

func newTestSQLiteLockStore(t *testing.T, path string) *SQLiteLockStore {
	t.Helper()
	s, err := NewSQLiteLockStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteLockStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteLockStore_CreatesDirectory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "dir", "locks.db")
	s := newTestSQLiteLockStore(t, path)
	if s.Path() != path {
		t.Errorf("Path() = %s, want %s", s.Path(), path)
	}
}

func TestSQLiteLockStore_ReopenKeepsRecords(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "locks.db")
	ctx := context.Background()
	now := time.Now()

	first, err := NewSQLiteLockStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Create(ctx, record("issue-9", "tok", now, time.Minute), now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := newTestSQLiteLockStore(t, path)
	got, err := second.Get(ctx, "issue-9")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.HolderToken != "tok" || !got.AcquiredAt.Equal(now) {
		t.Errorf("record after reopen = %+v", got)
	}
}

// Two handles on one file stand in for two cooperating processes.
func TestSQLiteLockStore_SharedFileExclusive(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "shared.db")
	a := newTestSQLiteLockStore(t, path)
	b := newTestSQLiteLockStore(t, path)
	ctx := context.Background()
	now := time.Now()

	const perStore = 8
	var wg sync.WaitGroup
	errs := make(chan error, 2*perStore)
	for i := 0; i < perStore; i++ {
		for _, s := range []*SQLiteLockStore{a, b} {
			wg.Add(1)
			go func(s *SQLiteLockStore, tok string) {
				defer wg.Done()
				errs <- s.Create(ctx, record("shared", tok, now, time.Minute), now)
			}(s, fmt.Sprintf("%p-%d", s, i))
		}
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, core.ErrLockHeld) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestSQLiteLockStore_ClosedIsStoreUnavailable(t *testing.T) {
	t.Parallel()
	s, err := NewSQLiteLockStore(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	err = s.Create(context.Background(), record("x", "t", time.Now(), time.Minute), time.Now())
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Errorf("Create() on closed store = %v, want ErrStoreUnavailable", err)
	}
}
