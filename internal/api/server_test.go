package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/lock"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/metrics"
)

var testSecret = []byte("0123456789abcdef")

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *lock.Manager) {
	t.Helper()
	store := state.NewMemoryLockStore()
	t.Cleanup(func() { _ = store.Close() })
	mgr := lock.NewManager(store, testSecret)
	return NewServer(mgr, opts...), mgr
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

type downStore struct{ core.LockStore }

func (downStore) List(context.Context) ([]core.LockRecord, error) {
	return nil, core.ErrStore("list", errors.New("connection refused"))
}

func TestHealth_StoreDown(t *testing.T) {
	s := NewServer(lock.NewManager(downStore{}, testSecret))
	rec := do(t, s, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestListLocks(t *testing.T) {
	s, mgr := newTestServer(t)
	ctx := context.Background()
	_, err := mgr.Acquire(ctx, "acme/widgets#12", time.Minute)
	require.NoError(t, err)
	_, err = mgr.Acquire(ctx, "B", time.Minute)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/v1/locks/")
	require.Equal(t, http.StatusOK, rec.Code)

	var locks []LockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &locks))
	require.Len(t, locks, 2)
	for _, l := range locks {
		assert.True(t, l.Live)
		assert.True(t, l.SignatureValid)
		assert.Positive(t, l.RemainingMS)
	}
}

func TestListLocks_LiveOnly(t *testing.T) {
	now := time.Now()
	store := state.NewMemoryLockStore()
	past := lock.NewManager(store, testSecret, lock.WithClock(func() time.Time { return now.Add(-time.Hour) }))
	_, err := past.Acquire(context.Background(), "stale", time.Minute)
	require.NoError(t, err)

	mgr := lock.NewManager(store, testSecret)
	_, err = mgr.Acquire(context.Background(), "fresh", time.Minute)
	require.NoError(t, err)
	s := NewServer(mgr)

	rec := do(t, s, http.MethodGet, "/api/v1/locks/?live=true")
	var locks []LockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &locks))
	require.Len(t, locks, 1)
	assert.Equal(t, "fresh", locks[0].ResourceID)
}

func TestGetLock(t *testing.T) {
	s, mgr := newTestServer(t)
	h, err := mgr.Acquire(context.Background(), "acme/widgets#12", time.Minute)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/v1/locks/acme/widgets%2312")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var l LockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	assert.Equal(t, "acme/widgets#12", l.ResourceID)
	assert.Equal(t, h.Token, l.HolderToken)

	rec = do(t, s, http.MethodGet, "/api/v1/locks/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForceRelease(t *testing.T) {
	s, mgr := newTestServer(t)
	_, err := mgr.Acquire(context.Background(), "A", time.Minute)
	require.NoError(t, err)

	rec := do(t, s, http.MethodDelete, "/api/v1/locks/A")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/v1/locks/A?force=true")
	assert.Equal(t, http.StatusOK, rec.Code)

	statuses, err := mgr.Inspect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, statuses)

	rec = do(t, s, http.MethodDelete, "/api/v1/locks/A?force=true")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	rec := metrics.New(reg)
	rec.RunFinished(metrics.OutcomeCompleted)

	s, _ := newTestServer(t, WithGatherer(reg))
	res := do(t, s, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `quorum_sweep_runs_total{outcome="completed"} 1`)
}

func TestSSE_NoBus(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/events")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSSE_StreamsEvents(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	s, _ := newTestServer(t, WithEventBus(bus))

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events?types=lock_lost", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return name, data
			}
		}
	}

	name, _ := readEvent()
	require.Equal(t, "connected", name)

	// Filtered out by ?types.
	bus.Publish(events.NewStoreFailureEvent("run-1", errors.New("down")))
	bus.Publish(events.NewLockLostEvent("run-1", "A", core.ErrStolen("A")))

	name, data := readEvent()
	assert.Equal(t, events.TypeLockLost, name)
	assert.Contains(t, data, `"resource_id":"A"`)
	assert.Contains(t, data, `"run_id":"run-1"`)
}
