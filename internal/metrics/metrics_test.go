package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RunFinished(OutcomeCompleted)
	r.ItemFinished(core.ItemStatusSucceeded, 2*time.Second)
	r.ItemFinished(core.ItemStatusSkipped, 0)
	r.ItemFinished(core.ItemStatusSucceeded, time.Second)
	r.LockAcquire(AcquireOK)
	r.LockAcquire(AcquireHeld)
	r.LockLost()
	r.StoreFailure()
	r.Retry()
	r.SlotTaken()
	r.SlotTaken()
	r.SlotFreed()

	if got := testutil.ToFloat64(r.items.WithLabelValues("succeeded")); got != 2 {
		t.Errorf("succeeded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.items.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.inFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(r.itemDuration); got != 1 {
		t.Errorf("duration series = %d, want 1 (skipped items are not observed)", got)
	}
	if got := testutil.ToFloat64(r.lockAcquire.WithLabelValues(AcquireHeld)); got != 1 {
		t.Errorf("held = %v, want 1", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) < 8 {
		t.Errorf("expected all collectors to report, got %d families", len(mfs))
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.RunFinished(OutcomeAborted)
	r.ItemFinished(core.ItemStatusFailed, time.Second)
	r.SlotTaken()
	r.SlotFreed()
	r.LockAcquire(AcquireError)
	r.LockLost()
	r.StoreFailure()
	r.Retry()
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	New(reg)
}

func TestWriteTextfile(t *testing.T) {
	reg := NewRegistry()
	r := New(reg)
	r.RunFinished(OutcomeCancelled)

	path := filepath.Join(t.TempDir(), "sweep.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `quorum_sweep_runs_total{outcome="cancelled"} 1`) {
		t.Errorf("textfile missing run counter:\n%s", data)
	}
}
