package core

import (
	"testing"
	"time"
)

func finishedItem(id string, status ItemStatus) *WorkItem {
	item := NewWorkItem(WorkItemSpec{ID: id})
	now := time.Now()
	switch status {
	case ItemStatusSkipped, ItemStatusFailed:
		_ = item.Transition(status, now)
	default:
		_ = item.Transition(ItemStatusLocked, now)
		_ = item.Transition(ItemStatusRunning, now)
		_ = item.Transition(status, now)
	}
	return item
}

func TestReport_RecordKeyedByID(t *testing.T) {
	t.Parallel()
	r := NewReport("run-1")
	r.Record(finishedItem("b", ItemStatusSkipped), "")
	r.Record(finishedItem("a", ItemStatusSucceeded), "patched")
	r.Record(finishedItem("c", ItemStatusSucceeded), "")

	if r.Total() != 3 {
		t.Fatalf("Total() = %d", r.Total())
	}
	if got, _ := r.Status("a"); got != ItemStatusSucceeded {
		t.Errorf("a = %s", got)
	}
	if r.Items["a"].Output != "patched" {
		t.Errorf("output = %q", r.Items["a"].Output)
	}
	if r.Count(ItemStatusSucceeded) != 2 || r.Count(ItemStatusSkipped) != 1 {
		t.Errorf("Counts = %v", r.Counts)
	}
}

func TestReport_RecordReplacesOutcome(t *testing.T) {
	t.Parallel()
	r := NewReport("run-1")
	r.Record(finishedItem("a", ItemStatusFailed), "")
	r.Record(finishedItem("a", ItemStatusSucceeded), "")
	if r.Total() != 1 || r.Count(ItemStatusFailed) != 0 || r.Count(ItemStatusSucceeded) != 1 {
		t.Errorf("Counts = %v, total %d", r.Counts, r.Total())
	}
	if len(r.Order) != 1 {
		t.Errorf("Order = %v", r.Order)
	}
}

func TestReport_Merge(t *testing.T) {
	t.Parallel()
	first := NewReport("run-1")
	first.Record(finishedItem("a", ItemStatusTimedOut), "")
	first.Record(finishedItem("b", ItemStatusSucceeded), "")

	retry := NewReport("run-1")
	retry.Record(finishedItem("a", ItemStatusSucceeded), "")
	retry.FinishedAt = time.Now()

	first.Merge(retry)
	if first.Count(ItemStatusSucceeded) != 2 || first.Count(ItemStatusTimedOut) != 0 {
		t.Errorf("Counts after merge = %v", first.Counts)
	}
	if first.FinishedAt.IsZero() {
		t.Error("FinishedAt should advance")
	}
}

func TestReport_ZeroSuccessesIsValid(t *testing.T) {
	t.Parallel()
	r := NewReport("run-1")
	r.Record(finishedItem("a", ItemStatusFailed), "")
	if r.Count(ItemStatusSucceeded) != 0 || r.Total() != 1 {
		t.Errorf("report = %+v", r)
	}
}
