package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

func TestEventBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewRunStartedEvent("run-1", 4, 2))

	select {
	case received := <-ch:
		if received.EventType() != TypeRunStarted {
			t.Errorf("expected %s, got %s", TypeRunStarted, received.EventType())
		}
		if received.RunID() != "run-1" {
			t.Errorf("expected run-1, got %s", received.RunID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestEventBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	itemCh := bus.Subscribe(TypeItemTransition)
	allCh := bus.Subscribe()

	item := core.NewWorkItem(core.WorkItemSpec{ID: "issue-1"})
	_ = item.Transition(core.ItemStatusSkipped, time.Now())

	bus.Publish(NewRunStartedEvent("run-1", 1, 1))
	bus.Publish(NewItemTransitionEvent("run-1", core.ItemStatusPending, item))

	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("allCh missing event %d", i)
		}
	}

	select {
	case received := <-itemCh:
		ev, ok := received.(ItemTransitionEvent)
		if !ok {
			t.Fatalf("unexpected event %T", received)
		}
		if ev.From != core.ItemStatusPending || ev.To != core.ItemStatusSkipped || ev.ItemID != "issue-1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("itemCh should receive the transition")
	}
	select {
	case ev := <-itemCh:
		t.Errorf("itemCh got unexpected %s", ev.EventType())
	default:
	}
}

func TestEventBus_PriorityNeverDrops(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	priorityCh := bus.SubscribePriority(TypeRunFinished)

	for i := 0; i < 100; i++ {
		bus.Publish(NewRunStartedEvent("run-1", i, 1))
	}

	report := core.NewReport("run-1")
	bus.PublishPriority(NewRunFinishedEvent(report))

	select {
	case received := <-priorityCh:
		if received.EventType() != TypeRunFinished {
			t.Errorf("expected run_finished, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("priority event was dropped")
	}
}

func TestEventBus_RingBufferDropsOldest(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	ch := bus.Subscribe()
	for i := 0; i < 10; i++ {
		bus.Publish(NewRunStartedEvent("run-1", i, 1))
	}

	if got := bus.DroppedCount(); got != 5 {
		t.Errorf("DroppedCount() = %d, want 5", got)
	}

	first := (<-ch).(RunStartedEvent)
	if first.Items != 5 {
		t.Errorf("oldest retained event = %d, want 5", first.Items)
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := New(100)
	defer bus.Close()

	ch := bus.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewLockLostEvent("run-1", "issue-1", errors.New("stolen")))
			}
		}()
	}
	wg.Wait()

	received := 0
drainLoop:
	for {
		select {
		case <-ch:
			received++
		default:
			break drainLoop
		}
	}
	if received == 0 {
		t.Error("should have received some events")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestEventBus_SubscribeOnClosedBus(t *testing.T) {
	bus := New(10)
	bus.Close()

	if _, ok := <-bus.Subscribe(); ok {
		t.Error("channel should be closed")
	}
	if _, ok := <-bus.SubscribePriority(); ok {
		t.Error("priority channel should be closed")
	}
	// Publishing after close is a no-op.
	bus.Publish(NewRunStartedEvent("run-1", 1, 1))
	bus.PublishPriority(NewStoreFailureEvent("run-1", nil))
}

func TestNewRunFinishedEvent_CopiesCounts(t *testing.T) {
	report := core.NewReport("run-9")
	item := core.NewWorkItem(core.WorkItemSpec{ID: "a"})
	_ = item.Transition(core.ItemStatusSkipped, time.Now())
	report.Record(item, "")

	ev := NewRunFinishedEvent(report)
	report.Counts[core.ItemStatusSkipped] = 99

	if ev.Counts[core.ItemStatusSkipped] != 1 {
		t.Errorf("event counts aliased the report: %v", ev.Counts)
	}
	if ev.RunID() != "run-9" {
		t.Errorf("RunID() = %s", ev.RunID())
	}
}
