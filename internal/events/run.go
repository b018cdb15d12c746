package events

import (
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

// Run and item event types.
const (
	TypeRunStarted     = "run_started"
	TypeRunFinished    = "run_finished"
	TypeItemTransition = "item_transition"
	TypeLockLost       = "lock_lost"
	TypeStoreFailure   = "store_failure"
	TypeItemRetry      = "item_retry_scheduled"
)

// RunStartedEvent is published before the first dispatch.
type RunStartedEvent struct {
	BaseEvent
	Items            int `json:"items"`
	ConcurrencyLimit int `json:"concurrency_limit"`
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID string, items, limit int) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent:        NewBaseEvent(TypeRunStarted, runID),
		Items:            items,
		ConcurrencyLimit: limit,
	}
}

// RunFinishedEvent carries the per-status totals of a finished run.
type RunFinishedEvent struct {
	BaseEvent
	Counts    map[core.ItemStatus]int `json:"counts"`
	Duration  time.Duration           `json:"duration"`
	Cancelled bool                    `json:"cancelled"`
	Error     string                  `json:"error,omitempty"`
}

// NewRunFinishedEvent creates a RunFinishedEvent from a report.
func NewRunFinishedEvent(report *core.Report) RunFinishedEvent {
	counts := make(map[core.ItemStatus]int, len(report.Counts))
	for k, v := range report.Counts {
		counts[k] = v
	}
	return RunFinishedEvent{
		BaseEvent: NewBaseEvent(TypeRunFinished, report.RunID),
		Counts:    counts,
		Duration:  report.Duration(),
		Cancelled: report.Cancelled,
		Error:     report.Error,
	}
}

// ItemTransitionEvent is published on every item status change.
type ItemTransitionEvent struct {
	BaseEvent
	ItemID    string          `json:"item_id"`
	Attempt   int             `json:"attempt"`
	From      core.ItemStatus `json:"from"`
	To        core.ItemStatus `json:"to"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// NewItemTransitionEvent creates an ItemTransitionEvent for item, which must
// already be in its new status.
func NewItemTransitionEvent(runID string, from core.ItemStatus, item *core.WorkItem) ItemTransitionEvent {
	return ItemTransitionEvent{
		BaseEvent: NewBaseEvent(TypeItemTransition, runID),
		ItemID:    item.ID,
		Attempt:   item.AttemptCount,
		From:      from,
		To:        item.Status,
		Error:     item.Error,
		ErrorCode: item.ErrorCode,
	}
}

// LockLostEvent is published when a heartbeat finds the lock gone.
type LockLostEvent struct {
	BaseEvent
	ResourceID string `json:"resource_id"`
	Error      string `json:"error"`
}

// NewLockLostEvent creates a LockLostEvent.
func NewLockLostEvent(runID, resourceID string, err error) LockLostEvent {
	return LockLostEvent{
		BaseEvent:  NewBaseEvent(TypeLockLost, runID),
		ResourceID: resourceID,
		Error:      errString(err),
	}
}

// StoreFailureEvent is published when the lock store becomes unreachable
// and the run aborts.
type StoreFailureEvent struct {
	BaseEvent
	Error string `json:"error"`
}

// NewStoreFailureEvent creates a StoreFailureEvent.
func NewStoreFailureEvent(runID string, err error) StoreFailureEvent {
	return StoreFailureEvent{
		BaseEvent: NewBaseEvent(TypeStoreFailure, runID),
		Error:     errString(err),
	}
}

// ItemRetryEvent is published when a failed item is queued for another pass.
type ItemRetryEvent struct {
	BaseEvent
	ItemID  string        `json:"item_id"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// NewItemRetryEvent creates an ItemRetryEvent.
func NewItemRetryEvent(runID, itemID string, attempt int, delay time.Duration) ItemRetryEvent {
	return ItemRetryEvent{
		BaseEvent: NewBaseEvent(TypeItemRetry, runID),
		ItemID:    itemID,
		Attempt:   attempt,
		Delay:     delay,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
