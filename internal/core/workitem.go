package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ItemStatus represents the current state of a work item.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusLocked    ItemStatus = "locked"
	ItemStatusRunning   ItemStatus = "running"
	ItemStatusSucceeded ItemStatus = "succeeded"
	ItemStatusFailed    ItemStatus = "failed"
	ItemStatusSkipped   ItemStatus = "skipped"
	ItemStatusTimedOut  ItemStatus = "timed_out"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []ItemStatus{
	ItemStatusPending,
	ItemStatusLocked,
	ItemStatusRunning,
	ItemStatusSucceeded,
	ItemStatusFailed,
	ItemStatusSkipped,
	ItemStatusTimedOut,
}

// validTransitions maps from-state to allowed to-states. Terminal states map
// to an empty set. The failed edges out of pending/locked/running cover run
// cancellation and fatal aborts.
var validTransitions = map[ItemStatus]map[ItemStatus]bool{
	ItemStatusPending: {
		ItemStatusLocked:  true,
		ItemStatusSkipped: true,
		ItemStatusFailed:  true,
	},
	ItemStatusLocked: {
		ItemStatusRunning: true,
		ItemStatusFailed:  true,
	},
	ItemStatusRunning: {
		ItemStatusSucceeded: true,
		ItemStatusFailed:    true,
		ItemStatusTimedOut:  true,
	},
	ItemStatusSucceeded: {},
	ItemStatusFailed:    {},
	ItemStatusSkipped:   {},
	ItemStatusTimedOut:  {},
}

// IsTerminal reports whether the status has no further automatic transition.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusSucceeded, ItemStatusFailed, ItemStatusSkipped, ItemStatusTimedOut:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known status.
func (s ItemStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to ItemStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return ErrValidation(CodeInvalidTransition, fmt.Sprintf("unknown source state: %s", from))
	}
	if !allowed[to] {
		return ErrValidation(CodeInvalidTransition, fmt.Sprintf("invalid transition from %s to %s", from, to))
	}
	return nil
}

// WorkItemSpec is what an issue source hands to a run.
type WorkItemSpec struct {
	ID       string `json:"id" yaml:"id"`
	Payload  string `json:"payload" yaml:"payload"`
	Priority int    `json:"priority" yaml:"priority"`
}

// WorkItem is one unit of work in a run. ID is stable across retries; a retry
// is a new WorkItem with AttemptCount incremented.
type WorkItem struct {
	ID           string
	Payload      string
	Priority     int
	Status       ItemStatus
	AttemptCount int
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Error        string
	ErrorCode    string
	Retryable    bool
}

// NewWorkItem creates a pending item on its first attempt.
func NewWorkItem(spec WorkItemSpec) *WorkItem {
	return &WorkItem{
		ID:           spec.ID,
		Payload:      spec.Payload,
		Priority:     spec.Priority,
		Status:       ItemStatusPending,
		AttemptCount: 1,
	}
}

// Transition moves the item to a new status, stamping timestamps.
func (w *WorkItem) Transition(to ItemStatus, at time.Time) error {
	if err := ValidateTransition(w.Status, to); err != nil {
		return fmt.Errorf("item %s: %w", w.ID, err)
	}
	w.Status = to
	if to == ItemStatusRunning {
		started := at
		w.StartedAt = &started
	}
	if to.IsTerminal() {
		finished := at
		w.FinishedAt = &finished
	}
	return nil
}

// Fail moves the item to failed and records err.
func (w *WorkItem) Fail(err error, at time.Time) error {
	if transErr := w.Transition(ItemStatusFailed, at); transErr != nil {
		return transErr
	}
	w.setError(err)
	return nil
}

func (w *WorkItem) setError(err error) {
	if err == nil {
		return
	}
	w.Error = err.Error()
	w.ErrorCode = GetCode(err)
	w.Retryable = IsRetryable(err)
}

// Finish applies an execution result to a running item.
func (w *WorkItem) Finish(res ExecutionResult, at time.Time) error {
	if err := w.Transition(res.Status, at); err != nil {
		return err
	}
	w.setError(res.Err)
	return nil
}

// Snapshot returns a copy safe to hand to other goroutines or processes.
func (w *WorkItem) Snapshot() WorkItem {
	cp := *w
	if w.StartedAt != nil {
		t := *w.StartedAt
		cp.StartedAt = &t
	}
	if w.FinishedAt != nil {
		t := *w.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// NextAttempt returns a fresh pending item for a retry.
func (w *WorkItem) NextAttempt() *WorkItem {
	return &WorkItem{
		ID:           w.ID,
		Payload:      w.Payload,
		Priority:     w.Priority,
		Status:       ItemStatusPending,
		AttemptCount: w.AttemptCount + 1,
	}
}

// OrchestrationRun is one pass over a list of items. It is owned by the
// orchestrator that executes it.
type OrchestrationRun struct {
	ID               string
	ConcurrencyLimit int
	Items            []*WorkItem
	StartedAt        time.Time
	FinishedAt       time.Time
}

// NewRun builds a run from items, ordering them by descending priority.
// Items with equal priority keep their source order.
func NewRun(id string, limit int, items []*WorkItem) (*OrchestrationRun, error) {
	if limit < 1 {
		return nil, ErrValidation(CodeInvalidConfig, "concurrency limit must be at least 1")
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return nil, ErrValidation(CodeEmptyItemID, "work item id must not be empty")
		}
		if seen[it.ID] {
			return nil, ErrValidation(CodeDuplicateItem, fmt.Sprintf("duplicate work item id: %s", it.ID))
		}
		seen[it.ID] = true
	}
	ordered := make([]*WorkItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	return &OrchestrationRun{
		ID:               id,
		ConcurrencyLimit: limit,
		Items:            ordered,
	}, nil
}
