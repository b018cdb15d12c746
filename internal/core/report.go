package core

import (
	"time"
)

// ExecutionResult is what the isolated executor hands back for one item.
type ExecutionResult struct {
	Status   ItemStatus    `json:"status"`
	Output   string        `json:"output,omitempty"`
	Err      error         `json:"-"`
	ExitCode int           `json:"exit_code"`
	PID      int           `json:"pid,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ItemOutcome is the terminal record for one item in a Report.
type ItemOutcome struct {
	ID           string     `json:"id"`
	Status       ItemStatus `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	Error        string     `json:"error,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	Retryable    bool       `json:"retryable,omitempty"`
	Output       string     `json:"output,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Report aggregates a run. Items is keyed by item id; Order preserves the
// priority order the items were attempted in.
type Report struct {
	RunID      string                 `json:"run_id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Items      map[string]ItemOutcome `json:"items"`
	Order      []string               `json:"order"`
	Counts     map[ItemStatus]int     `json:"counts"`
	Cancelled  bool                   `json:"cancelled"`
	Error      string                 `json:"error,omitempty"`
}

// NewReport creates an empty report for runID.
func NewReport(runID string) *Report {
	return &Report{
		RunID:  runID,
		Items:  make(map[string]ItemOutcome),
		Counts: make(map[ItemStatus]int),
	}
}

// Record stores the outcome of item, replacing any earlier outcome for the
// same id, and keeps Counts consistent.
func (r *Report) Record(item *WorkItem, output string) {
	if prev, ok := r.Items[item.ID]; ok {
		r.Counts[prev.Status]--
		if r.Counts[prev.Status] == 0 {
			delete(r.Counts, prev.Status)
		}
	} else {
		r.Order = append(r.Order, item.ID)
	}
	snap := item.Snapshot()
	r.Items[item.ID] = ItemOutcome{
		ID:           snap.ID,
		Status:       snap.Status,
		AttemptCount: snap.AttemptCount,
		Error:        snap.Error,
		ErrorCode:    snap.ErrorCode,
		Retryable:    snap.Retryable,
		Output:       output,
		StartedAt:    snap.StartedAt,
		FinishedAt:   snap.FinishedAt,
	}
	r.Counts[snap.Status]++
}

// Merge folds a later report (e.g. a retry pass) into r. Outcomes from other
// replace outcomes for the same ids.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	for _, id := range other.Order {
		out := other.Items[id]
		if prev, ok := r.Items[id]; ok {
			r.Counts[prev.Status]--
			if r.Counts[prev.Status] == 0 {
				delete(r.Counts, prev.Status)
			}
		} else {
			r.Order = append(r.Order, id)
		}
		r.Items[id] = out
		r.Counts[out.Status]++
	}
	if other.FinishedAt.After(r.FinishedAt) {
		r.FinishedAt = other.FinishedAt
	}
	r.Cancelled = r.Cancelled || other.Cancelled
	if other.Error != "" {
		r.Error = other.Error
	}
}

// Count returns the number of items with status s.
func (r *Report) Count(s ItemStatus) int {
	return r.Counts[s]
}

// Total returns the number of items in the report.
func (r *Report) Total() int {
	return len(r.Items)
}

// Status returns the terminal status recorded for id.
func (r *Report) Status(id string) (ItemStatus, bool) {
	out, ok := r.Items[id]
	return out.Status, ok
}

// Duration returns the wall-clock duration of the run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
