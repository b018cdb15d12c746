// Package metrics exposes orchestration metrics through Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

const namespace = "quorum_sweep"

// Recorder holds the sweep collectors. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	runs          *prometheus.CounterVec
	items         *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	lockAcquire   *prometheus.CounterVec
	locksLost     prometheus.Counter
	storeFailures prometheus.Counter
	retries       prometheus.Counter
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// New creates a recorder and registers its collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Orchestration runs by outcome (completed, cancelled, aborted).",
		}, []string{"outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Work items reaching a terminal status.",
		}, []string{"status"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Wall time of executed items from dispatch to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items_in_flight",
			Help:      "Items currently holding a concurrency slot.",
		}),
		lockAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquire_total",
			Help:      "Lock acquisition attempts by result (acquired, held, error).",
		}, []string{"result"}),
		locksLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_lost_total",
			Help:      "Locks found stolen or unrenewable by a heartbeat.",
		}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Lock store operations that failed as unavailable.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Items scheduled for another attempt.",
		}),
	}
	reg.MustRegister(r.runs, r.items, r.itemDuration, r.inFlight,
		r.lockAcquire, r.locksLost, r.storeFailures, r.retries)
	return r
}

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeAborted   = "aborted"
)

// Lock acquisition results.
const (
	AcquireOK    = "acquired"
	AcquireHeld  = "held"
	AcquireError = "error"
)

// RunFinished counts a finished run.
func (r *Recorder) RunFinished(outcome string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
}

// ItemFinished counts an item's terminal status. d is zero for items that
// never ran.
func (r *Recorder) ItemFinished(status core.ItemStatus, d time.Duration) {
	if r == nil {
		return
	}
	r.items.WithLabelValues(string(status)).Inc()
	if d > 0 {
		r.itemDuration.WithLabelValues(string(status)).Observe(d.Seconds())
	}
}

// SlotTaken marks a concurrency slot as in use.
func (r *Recorder) SlotTaken() {
	if r == nil {
		return
	}
	r.inFlight.Inc()
}

// SlotFreed marks a concurrency slot as free.
func (r *Recorder) SlotFreed() {
	if r == nil {
		return
	}
	r.inFlight.Dec()
}

// LockAcquire counts an acquisition attempt.
func (r *Recorder) LockAcquire(result string) {
	if r == nil {
		return
	}
	r.lockAcquire.WithLabelValues(result).Inc()
}

// LockLost counts a lost lock.
func (r *Recorder) LockLost() {
	if r == nil {
		return
	}
	r.locksLost.Inc()
}

// StoreFailure counts a lock store failure.
func (r *Recorder) StoreFailure() {
	if r == nil {
		return
	}
	r.storeFailures.Inc()
}

// Retry counts an item scheduled for another attempt.
func (r *Recorder) Retry() {
	if r == nil {
		return
	}
	r.retries.Inc()
}

// WriteTextfile writes everything g gathers to path in the text exposition
// format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
