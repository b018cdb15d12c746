// Package orchestrator dispatches work items under a concurrency ceiling,
// holding a distributed lock on each item for as long as it runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/lock"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/metrics"
)

const defaultReleaseTimeout = 5 * time.Second

// Config holds the timing knobs of a run.
type Config struct {
	LockTTL           time.Duration
	HeartbeatInterval time.Duration
	PerItemTimeout    time.Duration
	// ReleaseTimeout bounds lock release after an item ends, including
	// releases made while the run is being cancelled.
	ReleaseTimeout time.Duration
}

// Validate checks the relations between the timings.
func (c Config) Validate() error {
	switch {
	case c.LockTTL <= 0 || c.HeartbeatInterval <= 0 || c.PerItemTimeout <= 0:
		return core.ErrValidation(core.CodeInvalidConfig, "lock ttl, heartbeat interval and per-item timeout must be positive")
	case c.LockTTL <= 2*c.HeartbeatInterval:
		return core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("lock ttl (%s) must exceed twice the heartbeat interval (%s)", c.LockTTL, c.HeartbeatInterval))
	case c.PerItemTimeout >= c.LockTTL:
		return core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("per-item timeout (%s) must be shorter than lock ttl (%s)", c.PerItemTimeout, c.LockTTL))
	}
	return nil
}

// Orchestrator runs OrchestrationRuns. One Orchestrator may execute many
// runs, sequentially or concurrently.
type Orchestrator struct {
	locks   *lock.Manager
	runner  core.ItemRunner
	cfg     Config
	logger  *logging.Logger
	bus     *events.EventBus
	metrics *metrics.Recorder
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithEventBus publishes item and run events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithMetrics records metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.metrics = r
	}
}

// WithClock replaces time.Now for item timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New validates cfg and returns an orchestrator.
func New(locks *lock.Manager, runner core.ItemRunner, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = defaultReleaseTimeout
	}
	o := &Orchestrator{
		locks:  locks,
		runner: runner,
		cfg:    cfg,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// runState is the mutable state of one Execute call. mu serializes every
// item transition, so each item has a single writer at a time.
type runState struct {
	o   *Orchestrator
	run *core.OrchestrationRun
	log *logging.Logger

	cancel context.CancelCauseFunc

	mu      sync.Mutex
	outputs map[string]string
	fatal   error
}

// Execute runs every item of run and returns once all of them are terminal.
//
// Items are attempted in run order. An item whose lock is held elsewhere is
// skipped. A lost lock fails that item. A lock store failure aborts the run:
// in-flight units are cancelled, their locks released best-effort, remaining
// items failed, and the error is returned with the report. Cancelling ctx
// does the same with a cancellation error.
func (o *Orchestrator) Execute(ctx context.Context, run *core.OrchestrationRun) (*core.Report, error) {
	rs := &runState{
		o:       o,
		run:     run,
		log:     o.logger.WithRun(run.ID),
		outputs: make(map[string]string),
	}
	run.StartedAt = o.now()
	rs.log.Info("run started", "items", len(run.Items), "concurrency_limit", run.ConcurrencyLimit)
	o.publish(events.NewRunStartedEvent(run.ID, len(run.Items), run.ConcurrencyLimit))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	rs.cancel = cancel

	sem := semaphore.NewWeighted(int64(run.ConcurrencyLimit))
	g, gctx := errgroup.WithContext(runCtx)

dispatch:
	for _, item := range run.Items {
		if item.Status != core.ItemStatusPending {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		if gctx.Err() != nil {
			sem.Release(1)
			break
		}
		o.metrics.SlotTaken()

		h, err := o.locks.Acquire(gctx, item.ID, o.cfg.LockTTL)
		if err != nil {
			o.metrics.SlotFreed()
			sem.Release(1)
			switch {
			case gctx.Err() != nil:
				break dispatch
			case errors.Is(err, core.ErrLockHeld):
				o.metrics.LockAcquire(metrics.AcquireHeld)
				rs.log.Info("item skipped, lock held elsewhere", "item_id", item.ID)
				rs.transition(item, core.ItemStatusSkipped, nil)
				continue
			case errors.Is(err, core.ErrStoreUnavailable):
				o.metrics.LockAcquire(metrics.AcquireError)
				rs.abort(err)
				break dispatch
			default:
				o.metrics.LockAcquire(metrics.AcquireError)
				rs.transition(item, core.ItemStatusFailed, err)
				continue
			}
		}
		o.metrics.LockAcquire(metrics.AcquireOK)
		rs.transition(item, core.ItemStatusLocked, nil)

		item := item
		g.Go(func() error {
			defer sem.Release(1)
			defer o.metrics.SlotFreed()
			return rs.runItem(gctx, item, h)
		})
	}

	_ = g.Wait()
	return rs.finish(ctx)
}

// runItem executes one locked item. It returns an error only when the run
// must abort.
func (rs *runState) runItem(ctx context.Context, item *core.WorkItem, h *core.LockHandle) error {
	o := rs.o
	log := rs.log.WithItem(item.ID, item.AttemptCount)

	itemCtx, cancelItem := context.WithCancelCause(ctx)
	defer cancelItem(nil)

	lost := make(chan error, 1)
	hb := o.locks.StartHeartbeat(itemCtx, h, o.cfg.HeartbeatInterval, func(err error) {
		lost <- err
		cancelItem(err)
	})

	rs.transition(item, core.ItemStatusRunning, nil)
	snap := item.Snapshot()
	res := o.runner.Run(itemCtx, snap, o.cfg.PerItemTimeout)
	hb.Stop()

	var lostErr error
	select {
	case lostErr = <-lost:
	default:
	}

	// Release with a context that survives run cancellation.
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ReleaseTimeout)
	if err := o.locks.Release(relCtx, h); err != nil {
		log.Warn("lock release failed, record will expire", "error", err)
	}
	cancel()

	rs.mu.Lock()
	rs.outputs[item.ID] = res.Output
	rs.mu.Unlock()

	switch {
	case lostErr == nil:
		rs.finishItem(item, res)
		return nil
	case errors.Is(lostErr, core.ErrStoreUnavailable):
		rs.transition(item, core.ItemStatusFailed, lostErr)
		rs.abort(lostErr)
		return lostErr
	default:
		// Exclusivity was violated; the unit's own outcome does not count.
		o.metrics.LockLost()
		o.publishPriority(events.NewLockLostEvent(rs.run.ID, item.ID, lostErr))
		log.Error("lock lost while running", "error", lostErr, "unit_status", res.Status)
		rs.transition(item, core.ItemStatusFailed, lostErr)
		return nil
	}
}

// abort records the first fatal error and cancels every in-flight item.
func (rs *runState) abort(err error) {
	rs.mu.Lock()
	first := rs.fatal == nil
	if first {
		rs.fatal = err
	}
	rs.mu.Unlock()
	rs.cancel(err)
	if first {
		rs.o.metrics.StoreFailure()
		rs.log.Error("lock store unavailable, aborting run", "error", err)
		rs.o.publishPriority(events.NewStoreFailureEvent(rs.run.ID, err))
	}
}

// finish fails every item that never reached a terminal status and builds
// the report.
func (rs *runState) finish(ctx context.Context) (*core.Report, error) {
	o := rs.o
	rs.mu.Lock()
	fatal := rs.fatal
	rs.mu.Unlock()

	var runErr error
	outcome := metrics.OutcomeCompleted
	switch {
	case fatal != nil:
		runErr = fatal
		outcome = metrics.OutcomeAborted
	case ctx.Err() != nil:
		runErr = core.ErrCancelledRun("run cancelled").WithCause(context.Cause(ctx))
		outcome = metrics.OutcomeCancelled
	}

	for _, item := range rs.run.Items {
		if item.Status.IsTerminal() {
			continue
		}
		if fatal != nil {
			rs.transition(item, core.ItemStatusFailed,
				core.ErrCancelledRun("run aborted: lock store unavailable").WithCause(fatal))
		} else {
			rs.transition(item, core.ItemStatusFailed, runErr)
		}
	}

	rs.run.FinishedAt = o.now()
	report := core.NewReport(rs.run.ID)
	report.StartedAt = rs.run.StartedAt
	report.FinishedAt = rs.run.FinishedAt
	for _, item := range rs.run.Items {
		report.Record(item, rs.outputs[item.ID])
	}
	report.Cancelled = outcome == metrics.OutcomeCancelled
	if runErr != nil {
		report.Error = runErr.Error()
	}

	o.metrics.RunFinished(outcome)
	o.publishPriority(events.NewRunFinishedEvent(report))
	rs.log.Info("run finished",
		"outcome", outcome,
		"succeeded", report.Count(core.ItemStatusSucceeded),
		"failed", report.Count(core.ItemStatusFailed),
		"timed_out", report.Count(core.ItemStatusTimedOut),
		"skipped", report.Count(core.ItemStatusSkipped),
		"duration", report.Duration(),
	)
	return report, runErr
}

// transition moves item to status, recording err when it fails, and
// publishes the change.
func (rs *runState) transition(item *core.WorkItem, to core.ItemStatus, err error) {
	rs.mu.Lock()
	from := item.Status
	now := rs.o.now()
	var terr error
	if to == core.ItemStatusFailed {
		terr = item.Fail(err, now)
	} else {
		terr = item.Transition(to, now)
	}
	ev := events.NewItemTransitionEvent(rs.run.ID, from, item)
	rs.mu.Unlock()

	if terr != nil {
		rs.log.Error("invalid item transition", "item_id", item.ID, "error", terr)
		return
	}
	rs.itemChanged(item, ev)
}

// finishItem applies an execution result to a running item.
func (rs *runState) finishItem(item *core.WorkItem, res core.ExecutionResult) {
	rs.mu.Lock()
	from := item.Status
	terr := item.Finish(res, rs.o.now())
	ev := events.NewItemTransitionEvent(rs.run.ID, from, item)
	rs.mu.Unlock()

	if terr != nil {
		rs.log.Error("invalid item transition", "item_id", item.ID, "error", terr)
		return
	}
	rs.itemChanged(item, ev)
}

func (rs *runState) itemChanged(item *core.WorkItem, ev events.ItemTransitionEvent) {
	rs.o.publish(ev)
	if !ev.To.IsTerminal() {
		return
	}
	var d time.Duration
	rs.mu.Lock()
	if item.StartedAt != nil && item.FinishedAt != nil {
		d = item.FinishedAt.Sub(*item.StartedAt)
	}
	rs.mu.Unlock()
	rs.o.metrics.ItemFinished(ev.To, d)
	rs.log.Debug("item terminal", "item_id", item.ID, "status", ev.To, "error_code", ev.ErrorCode)
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

func (o *Orchestrator) publishPriority(ev events.Event) {
	if o.bus != nil {
		o.bus.PublishPriority(ev)
	}
}
