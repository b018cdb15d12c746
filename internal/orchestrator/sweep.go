package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/events"
)

// Sweep executes items, then keeps scheduling retry passes for items that
// failed with a retryable error until policy.MaxAttempts is reached. Each
// pass is a new OrchestrationRun made of fresh WorkItems. The returned report
// merges every pass, keeping the last outcome per item id.
//
// A fatal error or cancellation stops the sweep after the current pass.
func (o *Orchestrator) Sweep(ctx context.Context, items []*core.WorkItem, limit int, policy *RetryPolicy) (*core.Report, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	run, err := core.NewRun(uuid.NewString(), limit, items)
	if err != nil {
		return nil, err
	}
	report, err := o.Execute(ctx, run)
	if err != nil {
		return report, err
	}

	for pass := 1; ; pass++ {
		next := NextAttempt(run, policy.MaxAttempts)
		if len(next) == 0 {
			return report, nil
		}

		delay := policy.CalculateDelay(pass)
		for _, item := range next {
			o.metrics.Retry()
			o.publish(events.NewItemRetryEvent(run.ID, item.ID, item.AttemptCount, delay))
		}
		o.logger.WithRun(run.ID).Info("scheduling retry pass",
			"items", len(next), "pass", pass+1, "delay", delay)

		if err := policy.Wait(ctx, delay); err != nil {
			cerr := core.ErrCancelledRun("sweep cancelled between passes").WithCause(context.Cause(ctx))
			report.Cancelled = true
			report.Error = cerr.Error()
			return report, cerr
		}

		run, err = core.NewRun(uuid.NewString(), limit, next)
		if err != nil {
			return report, err
		}
		passReport, err := o.Execute(ctx, run)
		report.Merge(passReport)
		if err != nil {
			return report, err
		}
	}
}

// IsFatal reports whether err from Execute or Sweep means the lock store
// became unavailable, as opposed to a cancellation.
func IsFatal(err error) bool {
	return errors.Is(err, core.ErrStoreUnavailable)
}
