package orchestrator

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

// RetryPolicy defines how many passes a sweep makes and how long it waits
// between them.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64 // Exponential factor
}

// DefaultRetryPolicy returns a default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    5 * time.Second,
		MaxDelay:     2 * time.Minute,
		JitterFactor: 0.2,
		Multiplier:   2.0,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the maximum number of attempts per item.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxAttempts = n
	}
}

// WithBaseDelay sets the delay before the second pass.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxDelay = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.JitterFactor = factor
	}
}

// WithMultiplier sets the exponential multiplier.
func WithMultiplier(m float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.Multiplier = m
	}
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CalculateDelay computes the delay after the given pass.
func (p *RetryPolicy) CalculateDelay(pass int) time.Duration {
	delay := p.delay(pass)
	if p.JitterFactor > 0 {
		delay = addJitter(delay, p.JitterFactor)
	}
	return time.Duration(delay)
}

// CalculateDelayNoJitter computes the delay without jitter (for testing).
func (p *RetryPolicy) CalculateDelayNoJitter(pass int) time.Duration {
	return time.Duration(p.delay(pass))
}

func (p *RetryPolicy) delay(pass int) float64 {
	// Exponential backoff: baseDelay * multiplier^(pass-1)
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(pass-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return delay
}

// Wait sleeps for d or until ctx is done.
func (p *RetryPolicy) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// addJitter adds random jitter to a delay.
func addJitter(delay float64, factor float64) float64 {
	jitter := delay * factor
	// Random value between -jitter and +jitter
	randomJitter := (rand.Float64()*2 - 1) * jitter
	return delay + randomJitter
}

// NextAttempt returns fresh items for every item of run that failed or timed
// out with a retryable error and has attempts left. The items of run are not
// modified.
func NextAttempt(run *core.OrchestrationRun, maxAttempts int) []*core.WorkItem {
	var next []*core.WorkItem
	for _, item := range run.Items {
		switch item.Status {
		case core.ItemStatusFailed, core.ItemStatusTimedOut:
		default:
			continue
		}
		if !item.Retryable || item.AttemptCount >= maxAttempts {
			continue
		}
		next = append(next, item.NextAttempt())
	}
	return next
}
