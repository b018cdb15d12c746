package lock

import (
	"context"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

// Heartbeat renews one handle in the background until stopped or lost.
type Heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// StartHeartbeat renews h every interval. An interval that is not positive or
// not below h.TTL/2 is replaced by h.TTL/3. The first renew failure stops the
// loop and is passed to onLost; the caller must then abort work on the
// resource. h must not be used by anyone else until Stop returns.
func (m *Manager) StartHeartbeat(ctx context.Context, h *core.LockHandle, interval time.Duration, onLost func(error)) *Heartbeat {
	if safe := heartbeatInterval(interval, h.TTL); safe != interval {
		m.logger.Warn("heartbeat interval out of range, clamped",
			"resource_id", h.ResourceID, "interval", interval, "ttl", h.TTL, "using", safe)
		interval = safe
	}
	ctx, cancel := context.WithCancel(ctx)
	hb := &Heartbeat{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go hb.loop(ctx, m, h, interval, onLost)
	return hb
}

// heartbeatInterval returns interval if it is positive and leaves at least
// one retry before ttl runs out, otherwise ttl/3.
func heartbeatInterval(interval, ttl time.Duration) time.Duration {
	if interval > 0 && (ttl <= 0 || interval < ttl/2) {
		return interval
	}
	if safe := ttl / 3; safe >= time.Millisecond {
		return safe
	}
	return time.Millisecond
}

func (hb *Heartbeat) loop(ctx context.Context, m *Manager, h *core.LockHandle, interval time.Duration, onLost func(error)) {
	defer close(hb.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := m.Renew(ctx, h)
		if err == nil {
			m.logger.Debug("lock renewed", "resource_id", h.ResourceID, "expires_at", h.Record.ExpiresAt)
			continue
		}
		// Stop raced with an in-flight renew; not a loss.
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("lock heartbeat failed", "resource_id", h.ResourceID, "error", err)
		hb.mu.Lock()
		hb.err = err
		hb.mu.Unlock()
		if onLost != nil {
			onLost(err)
		}
		return
	}
}

// Stop ends the loop and waits for it to exit.
func (hb *Heartbeat) Stop() {
	hb.cancel()
	<-hb.done
}

// Done is closed when the loop exits.
func (hb *Heartbeat) Done() <-chan struct{} {
	return hb.done
}

// Err returns the renew failure that ended the loop, if any.
func (hb *Heartbeat) Err() error {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.err
}
