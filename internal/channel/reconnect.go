package channel

import (
	"sync"
	"time"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/internal/clock"
	"github.com/coachpo/eventline/internal/observability"
)

const (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// backoffDelay returns min(1s * 2^attempts, 30s).
func backoffDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= 5 {
		// 1s<<5 already exceeds the cap.
		return maxBackoff
	}
	d := baseBackoff << attempts
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// reconnector owns the retry counter and the timers it has scheduled.
type reconnector struct {
	mu       sync.Mutex
	attempts int
	seq      uint64
	pending  map[uint64]clock.Timer
}

// schedule captures the delay for the current attempt, arms fn, then
// increments the counter.
func (r *reconnector) schedule(clk clock.Clock, fn func()) (time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt := r.attempts
	delay := backoffDelay(attempt)
	if r.pending == nil {
		r.pending = make(map[uint64]clock.Timer)
	}
	r.seq++
	id := r.seq
	r.pending[id] = clk.AfterFunc(delay, func() {
		r.mu.Lock()
		_, live := r.pending[id]
		delete(r.pending, id)
		r.mu.Unlock()
		if live {
			fn()
		}
	})
	r.attempts++
	return delay, attempt
}

func (r *reconnector) cancelPending() {
	r.mu.Lock()
	timers := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

func (r *reconnector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *reconnector) scheduled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reconnect tears down the transport and runs Init again. It does nothing
// when no address is configured.
func (c *Channel) Reconnect() error {
	if !c.target().HasAddress() {
		c.debugf("reconnect skipped: no address")
		return nil
	}
	c.metrics.recordReconnect("reconnect")
	c.Disconnect()
	return c.Init()
}

// ReconnectWithBackoff schedules Init after min(1s * 2^attempts, 30s) and
// increments the attempt counter. The counter is never reset by a successful
// connect. It returns the scheduled delay.
func (c *Channel) ReconnectWithBackoff() time.Duration {
	delay, attempt := c.retry.schedule(c.clock, func() {
		if err := c.Init(); err != nil {
			c.logger.Error("scheduled reconnect failed",
				observability.F("channel", c.name),
				observability.Err(err))
		}
	})
	c.metrics.recordReconnect("backoff")
	c.logger.Info("reconnect scheduled",
		observability.F("channel", c.name),
		observability.F("attempt", attempt),
		observability.F("delay", delay.String()))
	return delay
}

// Attempts returns how many backoff reconnects have been scheduled.
func (c *Channel) Attempts() int {
	return c.retry.count()
}

// target is the resolved configuration, or the base before the first Init.
func (c *Channel) target() config.ChannelConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return c.cfg
	}
	return c.base
}
