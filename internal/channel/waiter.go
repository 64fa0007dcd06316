package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coachpo/eventline/errs"
	"github.com/coachpo/eventline/internal/clock"
	"github.com/coachpo/eventline/internal/observability"
	"github.com/coachpo/eventline/internal/telemetry"
	"github.com/coachpo/eventline/internal/transport"
)

// DefaultWaitTimeout applies when WaitFor is given a non-positive timeout.
const DefaultWaitTimeout = 5 * time.Second

type waitResult struct {
	value  any
	err    error
	result string
}

// WaitFor blocks until the next valid payload for event arrives, the timeout
// elapses, or ctx ends. An invalid payload fails the wait immediately. The
// transient listener is removed on every outcome.
func (c *Channel) WaitFor(ctx context.Context, event string, timeout time.Duration) (any, error) {
	ct, err := c.contracts.Inbound(event)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	results := make(chan waitResult, 1)
	id := transport.NextListenerID()
	started := c.clock.Now()

	var (
		once    sync.Once
		tmu     sync.Mutex
		timer   clock.Timer
		settled bool
	)
	settle := func(r waitResult) {
		once.Do(func() {
			tmu.Lock()
			settled = true
			if timer != nil {
				timer.Stop()
			}
			tmu.Unlock()
			if conn, live, ok := c.listeners.remove(event, id); ok && conn != nil && live != 0 {
				conn.Off(event, live)
			}
			c.metrics.recordWaiter(event, r.result, c.clock.Now().Sub(started))
			results <- r
		})
	}

	entry := c.listeners.add(event, id, c.inbound(ct,
		func(value any) { settle(waitResult{value: value, result: telemetry.ResultSuccess}) },
		func(err error) { settle(waitResult{err: err, result: telemetry.ResultInvalid}) },
	))

	if conn := c.handle(); conn != nil {
		c.listeners.bind(entry, conn)
	}

	t := c.clock.AfterFunc(timeout, func() {
		settle(waitResult{
			err: errs.New(event, errs.CodeTimeout,
				errs.WithMessage("no event within "+timeout.String())),
			result: telemetry.ResultTimeout,
		})
	})
	tmu.Lock()
	if settled {
		t.Stop()
	} else {
		timer = t
	}
	tmu.Unlock()
	c.debugf("waiting", observability.F("event", event), observability.F("timeout", timeout.String()))

	select {
	case r := <-results:
		return r.value, r.err
	case <-ctx.Done():
		cause := ctx.Err()
		code, result := errs.CodeUnavailable, telemetry.ResultCanceled
		if errors.Is(cause, context.DeadlineExceeded) {
			code, result = errs.CodeTimeout, telemetry.ResultTimeout
		}
		settle(waitResult{
			err:    errs.New(event, code, errs.WithMessage("wait ended"), errs.WithCause(cause)),
			result: result,
		})
		r := <-results
		return r.value, r.err
	}
}
