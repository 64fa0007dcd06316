package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/coachpo/eventline/errs"
	"github.com/coachpo/eventline/internal/observability"
	"github.com/coachpo/eventline/internal/telemetry"
	"github.com/coachpo/eventline/internal/transport"
)

// Emit validates data and sends it. Invalid payloads never reach the transport;
// the failure is logged and returned. A non-nil ack receives the validated
// acknowledgment; invalid acks are logged and dropped.
func (c *Channel) Emit(event string, data any, ack AckHandler) error {
	ct, err := c.contracts.Outbound(event)
	if err != nil {
		c.metrics.recordEmit(event, telemetry.ResultError)
		c.logger.Error("emit rejected", observability.F("event", event), observability.Err(err))
		return err
	}
	value, err := validate(event, ct.Request, data)
	if err != nil {
		c.metrics.recordEmit(event, telemetry.ResultInvalid)
		c.logger.Error("emit dropped", observability.F("event", event), observability.Err(err))
		return err
	}
	conn := c.handle()
	if conn == nil {
		err := errs.New(event, errs.CodeNotInitialized,
			errs.WithMessage("no transport"),
			errs.WithRemediation("call Init before Emit, or use EmitQueued"))
		c.metrics.recordEmit(event, telemetry.ResultNotConnect)
		c.logger.Error("emit dropped", observability.F("event", event), observability.Err(err))
		return err
	}

	var transportAck transport.AckFunc
	if ack != nil {
		transportAck = func(raw any) {
			reply, err := validate(event, ct.Callback, raw)
			if err != nil {
				c.logger.Error("ack dropped", observability.F("event", event), observability.Err(err))
				return
			}
			ack(reply)
		}
	}
	if err := conn.Emit(event, value, transportAck); err != nil {
		wrapped := transportError(event, err)
		c.metrics.recordEmit(event, telemetry.ResultError)
		c.logger.Error("emit failed", observability.F("event", event), observability.Err(wrapped))
		return wrapped
	}
	c.metrics.recordEmit(event, telemetry.ResultSuccess)
	c.debugf("emit", observability.F("event", event))
	return nil
}

type ackResult struct {
	value any
	err   error
}

// EmitAsync validates data, sends it, and blocks until the peer acknowledges
// or ctx ends. It fails immediately when not connected; nothing is queued.
func (c *Channel) EmitAsync(ctx context.Context, event string, data any) (any, error) {
	ct, err := c.contracts.Outbound(event)
	if err != nil {
		c.metrics.recordEmit(event, telemetry.ResultError)
		return nil, err
	}
	value, err := validate(event, ct.Request, data)
	if err != nil {
		c.metrics.recordEmit(event, telemetry.ResultInvalid)
		return nil, err
	}
	conn := c.handle()
	if conn == nil || !conn.Connected() {
		c.metrics.recordEmit(event, telemetry.ResultNotConnect)
		return nil, errs.New(event, errs.CodeNotConnected,
			errs.WithMessage("not connected"),
			errs.WithRemediation("wait for the connect hook or use EmitQueued"))
	}

	results := make(chan ackResult, 1)
	var once sync.Once
	settle := func(r ackResult) {
		once.Do(func() { results <- r })
	}
	started := c.clock.Now()
	ack := func(raw any) {
		reply, err := validate(event, ct.Callback, raw)
		settle(ackResult{value: reply, err: err})
	}
	if err := conn.Emit(event, value, ack); err != nil {
		c.metrics.recordEmit(event, telemetry.ResultError)
		return nil, transportError(event, err)
	}
	c.metrics.recordEmit(event, telemetry.ResultSuccess)

	select {
	case r := <-results:
		result := telemetry.ResultSuccess
		if r.err != nil {
			result = telemetry.ResultInvalid
		}
		c.metrics.recordAck(event, result, c.clock.Now().Sub(started))
		return r.value, r.err
	case <-ctx.Done():
		settle(ackResult{})
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.metrics.recordAck(event, telemetry.ResultTimeout, c.clock.Now().Sub(started))
			return nil, errs.New(event, errs.CodeTimeout, errs.WithMessage("no ack before deadline"), errs.WithCause(ctx.Err()))
		}
		c.metrics.recordAck(event, telemetry.ResultCanceled, c.clock.Now().Sub(started))
		return nil, errs.New(event, errs.CodeUnavailable, errs.WithMessage("emit cancelled"), errs.WithCause(ctx.Err()))
	}
}

// EmitQueued sends like Emit when connected. While disconnected it stores data
// unvalidated and returns nil; the queue is flushed raw, in order, on the next connect.
func (c *Channel) EmitQueued(event string, data any) error {
	if _, err := c.contracts.Outbound(event); err != nil {
		c.metrics.recordEmit(event, telemetry.ResultError)
		c.logger.Error("emit rejected", observability.F("event", event), observability.Err(err))
		return err
	}
	entry := QueuedEmission{Event: event, Args: []any{data}}
	conn := c.handle()
	if conn != nil && conn.Connected() {
		if !c.queue.enqueueIfPending(entry) {
			return c.Emit(event, data, nil)
		}
		c.metrics.adjustQueue(1)
		c.metrics.recordEmit(event, telemetry.ResultQueued)
		c.flush(conn)
		return nil
	}
	depth := c.queue.enqueue(entry)
	c.metrics.adjustQueue(1)
	c.metrics.recordEmit(event, telemetry.ResultQueued)
	c.debugf("emit queued", observability.F("event", event), observability.F("depth", depth))
	return nil
}

// Queued returns a copy of the emissions waiting for a connection.
func (c *Channel) Queued() []QueuedEmission {
	return c.queue.snapshot()
}

// flush forwards queued emissions raw, oldest first. It stops when the
// transport drops or an emit fails; the rest stay queued.
func (c *Channel) flush(conn transport.Conn) {
	if !c.queue.beginFlush() {
		return
	}
	sent := 0
	defer func() {
		c.metrics.recordFlush(sent)
		c.metrics.adjustQueue(-int64(sent))
	}()
	for {
		if !conn.Connected() {
			c.queue.endFlush()
			return
		}
		entry, ok := c.queue.next()
		if !ok {
			if sent > 0 {
				c.debugf("queue flushed", observability.F("count", sent))
			}
			return
		}
		if err := conn.Emit(entry.Event, entry.payload(), nil); err != nil {
			c.queue.requeue(entry)
			c.logger.Error("queue flush interrupted",
				observability.F("event", entry.Event),
				observability.F("remaining", c.queue.len()),
				observability.Err(err))
			return
		}
		sent++
	}
}
