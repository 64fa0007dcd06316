package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/errs"
	"github.com/coachpo/eventline/internal/clock"
	"github.com/coachpo/eventline/internal/domain/schema"
	"github.com/coachpo/eventline/internal/transport"
	"github.com/coachpo/eventline/internal/transport/memory"
)

func connCfg() config.ChannelConfig {
	return config.Apply(config.Default(), config.WithAddress("memory://chat"))
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{63, 30 * time.Second},
		{1 << 20, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempts); got != tc.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestReconnectorCapturesDelayBeforeIncrement(t *testing.T) {
	clk := clock.NewFake(time.Time{})
	var r reconnector
	var fired []int
	for i := 0; i < 3; i++ {
		delay, attempt := r.schedule(clk, func() { fired = append(fired, i) })
		if attempt != i || delay != backoffDelay(i) {
			t.Fatalf("call %d: attempt=%d delay=%v", i, attempt, delay)
		}
	}
	if r.count() != 3 || r.scheduled() != 3 {
		t.Fatalf("expected 3 attempts and timers, got %d/%d", r.count(), r.scheduled())
	}
	clk.Advance(2 * time.Second)
	if len(fired) != 2 || r.scheduled() != 1 {
		t.Fatalf("expected two timers to fire, got %v (pending %d)", fired, r.scheduled())
	}
	r.cancelPending()
	clk.Advance(time.Minute)
	if len(fired) != 2 || clk.Pending() != 0 {
		t.Fatalf("cancelled timer fired")
	}
}

func TestOutboundQueueFIFOAndFlushGuard(t *testing.T) {
	var q outboundQueue
	if q.enqueueIfPending(QueuedEmission{Event: "a"}) {
		t.Fatalf("empty idle queue must not accept enqueueIfPending")
	}
	q.enqueue(QueuedEmission{Event: "a", Args: []any{1}})
	q.enqueue(QueuedEmission{Event: "b", Args: []any{2}})
	if !q.enqueueIfPending(QueuedEmission{Event: "c"}) {
		t.Fatalf("expected enqueue behind pending entries")
	}

	if !q.beginFlush() || q.beginFlush() {
		t.Fatalf("flush guard must admit exactly one flusher")
	}
	head, ok := q.next()
	if !ok || head.Event != "a" || head.payload() != 1 {
		t.Fatalf("unexpected head %+v", head)
	}
	q.requeue(head)
	if got := q.snapshot(); len(got) != 3 || got[0].Event != "a" {
		t.Fatalf("requeue lost order: %+v", got)
	}
	if !q.beginFlush() {
		t.Fatalf("requeue must end the flush")
	}
	for _, want := range []string{"a", "b", "c"} {
		e, ok := q.next()
		if !ok || e.Event != want {
			t.Fatalf("expected %s, got %+v", want, e)
		}
	}
	if _, ok := q.next(); ok || q.len() != 0 {
		t.Fatalf("expected drained queue")
	}
	if !q.beginFlush() {
		t.Fatalf("draining must end the flush")
	}
	q.endFlush()
	if (QueuedEmission{Event: "x"}).payload() != nil {
		t.Fatalf("expected nil payload without args")
	}
}

func TestRegistryBindReplacesPreviousBinding(t *testing.T) {
	server := memory.NewServer()
	open := func() *memory.Client {
		conn := server.Factory()(connCfg(), transport.Lifecycle{}).(*memory.Client)
		conn.Connect()
		return conn
	}
	first, second := open(), open()

	r := newListenerRegistry()
	id := transport.NextListenerID()
	e := r.add("message", id, func(any) {})
	if !r.bind(e, first) || first.Bound("message") != 1 {
		t.Fatalf("expected first bind")
	}
	if !r.bind(e, second) || first.Bound("message") != 0 || second.Bound("message") != 1 {
		t.Fatalf("rebind must move the binding: first=%d second=%d", first.Bound("message"), second.Bound("message"))
	}

	conn, live, ok := r.detach("message", id)
	if !ok || conn != second || live == 0 || r.count("message") != 1 {
		t.Fatalf("detach must keep the entry")
	}
	conn.Off("message", live)

	r.bind(e, second)
	conn, live, ok = r.remove("message", id)
	if !ok || conn != second || live == 0 || r.len() != 0 {
		t.Fatalf("remove must drop the entry")
	}
	conn.Off("message", live)
	if r.bind(e, second) || second.Bound("message") != 0 {
		t.Fatalf("removed entry must not bind")
	}
	if _, ok := r.lookup("message", id); ok {
		t.Fatalf("lookup found removed entry")
	}
}

func TestRegistryCommitRejectsStaleEpoch(t *testing.T) {
	server := memory.NewServer()
	conn := server.Factory()(connCfg(), transport.Lifecycle{}).(*memory.Client)
	conn.Connect()

	r := newListenerRegistry()
	e := r.add("message", transport.NextListenerID(), func(any) {})
	_, _, epoch, ok := r.claim(e)
	if !ok {
		t.Fatalf("claim failed")
	}
	r.detach(e.event, e.id)
	if r.commit(e, epoch, conn, 1) {
		t.Fatalf("commit succeeded after a newer claim")
	}
}

func TestValidateWrapsIssuesAndPanics(t *testing.T) {
	_, err := validate("message", schema.Object(schema.String("text")), map[string]any{})
	var e *errs.E
	if !errors.As(err, &e) || e.Code != errs.CodeValidation || len(e.Issues) == 0 {
		t.Fatalf("expected validation envelope with issues, got %v", err)
	}

	_, err = validate("message", schema.ValidatorFunc(func(any) (any, error) { panic("bad validator") }), nil)
	if !errs.IsCode(err, errs.CodeValidation) {
		t.Fatalf("expected validator panic to be contained, got %v", err)
	}

	v, err := validate("message", nil, 7)
	if err != nil || v != 7 {
		t.Fatalf("nil validator must pass through, got %v %v", v, err)
	}
}

func TestPipelineCollectsFaults(t *testing.T) {
	var p pipeline
	p.use(nil)
	p.use(func(string, any) error { return errors.New("nope") })
	p.use(func(string, any) error { panic("boom") })
	p.use(func(string, any) error { return nil })
	if p.len() != 3 {
		t.Fatalf("expected nil middleware to be ignored")
	}
	faults := p.run("message", nil)
	if len(faults) != 2 {
		t.Fatalf("expected two faults, got %v", faults)
	}
	for _, f := range faults {
		if !errs.IsCode(f, errs.CodeMiddleware) {
			t.Fatalf("unexpected fault %v", f)
		}
	}
}

func TestChannelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	server := memory.NewServer(memory.WithAck(memory.AckAll(map[string]any{"success": true})))
	ch, err := New(chatContracts(),
		WithTransport(server.Factory()),
		WithConfig(connCfg()),
		WithMeterProvider(provider),
		WithLogger(&captureLogger{}),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(ch.Disconnect)

	if err := ch.EmitQueued("typing", nil); err != nil {
		t.Fatalf("emit queued: %v", err)
	}
	if _, err := ch.On("message", func(any) {}); err != nil {
		t.Fatalf("on: %v", err)
	}
	if err := ch.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := ch.EmitAsync(context.Background(), "sendMessage", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("emit async: %v", err)
	}
	server.Deliver("message", map[string]any{"text": "x"})
	ch.ReconnectWithBackoff()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	for _, name := range []string{
		"eventline.channel.emits",
		"eventline.channel.inbound",
		"eventline.channel.queue.depth",
		"eventline.channel.queue.flushed",
		"eventline.channel.rebinds",
		"eventline.channel.reconnects",
		"eventline.channel.connections",
		"eventline.channel.ack.latency",
	} {
		if !found[name] {
			t.Fatalf("missing metric %s", name)
		}
	}
}
