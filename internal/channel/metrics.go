package channel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/eventline/internal/telemetry"
)

const meterName = "eventline/channel"

type channelMetrics struct {
	environment string
	channel     string

	emits       metric.Int64Counter
	inbound     metric.Int64Counter
	queueDepth  metric.Int64UpDownCounter
	flushed     metric.Int64Counter
	rebinds     metric.Int64Counter
	reconnects  metric.Int64Counter
	connections metric.Int64Counter
	waiters     metric.Int64Counter
	ackLatency  metric.Float64Histogram
	waitLatency metric.Float64Histogram
}

func newChannelMetrics(mp metric.MeterProvider, channel string) *channelMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &channelMetrics{environment: telemetry.Environment(), channel: channel}

	m.emits, _ = meter.Int64Counter("eventline.channel.emits",
		metric.WithDescription("Outbound emit calls by result"),
		metric.WithUnit("{event}"))

	m.inbound, _ = meter.Int64Counter("eventline.channel.inbound",
		metric.WithDescription("Inbound events by result"),
		metric.WithUnit("{event}"))

	m.queueDepth, _ = meter.Int64UpDownCounter("eventline.channel.queue.depth",
		metric.WithDescription("Emissions waiting in the outbound queue"),
		metric.WithUnit("{event}"))

	m.flushed, _ = meter.Int64Counter("eventline.channel.queue.flushed",
		metric.WithDescription("Queued emissions forwarded after a connect"),
		metric.WithUnit("{event}"))

	m.rebinds, _ = meter.Int64Counter("eventline.channel.rebinds",
		metric.WithDescription("Listeners re-attached after a connect"),
		metric.WithUnit("{listener}"))

	m.reconnects, _ = meter.Int64Counter("eventline.channel.reconnects",
		metric.WithDescription("Reconnect requests by kind"),
		metric.WithUnit("{reconnect}"))

	m.connections, _ = meter.Int64Counter("eventline.channel.connections",
		metric.WithDescription("Transport lifecycle notifications by state"),
		metric.WithUnit("{notification}"))

	m.waiters, _ = meter.Int64Counter("eventline.channel.waiters",
		metric.WithDescription("WaitFor outcomes"),
		metric.WithUnit("{waiter}"))

	m.ackLatency, _ = meter.Float64Histogram("eventline.channel.ack.latency",
		metric.WithDescription("Time from EmitAsync to its ack"),
		metric.WithUnit("ms"))

	m.waitLatency, _ = meter.Float64Histogram("eventline.channel.wait.duration",
		metric.WithDescription("Time a WaitFor call spent waiting"),
		metric.WithUnit("ms"))

	return m
}

func (m *channelMetrics) eventAttrs(direction, event, result string) []attribute.KeyValue {
	attrs := telemetry.EventAttributes(m.environment, m.channel, direction, event)
	if result != "" {
		attrs = append(attrs, telemetry.AttrResult.String(result))
	}
	return attrs
}

func (m *channelMetrics) recordEmit(event, result string) {
	if m == nil || m.emits == nil {
		return
	}
	m.emits.Add(context.Background(), 1, metric.WithAttributes(m.eventAttrs(telemetry.DirectionOutbound, event, result)...))
}

func (m *channelMetrics) recordInbound(event, result string) {
	if m == nil || m.inbound == nil {
		return
	}
	m.inbound.Add(context.Background(), 1, metric.WithAttributes(m.eventAttrs(telemetry.DirectionInbound, event, result)...))
}

func (m *channelMetrics) adjustQueue(delta int64) {
	if m == nil || m.queueDepth == nil || delta == 0 {
		return
	}
	m.queueDepth.Add(context.Background(), delta, metric.WithAttributes(
		telemetry.AttrEnvironment.String(m.environment),
		telemetry.AttrChannel.String(m.channel)))
}

func (m *channelMetrics) recordFlush(n int) {
	if m == nil || m.flushed == nil || n == 0 {
		return
	}
	m.flushed.Add(context.Background(), int64(n), metric.WithAttributes(
		telemetry.AttrEnvironment.String(m.environment),
		telemetry.AttrChannel.String(m.channel)))
}

func (m *channelMetrics) recordRebind(n int) {
	if m == nil || m.rebinds == nil || n == 0 {
		return
	}
	m.rebinds.Add(context.Background(), int64(n), metric.WithAttributes(
		telemetry.AttrEnvironment.String(m.environment),
		telemetry.AttrChannel.String(m.channel)))
}

func (m *channelMetrics) recordReconnect(operation string) {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.OperationResultAttributes(m.environment, m.channel, operation, telemetry.ResultSuccess)...))
}

func (m *channelMetrics) recordConnection(state string) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.ConnectionAttributes(m.environment, m.channel, state)...))
}

func (m *channelMetrics) recordAck(event, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(m.eventAttrs(telemetry.DirectionOutbound, event, result)...)
	if m.ackLatency != nil {
		m.ackLatency.Record(context.Background(), float64(elapsed)/float64(time.Millisecond), attrs)
	}
}

func (m *channelMetrics) recordWaiter(event, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(m.eventAttrs(telemetry.DirectionInbound, event, result)...)
	if m.waiters != nil {
		m.waiters.Add(context.Background(), 1, attrs)
	}
	if m.waitLatency != nil {
		m.waitLatency.Record(context.Background(), float64(elapsed)/float64(time.Millisecond), attrs)
	}
}
