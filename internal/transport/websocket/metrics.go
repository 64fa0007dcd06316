package websocket

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/eventline/internal/telemetry"
)

const meterName = "eventline/transport/websocket"

type serverMetrics struct {
	environment string

	sessions   metric.Int64UpDownCounter
	handshakes metric.Int64Counter
	events     metric.Int64Counter
	acks       metric.Int64Counter
}

func newServerMetrics(mp metric.MeterProvider) *serverMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &serverMetrics{environment: telemetry.Environment()}

	m.sessions, _ = meter.Int64UpDownCounter("eventline.server.sessions",
		metric.WithDescription("Live websocket sessions"),
		metric.WithUnit("{session}"))

	m.handshakes, _ = meter.Int64Counter("eventline.server.handshakes",
		metric.WithDescription("Websocket connect handshakes by result"),
		metric.WithUnit("{handshake}"))

	m.events, _ = meter.Int64Counter("eventline.server.events",
		metric.WithDescription("Inbound events served by result"),
		metric.WithUnit("{event}"))

	m.acks, _ = meter.Int64Counter("eventline.server.acks",
		metric.WithDescription("Acks written back to clients"),
		metric.WithUnit("{ack}"))

	return m
}

func (m *serverMetrics) base() []attribute.KeyValue {
	return []attribute.KeyValue{
		telemetry.AttrEnvironment.String(m.environment),
		telemetry.AttrTransport.String("websocket"),
	}
}

func (m *serverMetrics) adjustSessions(ctx context.Context, delta int64) {
	if m == nil || m.sessions == nil {
		return
	}
	m.sessions.Add(ctx, delta, metric.WithAttributes(m.base()...))
}

func (m *serverMetrics) recordHandshake(ctx context.Context, result string) {
	if m == nil || m.handshakes == nil {
		return
	}
	attrs := append(m.base(), telemetry.AttrResult.String(result))
	m.handshakes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *serverMetrics) recordEvent(ctx context.Context, event, result string) {
	if m == nil || m.events == nil {
		return
	}
	attrs := append(m.base(),
		telemetry.AttrEventName.String(event),
		telemetry.AttrDirection.String(telemetry.DirectionInbound),
		telemetry.AttrResult.String(result))
	m.events.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *serverMetrics) recordAck(ctx context.Context, event string) {
	if m == nil || m.acks == nil {
		return
	}
	attrs := append(m.base(), telemetry.AttrEventName.String(event))
	m.acks.Add(ctx, 1, metric.WithAttributes(attrs...))
}
