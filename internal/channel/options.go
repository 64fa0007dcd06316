package channel

import (
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/internal/clock"
	"github.com/coachpo/eventline/internal/observability"
	"github.com/coachpo/eventline/internal/transport"
)

// Hooks are the caller's connection lifecycle callbacks. Nil hooks are skipped.
type Hooks struct {
	OnConnect      func()
	OnDisconnect   func(reason string)
	OnConnectError func(err error)
}

// Option configures a Channel.
type Option func(*Channel)

// WithTransport sets the factory used to open transport connections. Required.
func WithTransport(factory transport.Factory) Option {
	return func(c *Channel) { c.factory = factory }
}

// WithConfig sets the base configuration that Init overrides are applied to.
func WithConfig(cfg config.ChannelConfig) Option {
	return func(c *Channel) { c.base = cfg }
}

// WithHooks sets the caller's lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(c *Channel) { c.hooks = h }
}

// WithLogger sets the channel logger. Defaults to observability.Log().
func WithLogger(logger observability.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used for backoff and waiter timers.
func WithClock(clk clock.Clock) Option {
	return func(c *Channel) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithMeterProvider sets the meter provider for channel metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Channel) { c.meterProvider = mp }
}

// WithName labels the channel in logs and metrics.
func WithName(name string) Option {
	return func(c *Channel) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			c.name = trimmed
		}
	}
}
