// Package channel implements a validated event channel over a duplex transport.
//
// Every payload crossing the channel is checked against the contract declared
// for its event. Outbound work can be queued while disconnected, listeners are
// re-attached after every reconnect, and inbound events pass through a
// middleware pipeline before validation.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/errs"
	"github.com/coachpo/eventline/internal/clock"
	"github.com/coachpo/eventline/internal/domain/contract"
	"github.com/coachpo/eventline/internal/observability"
	"github.com/coachpo/eventline/internal/telemetry"
	"github.com/coachpo/eventline/internal/transport"
)

// State is the connection state of a Channel.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Handler receives a validated inbound payload.
type Handler func(payload any)

// AckHandler receives a validated acknowledgment payload.
type AckHandler func(payload any)

const defaultName = "default"

// Channel is the facade applications use to talk over a transport.
type Channel struct {
	name          string
	contracts     *contract.Registry
	factory       transport.Factory
	base          config.ChannelConfig
	hooks         Hooks
	logger        observability.Logger
	clock         clock.Clock
	meterProvider metric.MeterProvider
	metrics       *channelMetrics
	debug         atomic.Bool

	mu       sync.Mutex
	conn     transport.Conn
	gen      uint64
	state    State
	cfg      config.ChannelConfig
	resolved bool

	listeners  *listenerRegistry
	middleware pipeline
	queue      outboundQueue
	retry      reconnector
}

// New builds a channel for the declared contracts. It does not open a transport; call Init.
func New(contracts *contract.Registry, opts ...Option) (*Channel, error) {
	if contracts == nil {
		return nil, errs.New("", errs.CodeInvalid, errs.WithMessage("contract registry required"))
	}
	c := &Channel{
		name:      defaultName,
		contracts: contracts,
		base:      config.Default(),
		logger:    observability.Log(),
		clock:     clock.Real(),
		listeners: newListenerRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.factory == nil {
		return nil, errs.New("", errs.CodeInvalid,
			errs.WithMessage("transport factory required"),
			errs.WithRemediation("pass channel.WithTransport"))
	}
	c.metrics = newChannelMetrics(c.meterProvider, c.name)
	return c, nil
}

// Init resolves the configuration, opens the transport, and connects when
// AutoConnect is set. The configuration is resolved on the first call only;
// later overrides are ignored. Init on a live, connected handle does nothing;
// a handle that is not connected is disposed and replaced.
func (c *Channel) Init(overrides ...config.Option) error {
	c.mu.Lock()
	if !c.resolved {
		cfg := config.Apply(c.base, overrides...)
		if err := cfg.Validate(); err != nil {
			c.mu.Unlock()
			return errs.New("", errs.CodeInvalid, errs.WithMessage("invalid channel config"), errs.WithCause(err))
		}
		c.cfg = cfg
		c.resolved = true
	} else if len(overrides) > 0 {
		c.debugf("config already resolved; overrides ignored")
	}
	cfg := c.cfg
	old := c.conn
	c.mu.Unlock()

	if old != nil && old.Connected() {
		return nil
	}

	c.mu.Lock()
	if c.conn != old {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.conn = nil
	c.state = StateConnecting
	c.mu.Unlock()

	if old != nil {
		c.debugf("disposing stale transport")
		old.Disconnect()
	}

	opened := cfg
	opened.AutoConnect = false
	conn := c.factory(opened, c.lifecycle(gen))
	if conn == nil {
		c.setState(gen, StateDisconnected)
		return errs.New("", errs.CodeTransport, errs.WithMessage("transport factory returned nil"))
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		conn.Disconnect()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	if cfg.AutoConnect {
		conn.Connect()
	}
	return nil
}

// Disconnect closes the transport and clears the handle. Pending backoff
// reconnects are cancelled. The caller's disconnect hook is not invoked.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = StateClosed
	c.mu.Unlock()

	c.retry.cancelPending()
	if conn != nil {
		conn.Disconnect()
	}
	c.debugf("channel closed")
}

// Connect asks the live transport to connect. It is needed only when
// AutoConnect is off.
func (c *Channel) Connect() error {
	conn := c.handle()
	if conn == nil {
		return errs.New("", errs.CodeNotInitialized, errs.WithMessage("no transport"), errs.WithRemediation("call Init first"))
	}
	if !conn.Connected() {
		conn.Connect()
	}
	return nil
}

// IsConnected reports whether a transport exists and is connected.
func (c *Channel) IsConnected() bool {
	conn := c.handle()
	return conn != nil && conn.Connected()
}

// ID returns the transport session id, or "" when there is no transport.
func (c *Channel) ID() string {
	conn := c.handle()
	if conn == nil {
		return ""
	}
	return conn.ID()
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the resolved configuration and whether Init has resolved it.
func (c *Channel) Config() (config.ChannelConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.resolved
}

// EnableDebug turns on verbose diagnostic logging.
func (c *Channel) EnableDebug() { c.debug.Store(true) }

// DisableDebug turns verbose diagnostic logging off.
func (c *Channel) DisableDebug() { c.debug.Store(false) }

// Use appends a middleware to the inbound pipeline.
func (c *Channel) Use(fn Middleware) {
	c.middleware.use(fn)
}

// On registers handler for an inbound event. The handler stays registered
// across reconnects and is attached to the live transport immediately if one exists.
func (c *Channel) On(event string, handler Handler) (transport.ListenerID, error) {
	ct, err := c.contracts.Inbound(event)
	if err != nil {
		c.logger.Error("on rejected", observability.F("event", event), observability.Err(err))
		return 0, err
	}
	if handler == nil {
		return 0, errs.New(event, errs.CodeInvalid, errs.WithMessage("handler required"))
	}
	id := transport.NextListenerID()
	entry := c.listeners.add(event, id, c.inbound(ct, handler, nil))
	if conn := c.handle(); conn != nil {
		c.listeners.bind(entry, conn)
	}
	return id, nil
}

// Once attaches handler directly to the live transport for a single delivery.
// It is not registered with the channel and does not survive a reconnect.
func (c *Channel) Once(event string, handler Handler) (transport.ListenerID, error) {
	ct, err := c.contracts.Inbound(event)
	if err != nil {
		c.logger.Error("once rejected", observability.F("event", event), observability.Err(err))
		return 0, err
	}
	if handler == nil {
		return 0, errs.New(event, errs.CodeInvalid, errs.WithMessage("handler required"))
	}
	conn := c.handle()
	if conn == nil {
		return 0, errs.New(event, errs.CodeNotInitialized,
			errs.WithMessage("no transport"),
			errs.WithRemediation("call Init before Once"))
	}
	return conn.Once(event, c.inbound(ct, handler, nil)), nil
}

// Off detaches a handler from the live transport. Handlers registered with On
// stay registered and are attached again on the next connect.
func (c *Channel) Off(event string, id transport.ListenerID) {
	if conn, live, ok := c.listeners.detach(event, id); ok {
		if conn != nil && live != 0 {
			conn.Off(event, live)
		}
		return
	}
	if conn := c.handle(); conn != nil {
		conn.Off(event, id)
	}
}

// Listeners returns the number of handlers registered for event.
func (c *Channel) Listeners(event string) int {
	return c.listeners.count(event)
}

// inbound builds the transport handler for ct: middleware, then validation,
// then onValue. Invalid payloads go to onInvalid when set, otherwise they are
// logged and dropped.
func (c *Channel) inbound(ct contract.Contract, onValue func(any), onInvalid func(error)) transport.Handler {
	return func(raw any) {
		for _, fault := range c.middleware.run(ct.Name, raw) {
			c.metrics.recordInbound(ct.Name, telemetry.ResultMiddleware)
			c.logger.Error("middleware fault", observability.F("event", ct.Name), observability.Err(fault))
		}
		value, err := validate(ct.Name, ct.Response, raw)
		if err != nil {
			c.metrics.recordInbound(ct.Name, telemetry.ResultInvalid)
			if onInvalid != nil {
				onInvalid(err)
				return
			}
			c.logger.Error("inbound event dropped", observability.F("event", ct.Name), observability.Err(err))
			return
		}
		c.metrics.recordInbound(ct.Name, telemetry.ResultSuccess)
		c.debugf("inbound event", observability.F("event", ct.Name))
		onValue(value)
	}
}

func (c *Channel) lifecycle(gen uint64) transport.Lifecycle {
	return transport.Lifecycle{
		OnConnect:      func() { c.handleConnect(gen) },
		OnDisconnect:   func(reason string) { c.handleDisconnect(gen, reason) },
		OnConnectError: func(err error) { c.handleConnectError(gen, err) },
	}
}

// current returns the handle if gen still owns it.
func (c *Channel) current(gen uint64) (transport.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.conn == nil {
		return nil, false
	}
	return c.conn, true
}

func (c *Channel) handleConnect(gen uint64) {
	conn, ok := c.current(gen)
	if !ok {
		return
	}
	c.setState(gen, StateConnected)
	c.metrics.recordConnection(StateConnected.String())
	c.debugf("connected", observability.F("sid", conn.ID()))

	c.flush(conn)
	c.rebind(conn)

	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect()
	}
}

func (c *Channel) handleDisconnect(gen uint64, reason string) {
	if _, ok := c.current(gen); !ok {
		return
	}
	c.setState(gen, StateDisconnected)
	c.metrics.recordConnection(StateDisconnected.String())
	c.debugf("disconnected", observability.F("reason", reason))
	if c.hooks.OnDisconnect != nil {
		c.hooks.OnDisconnect(reason)
	}
}

func (c *Channel) handleConnectError(gen uint64, cause error) {
	if _, ok := c.current(gen); !ok {
		return
	}
	c.setState(gen, StateDisconnected)
	c.metrics.recordConnection("connect_error")
	err := errs.New("", errs.CodeTransport, errs.WithMessage("connect failed"), errs.WithCause(cause))
	c.logger.Error("transport connect failed", observability.F("channel", c.name), observability.Err(err))
	if c.hooks.OnConnectError != nil {
		c.hooks.OnConnectError(err)
	}
}

func (c *Channel) rebind(conn transport.Conn) {
	bound := 0
	for _, e := range c.listeners.snapshot() {
		if c.listeners.bind(e, conn) {
			bound++
		}
	}
	c.metrics.recordRebind(bound)
	c.debugf("listeners rebound", observability.F("count", bound))
}

func (c *Channel) setState(gen uint64, s State) {
	c.mu.Lock()
	if c.gen == gen {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Channel) handle() transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Channel) debugf(msg string, fields ...observability.Field) {
	if !c.debug.Load() {
		return
	}
	c.logger.Debug(msg, append(fields, observability.F("channel", c.name))...)
}

// transportError classifies an error returned by transport.Conn.Emit.
func transportError(event string, err error) error {
	code := errs.CodeTransport
	if errors.Is(err, transport.ErrNotConnected) {
		code = errs.CodeNotConnected
	}
	return errs.New(event, code, errs.WithMessage(fmt.Sprintf("transport emit failed: %v", err)), errs.WithCause(err))
}
