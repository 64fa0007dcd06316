package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/internal/observability"
	"github.com/coachpo/eventline/internal/transport"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
	writeTimeout        = 5 * time.Second
	dispatchGrace       = 5 * time.Second
	readLimit           = 1 << 20

	extraWriteRateLimit = "writeRateLimit"
	extraWriteBurst     = "writeBurst"
	extraPingInterval   = "pingInterval"
)

var (
	errServerDisconnect = errors.New("server requested disconnect")
	errPingTimeout      = errors.New("ping timeout")
)

// ClientOption configures clients opened by NewFactory.
type ClientOption func(*Client)

// WithDialOptions sets the options passed to websocket.Dial.
func WithDialOptions(opts *websocket.DialOptions) ClientOption {
	return func(c *Client) { c.dialOpts = opts }
}

// WithLogger sets the client logger.
func WithLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPingInterval overrides the keep-alive interval.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// NewFactory returns a transport.Factory that opens websocket clients.
func NewFactory(opts ...ClientOption) transport.Factory {
	return func(cfg config.ChannelConfig, hooks transport.Lifecycle) transport.Conn {
		c := NewClient(cfg, hooks, opts...)
		if cfg.AutoConnect {
			c.Connect()
		}
		return c
	}
}

// Client is a transport.Conn over a websocket. It re-dials with exponential
// backoff when the configuration enables reconnection.
type Client struct {
	cfg          config.ChannelConfig
	hooks        transport.Lifecycle
	logger       observability.Logger
	dialOpts     *websocket.DialOptions
	pingInterval time.Duration
	limiter      *rate.Limiter
	scope        *transport.Scope

	mu        sync.Mutex
	conn      *websocket.Conn
	sid       string
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
	ackSeq    uint64
	acks      map[uint64]transport.AckFunc
}

var _ transport.Conn = (*Client)(nil)

// NewClient builds an idle client. Call Connect to start it.
func NewClient(cfg config.ChannelConfig, hooks transport.Lifecycle, opts ...ClientOption) *Client {
	c := &Client{
		cfg:          cfg,
		hooks:        hooks,
		logger:       observability.Log(),
		pingInterval: defaultPingInterval,
		scope:        transport.NewScope(),
		acks:         make(map[uint64]transport.AckFunc),
	}
	if d, ok := extraDuration(cfg.Extra, extraPingInterval); ok {
		c.pingInterval = d
	}
	if limit, ok := extraFloat(cfg.Extra, extraWriteRateLimit); ok && limit > 0 {
		burst := 1
		if b, ok := extraFloat(cfg.Extra, extraWriteBurst); ok && b >= 1 {
			burst = int(b)
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Connect starts the dial loop in the background. It is a no-op while the loop runs.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx)
		c.mu.Lock()
		if c.done == done {
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
	}()
}

// Disconnect closes the socket and stops re-dialing. The disconnect hook fires
// from the connection goroutine with transport.ReasonClientDisconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		writeCtx, stop := context.WithTimeout(context.Background(), writeTimeout)
		if data, err := encodeFrame(frame{Type: frameDisconnect}); err == nil {
			_ = conn.Write(writeCtx, websocket.MessageText, data)
		}
		stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the dial loop has exited or ctx ends.
func (c *Client) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for websocket client: %w", ctx.Err())
	}
}

// Emit writes an event frame. A non-nil ack is called once with the server's ack data.
func (c *Client) Emit(event string, payload any, ack transport.AckFunc) error {
	data, err := marshalData(payload)
	if err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	if !c.connected || conn == nil {
		c.mu.Unlock()
		return transport.ErrNotConnected
	}
	var id uint64
	if ack != nil {
		c.ackSeq++
		id = c.ackSeq
		c.acks[id] = ack
	}
	c.mu.Unlock()

	msg, err := encodeFrame(frame{Type: frameEvent, Event: event, ID: id, Data: data})
	if err == nil {
		err = c.write(conn, msg)
	}
	if err != nil {
		if id != 0 {
			c.mu.Lock()
			delete(c.acks, id)
			c.mu.Unlock()
		}
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("write rate limit: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// On attaches handler for the current connection.
func (c *Client) On(event string, handler transport.Handler) transport.ListenerID {
	return c.scope.On(event, handler)
}

// Once attaches handler for a single delivery on the current connection.
func (c *Client) Once(event string, handler transport.Handler) transport.ListenerID {
	return c.scope.Once(event, handler)
}

// Off detaches a handler.
func (c *Client) Off(event string, id transport.ListenerID) {
	c.scope.Off(event, id)
}

// Connected reports whether the handshake has completed on a live socket.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ID returns the session id assigned by the server.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.ReconnectionDelay > 0 {
		b.InitialInterval = c.cfg.ReconnectionDelay
	}
	if c.cfg.ReconnectionDelayMax > 0 {
		b.MaxInterval = c.cfg.ReconnectionDelayMax
	}
	b.Reset()
	return b
}

// run dials, serves the session, and re-dials until ctx ends or the
// reconnection policy gives up.
func (c *Client) run(ctx context.Context) {
	b := c.newBackOff()
	failures := 0
	for {
		established, err := c.session(ctx, func() {
			b.Reset()
			failures = 0
		})
		if ctx.Err() != nil {
			return
		}
		if !established {
			failures++
			c.logger.Debug("websocket connect failed",
				observability.F("address", c.cfg.Address),
				observability.F("attempt", failures),
				observability.Err(err))
			c.hooks.ConnectFailed(err)
		}
		if !c.cfg.Reconnection {
			return
		}
		if c.cfg.ReconnectionAttempts > 0 && failures >= c.cfg.ReconnectionAttempts {
			c.logger.Error("websocket reconnection attempts exhausted",
				observability.F("address", c.cfg.Address),
				observability.F("attempts", failures))
			return
		}
		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = c.cfg.ReconnectionDelayMax
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection. It reports whether the handshake completed.
func (c *Client) session(ctx context.Context, onEstablished func()) (bool, error) {
	conn, sid, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.sid = sid
	c.connected = true
	c.mu.Unlock()

	onEstablished()
	c.logger.Debug("websocket connected", observability.F("address", c.cfg.Address), observability.F("sid", sid))

	connCtx, connCancel := context.WithCancel(ctx)
	in := newInbox()
	errCh := make(chan error, 2)
	var wg conc.WaitGroup
	wg.Go(func() { errCh <- c.readLoop(connCtx, conn, in) })
	wg.Go(func() { errCh <- c.pingLoop(connCtx, conn) })
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		c.dispatchLoop(connCtx, in)
	}()

	firstErr := <-errCh
	connCancel()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	wg.Wait()
	c.awaitDispatch(dispatched)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.sid = ""
	c.connected = false
	c.acks = make(map[uint64]transport.AckFunc)
	c.mu.Unlock()
	c.scope.Reset()

	reason := disconnectReason(ctx, firstErr)
	c.logger.Debug("websocket disconnected", observability.F("reason", reason), observability.Err(firstErr))
	c.hooks.Disconnected(reason)
	return true, firstErr
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, string, error) {
	target, err := c.target()
	if err != nil {
		return nil, "", err
	}
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, target, c.dialOpts)
	if err != nil {
		return nil, "", fmt.Errorf("dial %s: %w", c.cfg.Address, err)
	}
	hello, err := encodeFrame(frame{Type: frameConnect, Auth: c.cfg.Auth})
	if err == nil {
		err = conn.Write(dialCtx, websocket.MessageText, hello)
	}
	if err != nil {
		conn.CloseNow()
		return nil, "", fmt.Errorf("handshake %s: %w", c.cfg.Address, err)
	}
	_, data, err := conn.Read(dialCtx)
	if err != nil {
		conn.CloseNow()
		return nil, "", fmt.Errorf("handshake %s: %w", c.cfg.Address, err)
	}
	reply, err := decodeFrame(data)
	if err != nil {
		conn.CloseNow()
		return nil, "", fmt.Errorf("handshake %s: %w", c.cfg.Address, err)
	}
	switch reply.Type {
	case frameConnect:
		if reply.SID == "" {
			conn.CloseNow()
			return nil, "", fmt.Errorf("handshake %s: missing session id", c.cfg.Address)
		}
		return conn, reply.SID, nil
	case frameConnectError:
		_ = conn.Close(websocket.StatusPolicyViolation, "")
		return nil, "", fmt.Errorf("handshake %s: %s", c.cfg.Address, reply.Error)
	default:
		conn.CloseNow()
		return nil, "", fmt.Errorf("handshake %s: unexpected %s frame", c.cfg.Address, reply.Type)
	}
}

func (c *Client) target() (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.cfg.Address))
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	if len(c.cfg.Query) > 0 {
		q := u.Query()
		for k, v := range c.cfg.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// readLoop owns the socket reads. Acks resolve inline; event frames go to the
// inbox so a handler waiting on an ack never stalls the reader.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, in *inbox) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		f, err := decodeFrame(data)
		if err != nil {
			c.logger.Error("websocket frame dropped", observability.Err(err))
			continue
		}
		switch f.Type {
		case frameEvent:
			in.push(f)
		case frameAck:
			c.mu.Lock()
			ack, ok := c.acks[f.ID]
			delete(c.acks, f.ID)
			c.mu.Unlock()
			if ok {
				ack(payloadOf(f.Data))
			}
		case frameDisconnect:
			return errServerDisconnect
		}
	}
}

// dispatchLoop fires the connect hook and then runs inbound handlers one frame
// at a time, in arrival order.
func (c *Client) dispatchLoop(ctx context.Context, in *inbox) {
	c.hooks.Connected()
	for {
		for {
			if ctx.Err() != nil {
				return
			}
			f, ok := in.pop()
			if !ok {
				break
			}
			c.scope.Dispatch(f.Event, payloadOf(f.Data))
		}
		select {
		case <-ctx.Done():
			return
		case <-in.ready:
		}
	}
}

// awaitDispatch lets a running handler finish before the disconnect hook
// fires. A handler that outlives dispatchGrace is left behind.
func (c *Client) awaitDispatch(dispatched <-chan struct{}) {
	timer := time.NewTimer(dispatchGrace)
	defer timer.Stop()
	select {
	case <-dispatched:
	case <-timer.C:
		c.logger.Error("websocket handler still running after disconnect",
			observability.F("address", c.cfg.Address))
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, context.DeadlineExceeded) {
					return errPingTimeout
				}
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func disconnectReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return transport.ReasonClientDisconnect
	case errors.Is(err, errServerDisconnect):
		return transport.ReasonServerDisconnect
	case errors.Is(err, errPingTimeout):
		return transport.ReasonPingTimeout
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return transport.ReasonTransportClose
	case websocket.CloseStatus(err) != -1:
		return transport.ReasonTransportClose
	default:
		return transport.ReasonTransportError
	}
}

func extraFloat(extra map[string]any, key string) (float64, bool) {
	v, ok := extra[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func extraDuration(extra map[string]any, key string) (time.Duration, bool) {
	v, ok := extra[key]
	if !ok {
		return 0, false
	}
	switch d := v.(type) {
	case time.Duration:
		return d, d > 0
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(d))
		return parsed, err == nil && parsed > 0
	case int:
		return time.Duration(d) * time.Millisecond, d > 0
	default:
		return 0, false
	}
}
