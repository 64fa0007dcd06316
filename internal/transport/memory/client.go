package memory

import (
	"fmt"
	"sync"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/internal/transport"
)

// Client is the in-process transport.Conn opened by Server.Factory.
type Client struct {
	server *Server
	cfg    config.ChannelConfig
	hooks  transport.Lifecycle
	scope  *transport.Scope

	mu        sync.Mutex
	connected bool
	sid       string
}

var _ transport.Conn = (*Client)(nil)

// Connect attaches the client to the server and fires the lifecycle hooks synchronously.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sid, err := c.server.attach(c)
	if err != nil {
		c.hooks.ConnectFailed(fmt.Errorf("connect %s: %w", c.cfg.Address, err))
		return
	}
	c.mu.Lock()
	c.connected = true
	c.sid = sid
	c.mu.Unlock()
	c.hooks.Connected()
}

// Disconnect detaches from the server.
func (c *Client) Disconnect() {
	c.end(transport.ReasonClientDisconnect)
}

func (c *Client) drop(reason string) {
	c.end(reason)
}

func (c *Client) end(reason string) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	sid := c.sid
	c.connected = false
	c.sid = ""
	c.mu.Unlock()

	c.server.detach(sid)
	c.scope.Reset()
	c.hooks.Disconnected(reason)
}

// Emit records the event on the server and runs ack with the server's reply, if any.
func (c *Client) Emit(event string, payload any, ack transport.AckFunc) error {
	c.mu.Lock()
	connected, sid := c.connected, c.sid
	c.mu.Unlock()
	if !connected {
		return transport.ErrNotConnected
	}
	reply, acked, err := c.server.receive(sid, event, payload, ack != nil)
	if err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	if acked {
		ack(reply)
	}
	return nil
}

// On attaches handler for the current connection.
func (c *Client) On(event string, handler transport.Handler) transport.ListenerID {
	return c.scope.On(event, handler)
}

// Once attaches handler for one delivery on the current connection.
func (c *Client) Once(event string, handler transport.Handler) transport.ListenerID {
	return c.scope.Once(event, handler)
}

// Off detaches a handler.
func (c *Client) Off(event string, id transport.ListenerID) {
	c.scope.Off(event, id)
}

// Connected reports whether the client is attached to the server.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ID returns the session id, or "" when disconnected.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Bound returns the number of handlers attached to event on the live connection.
func (c *Client) Bound(event string) int {
	return c.scope.Count(event)
}

// Config returns the configuration the client was opened with.
func (c *Client) Config() config.ChannelConfig {
	return c.cfg
}
