// Package transport defines the duplex, event-named connection a channel rides on.
//
// Implementations own the wire protocol. Every successful connection opens a fresh
// handler scope: handlers attached with On/Once stay bound only to the connection
// that was live when they were attached, so callers must re-attach after reconnect.
package transport

import (
	"strconv"
	"sync/atomic"

	"github.com/coachpo/eventline/config"
)

// Handler receives an inbound event payload.
type Handler func(payload any)

// AckFunc receives the acknowledgment payload the remote peer sends for an emitted event.
type AckFunc func(payload any)

// ListenerID identifies a handler attached with On or Once so it can be detached later.
type ListenerID uint64

// String renders the id for logs.
func (id ListenerID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

var listenerSeq atomic.Uint64

// NextListenerID returns a process-unique listener id.
func NextListenerID() ListenerID {
	return ListenerID(listenerSeq.Add(1))
}

// Lifecycle carries the connection notifications a transport fires.
// Nil hooks are skipped.
type Lifecycle struct {
	OnConnect      func()
	OnDisconnect   func(reason string)
	OnConnectError func(err error)
}

// Connected fires OnConnect when set.
func (l Lifecycle) Connected() {
	if l.OnConnect != nil {
		l.OnConnect()
	}
}

// Disconnected fires OnDisconnect when set.
func (l Lifecycle) Disconnected(reason string) {
	if l.OnDisconnect != nil {
		l.OnDisconnect(reason)
	}
}

// ConnectFailed fires OnConnectError when set.
func (l Lifecycle) ConnectFailed(err error) {
	if l.OnConnectError != nil {
		l.OnConnectError(err)
	}
}

// Disconnect reasons reported through Lifecycle.OnDisconnect.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

// Conn is a duplex, event-named connection.
type Conn interface {
	// Connect starts connecting. Completion is reported through Lifecycle.
	Connect()
	// Disconnect closes the connection and stops any automatic reconnection.
	Disconnect()
	// Emit sends payload under event. A non-nil ack is invoked once with the peer's acknowledgment.
	Emit(event string, payload any, ack AckFunc) error
	// On attaches handler to event for the current connection.
	On(event string, handler Handler) ListenerID
	// Once attaches handler for a single delivery on the current connection.
	Once(event string, handler Handler) ListenerID
	// Off detaches a handler previously attached with On or Once.
	Off(event string, id ListenerID)
	// Connected reports whether the connection is currently established.
	Connected() bool
	// ID returns the session id assigned by the peer, or "" when not connected.
	ID() string
}

// Factory opens a transport for the resolved channel configuration.
type Factory func(cfg config.ChannelConfig, hooks Lifecycle) Conn
