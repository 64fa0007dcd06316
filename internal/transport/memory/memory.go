// Package memory provides an in-process transport and the fake server it talks to.
// Everything runs synchronously on the caller's goroutine, which makes channel
// behaviour deterministic under test.
package memory

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/eventline/config"
	"github.com/coachpo/eventline/internal/transport"
)

// Emission records one event a client sent to the server.
type Emission struct {
	SessionID string
	Event     string
	Payload   any
	Acked     bool
}

// AckPolicy decides the acknowledgment for an emitted event. Returning ok=false withholds the ack.
type AckPolicy func(event string, payload any) (ack any, ok bool)

// AuthPolicy accepts or refuses a connecting client based on its auth record.
type AuthPolicy func(auth map[string]string) error

// Option configures a Server.
type Option func(*Server)

// WithAck installs the acknowledgment policy.
func WithAck(policy AckPolicy) Option {
	return func(s *Server) { s.ack = policy }
}

// WithAuth installs a policy that checks the client's auth record on connect.
func WithAuth(policy AuthPolicy) Option {
	return func(s *Server) { s.auth = policy }
}

// WithWireEncoding makes payloads cross the server as JSON, so receivers see json.RawMessage.
func WithWireEncoding() Option {
	return func(s *Server) { s.wire = true }
}

// Server is a fake peer that records emissions and pushes events to connected clients.
type Server struct {
	mu        sync.Mutex
	sessions  map[string]*Client
	clients   []*Client
	emissions []Emission
	ack       AckPolicy
	auth      AuthPolicy
	refuse    error
	wire      bool
	connects  int
}

// NewServer builds a fake server.
func NewServer(opts ...Option) *Server {
	s := &Server{sessions: make(map[string]*Client)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AckAll acknowledges every event with the same payload.
func AckAll(payload any) AckPolicy {
	return func(string, any) (any, bool) { return payload, true }
}

// Factory returns a transport.Factory that opens clients against this server.
func (s *Server) Factory() transport.Factory {
	return func(cfg config.ChannelConfig, hooks transport.Lifecycle) transport.Conn {
		c := &Client{server: s, cfg: cfg, hooks: hooks, scope: transport.NewScope()}
		s.mu.Lock()
		s.clients = append(s.clients, c)
		s.mu.Unlock()
		if cfg.AutoConnect {
			c.Connect()
		}
		return c
	}
}

// SetAck replaces the acknowledgment policy.
func (s *Server) SetAck(policy AckPolicy) {
	s.mu.Lock()
	s.ack = policy
	s.mu.Unlock()
}

// Refuse makes subsequent connection attempts fail with err. A nil err accepts again.
func (s *Server) Refuse(err error) {
	s.mu.Lock()
	s.refuse = err
	s.mu.Unlock()
}

// Deliver pushes event to every connected client and returns how many received it.
func (s *Server) Deliver(event string, payload any) int {
	wirePayload, err := s.encode(payload)
	if err != nil {
		return 0
	}
	delivered := 0
	for _, c := range s.connected() {
		c.scope.Dispatch(event, wirePayload)
		delivered++
	}
	return delivered
}

// DeliverTo pushes event to a single session. It reports whether the session exists.
func (s *Server) DeliverTo(sessionID, event string, payload any) bool {
	wirePayload, err := s.encode(payload)
	if err != nil {
		return false
	}
	s.mu.Lock()
	c, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	c.scope.Dispatch(event, wirePayload)
	return true
}

// Drop disconnects every client from the server side with reason.
func (s *Server) Drop(reason string) {
	if reason == "" {
		reason = transport.ReasonServerDisconnect
	}
	for _, c := range s.connected() {
		c.drop(reason)
	}
}

// Emissions returns a copy of every recorded emission in arrival order.
func (s *Server) Emissions() []Emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Emission(nil), s.emissions...)
}

// EmissionsFor returns the recorded emissions for event.
func (s *Server) EmissionsFor(event string) []Emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Emission
	for _, e := range s.emissions {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// ResetEmissions forgets recorded emissions.
func (s *Server) ResetEmissions() {
	s.mu.Lock()
	s.emissions = nil
	s.mu.Unlock()
}

// Sessions returns the ids of connected sessions.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Connects returns how many connections the server has accepted.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Clients returns every client the factory has opened.
func (s *Server) Clients() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Client(nil), s.clients...)
}

func (s *Server) connected() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Client, 0, len(s.sessions))
	for _, c := range s.sessions {
		out = append(out, c)
	}
	return out
}

func (s *Server) attach(c *Client) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse != nil {
		return "", s.refuse
	}
	if s.auth != nil {
		if err := s.auth(c.cfg.Auth); err != nil {
			return "", fmt.Errorf("auth rejected: %w", err)
		}
	}
	sid := uuid.NewString()
	s.sessions[sid] = c
	s.connects++
	return sid, nil
}

func (s *Server) detach(sid string) {
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
}

func (s *Server) receive(sid, event string, payload any, wantAck bool) (any, bool, error) {
	wirePayload, err := s.encode(payload)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	policy := s.ack
	s.mu.Unlock()

	var ack any
	acked := false
	if wantAck && policy != nil {
		ack, acked = policy(event, wirePayload)
	}
	s.mu.Lock()
	s.emissions = append(s.emissions, Emission{SessionID: sid, Event: event, Payload: wirePayload, Acked: acked})
	s.mu.Unlock()
	if !acked {
		return nil, false, nil
	}
	ack, err = s.encode(ack)
	if err != nil {
		return nil, false, err
	}
	return ack, true, nil
}

func (s *Server) encode(payload any) (any, error) {
	if !s.wire {
		return payload, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.RawMessage(data), nil
}
