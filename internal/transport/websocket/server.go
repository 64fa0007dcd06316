package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/eventline/internal/observability"
	"github.com/coachpo/eventline/internal/telemetry"
	"github.com/coachpo/eventline/internal/transport"
)

const handshakeTimeout = 10 * time.Second

// HandlerFunc serves one inbound event. The returned value is sent back as the
// ack when the client asked for one; a returned error is sent as {"error": msg}.
type HandlerFunc func(ctx context.Context, s *Session, data json.RawMessage) (any, error)

// Authenticator checks the auth record a client sends in its connect frame.
type Authenticator func(auth map[string]string) error

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMeterProvider sets the meter provider used for server metrics.
func WithMeterProvider(mp metric.MeterProvider) ServerOption {
	return func(s *Server) { s.meterProvider = mp }
}

// WithAuthenticator rejects clients whose auth record fails check.
func WithAuthenticator(check Authenticator) ServerOption {
	return func(s *Server) { s.auth = check }
}

// WithAcceptOptions sets the options passed to websocket.Accept.
func WithAcceptOptions(opts *websocket.AcceptOptions) ServerOption {
	return func(s *Server) { s.acceptOpts = opts }
}

// Server accepts websocket clients speaking the event frame protocol.
type Server struct {
	logger        observability.Logger
	meterProvider metric.MeterProvider
	metrics       *serverMetrics
	auth          Authenticator
	acceptOpts    *websocket.AcceptOptions

	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	sessions     map[string]*Session
	onConnect    func(*Session)
	onDisconnect func(*Session, string)
	closed       bool
}

// NewServer builds a server with no handlers.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger:   observability.Log(),
		handlers: make(map[string]HandlerFunc),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.metrics = newServerMetrics(s.meterProvider)
	return s
}

// Handle registers fn for event, replacing any previous handler.
func (s *Server) Handle(event string, fn HandlerFunc) {
	event = strings.TrimSpace(event)
	if event == "" || fn == nil {
		return
	}
	s.mu.Lock()
	s.handlers[event] = fn
	s.mu.Unlock()
}

// OnConnect registers a callback run after each successful handshake.
func (s *Server) OnConnect(fn func(*Session)) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

// OnDisconnect registers a callback run when a session ends.
func (s *Server) OnDisconnect(fn func(*Session, string)) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

// Sessions returns the live sessions ordered by id.
func (s *Server) Sessions() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Session looks up a live session.
func (s *Server) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Broadcast emits event to every live session and returns how many writes succeeded.
func (s *Server) Broadcast(ctx context.Context, event string, payload any) int {
	sent := 0
	for _, sess := range s.Sessions() {
		if err := sess.Emit(ctx, event, payload); err != nil {
			s.logger.Error("broadcast failed",
				observability.F("event", event),
				observability.F("sid", sess.id),
				observability.Err(err))
			continue
		}
		sent++
	}
	return sent
}

// Close sends a disconnect frame to every session and refuses new clients.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		if err := sess.Close(transport.ReasonServerDisconnect); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServeHTTP upgrades the request and serves the session until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, s.acceptOpts)
	if err != nil {
		s.logger.Error("websocket accept failed", observability.Err(err))
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, err := s.handshake(ctx, conn)
	if err != nil {
		s.metrics.recordHandshake(ctx, telemetry.ResultError)
		s.logger.Debug("websocket handshake rejected", observability.Err(err))
		return
	}
	sess.cancel = cancel
	if err := s.welcome(ctx, sess); err != nil {
		s.metrics.recordHandshake(ctx, telemetry.ResultError)
		s.logger.Error("websocket handshake failed", observability.Err(err))
		return
	}
	s.metrics.recordHandshake(ctx, telemetry.ResultSuccess)
	s.metrics.adjustSessions(ctx, 1)

	s.mu.RLock()
	onConnect := s.onConnect
	s.mu.RUnlock()

	if onConnect != nil {
		onConnect(sess)
	}

	reason := s.serve(ctx, sess)

	s.mu.Lock()
	delete(s.sessions, sess.id)
	onDisconnect := s.onDisconnect
	s.mu.Unlock()
	s.metrics.adjustSessions(context.Background(), -1)
	_ = conn.Close(websocket.StatusNormalClosure, "")

	if onDisconnect != nil {
		onDisconnect(sess, reason)
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*Session, error) {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	_, data, err := conn.Read(hsCtx)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("read connect frame: %w", err)
	}
	hello, err := decodeFrame(data)
	if err != nil || hello.Type != frameConnect {
		conn.CloseNow()
		if err == nil {
			err = fmt.Errorf("expected connect frame, got %s", hello.Type)
		}
		return nil, err
	}
	if s.auth != nil {
		if authErr := s.auth(hello.Auth); authErr != nil {
			if reply, err := encodeFrame(frame{Type: frameConnectError, Error: authErr.Error()}); err == nil {
				_ = conn.Write(hsCtx, websocket.MessageText, reply)
			}
			_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
			return nil, fmt.Errorf("auth: %w", authErr)
		}
	}

	return &Session{id: uuid.NewString(), conn: conn, auth: hello.Auth, server: s}, nil
}

// welcome registers the session and then answers the handshake, so a client
// that sees its session id is already reachable through Broadcast.
func (s *Server) welcome(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	reply, err := encodeFrame(frame{Type: frameConnect, SID: sess.id})
	if err == nil {
		err = sess.write(ctx, reply)
	}
	if err != nil {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		sess.conn.CloseNow()
		return fmt.Errorf("write connect frame: %w", err)
	}
	return nil
}

func (s *Server) serve(ctx context.Context, sess *Session) string {
	for {
		msgType, data, err := sess.conn.Read(ctx)
		if err != nil {
			if sess.closing() {
				return transport.ReasonServerDisconnect
			}
			return disconnectReason(context.Background(), err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		f, err := decodeFrame(data)
		if err != nil {
			s.logger.Error("websocket frame dropped", observability.F("sid", sess.id), observability.Err(err))
			continue
		}
		switch f.Type {
		case frameDisconnect:
			return transport.ReasonClientDisconnect
		case frameEvent:
			s.dispatch(ctx, sess, f)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *Session, f frame) {
	s.mu.RLock()
	fn, ok := s.handlers[f.Event]
	s.mu.RUnlock()
	if !ok {
		s.metrics.recordEvent(ctx, f.Event, telemetry.ResultUnsupported)
		s.logger.Debug("no handler for event", observability.F("event", f.Event), observability.F("sid", sess.id))
		if f.ID != 0 {
			_ = sess.ack(ctx, f.ID, errorPayload(fmt.Errorf("unsupported event %q", f.Event)))
		}
		return
	}

	var (
		result any
		err    error
	)
	var catcher panics.Catcher
	catcher.Try(func() { result, err = fn(ctx, sess, f.Data) })
	if recovered := catcher.Recovered(); recovered != nil {
		err = recovered.AsError()
	}

	outcome := telemetry.ResultSuccess
	if err != nil {
		outcome = telemetry.ResultError
		s.logger.Error("event handler failed",
			observability.F("event", f.Event),
			observability.F("sid", sess.id),
			observability.Err(err))
		result = errorPayload(err)
	}
	s.metrics.recordEvent(ctx, f.Event, outcome)

	if f.ID == 0 {
		return
	}
	if ackErr := sess.ack(ctx, f.ID, result); ackErr != nil {
		s.logger.Error("ack failed", observability.F("event", f.Event), observability.Err(ackErr))
		return
	}
	s.metrics.recordAck(ctx, f.Event)
}

func errorPayload(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

// Session is one connected client.
type Session struct {
	id     string
	conn   *websocket.Conn
	auth   map[string]string
	server *Server
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// ID returns the session id sent to the client.
func (s *Session) ID() string { return s.id }

// Auth returns the auth record the client presented.
func (s *Session) Auth() map[string]string {
	out := make(map[string]string, len(s.auth))
	for k, v := range s.auth {
		out[k] = v
	}
	return out
}

// Emit sends event to this session.
func (s *Session) Emit(ctx context.Context, event string, payload any) error {
	data, err := marshalData(payload)
	if err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	msg, err := encodeFrame(frame{Type: frameEvent, Event: event, Data: data})
	if err != nil {
		return err
	}
	return s.write(ctx, msg)
}

// Close sends a disconnect frame and ends the session.
func (s *Session) Close(reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	msg, err := encodeFrame(frame{Type: frameDisconnect, Error: reason})
	if err == nil {
		err = s.write(ctx, msg)
	}
	closeErr := s.conn.Close(websocket.StatusNormalClosure, reason)
	if s.cancel != nil {
		s.cancel()
	}
	if err != nil {
		return err
	}
	if closeErr != nil && websocket.CloseStatus(closeErr) == -1 && !errors.Is(closeErr, context.Canceled) {
		return fmt.Errorf("close session %s: %w", s.id, closeErr)
	}
	return nil
}

func (s *Session) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) ack(ctx context.Context, id uint64, payload any) error {
	data, err := marshalData(payload)
	if err != nil {
		return err
	}
	msg, err := encodeFrame(frame{Type: frameAck, ID: id, Data: data})
	if err != nil {
		return err
	}
	return s.write(ctx, msg)
}

func (s *Session) write(ctx context.Context, msg []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(writeCtx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("write to %s: %w", s.id, err)
	}
	return nil
}
