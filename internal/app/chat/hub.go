package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/coachpo/eventline/internal/domain/schema"
	"github.com/coachpo/eventline/internal/observability"
	"github.com/coachpo/eventline/internal/transport/websocket"
)

var errNotJoined = errors.New("join a room first")

// Peer is the part of a server session the hub needs.
type Peer interface {
	ID() string
	Emit(ctx context.Context, event string, payload any) error
}

type member struct {
	peer Peer
	user string
	room string
}

// Hub tracks rooms and fans chat events out to their members. A session is in
// at most one room at a time.
type Hub struct {
	logger observability.Logger
	now    func() time.Time

	joinSchema schema.Validator
	sendSchema schema.Validator

	seq atomic.Int64

	mu      sync.Mutex
	members map[string]*member
	rooms   map[string]map[string]*member
	history map[string][]Message
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(logger observability.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithNow overrides the message timestamp source.
func WithNow(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHub builds an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:     observability.Log(),
		now:        time.Now,
		joinSchema: schema.Typed[JoinRequest](),
		sendSchema: SendMessageSchema(),
		members:    make(map[string]*member),
		rooms:      make(map[string]map[string]*member),
		history:    make(map[string][]Message),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register installs the hub's handlers on srv.
func (h *Hub) Register(srv *websocket.Server) {
	srv.Handle(EventJoin, func(ctx context.Context, s *websocket.Session, data json.RawMessage) (any, error) {
		return h.Join(ctx, s, data)
	})
	srv.Handle(EventLeave, func(ctx context.Context, s *websocket.Session, _ json.RawMessage) (any, error) {
		return h.Leave(ctx, s), nil
	})
	srv.Handle(EventSendMessage, func(ctx context.Context, s *websocket.Session, data json.RawMessage) (any, error) {
		return h.Send(ctx, s, data), nil
	})
	srv.Handle(EventTyping, func(ctx context.Context, s *websocket.Session, _ json.RawMessage) (any, error) {
		h.Typing(ctx, s)
		return nil, nil
	})
	srv.OnConnect(func(s *websocket.Session) {
		h.Attach(context.Background(), s, s.Auth())
	})
	srv.OnDisconnect(func(s *websocket.Session, reason string) {
		h.Drop(context.Background(), s.ID(), reason)
	})
}

// Attach joins peer to the room named in its auth record, when the record
// carries both "user" and "room". Messages queued by a client while it was
// offline therefore land in that room once it reconnects.
func (h *Hub) Attach(ctx context.Context, peer Peer, auth map[string]string) {
	user, room := auth["user"], auth["room"]
	if user == "" || room == "" {
		return
	}
	if _, err := h.Join(ctx, peer, JoinRequest{Room: room, User: user}); err != nil {
		h.logger.Error("auto join rejected", observability.F("sid", peer.ID()), observability.Err(err))
	}
}

// Join moves peer into the requested room and announces it to the others.
func (h *Hub) Join(ctx context.Context, peer Peer, data any) (JoinReply, error) {
	v, err := h.joinSchema.Validate(data)
	if err != nil {
		return JoinReply{}, err
	}
	req := v.(JoinRequest)

	h.mu.Lock()
	prev := h.detachLocked(peer.ID())
	m := &member{peer: peer, user: req.User, room: req.Room}
	h.members[peer.ID()] = m
	room, ok := h.rooms[req.Room]
	if !ok {
		room = make(map[string]*member)
		h.rooms[req.Room] = room
	}
	room[peer.ID()] = m
	reply := JoinReply{
		Room:    req.Room,
		Members: usersLocked(room),
		History: append([]Message(nil), h.history[req.Room]...),
	}
	h.mu.Unlock()

	// Rejoining the same room under the same name is silent.
	if prev != nil && prev.room == req.Room && prev.user == req.User {
		return reply, nil
	}
	if prev != nil {
		h.announce(ctx, prev.room, Presence{Room: prev.room, User: prev.user, Online: false}, "")
	}
	h.announce(ctx, req.Room, Presence{Room: req.Room, User: req.User, Online: true}, peer.ID())
	h.logger.Info("member joined",
		observability.F("room", req.Room),
		observability.F("user", req.User),
		observability.F("sid", peer.ID()))
	return reply, nil
}

// Leave removes peer from its room.
func (h *Hub) Leave(ctx context.Context, peer Peer) Ack {
	h.mu.Lock()
	m := h.detachLocked(peer.ID())
	h.mu.Unlock()
	if m == nil {
		return Ack{Error: errNotJoined.Error()}
	}
	h.announce(ctx, m.room, Presence{Room: m.room, User: m.user, Online: false}, "")
	return Ack{Success: true}
}

// Drop forgets a session that went away.
func (h *Hub) Drop(ctx context.Context, sid, reason string) {
	h.mu.Lock()
	m := h.detachLocked(sid)
	h.mu.Unlock()
	if m == nil {
		return
	}
	h.logger.Info("member dropped",
		observability.F("room", m.room),
		observability.F("user", m.user),
		observability.F("reason", reason))
	h.announce(ctx, m.room, Presence{Room: m.room, User: m.user, Online: false}, "")
}

// Send validates a sendMessage request, stamps it and fans it out to the room,
// sender included.
func (h *Hub) Send(ctx context.Context, peer Peer, data any) Ack {
	v, err := h.sendSchema.Validate(data)
	if err != nil {
		return Ack{Error: err.Error()}
	}
	text, _ := v.(map[string]any)["text"].(string)

	h.mu.Lock()
	m, ok := h.members[peer.ID()]
	if !ok {
		h.mu.Unlock()
		return Ack{Error: errNotJoined.Error()}
	}
	msg := Message{
		Room:   m.room,
		User:   m.user,
		Text:   text,
		Seq:    h.seq.Add(1),
		SentAt: h.now().UTC(),
	}
	hist := append(h.history[m.room], msg)
	if len(hist) > HistoryLimit {
		hist = append([]Message(nil), hist[len(hist)-HistoryLimit:]...)
	}
	h.history[m.room] = hist
	h.mu.Unlock()

	h.fanout(ctx, msg.Room, EventMessage, msg, "")
	return Ack{Success: true, Seq: msg.Seq}
}

// Typing relays a typing notice to everyone else in the room.
func (h *Hub) Typing(ctx context.Context, peer Peer) {
	h.mu.Lock()
	m, ok := h.members[peer.ID()]
	h.mu.Unlock()
	if !ok {
		return
	}
	h.fanout(ctx, m.room, EventTyping, map[string]string{"room": m.room, "user": m.user}, peer.ID())
}

// Members returns the users in room, sorted.
func (h *Hub) Members(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return usersLocked(h.rooms[room])
}

// History returns the retained messages for room, oldest first.
func (h *Hub) History(room string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.history[room]...)
}

func (h *Hub) detachLocked(sid string) *member {
	m, ok := h.members[sid]
	if !ok {
		return nil
	}
	delete(h.members, sid)
	if room := h.rooms[m.room]; room != nil {
		delete(room, sid)
		if len(room) == 0 {
			delete(h.rooms, m.room)
		}
	}
	return m
}

func (h *Hub) announce(ctx context.Context, room string, p Presence, except string) {
	h.fanout(ctx, room, EventPresence, p, except)
}

func (h *Hub) fanout(ctx context.Context, room, event string, payload any, except string) {
	h.mu.Lock()
	peers := make([]Peer, 0, len(h.rooms[room]))
	for sid, m := range h.rooms[room] {
		if sid != except {
			peers = append(peers, m.peer)
		}
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.Emit(ctx, event, payload); err != nil {
			h.logger.Error("fanout failed",
				observability.F("event", event),
				observability.F("room", room),
				observability.F("sid", p.ID()),
				observability.Err(err))
		}
	}
}

func usersLocked(room map[string]*member) []string {
	users := make([]string, 0, len(room))
	for _, m := range room {
		users = append(users, m.user)
	}
	sort.Strings(users)
	return users
}
