package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coachpo/eventline/internal/observability"
)

type sent struct {
	event   string
	payload any
}

type fakePeer struct {
	id   string
	fail error

	mu   sync.Mutex
	sent []sent
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Emit(_ context.Context, event string, payload any) error {
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	p.sent = append(p.sent, sent{event: event, payload: payload})
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) events(name string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, s := range p.sent {
		if s.event == name {
			out = append(out, s.payload)
		}
	}
	return out
}

func newTestHub() *Hub {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewHub(WithHubLogger(observability.Nop()), WithNow(func() time.Time { return fixed }))
}

func mustJoin(t *testing.T, h *Hub, p *fakePeer, room, user string) JoinReply {
	t.Helper()
	reply, err := h.Join(context.Background(), p, JoinRequest{Room: room, User: user})
	if err != nil {
		t.Fatalf("join %s/%s: %v", room, user, err)
	}
	return reply
}

func TestJoinAnnouncesPresenceToOthers(t *testing.T) {
	h := newTestHub()
	ana, bo := &fakePeer{id: "a"}, &fakePeer{id: "b"}

	mustJoin(t, h, ana, "lobby", "ana")
	reply := mustJoin(t, h, bo, "lobby", "bo")

	if got := strings.Join(reply.Members, ","); got != "ana,bo" {
		t.Fatalf("unexpected members %q", got)
	}
	presence := ana.events(EventPresence)
	if len(presence) != 1 || presence[0] != (Presence{Room: "lobby", User: "bo", Online: true}) {
		t.Fatalf("unexpected presence for ana: %v", presence)
	}
	if len(bo.events(EventPresence)) != 0 {
		t.Fatalf("joiner must not receive its own presence")
	}
}

func TestRejoinSameRoomIsSilent(t *testing.T) {
	h := newTestHub()
	ana, bo := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	mustJoin(t, h, ana, "lobby", "ana")
	mustJoin(t, h, bo, "lobby", "bo")
	reply := mustJoin(t, h, bo, "lobby", "bo")

	if got := strings.Join(reply.Members, ","); got != "ana,bo" {
		t.Fatalf("unexpected members %q", got)
	}
	if got := ana.events(EventPresence); len(got) != 1 {
		t.Fatalf("rejoin announced again: %v", got)
	}
}

func TestJoinRejectsInvalidRequest(t *testing.T) {
	h := newTestHub()
	for name, data := range map[string]any{
		"empty room":    JoinRequest{User: "ana"},
		"padded user":   JoinRequest{Room: "lobby", User: " ana"},
		"unknown field": []byte(`{"room":"lobby","user":"ana","admin":true}`),
		"long room":     JoinRequest{Room: strings.Repeat("r", maxNameLen+1), User: "ana"},
	} {
		if _, err := h.Join(context.Background(), &fakePeer{id: name}, data); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
	if len(h.Members("lobby")) != 0 {
		t.Fatalf("rejected join changed membership")
	}
}

func TestSendFansOutToRoomOnly(t *testing.T) {
	h := newTestHub()
	ana, bo, cy := &fakePeer{id: "a"}, &fakePeer{id: "b"}, &fakePeer{id: "c"}
	mustJoin(t, h, ana, "lobby", "ana")
	mustJoin(t, h, bo, "lobby", "bo")
	mustJoin(t, h, cy, "dev", "cy")

	ack := h.Send(context.Background(), ana, map[string]any{"text": "hello"})
	if !ack.Success || ack.Seq != 1 {
		t.Fatalf("unexpected ack %+v", ack)
	}
	want := Message{Room: "lobby", User: "ana", Text: "hello", Seq: 1, SentAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	for _, p := range []*fakePeer{ana, bo} {
		got := p.events(EventMessage)
		if len(got) != 1 || got[0] != want {
			t.Fatalf("peer %s got %v", p.id, got)
		}
	}
	if len(cy.events(EventMessage)) != 0 {
		t.Fatalf("message leaked into another room")
	}
	if hist := h.History("lobby"); len(hist) != 1 || hist[0] != want {
		t.Fatalf("unexpected history %v", hist)
	}
}

func TestSendValidation(t *testing.T) {
	h := newTestHub()
	ana := &fakePeer{id: "a"}

	if ack := h.Send(context.Background(), ana, map[string]any{"text": "hi"}); ack.Success || ack.Error != errNotJoined.Error() {
		t.Fatalf("expected not joined, got %+v", ack)
	}
	mustJoin(t, h, ana, "lobby", "ana")
	for name, data := range map[string]any{
		"empty":   map[string]any{"text": ""},
		"missing": map[string]any{},
		"extra":   map[string]any{"text": "x", "html": true},
		"long":    map[string]any{"text": strings.Repeat("x", MaxMessageLen+1)},
	} {
		if ack := h.Send(context.Background(), ana, data); ack.Success || ack.Error == "" {
			t.Fatalf("%s: expected rejection, got %+v", name, ack)
		}
	}
	if len(ana.events(EventMessage)) != 0 {
		t.Fatalf("invalid message was fanned out")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	h := newTestHub()
	ana := &fakePeer{id: "a"}
	mustJoin(t, h, ana, "lobby", "ana")
	for i := 0; i < HistoryLimit+5; i++ {
		h.Send(context.Background(), ana, map[string]any{"text": "x"})
	}
	hist := h.History("lobby")
	if len(hist) != HistoryLimit || hist[0].Seq != 6 {
		t.Fatalf("expected %d newest messages starting at seq 6, got %d from %d", HistoryLimit, len(hist), hist[0].Seq)
	}
	reply := mustJoin(t, h, &fakePeer{id: "b"}, "lobby", "bo")
	if len(reply.History) != HistoryLimit {
		t.Fatalf("join did not replay history")
	}
}

func TestMovingRoomsAndLeaving(t *testing.T) {
	h := newTestHub()
	ana, bo := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	mustJoin(t, h, bo, "lobby", "bo")
	mustJoin(t, h, ana, "lobby", "ana")
	mustJoin(t, h, ana, "dev", "ana")

	if got := h.Members("lobby"); len(got) != 1 || got[0] != "bo" {
		t.Fatalf("ana still in lobby: %v", got)
	}
	presence := bo.events(EventPresence)
	if last := presence[len(presence)-1]; last != (Presence{Room: "lobby", User: "ana", Online: false}) {
		t.Fatalf("expected departure notice, got %v", last)
	}

	if ack := h.Leave(context.Background(), ana); !ack.Success {
		t.Fatalf("leave failed: %+v", ack)
	}
	if ack := h.Leave(context.Background(), ana); ack.Success {
		t.Fatalf("second leave must fail")
	}
	if len(h.Members("dev")) != 0 {
		t.Fatalf("room not emptied")
	}
}

func TestDropAndTyping(t *testing.T) {
	h := newTestHub()
	ana, bo := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	mustJoin(t, h, ana, "lobby", "ana")
	mustJoin(t, h, bo, "lobby", "bo")

	h.Typing(context.Background(), ana)
	if got := bo.events(EventTyping); len(got) != 1 {
		t.Fatalf("expected typing relay, got %v", got)
	}
	if len(ana.events(EventTyping)) != 0 {
		t.Fatalf("typing echoed to sender")
	}

	h.Drop(context.Background(), "a", "transport close")
	h.Drop(context.Background(), "a", "transport close")
	if got := h.Members("lobby"); len(got) != 1 || got[0] != "bo" {
		t.Fatalf("unexpected members %v", got)
	}
}

func TestAttachUsesAuthRecord(t *testing.T) {
	h := newTestHub()
	ana := &fakePeer{id: "a"}
	h.Attach(context.Background(), ana, map[string]string{"user": "ana"})
	if len(h.Members("lobby")) != 0 {
		t.Fatalf("attach without room must not join")
	}
	h.Attach(context.Background(), ana, map[string]string{"user": "ana", "room": "lobby"})
	if got := h.Members("lobby"); len(got) != 1 || got[0] != "ana" {
		t.Fatalf("expected auto join, got %v", got)
	}
}

func TestFanoutFailureDoesNotStopOthers(t *testing.T) {
	h := newTestHub()
	broken := &fakePeer{id: "x", fail: errors.New("closed")}
	ana := &fakePeer{id: "a"}
	mustJoin(t, h, broken, "lobby", "zed")
	mustJoin(t, h, ana, "lobby", "ana")

	if ack := h.Send(context.Background(), ana, map[string]any{"text": "hi"}); !ack.Success {
		t.Fatalf("send failed: %+v", ack)
	}
	if len(ana.events(EventMessage)) != 1 {
		t.Fatalf("healthy peer missed the message")
	}
}
