package transport

import (
	"errors"
	"testing"
)

func TestScopeDispatchOrderAndOnce(t *testing.T) {
	s := NewScope()
	var got []string
	s.On("message", func(any) { got = append(got, "a") })
	s.Once("message", func(any) { got = append(got, "once") })
	s.On("message", func(any) { got = append(got, "b") })

	if n := s.Dispatch("message", nil); n != 3 {
		t.Fatalf("expected 3 handlers, got %d", n)
	}
	if n := s.Dispatch("message", nil); n != 2 {
		t.Fatalf("expected once handler detached, got %d", n)
	}
	want := []string{"a", "once", "b", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("unexpected dispatch trace %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected dispatch trace %v", got)
		}
	}
}

func TestScopeOffAndReset(t *testing.T) {
	s := NewScope()
	calls := 0
	id := s.On("message", func(any) { calls++ })
	s.On("other", func(any) {})

	s.Off("message", id)
	s.Off("message", id)
	if s.Dispatch("message", nil) != 0 || calls != 0 {
		t.Fatalf("expected handler detached")
	}
	if s.Len() != 1 {
		t.Fatalf("expected one binding left, got %d", s.Len())
	}
	s.Reset()
	if s.Len() != 0 || s.Count("other") != 0 {
		t.Fatalf("expected empty scope after reset")
	}
}

func TestScopeHandlerMayReenter(t *testing.T) {
	s := NewScope()
	var id ListenerID
	id = s.On("message", func(any) { s.Off("message", id) })
	s.Dispatch("message", nil)
	if s.Count("message") != 0 {
		t.Fatalf("expected handler to detach itself")
	}
}

func TestListenerIDsAreUnique(t *testing.T) {
	a, b := NextListenerID(), NextListenerID()
	if a == b || a.String() == b.String() {
		t.Fatalf("expected distinct ids")
	}
}

func TestLifecycleNilHooks(t *testing.T) {
	var l Lifecycle
	l.Connected()
	l.Disconnected(ReasonTransportClose)
	l.ConnectFailed(errors.New("boom"))

	var reason string
	l.OnDisconnect = func(r string) { reason = r }
	l.Disconnected(ReasonPingTimeout)
	if reason != ReasonPingTimeout {
		t.Fatalf("expected reason forwarded, got %q", reason)
	}
}
