package channel

import (
	"sync"

	"github.com/coachpo/eventline/internal/transport"
)

// listenerEntry is a registered handler and its binding on the live transport.
// epoch changes every time someone starts (re)binding or detaching the entry;
// a bind only commits when no one else started after it.
type listenerEntry struct {
	event   string
	id      transport.ListenerID
	wrapped transport.Handler

	bound   transport.Conn
	live    transport.ListenerID
	epoch   uint64
	removed bool
}

// listenerRegistry is the durable record of what should be listening. The
// transport's own bindings are rebuilt from it after every connect.
type listenerRegistry struct {
	mu      sync.Mutex
	entries map[string]map[transport.ListenerID]*listenerEntry
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{entries: make(map[string]map[transport.ListenerID]*listenerEntry)}
}

func (r *listenerRegistry) add(event string, id transport.ListenerID, wrapped transport.Handler) *listenerEntry {
	e := &listenerEntry{event: event, id: id, wrapped: wrapped}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.entries[event]
	if !ok {
		set = make(map[transport.ListenerID]*listenerEntry)
		r.entries[event] = set
	}
	set[id] = e
	return e
}

func (r *listenerRegistry) lookup(event string, id transport.ListenerID) (*listenerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[event][id]
	return e, ok
}

// claim starts a bind of e and returns its previous binding.
func (r *listenerRegistry) claim(e *listenerEntry) (prev transport.Conn, prevLive transport.ListenerID, epoch uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.removed {
		return nil, 0, 0, false
	}
	e.epoch++
	prev, prevLive = e.bound, e.live
	e.bound, e.live = nil, 0
	return prev, prevLive, e.epoch, true
}

// commit records a binding made under epoch. It fails when the entry was
// claimed again or removed in the meantime; the caller must then undo its bind.
func (r *listenerRegistry) commit(e *listenerEntry, epoch uint64, conn transport.Conn, live transport.ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.removed || e.epoch != epoch {
		return false
	}
	e.bound, e.live = conn, live
	return true
}

// detach clears the live binding and keeps the entry registered.
func (r *listenerRegistry) detach(event string, id transport.ListenerID) (transport.Conn, transport.ListenerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[event][id]
	if !ok {
		return nil, 0, false
	}
	e.epoch++
	conn, live := e.bound, e.live
	e.bound, e.live = nil, 0
	return conn, live, true
}

// remove deletes the entry and returns its live binding.
func (r *listenerRegistry) remove(event string, id transport.ListenerID) (transport.Conn, transport.ListenerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.entries[event]
	e, ok := set[id]
	if !ok {
		return nil, 0, false
	}
	e.removed = true
	delete(set, id)
	if len(set) == 0 {
		delete(r.entries, event)
	}
	conn, live := e.bound, e.live
	e.bound, e.live = nil, 0
	return conn, live, true
}

func (r *listenerRegistry) snapshot() []*listenerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*listenerEntry, 0, len(r.entries))
	for _, set := range r.entries {
		for _, e := range set {
			out = append(out, e)
		}
	}
	return out
}

func (r *listenerRegistry) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[event])
}

func (r *listenerRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.entries {
		n += len(set)
	}
	return n
}

// bind attaches e to conn, replacing any binding it already had there.
// It reports whether the new binding stuck.
func (r *listenerRegistry) bind(e *listenerEntry, conn transport.Conn) bool {
	prev, prevLive, epoch, ok := r.claim(e)
	if !ok {
		return false
	}
	if prev != nil && prevLive != 0 {
		prev.Off(e.event, prevLive)
	}
	live := conn.On(e.event, e.wrapped)
	if !r.commit(e, epoch, conn, live) {
		conn.Off(e.event, live)
		return false
	}
	return true
}
