package transport

import (
	"errors"
	"sync"
)

// ErrNotConnected is returned by Emit when no connection is established.
var ErrNotConnected = errors.New("transport not connected")

type binding struct {
	id      ListenerID
	handler Handler
	once    bool
}

// Scope is the handler table of a single connection. Transports create a new
// Scope (or Reset the old one) whenever a connection ends.
type Scope struct {
	mu       sync.Mutex
	bindings map[string][]binding
}

// NewScope returns an empty handler scope.
func NewScope() *Scope {
	return &Scope{bindings: make(map[string][]binding)}
}

// On attaches handler to event.
func (s *Scope) On(event string, handler Handler) ListenerID {
	return s.add(event, handler, false)
}

// Once attaches handler for a single delivery.
func (s *Scope) Once(event string, handler Handler) ListenerID {
	return s.add(event, handler, true)
}

func (s *Scope) add(event string, handler Handler, once bool) ListenerID {
	id := NextListenerID()
	if handler == nil {
		return id
	}
	s.mu.Lock()
	s.bindings[event] = append(s.bindings[event], binding{id: id, handler: handler, once: once})
	s.mu.Unlock()
	return id
}

// Off detaches the handler with id from event. Unknown ids are ignored.
func (s *Scope) Off(event string, id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.bindings[event]
	for i, b := range list {
		if b.id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.bindings, event)
		} else {
			s.bindings[event] = list
		}
		return
	}
}

// Dispatch invokes every handler bound to event in attachment order and
// returns how many ran. Once handlers are detached before they run.
// Handlers are called without the scope lock held.
func (s *Scope) Dispatch(event string, payload any) int {
	s.mu.Lock()
	list := s.bindings[event]
	if len(list) == 0 {
		s.mu.Unlock()
		return 0
	}
	handlers := make([]Handler, 0, len(list))
	keep := make([]binding, 0, len(list))
	for _, b := range list {
		handlers = append(handlers, b.handler)
		if !b.once {
			keep = append(keep, b)
		}
	}
	if len(keep) == 0 {
		delete(s.bindings, event)
	} else {
		s.bindings[event] = keep
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
	return len(handlers)
}

// Count returns the number of handlers bound to event.
func (s *Scope) Count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings[event])
}

// Len returns the number of handlers bound across all events.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range s.bindings {
		n += len(list)
	}
	return n
}

// Reset drops every binding.
func (s *Scope) Reset() {
	s.mu.Lock()
	s.bindings = make(map[string][]binding)
	s.mu.Unlock()
}
