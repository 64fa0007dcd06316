package channel

import "sync"

// QueuedEmission is an outbound event held while the transport is disconnected.
type QueuedEmission struct {
	Event string
	Args  []any
}

func (q QueuedEmission) payload() any {
	if len(q.Args) == 0 {
		return nil
	}
	return q.Args[0]
}

// outboundQueue is a FIFO of emissions with a single-flusher guard.
type outboundQueue struct {
	mu       sync.Mutex
	items    []QueuedEmission
	flushing bool
}

func (q *outboundQueue) enqueue(e QueuedEmission) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, e)
	return len(q.items)
}

// enqueueIfPending appends e only when earlier entries are still waiting or a
// flush is running, so e cannot overtake them.
func (q *outboundQueue) enqueueIfPending(e QueuedEmission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.flushing && len(q.items) == 0 {
		return false
	}
	q.items = append(q.items, e)
	return true
}

// beginFlush claims the flusher role. It fails while another flush runs.
func (q *outboundQueue) beginFlush() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.flushing {
		return false
	}
	q.flushing = true
	return true
}

// next pops the head. An empty queue ends the flush.
func (q *outboundQueue) next() (QueuedEmission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.flushing = false
		return QueuedEmission{}, false
	}
	head := q.items[0]
	q.items[0] = QueuedEmission{}
	q.items = q.items[1:]
	return head, true
}

// requeue puts e back at the head and ends the flush.
func (q *outboundQueue) requeue(e QueuedEmission) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]QueuedEmission{e}, q.items...)
	q.flushing = false
}

func (q *outboundQueue) endFlush() {
	q.mu.Lock()
	q.flushing = false
	q.mu.Unlock()
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *outboundQueue) snapshot() []QueuedEmission {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedEmission, len(q.items))
	for i, e := range q.items {
		out[i] = QueuedEmission{Event: e.Event, Args: append([]any(nil), e.Args...)}
	}
	return out
}
