package session

import (
	"sync"

	"arbor/internal/metrics"
)

// mailbox is an unbounded multi-producer queue drained by one consumer.
// push never blocks.
type mailbox struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev Event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, ev)
	depth := len(m.items)
	m.mu.Unlock()

	metrics.SetMailboxDepth(depth)
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// drain takes every queued event in push order.
func (m *mailbox) drain() []Event {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.mu.Unlock()
	metrics.SetMailboxDepth(0)
	return items
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
