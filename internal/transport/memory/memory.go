// Package memory is an in-process peer transport. Every Join on a Hub
// becomes a peer with its own delivery goroutine, so handlers see events one
// at a time and in the order they were sent.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/peermention/pkg/types"
)

// Hub connects the peers of one process.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[string]*member
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[string]*member)}
}

// Join implements types.Transport.
func (h *Hub) Join(ctx context.Context, topic string, handler types.Handler) (types.Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("peer id: %w", err)
	}

	m := &member{
		id:      id.String(),
		topic:   topic,
		hub:     h,
		handler: handler,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.run()

	h.mu.Lock()
	members := h.topics[topic]
	if members == nil {
		members = make(map[string]*member)
		h.topics[topic] = members
	}
	for _, other := range members {
		other := other
		m.enqueue(func() { handler.PeerJoined(other.id) })
		other.enqueue(func() { other.handler.PeerJoined(m.id) })
	}
	members[m.id] = m
	h.mu.Unlock()

	return m, nil
}

// Peers returns the peer IDs joined to topic.
func (h *Hub) Peers(topic string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.topics[topic]))
	for id := range h.topics[topic] {
		out = append(out, id)
	}
	return out
}

func (h *Hub) leave(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.topics[m.topic]
	if _, ok := members[m.id]; !ok {
		return
	}
	delete(members, m.id)
	if len(members) == 0 {
		delete(h.topics, m.topic)
	}
	for _, other := range members {
		other := other
		other.enqueue(func() { other.handler.PeerLeft(m.id) })
	}
}

// member is one joined peer. It implements types.Topic.
type member struct {
	id      string
	topic   string
	hub     *Hub
	handler types.Handler

	mu     sync.Mutex
	box    []func()
	closed bool

	signal    chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func (m *member) PeerID() string { return m.id }

// Send queues data for delivery to peerID.
func (m *member) Send(ctx context.Context, peerID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return types.ErrTopicClosed
	}

	m.hub.mu.Lock()
	dest, ok := m.hub.topics[m.topic][peerID]
	m.hub.mu.Unlock()
	if !ok || dest == m {
		return fmt.Errorf("%w: %s", types.ErrPeerNotFound, peerID)
	}

	cp := append([]byte(nil), data...)
	from := m.id
	if !dest.enqueue(func() { dest.handler.Receive(from, cp) }) {
		return fmt.Errorf("%w: %s", types.ErrPeerNotFound, peerID)
	}
	return nil
}

// Close leaves the topic and stops delivery. It waits for the handler call
// in progress, so it must not be called from inside the handler.
func (m *member) Close() error {
	m.closeOnce.Do(func() {
		m.hub.leave(m)
		m.mu.Lock()
		m.closed = true
		m.box = nil
		m.mu.Unlock()
		close(m.done)
		<-m.stopped
	})
	return nil
}

func (m *member) enqueue(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.box = append(m.box, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *member) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}
		for {
			m.mu.Lock()
			if len(m.box) == 0 || m.closed {
				m.mu.Unlock()
				break
			}
			fn := m.box[0]
			m.box = m.box[1:]
			m.mu.Unlock()
			fn()
		}
	}
}
