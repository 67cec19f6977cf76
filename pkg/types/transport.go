package types

import (
	"context"
	"errors"
)

// DefaultTopic is the shared topic name peers join to exchange messages.
const DefaultTopic = "webmention"

// Handler receives transport events for a joined topic. Implementations must
// not block for long; the transport may deliver events from a single
// goroutine.
type Handler interface {
	PeerJoined(peerID string)
	PeerLeft(peerID string)
	Receive(peerID string, data []byte)
}

// Transport joins named topics.
type Transport interface {
	// Join registers h on topic and returns the joined Topic. Peers already
	// present are announced to h through PeerJoined.
	Join(ctx context.Context, topic string, h Handler) (Topic, error)
}

// Topic is a joined topic on which the local peer can send datagrams.
type Topic interface {
	// PeerID returns the local peer identifier on this topic.
	PeerID() string

	// Send delivers data to a single peer.
	// Returns ErrPeerNotFound if the peer is not on the topic.
	Send(ctx context.Context, peerID string, data []byte) error

	// Close leaves the topic. Idempotent.
	Close() error
}

// Transport errors.
var (
	ErrPeerNotFound = errors.New("peer not found on topic")
	ErrTopicClosed  = errors.New("topic is closed")
)
