// Package wshub carries the peer topic over WebSockets. A Relay accepts peer
// connections and forwards directed datagrams between peers of the same
// topic; a Transport is the peer side.
//
// Every WebSocket message is one JSON frame. The relay opens a connection
// with a welcome frame naming the new peer, then announces joins and leaves.
// Peers send "send" frames addressed to a peer and receive "message" frames
// naming the sender.
package wshub

// Frame kinds.
const (
	kindWelcome = "welcome"
	kindJoin    = "join"
	kindLeave   = "leave"
	kindSend    = "send"
	kindMessage = "message"
)

// TopicParam is the query parameter selecting the topic to join.
const TopicParam = "topic"

type frame struct {
	Kind string `json:"kind"`

	// Peer is the subject of welcome, join and leave frames, the recipient
	// of send frames and the sender of message frames.
	Peer string `json:"peer,omitempty"`

	Data []byte `json:"data,omitempty"`
}
