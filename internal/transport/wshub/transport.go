package wshub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/logging"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// Transport dials a Relay. It implements types.Transport.
type Transport struct {
	// URL is the relay address, ws:// or wss://.
	URL string

	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// Join implements types.Transport. It returns once the relay has assigned
// the peer ID.
func (t *Transport) Join(ctx context.Context, topic string, h types.Handler) (types.Topic, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set(TopicParam, topic)
	u.RawQuery = q.Encode()

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	} else {
		ws.SetReadDeadline(time.Now().Add(writeWait))
	}
	var welcome frame
	if err := ws.ReadJSON(&welcome); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Kind != kindWelcome || welcome.Peer == "" {
		ws.Close()
		return nil, fmt.Errorf("unexpected %q frame from relay", welcome.Kind)
	}
	ws.SetReadDeadline(time.Time{})

	c := &clientTopic{
		id:      welcome.Peer,
		ws:      ws,
		handler: h,
		peers:   make(map[string]struct{}),
		done:    make(chan struct{}),
		logger:  logging.OrNop(t.Logger).Named("wshub").With(zap.String("peer_id", welcome.Peer)),
	}
	go c.readLoop()
	return c, nil
}

// clientTopic is the peer side of one relay connection.
type clientTopic struct {
	id      string
	ws      *websocket.Conn
	handler types.Handler
	logger  *zap.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	peers  map[string]struct{}
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

func (c *clientTopic) PeerID() string { return c.id }

// Send implements types.Topic. Only peers announced by the relay are
// addressable.
func (c *clientTopic) Send(ctx context.Context, peerID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	_, known := c.peers[peerID]
	c.mu.Unlock()
	if closed {
		return types.ErrTopicClosed
	}
	if !known {
		return fmt.Errorf("%w: %s", types.ErrPeerNotFound, peerID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteJSON(frame{Kind: kindSend, Peer: peerID, Data: data}); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close implements types.Topic.
func (c *clientTopic) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		werr := c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			c.logger.Debug("close handshake", zap.Error(werr))
		}
		err = c.ws.Close()
		<-c.done
	})
	return err
}

func (c *clientTopic) readLoop() {
	defer close(c.done)
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.closed = true
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("relay connection lost", zap.Error(err))
			}
			return
		}
		switch f.Kind {
		case kindJoin:
			c.mu.Lock()
			c.peers[f.Peer] = struct{}{}
			c.mu.Unlock()
			c.handler.PeerJoined(f.Peer)
		case kindLeave:
			c.mu.Lock()
			delete(c.peers, f.Peer)
			c.mu.Unlock()
			c.handler.PeerLeft(f.Peer)
		case kindMessage:
			c.handler.Receive(f.Peer, f.Data)
		default:
			c.logger.Debug("ignoring frame", zap.String("kind", f.Kind))
		}
	}
}
