package wshub

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/logging"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

const writeWait = 10 * time.Second

// Relay is the http.Handler peers connect to.
type Relay struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu     sync.Mutex
	topics map[string]map[string]*conn
	closed bool
}

// conn is one peer connection. Writes are serialized by mu.
type conn struct {
	id    string
	topic string
	ws    *websocket.Conn
	mu    sync.Mutex
}

func (c *conn) write(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

// NewRelay returns a relay. Logger may be nil.
func NewRelay(logger *zap.Logger) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are not browsers; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.OrNop(logger).Named("relay"),
		topics: make(map[string]map[string]*conn),
	}
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	topic := req.URL.Query().Get(TopicParam)
	if topic == "" {
		topic = types.DefaultTopic
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := &conn{id: uuid.NewString(), topic: topic, ws: ws}
	log := r.logger.With(zap.String("peer", c.id), zap.String("topic", topic))

	if err := c.write(frame{Kind: kindWelcome, Peer: c.id}); err != nil {
		log.Debug("welcome failed", zap.Error(err))
		ws.Close()
		return
	}

	others, ok := r.register(c)
	if !ok {
		ws.Close()
		return
	}
	for _, o := range others {
		if err := c.write(frame{Kind: kindJoin, Peer: o.id}); err != nil {
			log.Debug("announce failed", zap.Error(err))
		}
		if err := o.write(frame{Kind: kindJoin, Peer: c.id}); err != nil {
			log.Debug("announce failed", zap.String("to", o.id), zap.Error(err))
		}
	}
	log.Info("peer connected")

	defer func() {
		for _, o := range r.unregister(c) {
			if err := o.write(frame{Kind: kindLeave, Peer: c.id}); err != nil {
				log.Debug("announce failed", zap.String("to", o.id), zap.Error(err))
			}
		}
		ws.Close()
		log.Info("peer disconnected")
	}()

	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
		if f.Kind != kindSend {
			log.Debug("ignoring frame", zap.String("kind", f.Kind))
			continue
		}
		dest := r.lookup(topic, f.Peer)
		if dest == nil || dest == c {
			log.Debug("no such peer", zap.String("to", f.Peer))
			continue
		}
		if err := dest.write(frame{Kind: kindMessage, Peer: c.id, Data: f.Data}); err != nil {
			log.Debug("forward failed", zap.String("to", f.Peer), zap.Error(err))
		}
	}
}

// register adds c and returns the peers already on its topic.
func (r *Relay) register(c *conn) ([]*conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	members := r.topics[c.topic]
	if members == nil {
		members = make(map[string]*conn)
		r.topics[c.topic] = members
	}
	others := make([]*conn, 0, len(members))
	for _, o := range members {
		others = append(others, o)
	}
	members[c.id] = c
	return others, true
}

// unregister removes c and returns the peers left on its topic.
func (r *Relay) unregister(c *conn) []*conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.topics[c.topic]
	if _, ok := members[c.id]; !ok {
		return nil
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(r.topics, c.topic)
	}
	others := make([]*conn, 0, len(members))
	for _, o := range members {
		others = append(others, o)
	}
	return others
}

func (r *Relay) lookup(topic, id string) *conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topics[topic][id]
}

// Close disconnects every peer and refuses new ones.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closed = true
	var all []*conn
	for _, members := range r.topics {
		for _, c := range members {
			all = append(all, c)
		}
	}
	r.mu.Unlock()

	var err error
	for _, c := range all {
		// The peer's own handler may have closed it already.
		if cerr := c.ws.Close(); !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}
