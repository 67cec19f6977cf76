// Package peer runs the webmention endpoint over a peer topic.
//
// An Endpoint resolves a request itself when the local drive store holds
// write authority over the target's host. Otherwise it acts as a visitor:
// it probes every peer with the hash of the target's origin, relays the
// request to the first peer that answers as an endpoint, and publishes that
// peer's terminal reply. A probe nobody answers fails after the configured
// timeout.
//
// The same Endpoint answers probes and relayed requests from other peers for
// the origins its whitelist serves.
package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/dispatch"
	"github.com/mesh-intelligence/peermention/internal/filter"
	"github.com/mesh-intelligence/peermention/internal/logging"
	"github.com/mesh-intelligence/peermention/internal/mention"
	"github.com/mesh-intelligence/peermention/internal/metrics"
	"github.com/mesh-intelligence/peermention/internal/urlutil"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// DefaultTimeout bounds how long a visitor waits for a terminal reply.
const DefaultTimeout = 60 * time.Second

// Errors returned by the endpoint lifecycle.
var (
	ErrClosed         = errors.New("endpoint is closed")
	ErrAlreadyStarted = errors.New("endpoint is already started")
)

// Verifier is the link checking the endpoint depends on.
type Verifier interface {
	TargetReferencesEndpoint(ctx context.Context, target, endpoint string) bool
	SourceReferencesTarget(ctx context.Context, source, target string) bool
}

// Config parameterizes an Endpoint.
type Config struct {
	// Endpoint is the URL target pages must designate as their webmention
	// endpoint for this endpoint to accept mentions of them.
	Endpoint string

	// Topic is the peer topic to join. Defaults to types.DefaultTopic.
	Topic string

	// Timeout bounds visitor mode. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Deps are the collaborators of an Endpoint. Drives, Verifier and Filter are
// required; the rest default when nil.
type Deps struct {
	Drives     types.DriveProvider
	Verifier   Verifier
	Filter     *filter.Filter
	Registry   *mention.Registry
	Dispatcher *dispatch.Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// pending is the visitor-mode operation awaiting a peer.
type pending struct {
	op    Operation
	timer *clock.Timer

	// peer is the endpoint the request was relayed to; empty until the
	// first endpoint reply.
	peer string
}

// Endpoint is the protocol state machine of one local actor.
type Endpoint struct {
	cfg        Config
	drives     types.DriveProvider
	verifier   Verifier
	filter     *filter.Filter
	registry   *mention.Registry
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
	peers      *PeerSet

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	topic   types.Topic
	pending *pending
	closed  bool
}

// New builds an Endpoint. It does not join a topic until Start.
func New(cfg Config, deps Deps) *Endpoint {
	if cfg.Topic == "" {
		cfg.Topic = types.DefaultTopic
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if deps.Registry == nil {
		deps.Registry = mention.NewRegistry()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = dispatch.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		cfg:        cfg,
		drives:     deps.Drives,
		verifier:   deps.Verifier,
		filter:     deps.Filter,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		logger:     logging.OrNop(deps.Logger).Named("peer"),
		metrics:    deps.Metrics,
		peers:      NewPeerSet(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Dispatcher returns the dispatcher terminal responses are published to.
func (e *Endpoint) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// Filter returns the access filter, so its lists can be replaced while the
// endpoint runs.
func (e *Endpoint) Filter() *filter.Filter { return e.filter }

// Peers returns the live peer set.
func (e *Endpoint) Peers() *PeerSet { return e.peers }

// Start joins the configured topic on t.
func (e *Endpoint) Start(ctx context.Context, t types.Transport) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.topic != nil {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.mu.Unlock()

	topic, err := t.Join(ctx, e.cfg.Topic, e)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.topic != nil {
		return multierr.Append(ErrClosed, topic.Close())
	}
	e.topic = topic
	e.logger.Info("joined topic",
		zap.String("topic", e.cfg.Topic),
		zap.String("peer_id", topic.PeerID()))
	return nil
}

// Close leaves the topic, stops the visitor timer and waits for relayed
// requests in progress. Idempotent.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.pending != nil {
		e.pending.timer.Stop()
		e.pending = nil
	}
	topic := e.topic
	e.topic = nil
	e.mu.Unlock()

	e.cancel()
	var err error
	if topic != nil {
		err = multierr.Append(err, topic.Close())
	}
	e.wg.Wait()
	return err
}

// PeerJoined implements types.Handler.
func (e *Endpoint) PeerJoined(peerID string) {
	if e.peers.Add(peerID) {
		e.logger.Debug("peer joined", zap.String("peer", peerID))
	}
}

// PeerLeft implements types.Handler.
func (e *Endpoint) PeerLeft(peerID string) {
	if e.peers.Remove(peerID) {
		e.logger.Debug("peer left", zap.String("peer", peerID))
	}
}

// Receive implements types.Handler. Relayed requests are verified on their
// own goroutine so the transport is never blocked on I/O.
func (e *Endpoint) Receive(peerID string, data []byte) {
	msg, err := types.DecodeMessage(data)
	if err != nil {
		e.logger.Debug("dropping message", zap.String("peer", peerID), zap.Error(err))
		return
	}
	e.metrics.Received(msg.Type)
	log := e.logger.With(zap.String("peer", peerID), zap.String("type", string(msg.Type)))

	switch msg.Type {
	case types.TypeVisitor:
		if !e.filter.ServesOriginHash(msg.Hash) {
			log.Debug("probe for an origin not served")
			return
		}
		log.Debug("probe for a served origin; answering")
		e.send(e.ctx, peerID, types.EndpointMessage())

	case types.TypeEndpoint:
		e.relay(peerID)

	case types.TypeSend, types.TypeGet:
		if !e.goAsync(func(ctx context.Context) {
			var reply types.Message
			if msg.Type == types.TypeSend {
				reply = e.handleSend(ctx, msg.Source, msg.Target)
			} else {
				reply = e.handleGet(ctx, msg.Target)
			}
			e.metrics.Outcome(reply)
			e.send(ctx, peerID, reply)
		}) {
			log.Debug("endpoint closed; dropping request")
		}

	case types.TypeSuccess, types.TypeFailure, types.TypeWebmentions:
		e.accept(peerID, msg)
	}
}

// goAsync runs fn on a tracked goroutine unless the endpoint is closed.
func (e *Endpoint) goAsync(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
	return true
}

// send encodes msg and delivers it to peerID. Failures are logged.
func (e *Endpoint) send(ctx context.Context, peerID string, msg types.Message) {
	e.mu.Lock()
	topic := e.topic
	e.mu.Unlock()
	log := e.logger.With(zap.String("peer", peerID), zap.String("type", string(msg.Type)))
	if topic == nil {
		log.Debug("not joined; dropping outgoing message")
		return
	}

	data, err := types.EncodeMessage(msg)
	if err != nil {
		log.Error("encode message", zap.Error(err))
		return
	}
	if err := topic.Send(ctx, peerID, data); err != nil {
		log.Warn("send message", zap.Error(err))
		return
	}
	e.metrics.Sent(msg.Type)
}

// publish hands a terminal message to the dispatcher.
func (e *Endpoint) publish(op Operation, msg types.Message) {
	e.metrics.Outcome(msg)
	e.logger.Info("operation resolved",
		zap.String("op", op.ID),
		zap.String("kind", string(op.Kind)),
		zap.String("result", string(msg.Type)),
		zap.String("status", msg.Status))
	e.dispatcher.Set(dispatch.Response{
		Message:     msg,
		OperationID: op.ID,
		Origin:      op.Origin,
		Done:        op.Done,
	})
}

// writable answers the authority check for target. Storage errors count as
// no authority.
func (e *Endpoint) writable(ctx context.Context, target string) bool {
	host, _, err := urlutil.HostPath(target)
	if err != nil {
		return false
	}
	ok, err := e.drives.Writable(ctx, host)
	if err != nil {
		e.logger.Warn("authority check", zap.String("host", host), zap.Error(err))
		return false
	}
	return ok
}
