package peer

import (
	"context"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/urlutil"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// SendMention asks for source to be recorded as mentioning target. When the
// local drive store has authority over the target the outcome is published
// before SendMention returns; otherwise the request goes out to peers and
// resolves later. The returned Operation identifies the response.
func (e *Endpoint) SendMention(ctx context.Context, req Request) (Operation, error) {
	return e.start(ctx, newOperation(KindSend, req))
}

// GetMentions asks for the mentions of target. It resolves like SendMention.
func (e *Endpoint) GetMentions(ctx context.Context, req Request) (Operation, error) {
	req.Source = ""
	return e.start(ctx, newOperation(KindGet, req))
}

func (e *Endpoint) start(ctx context.Context, op Operation) (Operation, error) {
	// A new request supersedes the waiting visitor operation. Work of older
	// requests still in flight publishes without touching pending.
	e.mu.Lock()
	closed := e.closed
	if !closed && e.pending != nil {
		e.pending.timer.Stop()
		e.pending = nil
	}
	e.mu.Unlock()
	if closed {
		return op, ErrClosed
	}

	log := e.logger.With(zap.String("op", op.ID), zap.String("kind", string(op.Kind)), zap.String("target", op.Target))

	hash, err := urlutil.OriginHash(op.Target)
	if err != nil {
		log.Debug("target not addressable", zap.Error(err))
		e.resolveLocal(op, types.FailureMessage(op.Source, op.Target, types.StatusTargetInvalid))
		return op, nil
	}

	if e.writable(ctx, op.Target) {
		log.Debug("local store has authority; resolving locally")
		var msg types.Message
		if op.Kind == KindGet {
			msg = e.resolveGet(ctx, op.Target)
		} else {
			msg = e.resolveSend(ctx, op.Source, op.Target)
		}
		e.resolveLocal(op, msg)
		return op, nil
	}

	log.Debug("no local authority; probing peers")
	e.probe(ctx, op, hash)
	return op, nil
}

// resolveLocal publishes a locally produced result.
func (e *Endpoint) resolveLocal(op Operation, msg types.Message) {
	e.publish(op, msg)
}

// probe makes op the pending visitor operation, arms its timeout and sends
// a visitor message to every known peer.
func (e *Endpoint) probe(ctx context.Context, op Operation, hash string) {
	e.mu.Lock()
	if e.pending != nil {
		e.pending.timer.Stop()
	}
	p := &pending{op: op}
	p.timer = e.clock.AfterFunc(e.cfg.Timeout, func() { e.expire(op.ID) })
	e.pending = p
	e.mu.Unlock()

	e.metrics.Probe()
	peers := e.peers.Snapshot()
	e.logger.Debug("broadcasting visitor probe",
		zap.String("op", op.ID),
		zap.Int("peers", len(peers)))
	for _, id := range peers {
		e.send(ctx, id, types.VisitorMessage(hash))
	}
}

// relay forwards the pending request to peerID if no endpoint has answered
// yet. Later endpoint replies are ignored.
func (e *Endpoint) relay(peerID string) {
	e.mu.Lock()
	p := e.pending
	if p == nil || p.peer != "" {
		e.mu.Unlock()
		e.logger.Debug("ignoring endpoint reply", zap.String("peer", peerID))
		return
	}
	p.peer = peerID
	op := p.op
	e.mu.Unlock()

	e.logger.Debug("relaying request to endpoint",
		zap.String("op", op.ID),
		zap.String("peer", peerID))
	e.send(e.ctx, peerID, op.request())
}

// accept resolves the pending operation with a terminal reply from the peer
// it was relayed to.
func (e *Endpoint) accept(peerID string, msg types.Message) {
	e.mu.Lock()
	p := e.pending
	if p == nil || p.peer != peerID || !p.op.accepts(msg) {
		e.mu.Unlock()
		e.logger.Debug("ignoring unsolicited reply",
			zap.String("peer", peerID),
			zap.String("type", string(msg.Type)))
		return
	}
	p.timer.Stop()
	e.pending = nil
	op := p.op
	e.mu.Unlock()

	e.publish(op, msg)
}

// expire fails the operation with id if it is still pending.
func (e *Endpoint) expire(id string) {
	e.mu.Lock()
	p := e.pending
	if p == nil || p.op.ID != id {
		e.mu.Unlock()
		return
	}
	e.pending = nil
	e.mu.Unlock()

	e.logger.Debug("visitor timeout",
		zap.String("op", id),
		zap.Duration("timeout", e.cfg.Timeout))
	e.publish(p.op, types.FailureMessage(p.op.Source, p.op.Target, types.StatusNoPeer))
}
