package peer

import (
	"context"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/mention"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// handleSend answers a send relayed by a visitor.
func (e *Endpoint) handleSend(ctx context.Context, source, target string) types.Message {
	if !e.writable(ctx, target) {
		e.logger.Debug("relayed send for a store we cannot write", zap.String("target", target))
		return types.FailureMessage(source, target, types.StatusNotWritable)
	}
	return e.resolveSend(ctx, source, target)
}

// handleGet answers a get relayed by a visitor.
func (e *Endpoint) handleGet(ctx context.Context, target string) types.Message {
	if !e.writable(ctx, target) {
		e.logger.Debug("relayed get for a store we cannot write", zap.String("target", target))
		return types.FailureMessage("", target, types.StatusNotWritable)
	}
	return e.resolveGet(ctx, target)
}

// resolveSend applies the access filter and then reconciles the mention.
func (e *Endpoint) resolveSend(ctx context.Context, source, target string) types.Message {
	if !e.filter.Passes(&source, target) {
		return types.FailureMessage(source, target, types.StatusBlocked)
	}
	return e.reconcile(ctx, source, target)
}

// resolveGet applies the access filter and packages the mentions of target.
func (e *Endpoint) resolveGet(ctx context.Context, target string) types.Message {
	if !e.filter.Passes(nil, target) {
		return types.FailureMessage("", target, types.StatusBlocked)
	}
	unlock := e.registry.Lock(target)
	store := mention.Load(ctx, e.drives, target, e.logger)
	unlock()
	return types.WebmentionsMessage(target, store.Mentions(), e.filter.ServesTarget(target), types.StatusMentions)
}

// reconcile brings the mention store of target in line with what source
// currently says. Target must designate this endpoint. A source that links
// to target is added; one that no longer links is removed; one that never
// did is rejected. Runs under the registry lock of target.
func (e *Endpoint) reconcile(ctx context.Context, source, target string) types.Message {
	unlock := e.registry.Lock(target)
	defer unlock()

	log := e.logger.With(zap.String("source", source), zap.String("target", target))
	store := mention.Load(ctx, e.drives, target, e.logger)

	if !e.verifier.TargetReferencesEndpoint(ctx, target, e.cfg.Endpoint) {
		log.Debug("target does not designate this endpoint", zap.String("endpoint", e.cfg.Endpoint))
		return types.FailureMessage(source, target, types.StatusTargetInvalid)
	}

	if !e.verifier.SourceReferencesTarget(ctx, source, target) {
		if store.Exists(source) < 0 {
			log.Debug("source does not reference target")
			return types.FailureMessage(source, target, types.StatusSourceInvalid)
		}
		if err := store.Remove(ctx, source); err != nil {
			log.Error("persist mention removal", zap.Error(err))
		}
		return types.SuccessMessage(source, target, types.StatusDeleted)
	}

	if err := store.Add(ctx, source); err != nil {
		log.Error("persist mention", zap.Error(err))
	}
	return types.SuccessMessage(source, target, types.StatusAdded)
}
