// Package verify decides whether a target page designates an endpoint as its
// webmention receiver and whether a source page references a target.
//
// Resources are obtained through an ordered list of retrievers. The first
// retriever that produces a resource decides the outcome; if every retriever
// fails the answer is false.
package verify

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/logging"
	"github.com/mesh-intelligence/peermention/internal/metrics"
	"github.com/mesh-intelligence/peermention/internal/urlutil"
)

// MetadataEndpointKey is the drive metadata field naming a page's webmention
// endpoint.
const MetadataEndpointKey = "webmention"

// Verifier runs the link checks.
type Verifier struct {
	retrievers []Retriever
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New returns a Verifier trying retrievers in order. Logger and metrics may
// be nil.
func New(logger *zap.Logger, m *metrics.Metrics, retrievers ...Retriever) *Verifier {
	return &Verifier{
		retrievers: retrievers,
		logger:     logging.OrNop(logger).Named("verify"),
		metrics:    m,
	}
}

// retrieve returns the resource from the first retriever that yields one, or
// nil.
func (v *Verifier) retrieve(ctx context.Context, rawURL string) *Resource {
	for _, r := range v.retrievers {
		res, err := r.Retrieve(ctx, rawURL)
		if err != nil {
			v.metrics.Retrieval(r.Name(), "miss")
			v.logger.Debug("retrieval failed",
				zap.String("strategy", r.Name()),
				zap.String("url", rawURL),
				zap.Error(err))
			continue
		}
		v.metrics.Retrieval(r.Name(), "hit")
		return res
	}
	return nil
}

// TargetReferencesEndpoint reports whether target designates endpoint as its
// webmention endpoint, through drive metadata, an HTTP Link header, or an
// HTML element with rel="webmention". Relative references resolve against
// target. When the response carries webmention Link entries, they alone
// decide.
func (v *Verifier) TargetReferencesEndpoint(ctx context.Context, target, endpoint string) bool {
	if target == "" || endpoint == "" {
		return false
	}
	res := v.retrieve(ctx, target)
	if res == nil {
		return false
	}
	log := v.logger.With(
		zap.String("strategy", res.Strategy),
		zap.String("target", target),
		zap.String("endpoint", endpoint))

	if ref := res.Metadata[MetadataEndpointKey]; ref != "" {
		if urlutil.Absolute(target, ref) == endpoint {
			log.Debug("endpoint found in metadata")
			return true
		}
	}

	if links := webmentionLinks(res.Header); len(links) > 0 {
		for _, ref := range links {
			if urlutil.Absolute(target, ref) == endpoint {
				log.Debug("endpoint found in link header")
				return true
			}
		}
		log.Debug("link header names another endpoint")
		return false
	}

	if res.IsHTML() {
		for _, ref := range webmentionHrefs(res.Body) {
			if urlutil.Absolute(target, ref) == endpoint {
				log.Debug("endpoint found in html")
				return true
			}
		}
	}
	log.Debug("endpoint not referenced")
	return false
}

// SourceReferencesTarget reports whether source mentions target: in its
// drive metadata, as an exact href or src attribute when source is HTML, or
// anywhere in its raw content.
func (v *Verifier) SourceReferencesTarget(ctx context.Context, source, target string) bool {
	if source == "" || target == "" {
		return false
	}
	res := v.retrieve(ctx, source)
	if res == nil {
		return false
	}
	log := v.logger.With(
		zap.String("strategy", res.Strategy),
		zap.String("source", source),
		zap.String("target", target))

	for k, val := range res.Metadata {
		if strings.Contains(k, target) || strings.Contains(val, target) {
			log.Debug("target found in metadata")
			return true
		}
	}
	if res.IsHTML() && referencesURL(res.Body, target) {
		log.Debug("target found in html")
		return true
	}
	if bytes.Contains(res.Body, []byte(target)) {
		log.Debug("target found in content")
		return true
	}
	log.Debug("target not referenced")
	return false
}
