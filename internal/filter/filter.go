// Package filter applies the block and allow lists to mention requests.
//
// Blacklist patterns are matched against the source and any hit rejects the
// request. Whitelist patterns are matched against the target and at least one
// must hit. Patterns are unanchored regular expressions, so a pattern matches
// if it occurs anywhere in the URL. A list holding only "" places no
// restriction.
package filter

import (
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/logging"
	"github.com/mesh-intelligence/peermention/internal/urlutil"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// DefaultCacheSize bounds the compiled pattern cache.
const DefaultCacheSize = 256

// compiled is a cache entry; a nil re records a pattern that failed to
// compile.
type compiled struct {
	re *regexp.Regexp
}

// Filter holds the current lists. It is safe for concurrent use.
type Filter struct {
	mu     sync.RWMutex
	lists  types.Lists
	cache  *lru.Cache[string, compiled]
	logger *zap.Logger
}

// New returns a Filter over lists. Logger may be nil.
func New(lists types.Lists, logger *zap.Logger) *Filter {
	cache, err := lru.New[string, compiled](DefaultCacheSize)
	if err != nil {
		// lru.New fails only for a non-positive size.
		panic(err)
	}
	return &Filter{
		lists:  lists.Normalize(),
		cache:  cache,
		logger: logging.OrNop(logger).Named("filter"),
	}
}

// Lists returns a copy of the current lists.
func (f *Filter) Lists() types.Lists {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lists.Normalize()
}

// SetLists replaces the current lists.
func (f *Filter) SetLists(lists types.Lists) {
	f.mu.Lock()
	f.lists = lists.Normalize()
	f.mu.Unlock()
}

// Passes reports whether a request may proceed. A nil source skips the
// blacklist. An invalid pattern fails closed: it counts as a blacklist hit
// and as a whitelist miss.
func (f *Filter) Passes(source *string, target string) bool {
	lists := f.Lists()

	if source != nil && !lists.BlacklistUnset() {
		for _, pattern := range lists.Blacklist {
			hit, ok := f.match(pattern, *source)
			if hit || !ok {
				f.logger.Debug("source blocked",
					zap.String("source", *source),
					zap.String("pattern", pattern),
					zap.Bool("invalid", !ok))
				return false
			}
		}
	}

	if lists.WhitelistUnset() {
		return true
	}
	for _, pattern := range lists.Whitelist {
		if hit, ok := f.match(pattern, target); ok && hit {
			return true
		}
	}
	f.logger.Debug("target not whitelisted", zap.String("target", target))
	return false
}

// ServesOriginHash reports whether hash equals the origin hash of a
// whitelisted origin. Only whitelist entries that parse as absolute URLs take
// part; an unset whitelist serves nothing.
func (f *Filter) ServesOriginHash(hash string) bool {
	if hash == "" {
		return false
	}
	lists := f.Lists()
	if lists.WhitelistUnset() {
		return false
	}
	for _, entry := range lists.Whitelist {
		h, err := urlutil.OriginHash(entry)
		if err != nil {
			continue
		}
		if h == hash {
			return true
		}
	}
	return false
}

// ServesTarget reports whether this endpoint would answer a visitor probe for
// target's origin.
func (f *Filter) ServesTarget(target string) bool {
	h, err := urlutil.OriginHash(target)
	if err != nil {
		return false
	}
	return f.ServesOriginHash(h)
}

// match tests pattern against s. ok is false when pattern does not compile.
// Outside the unset sentinel the empty pattern matches everything.
func (f *Filter) match(pattern, s string) (hit, ok bool) {
	c, cached := f.cache.Get(pattern)
	if !cached {
		re, err := regexp.Compile(pattern)
		if err != nil {
			f.logger.Warn("invalid list pattern", zap.String("pattern", pattern), zap.Error(err))
		}
		c = compiled{re: re}
		f.cache.Add(pattern, c)
	}
	if c.re == nil {
		return false, false
	}
	return c.re.MatchString(s), true
}
