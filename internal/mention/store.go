// Package mention keeps the list of sources that mention a target. Each
// target's list lives as a JSON array in the target host's own drive and is
// rewritten in full after every change.
package mention

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/logging"
	"github.com/mesh-intelligence/peermention/internal/urlutil"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// Store is the loaded mention list of one target. It is not safe for
// concurrent use; callers serialize through a Registry.
type Store struct {
	target   string
	host     string
	path     string
	drives   types.DriveProvider
	mentions []string
	logger   *zap.Logger
}

// Load reads the mention list of target. A missing, unreadable or malformed
// file yields an empty list; Load never fails.
func Load(ctx context.Context, drives types.DriveProvider, target string, logger *zap.Logger) *Store {
	s := &Store{
		target:   target,
		drives:   drives,
		mentions: []string{},
		logger:   logging.OrNop(logger).Named("mention").With(zap.String("target", target)),
	}

	host, _, err := urlutil.HostPath(target)
	if err != nil {
		s.logger.Debug("target not addressable", zap.Error(err))
		return s
	}
	p, err := urlutil.MentionPath(target)
	if err != nil {
		s.logger.Debug("target not addressable", zap.Error(err))
		return s
	}
	s.host, s.path = host, p

	if drives == nil {
		return s
	}
	d, err := drives.Drive(ctx, host)
	if err != nil {
		s.logger.Debug("no drive for target", zap.Error(err))
		return s
	}
	data, err := d.ReadFile(ctx, p)
	if err != nil {
		s.logger.Debug("no mention file", zap.String("path", p), zap.Error(err))
		return s
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn("malformed mention file", zap.String("path", p), zap.Error(err))
		return s
	}
	if list != nil {
		s.mentions = list
	}
	return s
}

// Target returns the target URL the store belongs to.
func (s *Store) Target() string { return s.target }

// Path returns the drive path of the backing file, or "" when the target is
// not addressable.
func (s *Store) Path() string { return s.path }

// Exists returns the index of source in the list, or -1.
func (s *Store) Exists(source string) int {
	for i, m := range s.mentions {
		if m == source {
			return i
		}
	}
	return -1
}

// Mentions returns a copy of the list in insertion order.
func (s *Store) Mentions() []string {
	out := make([]string, len(s.mentions))
	copy(out, s.mentions)
	return out
}

// Len returns the number of mentions.
func (s *Store) Len() int { return len(s.mentions) }

// Add appends source unless present and persists the list. Adding a present
// source writes nothing. A failed write is returned but the in-memory list
// keeps the new entry.
func (s *Store) Add(ctx context.Context, source string) error {
	if s.Exists(source) >= 0 {
		return nil
	}
	s.mentions = append(s.mentions, source)
	return s.persist(ctx)
}

// Remove deletes source if present and persists the list. Removing an absent
// source writes nothing.
func (s *Store) Remove(ctx context.Context, source string) error {
	i := s.Exists(source)
	if i < 0 {
		return nil
	}
	s.mentions = append(s.mentions[:i], s.mentions[i+1:]...)
	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("persist mentions of %q: target not addressable", s.target)
	}
	if s.drives == nil {
		return fmt.Errorf("persist mentions of %q: %w", s.target, types.ErrDriveNotFound)
	}
	d, err := s.drives.Drive(ctx, s.host)
	if err != nil {
		return fmt.Errorf("persist mentions of %q: %w", s.target, err)
	}
	data, err := json.Marshal(s.mentions)
	if err != nil {
		return fmt.Errorf("encode mentions: %w", err)
	}
	if err := d.WriteFile(ctx, s.path, data, nil); err != nil {
		return fmt.Errorf("persist mentions of %q: %w", s.target, err)
	}
	s.logger.Debug("mentions written", zap.String("path", s.path), zap.Int("count", len(s.mentions)))
	return nil
}
