package peer

import (
	"sort"
	"sync"
)

// PeerSet tracks the peers present on the topic.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]struct{}
}

// NewPeerSet returns an empty set.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]struct{})}
}

// Add records peerID. It reports whether the peer was new.
func (s *PeerSet) Add(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[peerID]; ok {
		return false
	}
	s.peers[peerID] = struct{}{}
	return true
}

// Remove forgets peerID. It reports whether the peer was present.
func (s *PeerSet) Remove(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[peerID]; !ok {
		return false
	}
	delete(s.peers, peerID)
	return true
}

// Has reports whether peerID is present.
func (s *PeerSet) Has(peerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.peers[peerID]
	return ok
}

// Len returns the number of peers.
func (s *PeerSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Snapshot returns the current peers in sorted order. Later changes to the
// set do not affect the returned slice.
func (s *PeerSet) Snapshot() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
