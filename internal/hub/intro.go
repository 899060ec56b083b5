package hub

import (
	"sync"

	"github.com/melq/melq/internal/identity"
)

// introSet records unordered (A, B) pairs the hub has introduced; a pair
// stays marked for the hub's lifetime once started. It is kept
// deliberately separate from any node's own
// pairwise-key table. The hub is not a party to the secret those two
// peers will derive; conflating "I started an introduction for this
// pair" with "I hold a pairwise secret for this id" was the bug the
// design notes call out, so this lives as its own small set.
type introSet struct {
	mu      sync.Mutex
	pending map[string]bool
}

func newIntroSet() *introSet {
	return &introSet{pending: make(map[string]bool)}
}

func pairKey(a, b identity.NodeID) string {
	if a > b {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}

// start marks the pair introduced, returning false if an introduction
// for this pair was already started at any earlier point.
func (s *introSet) start(a, b identity.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(a, b)
	if s.pending[k] {
		return false
	}
	s.pending[k] = true
	return true
}
