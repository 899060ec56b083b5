package hub

import (
	"sync"

	"github.com/melq/melq/internal/frame"
	"github.com/melq/melq/internal/identity"
)

// roster tracks every OPERATIONAL connection by node identifier. Per the
// design notes, this is a dense insertion-ordered slice of identifiers
// plus a map to the owning session, rather than leaning on map
// iteration order (which Go deliberately randomizes).
type roster struct {
	mu      sync.RWMutex
	order   []identity.NodeID
	byNode  map[identity.NodeID]*session
}

func newRoster() *roster {
	return &roster{byNode: make(map[identity.NodeID]*session)}
}

func (r *roster) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byNode[s.nodeID]; ok {
		return
	}
	r.order = append(r.order, s.nodeID)
	r.byNode[s.nodeID] = s
}

func (r *roster) remove(id identity.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byNode[id]; !ok {
		return
	}
	delete(r.byNode, id)
	for i, nid := range r.order {
		if nid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *roster) get(id identity.NodeID) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byNode[id]
	return s, ok
}

func (r *roster) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// snapshot returns every operational session in roster order, optionally
// excluding one node identifier.
func (r *roster) snapshot(exclude identity.NodeID) []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session, 0, len(r.order))
	for _, nid := range r.order {
		if nid == exclude {
			continue
		}
		out = append(out, r.byNode[nid])
	}
	return out
}

// descriptors renders the roster (minus exclude) as NodeDescriptors for
// a discover_nodes reply.
func (r *roster) descriptors(exclude identity.NodeID) []frame.NodeDescriptor {
	sessions := r.snapshot(exclude)
	out := make([]frame.NodeDescriptor, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, frame.NodeDescriptor{
			NodeID:    string(s.nodeID),
			PublicKey: s.publicKey,
			Address:   s.address,
		})
	}
	return out
}
