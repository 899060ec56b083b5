// Package identity generates the ephemeral per-process node identity and
// long-term (session-lifetime) KEM keypair. Nothing here is persisted:
// every node picks a fresh identifier and keypair at startup, mirroring
// the protocol's "identity is ephemeral" invariant.
package identity

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/melq/melq/internal/kem"
)

// idEntropyBytes is the raw entropy backing a node identifier before
// base58 rendering; the spec requires at least 8 bytes.
const idEntropyBytes = 12

// NodeID is a short, printable, random identifier generated once per
// node lifetime.
type NodeID string

// Alias returns the last n characters of the identifier, used as the
// short display alias attached to chat messages.
func (id NodeID) Alias(n int) string {
	s := string(id)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func newNodeID() (NodeID, error) {
	buf := make([]byte, idEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate node id: %w", err)
	}
	return NodeID(base58.Encode(buf)), nil
}

// Identity bundles everything a node needs about itself: its ephemeral
// identifier and its KEM keypair.
type Identity struct {
	ID      NodeID
	KeyPair kem.KeyPair
}

// New generates a fresh node identity: a random identifier and a fresh
// KEM keypair. Called exactly once at process startup.
func New() (*Identity, error) {
	id, err := newNodeID()
	if err != nil {
		return nil, err
	}
	kp, err := kem.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Identity{ID: id, KeyPair: kp}, nil
}
