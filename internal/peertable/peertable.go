// Package peertable implements the per-node table mapping a remote node
// identifier to a pairwise shared secret, per the design notes: a
// concrete tri-state value (Absent / Pending / Established) rather than
// a bare map-or-sentinel, so callers can't accidentally treat "pending"
// bytes as a usable key.
package peertable

import "sync"

// State is the lifecycle of one pairwise-key table entry.
type State int

const (
	Absent State = iota
	Pending
	Established
)

// Entry is one row of the table: a state and, once Established, the
// 32-byte pairwise secret.
type Entry struct {
	State  State
	Secret [32]byte
}

// Table is a concurrency-safe map from a remote node identifier (as a
// string — callers pass whatever identity.NodeID they use) to its
// pairwise key state. Mutated only by the owning node's own task, per
// the shared-resource policy, but guarded by a mutex anyway since a
// node's send and receive paths both touch it concurrently.
type Table struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// New creates an empty table.
func New() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Has reports whether an entry (pending or established) exists for id.
func (t *Table) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Get returns the established secret for id, or ok=false if the entry is
// absent or still pending — "not yet usable" in either case.
func (t *Table) Get(id string) (secret [32]byte, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, present := t.entries[id]
	if !present || e.State != Established {
		return [32]byte{}, false
	}
	return e.Secret, true
}

// MarkPending inserts the pending sentinel for id if no entry exists
// yet. Returns true if this call was the one that claimed it (the
// caller should proceed to initiate the exchange); false if an entry
// (pending or established) was already there (the caller should not
// initiate a duplicate exchange). Idempotent: calling it again on an
// already-pending id is a no-op that returns false.
func (t *Table) MarkPending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return false
	}
	t.entries[id] = Entry{State: Pending}
	return true
}

// Put records an established secret for id, transitioning Absent or
// Pending to Established. Once Established, the entry is immutable: a
// second Put for the same id with a different secret panics, since that
// would violate the "once non-pending, immutable for the session"
// invariant and indicates a protocol-level bug rather than a condition
// a conforming peer can trigger.
func (t *Table) Put(id string, secret [32]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok && e.State == Established {
		if e.Secret != secret {
			panic("peertable: established secret changed for " + id)
		}
		return
	}
	t.entries[id] = Entry{State: Established, Secret: secret}
}

// Delete removes the entry for id, releasing it.
func (t *Table) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}
