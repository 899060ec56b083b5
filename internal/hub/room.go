package hub

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/melq/melq/internal/frame"
	"github.com/melq/melq/internal/identity"
)

// room is a chat room: an opaque identifier, a display name, the
// ordered participant list (set semantics, insertion order retained),
// and the append-only message history. Hub-owned and mutated only by
// create_chat / join_chat / send_chat_message handling.
type room struct {
	ID           string
	Name         string
	Creator      identity.NodeID
	CreatedAt    time.Time
	participants []identity.NodeID
	inRoom       map[identity.NodeID]bool
	history      []frame.MessageRecord
}

func newRoom(id, name string, creator identity.NodeID) *room {
	r := &room{
		ID:        id,
		Name:      name,
		Creator:   creator,
		CreatedAt: time.Now(),
		inRoom:    make(map[identity.NodeID]bool),
	}
	r.addParticipant(creator)
	return r
}

func (r *room) addParticipant(id identity.NodeID) bool {
	if r.inRoom[id] {
		return false
	}
	r.inRoom[id] = true
	r.participants = append(r.participants, id)
	return true
}

func (r *room) has(id identity.NodeID) bool { return r.inRoom[id] }

func (r *room) participantsExcluding(exclude identity.NodeID) []identity.NodeID {
	out := make([]identity.NodeID, 0, len(r.participants))
	for _, p := range r.participants {
		if p != exclude {
			out = append(out, p)
		}
	}
	return out
}

func (r *room) summary() frame.ChatSummary {
	names := make([]string, len(r.participants))
	for i, p := range r.participants {
		names[i] = string(p)
	}
	return frame.ChatSummary{ChatID: r.ID, Name: r.Name, Participants: names}
}

// newChatID renders "chat_<timestamp_ms>_<random9>" per the chat
// identifier grammar.
func newChatID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	suffix := base58.Encode(buf)
	if len(suffix) > 9 {
		suffix = suffix[:9]
	}
	for len(suffix) < 9 {
		suffix += "0"
	}
	return fmt.Sprintf("chat_%d_%s", time.Now().UnixMilli(), suffix)
}

// roomTable owns every chat room for the hub's lifetime; rooms are
// created but never destroyed short of process exit, per the
// "persists for the hub process lifetime" lifecycle rule.
type roomTable struct {
	mu        sync.Mutex
	rooms     map[string]*room
	roomOrder []string
}

func newRoomTable() *roomTable {
	return &roomTable{rooms: make(map[string]*room)}
}

func (rt *roomTable) create(name string, creator identity.NodeID) *room {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r := newRoom(newChatID(), name, creator)
	rt.rooms[r.ID] = r
	rt.roomOrder = append(rt.roomOrder, r.ID)
	return r
}

func (rt *roomTable) get(id string) (*room, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.rooms[id]
	return r, ok
}

// withRoom runs fn while holding the table lock, so room mutation (join,
// append-history) is serialized against concurrent create/join from
// other connections.
func (rt *roomTable) withRoom(id string, fn func(r *room) error) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.rooms[id]
	if !ok {
		return fmt.Errorf("no such chat: %s", id)
	}
	return fn(r)
}

func (rt *roomTable) list() []frame.ChatSummary {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]frame.ChatSummary, 0, len(rt.roomOrder))
	for _, id := range rt.roomOrder {
		out = append(out, rt.rooms[id].summary())
	}
	return out
}
