package hub

import "github.com/melq/melq/internal/frame"

// LocalClient is the hub operator's own in-process participant. It is
// marked authenticated and OPERATIONAL immediately, bypassing the
// password challenge, per the admission rule for the hub's own client.
type LocalClient struct {
	hub      *Hub
	sess     *session
	messages chan frame.MessageRecord
}

// Local lazily spawns the hub's own operator session and returns a
// handle for driving chat operations and receiving delivered messages.
func (h *Hub) Local() *LocalClient {
	if h.localClient != nil {
		return h.localClient
	}
	s := newSession(h, nil, true)
	s.nodeID = h.self.ID
	s.publicKey = h.self.KeyPair.PublicSeed
	s.authenticated = true
	s.state = stateOperational
	h.roster.add(s)
	h.local = s

	h.localClient = &LocalClient{hub: h, sess: s, messages: make(chan frame.MessageRecord, 64)}
	return h.localClient
}

// Messages streams chat message records delivered to the operator.
func (c *LocalClient) Messages() <-chan frame.MessageRecord { return c.messages }

// CreateChat, JoinChat and Send mirror the privileged operations a
// remote client would invoke over the wire, run synchronously in-process
// instead of round-tripping through a connection.
func (c *LocalClient) CreateChat(name string) {
	c.sess.onCreateChat(&frame.CreateChat{Type: frame.TypeCreateChat, Name: name})
}

func (c *LocalClient) JoinChat(chatID string) {
	c.sess.onJoinChat(&frame.JoinChat{Type: frame.TypeJoinChat, ChatID: chatID})
}

func (c *LocalClient) Send(chatID, text string, timestamp int64) {
	c.sess.onSendChatMessage(&frame.SendChatMessage{
		Type: frame.TypeSendChatMessage, ChatID: chatID,
		NodeID: string(c.sess.nodeID), Text: text, Timestamp: timestamp,
	})
}

// Chats lists every chat room known to the hub.
func (c *LocalClient) Chats() []frame.ChatSummary { return c.hub.rooms.list() }

// deliverLocal routes a message record to the operator's local client,
// bypassing sealing entirely since delivery never leaves the process.
// Any other value (such as a protocol frame addressed to the local
// session) is discarded, as is a record when the Messages buffer is full.
func (h *Hub) deliverLocal(v interface{}) {
	if h.localClient == nil {
		return
	}
	switch m := v.(type) {
	case frame.MessageRecord:
		select {
		case h.localClient.messages <- m:
		default:
		}
	}
}
