package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/melq/melq/internal/frame"
	"github.com/melq/melq/internal/identity"
	"github.com/melq/melq/internal/transport"
)

var errEnvelopeNoKey = errors.New("hub: no pairwise key for sealed envelope")

type connState int

const (
	stateConnected connState = iota
	stateAwaitingAuth
	stateAuthenticated
	stateOperational
	stateClosing
	stateTerminal
)

// session is one connection's admission-state-machine record, per
// §3's "connected-node record": peer identifier, peer public key,
// advertised return address, the connection handle, authenticated
// flag, and join timestamp.
type session struct {
	id            string
	hub           *Hub
	conn          *transport.Conn
	local         bool
	state         connState
	nodeID        identity.NodeID
	publicKey     []byte
	address       string
	authenticated bool
	joinedAt      time.Time

	mu     sync.Mutex
	closed bool
	out    chan frame.Message
}

func newSession(h *Hub, conn *transport.Conn, local bool) *session {
	return &session{
		id:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		local: local,
		state: stateConnected,
		out:   make(chan frame.Message, 32),
	}
}

// enqueue hands a frame to the session's single writer goroutine,
// keeping writes single-threaded per connection the way the teacher's
// hub/client pair used one send channel per client.
func (s *session) enqueue(msg frame.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.out <- msg:
	default:
		// Slow consumer: drop rather than block the fan-out path and
		// stall every other session behind one laggard.
		s.hub.logger.Warn("dropping frame for slow session", zap.String("session", s.id))
	}
	return nil
}

func (s *session) writePump() {
	for msg := range s.out {
		if err := s.conn.WriteFrame(msg); err != nil {
			return
		}
	}
}

func (s *session) closeNormally() {
	if s.local {
		return
	}
	_ = s.conn.Close()
}

func (s *session) teardown() {
	if s.nodeID != "" {
		s.hub.roster.remove(s.nodeID)
		s.hub.keys.Delete(string(s.nodeID))
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()
}

// handleInbound classifies and unwraps msg, then dispatches it through
// the admission state machine or, once OPERATIONAL, to privileged-frame
// handling.
func (s *session) handleInbound(msg frame.Message) {
	if sm, ok := msg.(*frame.SecureMessage); ok {
		inner, err := s.openEnvelope(sm)
		if err != nil {
			s.hub.logger.Debug("dropping undecryptable frame", zap.Error(err))
			return
		}
		msg = inner
	}

	switch m := msg.(type) {
	case *frame.Unknown:
		s.hub.logger.Debug("dropping frame of unrecognized type", zap.String("type", string(m.RawType)))
		return
	case *frame.PasswordChallenge:
		s.onPasswordChallenge()
	case *frame.PasswordAttempt:
		s.onPasswordAttempt(m)
	case *frame.Register:
		s.onRegister(m)
	case *frame.Ping:
		_ = s.hub.sendTo(s, frame.NewPong())
	case *frame.KeyExchangeRequest:
		s.onKeyExchangeRequest(m)
	case *frame.KeyExchangeResponse:
		// Acknowledgement only; the hub relays it verbatim like a request.
		s.relayToTarget(m.ToNodeID, m)
	case *frame.DiscoverNodes:
		s.requirePrivileged(func() { s.onDiscoverNodes() })
	case *frame.GetChats:
		s.requirePrivileged(func() { s.onGetChats() })
	case *frame.CreateChat:
		s.requirePrivileged(func() { s.onCreateChat(m) })
	case *frame.JoinChat:
		s.requirePrivileged(func() { s.onJoinChat(m) })
	case *frame.SendChatMessage:
		s.requirePrivileged(func() { s.onSendChatMessage(m) })
	default:
		s.hub.logger.Debug("dropping frame with no handler", zap.String("type", string(msg.FrameType())))
	}
}

func (s *session) openEnvelope(sm *frame.SecureMessage) (frame.Message, error) {
	key, ok := s.hub.keys.Get(string(s.nodeID))
	if !ok {
		return nil, errEnvelopeNoKey
	}
	return frame.Open(sm, key)
}

// requirePrivileged runs fn only if the session is OPERATIONAL, per the
// admission table's "any privileged frame while not OPERATIONAL" rule;
// otherwise it replies access_denied and drops the frame.
func (s *session) requirePrivileged(fn func()) {
	if s.state != stateOperational {
		_ = s.hub.sendTo(s, frame.NewAccessDenied("not operational"))
		return
	}
	fn()
}

func (s *session) onPasswordChallenge() {
	if s.state != stateConnected {
		return
	}
	if s.hub.password == "" {
		_ = s.hub.sendTo(s, frame.NewPasswordNotRequired())
	} else {
		_ = s.hub.sendTo(s, frame.NewPasswordRequired(s.hub.self.KeyPair.PublicSeed))
	}
	s.state = stateAwaitingAuth
}

func (s *session) onPasswordAttempt(m *frame.PasswordAttempt) {
	if s.state != stateAwaitingAuth {
		return
	}
	ok, err := s.hub.checkPassword(m)
	if err != nil {
		s.hub.logger.Debug("password attempt decrypt failed", zap.Error(err))
		ok = false
	}
	if !ok {
		_ = s.hub.sendTo(s, frame.NewPasswordRejected("incorrect password"))
		s.state = stateClosing
		go func() {
			time.Sleep(1 * time.Second)
			s.closeNormally()
		}()
		return
	}
	s.authenticated = true
	_ = s.hub.sendTo(s, frame.NewPasswordAccepted())
	s.state = stateAuthenticated
}

func (s *session) onRegister(m *frame.Register) {
	switch s.state {
	case stateConnected, stateAwaitingAuth:
		if !(m.Authenticated && s.hub.password == "") {
			_ = s.hub.sendTo(s, frame.NewAccessDenied("registration requires authentication"))
			return
		}
	case stateAuthenticated:
		// falls through to registration below
	default:
		_ = s.hub.sendTo(s, frame.NewAccessDenied("unexpected register"))
		return
	}

	s.nodeID = identity.NodeID(m.NodeID)
	s.publicKey = m.PublicKey
	s.authenticated = true
	s.joinedAt = time.Now()

	ciphertext, err := s.hub.registerNode(s.nodeID, m.PublicKey)
	if err != nil {
		s.hub.logger.Debug("register key establishment failed", zap.Error(err))
		_ = s.hub.sendTo(s, frame.NewAccessDenied("malformed public key"))
		return
	}

	s.hub.roster.add(s)
	s.state = stateOperational
	_ = s.hub.sendTo(s, frame.NewRegistered(m.NodeID, string(s.hub.self.ID), s.hub.self.KeyPair.PublicSeed, ciphertext))
}

func (s *session) onKeyExchangeRequest(m *frame.KeyExchangeRequest) {
	s.relayToTarget(m.ToNodeID, m)
}

func (s *session) relayToTarget(toNodeID string, msg frame.Message) {
	target, ok := s.hub.roster.get(identity.NodeID(toNodeID))
	if !ok {
		return
	}
	// Key-exchange frames are relayed verbatim, unsealed; the hub is
	// never a party to the secret the two ends derive.
	_ = target.enqueue(msg)
}

func (s *session) onDiscoverNodes() {
	_ = s.hub.sendTo(s, frame.NewNodeList(s.hub.roster.descriptors(s.nodeID)))
}

func (s *session) onGetChats() {
	_ = s.hub.sendTo(s, frame.NewChatList(s.hub.rooms.list()))
}

func (s *session) onCreateChat(m *frame.CreateChat) {
	r := s.hub.rooms.create(m.Name, s.nodeID)
	_ = s.hub.sendTo(s, &frame.ChatCreated{Type: frame.TypeChatCreated, ChatID: r.ID, Name: r.Name})

	avail := &frame.ChatAvailable{Type: frame.TypeChatAvailable, ChatID: r.ID, Name: r.Name, CreatorNodeID: string(s.nodeID)}
	for _, other := range s.hub.roster.snapshot(s.nodeID) {
		_ = s.hub.sendTo(other, avail)
	}
}

func (s *session) onJoinChat(m *frame.JoinChat) {
	var history []frame.MessageRecord
	var newParticipant bool
	err := s.hub.rooms.withRoom(m.ChatID, func(r *room) error {
		newParticipant = r.addParticipant(s.nodeID)
		history = append(history, r.history...)
		return nil
	})
	if err != nil {
		_ = s.hub.sendTo(s, frame.NewAccessDenied("no such chat"))
		return
	}

	_ = s.hub.sendTo(s, frame.NewChatHistory(m.ChatID, history))

	if !newParticipant {
		return
	}

	joined := &frame.UserJoined{Type: frame.TypeUserJoined, ChatID: m.ChatID, NodeID: string(s.nodeID)}
	var recipients []identity.NodeID
	_ = s.hub.rooms.withRoom(m.ChatID, func(r *room) error {
		recipients = r.participantsExcluding(s.nodeID)
		return nil
	})
	for _, pid := range recipients {
		other, ok := s.hub.roster.get(pid)
		if !ok {
			continue
		}
		_ = s.hub.sendTo(other, joined)
		s.hub.ensureIntroduced(s, other)
	}
}

func (s *session) onSendChatMessage(m *frame.SendChatMessage) {
	record := frame.MessageRecord{
		ChatID:      m.ChatID,
		NodeID:      string(s.nodeID),
		SenderAlias: s.nodeID.Alias(8),
		Text:        m.Text,
		Timestamp:   m.Timestamp,
	}

	var recipients []identity.NodeID
	err := s.hub.rooms.withRoom(m.ChatID, func(r *room) error {
		r.history = append(r.history, record)
		recipients = r.participantsExcluding(s.nodeID)
		return nil
	})
	if err != nil {
		_ = s.hub.sendTo(s, frame.NewAccessDenied("no such chat"))
		return
	}

	// Sealing is independent per recipient, so fan it out across a worker
	// group rather than paying each recipient's AEAD cost serially.
	var g errgroup.Group
	for _, pid := range recipients {
		pid := pid
		recipient, ok := s.hub.roster.get(pid)
		if !ok {
			continue
		}
		s.hub.ensureIntroduced(s, recipient)

		g.Go(func() error {
			key, ok := s.hub.keys.Get(string(pid))
			if !ok {
				return nil
			}
			em, err := frame.SealPayload(frame.EncryptedMessagePayload{
				ChatID:      m.ChatID,
				FromNodeID:  string(s.nodeID),
				Text:        m.Text,
				Timestamp:   m.Timestamp,
				SenderAlias: record.SenderAlias,
			}, key)
			if err != nil {
				s.hub.logger.Debug("seal message payload failed", zap.Error(err))
				return nil
			}
			return recipient.enqueue(em)
		})
	}
	_ = g.Wait()

	if s.hub.local != nil && s.hub.local.nodeID != s.nodeID {
		s.hub.deliverLocal(record)
	}
}
