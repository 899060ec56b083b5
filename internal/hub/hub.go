// Package hub implements the session manager: admission of incoming
// connections through the password/registration state machine, the
// roster of operational nodes, chat room creation/join/history, message
// fan-out with lazy key introductions, and teardown. It is the server
// side of the wire protocol; internal/client is the mirrored other half.
package hub

import (
	"context"
	"crypto/subtle"

	"go.uber.org/zap"

	"github.com/melq/melq/internal/aead"
	"github.com/melq/melq/internal/errs"
	"github.com/melq/melq/internal/frame"
	"github.com/melq/melq/internal/identity"
	"github.com/melq/melq/internal/kem"
	"github.com/melq/melq/internal/peertable"
	"github.com/melq/melq/internal/transport"
)

// Config carries the hub's startup parameters. The listening port is
// supplied separately to Listen, since tests want an ephemeral port
// that Config's caller never has to know about.
type Config struct {
	Password string // empty means no password required
}

// Hub owns every connected session, the roster, the chat rooms, and the
// hub's own pairwise-key table (one entry per registered node).
type Hub struct {
	self     *identity.Identity
	password string
	logger   *zap.Logger

	roster *roster
	rooms  *roomTable
	keys   *peertable.Table
	intros *introSet

	local       *session     // the operator's own in-process client, nil until Local() is called
	localClient *LocalClient

	srv *transport.Server
}

// New constructs a Hub around a freshly generated identity.
func New(self *identity.Identity, cfg Config, logger *zap.Logger) *Hub {
	h := &Hub{
		self:     self,
		password: cfg.Password,
		logger:   logger,
		roster:   newRoster(),
		rooms:    newRoomTable(),
		keys:     peertable.New(),
		intros:   newIntroSet(),
	}
	h.srv = transport.NewServer(h.accept, h.health)
	return h
}

// Listen binds the hub's listening socket, probing successive ports on
// contention, and returns the port actually bound.
func (h *Hub) Listen(requestedPort int) (int, error) {
	ln, port, err := transport.Listen(requestedPort)
	if err != nil {
		return 0, err
	}
	if port != requestedPort {
		h.logger.Warn("requested port busy, substituted",
			zap.Int("requested", requestedPort), zap.Int("bound", port))
	}
	go func() {
		if err := h.srv.Serve(ln); err != nil {
			h.logger.Error("transport server stopped", zap.Error(err))
		}
	}()
	return port, nil
}

// Shutdown closes every session with a normal close and stops the
// listener.
func (h *Hub) Shutdown(ctx context.Context) error {
	for _, s := range h.roster.snapshot("") {
		s.closeNormally()
	}
	return h.srv.Shutdown(ctx)
}

func (h *Hub) health() transport.HealthInfo {
	return transport.HealthInfo{
		Status:     "ok",
		NodeID:     string(h.self.ID),
		NodesCount: h.roster.count(),
		ChatsCount: len(h.rooms.list()),
		Mode:       "host",
	}
}

func (h *Hub) accept(conn *transport.Conn) {
	s := newSession(h, conn, false)
	go h.run(s)
}

// run drives one connection's admission state machine and, once
// OPERATIONAL, its privileged-frame dispatch, until the connection
// closes.
func (h *Hub) run(s *session) {
	go s.writePump()
	defer s.teardown()

	for {
		msg, err := s.conn.ReadFrame()
		if err != nil {
			if errs.Is(err, errs.KindFrame) {
				h.logger.Debug("dropping malformed frame", zap.Error(err))
				continue
			}
			if !transport.IsNormalClose(err) {
				h.logger.Debug("session read failed", zap.Error(err))
			}
			return
		}
		s.handleInbound(msg)
		if s.state == stateTerminal {
			return
		}
	}
}

// sendTo seals msg with the hub<->s pairwise key when one exists and
// the type requires it, falling back to an unsealed send for degraded
// broadcast delivery or for types that were never sealable.
func (h *Hub) sendTo(s *session, msg frame.Message) error {
	if s.local {
		h.deliverLocal(msg)
		return nil
	}
	if frame.IsSealed(msg.FrameType()) {
		if key, ok := h.keys.Get(string(s.nodeID)); ok {
			sm, err := frame.Seal(msg, string(h.self.ID), key)
			if err != nil {
				return err
			}
			return s.enqueue(sm)
		}
	}
	return s.enqueue(msg)
}

// registerNode performs the hub's half of pairwise-key establishment
// for a freshly registered client: encapsulate against the client's
// advertised public key, store the resulting secret under the client's
// node id, and hand back the ciphertext the client needs to decapsulate
// the same secret.
func (h *Hub) registerNode(nodeID identity.NodeID, clientPub []byte) (ciphertext []byte, err error) {
	pk, err := kem.UnmarshalPublic(clientPub)
	if err != nil {
		return nil, err
	}
	enc, err := kem.Encapsulate(pk)
	if err != nil {
		return nil, err
	}
	key := aead.Derive(enc.SharedSecret)
	var secret [32]byte
	copy(secret[:], key[:])
	h.keys.Put(string(nodeID), secret)
	return enc.Ciphertext, nil
}

// checkPassword verifies a password_attempt, handling both the
// plaintext fallback and the KEM-encapsulated preferred form.
func (h *Hub) checkPassword(attempt *frame.PasswordAttempt) (bool, error) {
	if h.password == "" {
		return true, nil
	}
	if attempt.Encapsulated() {
		ss, err := kem.Decapsulate(h.self.KeyPair.Private, attempt.EncapKey)
		if err != nil {
			return false, err
		}
		key := aead.Derive(ss)
		pt, err := aead.Open(aead.Record{Ciphertext: attempt.Sealed, Nonce: attempt.Nonce}, key)
		if err != nil {
			return false, nil //nolint:nilerr // auth failure, not a transport fault
		}
		return subtle.ConstantTimeCompare(pt, []byte(h.password)) == 1, nil
	}
	return subtle.ConstantTimeCompare([]byte(attempt.Password), []byte(h.password)) == 1, nil
}

// facilitateIntroduction proactively sends peer_info to both sides of a
// pair so they can complete a KEM exchange before any room traffic
// between them needs it, per the "when B subsequently joins" rule. The
// intro set marks the pair permanently once started so a later rejoin
// or duplicate chat membership doesn't re-introduce them; the hub isn't
// a party to the secret A and B derive, so "already introduced" is the
// closest the hub can track to "already exists".
func (h *Hub) facilitateIntroduction(a, b *session) {
	if a.nodeID == b.nodeID {
		return
	}
	if !h.intros.start(a.nodeID, b.nodeID) {
		return
	}

	if err := h.sendTo(a, frame.NewPeerInfo(string(b.nodeID), b.publicKey)); err != nil {
		h.logger.Debug("introduction send failed", zap.Error(err))
	}
	if err := h.sendTo(b, frame.NewPeerInfo(string(a.nodeID), a.publicKey)); err != nil {
		h.logger.Debug("introduction send failed", zap.Error(err))
	}
}

// ensureIntroduced facilitates an introduction between s and target
// unless the hub has already introduced that pair, used before fanning a
// chat message out to target.
func (h *Hub) ensureIntroduced(s, target *session) {
	h.facilitateIntroduction(s, target)
}

