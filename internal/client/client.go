// Package client implements the joining-node half of the protocol: the
// mirror image of internal/hub's admission state machine, run from a
// single connection to one hub. Concurrency-safe state (the chat view
// map and the pairwise-key table) is guarded the way the hub guards its
// roster and peertable; everything else runs on the read-loop goroutine
// or the caller's own goroutine for outbound requests.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melq/melq/internal/aead"
	"github.com/melq/melq/internal/errs"
	"github.com/melq/melq/internal/frame"
	"github.com/melq/melq/internal/identity"
	"github.com/melq/melq/internal/kem"
	"github.com/melq/melq/internal/peertable"
	"github.com/melq/melq/internal/transport"
)

type state int

const (
	stateConnecting state = iota
	stateChallenging
	stateAuthenticating
	stateRegistering
	stateOperational
	stateTerminal
)

const (
	registerDeadline = 10 * time.Second
	discoverDeadline = 5 * time.Second
	chatListDeadline = 5 * time.Second
	pingInterval     = 30 * time.Second
	// keyExchangeSpacing is the minimum gap between successive key
	// exchange initiations, so a large node_list doesn't fire a burst of
	// KEM operations in the same instant.
	keyExchangeSpacing = 500 * time.Millisecond
)

// PasswordPrompter asks the operator for the hub password, returning
// their answer or an error if they decline to answer.
type PasswordPrompter func(prompt string) (string, error)

// Callbacks lets the caller observe pushed protocol events without
// polling; every field is optional.
type Callbacks struct {
	OnChatAvailable func(chatID, name, creatorNodeID string)
	OnChatHistory   func(view ChatView)
	OnUserJoined    func(chatID, nodeID string)
	OnMessage       func(chatID string, rec frame.MessageRecord)
	OnAccessDenied  func(reason string)
	OnClosed        func(normal bool, err error)
}

// Client is one joining node's connection to a single hub.
type Client struct {
	self   *identity.Identity
	conn   *transport.Conn
	logger *zap.Logger
	cb     Callbacks

	correlator *correlator

	mu        sync.Mutex
	state     state
	hubNodeID string
	hubKey    aead.Key
	hubKeySet bool

	peers *peertable.Table

	roomsMu sync.Mutex
	rooms   map[string]*ChatView

	stopPing chan struct{}
}

// Connect dials url and drives the handshake through to OPERATIONAL:
// password challenge, optional password exchange, registration, and the
// discover_nodes / get_chats setup pair. prompt is called only if the
// hub requires a password.
func Connect(ctx context.Context, url string, self *identity.Identity, prompt PasswordPrompter, logger *zap.Logger, cb Callbacks) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !transport.ValidURL(url) {
		return nil, fmt.Errorf("not a valid transport URL: %q", url)
	}
	conn, err := transport.Dial(ctx, url)
	if err != nil {
		return nil, err
	}

	c := &Client{
		self:       self,
		conn:       conn,
		logger:     logger,
		cb:         cb,
		correlator: newCorrelator(),
		peers:      peertable.New(),
		rooms:      make(map[string]*ChatView),
		stopPing:   make(chan struct{}),
	}

	go c.readLoop()

	if err := c.runHandshake(prompt); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.pingLoop()
	go c.setupOperational()

	return c, nil
}

func (c *Client) setState(s state) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) runHandshake(prompt PasswordPrompter) error {
	c.setState(stateConnecting)
	if err := c.conn.WriteFrame(frame.NewPasswordChallenge()); err != nil {
		return err
	}
	c.setState(stateChallenging)

	reply, err := c.waitFor(registerDeadline, frame.TypePasswordRequired, frame.TypePasswordNotRequired)
	if err != nil {
		return err
	}

	if required, ok := reply.(*frame.PasswordRequired); ok {
		if err := c.authenticate(required, prompt); err != nil {
			return err
		}
	}

	return c.register()
}

func (c *Client) authenticate(required *frame.PasswordRequired, prompt PasswordPrompter) error {
	if prompt == nil {
		return errs.Auth("client.authenticate", fmt.Errorf("hub requires a password but no prompter was given"))
	}
	password, err := prompt("hub password")
	if err != nil {
		return errs.Auth("client.authenticate", err)
	}

	attempt, err := c.buildPasswordAttempt(required.HubPublicKey, password)
	if err != nil {
		return err
	}
	if err := c.conn.WriteFrame(attempt); err != nil {
		return err
	}
	c.setState(stateAuthenticating)

	reply, err := c.waitFor(registerDeadline, frame.TypePasswordAccepted, frame.TypePasswordRejected)
	if err != nil {
		return err
	}
	if rej, ok := reply.(*frame.PasswordRejected); ok {
		return errs.Auth("client.authenticate", fmt.Errorf("password rejected: %s", rej.Reason))
	}
	return nil
}

// buildPasswordAttempt always uses the KEM-encapsulated form: by the
// time PasswordRequired arrives the hub's public key is known, so
// plaintext submission is never the only option available.
func (c *Client) buildPasswordAttempt(hubPub []byte, password string) (*frame.PasswordAttempt, error) {
	pk, err := kem.UnmarshalPublic(hubPub)
	if err != nil {
		return nil, err
	}
	enc, err := kem.Encapsulate(pk)
	if err != nil {
		return nil, err
	}
	key := aead.Derive(enc.SharedSecret)
	rec, err := aead.Seal([]byte(password), key)
	if err != nil {
		return nil, err
	}
	return &frame.PasswordAttempt{
		Type:     frame.TypePasswordAttempt,
		EncapKey: enc.Ciphertext,
		Sealed:   rec.Ciphertext,
		Nonce:    rec.Nonce,
	}, nil
}

func (c *Client) register() error {
	c.setState(stateRegistering)
	if err := c.conn.WriteFrame(frame.NewRegister(string(c.self.ID), c.self.KeyPair.PublicSeed, true)); err != nil {
		return err
	}

	reply, err := c.waitFor(registerDeadline, frame.TypeRegistered)
	if err != nil {
		return err
	}
	registered := reply.(*frame.Registered)

	ss, err := kem.Decapsulate(c.self.KeyPair.Private, registered.Ciphertext)
	if err != nil {
		return errs.Crypto("client.register", err)
	}

	c.mu.Lock()
	c.hubKey = aead.Derive(ss)
	c.hubKeySet = true
	c.hubNodeID = registered.HubNodeID
	c.state = stateOperational
	c.mu.Unlock()

	return nil
}

// setupOperational fires the discover_nodes/get_chats pair the admission
// table runs on entering OPERATIONAL. Both are best-effort: a timeout is
// logged, not fatal, since the client is already usable without them.
func (c *Client) setupOperational() {
	if _, err := c.Discover(); err != nil {
		c.logger.Debug("initial discovery failed", zap.Error(err))
	}
	if _, err := c.ListChats(); err != nil {
		c.logger.Debug("initial chat list fetch failed", zap.Error(err))
	}
}

func (c *Client) hubKeySnapshot() (aead.Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hubKey, c.hubKeySet
}

// sendSealed seals msg under the hub pairwise key when its type is in
// the sealed class, otherwise sends it unwrapped.
func (c *Client) sendSealed(msg frame.Message) error {
	if !frame.IsSealed(msg.FrameType()) {
		return c.conn.WriteFrame(msg)
	}
	key, ok := c.hubKeySnapshot()
	if !ok {
		return errs.State("client.send_sealed", fmt.Errorf("no hub pairwise key yet"))
	}
	sm, err := frame.Seal(msg, string(c.self.ID), key)
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(sm)
}

func (c *Client) waitFor(timeout time.Duration, types ...frame.Type) (frame.Message, error) {
	ch := c.correlator.await(types...)
	select {
	case msg := <-ch:
		return msg, nil
	case <-time.After(timeout):
		c.correlator.cancel(types...)
		return nil, errs.Timeout("client.wait_for", fmt.Errorf("no reply of type %v within %s", types, timeout))
	}
}

// Discover asks the hub for the current roster and kicks off pairwise
// key establishment with every newly-seen peer.
func (c *Client) Discover() ([]frame.NodeDescriptor, error) {
	ch := c.correlator.await(frame.TypeNodeList)
	if err := c.sendSealed(frame.NewDiscoverNodes()); err != nil {
		c.correlator.cancel(frame.TypeNodeList)
		return nil, err
	}
	select {
	case msg := <-ch:
		nl := msg.(*frame.NodeList)
		go c.initiateKeyExchanges(nl.Nodes)
		return nl.Nodes, nil
	case <-time.After(discoverDeadline):
		c.correlator.cancel(frame.TypeNodeList)
		return nil, errs.Timeout("client.discover", fmt.Errorf("node_list deadline exceeded"))
	}
}

// ListChats asks the hub for every chat it knows about.
func (c *Client) ListChats() ([]frame.ChatSummary, error) {
	ch := c.correlator.await(frame.TypeChatList)
	if err := c.sendSealed(frame.NewGetChats()); err != nil {
		c.correlator.cancel(frame.TypeChatList)
		return nil, err
	}
	select {
	case msg := <-ch:
		return msg.(*frame.ChatList).Chats, nil
	case <-time.After(chatListDeadline):
		c.correlator.cancel(frame.TypeChatList)
		return nil, errs.Timeout("client.list_chats", fmt.Errorf("chat_list deadline exceeded"))
	}
}

// CreateChat asks the hub to create a new room, with this node as its
// first participant. The hub confirms with chat_created, which this
// client does not surface through Callbacks (dispatch drops it); the
// room's history arrives as chat_history if this node later calls
// JoinChat for it.
func (c *Client) CreateChat(name string) error {
	return c.sendSealed(&frame.CreateChat{Type: frame.TypeCreateChat, Name: name})
}

// JoinChat asks to join an existing room; history and further events
// arrive asynchronously via the Callbacks.
func (c *Client) JoinChat(chatID string) error {
	return c.sendSealed(&frame.JoinChat{Type: frame.TypeJoinChat, ChatID: chatID})
}

// SendMessage posts text to a room this node has joined.
func (c *Client) SendMessage(chatID, text string, timestamp int64) error {
	return c.sendSealed(&frame.SendChatMessage{
		Type:      frame.TypeSendChatMessage,
		ChatID:    chatID,
		NodeID:    string(c.self.ID),
		Text:      text,
		Timestamp: timestamp,
	})
}

// ChatView returns a snapshot of this node's local merge of one room.
func (c *Client) ChatView(chatID string) (ChatView, bool) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	v, ok := c.rooms[chatID]
	if !ok {
		return ChatView{}, false
	}
	return *v, true
}

func (c *Client) viewFor(chatID string) *ChatView {
	v, ok := c.rooms[chatID]
	if !ok {
		v = &ChatView{ChatID: chatID}
		c.rooms[chatID] = v
	}
	return v
}

// Close ends the session normally.
func (c *Client) Close() error {
	close(c.stopPing)
	return c.conn.Close()
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteFrame(frame.NewPing()); err != nil {
				return
			}
		case <-c.stopPing:
			return
		}
	}
}

func (c *Client) readLoop() {
	for {
		msg, err := c.conn.ReadFrame()
		if err != nil {
			if errs.Is(err, errs.KindFrame) {
				c.logger.Debug("dropping malformed frame", zap.Error(err))
				continue
			}
			if c.cb.OnClosed != nil {
				c.cb.OnClosed(transport.IsNormalClose(err), err)
			}
			return
		}

		if sm, ok := msg.(*frame.SecureMessage); ok {
			key, ok := c.hubKeySnapshot()
			if !ok {
				c.logger.Debug("dropping sealed frame before hub key is established")
				continue
			}
			inner, err := frame.Open(sm, key)
			if err != nil {
				c.logger.Debug("dropping undecryptable frame", zap.Error(err))
				continue
			}
			msg = inner
		}

		if c.correlator.deliver(msg) {
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg frame.Message) {
	switch m := msg.(type) {
	case *frame.Unknown:
		c.logger.Debug("dropping frame of unrecognized type", zap.String("type", string(m.RawType)))
	case *frame.Pong:
		// informational only
	case *frame.KeyExchangeRequest:
		c.handleKeyExchangeRequest(m)
	case *frame.KeyExchangeResponse:
		// acknowledgement only; the secret was already stored when we
		// initiated.
	case *frame.PeerInfo:
		if !c.peers.Has(m.NodeID) {
			go c.initiateKeyExchange(m.NodeID, m.PublicKey)
		}
	case *frame.AccessDenied:
		if c.cb.OnAccessDenied != nil {
			c.cb.OnAccessDenied(m.Reason)
		}
	case *frame.ChatAvailable:
		if c.cb.OnChatAvailable != nil {
			c.cb.OnChatAvailable(m.ChatID, m.Name, m.CreatorNodeID)
		}
	case *frame.ChatHistory:
		c.roomsMu.Lock()
		v := c.viewFor(m.ChatID)
		v.History = append([]frame.MessageRecord{}, m.Messages...)
		snapshot := *v
		c.roomsMu.Unlock()
		if c.cb.OnChatHistory != nil {
			c.cb.OnChatHistory(snapshot)
		}
	case *frame.UserJoined:
		c.roomsMu.Lock()
		v := c.viewFor(m.ChatID)
		v.addParticipant(m.NodeID)
		c.roomsMu.Unlock()
		if c.cb.OnUserJoined != nil {
			c.cb.OnUserJoined(m.ChatID, m.NodeID)
		}
	case *frame.EncryptedMessage:
		c.handleEncryptedMessage(m)
	default:
		c.logger.Debug("dropping frame with no handler", zap.String("type", string(msg.FrameType())))
	}
}

// handleEncryptedMessage opens the room message payload. Room messages
// are re-sealed by the hub under the hub<->recipient pairwise key, not
// the original sender's key, so this node's own hub key is always the
// right one to open it with.
func (c *Client) handleEncryptedMessage(m *frame.EncryptedMessage) {
	key, ok := c.hubKeySnapshot()
	if !ok {
		return
	}
	payload, err := frame.OpenPayload(m, key)
	if err != nil {
		c.logger.Debug("dropping undecryptable room message", zap.Error(err))
		return
	}
	rec := frame.MessageRecord{
		ChatID:      payload.ChatID,
		NodeID:      payload.FromNodeID,
		SenderAlias: payload.SenderAlias,
		Text:        payload.Text,
		Timestamp:   payload.Timestamp,
	}

	c.roomsMu.Lock()
	v := c.viewFor(payload.ChatID)
	v.History = append(v.History, rec)
	c.roomsMu.Unlock()

	if c.cb.OnMessage != nil {
		c.cb.OnMessage(payload.ChatID, rec)
	}
}

// initiateKeyExchanges spaces successive initiations at least
// keyExchangeSpacing apart, so a large node_list doesn't burst every KEM
// encapsulation in the same instant.
func (c *Client) initiateKeyExchanges(nodes []frame.NodeDescriptor) {
	first := true
	for _, n := range nodes {
		if c.peers.Has(n.NodeID) {
			continue
		}
		if !first {
			time.Sleep(keyExchangeSpacing)
		}
		first = false
		c.initiateKeyExchange(n.NodeID, n.PublicKey)
	}
}

func (c *Client) initiateKeyExchange(nodeID string, pub []byte) {
	if !c.peers.MarkPending(nodeID) {
		return
	}
	pk, err := kem.UnmarshalPublic(pub)
	if err != nil {
		c.logger.Debug("bad peer public key", zap.String("peer", nodeID), zap.Error(err))
		return
	}
	enc, err := kem.Encapsulate(pk)
	if err != nil {
		c.logger.Debug("key exchange encapsulation failed", zap.Error(err))
		return
	}
	key := aead.Derive(enc.SharedSecret)
	var secret [32]byte
	copy(secret[:], key[:])
	c.peers.Put(nodeID, secret)

	req := &frame.KeyExchangeRequest{
		Type:       frame.TypeKeyExchangeRequest,
		FromNodeID: string(c.self.ID),
		ToNodeID:   nodeID,
		Ciphertext: enc.Ciphertext,
	}
	_ = c.conn.WriteFrame(req)
}

// handleKeyExchangeRequest resolves simultaneous mutual initiation
// deterministically: the lexicographically smaller node id's
// encapsulation always wins, so both sides converge on one secret
// instead of each trusting its own. The loser overwrites whatever it
// already established from its own initiation with the winner's
// decapsulated secret.
func (c *Client) handleKeyExchangeRequest(m *frame.KeyExchangeRequest) {
	peer := m.FromNodeID
	if c.peers.Has(peer) {
		if string(c.self.ID) < peer {
			_ = c.conn.WriteFrame(&frame.KeyExchangeResponse{
				Type: frame.TypeKeyExchangeResponse, FromNodeID: string(c.self.ID), ToNodeID: peer,
			})
			return
		}
		c.peers.Delete(peer)
	}

	ss, err := kem.Decapsulate(c.self.KeyPair.Private, m.Ciphertext)
	if err != nil {
		c.logger.Debug("key exchange decapsulation failed", zap.Error(err))
		return
	}
	key := aead.Derive(ss)
	var secret [32]byte
	copy(secret[:], key[:])
	c.peers.Put(peer, secret)

	_ = c.conn.WriteFrame(&frame.KeyExchangeResponse{
		Type: frame.TypeKeyExchangeResponse, FromNodeID: string(c.self.ID), ToNodeID: peer,
	})
}
