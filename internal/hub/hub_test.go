package hub

import (
	"context"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/melq/melq/internal/aead"
	"github.com/melq/melq/internal/frame"
	"github.com/melq/melq/internal/identity"
	"github.com/melq/melq/internal/kem"
	"github.com/melq/melq/internal/transport"
)

// testClient is a minimal hand-rolled client used only to drive the hub
// through the wire protocol from the test's side; internal/client is the
// real implementation.
type testClient struct {
	t      *testing.T
	conn   *transport.Conn
	id     identity.NodeID
	kp     kem.KeyPair
	hubKey aead.Key
}

func newTestClient(t *testing.T, url string) *testClient {
	t.Helper()
	conn, err := transport.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	kp, err := kem.Generate()
	if err != nil {
		t.Fatalf("kem.Generate: %v", err)
	}
	return &testClient{t: t, conn: conn, id: identity.NodeID("test-" + randSuffix()), kp: kp}
}

var suffixCounter int

func randSuffix() string {
	suffixCounter++
	return string(rune('a' + suffixCounter))
}

func (c *testClient) send(msg frame.Message) {
	if err := c.conn.WriteFrame(msg); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) recv() frame.Message {
	msg, err := c.conn.ReadFrame()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return msg
}

// registerNoPassword drives the no-password admission path and stores
// the hub<->client pairwise key derived from the Registered ciphertext.
func (c *testClient) registerNoPassword() {
	c.send(frame.NewRegister(string(c.id), c.kp.PublicSeed, true))
	msg := c.recv()
	reg, ok := msg.(*frame.Registered)
	if !ok {
		c.t.Fatalf("expected *Registered, got %T", msg)
	}
	ss, err := kem.Decapsulate(c.kp.Private, reg.Ciphertext)
	if err != nil {
		c.t.Fatalf("decapsulate: %v", err)
	}
	c.hubKey = aead.Derive(ss)
}

func (c *testClient) sendSealed(msg frame.Message) {
	sm, err := frame.Seal(msg, string(c.id), c.hubKey)
	if err != nil {
		c.t.Fatalf("seal: %v", err)
	}
	c.send(sm)
}

// recvSealedOrPlain reads one frame and, if it's a secure_message
// envelope, opens it with the pairwise key.
func (c *testClient) recvSealedOrPlain() frame.Message {
	msg := c.recv()
	if sm, ok := msg.(*frame.SecureMessage); ok {
		inner, err := frame.Open(sm, c.hubKey)
		if err != nil {
			c.t.Fatalf("open: %v", err)
		}
		return inner
	}
	return msg
}

func newTestHub(t *testing.T, password string) (*Hub, string) {
	t.Helper()
	self, err := identity.New()
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	h := New(self, Config{Password: password}, zap.NewNop())
	port, err := h.Listen(0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return h, "ws://127.0.0.1:" + strconv.Itoa(port) + transport.WSPath
}

func TestPasswordlessRegistrationReachesOperational(t *testing.T) {
	h, url := newTestHub(t, "")
	c := newTestClient(t, url)

	c.send(frame.NewPasswordChallenge())
	msg := c.recv()
	if _, ok := msg.(*frame.PasswordNotRequired); !ok {
		t.Fatalf("expected PasswordNotRequired, got %T", msg)
	}
	c.registerNoPassword()

	if h.roster.count() != 1 {
		t.Fatalf("expected 1 roster entry, got %d", h.roster.count())
	}
}

func TestPasswordSuccessAndFailure(t *testing.T) {
	h, url := newTestHub(t, "p@ss")

	good := newTestClient(t, url)
	good.send(frame.NewPasswordChallenge())
	if _, ok := good.recv().(*frame.PasswordRequired); !ok {
		t.Fatal("expected PasswordRequired")
	}
	good.send(&frame.PasswordAttempt{Type: frame.TypePasswordAttempt, Password: "p@ss"})
	if _, ok := good.recv().(*frame.PasswordAccepted); !ok {
		t.Fatal("expected PasswordAccepted")
	}
	good.registerNoPassword()
	if h.roster.count() != 1 {
		t.Fatalf("expected 1 roster entry after good password, got %d", h.roster.count())
	}

	bad := newTestClient(t, url)
	bad.send(frame.NewPasswordChallenge())
	bad.recv()
	bad.send(&frame.PasswordAttempt{Type: frame.TypePasswordAttempt, Password: "wrong"})
	if _, ok := bad.recv().(*frame.PasswordRejected); !ok {
		t.Fatal("expected PasswordRejected")
	}
	if _, err := bad.conn.ReadFrame(); err == nil {
		t.Fatal("expected connection to close after rejected password")
	}

	if h.roster.count() != 1 {
		t.Fatalf("rejected client must not appear in roster, count=%d", h.roster.count())
	}
}

func TestChatCreateJoinAndFanOut(t *testing.T) {
	h, url := newTestHub(t, "")

	a := newTestClient(t, url)
	a.registerNoPassword()
	b := newTestClient(t, url)
	b.registerNoPassword()

	a.sendSealed(&frame.CreateChat{Type: frame.TypeCreateChat, Name: "general"})
	created, ok := a.recvSealedOrPlain().(*frame.ChatCreated)
	if !ok {
		t.Fatalf("expected ChatCreated, got %T", created)
	}

	avail, ok := b.recvSealedOrPlain().(*frame.ChatAvailable)
	if !ok {
		t.Fatalf("expected ChatAvailable, got %T", avail)
	}
	if avail.ChatID != created.ChatID {
		t.Fatalf("chat id mismatch: %s vs %s", avail.ChatID, created.ChatID)
	}

	b.sendSealed(&frame.JoinChat{Type: frame.TypeJoinChat, ChatID: created.ChatID})
	hist, ok := b.recvSealedOrPlain().(*frame.ChatHistory)
	if !ok {
		t.Fatalf("expected ChatHistory, got %T", hist)
	}
	if len(hist.Messages) != 0 {
		t.Fatalf("expected empty history on join, got %d messages", len(hist.Messages))
	}

	joined, ok := a.recvSealedOrPlain().(*frame.UserJoined)
	if !ok {
		t.Fatalf("expected UserJoined, got %T", joined)
	}
	if joined.NodeID != string(b.id) {
		t.Fatalf("unexpected joiner: %s", joined.NodeID)
	}

	// Both sides receive a peer_info introduction (unsealed, sent by the hub).
	if _, ok := a.recv().(*frame.PeerInfo); !ok {
		t.Fatal("expected peer_info introduction for a")
	}
	if _, ok := b.recv().(*frame.PeerInfo); !ok {
		t.Fatal("expected peer_info introduction for b")
	}

	a.sendSealed(&frame.SendChatMessage{Type: frame.TypeSendChatMessage, ChatID: created.ChatID, NodeID: string(a.id), Text: "hello", Timestamp: 123})

	em, ok := b.recv().(*frame.EncryptedMessage)
	if !ok {
		t.Fatalf("expected EncryptedMessage, got %T", em)
	}
	payload, err := frame.OpenPayload(em, b.hubKey)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	if payload.Text != "hello" || payload.FromNodeID != string(a.id) || payload.ChatID != created.ChatID {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestLocalClientParticipatesWithoutAuthentication(t *testing.T) {
	h, url := newTestHub(t, "")

	local := h.Local()
	local.CreateChat("ops")
	chats := local.Chats()
	if len(chats) != 1 {
		t.Fatalf("expected one chat, got %d", len(chats))
	}
	chatID := chats[0].ChatID

	remote := newTestClient(t, url)
	remote.registerNoPassword()
	remote.sendSealed(&frame.JoinChat{Type: frame.TypeJoinChat, ChatID: chatID})
	if _, ok := remote.recvSealedOrPlain().(*frame.ChatHistory); !ok {
		t.Fatal("expected chat history on join")
	}

	remote.sendSealed(&frame.SendChatMessage{Type: frame.TypeSendChatMessage, ChatID: chatID, NodeID: string(remote.id), Text: "status ok", Timestamp: 42})

	select {
	case rec := <-local.Messages():
		if rec.Text != "status ok" || rec.ChatID != chatID {
			t.Fatalf("unexpected record delivered to local client: %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message on local client")
	}
}
