package frame

import (
	"bytes"
	"testing"

	"github.com/melq/melq/internal/aead"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		NewRegister("node1", []byte{1, 2, 3}, true),
		NewRegistered("node1", "hub1", []byte{7, 7}, []byte{8, 8, 8}),
		NewPasswordChallenge(),
		&PasswordAttempt{Type: TypePasswordAttempt, Password: "p@ss"},
		NewPasswordRequired([]byte{9, 9}),
		NewPasswordAccepted(),
		NewPasswordRejected("bad password"),
		NewPeerInfo("node2", []byte{4, 5}),
		NewPing(),
		NewPong(),
		NewAccessDenied("not operational"),
		NewDiscoverNodes(),
		NewNodeList([]NodeDescriptor{{NodeID: "node2", PublicKey: []byte{1}}}),
		&CreateChat{Type: TypeCreateChat, Name: "general"},
		&JoinChat{Type: TypeJoinChat, ChatID: "chat_1"},
		NewChatHistory("chat_1", []MessageRecord{{ChatID: "chat_1", NodeID: "node1", Text: "hi"}}),
	}

	for _, orig := range cases {
		data, err := Encode(orig)
		if err != nil {
			t.Fatalf("encode %T: %v", orig, err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %T: %v", orig, err)
		}
		redata, err := Encode(decoded)
		if err != nil {
			t.Fatalf("re-encode %T: %v", orig, err)
		}
		if !bytes.Equal(data, redata) {
			t.Fatalf("round trip mismatch for %T: %s != %s", orig, data, redata)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"something_new","x":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	u, ok := msg.(*Unknown)
	if !ok {
		t.Fatalf("expected *Unknown, got %T", msg)
	}
	if u.RawType != "something_new" {
		t.Fatalf("unexpected raw type: %s", u.RawType)
	}
}

func TestSealedClassification(t *testing.T) {
	unsealed := []Type{TypeRegister, TypeRegistered, TypePasswordChallenge, TypePasswordAttempt,
		TypePasswordRequired, TypePasswordNotRequired, TypePasswordAccepted, TypePasswordRejected,
		TypeKeyExchangeRequest, TypeKeyExchangeResponse, TypePeerInfo, TypePing, TypePong, TypeAccessDenied}
	for _, ty := range unsealed {
		if IsSealed(ty) {
			t.Fatalf("%s should not be classified sealed", ty)
		}
	}

	sealed := []Type{TypeDiscoverNodes, TypeNodeList, TypeGetChats, TypeChatList, TypeCreateChat,
		TypeChatCreated, TypeChatAvailable, TypeJoinChat, TypeUserJoined, TypeSendChatMessage,
		TypeEncryptedMessage, TypeChatHistory}
	for _, ty := range sealed {
		if !IsSealed(ty) {
			t.Fatalf("%s should be classified sealed", ty)
		}
	}
}

func TestSealOpenEnvelopeRoundTrip(t *testing.T) {
	key := aead.Derive([]byte("shared-secret-material"))
	inner := &JoinChat{Type: TypeJoinChat, ChatID: "chat_42"}

	sealed, err := Seal(inner, "node1", key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed.FrameType() != TypeSecureMessage {
		t.Fatalf("expected secure_message envelope")
	}

	opened, err := Open(sealed, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	jc, ok := opened.(*JoinChat)
	if !ok {
		t.Fatalf("expected *JoinChat, got %T", opened)
	}
	if jc.ChatID != "chat_42" {
		t.Fatalf("chat id mismatch: %s", jc.ChatID)
	}
}

func TestSealRejectsUnsealedType(t *testing.T) {
	key := aead.Derive([]byte("shared-secret-material"))
	if _, err := Seal(NewPing(), "node1", key); err == nil {
		t.Fatal("expected error sealing a handshake-class frame")
	}
}

func TestSealPayloadRoundTrip(t *testing.T) {
	key := aead.Derive([]byte("another-secret"))
	payload := EncryptedMessagePayload{ChatID: "chat_1", FromNodeID: "node1", Text: "hello", Timestamp: 123, SenderAlias: "de1node1"}

	em, err := SealPayload(payload, key)
	if err != nil {
		t.Fatalf("seal payload: %v", err)
	}
	got, err := OpenPayload(em, key)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	if got != payload {
		t.Fatalf("payload mismatch: got %+v want %+v", got, payload)
	}
}
