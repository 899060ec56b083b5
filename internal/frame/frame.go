// Package frame maps typed protocol messages to a self-describing
// textual (JSON) wire frame and back, and classifies each type as
// handshake (never sealed) or application (sealed when a pairwise key
// exists). Per the design notes, dispatch is a closed sum type over one
// variant per wire type, with Decode returning an explicit Unknown
// catch-all for anything it doesn't recognize rather than panicking or
// silently dropping bytes.
package frame

import (
	"encoding/json"
	"fmt"

	"github.com/melq/melq/internal/aead"
	"github.com/melq/melq/internal/errs"
)

// Type is the wire discriminator carried by every frame.
type Type string

const (
	TypeRegister            Type = "register"
	TypeRegistered          Type = "registered"
	TypePasswordChallenge   Type = "password_challenge"
	TypePasswordAttempt     Type = "password_attempt"
	TypePasswordRequired    Type = "password_required"
	TypePasswordNotRequired Type = "password_not_required"
	TypePasswordAccepted    Type = "password_accepted"
	TypePasswordRejected    Type = "password_rejected"
	TypeKeyExchangeRequest  Type = "key_exchange_request"
	TypeKeyExchangeResponse Type = "key_exchange_response"
	TypePeerInfo            Type = "peer_info"
	TypePing                Type = "ping"
	TypePong                Type = "pong"
	TypeAccessDenied        Type = "access_denied"

	TypeDiscoverNodes    Type = "discover_nodes"
	TypeNodeList         Type = "node_list"
	TypeGetChats         Type = "get_chats"
	TypeChatList         Type = "chat_list"
	TypeCreateChat       Type = "create_chat"
	TypeChatCreated      Type = "chat_created"
	TypeChatAvailable    Type = "chat_available"
	TypeJoinChat         Type = "join_chat"
	TypeUserJoined       Type = "user_joined"
	TypeSendChatMessage  Type = "send_chat_message"
	TypeEncryptedMessage Type = "encrypted_message"
	TypeChatHistory      Type = "chat_history"

	// TypeSecureMessage is the transport envelope for a sealed inner
	// frame; it is never itself classified sealed or unsealed.
	TypeSecureMessage Type = "secure_message"

	// TypeUnknown is never sent on the wire; Decode returns it wrapping
	// the raw bytes when the type tag doesn't match anything above.
	TypeUnknown Type = "unknown"
)

// sealedTypes is exactly the "application" set from the spec; everything
// else handshake/control is unsealed.
var sealedTypes = map[Type]bool{
	TypeDiscoverNodes:    true,
	TypeNodeList:         true,
	TypeGetChats:         true,
	TypeChatList:         true,
	TypeCreateChat:       true,
	TypeChatCreated:      true,
	TypeChatAvailable:    true,
	TypeJoinChat:         true,
	TypeUserJoined:       true,
	TypeSendChatMessage:  true,
	TypeEncryptedMessage: true,
	TypeChatHistory:      true,
}

// IsSealed reports whether t belongs to the application (sealed) class.
func IsSealed(t Type) bool { return sealedTypes[t] }

// Message is implemented by every concrete frame variant.
type Message interface {
	FrameType() Type
}

type typeTag struct {
	Type Type `json:"type"`
}

// -------------------- Handshake / control variants --------------------

type Register struct {
	Type          Type   `json:"type"`
	NodeID        string `json:"nodeId"`
	PublicKey     []byte `json:"publicKey"`
	Authenticated bool   `json:"authenticated"`
}

func NewRegister(nodeID string, pub []byte, authenticated bool) *Register {
	return &Register{Type: TypeRegister, NodeID: nodeID, PublicKey: pub, Authenticated: authenticated}
}
func (m *Register) FrameType() Type { return TypeRegister }

// Registered confirms a successful register. It also carries the hub's
// own public key and a KEM ciphertext encapsulated against the
// registering client's public key, so the client can decapsulate with
// its private key and derive the same pairwise secret the hub just
// stored for it — establishing the hub<->client pairwise key in the
// same round trip as registration, uniformly regardless of whether the
// connection went through the password path or not.
type Registered struct {
	Type         Type   `json:"type"`
	NodeID       string `json:"nodeId"`
	HubNodeID    string `json:"hubNodeId"`
	HubPublicKey []byte `json:"hubPublicKey"`
	Ciphertext   []byte `json:"ciphertext"`
}

func NewRegistered(nodeID, hubNodeID string, hubPub, ciphertext []byte) *Registered {
	return &Registered{
		Type:         TypeRegistered,
		NodeID:       nodeID,
		HubNodeID:    hubNodeID,
		HubPublicKey: hubPub,
		Ciphertext:   ciphertext,
	}
}
func (m *Registered) FrameType() Type { return TypeRegistered }

type PasswordChallenge struct {
	Type Type `json:"type"`
}

func NewPasswordChallenge() *PasswordChallenge { return &PasswordChallenge{Type: TypePasswordChallenge} }
func (m *PasswordChallenge) FrameType() Type    { return TypePasswordChallenge }

// PasswordAttempt supports both the plaintext fallback and the preferred
// KEM-encapsulated form: when EncapKey is non-empty, Sealed/Nonce carry
// an AEAD record over the derived key instead of Password.
type PasswordAttempt struct {
	Type     Type   `json:"type"`
	Password string `json:"password,omitempty"`
	EncapKey []byte `json:"encapKey,omitempty"`
	Sealed   []byte `json:"sealed,omitempty"`
	Nonce    []byte `json:"nonce,omitempty"`
}

func (m *PasswordAttempt) FrameType() Type { return TypePasswordAttempt }

// Encapsulated reports whether this attempt used the KEM-sealed form.
func (m *PasswordAttempt) Encapsulated() bool { return len(m.EncapKey) > 0 }

type PasswordRequired struct {
	Type         Type   `json:"type"`
	HubPublicKey []byte `json:"hubPublicKey"`
}

func NewPasswordRequired(hubPub []byte) *PasswordRequired {
	return &PasswordRequired{Type: TypePasswordRequired, HubPublicKey: hubPub}
}
func (m *PasswordRequired) FrameType() Type { return TypePasswordRequired }

type PasswordNotRequired struct {
	Type Type `json:"type"`
}

func NewPasswordNotRequired() *PasswordNotRequired {
	return &PasswordNotRequired{Type: TypePasswordNotRequired}
}
func (m *PasswordNotRequired) FrameType() Type { return TypePasswordNotRequired }

type PasswordAccepted struct {
	Type Type `json:"type"`
}

func NewPasswordAccepted() *PasswordAccepted { return &PasswordAccepted{Type: TypePasswordAccepted} }
func (m *PasswordAccepted) FrameType() Type   { return TypePasswordAccepted }

type PasswordRejected struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason,omitempty"`
}

func NewPasswordRejected(reason string) *PasswordRejected {
	return &PasswordRejected{Type: TypePasswordRejected, Reason: reason}
}
func (m *PasswordRejected) FrameType() Type { return TypePasswordRejected }

type KeyExchangeRequest struct {
	Type       Type   `json:"type"`
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
	Ciphertext []byte `json:"ciphertext"`
}

func (m *KeyExchangeRequest) FrameType() Type { return TypeKeyExchangeRequest }

type KeyExchangeResponse struct {
	Type       Type   `json:"type"`
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
}

func (m *KeyExchangeResponse) FrameType() Type { return TypeKeyExchangeResponse }

type PeerInfo struct {
	Type      Type   `json:"type"`
	NodeID    string `json:"nodeId"`
	PublicKey []byte `json:"publicKey"`
}

func NewPeerInfo(nodeID string, pub []byte) *PeerInfo {
	return &PeerInfo{Type: TypePeerInfo, NodeID: nodeID, PublicKey: pub}
}
func (m *PeerInfo) FrameType() Type { return TypePeerInfo }

type Ping struct {
	Type Type `json:"type"`
}

func NewPing() *Ping        { return &Ping{Type: TypePing} }
func (m *Ping) FrameType() Type { return TypePing }

type Pong struct {
	Type Type `json:"type"`
}

func NewPong() *Pong        { return &Pong{Type: TypePong} }
func (m *Pong) FrameType() Type { return TypePong }

type AccessDenied struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason,omitempty"`
}

func NewAccessDenied(reason string) *AccessDenied {
	return &AccessDenied{Type: TypeAccessDenied, Reason: reason}
}
func (m *AccessDenied) FrameType() Type { return TypeAccessDenied }

// -------------------- Application (sealable) variants --------------------

type DiscoverNodes struct {
	Type Type `json:"type"`
}

func NewDiscoverNodes() *DiscoverNodes { return &DiscoverNodes{Type: TypeDiscoverNodes} }
func (m *DiscoverNodes) FrameType() Type { return TypeDiscoverNodes }

// NodeDescriptor is one roster entry as advertised by the hub.
type NodeDescriptor struct {
	NodeID    string `json:"nodeId"`
	PublicKey []byte `json:"publicKey"`
	Address   string `json:"address,omitempty"`
}

type NodeList struct {
	Type  Type             `json:"type"`
	Nodes []NodeDescriptor `json:"nodes"`
}

func NewNodeList(nodes []NodeDescriptor) *NodeList { return &NodeList{Type: TypeNodeList, Nodes: nodes} }
func (m *NodeList) FrameType() Type                { return TypeNodeList }

type GetChats struct {
	Type Type `json:"type"`
}

func NewGetChats() *GetChats    { return &GetChats{Type: TypeGetChats} }
func (m *GetChats) FrameType() Type { return TypeGetChats }

type ChatSummary struct {
	ChatID       string   `json:"chatId"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type ChatList struct {
	Type  Type          `json:"type"`
	Chats []ChatSummary `json:"chats"`
}

func NewChatList(chats []ChatSummary) *ChatList { return &ChatList{Type: TypeChatList, Chats: chats} }
func (m *ChatList) FrameType() Type             { return TypeChatList }

type CreateChat struct {
	Type Type   `json:"type"`
	Name string `json:"name"`
}

func (m *CreateChat) FrameType() Type { return TypeCreateChat }

type ChatCreated struct {
	Type   Type   `json:"type"`
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
}

func (m *ChatCreated) FrameType() Type { return TypeChatCreated }

type ChatAvailable struct {
	Type          Type   `json:"type"`
	ChatID        string `json:"chatId"`
	Name          string `json:"name"`
	CreatorNodeID string `json:"creatorNodeId"`
}

func (m *ChatAvailable) FrameType() Type { return TypeChatAvailable }

type JoinChat struct {
	Type   Type   `json:"type"`
	ChatID string `json:"chatId"`
}

func (m *JoinChat) FrameType() Type { return TypeJoinChat }

type UserJoined struct {
	Type   Type   `json:"type"`
	ChatID string `json:"chatId"`
	NodeID string `json:"nodeId"`
}

func (m *UserJoined) FrameType() Type { return TypeUserJoined }

type SendChatMessage struct {
	Type      Type   `json:"type"`
	ChatID    string `json:"chatId"`
	NodeID    string `json:"nodeId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func (m *SendChatMessage) FrameType() Type { return TypeSendChatMessage }

// EncryptedMessagePayload is the inner JSON object sealed inside an
// EncryptedMessage frame's Record. It is never sent unsealed.
type EncryptedMessagePayload struct {
	ChatID      string `json:"chatId"`
	FromNodeID  string `json:"fromNodeId"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
	SenderAlias string `json:"senderAlias"`
}

// EncryptedMessage carries a sealed EncryptedMessagePayload. Per the
// open question in the frame codec design, this inner sealing (not the
// outer secure_message wrap, if any) is the authoritative room-message
// encryption.
type EncryptedMessage struct {
	Type       Type   `json:"type"`
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

func (m *EncryptedMessage) FrameType() Type { return TypeEncryptedMessage }

// SealPayload seals an EncryptedMessagePayload with key, producing the
// frame to dispatch to one recipient.
func SealPayload(payload EncryptedMessagePayload, key aead.Key) (*EncryptedMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Frame("frame.seal_payload", err)
	}
	rec, err := aead.Seal(b, key)
	if err != nil {
		return nil, err
	}
	return &EncryptedMessage{Type: TypeEncryptedMessage, Ciphertext: rec.Ciphertext, Nonce: rec.Nonce}, nil
}

// OpenPayload opens an EncryptedMessage's inner sealed payload.
func OpenPayload(m *EncryptedMessage, key aead.Key) (EncryptedMessagePayload, error) {
	pt, err := aead.Open(aead.Record{Ciphertext: m.Ciphertext, Nonce: m.Nonce}, key)
	if err != nil {
		return EncryptedMessagePayload{}, err
	}
	var payload EncryptedMessagePayload
	if err := json.Unmarshal(pt, &payload); err != nil {
		return EncryptedMessagePayload{}, errs.Frame("frame.open_payload", err)
	}
	return payload, nil
}

type MessageRecord struct {
	ChatID      string `json:"chatId"`
	NodeID      string `json:"nodeId"`
	SenderAlias string `json:"senderAlias"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
}

type ChatHistory struct {
	Type     Type            `json:"type"`
	ChatID   string          `json:"chatId"`
	Messages []MessageRecord `json:"messages"`
}

func NewChatHistory(chatID string, messages []MessageRecord) *ChatHistory {
	return &ChatHistory{Type: TypeChatHistory, ChatID: chatID, Messages: messages}
}
func (m *ChatHistory) FrameType() Type { return TypeChatHistory }

// -------------------- Transport envelope --------------------

// SecureMessage is the outer unsealed carrier for a sealed inner frame.
type SecureMessage struct {
	Type       Type   `json:"type"`
	Originator string `json:"originator"`
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

func (m *SecureMessage) FrameType() Type { return TypeSecureMessage }

// Seal wraps any sealed-class message in a secure_message envelope,
// encrypted with the pairwise key shared with the frame's recipient.
func Seal(msg Message, originator string, key aead.Key) (*SecureMessage, error) {
	if !IsSealed(msg.FrameType()) {
		return nil, errs.Frame("frame.seal", fmt.Errorf("type %q is not sealable", msg.FrameType()))
	}
	b, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	rec, err := aead.Seal(b, key)
	if err != nil {
		return nil, err
	}
	return &SecureMessage{Type: TypeSecureMessage, Originator: originator, Ciphertext: rec.Ciphertext, Nonce: rec.Nonce}, nil
}

// Open unwraps a secure_message envelope, returning the inner message.
func Open(sm *SecureMessage, key aead.Key) (Message, error) {
	pt, err := aead.Open(aead.Record{Ciphertext: sm.Ciphertext, Nonce: sm.Nonce}, key)
	if err != nil {
		return nil, err
	}
	return Decode(pt)
}

// -------------------- Unknown catch-all --------------------

// Unknown is returned by Decode for any type tag it doesn't recognize.
// Per the design notes, unknown types get an explicit arm rather than a
// silent drop or panic; callers log and discard per FrameError handling.
type Unknown struct {
	RawType Type
	Raw     []byte
}

func (m *Unknown) FrameType() Type { return TypeUnknown }

// -------------------- Encode / Decode --------------------

// Encode marshals a message to its textual wire form.
func Encode(msg Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, errs.Frame("frame.encode", err)
	}
	return b, nil
}

// Decode reads the type tag off data and unmarshals into the matching
// concrete variant, or returns *Unknown if the tag is unrecognized.
func Decode(data []byte) (Message, error) {
	var tag typeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, errs.Frame("frame.decode", err)
	}

	var msg Message
	switch tag.Type {
	case TypeRegister:
		msg = &Register{}
	case TypeRegistered:
		msg = &Registered{}
	case TypePasswordChallenge:
		msg = &PasswordChallenge{}
	case TypePasswordAttempt:
		msg = &PasswordAttempt{}
	case TypePasswordRequired:
		msg = &PasswordRequired{}
	case TypePasswordNotRequired:
		msg = &PasswordNotRequired{}
	case TypePasswordAccepted:
		msg = &PasswordAccepted{}
	case TypePasswordRejected:
		msg = &PasswordRejected{}
	case TypeKeyExchangeRequest:
		msg = &KeyExchangeRequest{}
	case TypeKeyExchangeResponse:
		msg = &KeyExchangeResponse{}
	case TypePeerInfo:
		msg = &PeerInfo{}
	case TypePing:
		msg = &Ping{}
	case TypePong:
		msg = &Pong{}
	case TypeAccessDenied:
		msg = &AccessDenied{}
	case TypeDiscoverNodes:
		msg = &DiscoverNodes{}
	case TypeNodeList:
		msg = &NodeList{}
	case TypeGetChats:
		msg = &GetChats{}
	case TypeChatList:
		msg = &ChatList{}
	case TypeCreateChat:
		msg = &CreateChat{}
	case TypeChatCreated:
		msg = &ChatCreated{}
	case TypeChatAvailable:
		msg = &ChatAvailable{}
	case TypeJoinChat:
		msg = &JoinChat{}
	case TypeUserJoined:
		msg = &UserJoined{}
	case TypeSendChatMessage:
		msg = &SendChatMessage{}
	case TypeEncryptedMessage:
		msg = &EncryptedMessage{}
	case TypeChatHistory:
		msg = &ChatHistory{}
	case TypeSecureMessage:
		msg = &SecureMessage{}
	default:
		return &Unknown{RawType: tag.Type, Raw: data}, nil
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errs.Frame("frame.decode", err)
	}
	return msg, nil
}
