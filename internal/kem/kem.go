// Package kem wraps a post-quantum Key Encapsulation Mechanism. It
// implements generate/encapsulate/decapsulate over ML-KEM-768 (the
// Module-Lattice KEM at the 192-bit security tier), matching the
// teacher's use of a circl kem.Scheme for key material while swapping
// the X25519-HPKE scheme for the NIST-standardized PQ one the spec
// mandates.
package kem

import (
	"fmt"

	circlkem "github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/melq/melq/internal/errs"
)

// scheme is fixed module-wide: both sides of every exchange must agree,
// and the spec allows any ML-KEM parameter set at the 192-bit level.
var scheme = mlkem768.Scheme()

// PublicKeySize, PrivateKeySize, CiphertextSize, SharedSecretSize are the
// fixed lengths mandated by ML-KEM-768.
var (
	PublicKeySize    = scheme.PublicKeySize()
	PrivateKeySize   = scheme.PrivateKeySize()
	CiphertextSize   = scheme.CiphertextSize()
	SharedSecretSize = scheme.SharedKeySize()
)

// KeyPair holds a generated public/private key pair, plus the public key
// already marshaled to bytes for advertising over the wire.
type KeyPair struct {
	Public     circlkem.PublicKey
	Private    circlkem.PrivateKey
	PublicSeed []byte // marshaled form of Public, safe to advertise
}

// Generate creates a fresh keypair.
func Generate() (KeyPair, error) {
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, errs.Crypto("kem.generate", err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return KeyPair{}, errs.Crypto("kem.generate.marshal", err)
	}
	return KeyPair{Public: pub, Private: priv, PublicSeed: pubBytes}, nil
}

// UnmarshalPublic decodes a public key advertised by a peer.
func UnmarshalPublic(b []byte) (circlkem.PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, errs.Crypto("kem.unmarshal_public", fmt.Errorf("bad public key length: %d", len(b)))
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(b)
	if err != nil {
		return nil, errs.Crypto("kem.unmarshal_public", err)
	}
	return pk, nil
}

// Encapsulated is the result of an encapsulation: the ciphertext to send
// to the recipient, and the shared secret only the local side keeps.
type Encapsulated struct {
	Ciphertext   []byte
	SharedSecret []byte
}

// Encapsulate performs the sender half of a KEM exchange against a
// recipient's public key.
func Encapsulate(recipientPub circlkem.PublicKey) (Encapsulated, error) {
	ct, ss, err := scheme.Encapsulate(recipientPub)
	if err != nil {
		return Encapsulated{}, errs.Crypto("kem.encapsulate", err)
	}
	return Encapsulated{Ciphertext: ct, SharedSecret: ss}, nil
}

// Decapsulate performs the receiver half: recovering the shared secret
// from a ciphertext using the local private key. A ciphertext of the
// wrong length fails with a CryptoError. A well-formed ciphertext under a
// mismatched key does not fail here: circl's ML-KEM uses constant-time
// implicit rejection and returns an unrelated secret, so the mismatch
// only shows later, when a key derived from it fails to open a record.
func Decapsulate(priv circlkem.PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != CiphertextSize {
		return nil, errs.Crypto("kem.decapsulate", fmt.Errorf("bad ciphertext length: %d", len(ciphertext)))
	}
	ss, err := scheme.Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, errs.Crypto("kem.decapsulate", err)
	}
	return ss, nil
}
