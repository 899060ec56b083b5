// Package aead implements the symmetric sealing layer: a salted
// password-based stretch from a KEM shared secret to a 256-bit key, and
// AES-256-GCM seal/open over that key with a fresh random 96-bit nonce
// per call. golang.org/x/crypto/pbkdf2 performs the stretch (the single
// ecosystem dependency this package needs); the AEAD cipher itself is
// stdlib crypto/aes + crypto/cipher, exactly as every AEAD user in the
// reference pack (ethereum/whisper, smux, occlude) does — there is no
// ecosystem library that wraps NIST GCM more idiomatically than the
// standard library already does.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/melq/melq/internal/errs"
)

const (
	// KeySize is the derived symmetric key length in bytes (256 bits).
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes (96 bits).
	NonceSize = 12
	// iterations is the PBKDF2 work factor; the spec requires >= 100000.
	iterations = 200_000
)

// salt and associatedData are fixed protocol constants shared by both
// sides; they do not need to be secret, only stable across the fleet.
var (
	salt           = []byte("melq/pairwise-key/v1")
	associatedData = []byte("melq/frame/v1")
)

// Key is a derived 256-bit symmetric key.
type Key [KeySize]byte

// Derive stretches a raw KEM shared secret into a symmetric key via
// salted PBKDF2-HMAC-SHA256.
func Derive(sharedSecret []byte) Key {
	raw := pbkdf2.Key(sharedSecret, salt, iterations, KeySize, sha256.New)
	var k Key
	copy(k[:], raw)
	return k
}

// Record is a sealed ciphertext with its nonce and (GCM-appended) tag.
// Ciphertext already carries the tag, per Go's cipher.AEAD convention;
// Nonce is kept alongside it so the wire format can carry both
// explicitly as the spec's {ciphertext, nonce, tag} record names.
type Record struct {
	Ciphertext []byte
	Nonce      []byte
}

func gcm(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key with a fresh random nonce.
func Seal(plaintext []byte, key Key) (Record, error) {
	g, err := gcm(key)
	if err != nil {
		return Record{}, errs.Crypto("aead.seal", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Record{}, errs.Crypto("aead.seal.nonce", err)
	}
	ct := g.Seal(nil, nonce, plaintext, associatedData)
	return Record{Ciphertext: ct, Nonce: nonce}, nil
}

// Open decrypts and authenticates a record. Tag failure and associated
// data mismatch both surface as the same CryptoError, as mandated.
func Open(rec Record, key Key) ([]byte, error) {
	if len(rec.Nonce) != NonceSize {
		return nil, errs.Crypto("aead.open", fmt.Errorf("bad nonce length: %d", len(rec.Nonce)))
	}
	g, err := gcm(key)
	if err != nil {
		return nil, errs.Crypto("aead.open", err)
	}
	pt, err := g.Open(nil, rec.Nonce, rec.Ciphertext, associatedData)
	if err != nil {
		return nil, errs.Crypto("aead.open", fmt.Errorf("authentication failed: %w", err))
	}
	return pt, nil
}
