package kem

import "testing"

func TestGenerateSizes(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(kp.PublicSeed) != PublicKeySize {
		t.Fatalf("public key size: got %d want %d", len(kp.PublicSeed), PublicKeySize)
	}
}

func TestEncapsulateDecapsulateRoundTrip(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	enc, err := Encapsulate(kp.Public)
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	if len(enc.Ciphertext) != CiphertextSize {
		t.Fatalf("ciphertext size: got %d want %d", len(enc.Ciphertext), CiphertextSize)
	}
	if len(enc.SharedSecret) != SharedSecretSize {
		t.Fatalf("shared secret size: got %d want %d", len(enc.SharedSecret), SharedSecretSize)
	}

	ss, err := Decapsulate(kp.Private, enc.Ciphertext)
	if err != nil {
		t.Fatalf("decapsulate: %v", err)
	}
	if string(ss) != string(enc.SharedSecret) {
		t.Fatal("decapsulated secret does not match encapsulated secret")
	}
}

func TestUnmarshalPublicRoundTrip(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pub, err := UnmarshalPublic(kp.PublicSeed)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	enc, err := Encapsulate(pub)
	if err != nil {
		t.Fatalf("encapsulate against unmarshaled key: %v", err)
	}
	ss, err := Decapsulate(kp.Private, enc.Ciphertext)
	if err != nil {
		t.Fatalf("decapsulate: %v", err)
	}
	if string(ss) != string(enc.SharedSecret) {
		t.Fatal("mismatch after unmarshal round trip")
	}
}

func TestDecapsulateMalformedCiphertext(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Decapsulate(kp.Private, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decapsulating malformed ciphertext")
	}
}
