package aead

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	key := Derive([]byte("shared-secret"))
	plaintext := []byte("hello, room")

	rec, err := Seal(plaintext, key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(rec.Nonce) != NonceSize {
		t.Fatalf("nonce size: got %d want %d", len(rec.Nonce), NonceSize)
	}

	opened, err := Open(rec, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("plaintext mismatch: got %q want %q", opened, plaintext)
	}
}

func TestOpenFailsWithWrongKey(t *testing.T) {
	key1 := Derive([]byte("secret-one"))
	key2 := Derive([]byte("secret-two"))

	rec, err := Seal([]byte("hello"), key1)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(rec, key2); err == nil {
		t.Fatal("expected open to fail with mismatched key")
	}
}

func TestSealNoncesDiffer(t *testing.T) {
	key := Derive([]byte("secret"))
	rec1, _ := Seal([]byte("m"), key)
	rec2, _ := Seal([]byte("m"), key)
	if string(rec1.Nonce) == string(rec2.Nonce) {
		t.Fatal("expected distinct nonces across seal calls")
	}
}

func TestDeriveDeterministic(t *testing.T) {
	k1 := Derive([]byte("x"))
	k2 := Derive([]byte("x"))
	if k1 != k2 {
		t.Fatal("derive should be deterministic for the same input")
	}
}
