package peertable

import "testing"

func TestMarkPendingClaimsOnce(t *testing.T) {
	tbl := New()
	if !tbl.MarkPending("a") {
		t.Fatal("first MarkPending should claim the slot")
	}
	if tbl.MarkPending("a") {
		t.Fatal("second MarkPending on the same id must not re-claim")
	}
}

func TestGetRequiresEstablished(t *testing.T) {
	tbl := New()
	if _, ok := tbl.Get("a"); ok {
		t.Fatal("Get on an absent id must report not-ok")
	}
	tbl.MarkPending("a")
	if _, ok := tbl.Get("a"); ok {
		t.Fatal("Get on a pending id must report not-ok")
	}
	var secret [32]byte
	secret[0] = 7
	tbl.Put("a", secret)
	got, ok := tbl.Get("a")
	if !ok || got != secret {
		t.Fatalf("Get after Put: got %v, %v", got, ok)
	}
}

func TestPutSameSecretIsIdempotent(t *testing.T) {
	tbl := New()
	var secret [32]byte
	secret[0] = 1
	tbl.Put("a", secret)
	tbl.Put("a", secret) // must not panic
	got, ok := tbl.Get("a")
	if !ok || got != secret {
		t.Fatal("secret changed after idempotent Put")
	}
}

func TestPutDifferentSecretPanics(t *testing.T) {
	tbl := New()
	var first, second [32]byte
	first[0], second[0] = 1, 2
	tbl.Put("a", first)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic overwriting an established secret with a different value")
		}
	}()
	tbl.Put("a", second)
}

func TestDeleteReleasesEntry(t *testing.T) {
	tbl := New()
	tbl.MarkPending("a")
	tbl.Delete("a")
	if tbl.Has("a") {
		t.Fatal("entry should be gone after Delete")
	}
	if !tbl.MarkPending("a") {
		t.Fatal("MarkPending should succeed again after Delete")
	}
}
