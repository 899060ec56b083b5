package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"testing"
)

func TestListenProbesNextFreePort(t *testing.T) {
	held, _, err := Listen(0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer held.Close()
	heldPort := held.Addr().(*net.TCPAddr).Port

	ln, port, err := Listen(heldPort)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if port == heldPort {
		t.Fatalf("expected a different port than the held one, got %d", port)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(func(*Conn) {}, func() HealthInfo {
		return HealthInfo{Status: "ok", NodeID: "abc123", NodesCount: 2, ChatsCount: 1, Mode: "host"}
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close()

	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.NodeID != "abc123" || info.NodesCount != 2 || info.Mode != "host" {
		t.Fatalf("unexpected health payload: %+v", info)
	}
}

func TestServeShutdown(t *testing.T) {
	srv := NewServer(func(*Conn) {}, func() HealthInfo { return HealthInfo{} })
	ln, _, err := Listen(0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("serve returned error after shutdown: %v", err)
	}
}
