package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/melq/melq/internal/errs"
)

// MaxPortProbe bounds how far above the requested port the hub will
// search for a free one before giving up.
const MaxPortProbe = 50

// HealthInfo is the shape served at /health.
type HealthInfo struct {
	Status     string `json:"status"`
	NodeID     string `json:"nodeId"`
	NodesCount int    `json:"nodes_count"`
	ChatsCount int    `json:"chats_count"`
	Mode       string `json:"mode"`
}

// Server hosts the /ws upgrade endpoint and the /health check endpoint
// on one *http.Server, matching the reference transport choice in the
// wire protocol spec.
type Server struct {
	httpSrv  *http.Server
	upgrader websocket.Upgrader
	onConn   func(*Conn)
	health   func() HealthInfo
}

// NewServer builds a Server. onConn is invoked (in its own goroutine,
// by the caller's Serve loop via the HTTP handler) for every accepted
// /ws upgrade; health is called lazily on every /health request.
func NewServer(onConn func(*Conn), health func() HealthInfo) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		onConn: onConn,
		health: health,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	s.httpSrv = &http.Server{Handler: mux}
	return s
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.onConn(newConn(ws))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.health())
}

// Listen tries to bind requestedPort, then probes requestedPort+1 ..
// requestedPort+MaxPortProbe, returning the first free listener and the
// port it bound. Returns a ResourceError if every probed port is busy.
func Listen(requestedPort int) (net.Listener, int, error) {
	for port := requestedPort; port <= requestedPort+MaxPortProbe; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
	}
	return nil, 0, errs.Resource("transport.listen",
		fmt.Errorf("no free port in [%d, %d]", requestedPort, requestedPort+MaxPortProbe))
}

// Handler exposes the underlying http.Handler, for tests that want to
// drive the server through an httptest.Server instead of a real socket.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Serve runs the HTTP server on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpSrv.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return errs.Transport("transport.serve", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
