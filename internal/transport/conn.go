package transport

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/melq/melq/internal/errs"
	"github.com/melq/melq/internal/frame"
)

// Conn is one bidirectional stream connection, carrying JSON text
// frames. It wraps a *websocket.Conn the way the teacher wrapped a raw
// net.Conn in its length-delimited wire format — one ReadFrame/WriteFrame
// pair, with writes serialized since gorilla/websocket forbids
// concurrent writers on one connection.
type Conn struct {
	ws       *websocket.Conn
	writeMu  chan struct{} // 1-buffered mutex, cheap to select on for close races
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, writeMu: make(chan struct{}, 1)}
	c.writeMu <- struct{}{}
	return c
}

// ReadFrame blocks for the next frame, decoding it into the matching
// frame.Message variant (or *frame.Unknown for unrecognized types).
func (c *Conn) ReadFrame() (frame.Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, errs.Transport("conn.read", err)
	}
	return frame.Decode(data)
}

// WriteFrame encodes and sends msg, serialized against other writers.
func (c *Conn) WriteFrame(msg frame.Message) error {
	data, err := frame.Encode(msg)
	if err != nil {
		return err
	}
	<-c.writeMu
	defer func() { c.writeMu <- struct{}{} }()

	if err := c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return errs.Transport("conn.write.deadline", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errs.Transport("conn.write", err)
	}
	return nil
}

// Ping sends a transport-level ping control frame.
func (c *Conn) Ping() error {
	<-c.writeMu
	defer func() { c.writeMu <- struct{}{} }()
	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
		return errs.Transport("conn.ping", err)
	}
	return nil
}

// SetPongHandler registers fn to run whenever a pong control frame
// arrives from the peer.
func (c *Conn) SetPongHandler(fn func(appData string) error) {
	c.ws.SetPongHandler(fn)
}

// Close closes the underlying connection with a normal close frame.
func (c *Conn) Close() error {
	<-c.writeMu
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	c.writeMu <- struct{}{}
	return c.ws.Close()
}

// IsNormalClose reports whether err represents a normal peer-initiated
// close, as opposed to an abnormal disconnect. err arrives wrapped in an
// *errs.Error (ReadFrame wraps every read failure via errs.Transport), so
// the underlying *websocket.CloseError has to be unwrapped rather than
// type-asserted directly.
func IsNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
}

// Dial opens a client connection to a resolved transport URL (as
// returned by ParseConnectionCode).
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errs.Transport("conn.dial", err)
	}
	return newConn(ws), nil
}
