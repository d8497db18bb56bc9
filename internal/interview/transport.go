package interview

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Close codes the client distinguishes.
const (
	StatusNormalClosure   = int(websocket.StatusNormalClosure)
	StatusProtocolError   = int(websocket.StatusProtocolError)
	StatusAbnormalClosure = int(websocket.StatusAbnormalClosure)
	StatusPolicyViolation = int(websocket.StatusPolicyViolation)
	StatusInternalError   = int(websocket.StatusInternalError)
)

// maxFrameBytes bounds inbound frames; question messages may carry several
// seconds of base64 audio.
const maxFrameBytes = 16 << 20

// CloseError is returned by [Conn.Read] when the peer closed the socket.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("interview: socket closed: code=%d reason=%q", e.Code, e.Reason)
}

// Conn is one open duplex socket. Read is called from a single goroutine;
// Write from another; Close may be called concurrently with both.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens sockets. Tests supply fakes.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with github.com/coder/websocket.
type WebsocketDialer struct {
	// HTTPClient is used for the handshake. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// Dial implements [Dialer].
func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameBytes)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
