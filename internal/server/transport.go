package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
)

var newline = []byte{'\n'}

// transport moves whole request and response frames over one connection.
// ReadFrame is only called from the read pump; every other write-side method
// is only called from the write pump.
type transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Keepalive() error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
	Kind() string
}

// tcpTransport frames each object as one newline-terminated line.
type tcpTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// newTCPTransport accepts lines of at most maxFrame bytes. The scanner
// buffer also holds the newline, and its initial capacity must not exceed
// the limit or the scanner would allow longer lines.
func newTCPTransport(conn net.Conn, maxFrame int) *tcpTransport {
	scanner := bufio.NewScanner(conn)
	limit := maxFrame + 1
	scanner.Buffer(make([]byte, 0, min(4096, limit)), limit)
	return &tcpTransport{conn: conn, scanner: scanner}
}

func (t *tcpTransport) ReadFrame() ([]byte, error) {
	if t.scanner.Scan() {
		return t.scanner.Bytes(), nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (t *tcpTransport) WriteFrame(frame []byte) error {
	// frame is shared between recipients of a broadcast, so it is never
	// appended to.
	buffers := net.Buffers{frame, newline}
	_, err := buffers.WriteTo(t.conn)
	return err
}

func (t *tcpTransport) Keepalive() error { return nil }

func (t *tcpTransport) SetWriteDeadline(deadline time.Time) error {
	return t.conn.SetWriteDeadline(deadline)
}

func (t *tcpTransport) Close() error      { return t.conn.Close() }
func (t *tcpTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }
func (t *tcpTransport) Kind() string       { return "tcp" }

// wsTransport carries one JSON object per WebSocket text message.
type wsTransport struct {
	conn *websocket.Conn
	addr string
}

func newWSTransport(conn *websocket.Conn, addr string, maxFrame int) *wsTransport {
	conn.SetReadLimit(int64(maxFrame))
	t := &wsTransport{conn: conn, addr: addr}
	t.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		t.extendReadDeadline()
		return nil
	})
	return t
}

func (t *wsTransport) extendReadDeadline() {
	_ = t.conn.SetReadDeadline(time.Now().Add(wsReadWait))
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, frame, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	t.extendReadDeadline()
	return frame, nil
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Keepalive() error {
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) SetWriteDeadline(deadline time.Time) error {
	return t.conn.SetWriteDeadline(deadline)
}

// Close sends a close frame on a best-effort basis before dropping the
// connection.
func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string { return t.addr }
func (t *wsTransport) Kind() string       { return "websocket" }

// isExpectedCloseError checks if an error is expected during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
