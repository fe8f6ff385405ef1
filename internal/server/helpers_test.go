package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

// frameSink is a board.Deliverer that records every frame it accepts.
type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (f *frameSink) Deliver(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *frameSink) objects(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, frame := range f.frames {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(frame, &obj))
		out = append(out, obj)
	}
	return out
}

func (f *frameSink) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// testConfig returns a loopback configuration with short timeouts.
func testConfig() Config {
	cfg := NewConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.RateLimitBurst = 1000
	cfg.AcceptPollInterval = 20 * time.Millisecond
	cfg.WriteTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// startServer listens on an ephemeral port and serves in the background.
// The returned channel receives the result of Serve.
func startServer(t *testing.T, cfg Config) (*Server, <-chan error) {
	t.Helper()
	srv := New(cfg, testLogger())
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		done <- srv.Serve(t.Context())
	}()
	t.Cleanup(func() {
		srv.Stop()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, done
}

// lineClient is a TCP test client exchanging one JSON object per line.
type lineClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, srv *Server) *lineClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &lineClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	welcome := c.read()
	require.Equal(t, "info", welcome["type"])
	require.Equal(t, welcomeMessage, welcome["message"])
	return c
}

func (c *lineClient) sendRaw(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *lineClient) send(v any) {
	c.t.Helper()
	frame, err := json.Marshal(v)
	require.NoError(c.t, err)
	c.sendRaw(string(frame))
}

func (c *lineClient) read() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadBytes('\n')
	require.NoError(c.t, err)
	var obj map[string]any
	require.NoError(c.t, json.Unmarshal(line, &obj), "line: %s", line)
	return obj
}

// expectClosed reads until the server closes the connection.
func (c *lineClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, err := c.reader.ReadBytes('\n'); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.t.Fatal("connection was not closed")
			}
			return
		}
	}
}

// expectQuiet fails when anything arrives within d.
func (c *lineClient) expectQuiet(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	line, err := c.reader.ReadBytes('\n')
	require.Error(c.t, err, "unexpected frame: %s", line)
}

// login sets the username and consumes the two replies.
func (c *lineClient) login(name string) {
	c.t.Helper()
	c.send(map[string]any{"action": "set_username", "username": name})
	accepted := c.read()
	require.Equal(c.t, "username_accepted", accepted["subtype"])
	groups := c.read()
	require.Equal(c.t, "groups", groups["command"])
}

// join joins group and returns the history and users replies.
func (c *lineClient) join(group string) (history, users map[string]any) {
	c.t.Helper()
	c.send(map[string]any{"action": "join", "group": group})
	history = c.read()
	require.Equal(c.t, "history", history["type"], "got %v", history)
	users = c.read()
	require.Equal(c.t, "users", users["command"], "got %v", users)
	return history, users
}
