package server

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServer_BulletinBoardSession(t *testing.T) {
	req := require.New(t)
	srv, _ := startServer(t, testConfig())

	alice := dial(t, srv)
	alice.login("alice")
	history, users := alice.join("public")
	req.Empty(history["messages"])
	req.Equal([]any{"alice"}, users["users"])

	bob := dial(t, srv)
	bob.send(map[string]any{"action": "set_username", "username": "alice"})
	taken := bob.read()
	req.Equal("error", taken["type"])
	req.Equal("username_taken", taken["code"])
	bob.login("bob")
	_, users = bob.join("public")
	req.Equal([]any{"alice", "bob"}, users["users"])

	joined := alice.read()
	req.Equal(map[string]any{"type": "event", "event": "user_joined", "group": "public", "user": "bob"}, joined)

	bob.send(map[string]any{"action": "post", "group": "public", "subject": "Hi", "body": "Hello"})
	for _, c := range []*lineClient{alice, bob} {
		event := c.read()
		req.Equal("new_message", event["event"])
		req.Equal("public", event["group"])
		req.EqualValues(1, event["id"])
		req.Equal("bob", event["sender"])
		req.Equal("Hi", event["subject"])
		req.Len(event["date"], len("2006-01-02T15:04:05"))
	}

	alice.send(map[string]any{"action": "get_message", "group": "public", "id": 1})
	resp := alice.read()
	req.Equal("message", resp["command"])
	msg := resp["message"].(map[string]any)
	req.Equal("Hello", msg["body"])
	req.Equal("bob", msg["sender"])

	alice.send(map[string]any{"action": "exit"})
	alice.expectClosed()

	left := bob.read()
	req.Equal(map[string]any{"type": "event", "event": "user_left", "group": "public", "user": "alice"}, left)

	// a late joiner sees the tail of the history
	carol := dial(t, srv)
	carol.login("carol")
	history, _ = carol.join("public")
	messages := history["messages"].([]any)
	req.Len(messages, 1)
	req.Equal("Hello", messages[0].(map[string]any)["body"])
}

func TestServer_BadRequestsKeepConnectionOpen(t *testing.T) {
	req := require.New(t)
	srv, _ := startServer(t, testConfig())
	c := dial(t, srv)

	c.sendRaw("not json")
	reply := c.read()
	req.Equal("error", reply["type"])
	req.Equal("invalid_json", reply["code"])

	c.sendRaw("")
	c.sendRaw(`{"action":"dance"}`)
	reply = c.read()
	req.Equal("unknown_action", reply["code"])
	req.Equal("Unknown action: dance", reply["message"])

	c.sendRaw(`{"action":"join","group":"public"}`)
	reply = c.read()
	req.Equal("username_required", reply["code"])

	c.sendRaw(`{"action":"groups"}`)
	reply = c.read()
	req.Equal([]any{"group1", "group2", "group3", "group4", "group5", "public"}, reply["groups"])
}

func TestServer_DefaultGroupIsPublic(t *testing.T) {
	req := require.New(t)
	srv, _ := startServer(t, testConfig())
	c := dial(t, srv)
	c.login("dave")

	c.sendRaw(`{"action":"join"}`)
	history := c.read()
	req.Equal("public", history["group"])
	users := c.read()
	req.Equal("public", users["group"])
	req.Equal([]any{"dave"}, users["users"])

	// an explicit empty name is not the default group
	c.sendRaw(`{"action":"join","group":""}`)
	reply := c.read()
	req.Equal("unknown_group", reply["code"])
	req.Equal("Unknown group: ", reply["message"])
}

func TestServer_DisconnectReleasesUsername(t *testing.T) {
	req := require.New(t)
	srv, _ := startServer(t, testConfig())

	alice := dial(t, srv)
	alice.login("alice")
	alice.join("group2")

	bob := dial(t, srv)
	bob.login("bob")
	bob.join("group2")
	alice.read() // user_joined bob

	req.NoError(bob.conn.Close())
	left := alice.read()
	req.Equal("user_left", left["event"])
	req.Equal("bob", left["user"])

	req.Eventually(func() bool { return srv.registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	again := dial(t, srv)
	again.login("bob")
}

func TestServer_OversizedRequestClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 64
	srv, _ := startServer(t, cfg)

	c := dial(t, srv)
	c.sendRaw(`{"action":"set_username","username":"` + strings.Repeat("x", 200) + `"}`)
	c.expectClosed()
}

func TestServer_MaxMessageSizeBelowScannerDefault(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.MaxMessageSize = 1024
	srv, _ := startServer(t, cfg)

	c := dial(t, srv)

	// a line of exactly the limit is still a request
	head := `{"action":"post","group":"public","subject":"s","body":"`
	tail := `"}`
	c.sendRaw(head + strings.Repeat("x", cfg.MaxMessageSize-len(head)-len(tail)) + tail)
	req.Equal("username_required", c.read()["code"])

	// one well past it ends the connection
	c.sendRaw(head + strings.Repeat("x", 3000) + tail)
	c.expectClosed()
}

func TestServer_RateLimit(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.RateLimitBurst = 2
	cfg.RateLimitRefillInterval = time.Hour
	srv, _ := startServer(t, cfg)

	c := dial(t, srv)
	for range 3 {
		c.sendRaw(`{"action":"groups"}`)
	}
	req.Equal("groups", c.read()["command"])
	req.Equal("groups", c.read()["command"])
	reply := c.read()
	req.Equal("rate_limited", reply["code"])
}

func TestServer_ShutdownCommandDrainsClients(t *testing.T) {
	req := require.New(t)
	srv, done := startServer(t, testConfig())

	admin := dial(t, srv)
	other := dial(t, srv)
	other.login("other")

	admin.send(map[string]any{"action": "shutdown"})
	notice := admin.read()
	req.Equal("shutting_down", notice["subtype"])
	admin.expectClosed()

	notice = other.read()
	req.Equal("shutting_down", notice["subtype"])
	other.expectClosed()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(3 * time.Second):
		req.Fail("Serve did not return after shutdown")
	}

	_, err := net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond)
	req.Error(err)
}

func TestServer_ContextCancelStopsServe(t *testing.T) {
	req := require.New(t)
	srv := New(testConfig(), testLogger())
	req.NoError(srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	c := dial(t, srv)

	cancel()
	req.Equal("shutting_down", c.read()["subtype"])
	c.expectClosed()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(3 * time.Second):
		req.Fail("Serve did not return after cancel")
	}

	// Stop after Serve returned is harmless
	srv.Stop()
	srv.Stop()
	select {
	case <-srv.Stopped():
	default:
		req.Fail("stop signal not set")
	}
}

func TestServer_ListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()

	cfg := testConfig()
	cfg.Port = busy.Addr().(*net.TCPAddr).Port
	srv := New(cfg, testLogger())
	require.Error(t, srv.Listen())
}
