// Package server exposes HTTP handlers for the WebSocket gateway, including
// WebSocket upgrades and health checks.
package server

import (
	"fmt"
	"net/http"
)

// handleWebSocket upgrades the request and runs a session on the new
// connection. The session speaks the same protocol as a TCP client, one
// object per text message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	draining := s.draining
	s.mu.Unlock()
	if draining {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	s.startSession(newWSTransport(conn, r.RemoteAddr, s.cfg.MaxMessageSize))
}

// healthHandler responds with a plain text status line.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Bulletin board server is running!")
}
