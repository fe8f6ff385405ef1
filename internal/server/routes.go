// Package server wires HTTP handlers into a ServeMux for the WebSocket
// gateway.
package server

import "net/http"

// Routes returns the gateway mux: a health check on "/" and the WebSocket
// endpoint on "/ws".
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", healthHandler)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}
