// Package server constructs the HTTP server behind the WebSocket gateway.
package server

import (
	"net/http"
	"time"
)

// createGatewayServer wraps handler with the gateway timeouts. Hijacked
// WebSocket connections are not subject to them.
func createGatewayServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
