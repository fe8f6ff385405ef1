// Package server implements the bulletin board TCP server.
//
// The implementation is organized into specialized files for configuration,
// connection sessions, command dispatch, group broadcasts, transports and the
// optional WebSocket gateway, so each concern can be tested on its own.
package server
