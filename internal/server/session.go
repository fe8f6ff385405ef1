// Package server manages individual client connections, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"bufio"
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/bboard/internal/board"
	"github.com/Tyrowin/bboard/internal/protocol"
)

const welcomeMessage = "Welcome to the Bulletin Board. Please set your username."

// Session is the connection handler of one client. The read pump decodes
// and dispatches requests; the write pump is the only writer of the
// connection and drains the send queue, which carries direct replies and
// broadcast events alike.
type Session struct {
	id           board.ClientID
	transport    transport
	server       *Server
	send         chan []byte
	limiter      *rateLimiter
	writeTimeout time.Duration
	log          *slog.Logger

	mu      sync.Mutex
	closed  bool
	cleanup sync.Once
}

func newSession(s *Server, t transport) *Session {
	return &Session{
		transport:    t,
		server:       s,
		send:         make(chan []byte, s.cfg.SendBuffer),
		limiter:      newRateLimiter(s.cfg.RateLimitBurst, s.cfg.RateLimitRefillInterval),
		writeTimeout: s.cfg.WriteTimeout,
		log:          s.log.With("addr", t.RemoteAddr(), "transport", t.Kind()),
	}
}

// Deliver implements board.Deliverer. A client whose queue is full is
// evicted instead of slowing down everyone else.
func (c *Session) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("Send queue full; evicting slow client", "queued", len(c.send))
		c.closeSendLocked()
		go c.abort()
		return false
	}
}

func (c *Session) reply(v any) {
	frame, err := protocol.Encode(v)
	if err != nil {
		c.log.Error("Error encoding reply", "error", err)
		return
	}
	if !c.Deliver(frame) {
		c.log.Debug("Reply dropped; session closing")
	}
}

func (c *Session) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSendLocked()
}

func (c *Session) closeSendLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// abort drops the connection; the read pump then runs the disconnect path.
func (c *Session) abort() {
	if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error closing connection", "error", err)
	}
}

func (c *Session) readPump() {
	defer c.server.disconnect(c)

	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			c.logReadError(err)
			return
		}
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}

		if !c.limiter.allow() {
			c.log.Debug("Rate limit exceeded; discarding request",
				"burst", c.server.cfg.RateLimitBurst, "interval", c.server.cfg.RateLimitRefillInterval)
			c.reply(protocol.NewError(protocol.ErrRateLimited, "Rate limit exceeded"))
			continue
		}

		cmd, err := protocol.Decode(frame)
		if err != nil {
			c.log.Debug("Rejected request", "error", err)
			c.reply(protocol.NewRequestError(err))
			continue
		}

		replies, outcome := c.server.dispatcher.Dispatch(c.id, cmd)
		for _, r := range replies {
			c.reply(r)
		}

		switch outcome {
		case CloseConnection:
			return
		case StopServer:
			c.log.Info("Shutdown requested by client")
			c.server.Stop()
			return
		}
	}
}

func (c *Session) logReadError(err error) {
	switch {
	case errors.Is(err, bufio.ErrTooLong):
		c.log.Warn("Request exceeded maximum size; closing connection", "max", c.server.cfg.MaxMessageSize)
	case isExpectedCloseError(err):
		c.log.Debug("Connection closed", "error", err)
	default:
		c.log.Warn("Read error", "error", err)
	}
}

func (c *Session) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.closeSend()
		c.abort()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(frame); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn("Write error", "error", err)
				}
				return
			}
		case <-ticker.C:
			if err := c.keepalive(); err != nil {
				c.log.Debug("Keepalive failed", "error", err)
				return
			}
		}
	}
}

func (c *Session) write(frame []byte) error {
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.transport.WriteFrame(frame)
}

func (c *Session) keepalive() error {
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.transport.Keepalive()
}
