// Package server accepts client connections, runs one connection handler per
// client, and drains every connection on shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Tyrowin/bboard/internal/board"
	"github.com/Tyrowin/bboard/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Server owns the listeners, the shared board state and the set of active
// sessions.
type Server struct {
	cfg         Config
	log         *slog.Logger
	registry    *board.Registry
	store       *board.GroupStore
	broadcaster *Broadcaster
	dispatcher  *Dispatcher
	upgrader    websocket.Upgrader

	listener   *net.TCPListener
	wsListener net.Listener
	httpServer *http.Server

	mu       sync.Mutex
	sessions map[*Session]struct{}
	draining bool
	wg       sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
}

// New wires the registry, group store, broadcaster and dispatcher for cfg.
func New(cfg Config, log *slog.Logger) *Server {
	cfg = cfg.sanitize()
	registry := board.NewRegistry()
	broadcaster := NewBroadcaster(registry, log)
	store := board.NewGroupStore(cfg.GroupNames(),
		board.WithHistoryTail(cfg.HistoryTail),
		board.WithObserver(broadcaster.Publish))

	s := &Server{
		cfg:         cfg,
		log:         log,
		registry:    registry,
		store:       store,
		broadcaster: broadcaster,
		dispatcher:  NewDispatcher(registry, store, log),
		sessions:    make(map[*Session]struct{}),
		stop:        make(chan struct{}),
	}

	origins := newOriginPolicy(cfg.OriginList(), log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return s
}

// Listen binds the TCP listener and, when configured, the WebSocket gateway.
// A bind failure is the only fatal startup error.
func (s *Server) Listen() error {
	addr, err := net.ResolveTCPAddr("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", s.cfg.Address(), err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address(), err)
	}
	s.listener = ln

	if s.cfg.WSAddr == "" {
		return nil
	}
	wsLn, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.WSAddr, err)
	}
	s.wsListener = wsLn
	s.httpServer = createGatewayServer(s.Routes())
	return nil
}

// Addr returns the bound TCP address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WSAddr returns the bound WebSocket gateway address, or nil when disabled.
func (s *Server) WSAddr() net.Addr {
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Addr()
}

// Stop signals shutdown. It is idempotent and never cleared.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("Stop requested")
		close(s.stop)
	})
}

// Stopped is closed once Stop has been called.
func (s *Server) Stopped() <-chan struct{} {
	return s.stop
}

// Serve accepts connections until ctx is done or Stop is called, then
// disconnects every client. It returns context.DeadlineExceeded when some
// connections did not finish within the shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	if s.httpServer != nil {
		go func() {
			s.log.Info("WebSocket gateway listening", "address", s.wsListener.Addr().String())
			if err := s.httpServer.Serve(s.wsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("WebSocket gateway error", "error", err)
			}
		}()
	}

	s.log.Info("Server listening", "address", s.listener.Addr().String())
	err := s.acceptLoop(ctx)
	s.Stop()

	if drainErr := s.drain(); err == nil {
		err = drainErr
	}
	return err
}

// acceptLoop waits for connections with a deadline so the stop signal is
// noticed within AcceptPollInterval.
func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		default:
		}

		if err := s.listener.SetDeadline(time.Now().Add(s.cfg.AcceptPollInterval)); err != nil {
			return fmt.Errorf("failed to set accept deadline: %w", err)
		}
		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stop:
				return nil
			default:
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.startSession(newTCPTransport(conn, s.cfg.MaxMessageSize))
	}
}

// startSession registers the client, queues the welcome message and starts
// both pumps.
func (s *Server) startSession(t transport) {
	c := newSession(s, t)
	c.reply(protocol.NewInfo(welcomeMessage))
	c.id = s.registry.Register(c)
	c.log = c.log.With("client", c.id)

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.registry.Unregister(c.id)
		c.log.Info("Rejecting connection during shutdown")
		_ = t.Close()
		return
	}
	s.sessions[c] = struct{}{}
	total := len(s.sessions)
	s.wg.Add(2)
	s.mu.Unlock()

	c.log.Info("New connection", "clients", total)

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
}

// disconnect runs the cleanup of one session exactly once.
func (s *Server) disconnect(c *Session) {
	c.cleanup.Do(func() {
		name := s.dispatcher.Disconnect(c.id)
		c.closeSend()

		s.mu.Lock()
		delete(s.sessions, c)
		total := len(s.sessions)
		s.mu.Unlock()

		c.log.Info("Client disconnected", "username", name, "clients", total)
	})
}

// drain stops accepting, tells every client the server is going away and
// waits for the sessions to finish.
func (s *Server) drain() error {
	s.log.Info("Shutting down all client connections...")

	if err := s.listener.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn("Error closing listener", "error", err)
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("WebSocket gateway shutdown error", "error", err)
		}
		cancel()
	}

	s.mu.Lock()
	s.draining = true
	sessions := lo.Keys(s.sessions)
	s.mu.Unlock()

	notice := protocol.NewInfoWithSubtype(protocol.SubtypeShuttingDown, "Server shutting down.")
	for _, c := range sessions {
		c.reply(notice)
		c.closeSend()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Server stopped", "closed", len(sessions))
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn("Shutdown timeout reached; forcing connections closed")
		s.mu.Lock()
		remaining := lo.Keys(s.sessions)
		s.mu.Unlock()
		for _, c := range remaining {
			c.abort()
		}
		return context.DeadlineExceeded
	}
}
