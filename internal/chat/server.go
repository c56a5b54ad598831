package chat

import (
	"errors"
	"log/slog"
	"net"
	"sync"
)

type Server struct {
	addr    string
	logger  *slog.Logger
	session SessionConfig
	queue   int

	reg      *Registry
	listener net.Listener

	mu       sync.Mutex
	live     map[*Connection]struct{}
	stopping bool
	wg       sync.WaitGroup
}

type Option func(s *Server)

// WithSessionConfig overrides timeouts and size limits of every session.
func WithSessionConfig(cfg SessionConfig) Option {
	return func(s *Server) { s.session = cfg }
}

// WithOutboundQueue sets how many frames may wait for a slow reader before
// relay traffic to it is dropped.
func WithOutboundQueue(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.queue = size
		}
	}
}

func NewServer(addr string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:    addr,
		logger:  logger,
		session: DefaultSessionConfig(),
		queue:   64,
		live:    make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.reg = NewRegistry(128, logger)
	return s
}

// Registry exposes the live registry, mostly for diagnostics and tests.
func (s *Server) Registry() *Registry {
	return s.reg
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go s.reg.Run()

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and every live connection, waits for their
// sessions to finish and then stops the registry.
func (s *Server) Stop() {
	if s.listener == nil {
		// Never started: the registry loop is not running.
		s.reg.Stop()
		return
	}
	s.logger.Info("shutting down")

	_ = s.listener.Close()

	s.mu.Lock()
	s.stopping = true
	live := make([]*Connection, 0, len(s.live))
	for c := range s.live {
		live = append(live, c)
	}
	s.mu.Unlock()

	for _, c := range live {
		_ = c.Close()
	}
	s.wg.Wait()

	s.reg.Stop()
	s.reg.Wait()

	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		c := NewConnection(conn, s.queue)
		if !s.track(c) {
			_ = conn.Close()
			return
		}
		s.logger.Info("client connected", "conn_id", c.ID, "addr", c.Peer)

		go func() {
			defer s.untrack(c)
			HandleSession(c, s.reg, s.session, s.logger)
		}()
	}
}

func (s *Server) track(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.live[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	delete(s.live, c)
	s.mu.Unlock()
	s.wg.Done()
}
