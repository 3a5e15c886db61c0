package guard

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iwanhae/tcp-guard/metrics"
)

// Server accepts TCP connections and hands each to a Handler through a
// Dispatcher, so a stalled peer never holds up admission for others.
type Server struct {
	handler    *Handler
	dispatcher Dispatcher
	log        *slog.Logger
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*trackedConn]struct{}
	closing   atomic.Bool

	// handlers counts tracked connections whose handler has not returned.
	// It is incremented under mu together with the closing check.
	handlers sync.WaitGroup
}

// NewServer wires h to d and subscribes to h's blocklist so that every
// connection from a freshly blocked source is torn down.
func NewServer(h *Handler, d Dispatcher) *Server {
	if d == nil {
		d = NewGoDispatcher()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		handler:    h,
		dispatcher: d,
		log:        h.log,
		metrics:    h.guard.metrics,
		ctx:        ctx,
		cancel:     cancel,
		listeners:  make(map[net.Listener]struct{}),
		conns:      make(map[*trackedConn]struct{}),
	}
	h.guard.Blocks.Subscribe(func(source string) {
		if n := s.DisconnectSource(source); n > 0 {
			s.log.Warn("disconnected connections of blocked source", "source", source, "count", n)
		}
	})
	return s
}

// ListenAndServe listens on the TCP address addr and serves it.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts on ln until Shutdown. It returns ErrServerClosed after
// Shutdown and the accept error otherwise. Temporary accept errors are
// retried with backoff.
func (s *Server) Serve(ln net.Listener) error {
	if s.closing.Load() {
		_ = ln.Close()
		return ErrServerClosed
	}
	s.mu.Lock()
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
		_ = ln.Close()
	}()

	s.log.Info("server started", "addr", ln.Addr().String())

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.log.Error("accept error, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		tc := &trackedConn{Conn: conn, source: SourceOf(conn.RemoteAddr())}
		if !s.track(tc) {
			_ = conn.Close()
			return ErrServerClosed
		}
		s.dispatcher.Dispatch(func() {
			defer s.handlers.Done()
			defer s.untrack(tc)
			state := s.handler.Serve(s.ctx, tc)
			s.log.Debug("connection finished", "source", tc.source, "state", state.String())
		})
	}
}

func (s *Server) track(tc *trackedConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[tc] = struct{}{}
	s.handlers.Add(1)
	s.metrics.ConnOpened()
	return true
}

func (s *Server) untrack(tc *trackedConn) {
	s.mu.Lock()
	if _, ok := s.conns[tc]; ok {
		delete(s.conns, tc)
		s.metrics.ConnClosed()
	}
	s.mu.Unlock()
}

// DisconnectSource closes every connection currently open from source and
// returns how many were closed.
func (s *Server) DisconnectSource(source string) int {
	s.mu.Lock()
	victims := make([]*trackedConn, 0)
	for tc := range s.conns {
		if tc.source == source {
			victims = append(victims, tc)
		}
	}
	s.mu.Unlock()

	for _, tc := range victims {
		tc.revoke()
	}
	return len(victims)
}

// ActiveConnections returns the number of connections being handled.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, then waits for handlers to finish until ctx is
// done, at which point remaining connections are closed and their handlers
// awaited.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	for ln := range s.listeners {
		_ = ln.Close()
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		s.dispatcher.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.cancel()
		return nil
	case <-ctx.Done():
	}

	s.cancel()
	s.mu.Lock()
	remaining := make([]*trackedConn, 0, len(s.conns))
	for tc := range s.conns {
		remaining = append(remaining, tc)
	}
	s.mu.Unlock()
	s.log.Warn("grace period over, closing connections", "count", len(remaining))
	for _, tc := range remaining {
		_ = tc.Close()
	}
	<-drained
	return ctx.Err()
}

// trackedConn remembers its source and whether the server closed it because
// that source was blocked.
type trackedConn struct {
	net.Conn
	source  string
	revoked atomic.Bool
}

func (c *trackedConn) revoke() {
	c.revoked.Store(true)
	_ = c.Conn.Close()
}

func (c *trackedConn) Revoked() bool { return c.revoked.Load() }
