// Package sshfront serves the guarded echo stream over SSH. Each TCP
// connection passes the same admission gate as the plain listener before the
// handshake starts, and every session runs the same banner and echo loop.
package sshfront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gliderlabs/ssh"

	"github.com/iwanhae/tcp-guard/guard"
)

type connKey struct{}

type Server struct {
	guard   *guard.Guard
	handler *guard.Handler
	log     *slog.Logger
	srv     *ssh.Server

	mu    sync.Mutex
	conns map[*gatedConn]struct{}
}

// New builds an SSH front on addr. hostKeyPath may be empty, in which case a
// key is generated at startup.
func New(addr, hostKeyPath string, g *guard.Guard, h *guard.Handler, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		guard:   g,
		handler: h,
		log:     log,
		conns:   make(map[*gatedConn]struct{}),
	}
	s.srv = &ssh.Server{
		Addr:         addr,
		Handler:      s.session,
		ConnCallback: s.admit,
	}
	if hostKeyPath != "" {
		if err := s.srv.SetOption(ssh.HostKeyFile(hostKeyPath)); err != nil {
			return nil, fmt.Errorf("failed to load host key: %w", err)
		}
	}
	g.Blocks.Subscribe(s.disconnectSource)
	return s, nil
}

// admit runs the admission gate on a raw connection. Returning nil makes the
// SSH server drop it before the handshake.
func (s *Server) admit(ctx ssh.Context, conn net.Conn) net.Conn {
	source := guard.SourceOf(conn.RemoteAddr())
	s.log.Info("ssh connection attempt", "source", source)

	if err := s.guard.Gate(ctx, source); err != nil {
		if errors.Is(err, guard.ErrBlocked) || errors.Is(err, guard.ErrRateLimited) {
			s.log.Warn("ssh connection refused", "source", source, "error", err)
		} else {
			s.log.Error("ssh admission failed, refusing connection", "source", source, "error", err)
		}
		return nil
	}

	gc := &gatedConn{Conn: conn, source: source, server: s}
	s.mu.Lock()
	s.conns[gc] = struct{}{}
	s.mu.Unlock()
	ctx.SetValue(connKey{}, gc)
	return gc
}

func (s *Server) session(sess ssh.Session) {
	source := guard.SourceOf(sess.RemoteAddr())
	gc, _ := sess.Context().Value(connKey{}).(*gatedConn)
	state, err := s.handler.Stream(sess.Context(), source, &gatedSession{Session: sess, conn: gc})
	s.log.Debug("ssh session finished", "source", source, "state", state.String(), "error", err)

	code := 0
	if state != guard.StateClosedNormal {
		code = 1
	}
	_ = sess.Exit(code)
}

func (s *Server) disconnectSource(source string) {
	s.mu.Lock()
	var victims []*gatedConn
	for gc := range s.conns {
		if gc.source == source {
			victims = append(victims, gc)
		}
	}
	s.mu.Unlock()

	for _, gc := range victims {
		gc.revoke()
	}
	if len(victims) > 0 {
		s.log.Warn("disconnected ssh connections of blocked source", "source", source, "count", len(victims))
	}
}

func (s *Server) forget(gc *gatedConn) {
	s.mu.Lock()
	delete(s.conns, gc)
	s.mu.Unlock()
}

func (s *Server) ListenAndServe() error {
	s.log.Info("ssh server started", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("ssh server started", "addr", ln.Addr().String())
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Close stops the server and drops every connection.
func (s *Server) Close() error {
	return s.srv.Close()
}

type gatedConn struct {
	net.Conn
	source  string
	server  *Server
	once    sync.Once
	revoked atomic.Bool
}

func (c *gatedConn) Close() error {
	c.once.Do(func() { c.server.forget(c) })
	return c.Conn.Close()
}

// revoke closes the connection because its source was blocked.
func (c *gatedConn) revoke() {
	c.revoked.Store(true)
	_ = c.Close()
}

// gatedSession reports whether the session's connection was revoked, so the
// handler can tell a block apart from the peer leaving.
type gatedSession struct {
	ssh.Session
	conn *gatedConn
}

func (s *gatedSession) Revoked() bool {
	return s.conn != nil && s.conn.revoked.Load()
}
