package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/iwanhae/tcp-guard/types"
)

// Banner is written to every admitted connection before echoing starts.
const Banner = "Hello from protected TCP server\n"

// State is a connection handler's lifecycle position.
type State int

const (
	StateNew State = iota
	StateAdmitted
	StateStreaming
	StateClosedNormal
	StateClosedBlocked
	StateClosedError
)

var stateNames = []string{"new", "admitted", "streaming", "closed_normal", "closed_blocked", "closed_error"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Handler runs one connection through gate, banner and echo loop.
type Handler struct {
	guard       *Guard
	bufSize     int
	idleTimeout time.Duration
	log         *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithReadBuffer sets the maximum chunk size read per iteration.
func WithReadBuffer(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.bufSize = n
		}
	}
}

// WithIdleTimeout closes connections that send nothing for d. Zero disables
// it, which lets a peer hold a connection open indefinitely.
func WithIdleTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.idleTimeout = d
	}
}

func NewHandler(g *Guard, opts ...HandlerOption) *Handler {
	h := &Handler{
		guard:   g,
		bufSize: 1024,
		log:     g.log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// revocable is implemented by connections the server may close because their
// source was blocked elsewhere.
type revocable interface {
	Revoked() bool
}

// deadliner is the part of net.Conn the idle timeout needs.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Serve handles conn until it reaches a terminal state and always closes it.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) State {
	defer conn.Close()

	source := SourceOf(conn.RemoteAddr())
	h.log.Info("connection attempt", "source", source)

	if err := h.guard.Gate(ctx, source); err != nil {
		switch {
		case errors.Is(err, ErrBlocked):
			h.log.Warn("rejected blocked source", "source", source)
			return StateClosedBlocked
		case errors.Is(err, ErrRateLimited):
			return StateClosedBlocked
		default:
			h.log.Error("admission failed, refusing connection", "source", source, "error", err)
			return StateClosedError
		}
	}

	state, err := h.Stream(ctx, source, conn)
	if state == StateClosedError {
		h.log.Error("connection error", "source", source, "error", err)
	}
	return state
}

// Stream runs the admitted phase: banner, then read, count and echo until the
// peer leaves, the source is blocked or I/O fails. It does not close rw.
func (h *Handler) Stream(ctx context.Context, source string, rw io.ReadWriter) (State, error) {
	if _, err := io.WriteString(rw, Banner); err != nil {
		return h.closedAfterIO(rw, err)
	}

	buf := make([]byte, h.bufSize)
	for {
		if h.idleTimeout > 0 {
			if d, ok := rw.(deadliner); ok {
				_ = d.SetReadDeadline(time.Now().Add(h.idleTimeout))
			}
		}

		n, err := rw.Read(buf)
		if n > 0 {
			decision, cerr := h.guard.Traffic.RecordAndCheck(ctx, source, n)
			if cerr != nil {
				return StateClosedError, cerr
			}
			if decision == types.Deny {
				return StateClosedBlocked, ErrTrafficExceeded
			}
			if _, werr := rw.Write(buf[:n]); werr != nil {
				return h.closedAfterIO(rw, werr)
			}
		}

		switch {
		case err == nil && n == 0:
			return StateClosedNormal, nil
		case err == nil:
			continue
		case errors.Is(err, os.ErrDeadlineExceeded):
			h.log.Info("closing idle connection", "source", source, "idle", h.idleTimeout)
			return StateClosedNormal, nil
		default:
			return h.closedAfterIO(rw, err)
		}
	}
}

// closedAfterIO classifies an I/O error. End of stream and a connection closed
// on our side are normal closes, unless the close came from a block.
func (h *Handler) closedAfterIO(rw io.ReadWriter, err error) (State, error) {
	if r, ok := rw.(revocable); ok && r.Revoked() {
		return StateClosedBlocked, ErrBlocked
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return StateClosedNormal, nil
	}
	return StateClosedError, err
}

// SourceOf extracts the source identity (the IP, without port) of addr.
func SourceOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	remote := addr.String()
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}
