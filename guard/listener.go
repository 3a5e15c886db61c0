package guard

import (
	"log/slog"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/iwanhae/tcp-guard/metrics"
)

// LimitListener wraps a net.Listener with a global cap on concurrent
// connections and on accepts per second. It sits in front of the per-source
// engine: a connection over either cap is accepted and closed at once so it
// never reaches the backlog or the state store.
type LimitListener struct {
	net.Listener
	maxConns    int
	limiter     *rate.Limiter
	log         *slog.Logger
	metrics     *metrics.Metrics
	mu          sync.Mutex
	activeConns int
}

// ListenerOption configures a LimitListener.
type ListenerOption func(*LimitListener)

// WithMaxConnections caps concurrent connections; 0 means no cap.
func WithMaxConnections(max int) ListenerOption {
	return func(l *LimitListener) {
		l.maxConns = max
	}
}

// WithAcceptRate caps accepted connections per second; 0 means no cap.
func WithAcceptRate(perSecond float64) ListenerOption {
	return func(l *LimitListener) {
		if perSecond <= 0 {
			l.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithListenerLogger(log *slog.Logger) ListenerOption {
	return func(l *LimitListener) {
		if log != nil {
			l.log = log
		}
	}
}

func WithListenerMetrics(m *metrics.Metrics) ListenerOption {
	return func(l *LimitListener) {
		l.metrics = m
	}
}

func NewLimitListener(ln net.Listener, opts ...ListenerOption) *LimitListener {
	l := &LimitListener{
		Listener: ln,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Accept returns the next connection within both caps, closing any that
// exceed them.
func (l *LimitListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if l.limiter != nil && !l.limiter.Allow() {
			l.reject(conn, "accept_rate")
			continue
		}

		l.mu.Lock()
		if l.maxConns > 0 && l.activeConns >= l.maxConns {
			l.mu.Unlock()
			l.reject(conn, "max_conns")
			continue
		}
		l.activeConns++
		l.mu.Unlock()

		return &slotConn{Conn: conn, listener: l}, nil
	}
}

func (l *LimitListener) reject(conn net.Conn, reason string) {
	l.metrics.ListenerRejected(reason)
	l.log.Debug("listener rejected connection", "remote", conn.RemoteAddr().String(), "reason", reason)
	_ = conn.Close()
}

func (l *LimitListener) release() {
	l.mu.Lock()
	l.activeConns--
	l.mu.Unlock()
}

// Active returns the number of connections holding a slot.
func (l *LimitListener) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeConns
}

// slotConn gives its slot back exactly once on Close.
type slotConn struct {
	net.Conn
	listener *LimitListener
	once     sync.Once
}

func (c *slotConn) Close() error {
	c.once.Do(c.listener.release)
	return c.Conn.Close()
}
