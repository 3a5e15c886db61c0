// Package guard is the admission control and traffic shaping engine: a
// sliding-window connection limiter, an expiring per-source blocklist and a
// per-second byte counter, all kept in a shared state store.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/iwanhae/tcp-guard/banlog"
	"github.com/iwanhae/tcp-guard/metrics"
	"github.com/iwanhae/tcp-guard/store"
	"github.com/iwanhae/tcp-guard/types"
)

// Limits are the static thresholds of the engine.
type Limits struct {
	RateLimit        int           // attempts allowed per TimeWindow
	TimeWindow       time.Duration // sliding window for RateLimit
	BlockTime        time.Duration // how long a violating source stays blocked
	TrafficThreshold int64         // bytes allowed per one-second traffic window
}

// DefaultLimits are the stock thresholds.
func DefaultLimits() Limits {
	return Limits{
		RateLimit:        10,
		TimeWindow:       10 * time.Second,
		BlockTime:        60 * time.Second,
		TrafficThreshold: 30 * 1024 * 1024,
	}
}

// Guard bundles the engine's components around one store. It is the explicit
// service context handed to every connection handler.
type Guard struct {
	Blocks    *BlockList
	Admission *Admission
	Traffic   *Traffic

	limits  Limits
	log     *slog.Logger
	metrics *metrics.Metrics
	history types.BanStore
	now     func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithBanStore records every block to s.
func WithBanStore(s types.BanStore) Option {
	return func(g *Guard) {
		if s != nil {
			g.history = s
		}
	}
}

// WithClock replaces the wall clock used for admission timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// New builds a Guard over st.
func New(st store.Store, limits Limits, opts ...Option) *Guard {
	g := &Guard{
		limits:  limits,
		log:     slog.New(slog.DiscardHandler),
		history: banlog.NewNull(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.Blocks = newBlockList(st, g.history, g.log, g.metrics, g.now)
	g.Admission = &Admission{
		store:     st,
		blocks:    g.Blocks,
		limit:     limits.RateLimit,
		window:    limits.TimeWindow,
		blockTime: limits.BlockTime,
		locks:     newSourceLocks(),
		log:       g.log,
		metrics:   g.metrics,
	}
	g.Traffic = &Traffic{
		store:     st,
		blocks:    g.Blocks,
		threshold: limits.TrafficThreshold,
		blockTime: limits.BlockTime,
		log:       g.log,
		metrics:   g.metrics,
	}
	return g
}

func (g *Guard) Limits() Limits { return g.limits }

// Gate is the pre-accept check: a blocked source is refused without touching
// its rate window, otherwise the attempt goes through Admission. It returns
// nil when the connection may proceed, ErrBlocked or ErrRateLimited when it is
// refused, and an ErrStoreUnavailable error when the store could not answer.
func (g *Guard) Gate(ctx context.Context, source string) error {
	blocked, err := g.Blocks.IsBlocked(ctx, source)
	if err != nil {
		g.metrics.Admission("error")
		return err
	}
	if blocked {
		g.metrics.Admission("blocked")
		return ErrBlocked
	}

	decision, err := g.Admission.Admit(ctx, source, g.now())
	if err != nil {
		return err
	}
	if decision == types.Deny {
		return ErrRateLimited
	}
	return nil
}
