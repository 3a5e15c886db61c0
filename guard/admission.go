package guard

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/iwanhae/tcp-guard/metrics"
	"github.com/iwanhae/tcp-guard/store"
	"github.com/iwanhae/tcp-guard/types"
)

// Admission counts connection attempts per source over a sliding window and
// blocks sources that exceed the limit. It does not look at the blocklist;
// callers check that first.
type Admission struct {
	store     store.Store
	blocks    *BlockList
	limit     int
	window    time.Duration
	blockTime time.Duration
	locks     *sourceLocks
	seq       atomic.Uint64
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// Admit records an attempt at now. Attempts recorded at or before now-window
// no longer count, so the live window is (now-window, now]. When limit
// attempts are already live the source is blocked and Deny returned.
// Any store failure denies.
func (a *Admission) Admit(ctx context.Context, source string, now time.Time) (types.Decision, error) {
	count, admitted, err := a.slide(ctx, source, now)
	if err != nil {
		a.metrics.StoreError()
		a.metrics.Admission("error")
		return types.Deny, storeError("admit", source, err)
	}
	if admitted {
		a.metrics.Admission("allow")
		return types.Allow, nil
	}

	a.metrics.Admission("deny")
	a.log.Warn("connection rate limit exceeded", "source", source, "attempts", count, "limit", a.limit, "window", a.window)
	if err := a.blocks.Block(ctx, source, a.blockTime, types.ReasonRateLimit); err != nil {
		return types.Deny, err
	}
	return types.Deny, nil
}

func (a *Admission) slide(ctx context.Context, source string, now time.Time) (int64, bool, error) {
	key := store.ConnectionsKey(source)
	if w, ok := a.store.(store.Windower); ok {
		return w.SlideWindow(ctx, key, now, a.window, a.limit)
	}

	// The store cannot do the whole step atomically, so serialize it per
	// source.
	release, err := a.locks.acquire(ctx, source)
	if err != nil {
		return 0, false, err
	}
	defer release()

	if err := a.store.ZRemRangeByScore(ctx, key, store.Seconds(now.Add(-a.window))); err != nil {
		return 0, false, err
	}
	count, err := a.store.ZCard(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if count >= int64(a.limit) {
		return count, false, nil
	}
	if err := a.store.ZAdd(ctx, key, store.Seconds(now), a.member(now)); err != nil {
		return count, false, err
	}
	if err := a.store.Expire(ctx, key, a.window); err != nil {
		return count, false, err
	}
	return count + 1, true, nil
}

func (a *Admission) member(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(a.seq.Add(1), 10)
}
