package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iwanhae/tcp-guard/metrics"
	"github.com/iwanhae/tcp-guard/store"
	"github.com/iwanhae/tcp-guard/types"
)

// BlockList marks sources as blocked through the state store's expiring
// "blocked:<ip>" flag. Expiry is the only way out of a block.
type BlockList struct {
	store   store.Store
	history types.BanStore
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.RWMutex
	subscribers []func(source string)
}

func newBlockList(st store.Store, history types.BanStore, log *slog.Logger, m *metrics.Metrics, now func() time.Time) *BlockList {
	return &BlockList{
		store:   st,
		history: history,
		log:     log,
		metrics: m,
		now:     now,
	}
}

// IsBlocked reports whether source currently holds an unexpired block.
func (b *BlockList) IsBlocked(ctx context.Context, source string) (bool, error) {
	ok, err := b.store.Exists(ctx, store.BlockedKey(source))
	if err != nil {
		b.metrics.StoreError()
		return false, storeError("check block", source, err)
	}
	return ok, nil
}

// Block flags source for duration. Re-blocking overwrites the previous
// deadline rather than extending it. Subscribers are notified after the flag
// is stored so they can tear down the source's in-flight connections.
func (b *BlockList) Block(ctx context.Context, source string, duration time.Duration, reason string) error {
	if err := b.store.SetEx(ctx, store.BlockedKey(source), "1", duration); err != nil {
		b.metrics.StoreError()
		return storeError("block", source, err)
	}
	b.metrics.Block(reason)

	at := b.now()
	b.log.Warn("source blocked", "source", source, "reason", reason, "duration", duration)
	if err := b.history.SaveBan(&types.Ban{IP: source, Reason: reason, At: at, Until: at.Add(duration)}); err != nil {
		b.log.Error("failed to record block", "source", source, "error", err)
	}

	b.mu.RLock()
	subs := make([]func(string), len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(source)
	}
	return nil
}

// Subscribe registers fn to run after every successful Block.
func (b *BlockList) Subscribe(fn func(source string)) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, fn)
	b.mu.Unlock()
}
