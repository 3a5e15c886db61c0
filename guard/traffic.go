package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/iwanhae/tcp-guard/metrics"
	"github.com/iwanhae/tcp-guard/store"
	"github.com/iwanhae/tcp-guard/types"
)

// trafficWindow is the lifetime of a traffic counter. The window starts at the
// first byte counted and ends when the store expires the key, so two bursts on
// either side of the expiry can together pass up to twice the threshold.
const trafficWindow = time.Second

// Traffic accumulates received bytes per source and blocks sources that send
// more than threshold bytes inside one counter window.
type Traffic struct {
	store     store.Store
	blocks    *BlockList
	threshold int64
	blockTime time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// RecordAndCheck adds n bytes to source's counter. A total strictly above the
// threshold blocks the source and returns Deny.
func (t *Traffic) RecordAndCheck(ctx context.Context, source string, n int) (types.Decision, error) {
	key := store.TrafficKey(source)
	total, err := t.store.IncrBy(ctx, key, int64(n))
	if err != nil {
		t.metrics.StoreError()
		return types.Deny, storeError("count traffic", source, err)
	}
	t.metrics.Bytes(n)

	ttl, err := t.store.TTL(ctx, key)
	if err != nil {
		t.metrics.StoreError()
		return types.Deny, storeError("read traffic ttl", source, err)
	}
	if ttl == store.NoExpiry {
		if err := t.store.Expire(ctx, key, trafficWindow); err != nil {
			t.metrics.StoreError()
			return types.Deny, storeError("start traffic window", source, err)
		}
	}

	if total <= t.threshold {
		return types.Allow, nil
	}
	t.log.Warn("traffic threshold exceeded, looks like DDoS", "source", source, "bytes", total, "threshold", t.threshold)
	if err := t.blocks.Block(ctx, source, t.blockTime, types.ReasonTraffic); err != nil {
		return types.Deny, err
	}
	return types.Deny, nil
}
