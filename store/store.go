package store

import (
	"context"
	"time"
)

// TTL sentinels, mirroring Redis TTL replies.
const (
	NoExpiry time.Duration = -1
	Missing  time.Duration = -2
)

// Store is the shared state authority for counters, flags and ordered
// timestamp collections. Every method is keyed by an arbitrary string.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	// SetEx overwrites key with value and a fresh TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	// TTL returns the remaining lifetime of key, NoExpiry when the key has
	// no deadline and Missing when the key does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRemRangeByScore removes members scored at or below max.
	ZRemRangeByScore(ctx context.Context, key string, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Windower is implemented by stores that can run a whole sliding-window
// admission step atomically: drop entries at or before now-window, count the
// rest, and when the count is below limit append now and refresh the key's
// expiry to window.
type Windower interface {
	SlideWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (count int64, admitted bool, err error)
}

func ConnectionsKey(source string) string { return "connections:" + source }
func TrafficKey(source string) string     { return "traffic:" + source }
func BlockedKey(source string) string     { return "blocked:" + source }

// Seconds converts t to fractional seconds since the epoch, the score unit
// used by connection attempt records.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
