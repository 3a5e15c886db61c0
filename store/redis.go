package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slideWindowScript trims, counts and conditionally appends in one server-side
// step so concurrent handlers for the same source cannot both slip under the
// limit.
//
// KEYS[1] collection key
// ARGV[1] cutoff score (entries <= cutoff are expired)
// ARGV[2] score for this attempt
// ARGV[3] limit
// ARGV[4] member
// ARGV[5] expiry in milliseconds
var slideWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
	return {count, 0}
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {count + 1, 1}
`)

// Redis is a Store backed by a Redis server.
type Redis struct {
	client *redis.Client
	seq    atomic.Uint64
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, opts *redis.Options) (*Redis, error) {
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client without pinging it.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return r.client.IncrBy(ctx, key, n).Result()
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -1:
		return NoExpiry, nil
	case -2:
		return Missing, nil
	}
	return d, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.PExpire(ctx, key, ttl).Err()
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *Redis) ZRemRangeByScore(ctx context.Context, key string, max float64) error {
	return r.client.ZRemRangeByScore(ctx, key, "-inf", formatScore(max)).Err()
}

func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, key).Result()
}

// SlideWindow implements Windower with a Lua script.
func (r *Redis) SlideWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (int64, bool, error) {
	res, err := slideWindowScript.Run(ctx, r.client, []string{key},
		formatScore(Seconds(now.Add(-window))),
		formatScore(Seconds(now)),
		limit,
		r.member(now),
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, errors.New("store: unexpected slide window reply")
	}
	return res[0], res[1] == 1, nil
}

// member makes each attempt unique within the sorted set even when two
// attempts share a timestamp.
func (r *Redis) member(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(r.seq.Add(1), 10)
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
