package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrWrongType is returned when a key holds a value of another kind, e.g.
// IncrBy on a sorted set.
var ErrWrongType = errors.New("store: key holds the wrong kind of value")

type memEntry struct {
	value    string
	scores   []float64 // kept sorted; nil for plain values
	isSet    bool
	deadline time.Time // zero means no expiry
}

// Memory is an in-process Store. Expired keys are dropped lazily on access.
// All operations are serialized by a single mutex, which also makes
// SlideWindow atomic.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
	closed  bool
}

// NewMemory creates an empty in-memory store using the wall clock.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// NewMemoryWithClock creates an in-memory store driven by the given clock
// instead of wall time, so tests can move time forward.
func NewMemoryWithClock(now func() time.Time) *Memory {
	m := NewMemory()
	m.now = now
	return m
}

// lookup returns the live entry for key, evicting it first if expired.
// Callers hold m.mu.
func (m *Memory) lookup(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.deadline.IsZero() && !m.now().Before(e.deadline) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) checkOpen() error {
	if m.closed {
		return errors.New("store: memory store closed")
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	return m.lookup(key) != nil, nil
}

func (m *Memory) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.entries[key] = &memEntry{value: value, deadline: m.now().Add(ttl)}
	return nil
}

func (m *Memory) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	e := m.lookup(key)
	if e == nil {
		e = &memEntry{value: "0"}
		m.entries[key] = e
	}
	if e.isSet {
		return 0, ErrWrongType
	}
	cur, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, ErrWrongType
	}
	cur += n
	e.value = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	e := m.lookup(key)
	switch {
	case e == nil:
		return Missing, nil
	case e.deadline.IsZero():
		return NoExpiry, nil
	default:
		return e.deadline.Sub(m.now()), nil
	}
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if e := m.lookup(key); e != nil {
		e.deadline = m.now().Add(ttl)
	}
	return nil
}

func (m *Memory) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	_, err := m.zadd(key, score)
	return err
}

func (m *Memory) zadd(key string, score float64) (*memEntry, error) {
	e := m.lookup(key)
	if e == nil {
		e = &memEntry{isSet: true}
		m.entries[key] = e
	}
	if !e.isSet {
		return nil, ErrWrongType
	}
	i := sort.SearchFloat64s(e.scores, score)
	e.scores = append(e.scores, 0)
	copy(e.scores[i+1:], e.scores[i:])
	e.scores[i] = score
	return e, nil
}

func (m *Memory) ZRemRangeByScore(ctx context.Context, key string, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.ztrim(key, max)
}

func (m *Memory) ztrim(key string, max float64) error {
	e := m.lookup(key)
	if e == nil {
		return nil
	}
	if !e.isSet {
		return ErrWrongType
	}
	keep := 0
	for keep < len(e.scores) && e.scores[keep] <= max {
		keep++
	}
	e.scores = e.scores[keep:]
	if len(e.scores) == 0 {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	e := m.lookup(key)
	if e == nil {
		return 0, nil
	}
	if !e.isSet {
		return 0, ErrWrongType
	}
	return int64(len(e.scores)), nil
}

// SlideWindow implements Windower under the store mutex.
func (m *Memory) SlideWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return 0, false, err
	}
	if err := m.ztrim(key, Seconds(now.Add(-window))); err != nil {
		return 0, false, err
	}
	var count int64
	if e := m.lookup(key); e != nil {
		count = int64(len(e.scores))
	}
	if count >= int64(limit) {
		return count, false, nil
	}
	e, err := m.zadd(key, Seconds(now))
	if err != nil {
		return count, false, err
	}
	e.deadline = m.now().Add(window)
	return count + 1, true, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkOpen()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.entries = make(map[string]*memEntry)
	m.mu.Unlock()
	return nil
}
