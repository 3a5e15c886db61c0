package guard

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// sourceLocks hands out one weight-1 semaphore per source so that a
// read-modify-write sequence against the store runs serially for that source
// while other sources proceed in parallel. Entries are dropped when their last
// holder releases.
type sourceLocks struct {
	mu    sync.Mutex
	locks map[string]*sourceLock
}

type sourceLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newSourceLocks() *sourceLocks {
	return &sourceLocks{locks: make(map[string]*sourceLock)}
}

// acquire blocks until source's lock is held or ctx ends. The returned func
// releases it.
func (l *sourceLocks) acquire(ctx context.Context, source string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[source]
	if !ok {
		lk = &sourceLock{sem: semaphore.NewWeighted(1)}
		l.locks[source] = lk
	}
	lk.refs++
	l.mu.Unlock()

	if err := lk.sem.Acquire(ctx, 1); err != nil {
		l.unref(source, lk)
		return nil, err
	}
	return func() {
		lk.sem.Release(1)
		l.unref(source, lk)
	}, nil
}

func (l *sourceLocks) unref(source string, lk *sourceLock) {
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, source)
	}
	l.mu.Unlock()
}

func (l *sourceLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
