package guard

import (
	"sync"

	"github.com/remeh/sizedwaitgroup"
)

// Dispatcher schedules connection handlers. The server is the same whichever
// dispatcher it is given; only the concurrency primitive changes.
type Dispatcher interface {
	// Dispatch runs fn independently of the caller.
	Dispatch(fn func())
	// Wait blocks until every dispatched fn has returned.
	Wait()
}

// GoDispatcher starts one goroutine per connection.
type GoDispatcher struct {
	wg sync.WaitGroup
}

func NewGoDispatcher() *GoDispatcher {
	return &GoDispatcher{}
}

func (d *GoDispatcher) Dispatch(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *GoDispatcher) Wait() { d.wg.Wait() }

// PoolDispatcher runs at most size handlers at once. Dispatch blocks while the
// pool is full, which holds back the accept loop.
type PoolDispatcher struct {
	swg sizedwaitgroup.SizedWaitGroup
}

func NewPoolDispatcher(size int) *PoolDispatcher {
	return &PoolDispatcher{swg: sizedwaitgroup.New(size)}
}

func (d *PoolDispatcher) Dispatch(fn func()) {
	d.swg.Add()
	go func() {
		defer d.swg.Done()
		fn()
	}()
}

func (d *PoolDispatcher) Wait() { d.swg.Wait() }
