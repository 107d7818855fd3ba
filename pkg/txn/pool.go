package txn

import (
	"sync"
	"sync/atomic"

	"strata/pkg/mvcc"
	"strata/pkg/types"
)

// defaultPoolCap bounds how many spare Contexts a Pool keeps ready for
// reuse. Go has no thread-local storage, so unlike the original's
// per-thread free list this is a single shared, mutex-guarded stack capped
// at the same size; it still avoids reallocating the read/write/delete set
// maps on every transaction without letting an idle Pool grow unbounded.
const defaultPoolCap = 8

// Pool hands out reset, ready-to-use transaction Contexts and reclaims them
// on Put, up to a fixed capacity. Beyond that capacity, Put simply drops
// the Context for the GC to collect.
type Pool struct {
	mu    sync.Mutex
	spare []*Context
	cap   int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPool creates a Pool with the default spare capacity.
func NewPool() *Pool {
	return &Pool{cap: defaultPoolCap}
}

// NewPoolWithCapacity creates a Pool that retains at most capacity spare
// Contexts.
func NewPoolWithCapacity(capacity int) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool{cap: capacity}
}

// Begin returns a Context bound to txnID/run/snapshot, reusing a spare from
// the pool when one is available.
func (p *Pool) Begin(txnID uint64, run types.RunID, snapshot *mvcc.SnapshotView) *Context {
	p.mu.Lock()
	var c *Context
	if n := len(p.spare); n > 0 {
		c = p.spare[n-1]
		p.spare = p.spare[:n-1]
	}
	p.mu.Unlock()

	if c != nil {
		p.hits.Add(1)
	} else {
		p.misses.Add(1)
		c = newContext()
	}
	c.begin(txnID, run, snapshot)
	return c
}

// Put resets c and returns it to the pool if there is spare capacity.
func (p *Pool) Put(c *Context) {
	c.reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.spare) >= p.cap {
		return
	}
	p.spare = append(p.spare, c)
}

// Stats reports pool reuse counters, mainly for tests and diagnostics.
type Stats struct {
	Hits   uint64
	Misses uint64
	Spare  int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	spare := len(p.spare)
	p.mu.Unlock()
	return Stats{Hits: p.hits.Load(), Misses: p.misses.Load(), Spare: spare}
}
