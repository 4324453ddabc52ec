// Package dedupe serializes concurrent calls that share a key.
//
// Unlike a singleflight group, calls are never coalesced: every caller gets
// its own invocation of the operation, but only one invocation per key is in
// flight at any instant and callers for the same key run in arrival order.
// Calls with different keys do not interact.
package dedupe

import (
	"context"
	"sync"

	"walletprovider/internal/future"
)

// Op is the operation executed for a call
type Op[T any] func() (T, error)

// Observer receives notifications about queued and started calls
type Observer interface {
	CallQueued(key string)
	CallStarted(key string)
}

type call[T any] struct {
	op     Op[T]
	result *future.Future[T]
}

// entry is the in-flight marker for one key plus the calls waiting behind it
type entry[T any] struct {
	waiting []*call[T]
}

// Group serializes calls per key
type Group[T any] struct {
	entries  map[string]*entry[T]
	observer Observer
	mu       sync.Mutex
}

// NewGroup creates an empty Group
func NewGroup[T any]() *Group[T] {
	return &Group[T]{
		entries: make(map[string]*entry[T]),
	}
}

// SetObserver installs an observer
func (g *Group[T]) SetObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observer = o
}

// Do submits op under key and returns a future for its result.
// The FIFO position is fixed before Do returns.
func (g *Group[T]) Do(key string, op Op[T]) *future.Future[T] {
	c := &call[T]{op: op, result: future.New[T]()}

	g.mu.Lock()
	if e, busy := g.entries[key]; busy {
		e.waiting = append(e.waiting, c)
		obs := g.observer
		g.mu.Unlock()
		if obs != nil {
			obs.CallQueued(key)
		}
		return c.result
	}
	g.entries[key] = &entry[T]{}
	g.mu.Unlock()

	g.start(key, c)
	return c.result
}

// Call submits op under key and waits for its result
func (g *Group[T]) Call(ctx context.Context, key string, op Op[T]) (T, error) {
	return g.Do(key, op).Wait(ctx)
}

// InFlight reports whether a call for key is currently running
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[key]
	return ok
}

// Queued returns the number of calls waiting behind the in-flight one
func (g *Group[T]) Queued(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[key]; ok {
		return len(e.waiting)
	}
	return 0
}

func (g *Group[T]) start(key string, c *call[T]) {
	g.mu.Lock()
	obs := g.observer
	g.mu.Unlock()
	if obs != nil {
		obs.CallStarted(key)
	}

	go func() {
		v, err := c.op()
		c.result.Settle(v, err)
		g.finish(key)
	}()
}

// finish releases the marker for key or hands it to the next waiting call
func (g *Group[T]) finish(key string) {
	g.mu.Lock()
	e := g.entries[key]
	if e == nil || len(e.waiting) == 0 {
		delete(g.entries, key)
		g.mu.Unlock()
		return
	}
	next := e.waiting[0]
	e.waiting = e.waiting[1:]
	g.mu.Unlock()

	g.start(key, next)
}
