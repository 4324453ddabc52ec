package gate

import "sync"

// Observer receives gate state changes (used for metrics)
type Observer interface {
	GateChanged(count, threshold, queued int)
}

// Gate admits operations once its counter reaches threshold.
//
// The counter is adjusted by weighted contributors and clamped to
// [0, threshold]. While the counter is below threshold every submitted
// operation is queued; reaching threshold runs the queue once, in submission
// order. Operations run while the gate lock is held so that a newly submitted
// operation can never overtake a queued one: they must be short and must not
// call back into the gate.
type Gate struct {
	threshold int
	count     int
	queue     []func()
	observer  Observer
	mu        sync.Mutex
}

// New creates a gate with the given threshold (minimum 1)
func New(threshold int) *Gate {
	if threshold < 1 {
		threshold = 1
	}
	return &Gate{threshold: threshold}
}

// SetObserver installs an observer notified on every change
func (g *Gate) SetObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observer = o
}

// Threshold returns the configured threshold
func (g *Gate) Threshold() int {
	return g.threshold
}

// Admit adjusts the counter by delta and returns the new value.
// Crossing into the open state drains every queued operation exactly once.
func (g *Gate) Admit(delta int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	wasOpen := g.count >= g.threshold
	g.count += delta
	if g.count > g.threshold {
		g.count = g.threshold
	}
	if g.count < 0 {
		g.count = 0
	}

	if !wasOpen && g.count >= g.threshold {
		g.drainLocked()
	}
	g.notifyLocked()
	return g.count
}

// Call runs op immediately if the gate is open, otherwise queues it
func (g *Gate) Call(op func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count >= g.threshold && len(g.queue) == 0 {
		op()
		return
	}
	g.queue = append(g.queue, op)
	g.notifyLocked()
}

// Count returns the current counter value
func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// IsOpen reports whether operations currently run immediately
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count >= g.threshold
}

// Pending returns the number of queued operations
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

func (g *Gate) drainLocked() {
	queued := g.queue
	g.queue = nil
	for _, op := range queued {
		op()
	}
}

func (g *Gate) notifyLocked() {
	if g.observer != nil {
		g.observer.GateChanged(g.count, g.threshold, len(g.queue))
	}
}
