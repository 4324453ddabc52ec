package emitter

import (
	"sync"

	"github.com/rs/zerolog"
)

// DefaultMaxListeners is the per-event listener count above which a warning is logged
const DefaultMaxListeners = 100

// Listener receives the arguments passed to Emit
type Listener func(args ...any)

type subscription struct {
	event   string
	fn      Listener
	once    bool
	removed bool
}

// Emitter delivers named events to listeners in registration order.
//
// Until Ready is called registrations are held back; Ready attaches them in
// the order they were made. Events emitted before Ready reach nobody.
type Emitter struct {
	listeners    map[string][]*subscription
	pending      []*subscription
	ready        bool
	maxListeners int
	warned       map[string]bool
	logger       zerolog.Logger
	mu           sync.Mutex
}

// New creates an Emitter. maxListeners <= 0 disables the warning.
func New(maxListeners int, logger zerolog.Logger) *Emitter {
	return &Emitter{
		listeners:    make(map[string][]*subscription),
		maxListeners: maxListeners,
		warned:       make(map[string]bool),
		logger:       logger.With().Str("component", "emitter").Logger(),
	}
}

// On registers fn for event and returns a function that removes it
func (e *Emitter) On(event string, fn Listener) func() {
	return e.add(&subscription{event: event, fn: fn})
}

// Once registers fn for the next emission of event only
func (e *Emitter) Once(event string, fn Listener) func() {
	return e.add(&subscription{event: event, fn: fn, once: true})
}

// Ready attaches every held-back registration. Later calls do nothing.
func (e *Emitter) Ready() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return
	}
	e.ready = true
	for _, sub := range e.pending {
		if !sub.removed {
			e.attachLocked(sub)
		}
	}
	e.pending = nil
}

// IsReady reports whether registrations are attached immediately
func (e *Emitter) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Emit calls every listener of event with args. Returns true if there were listeners.
func (e *Emitter) Emit(event string, args ...any) bool {
	e.mu.Lock()
	subs := e.listeners[event]
	if len(subs) == 0 {
		e.mu.Unlock()
		return false
	}
	targets := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.removed {
			continue
		}
		if sub.once {
			sub.removed = true
		}
		targets = append(targets, sub)
	}
	e.compactLocked(event)
	e.mu.Unlock()

	for _, sub := range targets {
		e.invoke(event, sub.fn, args)
	}
	return len(targets) > 0
}

// ListenerCount returns the number of attached listeners for event
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, sub := range e.listeners[event] {
		if !sub.removed {
			n++
		}
	}
	return n
}

// PendingCount returns the number of registrations waiting for Ready
func (e *Emitter) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, sub := range e.pending {
		if !sub.removed {
			n++
		}
	}
	return n
}

func (e *Emitter) add(sub *subscription) func() {
	e.mu.Lock()
	if e.ready {
		e.attachLocked(sub)
	} else {
		e.pending = append(e.pending, sub)
	}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		sub.removed = true
		e.compactLocked(sub.event)
	}
}

func (e *Emitter) attachLocked(sub *subscription) {
	e.listeners[sub.event] = append(e.listeners[sub.event], sub)

	count := len(e.listeners[sub.event])
	if e.maxListeners > 0 && count > e.maxListeners && !e.warned[sub.event] {
		e.warned[sub.event] = true
		e.logger.Warn().
			Str("event", sub.event).
			Int("count", count).
			Int("max", e.maxListeners).
			Msg("possible listener leak detected")
	}
}

func (e *Emitter) compactLocked(event string) {
	subs := e.listeners[event]
	kept := subs[:0]
	for _, sub := range subs {
		if !sub.removed {
			kept = append(kept, sub)
		}
	}
	for i := len(kept); i < len(subs); i++ {
		subs[i] = nil
	}
	if len(kept) == 0 {
		delete(e.listeners, event)
		return
	}
	e.listeners[event] = kept
}

// invoke runs a listener, keeping a panicking listener from taking down the emitter
func (e *Emitter) invoke(event string, fn Listener, args []any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("event", event).Interface("panic", r).Msg("listener panicked")
		}
	}()
	fn(args...)
}
