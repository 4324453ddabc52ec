package pushevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultQueueSize is used when NewRouter is given a non-positive size
const DefaultQueueSize = 256

// ErrStopped is returned by Enqueue after Stop
var ErrStopped = errors.New("push router stopped")

// Router delivers push events to Handlers one at a time, in arrival order.
// A single worker drains a bounded queue; Enqueue blocks when the queue is
// full rather than dropping or coalescing events.
type Router struct {
	handlers Handlers
	queue    chan Event
	done     chan struct{}
	observer func(name string)
	logger   zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	mu        sync.RWMutex
}

// NewRouter creates a Router. Start must be called before events are delivered.
func NewRouter(handlers Handlers, queueSize int, logger zerolog.Logger) *Router {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Router{
		handlers: handlers,
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "pushevent").Logger(),
	}
}

// SetObserver installs a callback invoked for every delivered event
func (r *Router) SetObserver(fn func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Start launches the delivery worker
func (r *Router) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.worker()
	})
}

// Stop halts delivery and waits for the worker. Events still queued are discarded.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// Enqueue queues an event for delivery, blocking while the queue is full
func (r *Router) Enqueue(name string, data json.RawMessage) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}

	select {
	case r.queue <- Event{Name: name, Data: data}:
		return nil
	case <-r.done:
		return ErrStopped
	}
}

// Len returns the number of queued events
func (r *Router) Len() int {
	return len(r.queue)
}

func (r *Router) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case ev := <-r.queue:
			r.Dispatch(ev)
		}
	}
}

// Dispatch decodes ev and calls the matching handler on the calling goroutine
func (r *Router) Dispatch(ev Event) {
	r.logger.Debug().Str("event", ev.Name).RawJSON("data", rawOrNull(ev.Data)).Msg("push event")

	if err := r.dispatch(ev); err != nil {
		r.logger.Warn().Err(err).Str("event", ev.Name).Msg("dropping malformed push event")
		return
	}

	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()
	if obs != nil {
		obs(ev.Name)
	}
}

func (r *Router) dispatch(ev Event) error {
	h := r.handlers

	switch ev.Kind() {
	case KindConnect:
		var info ConnectInfo
		if err := decode(ev.Data, &info); err != nil {
			return err
		}
		h.Connect(info)
	case KindDisconnect:
		h.Disconnect()
	case KindUnlock:
		h.Unlock()
	case KindLock:
		h.Lock()
	case KindAccountsChanged:
		var accounts []string
		if err := decode(ev.Data, &accounts); err != nil {
			return err
		}
		h.AccountsChanged(accounts)
	case KindChainChanged:
		var change ChainChange
		if err := decode(ev.Data, &change); err != nil {
			return err
		}
		h.ChainChanged(change)
	case KindDefaultWalletChanged:
		var isDefault bool
		if err := decode(ev.Data, &isDefault); err != nil {
			return err
		}
		h.DefaultWalletChanged(isDefault)
	default:
		h.Forward(ev.Name, ev.Data)
	}
	return nil
}

// decode unmarshals data into v; absent or null data leaves v at its zero value
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func rawOrNull(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("null")
	}
	return data
}
