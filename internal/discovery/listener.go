package discovery

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Listener is the application side of discovery: it asks for providers and
// remembers every announcement it sees, keyed by uuid
type Listener struct {
	bus    Bus
	cache  *lru.Cache[string, Detail]
	remove func()
	mu     sync.Mutex
}

// NewListener creates a Listener remembering at most size announcements
func NewListener(bus Bus, size int) (*Listener, error) {
	cache, err := lru.New[string, Detail](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery cache: %w", err)
	}
	return &Listener{bus: bus, cache: cache}, nil
}

// Start subscribes to announcements and broadcasts a discovery request
func (l *Listener) Start() {
	l.mu.Lock()
	if l.remove != nil {
		l.mu.Unlock()
		return
	}
	l.remove = l.bus.AddEventListener(EventAnnounceProvider, l.record)
	l.mu.Unlock()

	l.Request()
}

// Request broadcasts a discovery request
func (l *Listener) Request() {
	l.bus.DispatchEvent(EventRequestProvider, nil)
}

// Stop unsubscribes from announcements
func (l *Listener) Stop() {
	l.mu.Lock()
	remove := l.remove
	l.remove = nil
	l.mu.Unlock()
	if remove != nil {
		remove()
	}
}

func (l *Listener) record(detail any) {
	d, ok := detail.(Detail)
	if !ok || d.info.UUID == "" {
		return
	}
	l.cache.Add(d.info.UUID, d)
}

// Providers returns every remembered announcement, oldest first
func (l *Listener) Providers() []Detail {
	return l.cache.Values()
}

// Get returns the announcement with the given uuid
func (l *Listener) Get(uuid string) (Detail, bool) {
	return l.cache.Get(uuid)
}

// FindByRDNS returns the most recent announcement for rdns
func (l *Listener) FindByRDNS(rdns string) (Detail, bool) {
	values := l.cache.Values()
	for i := len(values) - 1; i >= 0; i-- {
		if values[i].info.RDNS == rdns {
			return values[i], true
		}
	}
	return Detail{}, false
}
