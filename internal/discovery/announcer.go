package discovery

import (
	"sync"

	"github.com/rs/zerolog"
)

// Bus is a page-wide broadcast channel
type Bus interface {
	AddEventListener(event string, fn func(detail any)) (remove func())
	DispatchEvent(event string, detail any)
}

// Announcer answers discovery requests with a fixed Detail
type Announcer struct {
	bus        Bus
	detail     Detail
	onAnnounce func()
	logger     zerolog.Logger

	remove    func()
	startOnce sync.Once
	mu        sync.Mutex
}

// NewAnnouncer creates an announcer for provider under info
func NewAnnouncer(bus Bus, info Info, provider any, logger zerolog.Logger) *Announcer {
	return &Announcer{
		bus:    bus,
		detail: NewDetail(info, provider),
		logger: logger.With().Str("component", "discovery").Str("rdns", info.RDNS).Logger(),
	}
}

// SetAnnounceHook installs a callback run after every announcement
func (a *Announcer) SetAnnounceHook(fn func()) {
	a.mu.Lock()
	a.onAnnounce = fn
	a.mu.Unlock()
}

// Detail returns the announced payload
func (a *Announcer) Detail() Detail {
	return a.detail
}

// Start listens for discovery requests and announces once right away, for
// applications that asked before this provider existed
func (a *Announcer) Start() {
	a.startOnce.Do(func() {
		remove := a.bus.AddEventListener(EventRequestProvider, func(any) {
			a.Announce()
		})
		a.mu.Lock()
		a.remove = remove
		a.mu.Unlock()

		a.Announce()
	})
}

// Stop removes the discovery request listener
func (a *Announcer) Stop() {
	a.mu.Lock()
	remove := a.remove
	a.remove = nil
	a.mu.Unlock()
	if remove != nil {
		remove()
	}
}

// Announce dispatches the announcement
func (a *Announcer) Announce() {
	a.logger.Debug().Str("uuid", a.detail.info.UUID).Msg("announcing provider")
	a.bus.DispatchEvent(EventAnnounceProvider, a.detail)

	a.mu.Lock()
	hook := a.onAnnounce
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
}
