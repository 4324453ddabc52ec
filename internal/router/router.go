package router

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

// Provider is any wallet provider object present on the page. Providers are
// compared by identity.
type Provider = any

// ErrBindingConflict is returned by a Binding when the slot is already
// claimed and cannot be redefined
var ErrBindingConflict = errors.New("global binding is not configurable")

// Binding installs values into the page's global scope
type Binding interface {
	// Lookup returns the value currently visible under name
	Lookup(name string) (Provider, bool)
	// DefineAccessor installs name as a get/set indirection. Returns
	// ErrBindingConflict if name cannot be redefined.
	DefineAccessor(name string, get func() Provider, set func(Provider)) error
	// DefineConstant installs a read-only value. Returns ErrBindingConflict
	// if name cannot be redefined.
	DefineConstant(name string, value any) error
	// Assign overwrites name with a plain value
	Assign(name string, value any) error
}

// Reporter tells the wallet process that another provider is present
type Reporter interface {
	ReportOtherProvider()
}

// Names are the globals the router installs
type Names struct {
	Ethereum string
	Router   string
	Self     string
	Web3     string
}

// State is a snapshot of the router
type State struct {
	Current      Provider
	Providers    []Provider
	LastInjected Provider
}

// Web3Shim is installed as the legacy web3 global when the page has none
type Web3Shim struct {
	CurrentProvider Provider
}

// Router keeps every provider on the page and decides which one answers the
// global ethereum binding. There is one per page, alive for the page's lifetime.
type Router struct {
	self         Provider
	original     Provider
	current      Provider
	lastInjected Provider
	providers    []Provider
	reporter     Reporter
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// New creates a router whose own provider is self. Until SetDefaultProvider
// is called, self is current.
func New(self Provider, reporter Reporter, logger zerolog.Logger) *Router {
	return &Router{
		self:      self,
		current:   self,
		providers: []Provider{self},
		reporter:  reporter,
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// Bind installs the globals. A provider already present under the ethereum
// name is adopted as both the original and the last injected provider.
//
// With direct set, the globals are plain assignments and the router is not
// exposed. A binding conflict falls back to the same plain assignments and
// is reported to the wallet rather than returned.
func (r *Router) Bind(b Binding, names Names, direct bool) error {
	if existing, ok := b.Lookup(names.Ethereum); ok && existing != nil && !same(existing, r.self) {
		r.mu.Lock()
		r.original = existing
		r.lastInjected = existing
		r.addLocked(existing)
		r.mu.Unlock()

		r.logger.Info().Msg("found existing provider on page")
		r.report()
	}

	if names.Web3 != "" {
		if v, ok := b.Lookup(names.Web3); !ok || v == nil {
			if err := b.Assign(names.Web3, &Web3Shim{CurrentProvider: r.self}); err != nil {
				return fmt.Errorf("install %s: %w", names.Web3, err)
			}
		}
	}

	if direct {
		return r.assignDirect(b, names)
	}

	err := b.DefineAccessor(names.Ethereum, r.Current, r.AddProvider)
	if err == nil {
		err = b.DefineConstant(names.Self, r.self)
	}
	if err == nil {
		err = b.DefineConstant(names.Router, r)
	}
	if err == nil {
		r.logger.Debug().Str("global", names.Ethereum).Msg("global binding installed")
		return nil
	}
	if !errors.Is(err, ErrBindingConflict) {
		return fmt.Errorf("bind globals: %w", err)
	}

	// someone else owns the slot: take it over directly
	r.logger.Warn().Err(err).Str("global", names.Ethereum).Msg("binding conflict, overwriting directly")
	r.report()
	return r.assignDirect(b, names)
}

func (r *Router) assignDirect(b Binding, names Names) error {
	if err := b.Assign(names.Ethereum, r.self); err != nil {
		return fmt.Errorf("assign %s: %w", names.Ethereum, err)
	}
	if err := b.Assign(names.Self, r.self); err != nil {
		return fmt.Errorf("assign %s: %w", names.Self, err)
	}
	return nil
}

// AddProvider registers p. Providers other than self become the last
// injected provider and are reported to the wallet.
func (r *Router) AddProvider(p Provider) {
	if p == nil {
		return
	}

	r.mu.Lock()
	r.addLocked(p)
	other := !same(p, r.self)
	if other {
		r.lastInjected = p
	}
	r.mu.Unlock()

	if other {
		r.logger.Debug().Msg("provider registered")
		r.report()
	}
}

func (r *Router) addLocked(p Provider) {
	for _, existing := range r.providers {
		if same(existing, p) {
			return
		}
	}
	r.providers = append(r.providers, p)
}

// SetDefaultProvider selects self when preferSelf is true. Otherwise the last
// injected provider, or the provider found at bind time, takes over; with
// neither, the current provider is kept.
func (r *Router) SetDefaultProvider(preferSelf bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case preferSelf:
		r.current = r.self
	case r.lastInjected != nil:
		r.current = r.lastInjected
	case r.original != nil:
		r.current = r.original
	}
	r.logger.Debug().Bool("preferSelf", preferSelf).Bool("selfIsCurrent", same(r.current, r.self)).Msg("default provider set")
}

// Current resolves the global ethereum binding
func (r *Router) Current() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Providers returns every registered provider, self first
func (r *Router) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.providers...)
}

// LastInjected returns the most recently registered foreign provider, or nil
func (r *Router) LastInjected() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastInjected
}

// Self returns this wallet's provider
func (r *Router) Self() Provider {
	return r.self
}

// State returns a snapshot of the router
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return State{
		Current:      r.current,
		Providers:    append([]Provider(nil), r.providers...),
		LastInjected: r.lastInjected,
	}
}

func (r *Router) report() {
	if r.reporter != nil {
		r.reporter.ReportOtherProvider()
	}
}

// same compares providers by identity; values of incomparable types are never equal
func same(a, b Provider) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
