package pushevent

import (
	"encoding/json"
	"sync/atomic"

	"github.com/rs/zerolog"

	"walletprovider/internal/jsonrpc"
	"walletprovider/internal/session"
)

// Emitter is the application-facing side of the event surface
type Emitter interface {
	Emit(event string, args ...any) bool
}

// SessionHandlers applies push events to a session and re-emits the
// resulting application events
type SessionHandlers struct {
	state           *session.State
	events          Emitter
	onDefaultWallet atomic.Pointer[func(isDefault bool)]
	logger          zerolog.Logger
}

// NewSessionHandlers creates handlers bound to state and events.
// onDefaultWallet may be nil.
func NewSessionHandlers(state *session.State, events Emitter, onDefaultWallet func(bool), logger zerolog.Logger) *SessionHandlers {
	h := &SessionHandlers{
		state:  state,
		events: events,
		logger: logger.With().Str("component", "pushhandlers").Logger(),
	}
	h.SetDefaultWalletHook(onDefaultWallet)
	return h
}

// SetDefaultWalletHook replaces the default-wallet callback. It is safe to
// call while the push worker is running.
func (h *SessionHandlers) SetDefaultWalletHook(fn func(bool)) {
	if fn == nil {
		h.onDefaultWallet.Store(nil)
		return
	}
	h.onDefaultWallet.Store(&fn)
}

func (h *SessionHandlers) Connect(info ConnectInfo) {
	if h.state.SetConnected(true) {
		h.events.Emit("connect", info)
	}
}

func (h *SessionHandlers) Disconnect() {
	h.state.Disconnect()

	err := jsonrpc.ErrDisconnected
	h.events.Emit("accountsChanged", []string{})
	h.events.Emit("disconnect", err)
	h.events.Emit("close", err)
}

func (h *SessionHandlers) Unlock() {
	h.state.SetUnlocked(true)
}

func (h *SessionHandlers) Lock() {
	h.state.SetUnlocked(false)
}

// AccountsChanged emits only when the selected account changes
func (h *SessionHandlers) AccountsChanged(accounts []string) {
	changed, err := h.state.SetAccounts(accounts)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ignoring accountsChanged")
		return
	}
	if !changed {
		return
	}

	current := h.state.Snapshot().Accounts
	if current == nil {
		current = []string{}
	}
	h.events.Emit("accountsChanged", current)
}

// ChainChanged implies a connection, then emits chainChanged and
// networkChanged for whichever value actually changed
func (h *SessionHandlers) ChainChanged(change ChainChange) {
	h.Connect(ConnectInfo{ChainID: change.Chain})

	changed, err := h.state.SetChain(change.Chain)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ignoring chainChanged")
		return
	}
	if changed {
		h.events.Emit("chainChanged", h.state.ChainID())
	}

	if change.NetworkVersion != "" && h.state.SetNetworkVersion(change.NetworkVersion) {
		h.events.Emit("networkChanged", change.NetworkVersion)
	}
}

func (h *SessionHandlers) DefaultWalletChanged(isDefault bool) {
	h.events.Emit("defaultWalletChanged", isDefault)
	if fn := h.onDefaultWallet.Load(); fn != nil {
		(*fn)(isDefault)
	}
}

// Forward re-emits an unrecognized event with its decoded payload
func (h *SessionHandlers) Forward(name string, data json.RawMessage) {
	if len(data) == 0 {
		h.events.Emit(name)
		return
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		h.events.Emit(name, data)
		return
	}
	h.events.Emit(name, v)
}
