package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"walletprovider/internal/dedupe"
	"walletprovider/internal/emitter"
	"walletprovider/internal/future"
	"walletprovider/internal/gate"
	"walletprovider/internal/jsonrpc"
	"walletprovider/internal/pushevent"
	"walletprovider/internal/session"
	"walletprovider/internal/transport"
)

// DefaultReadyThreshold is the gate weight needed before requests dispatch:
// one unit for page visibility on top of the handshake
const DefaultReadyThreshold = 2

// Observer receives request pipeline measurements
type Observer interface {
	ObserveRequest(method, outcome string)
	SetBuffered(n int)
	ObservePush(event string)
	gate.Observer
	dedupe.Observer
}

// Options configures a Provider
type Options struct {
	Transport      transport.Transport
	ReadyThreshold int
	MaxListeners   int
	PushQueueSize  int
	// RequestTimeout bounds every transport round trip; 0 waits for the wallet
	RequestTimeout time.Duration
	Observer       Observer
	Logger         zerolog.Logger
}

// Provider is the object applications hold to talk to the wallet
type Provider struct {
	transport      transport.Transport
	gate           *gate.Gate
	dedupe         *dedupe.Group[json.RawMessage]
	buffer         *preReadyBuffer
	state          *session.State
	events         *emitter.Emitter
	handlers       *pushevent.SessionHandlers
	push           *pushevent.Router
	observer       Observer
	requestTimeout time.Duration
	logger         zerolog.Logger

	visible        bool
	visibleCounted bool
	visibility     func() bool
	visMu          sync.Mutex

	handshakeOnce sync.Once
	initOnce      sync.Once
	initDone      chan struct{}
}

// New creates a Provider. Push events are not delivered until Start is called.
func New(opts Options) *Provider {
	threshold := opts.ReadyThreshold
	if threshold <= 0 {
		threshold = DefaultReadyThreshold
	}
	maxListeners := opts.MaxListeners
	if maxListeners == 0 {
		maxListeners = emitter.DefaultMaxListeners
	}

	logger := opts.Logger.With().Str("component", "provider").Logger()
	p := &Provider{
		transport:      opts.Transport,
		gate:           gate.New(threshold),
		dedupe:         dedupe.NewGroup[json.RawMessage](),
		buffer:         &preReadyBuffer{},
		state:          session.NewState(),
		events:         emitter.New(maxListeners, opts.Logger),
		observer:       opts.Observer,
		requestTimeout: opts.RequestTimeout,
		logger:         logger,
		visible:        true,
		initDone:       make(chan struct{}),
	}
	p.handlers = pushevent.NewSessionHandlers(p.state, p.events, nil, opts.Logger)
	p.push = pushevent.NewRouter(p.handlers, opts.PushQueueSize, opts.Logger)

	if p.observer != nil {
		p.gate.SetObserver(p.observer)
		p.dedupe.SetObserver(p.observer)
		p.buffer.onSize = p.observer.SetBuffered
		p.push.SetObserver(p.observer.ObservePush)
	}
	return p
}

// Start begins push event delivery from the transport
func (p *Provider) Start() {
	p.push.Start()
	if p.transport != nil {
		p.transport.SetPushHandler(p.HandlePush)
	}
}

// Close stops push delivery. The transport is left to its owner.
func (p *Provider) Close() {
	if p.transport != nil {
		p.transport.SetPushHandler(nil)
	}
	p.push.Stop()
	p.state.MarkPermanentlyDisconnected()
}

// Request sends req to the wallet once the provider is ready and the gate
// is open. Calls for the same method run one at a time, in order.
func (p *Provider) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if f, buffered := p.buffer.add(ctx, req); buffered {
		p.logger.Debug().Str("method", req.Method).Msg("request buffered until ready")
		return f.Wait(ctx)
	}
	return p.dispatch(ctx, req).Wait(ctx)
}

// RequestInternal sends a control request that skips the pre-ready buffer
// and the readiness gate. It is still serialized per method.
func (p *Provider) RequestInternal(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	return p.dedupe.Call(ctx, req.Method, func() (json.RawMessage, error) {
		return p.send(ctx, req)
	})
}

// dispatch admits req through the gate into the per-method queue. It never
// blocks; the returned future settles with the wallet's answer.
func (p *Provider) dispatch(ctx context.Context, req *jsonrpc.Request) *future.Future[json.RawMessage] {
	p.refreshVisibility()

	result := future.New[json.RawMessage]()
	p.gate.Call(func() {
		f := p.dedupe.Do(req.Method, func() (json.RawMessage, error) {
			return p.send(ctx, req)
		})
		future.Pipe(f, result)
	})
	return result
}

func (p *Provider) send(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	if p.transport == nil {
		return nil, jsonrpc.ErrDisconnected
	}
	if err := ctx.Err(); err != nil {
		p.observe(req.Method, err)
		return nil, err
	}

	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	// eth_call is too chatty to log
	verbose := req.Method != "eth_call"
	if verbose {
		p.logger.Debug().Str("method", req.Method).RawJSON("params", paramsOrNull(req.Params)).Msg("request")
	}

	res, err := p.transport.Request(ctx, req)
	p.observe(req.Method, err)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		rpcErr := jsonrpc.SerializeError(err)
		if verbose {
			p.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Str("error", rpcErr.Message).Msg("request failed")
		}
		return nil, rpcErr
	}

	if verbose {
		p.logger.Debug().Str("method", req.Method).RawJSON("result", res).Msg("request succeeded")
	}
	return res, nil
}

func (p *Provider) observe(method string, err error) {
	if p.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = "error"
	}
	p.observer.ObserveRequest(method, outcome)
}

// SetReady exposes the provider: held-back listeners are attached, then
// buffered requests are dispatched in submission order. Only the first call
// has any effect.
func (p *Provider) SetReady() {
	p.events.Ready()
	if p.buffer.drain(p.dispatch) {
		p.logger.Debug().Msg("provider ready")
	}
}

// Ready reports whether SetReady has been called
func (p *Provider) Ready() bool {
	return p.buffer.isReady()
}

// Buffered returns the number of requests waiting for SetReady
func (p *Provider) Buffered() int {
	return p.buffer.len()
}

// Handshake records that the wallet acknowledged this page. The gate opens
// fully, minus the visibility unit if the page is currently hidden.
func (p *Provider) Handshake() {
	p.handshakeOnce.Do(func() {
		p.visMu.Lock()
		p.gate.Admit(p.gate.Threshold())
		p.visibleCounted = true
		p.visMu.Unlock()

		p.refreshVisibility()
	})
}

// SetVisibilityProbe installs the function consulted before each dispatch
func (p *Provider) SetVisibilityProbe(probe func() bool) {
	p.visMu.Lock()
	p.visibility = probe
	p.visMu.Unlock()
}

// SetVisibility records the page visibility and adjusts the gate. Repeated
// calls with the same value are counted once.
func (p *Provider) SetVisibility(visible bool) {
	p.visMu.Lock()
	defer p.visMu.Unlock()
	p.setVisibilityLocked(visible)
}

func (p *Provider) setVisibilityLocked(visible bool) {
	p.visible = visible
	switch {
	case visible && !p.visibleCounted:
		p.visibleCounted = true
		p.gate.Admit(1)
	case !visible && p.visibleCounted:
		p.visibleCounted = false
		p.gate.Admit(-1)
	}
}

func (p *Provider) refreshVisibility() {
	p.visMu.Lock()
	defer p.visMu.Unlock()

	visible := p.visible
	if p.visibility != nil {
		visible = p.visibility()
	}
	p.setVisibilityLocked(visible)
}

// GateOpen reports whether requests currently dispatch without waiting
func (p *Provider) GateOpen() bool {
	return p.gate.IsOpen()
}

// HandlePush queues a push event from the wallet. It blocks while the push
// queue is full.
func (p *Provider) HandlePush(event string, data json.RawMessage) {
	if err := p.push.Enqueue(event, data); err != nil {
		p.logger.Debug().Str("event", event).Err(err).Msg("push event discarded")
	}
}

// SetDefaultWalletHook installs the callback run on defaultWalletChanged
func (p *Provider) SetDefaultWalletHook(fn func(isDefault bool)) {
	p.handlers.SetDefaultWalletHook(fn)
}

// On subscribes to an application event. Before SetReady the subscription
// is held back and attached at the ready transition.
func (p *Provider) On(event string, fn emitter.Listener) func() {
	return p.events.On(event, fn)
}

// Once subscribes to the next emission of an application event
func (p *Provider) Once(event string, fn emitter.Listener) func() {
	return p.events.Once(event, fn)
}

// ListenerCount returns the number of attached listeners for event
func (p *Provider) ListenerCount(event string) int {
	return p.events.ListenerCount(event)
}

// Session exposes the session record
func (p *Provider) Session() *session.State {
	return p.state
}

// State returns a snapshot of the session
func (p *Provider) State() session.Snapshot {
	return p.state.Snapshot()
}

// ChainID returns the current chain id or ""
func (p *Provider) ChainID() string {
	return p.state.ChainID()
}

// SelectedAddress returns the current account or ""
func (p *Provider) SelectedAddress() string {
	return p.state.SelectedAddress()
}

// NetworkVersion returns the legacy network id or ""
func (p *Provider) NetworkVersion() string {
	return p.state.Snapshot().NetworkVersion
}

// IsConnected always reports true: requests are queued rather than refused
// while the wallet is unreachable
func (p *Provider) IsConnected() bool {
	return true
}

// IsUnlocked reports the wallet lock state
func (p *Provider) IsUnlocked() bool {
	return p.state.Snapshot().IsUnlocked
}

func validate(req *jsonrpc.Request) error {
	if err := req.Validate(); err != nil {
		return jsonrpc.NewErrorWithData(jsonrpc.CodeInvalidRequest, "Invalid Request", err.Error())
	}
	return nil
}

func paramsOrNull(params json.RawMessage) []byte {
	if len(params) == 0 {
		return []byte("null")
	}
	return params
}
