package inject

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"walletprovider/internal/config"
	"walletprovider/internal/discovery"
	"walletprovider/internal/jsonrpc"
	"walletprovider/internal/metrics"
	"walletprovider/internal/page"
	"walletprovider/internal/provider"
	"walletprovider/internal/router"
	"walletprovider/internal/transport"
)

// EventInitialized is dispatched on the page once the provider is installed
const EventInitialized = "ethereum#initialized"

// Options configures Load
type Options struct {
	Config    *config.Config
	Transport transport.Transport
	Window    *page.Window
	// Metrics is optional
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Injected is a provider installed into a page
type Injected struct {
	Provider  *provider.Provider
	Router    *router.Router
	Announcer *discovery.Announcer
	Window    *page.Window

	cancel    context.CancelFunc
	removeVis func()
	closeOnce sync.Once
}

// notifier sends a request without waiting for the answer
type notifier interface {
	Notify(req *jsonrpc.Request) error
}

// Load installs a provider into the page: it checks in with the wallet,
// binds the page globals, exposes the provider and announces it for
// discovery. Initialization continues in the background; Provider's
// Initialized channel closes when the wallet state has been adopted.
func Load(ctx context.Context, opts Options) (*Injected, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Window == nil {
		return nil, fmt.Errorf("window is required")
	}
	logger := opts.Logger.With().Str("component", "inject").Logger()
	ctx, cancel := context.WithCancel(ctx)

	popts := provider.Options{
		Transport:      opts.Transport,
		ReadyThreshold: cfg.ReadyThreshold,
		MaxListeners:   cfg.MaxListeners,
		PushQueueSize:  cfg.PushQueueSize,
		RequestTimeout: cfg.GetRequestTimeoutDuration(),
		Logger:         opts.Logger,
	}
	if opts.Metrics != nil {
		popts.Observer = opts.Metrics
	}
	p := provider.New(popts)
	p.Start()

	win := opts.Window
	p.SetVisibilityProbe(win.Visible)
	removeVis := win.AddEventListener(page.EventVisibilityChange, func(any) {
		p.SetVisibility(win.Visible())
	})

	go p.Initialize(ctx)

	checkIn(ctx, opts.Transport, win.Metadata(), logger)
	p.Handshake()

	r := router.New(p, &reporter{ctx: ctx, p: p, logger: logger}, opts.Logger)
	names := router.Names{
		Ethereum: cfg.Globals.Ethereum,
		Router:   cfg.Globals.Router,
		Self:     cfg.Globals.Self,
		Web3:     cfg.Globals.Web3Name(),
	}
	if err := r.Bind(win, names, cfg.DirectBinding); err != nil {
		removeVis()
		p.Close()
		cancel()
		return nil, fmt.Errorf("failed to bind provider: %w", err)
	}
	p.SetReady()

	p.SetDefaultWalletHook(r.SetDefaultProvider)
	go queryDefaultWallet(ctx, p, r, cfg.IsDefaultWallet, logger)

	info, err := discovery.NewInfo(cfg.Identity.Name, cfg.Identity.Icon, cfg.Identity.RDNS)
	if err != nil {
		removeVis()
		p.Close()
		cancel()
		return nil, fmt.Errorf("invalid provider identity: %w", err)
	}
	announcer := discovery.NewAnnouncer(win, info, p, opts.Logger)
	if opts.Metrics != nil {
		announcer.SetAnnounceHook(opts.Metrics.ObserveAnnounce)
	}
	announcer.Start()

	win.DispatchEvent(EventInitialized, nil)
	logger.Info().
		Str("origin", win.Metadata().Origin).
		Str("uuid", info.UUID).
		Bool("direct", cfg.DirectBinding).
		Msg("provider injected")

	return &Injected{
		Provider:  p,
		Router:    r,
		Announcer: announcer,
		Window:    win,
		cancel:    cancel,
		removeVis: removeVis,
	}, nil
}

// Close stops announcing and push delivery and cancels background work
func (in *Injected) Close() {
	in.closeOnce.Do(func() {
		in.Announcer.Stop()
		in.removeVis()
		in.Provider.Close()
		in.cancel()
	})
}

// checkIn tells the wallet about the page without waiting for the answer
func checkIn(ctx context.Context, t transport.Transport, meta page.Metadata, logger zerolog.Logger) {
	if t == nil {
		return
	}
	req := jsonrpc.MustRequest("tabCheckin", meta)

	if n, ok := t.(notifier); ok {
		if err := n.Notify(req); err != nil {
			logger.Debug().Err(err).Msg("tab check-in not sent")
		}
		return
	}
	go func() {
		if _, err := t.Request(ctx, req); err != nil {
			logger.Debug().Err(err).Msg("tab check-in failed")
		}
	}()
}

// queryDefaultWallet asks the wallet whether it is the user's default and
// routes the page accordingly. The configured value is used if it cannot answer.
func queryDefaultWallet(ctx context.Context, p *provider.Provider, r *router.Router, fallback bool, logger zerolog.Logger) {
	isDefault := fallback
	raw, err := p.RequestInternal(ctx, jsonrpc.MustRequest("isDefaultWallet", []any{}))
	if err == nil {
		if err := json.Unmarshal(raw, &isDefault); err != nil {
			logger.Warn().Err(err).Msg("malformed isDefaultWallet answer")
			isDefault = fallback
		}
	} else {
		logger.Debug().Err(err).Bool("fallback", fallback).Msg("isDefaultWallet failed")
	}
	if ctx.Err() != nil {
		return
	}
	r.SetDefaultProvider(isDefault)
}

// reporter tells the wallet another provider is on the page
type reporter struct {
	ctx    context.Context
	p      *provider.Provider
	logger zerolog.Logger
}

func (r *reporter) ReportOtherProvider() {
	go func() {
		if _, err := r.p.RequestInternal(r.ctx, jsonrpc.MustRequest("hasOtherProvider", []any{})); err != nil {
			r.logger.Debug().Err(err).Msg("hasOtherProvider failed")
		}
	}()
}
