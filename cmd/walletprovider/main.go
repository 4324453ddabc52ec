package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"walletprovider/internal/config"
	"walletprovider/internal/discovery"
	"walletprovider/internal/inject"
	"walletprovider/internal/metrics"
	"walletprovider/internal/page"
	"walletprovider/internal/transport"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "path to config file (defaults and environment only if empty)")
	scriptPath := flag.String("script", "", "page script run after injection, overrides page.script")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *scriptPath != "" {
		cfg.Page.Script = *scriptPath
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info().
		Str("config", *configPath).
		Str("wallet", cfg.WalletURL).
		Str("origin", cfg.Page.Origin).
		Bool("direct", cfg.DirectBinding).
		Msg("starting wallet provider")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	var metricsServer *metrics.Server
	if cfg.IsMetricsEnabled() {
		m = metrics.NewMetrics()
		metricsServer = metrics.NewServer(cfg.MetricsAddr, nil, logger)
		metricsServer.Start()
	}

	client := transport.NewWSClient(transport.WSOptions{
		URL:               cfg.WalletURL,
		MessageTimeout:    cfg.GetMessageTimeoutDuration(),
		ReconnectInterval: cfg.GetReconnectIntervalDuration(),
		PingInterval:      cfg.GetPingIntervalDuration(),
	}, logger)
	if m != nil {
		client.SetConnStateHandler(m.SetConnected)
	}
	if !connect(ctx, client, cfg.GetReconnectIntervalDuration(), logger) {
		client.Close()
		return
	}
	if m != nil {
		m.SetConnected(true)
	}

	win, err := page.New(page.Options{
		Origin:  cfg.Page.Origin,
		Title:   cfg.Page.Title,
		Icon:    cfg.Page.Icon,
		Visible: !cfg.Page.Hidden,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create page")
	}

	injected, err := inject.Load(ctx, inject.Options{
		Config:    cfg,
		Transport: client,
		Window:    win,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to inject provider")
	}

	// the page's own view of discovery
	listener, err := discovery.NewListener(win, cfg.DiscoveryCacheSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create discovery listener")
	}
	listener.Start()
	for _, d := range listener.Providers() {
		info := d.Info()
		logger.Info().Str("name", info.Name).Str("rdns", info.RDNS).Str("uuid", info.UUID).Msg("provider discovered")
	}

	if cfg.Page.Script != "" {
		runScript(win, cfg.Page.Script, logger)
	}

	<-ctx.Done()
	logger.Info().Msg("received shutdown signal")

	listener.Stop()
	injected.Close()
	win.Close()
	client.Close()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("error during metrics shutdown")
		}
	}
}

// connect dials the wallet until it succeeds or ctx ends
func connect(ctx context.Context, client *transport.WSClient, interval time.Duration, logger zerolog.Logger) bool {
	for {
		err := client.Connect(ctx)
		if err == nil {
			return true
		}
		logger.Warn().Err(err).Dur("nextRetry", interval).Msg("wallet not reachable, will retry")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

func runScript(win *page.Window, path string, logger zerolog.Logger) {
	src, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("script", path).Msg("failed to read page script")
		return
	}
	if _, err := win.RunScript(string(src)); err != nil {
		logger.Error().Err(err).Str("script", path).Msg("page script failed")
		return
	}
	logger.Info().Str("script", path).Msg("page script finished")
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
