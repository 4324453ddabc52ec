package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variables that override file values
const (
	EnvPrefix         = "WALLETPROVIDER_"
	envLogLevel       = EnvPrefix + "LOG_LEVEL"
	envWalletURL      = EnvPrefix + "WALLET_URL"
	envMetricsAddr    = EnvPrefix + "METRICS_ADDR"
	envRequestTimeout = EnvPrefix + "REQUEST_TIMEOUT"
	envPageOrigin     = EnvPrefix + "PAGE_ORIGIN"
	envDefaultWallet  = EnvPrefix + "DEFAULT_WALLET"
)

// Load reads and parses the configuration file. An empty path yields the
// defaults. A .env file next to the working directory, if present, is loaded
// first so its values can override the file.
func Load(path string) (*Config, error) {
	// a missing .env is normal
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration built from defaults only. It is not
// passed through validate.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyEnv copies environment overrides onto cfg
func applyEnv(cfg *Config) error {
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(envWalletURL); v != "" {
		cfg.WalletURL = v
	}
	if v := os.Getenv(envMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv(envPageOrigin); v != "" {
		cfg.Page.Origin = v
	}
	if v := os.Getenv(envRequestTimeout); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envRequestTimeout, err)
		}
		cfg.RequestTimeout = ms
	}
	if v := os.Getenv(envDefaultWallet); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envDefaultWallet, err)
		}
		cfg.IsDefaultWallet = b
	}
	return nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.WalletURL == "" {
		cfg.WalletURL = DefaultWalletURL
	}
	// RequestTimeout default is 0, which waits for the wallet
	if cfg.MessageTimeout == 0 {
		cfg.MessageTimeout = DefaultMessageTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.ReadyThreshold == 0 {
		cfg.ReadyThreshold = DefaultReadyThreshold
	}
	if cfg.MaxListeners == 0 {
		cfg.MaxListeners = DefaultMaxListeners
	}
	if cfg.PushQueueSize == 0 {
		cfg.PushQueueSize = DefaultPushQueueSize
	}
	if cfg.DiscoveryCacheSize == 0 {
		cfg.DiscoveryCacheSize = DefaultDiscoveryCacheSize
	}

	if cfg.Globals.Ethereum == "" {
		cfg.Globals.Ethereum = DefaultEthereumGlobal
	}
	if cfg.Globals.Router == "" {
		cfg.Globals.Router = DefaultRouterGlobal
	}
	if cfg.Globals.Self == "" {
		cfg.Globals.Self = DefaultSelfGlobal
	}
	if cfg.Globals.Web3 == nil {
		web3 := DefaultWeb3Global
		cfg.Globals.Web3 = &web3
	}

	if cfg.Identity.Name == "" {
		cfg.Identity.Name = DefaultIdentityName
	}
	if cfg.Identity.Icon == "" {
		cfg.Identity.Icon = DefaultIdentityIcon
	}
	if cfg.Identity.RDNS == "" {
		cfg.Identity.RDNS = DefaultIdentityRDNS
	}

	if cfg.Page.Origin == "" {
		cfg.Page.Origin = DefaultPageOrigin
	}
}

var structValidator = validator.New()

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}

	names := map[string]bool{}
	for _, name := range []string{cfg.Globals.Ethereum, cfg.Globals.Router, cfg.Globals.Self, cfg.Globals.Web3Name()} {
		if name == "" {
			continue
		}
		if names[name] {
			return fmt.Errorf("globals: duplicate name '%s'", name)
		}
		names[name] = true
	}

	if !strings.HasPrefix(cfg.WalletURL, "ws://") && !strings.HasPrefix(cfg.WalletURL, "wss://") {
		return fmt.Errorf("walletUrl must use ws:// or wss://")
	}

	return nil
}
