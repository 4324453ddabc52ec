package config

import "time"

// Config represents the main configuration structure
type Config struct {
	LogLevel           string         `json:"logLevel" validate:"oneof=debug info warn error"`
	WalletURL          string         `json:"walletUrl" validate:"required,url"`
	MetricsAddr        string         `json:"metricsAddr,omitempty" validate:"omitempty,hostname_port"`
	RequestTimeout     int            `json:"requestTimeout" validate:"gte=0"`     // ms - 0 waits until the wallet answers
	MessageTimeout     int            `json:"messageTimeout" validate:"gte=0"`     // ms - timeout for receiving messages from the wallet WebSocket
	ReconnectInterval  int            `json:"reconnectInterval" validate:"gte=0"`  // ms - interval between reconnection attempts
	PingInterval       int            `json:"pingInterval" validate:"gte=0"`       // ms
	ReadyThreshold     int            `json:"readyThreshold" validate:"gte=1"`     // weight the readiness gate needs before dispatching
	MaxListeners       int            `json:"maxListeners" validate:"gte=0"`       // per-event listener count that triggers a warning
	PushQueueSize      int            `json:"pushQueueSize" validate:"gte=1"`      // bounded queue in front of the push worker
	DiscoveryCacheSize int            `json:"discoveryCacheSize" validate:"gte=1"` // announcements remembered by the discovery listener
	IsDefaultWallet    bool           `json:"isDefaultWallet"`
	DirectBinding      bool           `json:"directBinding"` // install the provider as a plain global, skipping the router indirection
	Globals            GlobalsConfig  `json:"globals"`
	Identity           IdentityConfig `json:"identity"`
	Page               PageConfig     `json:"page"`
}

// GlobalsConfig names the page globals the provider is installed under
type GlobalsConfig struct {
	Ethereum string  `json:"ethereum" validate:"required"`
	Router   string  `json:"router" validate:"required"`
	Self     string  `json:"self" validate:"required"`
	Web3     *string `json:"web3,omitempty"` // unset means "web3", "" disables the shim
}

// Web3Name returns the legacy web3 global, or "" when the shim is disabled
func (g GlobalsConfig) Web3Name() string {
	if g.Web3 == nil {
		return DefaultWeb3Global
	}
	return *g.Web3
}

// IdentityConfig is the wallet identity announced to applications
type IdentityConfig struct {
	Name string `json:"name" validate:"required"`
	Icon string `json:"icon" validate:"required,datauri"`
	RDNS string `json:"rdns" validate:"required,fqdn"`
}

// PageConfig describes the host page the provider is injected into
type PageConfig struct {
	Origin string `json:"origin" validate:"required,url"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
	Hidden bool   `json:"hidden"`           // start the page in the background
	Script string `json:"script,omitempty"` // path to a page script run after injection
}

// Default values
const (
	DefaultLogLevel           = "info"
	DefaultWalletURL          = "ws://localhost:8546"
	DefaultRequestTimeout     = 0     // ms
	DefaultMessageTimeout     = 60000 // ms - timeout for receiving messages from the wallet WebSocket (60s)
	DefaultReconnectInterval  = 5000  // ms - interval between reconnection attempts (5s)
	DefaultPingInterval       = 30000 // ms
	DefaultReadyThreshold     = 2
	DefaultMaxListeners       = 100
	DefaultPushQueueSize      = 256
	DefaultDiscoveryCacheSize = 64

	DefaultEthereumGlobal = "ethereum"
	DefaultRouterGlobal   = "rabbyWalletRouter"
	DefaultSelfGlobal     = "rabby"
	DefaultWeb3Global     = "web3"

	DefaultIdentityName = "Armor Wallet"
	DefaultIdentityRDNS = "io.rabby"
	DefaultIdentityIcon = "data:image/svg+xml;base64,PHN2ZyB4bWxucz0iaHR0cDovL3d3dy53My5vcmcvMjAwMC9zdmciIHdpZHRoPSIzMiIgaGVpZ2h0PSIzMiIgdmlld0JveD0iMCAwIDMyIDMyIj48cmVjdCB3aWR0aD0iMzIiIGhlaWdodD0iMzIiIHJ4PSIxNiIgZmlsbD0iIzdDODRGRiIvPjwvc3ZnPg=="

	DefaultPageOrigin = "http://localhost"
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetMessageTimeoutDuration returns wallet message timeout as time.Duration
func (c *Config) GetMessageTimeoutDuration() time.Duration {
	return time.Duration(c.MessageTimeout) * time.Millisecond
}

// GetReconnectIntervalDuration returns reconnect interval as time.Duration
func (c *Config) GetReconnectIntervalDuration() time.Duration {
	return time.Duration(c.ReconnectInterval) * time.Millisecond
}

// GetPingIntervalDuration returns ping interval as time.Duration
func (c *Config) GetPingIntervalDuration() time.Duration {
	return time.Duration(c.PingInterval) * time.Millisecond
}

// IsMetricsEnabled returns true if a metrics listen address is configured
func (c *Config) IsMetricsEnabled() bool {
	return c.MetricsAddr != ""
}
