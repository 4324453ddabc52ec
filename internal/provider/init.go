package provider

import (
	"context"
	"encoding/json"

	"walletprovider/internal/jsonrpc"
	"walletprovider/internal/pushevent"
)

// ProviderState is the wallet's answer to getProviderState
type ProviderState struct {
	ChainID        string   `json:"chainId"`
	Accounts       []string `json:"accounts"`
	NetworkVersion string   `json:"networkVersion"`
	IsUnlocked     bool     `json:"isUnlocked"`
}

// Initialize queries the wallet for its current state and adopts it. Failure
// is not fatal: the session keeps its defaults. Either way the session is
// marked initialized and "_initialized" is emitted. Only the first call runs.
func (p *Provider) Initialize(ctx context.Context) {
	p.initOnce.Do(func() {
		defer func() {
			p.state.MarkInitialized()
			p.events.Emit("_initialized")
			close(p.initDone)
		}()

		raw, err := p.RequestInternal(ctx, jsonrpc.MustRequest("getProviderState", nil))
		if err != nil {
			p.logger.Debug().Err(err).Msg("getProviderState failed, keeping defaults")
			return
		}

		var st ProviderState
		if err := json.Unmarshal(raw, &st); err != nil {
			p.logger.Warn().Err(err).Msg("malformed provider state")
			return
		}
		p.adopt(st)
	})
}

// Initialized is closed once Initialize has finished
func (p *Provider) Initialized() <-chan struct{} {
	return p.initDone
}

func (p *Provider) adopt(st ProviderState) {
	if st.IsUnlocked {
		p.state.SetUnlocked(true)
	}
	if st.ChainID != "" {
		if _, err := p.state.SetChain(st.ChainID); err != nil {
			p.logger.Warn().Err(err).Msg("ignoring provider state chain id")
		}
	}
	if st.NetworkVersion != "" {
		p.state.SetNetworkVersion(st.NetworkVersion)
	}

	p.state.SetConnected(true)
	p.events.Emit("connect", pushevent.ConnectInfo{ChainID: p.state.ChainID()})

	if st.ChainID != "" {
		p.handlers.ChainChanged(pushevent.ChainChange{
			Chain:          st.ChainID,
			NetworkVersion: st.NetworkVersion,
		})
	}
	p.handlers.AccountsChanged(st.Accounts)
}
