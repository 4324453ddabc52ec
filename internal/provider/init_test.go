package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletprovider/internal/jsonrpc"
)

func waitInitialized(t *testing.T, p *Provider) {
	t.Helper()
	select {
	case <-p.Initialized():
	case <-time.After(2 * time.Second):
		t.Fatal("initialization did not finish")
	}
}

func TestProvider_InitializeFailureKeepsDefaults(t *testing.T) {
	tr := newMockTransport(func(_ context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
		if req.Method == "getProviderState" {
			return nil, errors.New("wallet not reachable")
		}
		return json.RawMessage(`[]`), nil
	})
	p := newTestProvider(t, tr)
	p.Handshake()

	p.Initialize(context.Background())
	waitInitialized(t, p)

	st := p.State()
	assert.True(t, st.Initialized)
	assert.Empty(t, p.ChainID())
	assert.False(t, st.IsConnected)

	done := make(chan json.RawMessage, 1)
	go func() {
		res, err := p.Request(context.Background(), jsonrpc.MustRequest("eth_accounts", nil))
		assert.NoError(t, err)
		done <- res
	}()
	require.Eventually(t, func() bool { return p.Buffered() == 1 }, time.Second, time.Millisecond)

	select {
	case <-done:
		t.Fatal("request resolved before ready")
	case <-time.After(50 * time.Millisecond):
	}

	p.SetReady()
	select {
	case res := <-done:
		assert.JSONEq(t, `[]`, string(res))
	case <-time.After(time.Second):
		t.Fatal("buffered request not released by ready")
	}
}

func TestProvider_InitializeAdoptsWalletState(t *testing.T) {
	tr := newMockTransport(func(_ context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
		return json.Marshal(ProviderState{
			ChainID:        "0x89",
			Accounts:       []string{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
			NetworkVersion: "137",
			IsUnlocked:     true,
		})
	})
	p := newTestProvider(t, tr)
	p.SetReady()

	events := make(chan string, 8)
	for _, name := range []string{"connect", "chainChanged", "accountsChanged", "_initialized"} {
		name := name
		p.On(name, func(...any) { events <- name })
	}

	p.Initialize(context.Background())
	p.Initialize(context.Background())
	waitInitialized(t, p)

	st := p.State()
	assert.Equal(t, "0x89", st.ChainID)
	assert.Equal(t, "137", st.NetworkVersion)
	assert.Equal(t, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", p.SelectedAddress())
	assert.True(t, st.IsUnlocked)
	assert.True(t, st.IsConnected)
	assert.True(t, st.Initialized)
	assert.Equal(t, []string{"getProviderState"}, tr.callLog())

	// the chain was already adopted, so no chainChanged follows connect
	var got []string
	for len(got) < 3 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", got)
		}
	}
	assert.Equal(t, []string{"connect", "accountsChanged", "_initialized"}, got)
}

func TestProvider_InitializeAcceptsPaddedChainID(t *testing.T) {
	tr := newMockTransport(func(_ context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"chainId":"0x01","accounts":[],"networkVersion":"1","isUnlocked":true}`), nil
	})
	p := newTestProvider(t, tr)

	p.Initialize(context.Background())
	waitInitialized(t, p)

	assert.Equal(t, "0x1", p.ChainID())
	assert.True(t, p.State().IsConnected)
}
