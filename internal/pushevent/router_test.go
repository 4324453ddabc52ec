package pushevent

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletprovider/internal/jsonrpc"
	"walletprovider/internal/session"
)

// recordingEmitter captures emitted events in order
type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

type emitted struct {
	name string
	args []any
}

func (r *recordingEmitter) Emit(event string, args ...any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{name: event, args: args})
	return true
}

func (r *recordingEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

// orderHandlers records the order in which kinds arrive
type orderHandlers struct {
	mu   sync.Mutex
	seen []string
}

func (o *orderHandlers) add(s string) {
	o.mu.Lock()
	o.seen = append(o.seen, s)
	o.mu.Unlock()
}

func (o *orderHandlers) Connect(ConnectInfo)                    { o.add("connect") }
func (o *orderHandlers) Disconnect()                            { o.add("disconnect") }
func (o *orderHandlers) Unlock()                                { o.add("unlock") }
func (o *orderHandlers) Lock()                                  { o.add("lock") }
func (o *orderHandlers) AccountsChanged([]string)               { o.add("accountsChanged") }
func (o *orderHandlers) ChainChanged(c ChainChange)             { o.add("chainChanged:" + c.Chain) }
func (o *orderHandlers) DefaultWalletChanged(bool)              { o.add("defaultWalletChanged") }
func (o *orderHandlers) Forward(name string, _ json.RawMessage) { o.add("forward:" + name) }

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindChainChanged, ParseKind("chainChanged"))
	assert.Equal(t, KindUnknown, ParseKind("rabby:chainChanged"))
	assert.Equal(t, "defaultWalletChanged", KindDefaultWalletChanged.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestRouter_DeliversInOrder(t *testing.T) {
	h := &orderHandlers{}
	r := NewRouter(h, 2, zerolog.Nop())

	var delivered sync.WaitGroup
	delivered.Add(6)
	r.SetObserver(func(string) { delivered.Done() })

	// queue is smaller than the burst: Enqueue must block, not drop
	go func() {
		for _, ev := range []Event{
			{Name: "unlock"},
			{Name: "chainChanged", Data: json.RawMessage(`{"chain":"0x1","networkVersion":"1"}`)},
			{Name: "chainChanged", Data: json.RawMessage(`{"chain":"0x89","networkVersion":"137"}`)},
			{Name: "message", Data: json.RawMessage(`{"type":"x"}`)},
			{Name: "lock"},
			{Name: "disconnect"},
		} {
			assert.NoError(t, r.Enqueue(ev.Name, ev.Data))
		}
	}()
	r.Start()
	defer r.Stop()

	waitGroup(t, &delivered)
	assert.Equal(t, []string{
		"unlock", "chainChanged:0x1", "chainChanged:0x89", "forward:message", "lock", "disconnect",
	}, h.seen)
}

func TestRouter_MalformedPayloadSkipped(t *testing.T) {
	h := &orderHandlers{}
	r := NewRouter(h, 4, zerolog.Nop())

	r.Dispatch(Event{Name: "accountsChanged", Data: json.RawMessage(`{"not":"a list"}`)})
	r.Dispatch(Event{Name: "accountsChanged", Data: json.RawMessage(`["0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"]`)})

	assert.Equal(t, []string{"accountsChanged"}, h.seen)
}

func TestRouter_EnqueueAfterStop(t *testing.T) {
	r := NewRouter(&orderHandlers{}, 1, zerolog.Nop())
	r.Start()
	r.Stop()
	assert.ErrorIs(t, r.Enqueue("lock", nil), ErrStopped)
}

func TestSessionHandlers_ChainChanged(t *testing.T) {
	state := session.NewState()
	ev := &recordingEmitter{}
	h := NewSessionHandlers(state, ev, nil, zerolog.Nop())

	h.ChainChanged(ChainChange{Chain: "0x1", NetworkVersion: "1"})
	h.ChainChanged(ChainChange{Chain: "0x1", NetworkVersion: "1"})

	assert.Equal(t, []string{"connect", "chainChanged", "networkChanged"}, ev.names())
	assert.True(t, state.Snapshot().IsConnected)
	assert.Equal(t, "0x1", state.ChainID())
}

func TestSessionHandlers_AccountsChanged(t *testing.T) {
	state := session.NewState()
	ev := &recordingEmitter{}
	h := NewSessionHandlers(state, ev, nil, zerolog.Nop())

	h.AccountsChanged([]string{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"})
	h.AccountsChanged([]string{"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"})
	h.AccountsChanged([]string{"garbage"})

	require.Len(t, ev.events, 1)
	assert.Equal(t, []string{"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"}, ev.events[0].args[0])
}

func TestSessionHandlers_Disconnect(t *testing.T) {
	state := session.NewState()
	state.SetConnected(true)
	ev := &recordingEmitter{}
	h := NewSessionHandlers(state, ev, nil, zerolog.Nop())

	h.Disconnect()

	assert.Equal(t, []string{"accountsChanged", "disconnect", "close"}, ev.names())
	assert.Equal(t, []string{}, ev.events[0].args[0])
	rpcErr, ok := ev.events[1].args[0].(*jsonrpc.Error)
	require.True(t, ok)
	assert.Equal(t, jsonrpc.CodeDisconnected, rpcErr.Code)
	assert.False(t, state.Snapshot().IsConnected)
}

func TestSessionHandlers_DefaultWalletChanged(t *testing.T) {
	ev := &recordingEmitter{}
	var got []bool
	h := NewSessionHandlers(session.NewState(), ev, func(b bool) { got = append(got, b) }, zerolog.Nop())

	h.DefaultWalletChanged(false)
	h.DefaultWalletChanged(true)

	assert.Equal(t, []bool{false, true}, got)
	assert.Equal(t, []string{"defaultWalletChanged", "defaultWalletChanged"}, ev.names())
}

func TestSessionHandlers_HookInstalledWhileRunning(t *testing.T) {
	h := NewSessionHandlers(session.NewState(), &recordingEmitter{}, nil, zerolog.Nop())
	r := NewRouter(h, 4, zerolog.Nop())

	const pushes = 100
	var delivered sync.WaitGroup
	delivered.Add(pushes + 1)
	r.SetObserver(func(string) { delivered.Done() })
	r.Start()
	defer r.Stop()

	var calls atomic.Int64
	hook := func(bool) { calls.Add(1) }

	go func() {
		for i := 0; i < pushes; i++ {
			assert.NoError(t, r.Enqueue("defaultWalletChanged", json.RawMessage(`true`)))
		}
	}()
	for i := 0; i < pushes; i++ {
		if i%2 == 0 {
			h.SetDefaultWalletHook(hook)
		} else {
			h.SetDefaultWalletHook(nil)
		}
	}
	h.SetDefaultWalletHook(hook)

	before := calls.Load()
	require.NoError(t, r.Enqueue("defaultWalletChanged", json.RawMessage(`false`)))
	waitGroup(t, &delivered)
	assert.Greater(t, calls.Load(), before)
}

func TestSessionHandlers_LockUnlock(t *testing.T) {
	state := session.NewState()
	h := NewSessionHandlers(state, &recordingEmitter{}, nil, zerolog.Nop())

	h.Unlock()
	assert.True(t, state.Snapshot().IsUnlocked)
	h.Lock()
	assert.False(t, state.Snapshot().IsUnlocked)
}

func TestSessionHandlers_Forward(t *testing.T) {
	ev := &recordingEmitter{}
	h := NewSessionHandlers(session.NewState(), ev, nil, zerolog.Nop())

	h.Forward("message", json.RawMessage(`{"type":"eth_subscription"}`))
	require.Len(t, ev.events, 1)
	assert.Equal(t, map[string]any{"type": "eth_subscription"}, ev.events[0].args[0])
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
