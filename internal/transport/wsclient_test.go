package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletprovider/internal/jsonrpc"
)

// fakeWallet is a WebSocket server standing in for the wallet process
type fakeWallet struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	handle   func(req *jsonrpc.Request) *jsonrpc.Response

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeWallet(t *testing.T, handle func(req *jsonrpc.Request) *jsonrpc.Response) *fakeWallet {
	t.Helper()
	w := &fakeWallet{handle: handle}
	w.server = httptest.NewServer(http.HandlerFunc(w.serve))
	t.Cleanup(w.server.Close)
	return w
}

func (w *fakeWallet) url() string {
	return "ws" + strings.TrimPrefix(w.server.URL, "http")
}

func (w *fakeWallet) serve(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.conns = append(w.conns, conn)
	w.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := jsonrpc.ParseRequest(data)
		if err != nil {
			continue
		}
		resp := w.handle(req)
		if resp == nil {
			continue
		}
		resp.ID = req.ID
		out, _ := resp.Bytes()
		w.mu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, out)
		w.mu.Unlock()
	}
}

func (w *fakeWallet) push(t *testing.T, event string, data any) {
	t.Helper()
	n, err := jsonrpc.NewNotification(event, data)
	require.NoError(t, err)
	out, err := n.Bytes()
	require.NoError(t, err)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, conn := range w.conns {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, out))
	}
}

func (w *fakeWallet) dropConnections() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, conn := range w.conns {
		conn.Close()
	}
	w.conns = nil
}

func (w *fakeWallet) connCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.conns)
}

func echoChainID(req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case "eth_chainId":
		resp, _ := jsonrpc.NewResponse(req.ID, "0x1")
		return resp
	case "eth_requestAccounts":
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrUserRejected)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrMethodNotFound)
	}
}

func connect(t *testing.T, w *fakeWallet) *WSClient {
	t.Helper()
	c := NewWSClient(WSOptions{URL: w.url(), ReconnectInterval: 50 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)
	return c
}

func TestWSClient_Request(t *testing.T) {
	w := newFakeWallet(t, echoChainID)
	c := connect(t, w)

	res, err := c.Request(context.Background(), jsonrpc.MustRequest("eth_chainId", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(res))
}

func TestWSClient_WalletError(t *testing.T) {
	w := newFakeWallet(t, echoChainID)
	c := connect(t, w)

	_, err := c.Request(context.Background(), jsonrpc.MustRequest("eth_requestAccounts", nil))
	require.Error(t, err)

	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.CodeUserRejected, rpcErr.Code)
}

func TestWSClient_InvalidRequest(t *testing.T) {
	w := newFakeWallet(t, echoChainID)
	c := connect(t, w)

	_, err := c.Request(context.Background(), &jsonrpc.Request{})
	assert.ErrorIs(t, err, jsonrpc.ErrInvalidRequest)
}

func TestWSClient_ContextCancel(t *testing.T) {
	w := newFakeWallet(t, func(*jsonrpc.Request) *jsonrpc.Response { return nil })
	c := connect(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, jsonrpc.MustRequest("eth_chainId", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWSClient_PushOrder(t *testing.T) {
	w := newFakeWallet(t, echoChainID)
	c := connect(t, w)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	c.SetPushHandler(func(event string, data json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, event+":"+string(data))
		if len(got) == 3 {
			close(done)
		}
	})

	// make sure the server side has registered the connection
	_, err := c.Request(context.Background(), jsonrpc.MustRequest("eth_chainId", nil))
	require.NoError(t, err)

	w.push(t, "unlock", nil)
	w.push(t, "accountsChanged", []string{"0xabc"})
	w.push(t, "lock", nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push events not delivered")
	}
	assert.Equal(t, []string{"unlock:", `accountsChanged:["0xabc"]`, "lock:"}, got)
}

func TestWSClient_Reconnect(t *testing.T) {
	w := newFakeWallet(t, echoChainID)
	c := connect(t, w)

	var states []bool
	var mu sync.Mutex
	c.SetConnStateHandler(func(connected bool) {
		mu.Lock()
		states = append(states, connected)
		mu.Unlock()
	})

	_, err := c.Request(context.Background(), jsonrpc.MustRequest("eth_chainId", nil))
	require.NoError(t, err)
	w.dropConnections()

	require.Eventually(t, func() bool { return w.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	res, err := c.Request(context.Background(), jsonrpc.MustRequest("eth_chainId", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(res))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, states)
}

func TestWSClient_RequestAfterClose(t *testing.T) {
	w := newFakeWallet(t, echoChainID)
	c := connect(t, w)
	c.Close()

	_, err := c.Request(context.Background(), jsonrpc.MustRequest("eth_chainId", nil))
	assert.ErrorIs(t, err, ErrClosed)
}
