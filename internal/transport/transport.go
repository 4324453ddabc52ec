package transport

import (
	"context"
	"encoding/json"
	"errors"

	"walletprovider/internal/jsonrpc"
)

// PushHandler receives push events in the order the wallet sent them
type PushHandler func(event string, data json.RawMessage)

// Transport carries requests to the wallet process and push events back
type Transport interface {
	// Request sends req and waits for the wallet's answer. Wallet-side
	// failures are returned as *jsonrpc.Error.
	Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error)
	// SetPushHandler installs the push event callback. Events received
	// before a handler is installed are discarded.
	SetPushHandler(h PushHandler)
	Close()
}

var (
	ErrNotConnected = errors.New("wallet transport not connected")
	ErrClosed       = errors.New("wallet transport closed")
)
