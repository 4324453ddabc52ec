package provider

import (
	"context"
	"encoding/json"
	"sync"

	"walletprovider/internal/future"
	"walletprovider/internal/jsonrpc"
)

type pendingCall struct {
	ctx    context.Context
	req    *jsonrpc.Request
	result *future.Future[json.RawMessage]
}

// preReadyBuffer holds requests made before the provider is exposed.
// It drains once, in submission order, and is bypassed afterwards.
type preReadyBuffer struct {
	entries []*pendingCall
	ready   bool
	onSize  func(n int)
	mu      sync.Mutex
}

// add queues a call. ok is false once the buffer has drained; the caller
// must then dispatch directly.
func (b *preReadyBuffer) add(ctx context.Context, req *jsonrpc.Request) (f *future.Future[json.RawMessage], ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return nil, false
	}
	call := &pendingCall{ctx: ctx, req: req, result: future.New[json.RawMessage]()}
	b.entries = append(b.entries, call)
	b.sizeChanged(len(b.entries))
	return call.result, true
}

// drain marks the buffer ready and hands every entry to dispatch in order.
// It holds the buffer lock throughout, so a request arriving during the drain
// waits and is dispatched after every buffered one. Returns false if the
// buffer had already drained.
func (b *preReadyBuffer) drain(dispatch func(ctx context.Context, req *jsonrpc.Request) *future.Future[json.RawMessage]) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return false
	}
	b.ready = true

	entries := b.entries
	b.entries = nil
	for _, call := range entries {
		// the caller gave up while buffered
		if err := call.ctx.Err(); err != nil {
			call.result.Reject(err)
			continue
		}
		future.Pipe(dispatch(call.ctx, call.req), call.result)
	}
	b.sizeChanged(0)
	return true
}

func (b *preReadyBuffer) isReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *preReadyBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *preReadyBuffer) sizeChanged(n int) {
	if b.onSize != nil {
		b.onSize(n)
	}
}
