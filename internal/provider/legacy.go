package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"walletprovider/internal/jsonrpc"
)

// ErrUnsupportedSyncMethod is returned by Send for methods that need a round trip
var ErrUnsupportedSyncMethod = errors.New("sync method not supported")

// Send answers the few methods that can be served from the session without
// asking the wallet
func (p *Provider) Send(req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var result any
	switch req.Method {
	case "eth_accounts":
		accounts := []string{}
		if addr := p.SelectedAddress(); addr != "" {
			accounts = append(accounts, addr)
		}
		result = accounts
	case "eth_coinbase":
		if addr := p.SelectedAddress(); addr != "" {
			result = addr
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSyncMethod, req.Method)
	}

	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		return nil, err
	}
	if result == nil {
		resp.Result = json.RawMessage("null")
	}
	return resp, nil
}

// SendAsync runs req through Request and reports the outcome to cb on its own
// goroutine. The response carries req's id and either a result or an error.
func (p *Provider) SendAsync(ctx context.Context, req *jsonrpc.Request, cb func(*jsonrpc.Response, error)) {
	go func() {
		cb(p.roundTrip(ctx, req))
	}()
}

// SendBatch runs every request concurrently and returns one response per
// request, in order. A failing item carries its error in the response; the
// batch itself never fails.
func (p *Provider) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) []*jsonrpc.Response {
	out := make([]*jsonrpc.Response, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *jsonrpc.Request) {
			defer wg.Done()
			resp, err := p.roundTrip(ctx, req)
			if err != nil && resp == nil {
				resp = jsonrpc.NewErrorResponse(idOf(req), jsonrpc.SerializeError(err))
			}
			out[i] = resp
		}(i, req)
	}
	wg.Wait()
	return out
}

func (p *Provider) roundTrip(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	res, err := p.Request(ctx, req)
	if err != nil {
		return jsonrpc.NewErrorResponse(idOf(req), jsonrpc.SerializeError(err)), err
	}
	resp := &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: idOf(req), Result: res}
	return resp, nil
}

// Enable asks the user to connect accounts
func (p *Provider) Enable(ctx context.Context) ([]string, error) {
	raw, err := p.Request(ctx, jsonrpc.MustRequest("eth_requestAccounts", nil))
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, jsonrpc.SerializeError(fmt.Errorf("decode accounts: %w", err))
	}
	return accounts, nil
}

// NetVersion returns the legacy network id from the wallet
func (p *Provider) NetVersion(ctx context.Context) (string, error) {
	raw, err := p.Request(ctx, jsonrpc.MustRequest("net_version", nil))
	if err != nil {
		return "", err
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return "", jsonrpc.SerializeError(fmt.Errorf("decode net_version: %w", err))
	}
	return version, nil
}

func idOf(req *jsonrpc.Request) jsonrpc.ID {
	if req == nil {
		return jsonrpc.NewIDNull()
	}
	return req.ID
}
