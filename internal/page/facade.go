package page

import (
	"context"
	"encoding/json"

	"github.com/dop251/goja"

	"walletprovider/internal/emitter"
	"walletprovider/internal/jsonrpc"
)

// Provider is the Go side of a provider object exposed to page scripts
type Provider interface {
	Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error)
	Send(req *jsonrpc.Request) (*jsonrpc.Response, error)
	SendAsync(ctx context.Context, req *jsonrpc.Request, cb func(*jsonrpc.Response, error))
	SendBatch(ctx context.Context, reqs []*jsonrpc.Request) []*jsonrpc.Response
	Enable(ctx context.Context) ([]string, error)
	NetVersion(ctx context.Context) (string, error)
	On(event string, fn emitter.Listener) func()
	Once(event string, fn emitter.Listener) func()
	ChainID() string
	SelectedAddress() string
	NetworkVersion() string
	IsConnected() bool
	IsUnlocked() bool
}

type listenerKey struct {
	event string
	fn    *goja.Object
}

// facade holds the script subscriptions of one exposed provider. It is only
// touched with the runtime held.
type facade struct {
	w    *Window
	p    Provider
	obj  *goja.Object
	subs map[listenerKey][]func()
}

// newFacade builds the script object for p
func (w *Window) newFacade(p Provider) *goja.Object {
	vm := w.vm
	f := &facade{w: w, p: p, obj: vm.NewObject(), subs: make(map[listenerKey][]func())}
	obj := f.obj

	for name, v := range w.flags {
		obj.Set(name, v)
	}

	getters := map[string]func() string{
		"chainId":         p.ChainID,
		"selectedAddress": p.SelectedAddress,
		"networkVersion":  p.NetworkVersion,
	}
	for name, get := range getters {
		name, get := name, get
		obj.DefineAccessorProperty(name, vm.ToValue(func(goja.FunctionCall) goja.Value {
			if v := get(); v != "" {
				return vm.ToValue(v)
			}
			return goja.Null()
		}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}

	obj.Set("isConnected", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(p.IsConnected())
	})
	obj.Set("request", func(call goja.FunctionCall) goja.Value {
		return f.request(call.Argument(0), false)
	})
	obj.Set("send", f.send)
	obj.Set("sendAsync", func(call goja.FunctionCall) goja.Value {
		f.sendAsync(call.Argument(0), call.Argument(1))
		return goja.Undefined()
	})
	obj.Set("enable", func(goja.FunctionCall) goja.Value {
		return w.settleAsync(func() (any, error) { return p.Enable(w.ctx) })
	})
	obj.Set("net_version", func(goja.FunctionCall) goja.Value {
		return w.settleAsync(func() (any, error) { return p.NetVersion(w.ctx) })
	})

	metamask := vm.NewObject()
	metamask.Set("isUnlocked", func(goja.FunctionCall) goja.Value {
		promise, resolve, _ := w.newDeferred()
		resolve(vm.ToValue(p.IsUnlocked()))
		return promise
	})
	obj.Set("_metamask", metamask)

	on := func(call goja.FunctionCall) goja.Value {
		f.subscribe(call.Argument(0).String(), call.Argument(1), false)
		return obj
	}
	obj.Set("on", on)
	obj.Set("addListener", on)
	obj.Set("once", func(call goja.FunctionCall) goja.Value {
		f.subscribe(call.Argument(0).String(), call.Argument(1), true)
		return obj
	})
	off := func(call goja.FunctionCall) goja.Value {
		f.unsubscribe(call.Argument(0).String(), call.Argument(1))
		return obj
	}
	obj.Set("removeListener", off)
	obj.Set("off", off)
	return obj
}

// settleAsync runs fn off the runtime and returns a promise for its result
func (w *Window) settleAsync(fn func() (any, error)) goja.Value {
	promise, resolve, reject := w.newDeferred()
	go func() {
		v, err := fn()
		w.post(func() {
			if err != nil {
				reject(w.errorToJS(err))
				return
			}
			resolve(w.toJS(v))
		})
	}()
	return promise
}

// request returns a promise settled with the wallet's answer. With envelope
// set the answer is wrapped as {id, jsonrpc, result}.
func (f *facade) request(arg goja.Value, envelope bool) goja.Value {
	w := f.w
	promise, resolve, reject := w.newDeferred()

	req, ok := f.requestFrom(arg)
	if !ok {
		reject(w.errorToJS(jsonrpc.NewErrorWithData(jsonrpc.CodeInvalidRequest, "Invalid Request", "expected {method, params}")))
		return promise
	}

	go func() {
		res, err := f.p.Request(w.ctx, req)
		w.post(func() {
			if err != nil {
				reject(w.errorToJS(err))
				return
			}
			result := w.jsonToJS(res)
			if !envelope {
				resolve(result)
				return
			}
			wrapped := w.vm.NewObject()
			wrapped.Set("id", goja.Undefined())
			wrapped.Set("jsonrpc", jsonrpc.Version)
			wrapped.Set("result", result)
			resolve(wrapped)
		})
	}()
	return promise
}

func (f *facade) requestFrom(arg goja.Value) (*jsonrpc.Request, bool) {
	obj, ok := arg.(*goja.Object)
	if !ok {
		return nil, false
	}
	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version}
	if m := obj.Get("method"); m != nil && !goja.IsUndefined(m) && !goja.IsNull(m) {
		req.Method = m.String()
	}
	req.Params = f.w.jsonFromJS(obj.Get("params"))
	return req, true
}

// send is the legacy entry point. send(method, params) returns a promise for
// the response envelope,
// send(payload, callback) behaves like sendAsync and send(payload) answers
// synchronously from the session or throws.
func (f *facade) send(call goja.FunctionCall) goja.Value {
	w := f.w
	first, second := call.Argument(0), call.Argument(1)

	if _, isObject := first.(*goja.Object); !isObject {
		req := w.vm.NewObject()
		req.Set("method", first)
		req.Set("params", second)
		return f.request(req, true)
	}
	if _, isFunc := goja.AssertFunction(second); isFunc {
		f.sendAsync(first, second)
		return goja.Undefined()
	}

	req, err := jsonrpc.ParseRequest(w.jsonFromJS(first))
	if err != nil {
		panic(w.errorToJS(jsonrpc.NewErrorWithData(jsonrpc.CodeInvalidRequest, "Invalid Request", err.Error())))
	}
	resp, err := f.p.Send(req)
	if err != nil {
		panic(w.errorToJS(err))
	}
	data, err := resp.Bytes()
	if err != nil {
		panic(w.errorToJS(err))
	}
	return w.jsonToJS(data)
}

// sendAsync calls cb(error, response) once the wallet answers. An array
// payload is sent as a batch and answered with an array.
func (f *facade) sendAsync(payload, callback goja.Value) {
	w := f.w
	cb, ok := goja.AssertFunction(callback)
	if !ok {
		panic(w.vm.NewTypeError("sendAsync requires a callback"))
	}

	raw := w.jsonFromJS(payload)
	if obj, isObject := payload.(*goja.Object); isObject && obj.ClassName() == "Array" {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			panic(w.errorToJS(jsonrpc.NewErrorWithData(jsonrpc.CodeInvalidRequest, "Invalid Request", err.Error())))
		}
		reqs := make([]*jsonrpc.Request, 0, len(items))
		for _, item := range items {
			req, err := jsonrpc.ParseRequest(item)
			if err != nil {
				req = &jsonrpc.Request{}
			}
			reqs = append(reqs, req)
		}
		go func() {
			resps := f.p.SendBatch(w.ctx, reqs)
			w.post(func() {
				out := make([]interface{}, len(resps))
				for i, resp := range resps {
					out[i] = f.responseToJS(resp)
				}
				w.callScript("sendAsync", cb, goja.Null(), w.vm.NewArray(out...))
			})
		}()
		return
	}

	req, err := jsonrpc.ParseRequest(raw)
	if err != nil {
		panic(w.errorToJS(jsonrpc.NewErrorWithData(jsonrpc.CodeInvalidRequest, "Invalid Request", err.Error())))
	}
	f.p.SendAsync(w.ctx, req, func(resp *jsonrpc.Response, err error) {
		w.post(func() {
			errVal := goja.Null()
			if err != nil {
				errVal = w.errorToJS(err)
			}
			w.callScript("sendAsync", cb, errVal, f.responseToJS(resp))
		})
	})
}

func (f *facade) responseToJS(resp *jsonrpc.Response) goja.Value {
	if resp == nil {
		return goja.Null()
	}
	data, err := resp.Bytes()
	if err != nil {
		return f.w.errorToJS(err)
	}
	return f.w.jsonToJS(data)
}

func (f *facade) subscribe(event string, arg goja.Value, once bool) {
	w := f.w
	fn, ok := goja.AssertFunction(arg)
	if !ok {
		panic(w.vm.NewTypeError("listener must be a function"))
	}

	listener := func(args ...any) {
		w.post(func() {
			vals := make([]goja.Value, len(args))
			for i, a := range args {
				vals[i] = w.toJS(a)
			}
			w.callScript(event, fn, vals...)
		})
	}

	var unsubscribe func()
	if once {
		unsubscribe = f.p.Once(event, listener)
	} else {
		unsubscribe = f.p.On(event, listener)
	}
	key := listenerKey{event: event, fn: arg.(*goja.Object)}
	f.subs[key] = append(f.subs[key], unsubscribe)
}

// unsubscribe removes the oldest registration of fn for event
func (f *facade) unsubscribe(event string, arg goja.Value) {
	obj, ok := arg.(*goja.Object)
	if !ok {
		return
	}
	key := listenerKey{event: event, fn: obj}
	subs := f.subs[key]
	if len(subs) == 0 {
		return
	}
	subs[0]()
	if len(subs) == 1 {
		delete(f.subs, key)
		return
	}
	f.subs[key] = subs[1:]
}

// newDeferred returns a pending promise with its settle functions
func (w *Window) newDeferred() (goja.Value, func(goja.Value), func(goja.Value)) {
	d, err := w.deferred(goja.Undefined())
	if err != nil {
		panic(err)
	}
	obj := d.ToObject(w.vm)
	resolveFn, _ := goja.AssertFunction(obj.Get("resolve"))
	rejectFn, _ := goja.AssertFunction(obj.Get("reject"))

	settle := func(fn goja.Callable) func(goja.Value) {
		return func(v goja.Value) {
			if _, err := fn(goja.Undefined(), v); err != nil {
				w.logger.Warn().Err(err).Msg("failed to settle promise")
			}
		}
	}
	return obj.Get("promise"), settle(resolveFn), settle(rejectFn)
}
