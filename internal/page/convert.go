package page

import (
	"encoding/json"

	"github.com/dop251/goja"

	"walletprovider/internal/discovery"
	"walletprovider/internal/jsonrpc"
	"walletprovider/internal/router"
)

// toJS converts a Go value for the page. Providers, routers and other
// exposed objects keep a stable identity across calls. Must be called with
// the runtime held.
func (w *Window) toJS(v any) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Undefined()
	case goja.Value:
		return x
	case string, bool, int, int64, float64:
		return w.vm.ToValue(x)
	case json.RawMessage:
		return w.jsonToJS(x)
	case discovery.Detail:
		return w.detailToJS(x)
	case *router.Router:
		return w.expose(x, func() *goja.Object { return w.routerObject(x) })
	case *router.Web3Shim:
		obj := w.vm.NewObject()
		obj.Set("currentProvider", w.toJS(x.CurrentProvider))
		return obj
	case error:
		return w.errorToJS(x)
	case Provider:
		return w.expose(x, func() *goja.Object { return w.newFacade(x) })
	}

	data, err := json.Marshal(v)
	if err != nil {
		return w.vm.ToValue(v)
	}
	return w.jsonToJS(data)
}

// fromJS maps a page value back to Go. Exposed objects resolve to the Go
// value behind them; other objects keep their identity as *goja.Object.
func (w *Window) fromJS(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if obj, ok := v.(*goja.Object); ok {
		if goVal, ok := w.reverse[obj]; ok {
			return goVal
		}
		return obj
	}
	return v.Export()
}

func (w *Window) expose(key any, build func() *goja.Object) *goja.Object {
	if obj, ok := w.objects[key]; ok {
		return obj
	}
	obj := build()
	w.objects[key] = obj
	w.reverse[obj] = key
	return obj
}

func (w *Window) jsonToJS(data []byte) goja.Value {
	if len(data) == 0 {
		return goja.Undefined()
	}
	v, err := w.parse(goja.Undefined(), w.vm.ToValue(string(data)))
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to parse value for page")
		return goja.Undefined()
	}
	return v
}

// jsonFromJS serializes a page value; undefined and unserializable values yield nil
func (w *Window) jsonFromJS(v goja.Value) json.RawMessage {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	out, err := w.stringify(goja.Undefined(), v)
	if err != nil || goja.IsUndefined(out) {
		return nil
	}
	return json.RawMessage(out.String())
}

// errorToJS builds an Error carrying the RPC code and data
func (w *Window) errorToJS(err error) goja.Value {
	rpcErr := jsonrpc.SerializeError(err)
	obj, jsErr := w.vm.New(w.vm.Get("Error"), w.vm.ToValue(rpcErr.Message))
	if jsErr != nil {
		obj = w.vm.NewObject()
		obj.Set("message", rpcErr.Message)
	}
	obj.Set("code", rpcErr.Code)
	if len(rpcErr.Data) > 0 {
		obj.Set("data", w.jsonToJS(rpcErr.Data))
	}
	return obj
}

// detailToJS builds a frozen announcement payload
func (w *Window) detailToJS(d discovery.Detail) goja.Value {
	info := d.Info()
	infoObj := w.vm.NewObject()
	infoObj.Set("uuid", info.UUID)
	infoObj.Set("name", info.Name)
	infoObj.Set("icon", info.Icon)
	infoObj.Set("rdns", info.RDNS)
	w.freezeObject(infoObj)

	obj := w.vm.NewObject()
	obj.Set("info", infoObj)
	obj.Set("provider", w.toJS(d.Provider()))
	w.freezeObject(obj)
	return obj
}

func (w *Window) freezeObject(obj *goja.Object) {
	if _, err := w.freeze(goja.Undefined(), obj); err != nil {
		w.logger.Warn().Err(err).Msg("failed to freeze object")
	}
}

// routerObject exposes r to page scripts
func (w *Window) routerObject(r *router.Router) *goja.Object {
	vm := w.vm
	obj := vm.NewObject()

	getters := map[string]func() goja.Value{
		"rabbyProvider":        func() goja.Value { return w.toJS(r.Self()) },
		"currentProvider":      func() goja.Value { return w.toJS(r.Current()) },
		"lastInjectedProvider": func() goja.Value { return w.toJS(r.LastInjected()) },
		"providers": func() goja.Value {
			providers := r.Providers()
			items := make([]interface{}, len(providers))
			for i, p := range providers {
				items[i] = w.toJS(p)
			}
			return vm.NewArray(items...)
		},
	}
	for name, get := range getters {
		name, get := name, get
		obj.DefineAccessorProperty(name, vm.ToValue(func(goja.FunctionCall) goja.Value {
			return get()
		}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}

	obj.Set("setDefaultProvider", func(call goja.FunctionCall) goja.Value {
		r.SetDefaultProvider(call.Argument(0).ToBoolean())
		return goja.Undefined()
	})
	obj.Set("addProvider", func(call goja.FunctionCall) goja.Value {
		r.AddProvider(w.fromJS(call.Argument(0)))
		return goja.Undefined()
	})
	return obj
}
