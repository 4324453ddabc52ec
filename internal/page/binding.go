package page

import (
	"fmt"

	"github.com/dop251/goja"

	"walletprovider/internal/router"
)

// Lookup returns the value of the global name
func (w *Window) Lookup(name string) (router.Provider, bool) {
	var (
		out   any
		found bool
	)
	w.do(func() error {
		v := w.vm.GlobalObject().Get(name)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil
		}
		out, found = w.fromJS(v), true
		return nil
	})
	return out, found
}

// DefineAccessor installs name as a non-configurable accessor on the global
// object. Assignments from scripts are passed to set.
func (w *Window) DefineAccessor(name string, get func() router.Provider, set func(router.Provider)) error {
	return w.do(func() error {
		getter := w.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return w.toJS(get())
		})
		setter := w.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(w.fromJS(call.Argument(0)))
			return goja.Undefined()
		})
		if err := w.vm.GlobalObject().DefineAccessorProperty(name, getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return fmt.Errorf("%w: %s: %v", router.ErrBindingConflict, name, err)
		}
		return nil
	})
}

// DefineConstant installs name as a read-only, non-configurable global
func (w *Window) DefineConstant(name string, value any) error {
	return w.do(func() error {
		if err := w.vm.GlobalObject().DefineDataProperty(name, w.toJS(value), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return fmt.Errorf("%w: %s: %v", router.ErrBindingConflict, name, err)
		}
		return nil
	})
}

// Assign sets the global name as a script assignment would
func (w *Window) Assign(name string, value any) error {
	return w.do(func() error {
		if err := w.vm.GlobalObject().Set(name, w.toJS(value)); err != nil {
			return fmt.Errorf("assign %s: %w", name, err)
		}
		return nil
	})
}
