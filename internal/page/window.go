package page

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// EventVisibilityChange is dispatched whenever the page visibility flips
const EventVisibilityChange = "visibilitychange"

// prelude defines the browser event constructors page scripts expect
const prelude = `
class Event {
	constructor(type) { this.type = String(type); }
}
class CustomEvent extends Event {
	constructor(type, init) {
		super(type);
		this.detail = init && init.detail !== undefined ? init.detail : null;
	}
}
globalThis.Event = Event;
globalThis.CustomEvent = CustomEvent;
`

const deferredSource = `(function () {
	let resolve, reject;
	const promise = new Promise((a, b) => { resolve = a; reject = b; });
	return { promise, resolve, reject };
})`

// Metadata describes the page to the wallet
type Metadata struct {
	Origin string `json:"origin"`
	Name   string `json:"name"`
	Icon   string `json:"icon"`
}

// Options configures a Window
type Options struct {
	Origin  string
	Title   string
	Icon    string
	Visible bool
	// Flags are boolean markers set on every provider facade
	Flags  map[string]bool
	Logger zerolog.Logger
}

// DefaultFlags mark provider facades for wallet detection by applications
var DefaultFlags = map[string]bool{"isRabby": true, "isMetaMask": true}

type busListener struct {
	id    uint64
	goFn  func(detail any)
	jsFn  goja.Callable
	jsObj *goja.Object
}

// Window is a single page: a script runtime with a global scope, an event
// bus shared by Go and script listeners, and a visibility flag.
//
// The runtime is single threaded. Go code enters it through the exported
// methods; work arriving from other goroutines is queued and run in order
// by whichever goroutine holds the runtime next. Go listeners run
// synchronously on the dispatching goroutine and must not call back into the
// Window other than through DispatchEvent.
type Window struct {
	vm      *goja.Runtime
	meta    Metadata
	flags   map[string]bool
	visible atomic.Bool
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex

	pending []func()
	closed  bool
	pendMu  sync.Mutex

	bus    map[string][]*busListener
	nextID uint64
	busMu  sync.Mutex

	objects map[any]*goja.Object
	reverse map[*goja.Object]any

	freeze    goja.Callable
	parse     goja.Callable
	stringify goja.Callable
	deferred  goja.Callable
}

// New creates a Window with console, window, document and location bound
func New(opts Options) (*Window, error) {
	flags := opts.Flags
	if flags == nil {
		flags = DefaultFlags
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Window{
		vm:      goja.New(),
		meta:    Metadata{Origin: opts.Origin, Name: opts.Title, Icon: opts.Icon},
		flags:   flags,
		logger:  opts.Logger.With().Str("component", "page").Str("origin", opts.Origin).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		bus:     make(map[string][]*busListener),
		objects: make(map[any]*goja.Object),
		reverse: make(map[*goja.Object]any),
	}
	w.visible.Store(opts.Visible)

	if err := w.setupBindings(); err != nil {
		cancel()
		return nil, err
	}
	return w, nil
}

func (w *Window) setupBindings() error {
	vm := w.vm
	if _, err := vm.RunString(prelude); err != nil {
		return fmt.Errorf("failed to run prelude: %w", err)
	}

	var ok bool
	object := vm.Get("Object").ToObject(vm)
	if w.freeze, ok = goja.AssertFunction(object.Get("freeze")); !ok {
		return fmt.Errorf("Object.freeze is not a function")
	}
	jsonObj := vm.Get("JSON").ToObject(vm)
	if w.parse, ok = goja.AssertFunction(jsonObj.Get("parse")); !ok {
		return fmt.Errorf("JSON.parse is not a function")
	}
	if w.stringify, ok = goja.AssertFunction(jsonObj.Get("stringify")); !ok {
		return fmt.Errorf("JSON.stringify is not a function")
	}
	fn, err := vm.RunString(deferredSource)
	if err != nil {
		return fmt.Errorf("failed to compile deferred helper: %w", err)
	}
	if w.deferred, ok = goja.AssertFunction(fn); !ok {
		return fmt.Errorf("deferred helper is not a function")
	}

	w.setupConsole()
	return w.setupGlobals()
}

// setupConsole routes console.* to the logger
func (w *Window) setupConsole() {
	console := w.vm.NewObject()
	levels := map[string]zerolog.Level{
		"log":   zerolog.InfoLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"debug": zerolog.DebugLevel,
	}
	for name, level := range levels {
		name, level := name, level
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			w.logger.WithLevel(level).Msgf("[page] %v", args)
			return goja.Undefined()
		})
	}
	w.vm.Set("console", console)
}

func (w *Window) setupGlobals() error {
	vm := w.vm
	global := vm.GlobalObject()

	addListener := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			return goja.Undefined()
		}
		w.addListener(call.Argument(0).String(), &busListener{jsFn: fn, jsObj: call.Argument(1).ToObject(vm)})
		return goja.Undefined()
	})
	removeListener := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if obj, ok := call.Argument(1).(*goja.Object); ok {
			w.removeScriptListener(call.Argument(0).String(), obj)
		}
		return goja.Undefined()
	})
	dispatch := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		ev, ok := call.Argument(0).(*goja.Object)
		if !ok {
			panic(vm.NewTypeError("dispatchEvent requires an event object"))
		}
		w.dispatchFromScript(ev.Get("type").String(), ev, ev.Get("detail"))
		return vm.ToValue(true)
	})

	if err := global.Set("window", global); err != nil {
		return err
	}
	for name, fn := range map[string]goja.Value{
		"addEventListener":    addListener,
		"removeEventListener": removeListener,
		"dispatchEvent":       dispatch,
	} {
		if err := global.Set(name, fn); err != nil {
			return err
		}
	}

	document := vm.NewObject()
	document.Set("title", w.meta.Name)
	document.Set("addEventListener", addListener)
	document.Set("removeEventListener", removeListener)
	document.Set("dispatchEvent", dispatch)
	if err := document.DefineAccessorProperty("visibilityState", vm.ToValue(func(goja.FunctionCall) goja.Value {
		if w.visible.Load() {
			return vm.ToValue("visible")
		}
		return vm.ToValue("hidden")
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	if err := document.DefineAccessorProperty("hidden", vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(!w.visible.Load())
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	if err := global.Set("document", document); err != nil {
		return err
	}

	location := vm.NewObject()
	location.Set("origin", w.meta.Origin)
	return global.Set("location", location)
}

// Metadata returns the page description sent on check-in
func (w *Window) Metadata() Metadata {
	return w.meta
}

// Context is canceled when the Window is closed
func (w *Window) Context() context.Context {
	return w.ctx
}

// Visible reports the page visibility. It never enters the runtime.
func (w *Window) Visible() bool {
	return w.visible.Load()
}

// SetVisibility records the page visibility and dispatches visibilitychange
// when it flips
func (w *Window) SetVisibility(visible bool) {
	if w.visible.Swap(visible) == visible {
		return
	}
	w.logger.Debug().Bool("visible", visible).Msg("visibility changed")
	w.DispatchEvent(EventVisibilityChange, visible)
}

// RunScript executes src in the page and returns the exported completion value
func (w *Window) RunScript(src string) (any, error) {
	var out any
	err := w.do(func() error {
		v, err := w.vm.RunString(src)
		if err != nil {
			return err
		}
		out = v.Export()
		return nil
	})
	return out, err
}

// Close stops queued work and cancels requests made by page scripts
func (w *Window) Close() {
	w.pendMu.Lock()
	w.closed = true
	w.pending = nil
	w.pendMu.Unlock()
	w.cancel()
}

// AddEventListener registers a Go listener; it receives the event detail
func (w *Window) AddEventListener(event string, fn func(detail any)) func() {
	id := w.addListener(event, &busListener{goFn: fn})
	return func() {
		w.busMu.Lock()
		defer w.busMu.Unlock()
		w.removeLocked(event, func(l *busListener) bool { return l.id == id })
	}
}

// DispatchEvent delivers detail to every listener of event. Go listeners are
// called before this returns; script listeners run on the page's task queue.
func (w *Window) DispatchEvent(event string, detail any) {
	listeners := w.listeners(event)

	var scripts []*busListener
	for _, l := range listeners {
		if l.goFn != nil {
			l.goFn(detail)
			continue
		}
		scripts = append(scripts, l)
	}
	if len(scripts) == 0 {
		return
	}

	w.post(func() {
		ev := w.newEvent(event, w.toJS(detail))
		for _, l := range scripts {
			w.callScript(event, l.jsFn, ev)
		}
	})
}

// dispatchFromScript runs with the runtime held. Work queued by the
// listeners, such as replies to the event, runs before it returns.
func (w *Window) dispatchFromScript(event string, ev *goja.Object, detail goja.Value) {
	goDetail := w.fromJS(detail)
	for _, l := range w.listeners(event) {
		if l.goFn != nil {
			l.goFn(goDetail)
		} else {
			w.callScript(event, l.jsFn, ev)
		}
	}
	w.drainLocked()
}

func (w *Window) newEvent(event string, detail goja.Value) *goja.Object {
	ev, err := w.vm.New(w.vm.Get("CustomEvent"), w.vm.ToValue(event))
	if err != nil {
		ev = w.vm.NewObject()
		ev.Set("type", event)
	}
	ev.Set("detail", detail)
	return ev
}

func (w *Window) callScript(event string, fn goja.Callable, args ...goja.Value) {
	if _, err := fn(goja.Undefined(), args...); err != nil {
		w.logger.Warn().Err(err).Str("event", event).Msg("script listener threw")
	}
}

func (w *Window) addListener(event string, l *busListener) uint64 {
	w.busMu.Lock()
	defer w.busMu.Unlock()
	w.nextID++
	l.id = w.nextID
	w.bus[event] = append(w.bus[event], l)
	return l.id
}

func (w *Window) removeScriptListener(event string, obj *goja.Object) {
	w.busMu.Lock()
	defer w.busMu.Unlock()
	w.removeLocked(event, func(l *busListener) bool { return l.jsObj == obj })
}

func (w *Window) removeLocked(event string, match func(*busListener) bool) {
	listeners := w.bus[event]
	for i, l := range listeners {
		if match(l) {
			w.bus[event] = append(listeners[:i:i], listeners[i+1:]...)
			return
		}
	}
}

func (w *Window) listeners(event string) []*busListener {
	w.busMu.Lock()
	defer w.busMu.Unlock()
	return append([]*busListener(nil), w.bus[event]...)
}

// do runs fn with the runtime held, then runs whatever was queued meanwhile
func (w *Window) do(fn func() error) error {
	w.mu.Lock()
	err := w.protect(fn)
	w.drainLocked()
	w.mu.Unlock()
	w.tryDrain()
	return err
}

// post queues task. It runs now if the runtime is free, otherwise when the
// current holder releases it.
func (w *Window) post(task func()) {
	w.pendMu.Lock()
	if w.closed {
		w.pendMu.Unlock()
		return
	}
	w.pending = append(w.pending, task)
	w.pendMu.Unlock()
	w.tryDrain()
}

func (w *Window) tryDrain() {
	for w.hasPending() {
		if !w.mu.TryLock() {
			return
		}
		w.drainLocked()
		w.mu.Unlock()
	}
}

func (w *Window) hasPending() bool {
	w.pendMu.Lock()
	defer w.pendMu.Unlock()
	return len(w.pending) > 0
}

func (w *Window) drainLocked() {
	for {
		w.pendMu.Lock()
		if len(w.pending) == 0 {
			w.pendMu.Unlock()
			return
		}
		task := w.pending[0]
		w.pending = w.pending[1:]
		w.pendMu.Unlock()

		if err := w.protect(func() error { task(); return nil }); err != nil {
			w.logger.Error().Err(err).Msg("page task failed")
		}
	}
}

func (w *Window) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page panic: %v", r)
		}
	}()
	return fn()
}
