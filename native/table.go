package native

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wippyai/nativeguard/errors"
)

//go:generate mockgen -destination=nativemock/table.go -package=nativemock github.com/wippyai/nativeguard/native Table

// Table is the opaque function table of a loaded native library.
// Implementations must be safe for concurrent use.
type Table interface {
	// Call invokes the named entry point. It blocks until the native code
	// returns; ctx carries deadlines and tracing but does not interrupt the
	// native code once it has started.
	Call(ctx context.Context, name string, args []Value) (Value, error)
	Has(name string) bool
	Close(ctx context.Context) error
}

// Describer is implemented by tables that know their signatures.
type Describer interface {
	Signatures() []Signature
}

// Func is a Go implementation of a native entry point.
type Func func(ctx context.Context, args []Value) (Value, error)

type funcEntry struct {
	fn      Func
	sig     Signature
	checked bool
}

// FuncTable is a Table backed by Go functions. It stands in for a native
// library in-process.
type FuncTable struct {
	funcs   map[string]funcEntry
	onClose func(context.Context) error
	mu      sync.RWMutex
	closed  atomic.Bool
}

func NewFuncTable() *FuncTable {
	return &FuncTable{funcs: make(map[string]funcEntry)}
}

// Register adds fn under sig.Name. Arguments and results are checked
// against sig on every call.
func (t *FuncTable) Register(sig Signature, fn Func) *FuncTable {
	t.mu.Lock()
	t.funcs[sig.Name] = funcEntry{fn: fn, sig: sig, checked: true}
	t.mu.Unlock()
	return t
}

// RegisterFunc adds fn without a signature.
func (t *FuncTable) RegisterFunc(name string, fn Func) *FuncTable {
	t.mu.Lock()
	t.funcs[name] = funcEntry{fn: fn, sig: Signature{Name: name}}
	t.mu.Unlock()
	return t
}

// OnClose sets a hook run once by Close.
func (t *FuncTable) OnClose(fn func(context.Context) error) *FuncTable {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
	return t
}

func (t *FuncTable) Call(ctx context.Context, name string, args []Value) (Value, error) {
	if t.closed.Load() {
		return Value{}, ErrUnavailable
	}

	t.mu.RLock()
	e, ok := t.funcs[name]
	t.mu.RUnlock()
	if !ok {
		return Value{}, errors.NotFound(errors.PhaseCall, "function", name)
	}

	if e.checked {
		if err := e.sig.CheckArgs(args); err != nil {
			return Value{}, err
		}
	}
	v, err := e.fn(ctx, args)
	if err != nil {
		return Value{}, err
	}
	if e.checked {
		if err := e.sig.CheckResult(v); err != nil {
			return Value{}, err
		}
	}
	return v, nil
}

func (t *FuncTable) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.funcs[name]
	return ok
}

func (t *FuncTable) Signatures() []Signature {
	t.mu.RLock()
	sigs := make([]Signature, 0, len(t.funcs))
	for _, e := range t.funcs {
		sigs = append(sigs, e.sig)
	}
	t.mu.RUnlock()
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Name < sigs[j].Name })
	return sigs
}

// Close marks the table unavailable. It is idempotent.
func (t *FuncTable) Close(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.RLock()
	hook := t.onClose
	t.mu.RUnlock()
	if hook != nil {
		return hook(ctx)
	}
	return nil
}
