package native

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/nativeguard/errors"
)

// OpenFunc loads the native library.
type OpenFunc func(ctx context.Context) (Table, error)

type loadState struct {
	done  chan struct{}
	table Table
	err   error
}

// Loader loads a native library at most once. The first Obtain starts the
// load and every concurrent caller shares its result. A failed load stays
// failed until Reset or Reload, unless WithRetryOnFailure is set.
type Loader struct {
	open           OpenFunc
	log            *zap.Logger
	state          *loadState
	required       []string
	loads          atomic.Uint64
	mu             sync.Mutex
	retryOnFailure bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRequiredExports makes a load fail unless the table has every name.
func WithRequiredExports(names ...string) LoaderOption {
	return func(l *Loader) { l.required = append(l.required, names...) }
}

// WithRetryOnFailure lets the next Obtain after a failed load start a new
// attempt instead of returning the cached failure.
func WithRetryOnFailure() LoaderOption {
	return func(l *Loader) { l.retryOnFailure = true }
}

// WithLoaderLogger overrides the package logger.
func WithLoaderLogger(log *zap.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

func NewLoader(open OpenFunc, opts ...LoaderOption) *Loader {
	l := &Loader{open: open, log: Logger()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Obtain returns the loaded table, loading it on first use. If ctx ends
// while waiting, Obtain returns early but the load keeps running for the
// other callers.
func (l *Loader) Obtain(ctx context.Context) (Table, error) {
	l.mu.Lock()
	st := l.state
	if st != nil && l.retryOnFailure && failed(st) {
		st = nil
	}
	if st == nil {
		st = &loadState{done: make(chan struct{})}
		l.state = st
		go l.load(context.WithoutCancel(ctx), st)
	}
	l.mu.Unlock()

	select {
	case <-st.done:
		return st.table, st.err
	case <-ctx.Done():
		return nil, errors.Cancelled(errors.PhaseLoad, "obtain", ctx.Err())
	}
}

func failed(st *loadState) bool {
	select {
	case <-st.done:
		return st.err != nil
	default:
		return false
	}
}

func (l *Loader) load(ctx context.Context, st *loadState) {
	defer close(st.done)

	attempt := l.loads.Add(1)
	table, err := l.openSafe(ctx)
	if err == nil {
		if missing := l.missingExports(table); len(missing) > 0 {
			_ = table.Close(ctx)
			table = nil
			err = errors.Load(fmt.Sprintf("missing required exports: %s", strings.Join(missing, ", ")), nil)
		}
	}

	if err != nil {
		var e *errors.Error
		if !stderrors.As(err, &e) {
			err = errors.Load("open native library", err)
		}
		l.log.Error("native library load failed",
			zap.Uint64("attempt", attempt),
			zap.Error(err))
		st.err = err
		return
	}

	l.log.Info("native library loaded", zap.Uint64("attempt", attempt))
	st.table = table
}

func (l *Loader) openSafe(ctx context.Context) (table Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Load(fmt.Sprintf("open panicked: %v", r), nil)
		}
	}()
	table, err = l.open(ctx)
	if err == nil && table == nil {
		err = errors.Load("open returned no table", nil)
	}
	return table, err
}

func (l *Loader) missingExports(t Table) []string {
	var missing []string
	for _, name := range l.required {
		if !t.Has(name) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Loaded reports whether a load finished successfully.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	st := l.state
	l.mu.Unlock()
	if st == nil {
		return false
	}
	select {
	case <-st.done:
		return st.err == nil
	default:
		return false
	}
}

// Loads returns how many load attempts were started.
func (l *Loader) Loads() uint64 { return l.loads.Load() }

// Reset forgets the cached result and closes a loaded table. A load still
// in flight completes unobserved and its table is closed.
func (l *Loader) Reset(ctx context.Context) error {
	l.mu.Lock()
	st := l.state
	l.state = nil
	l.mu.Unlock()

	if st == nil {
		return nil
	}
	select {
	case <-st.done:
		if st.table != nil {
			return st.table.Close(ctx)
		}
	default:
		bg := context.WithoutCancel(ctx)
		go func() {
			<-st.done
			if st.table != nil {
				_ = st.table.Close(bg)
			}
		}()
	}
	return nil
}

// Reload discards the current table and loads a fresh one.
func (l *Loader) Reload(ctx context.Context) (Table, error) {
	if err := l.Reset(ctx); err != nil {
		l.log.Warn("closing previous native library failed", zap.Error(err))
	}
	return l.Obtain(ctx)
}

// WasmFile returns an OpenFunc reading a wasm module from path on every
// load, so Reload picks up a rebuilt binary.
func WasmFile(path string, cfg WasmConfig) OpenFunc {
	return func(ctx context.Context) (Table, error) {
		binary, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Load("read "+path, err)
		}
		return OpenWasm(ctx, binary, cfg)
	}
}

// Static returns an OpenFunc that always yields t.
func Static(t Table) OpenFunc {
	return func(context.Context) (Table, error) { return t, nil }
}
