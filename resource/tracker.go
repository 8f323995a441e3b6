package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Tracker is a registry of live resources. It holds weak references only:
// a registration never keeps a resource alive, so a wrapper dropped without
// Dispose shows up as a leak on the next Sweep.
type Tracker struct {
	now           func() time.Time
	log           *zap.Logger
	entries       map[Key]*entry
	observers     map[uint64]Observer
	leakThreshold time.Duration
	nextObserver  uint64
	anomalies     atomic.Uint64
	leaked        atomic.Uint64
	mu            sync.Mutex
	obsMu         sync.RWMutex
}

type entry struct {
	createdAt time.Time
	ref       weak.Pointer[Resource]
	key       Key
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock sets the time source used for creation and access stamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithLeakThreshold makes Sweep report resources idle for longer than d.
func WithLeakThreshold(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.leakThreshold = d }
}

// WithTrackerLogger overrides the package logger.
func WithTrackerLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) { t.log = l }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		now:       time.Now,
		log:       Logger(),
		entries:   make(map[Key]*entry),
		observers: make(map[uint64]Observer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register records r. A second registration for the same native identity
// replaces the first and is counted as an anomaly.
func (t *Tracker) Register(r *Resource) {
	key := r.handle.Key()
	e := &entry{
		createdAt: r.createdAt,
		ref:       weak.Make(r),
		key:       key,
	}

	t.mu.Lock()
	prev, duplicate := t.entries[key]
	t.entries[key] = e
	t.mu.Unlock()

	if duplicate && prev.ref != e.ref {
		t.anomalies.Add(1)
		t.log.Warn("duplicate native handle registration",
			zap.String("handle", key.String()))
		t.notify(Event{Type: EventDuplicate, Info: r.info()})
	}
	t.notify(Event{Type: EventRegistered, Info: r.info()})
}

// Unregister removes r. It leaves a newer registration for the same
// identity in place.
func (t *Tracker) Unregister(r *Resource) {
	key := r.handle.Key()
	ref := weak.Make(r)

	t.mu.Lock()
	e, ok := t.entries[key]
	if ok && e.ref == ref {
		delete(t.entries, key)
	} else {
		ok = false
	}
	t.mu.Unlock()

	if ok {
		info := r.info()
		info.Disposed = true
		t.notify(Event{Type: EventUnregistered, Info: info})
	}
}

// Lookup returns the live resource registered for key.
func (t *Tracker) Lookup(key Key) (*Resource, bool) {
	t.mu.Lock()
	e, ok := t.entries[key]
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	r := e.ref.Value()
	if r == nil || r.Disposed() {
		return nil, false
	}
	return r, true
}

// Count returns the number of registered resources.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// CountByType returns registered resources grouped by type tag.
func (t *Tracker) CountByType() map[TypeTag]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[TypeTag]int)
	for key := range t.entries {
		counts[key.Tag]++
	}
	return counts
}

// Anomalies returns how many duplicate registrations were observed.
func (t *Tracker) Anomalies() uint64 { return t.anomalies.Load() }

// Leaked returns how many wrappers were collected without Dispose.
func (t *Tracker) Leaked() uint64 { return t.leaked.Load() }

type tracked struct {
	res   *Resource
	entry *entry
}

// snapshot copies the registry under the lock, resolving weak references.
// Collected entries are returned with a nil resource.
func (t *Tracker) snapshot() []tracked {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]tracked, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, tracked{res: e.ref.Value(), entry: e})
	}
	return out
}

// Snapshot returns a point-in-time view of every registration.
func (t *Tracker) Snapshot() []Info {
	items := t.snapshot()
	infos := make([]Info, 0, len(items))
	for _, it := range items {
		if it.res == nil {
			infos = append(infos, Info{Key: it.entry.key, CreatedAt: it.entry.createdAt, Collected: true})
			continue
		}
		infos = append(infos, it.res.info())
	}
	return infos
}

// DisposeAll disposes every registered resource matching pred, or all of
// them when pred is nil. It works on a snapshot: resources registered during
// the pass are left alone and resources disposed concurrently are skipped.
// It returns the number of resources it disposed.
func (t *Tracker) DisposeAll(ctx context.Context, pred func(Info) bool) (int, error) {
	var (
		disposed int
		errs     error
	)
	for _, it := range t.snapshot() {
		if it.res == nil || it.res.Disposed() {
			continue
		}
		if pred != nil && !pred(it.res.info()) {
			continue
		}
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		released, err := it.res.release(ctx)
		if released {
			disposed++
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if disposed > 0 {
		t.log.Info("disposed tracked resources",
			zap.Int("count", disposed),
			zap.Error(errs))
	}
	return disposed, errs
}

// IdleFor returns a DisposeAll predicate selecting resources not accessed
// within d of now.
func IdleFor(d time.Duration, now time.Time) func(Info) bool {
	return func(info Info) bool {
		return now.Sub(info.LastAccessedAt) > d
	}
}

// Sweep drops registrations whose wrapper was collected without Dispose and
// reports them as leaks. When a leak threshold is configured, resources idle
// longer than it are reported as idle. It returns the leaked entries.
func (t *Tracker) Sweep(now time.Time) []Info {
	var leaked []Info

	t.mu.Lock()
	for key, e := range t.entries {
		if e.ref.Value() == nil {
			delete(t.entries, key)
			leaked = append(leaked, Info{Key: key, CreatedAt: e.createdAt, Collected: true})
		}
	}
	t.mu.Unlock()

	for _, info := range leaked {
		t.leaked.Add(1)
		t.log.Error("native resource leaked: wrapper collected without dispose",
			zap.String("handle", info.Key.String()),
			zap.Duration("age", now.Sub(info.CreatedAt)))
		t.notify(Event{Type: EventLeaked, Info: info})
	}

	if t.leakThreshold > 0 {
		idle := IdleFor(t.leakThreshold, now)
		for _, it := range t.snapshot() {
			if it.res == nil || it.res.Disposed() {
				continue
			}
			info := it.res.info()
			if idle(info) {
				t.log.Warn("native resource idle beyond leak threshold",
					zap.String("handle", info.Key.String()),
					zap.Duration("idle", now.Sub(info.LastAccessedAt)))
				t.notify(Event{Type: EventIdle, Info: info})
			}
		}
	}

	return leaked
}

// Run sweeps on every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep(t.now())
		case <-ctx.Done():
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events and returns a function
// that removes it.
func (t *Tracker) Subscribe(o Observer) func() {
	t.obsMu.Lock()
	id := t.nextObserver
	t.nextObserver++
	t.observers[id] = o
	t.obsMu.Unlock()

	return func() {
		t.obsMu.Lock()
		delete(t.observers, id)
		t.obsMu.Unlock()
	}
}

func (t *Tracker) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
