package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/nativeguard/batch"
	"github.com/wippyai/nativeguard/call"
	"github.com/wippyai/nativeguard/config"
	"github.com/wippyai/nativeguard/errors"
	"github.com/wippyai/nativeguard/memory"
	"github.com/wippyai/nativeguard/metrics"
	"github.com/wippyai/nativeguard/native"
	"github.com/wippyai/nativeguard/resource"
	"github.com/wippyai/nativeguard/validate"
)

// TypeSpec describes a kind of native object. Create and Destroy name
// native functions: Create returns the object's handle, Destroy receives
// it.
type TypeSpec struct {
	Tag     resource.TypeTag
	Create  string
	Destroy string
}

// Runtime is the entry point to a native library. It owns the resource
// tracker, the call manager, the batch queues and the memory monitor.
type Runtime struct {
	loader   *native.Loader
	tracker  *resource.Tracker
	calls    *call.Manager
	monitor  *memory.Monitor
	recorder metrics.Recorder
	log      *zap.Logger
	types    map[resource.TypeTag]TypeSpec
	queues   map[string]*batch.Queue
	rules    map[string][]validate.Rule
	stop     context.CancelFunc
	unsub    func()
	opts     options
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   atomic.Bool
}

// New wires a runtime around loader. The library itself is loaded on first
// use; call Ready to load it eagerly. Unless WithoutWatchers is given, the
// leak sweep and the memory monitor start in the background and run until
// Close.
func New(ctx context.Context, loader *native.Loader, opts ...Option) (*Runtime, error) {
	if loader == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "native loader")
	}

	o := options{cfg: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.log == nil {
		o.log = Logger()
	}
	o.recorder = metrics.OrNoOp(o.recorder)

	trackerOpts := append([]resource.TrackerOption{
		resource.WithTrackerLogger(o.log.Named("tracker")),
		resource.WithLeakThreshold(o.cfg.Tracker.LeakThreshold.Std()),
	}, o.trackerOpts...)
	tracker := resource.NewTracker(trackerOpts...)

	callOpts := []call.Option{
		call.WithLogger(o.log.Named("call")),
		call.WithRecorder(o.recorder),
	}
	if o.classifier != nil {
		callOpts = append(callOpts, call.WithClassifier(o.classifier))
	}
	if o.tracer != nil {
		callOpts = append(callOpts, call.WithTracerProvider(o.tracer))
	}
	callOpts = append(callOpts, o.callOpts...)

	r := &Runtime{
		loader:   loader,
		tracker:  tracker,
		calls:    call.NewManager(o.cfg.CallConfig(), callOpts...),
		recorder: o.recorder,
		log:      o.log,
		types:    make(map[resource.TypeTag]TypeSpec),
		queues:   make(map[string]*batch.Queue),
		rules:    make(map[string][]validate.Rule),
		opts:     o,
	}
	r.unsub = tracker.Subscribe(newLiveCounter(o.recorder))

	if !o.cfg.Memory.Disabled {
		monOpts := []memory.MonitorOption{
			memory.WithTracker(tracker),
			memory.WithRecorder(o.recorder),
			memory.WithLogger(o.log.Named("memory")),
		}
		if o.sampler != nil {
			monOpts = append(monOpts, memory.WithSampler(o.sampler))
		}
		r.monitor = memory.NewMonitor(o.cfg.MemoryConfig(), monOpts...)
	}

	watchCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	r.stop = stop
	if !o.noWatchers {
		r.startWatchers(watchCtx)
	}

	r.log.Debug("runtime created",
		zap.Bool("watchers", !o.noWatchers),
		zap.Bool("memory_monitor", r.monitor != nil))
	return r, nil
}

func (r *Runtime) startWatchers(ctx context.Context) {
	if interval := r.opts.cfg.Tracker.SweepInterval.Std(); interval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.tracker.Run(ctx, interval)
		}()
	}
	if r.monitor != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.monitor.Run(ctx)
		}()
	}
}

// Ready loads the native library if it is not loaded yet.
func (r *Runtime) Ready(ctx context.Context) error {
	if r.closed.Load() {
		return errors.Closed(errors.PhaseLoad, "runtime")
	}
	_, err := r.loader.Obtain(ctx)
	return err
}

// invoke skips the closed check so Close can still drain queues and run
// destructors.
func (r *Runtime) invoke(ctx context.Context, op string, args []native.Value) (native.Value, error) {
	t, err := r.loader.Obtain(ctx)
	if err != nil {
		return native.Value{}, err
	}
	return r.calls.CallTable(ctx, t, op, args)
}

// RegisterType makes tag acquirable through AcquireResource.
func (r *Runtime) RegisterType(spec TypeSpec) error {
	if spec.Tag == "" || spec.Create == "" || spec.Destroy == "" {
		return errors.InvalidInput(errors.PhaseResource, "type spec needs a tag, a create and a destroy function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[spec.Tag]; ok {
		return errors.InvalidInput(errors.PhaseResource, "resource type "+string(spec.Tag)+" already registered")
	}
	r.types[spec.Tag] = spec
	return nil
}

// RegisterValidator adds argument rules checked before op reaches the
// native library, whether invoked directly or enqueued.
func (r *Runtime) RegisterValidator(op string, rules ...validate.Rule) {
	r.mu.Lock()
	r.rules[op] = append(r.rules[op], rules...)
	r.mu.Unlock()
}

// RegisterBatch routes Enqueue calls for op through a coalescing queue.
// The native function receives one list argument per batch.
func (r *Runtime) RegisterBatch(op string, cfg batch.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return errors.Closed(errors.PhaseBatch, "runtime")
	}
	if _, ok := r.queues[op]; ok {
		return errors.InvalidInput(errors.PhaseBatch, "batch operation "+op+" already registered")
	}

	invoke := func(ctx context.Context, args []native.Value) (native.Value, error) {
		return r.invoke(ctx, op, args)
	}
	qopts := []batch.Option{
		batch.WithLogger(r.log.Named("batch")),
		batch.WithRecorder(r.recorder),
	}
	if r.opts.classifier != nil {
		qopts = append(qopts, batch.WithClassifier(r.opts.classifier))
	}
	r.queues[op] = batch.New(op, cfg, invoke, qopts...)
	return nil
}

func (r *Runtime) check(op string, args []native.Value) error {
	r.mu.RLock()
	rules := r.rules[op]
	r.mu.RUnlock()
	if len(rules) == 0 {
		return nil
	}
	return validate.Args(args, rules...)
}

// Invoke calls op with args through the call manager.
func (r *Runtime) Invoke(ctx context.Context, op string, args ...native.Value) (native.Value, error) {
	if r.closed.Load() {
		return native.Value{}, errors.Closed(errors.PhaseCall, "runtime")
	}
	if err := r.check(op, args); err != nil {
		return native.Value{}, err
	}
	return r.invoke(ctx, op, args)
}

// InvokeOn calls op with res's handle as the first argument. Disposal of
// res waits for the call to finish; a call on a disposed resource fails
// with a disposed error and never reaches the native library.
func (r *Runtime) InvokeOn(ctx context.Context, res *resource.Resource, op string, args ...native.Value) (native.Value, error) {
	var out native.Value
	err := res.Use(op, func(h *resource.Handle) error {
		full := make([]native.Value, 0, len(args)+1)
		full = append(full, native.Handle(h.ID()))
		full = append(full, args...)
		v, err := r.Invoke(ctx, op, full...)
		out = v
		return err
	})
	return out, err
}

// Enqueue adds a request to op's batch queue. Failures that happen before
// the request is queued resolve the returned Pending at once.
func (r *Runtime) Enqueue(op string, args ...native.Value) *batch.Pending {
	if r.closed.Load() {
		return batch.Rejected(errors.Closed(errors.PhaseBatch, "runtime"))
	}
	r.mu.RLock()
	q, ok := r.queues[op]
	r.mu.RUnlock()
	if !ok {
		return batch.Rejected(errors.NotFound(errors.PhaseBatch, "batch operation", op))
	}
	if err := r.check(op, args); err != nil {
		return batch.Rejected(err)
	}
	return q.Enqueue(args...)
}

// AcquireResource creates a native object of type tag and returns it
// registered with the tracker. The caller owns it and must Dispose it.
func (r *Runtime) AcquireResource(ctx context.Context, tag resource.TypeTag, args ...native.Value) (*resource.Resource, error) {
	r.mu.RLock()
	spec, ok := r.types[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(errors.PhaseResource, "resource type", string(tag))
	}

	v, err := r.Invoke(ctx, spec.Create, args...)
	if err != nil {
		return nil, err
	}
	id, ok := v.AsUint()
	if !ok || id == 0 {
		return nil, errors.New(errors.PhaseResource, errors.KindFatal).
			Op(spec.Create).
			Detail("native create returned no %s object (got %s)", tag, v).
			Build()
	}

	destroy := func(ctx context.Context, h *resource.Handle) error {
		_, err := r.invoke(ctx, spec.Destroy, []native.Value{native.Handle(h.ID())})
		return err
	}
	res := resource.New(r.tracker, resource.NewHandle(resource.NativeID(id), tag), destroy)
	r.log.Debug("resource acquired",
		zap.String("type", string(tag)),
		zap.Uint64("id", id))
	return res, nil
}

// Dispose releases res. It is safe to call more than once.
func (r *Runtime) Dispose(ctx context.Context, res *resource.Resource) error {
	if res == nil {
		return nil
	}
	return res.Dispose(ctx)
}

// Tracker returns the resource tracker.
func (r *Runtime) Tracker() *resource.Tracker { return r.tracker }

// Calls returns the call manager.
func (r *Runtime) Calls() *call.Manager { return r.calls }

// Monitor returns the memory monitor, or nil when it is disabled.
func (r *Runtime) Monitor() *memory.Monitor { return r.monitor }

// Close stops the watchers, drains every batch queue, disposes all live
// resources and closes the native library. Later calls return nil.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.stop()
	r.wg.Wait()

	r.mu.RLock()
	queues := make([]*batch.Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.RUnlock()

	var errs error
	for _, q := range queues {
		errs = multierr.Append(errs, q.Close(ctx))
	}

	n, err := r.tracker.DisposeAll(ctx, nil)
	errs = multierr.Append(errs, err)

	errs = multierr.Append(errs, r.loader.Reset(ctx))
	r.unsub()

	r.log.Info("runtime closed",
		zap.Int("disposed", n),
		zap.Error(errs))
	return errs
}

// Signatures loads the library and returns its declared entry points, if
// the table describes itself.
func (r *Runtime) Signatures(ctx context.Context) ([]native.Signature, error) {
	if r.closed.Load() {
		return nil, errors.Closed(errors.PhaseLoad, "runtime")
	}
	t, err := r.loader.Obtain(ctx)
	if err != nil {
		return nil, err
	}
	d, ok := t.(native.Describer)
	if !ok {
		return nil, nil
	}
	return d.Signatures(), nil
}
