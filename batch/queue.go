package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wippyai/nativeguard/call"
	"github.com/wippyai/nativeguard/errors"
	"github.com/wippyai/nativeguard/metrics"
	"github.com/wippyai/nativeguard/native"
)

// Config controls when a queue flushes and how a batch is executed.
type Config struct {
	// MaxSize flushes as soon as this many entries are queued.
	MaxSize int
	// MaxWait flushes this long after the first entry of a batch arrived.
	MaxWait time.Duration
	// MatchByID prefixes each entry's arguments with its request id and
	// maps results by id instead of position.
	MatchByID bool
	// BatchRetries is the number of extra executions of a batch that
	// failed transiently as a whole.
	BatchRetries int
	RetryBackoff time.Duration
	// Concurrent allows several batches of this queue in flight. By
	// default batches run one at a time in flush order.
	Concurrent bool
	// MaxPending bounds queued entries. Zero means unbounded.
	MaxPending int
	// RateLimit bounds enqueues per second. Zero disables the limit.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:      64,
		MaxWait:      10 * time.Millisecond,
		BatchRetries: 1,
		RetryBackoff: 20 * time.Millisecond,
	}
}

// Invoke executes one batch against the native library. The argument list
// holds a single List value with one item per entry.
type Invoke func(ctx context.Context, args []native.Value) (native.Value, error)

type entry struct {
	enqueuedAt time.Time
	pending    *Pending
	args       []native.Value
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Enqueued   uint64
	Rejected   uint64
	Batches    uint64
	Failed     uint64
	Queued     int
	InFlight   int
	LastSize   int
	MaxPending int
}

// Queue coalesces requests into batches and executes each batch with one
// native invocation.
type Queue struct {
	ctx        context.Context
	invoke     Invoke
	limiter    *rate.Limiter
	classifier call.Classifier
	recorder   metrics.Recorder
	log        *zap.Logger
	timer      *time.Timer
	name       string
	queued     []*entry
	ready      [][]*entry
	stats      Stats
	cfg        Config
	wg         sync.WaitGroup
	gen        uint64
	mu         sync.Mutex
	draining   bool
	closed     bool
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.log = l }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(q *Queue) { q.recorder = metrics.OrNoOp(r) }
}

// WithClassifier sets the classifier for per-entry native errors.
func WithClassifier(c call.Classifier) Option {
	return func(q *Queue) { q.classifier = c }
}

// New creates a queue named name. Zero sizes and durations in cfg take
// their defaults.
func New(name string, cfg Config, invoke Invoke, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.BatchRetries < 0 {
		cfg.BatchRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}

	q := &Queue{
		ctx:        context.Background(),
		name:       name,
		cfg:        cfg,
		invoke:     invoke,
		classifier: call.DefaultClassifier,
		recorder:   metrics.NoOp{},
		log:        Logger(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = cfg.MaxSize
		}
		q.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With(zap.String("queue", name))
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue adds a request and returns immediately. Requests rejected for
// backpressure or because the queue is closed resolve at once.
func (q *Queue) Enqueue(args ...native.Value) *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.stats.Rejected++
		return Rejected(errors.Closed(errors.PhaseBatch, "batch queue "+q.name))
	}
	if q.cfg.MaxPending > 0 && len(q.queued) >= q.cfg.MaxPending {
		q.stats.Rejected++
		q.recorder.RecordRejection(q.name, q.name, string(errors.KindBackpressure))
		return Rejected(errors.Backpressure("enqueue "+q.name,
			fmt.Sprintf("%d entries already queued", len(q.queued))))
	}
	if q.limiter != nil && !q.limiter.Allow() {
		q.stats.Rejected++
		q.recorder.RecordRejection(q.name, q.name, string(errors.KindBackpressure))
		return Rejected(errors.Backpressure("enqueue "+q.name, "enqueue rate exceeded"))
	}

	e := &entry{
		enqueuedAt: time.Now(),
		pending:    newPending(uuid.NewString()),
		args:       append([]native.Value(nil), args...),
	}
	q.queued = append(q.queued, e)
	q.stats.Enqueued++
	q.recorder.RecordQueueDepth(q.name, len(q.queued))

	switch {
	case len(q.queued) >= q.cfg.MaxSize:
		q.flushLocked()
	case len(q.queued) == 1:
		gen := q.gen
		q.timer = time.AfterFunc(q.cfg.MaxWait, func() { q.flushTimer(gen) })
	}
	return e.pending
}

func (q *Queue) flushTimer(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// A size flush may have taken the batch this timer was armed for.
	if gen != q.gen {
		return
	}
	q.flushLocked()
}

// Flush dispatches whatever is queued without waiting for MaxSize or
// MaxWait.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
}

func (q *Queue) flushLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
	if len(q.queued) == 0 {
		return
	}

	batch := q.queued
	q.queued = nil
	q.recorder.RecordQueueDepth(q.name, 0)

	if q.cfg.Concurrent {
		q.stats.InFlight++
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.execute(batch)
		}()
		return
	}

	q.ready = append(q.ready, batch)
	if !q.draining {
		q.draining = true
		q.wg.Add(1)
		go q.drain()
	}
}

// drain runs ready batches one at a time in flush order.
func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.ready) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		batch := q.ready[0]
		q.ready = q.ready[1:]
		q.stats.InFlight++
		q.mu.Unlock()

		q.execute(batch)
	}
}

func (q *Queue) execute(batch []*entry) {
	start := time.Now()

	items := make([]native.Value, len(batch))
	for i, e := range batch {
		if q.cfg.MatchByID {
			items[i] = native.List(append([]native.Value{native.String(e.pending.id)}, e.args...)...)
		} else {
			items[i] = native.List(e.args...)
		}
	}
	args := []native.Value{native.List(items...)}

	attempts := 0
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(q.cfg.RetryBackoff),
		backoff.WithMaxElapsedTime(0),
	), uint64(q.cfg.BatchRetries))
	result, err := backoff.RetryNotifyWithData[native.Value](func() (native.Value, error) {
		attempts++
		v, err := q.invoke(q.ctx, args)
		if err != nil && errors.KindOf(err) != errors.KindTransient {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy, func(err error, wait time.Duration) {
		q.log.Debug("retrying batch",
			zap.Int("size", len(batch)),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	})

	failed := 0
	if err != nil {
		q.log.Warn("batch failed",
			zap.Int("size", len(batch)),
			zap.Int("attempts", attempts),
			zap.Error(err))
		for _, e := range batch {
			e.pending.resolve(native.Value{}, err)
		}
		failed = len(batch)
	} else {
		failed = q.deliver(batch, result)
	}

	q.mu.Lock()
	q.stats.InFlight--
	q.stats.Batches++
	q.stats.Failed += uint64(failed)
	q.stats.LastSize = len(batch)
	q.mu.Unlock()

	q.recorder.RecordBatchFlush(q.name, len(batch), time.Since(start), string(errors.KindOf(err)))
	q.log.Debug("batch executed",
		zap.Int("size", len(batch)),
		zap.Int("failed", failed),
		zap.Duration("oldest_wait", start.Sub(batch[0].enqueuedAt)))
}

// deliver maps a native batch result onto the entries and returns how many
// entries failed.
func (q *Queue) deliver(batch []*entry, result native.Value) int {
	items, ok := result.AsList()
	if !ok {
		for _, e := range batch {
			e.pending.resolve(result, nil)
		}
		return 0
	}

	if q.cfg.MatchByID {
		return q.deliverByID(batch, items)
	}

	if len(items) != len(batch) {
		err := errors.New(errors.PhaseBatch, errors.KindInvalidResponse).
			Op(q.name).
			Detail("batch of %d entries returned %d results", len(batch), len(items)).
			Build()
		q.log.Error("batch result length mismatch",
			zap.Int("size", len(batch)),
			zap.Int("results", len(items)))
		for _, e := range batch {
			e.pending.resolve(native.Value{}, err)
		}
		return len(batch)
	}

	failed := 0
	for i, e := range batch {
		if q.resolveItem(e, items[i]) {
			failed++
		}
	}
	return failed
}

func (q *Queue) deliverByID(batch []*entry, items []native.Value) int {
	byID := make(map[string]native.Value, len(items))
	for _, item := range items {
		if item.Kind() != native.KindList || item.Len() != 2 {
			continue
		}
		id, ok := item.Index(0).AsString()
		if !ok {
			continue
		}
		byID[id] = item.Index(1)
	}

	failed := 0
	for _, e := range batch {
		v, ok := byID[e.pending.id]
		if !ok {
			e.pending.resolve(native.Value{}, errors.New(errors.PhaseBatch, errors.KindInvalidResponse).
				Op(q.name).
				Detail("no result for request %s", e.pending.id).
				Build())
			failed++
			continue
		}
		if q.resolveItem(e, v) {
			failed++
		}
	}
	return failed
}

// resolveItem delivers one item and reports whether it was a failure.
func (q *Queue) resolveItem(e *entry, item native.Value) bool {
	se, isErr := item.AsError()
	if !isErr {
		e.pending.resolve(item, nil)
		return false
	}
	se.Op = q.name
	kind := q.classifier.Classify(se)
	if kind == "" {
		kind = errors.KindTransient
	}
	e.pending.resolve(native.Value{}, errors.New(errors.PhaseBatch, kind).
		Op(q.name).
		Cause(se).
		Detail("request %s failed", e.pending.id).
		Build())
	return true
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Queued = len(q.queued)
	s.MaxPending = q.cfg.MaxPending
	return s
}

// Close rejects new requests, flushes what is queued and waits for
// in-flight batches or ctx.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.flushLocked()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Cancelled(errors.PhaseBatch, "close "+q.name, ctx.Err())
	}
}
