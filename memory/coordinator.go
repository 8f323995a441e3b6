package memory

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wippyai/nativeguard/metrics"
)

// CoordinatorStats counts collection suggestions.
type CoordinatorStats struct {
	Requested uint64
	Performed uint64
	Skipped   uint64
}

// Coordinator turns pressure into garbage collection requests. Requests
// are rate limited and run asynchronously; at most one collection runs at
// a time.
type Coordinator struct {
	limiter   *rate.Limiter
	collect   func()
	recorder  metrics.Recorder
	log       *zap.Logger
	requested atomic.Uint64
	performed atomic.Uint64
	skipped   atomic.Uint64
	running   atomic.Bool
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCollector replaces runtime.GC.
func WithCollector(fn func()) CoordinatorOption {
	return func(c *Coordinator) { c.collect = fn }
}

func WithCoordinatorRecorder(r metrics.Recorder) CoordinatorOption {
	return func(c *Coordinator) { c.recorder = metrics.OrNoOp(r) }
}

func WithCoordinatorLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator allows at most one collection per minInterval.
func NewCoordinator(minInterval time.Duration, opts ...CoordinatorOption) *Coordinator {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	c := &Coordinator{
		limiter:  rate.NewLimiter(limit, 1),
		collect:  runtime.GC,
		recorder: metrics.NoOp{},
		log:      Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Suggest requests a collection. It never blocks and reports whether a
// collection was started.
func (c *Coordinator) Suggest(reason string) bool {
	c.requested.Add(1)

	if !c.limiter.Allow() || !c.running.CompareAndSwap(false, true) {
		c.skipped.Add(1)
		c.recorder.RecordCollection(false)
		c.log.Debug("garbage collection suggestion skipped", zap.String("reason", reason))
		return false
	}

	c.log.Info("requesting garbage collection", zap.String("reason", reason))
	go func() {
		defer c.running.Store(false)
		start := time.Now()
		c.collect()
		c.performed.Add(1)
		c.recorder.RecordCollection(true)
		c.log.Debug("garbage collection finished", zap.Duration("took", time.Since(start)))
	}()
	return true
}

func (c *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		Requested: c.requested.Load(),
		Performed: c.performed.Load(),
		Skipped:   c.skipped.Load(),
	}
}
