package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/nativeguard/metrics"
	"github.com/wippyai/nativeguard/resource"
)

// Config controls the pressure monitor.
type Config struct {
	Thresholds Thresholds
	Interval   time.Duration
	// Retention caps the snapshot history at this many samples.
	Retention int
	// Window drops snapshots older than this, measured back from the newest
	// one. Zero means Interval*Retention.
	Window time.Duration
	// ForceCleanup lets a critical reading dispose tracked resources idle
	// for longer than StaleAfter.
	ForceCleanup  bool
	StaleAfter    time.Duration
	MinGCInterval time.Duration
}

// DefaultConfig returns the production monitor configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds(),
		Interval:      5 * time.Second,
		Retention:     60,
		StaleAfter:    5 * time.Minute,
		MinGCInterval: 10 * time.Second,
	}
}

// LevelHandler is called when the pressure level changes.
type LevelHandler func(from, to Level, snap Snapshot)

// Monitor samples memory periodically and reacts to pressure.
type Monitor struct {
	sampler     Sampler
	coordinator *Coordinator
	tracker     *resource.Tracker
	recorder    metrics.Recorder
	log         *zap.Logger
	now         func() time.Time
	handlers    []LevelHandler
	history     []Snapshot
	cfg         Config
	level       Level
	mu          sync.RWMutex
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

func WithSampler(s Sampler) MonitorOption {
	return func(m *Monitor) { m.sampler = s }
}

func WithCoordinator(c *Coordinator) MonitorOption {
	return func(m *Monitor) { m.coordinator = c }
}

// WithTracker supplies native resource counts and the cleanup target.
func WithTracker(t *resource.Tracker) MonitorOption {
	return func(m *Monitor) { m.tracker = t }
}

func WithRecorder(r metrics.Recorder) MonitorOption {
	return func(m *Monitor) { m.recorder = metrics.OrNoOp(r) }
}

func WithLogger(l *zap.Logger) MonitorOption {
	return func(m *Monitor) { m.log = l }
}

func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor. Without WithSampler it samples the Go
// runtime and the host; without WithCoordinator it builds one from
// cfg.MinGCInterval.
func NewMonitor(cfg Config, opts ...MonitorOption) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.Window <= 0 {
		cfg.Window = cfg.Interval * time.Duration(cfg.Retention)
	}

	m := &Monitor{
		cfg:      cfg,
		recorder: metrics.NoOp{},
		log:      Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sampler == nil {
		var count func() int
		if m.tracker != nil {
			count = m.tracker.Count
		}
		m.sampler = NewRuntimeSampler(count)
	}
	if m.coordinator == nil {
		m.coordinator = NewCoordinator(cfg.MinGCInterval,
			WithCoordinatorRecorder(m.recorder),
			WithCoordinatorLogger(m.log))
	}
	return m
}

// OnLevelChange registers a handler. Handlers run on the monitor goroutine.
func (m *Monitor) OnLevelChange(h LevelHandler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Check takes one sample, classifies it and applies the response for the
// level.
func (m *Monitor) Check(ctx context.Context) (Level, error) {
	snap, err := m.sampler.Sample(ctx)
	if err != nil {
		m.log.Warn("memory sample failed", zap.Error(err))
		return m.Level(), err
	}

	level := m.cfg.Thresholds.Classify(snap)

	m.mu.Lock()
	m.history = append(m.history, snap)
	start := max(len(m.history)-m.cfg.Retention, 0)
	cutoff := snap.Timestamp.Add(-m.cfg.Window)
	for start < len(m.history)-1 && m.history[start].Timestamp.Before(cutoff) {
		start++
	}
	if start > 0 {
		m.history = append(m.history[:0], m.history[start:]...)
	}
	prev := m.level
	m.level = level
	handlers := append([]LevelHandler(nil), m.handlers...)
	m.mu.Unlock()

	m.recorder.RecordPressureLevel(level.String())

	if prev != level {
		m.log.Info("memory pressure level changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", level),
			zap.Uint64("heap_used", snap.HeapUsed),
			zap.Uint64("heap_limit", snap.HeapLimit),
			zap.Int("native_resources", snap.NativeResources))
		for _, h := range handlers {
			h(prev, level, snap)
		}
	}

	m.respond(ctx, level, snap)
	return level, nil
}

func (m *Monitor) respond(ctx context.Context, level Level, snap Snapshot) {
	switch level {
	case LevelElevated:
		m.coordinator.Suggest("elevated memory pressure")
		m.log.Debug("elevated pressure: collection suggested",
			zap.Float64("heap_ratio", snap.HeapRatio()))

	case LevelCritical:
		m.coordinator.Suggest("critical memory pressure")
		if !m.cfg.ForceCleanup || m.tracker == nil {
			m.log.Warn("critical memory pressure",
				zap.Float64("heap_ratio", snap.HeapRatio()),
				zap.Int("native_resources", snap.NativeResources))
			return
		}
		n, err := m.tracker.DisposeAll(ctx, resource.IdleFor(m.cfg.StaleAfter, m.now()))
		m.log.Warn("critical memory pressure: disposed stale resources",
			zap.Int("disposed", n),
			zap.Duration("stale_after", m.cfg.StaleAfter),
			zap.Error(err))
	}
}

// Run checks on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Level returns the level of the latest check.
func (m *Monitor) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// History returns a copy of the retained snapshots, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.history...)
}

// Trend reports the direction of heap usage over the retained history.
func (m *Monitor) Trend() Trend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return trendOf(m.history)
}

// Coordinator returns the collection coordinator the monitor drives.
func (m *Monitor) Coordinator() *Coordinator { return m.coordinator }
