package call

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/nativeguard/errors"
	"github.com/wippyai/nativeguard/metrics"
	"github.com/wippyai/nativeguard/native"
)

const instrumentationName = "github.com/wippyai/nativeguard/call"

// Config holds retry and circuit parameters.
type Config struct {
	// MaxAttempts is the total number of native invocations per logical
	// call, first attempt included.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the randomization factor applied to each backoff interval.
	Jitter float64
	// AttemptTimeout bounds a single native invocation. Zero means none.
	AttemptTimeout time.Duration
	Circuit        CircuitConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
		Jitter:         0.5,
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			CoolDown:         30 * time.Second,
		},
	}
}

// Clock supplies the current time for circuit cool-downs and backoff.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// CallContext describes one native invocation attempt. It is handed to
// hooks and never retained.
type CallContext struct {
	StartedAt time.Time
	Operation string
	Endpoint  string
	Kind      errors.Kind
	Args      []native.Value
	Attempt   int
}

// Hook observes every finished attempt. err is nil on success.
type Hook func(cc CallContext, err error)

// Invocation performs the native call.
type Invocation func(ctx context.Context, args []native.Value) (native.Value, error)

// Manager runs native calls behind per-endpoint circuits, classifying
// failures and retrying transient ones.
type Manager struct {
	clock      Clock
	classifier Classifier
	tracer     trace.Tracer
	recorder   metrics.Recorder
	log        *zap.Logger
	endpoint   func(op string) string
	circuits   map[string]*Circuit
	listeners  []func(endpoint string, from, to State)
	hooks      []Hook
	trippedAt  time.Time
	cfg        Config
	mu         sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithClassifier(c Classifier) Option {
	return func(m *Manager) { m.classifier = c }
}

// WithEndpoint groups operations into endpoints that share a circuit. By
// default every operation is its own endpoint.
func WithEndpoint(fn func(op string) string) Option {
	return func(m *Manager) { m.endpoint = fn }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracer = tp.Tracer(instrumentationName) }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) { m.recorder = metrics.OrNoOp(r) }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithStateListener registers fn for circuit transitions. Listeners run
// synchronously on the goroutine that caused the transition.
func WithStateListener(fn func(endpoint string, from, to State)) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

func WithHook(h Hook) Option {
	return func(m *Manager) { m.hooks = append(m.hooks, h) }
}

// NewManager creates a Manager. Zero counts and durations in cfg take
// their defaults.
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = def.Jitter
	}
	if cfg.Circuit.FailureThreshold <= 0 {
		cfg.Circuit.FailureThreshold = def.Circuit.FailureThreshold
	}
	if cfg.Circuit.CoolDown <= 0 {
		cfg.Circuit.CoolDown = def.Circuit.CoolDown
	}

	m := &Manager{
		cfg:        cfg,
		clock:      systemClock{},
		classifier: DefaultClassifier,
		tracer:     otel.Tracer(instrumentationName),
		recorder:   metrics.NoOp{},
		log:        Logger(),
		endpoint:   func(op string) string { return op },
		circuits:   make(map[string]*Circuit),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Circuit returns the circuit for endpoint, creating it closed. A circuit
// created within a cool-down of the last TripAll starts open with that
// trip's cool-down.
func (m *Manager) Circuit(endpoint string) *Circuit {
	m.mu.Lock()
	c, ok := m.circuits[endpoint]
	if ok {
		m.mu.Unlock()
		return c
	}
	c = newCircuit(endpoint, m.cfg.Circuit, m.stateChanged)
	m.circuits[endpoint] = c
	trippedAt := m.trippedAt
	m.mu.Unlock()

	if !trippedAt.IsZero() && m.clock.Now().Sub(trippedAt) < m.cfg.Circuit.CoolDown {
		c.trip(trippedAt)
	}
	return c
}

func (m *Manager) stateChanged(endpoint string, from, to State) {
	log := m.log.With(
		zap.String("endpoint", endpoint),
		zap.String("from", from.String()),
		zap.String("state", to.String()))
	if to == StateOpen {
		log.Warn("circuit opened")
	} else {
		log.Info("circuit state changed")
	}
	m.recorder.RecordCircuitStateChange(endpoint, from.String(), to.String())
	for _, fn := range m.listeners {
		fn(endpoint, from, to)
	}
}

// Endpoint returns the endpoint op belongs to.
func (m *Manager) Endpoint(op string) string { return m.endpoint(op) }

// States returns the state of every known circuit.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	circuits := make([]*Circuit, 0, len(m.circuits))
	for _, c := range m.circuits {
		circuits = append(circuits, c)
	}
	m.mu.Unlock()

	states := make(map[string]State, len(circuits))
	for _, c := range circuits {
		states[c.Name()] = c.State()
	}
	return states
}

// Endpoints returns the known endpoints in sorted order.
func (m *Manager) Endpoints() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.circuits))
	for name := range m.circuits {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// TripAll forces every circuit open, including circuits for endpoints first
// seen during the following cool-down. It is applied automatically when a
// call fails fatally.
func (m *Manager) TripAll() {
	now := m.clock.Now()
	m.mu.Lock()
	m.trippedAt = now
	circuits := make([]*Circuit, 0, len(m.circuits))
	for _, c := range m.circuits {
		circuits = append(circuits, c)
	}
	m.mu.Unlock()

	for _, c := range circuits {
		c.trip(now)
	}
}

// Reset closes the circuit for endpoint.
func (m *Manager) Reset(endpoint string) {
	m.Circuit(endpoint).reset()
}

// CallTable invokes op on t.
func (m *Manager) CallTable(ctx context.Context, t native.Table, op string, args []native.Value) (native.Value, error) {
	return m.Call(ctx, op, args, func(ctx context.Context, args []native.Value) (native.Value, error) {
		return t.Call(ctx, op, args)
	})
}

// Call runs invoke as the logical call op. Transient failures are retried
// with exponential backoff while the endpoint's circuit admits them. The
// caller gets exactly one outcome. If ctx ends during a native invocation
// the invocation still completes and updates the circuit; only its result
// is dropped.
func (m *Manager) Call(ctx context.Context, op string, args []native.Value, invoke Invocation) (native.Value, error) {
	start := m.clock.Now()
	endpoint := m.endpoint(op)
	circuit := m.Circuit(endpoint)

	if err := ctx.Err(); err != nil {
		return native.Value{}, errors.Cancelled(errors.PhaseCall, op, err)
	}

	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(m.cfg.InitialBackoff),
		backoff.WithMaxInterval(m.cfg.MaxBackoff),
		backoff.WithMultiplier(m.cfg.Multiplier),
		backoff.WithRandomizationFactor(m.cfg.Jitter),
		backoff.WithMaxElapsedTime(0),
		backoff.WithClockProvider(m.clock),
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(m.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	operation := func() (native.Value, error) {
		attempt++

		tk, ok := circuit.admit(m.clock.Now())
		if !ok {
			m.recorder.RecordRejection(op, endpoint, string(errors.KindCircuitOpen))
			return native.Value{}, backoff.Permanent(errors.New(errors.PhaseCall, errors.KindCircuitOpen).
				Op(op).
				Endpoint(endpoint).
				Circuit(circuit.State().String()).
				Attempts(attempt - 1).
				Detail("native endpoint is not accepting calls").
				Build())
		}

		cc := CallContext{
			StartedAt: m.clock.Now(),
			Operation: op,
			Endpoint:  endpoint,
			Args:      args,
			Attempt:   attempt,
		}
		v, kind, err, abandoned := m.attempt(ctx, cc, circuit, tk, invoke)
		if abandoned {
			return native.Value{}, backoff.Permanent(err)
		}
		if err == nil {
			return v, nil
		}

		wrapped := errors.New(errors.PhaseCall, kind).
			Op(op).
			Endpoint(endpoint).
			Circuit(circuit.State().String()).
			Attempts(attempt).
			Cause(err).
			Detail("native call failed").
			Build()
		if kind != errors.KindTransient {
			return native.Value{}, backoff.Permanent(wrapped)
		}
		if attempt < m.cfg.MaxAttempts && circuit.State() != StateClosed {
			// The failure opened the circuit; the next attempt would be rejected.
			m.recorder.RecordRejection(op, endpoint, string(errors.KindCircuitOpen))
			return native.Value{}, backoff.Permanent(errors.New(errors.PhaseCall, errors.KindCircuitOpen).
				Op(op).
				Endpoint(endpoint).
				Circuit(circuit.State().String()).
				Attempts(attempt).
				Cause(wrapped).
				Detail("circuit opened during retries").
				Build())
		}
		return native.Value{}, wrapped
	}

	notify := func(err error, wait time.Duration) {
		m.log.Debug("retrying native call",
			zap.String("operation", op),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	v, err := backoff.RetryNotifyWithData[native.Value](operation, policy, notify)
	if err != nil {
		var e *errors.Error
		if !stderrors.As(err, &e) {
			// The backoff policy gave up because ctx ended between attempts.
			err = errors.Cancelled(errors.PhaseCall, op, err)
		}
	}

	kind := errors.KindOf(err)
	m.recorder.RecordCall(op, endpoint, string(kind), attempt, m.clock.Now().Sub(start))
	if err != nil {
		m.log.Warn("native call failed",
			zap.String("operation", op),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return native.Value{}, err
	}
	return v, nil
}

type outcome struct {
	err   error
	kind  errors.Kind
	value native.Value
}

// attempt runs one native invocation on its own goroutine. The invocation
// is detached from ctx cancellation so it always completes and settles
// the circuit; abandoned reports that the caller stopped waiting.
func (m *Manager) attempt(ctx context.Context, cc CallContext, circuit *Circuit, tk ticket, invoke Invocation) (native.Value, errors.Kind, error, bool) {
	spanCtx, span := m.tracer.Start(ctx, "native "+cc.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("nativeguard.operation", cc.Operation),
			attribute.String("nativeguard.endpoint", cc.Endpoint),
			attribute.Int("nativeguard.attempt", cc.Attempt),
			attribute.Bool("nativeguard.probe", tk.probe),
		))

	callCtx := context.WithoutCancel(spanCtx)
	cancel := context.CancelFunc(func() {})
	if m.cfg.AttemptTimeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, m.cfg.AttemptTimeout)
	}

	done := make(chan outcome, 1)
	go func() {
		v, err := invokeSafe(callCtx, invoke, cc.Args)
		cancel()
		var kind errors.Kind
		if err != nil {
			kind = m.classifier.Classify(err)
			if kind == "" {
				kind = errors.KindTransient
			}
		}

		circuit.record(tk, kind, m.clock.Now())
		if kind == errors.KindFatal {
			m.log.Error("fatal native failure, opening all circuits",
				zap.String("operation", cc.Operation),
				zap.Error(err))
			m.TripAll()
		}

		if err != nil {
			span.SetAttributes(attribute.String("nativeguard.kind", string(kind)))
			span.RecordError(err)
			span.SetStatus(codes.Error, string(kind))
		}
		span.End()

		cc.Kind = kind
		for _, h := range m.hooks {
			h(cc, err)
		}
		done <- outcome{value: v, kind: kind, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.kind, o.err, false
	case <-ctx.Done():
		m.log.Debug("caller abandoned native call",
			zap.String("operation", cc.Operation),
			zap.Int("attempt", cc.Attempt))
		err := errors.New(errors.PhaseCall, errors.KindTransient).
			Op(cc.Operation).
			Endpoint(cc.Endpoint).
			Attempts(cc.Attempt).
			Cause(ctx.Err()).
			Detail("caller stopped waiting, native call left to complete").
			Build()
		return native.Value{}, errors.KindTransient, err, true
	}
}

func invokeSafe(ctx context.Context, invoke Invocation, args []native.Value) (v native.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: native call panicked: %v", native.ErrUnavailable, r)
		}
	}()
	return invoke(ctx, args)
}
