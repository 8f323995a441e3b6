package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exports measurements as Prometheus collectors.
type Prometheus struct {
	calls              *prometheus.CounterVec
	callDuration       *prometheus.HistogramVec
	callAttempts       *prometheus.HistogramVec
	rejections         *prometheus.CounterVec
	circuitState       *prometheus.GaugeVec
	circuitTransitions *prometheus.CounterVec
	batchFlushes       *prometheus.CounterVec
	batchSize          *prometheus.HistogramVec
	batchDuration      *prometheus.HistogramVec
	queueDepth         *prometheus.GaugeVec
	resourceEvents     *prometheus.CounterVec
	liveResources      *prometheus.GaugeVec
	pressureLevel      prometheus.Gauge
	collections        *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them on reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "nativeguard"
	}

	p := &Prometheus{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "calls_total",
			Help: "Logical native calls by outcome.",
		}, []string{"operation", "endpoint", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "call_duration_seconds",
			Help:    "Logical native call latency including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "endpoint"}),
		callAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "call_attempts",
			Help:    "Native invocations per logical call.",
			Buckets: []float64{1, 2, 3, 5, 8},
		}, []string{"operation"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Calls rejected without reaching native code.",
		}, []string{"operation", "endpoint", "reason"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_state",
			Help: "Circuit state per endpoint: 0 closed, 1 half-open, 2 open.",
		}, []string{"endpoint"}),
		circuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "circuit_transitions_total",
			Help: "Circuit state transitions.",
		}, []string{"endpoint", "from", "to"}),
		batchFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batch_flushes_total",
			Help: "Batch flushes by outcome.",
		}, []string{"queue", "outcome"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_size",
			Help:    "Entries per flushed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"queue"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help:    "Batch execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Entries waiting in a batch queue.",
		}, []string{"queue"}),
		resourceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resource_events_total",
			Help: "Native resource lifecycle events.",
		}, []string{"type", "event"}),
		liveResources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_resources",
			Help: "Tracked native resources not yet disposed.",
		}, []string{"type"}),
		pressureLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "memory_pressure_level",
			Help: "Memory pressure: 0 normal, 1 elevated, 2 critical.",
		}),
		collections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_requests_total",
			Help: "Garbage collection suggestions by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		p.calls, p.callDuration, p.callAttempts, p.rejections,
		p.circuitState, p.circuitTransitions,
		p.batchFlushes, p.batchSize, p.batchDuration, p.queueDepth,
		p.resourceEvents, p.liveResources,
		p.pressureLevel, p.collections,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func outcome(kind string) string {
	if kind == "" {
		return OutcomeSuccess
	}
	return kind
}

func (p *Prometheus) RecordCall(operation, endpoint, kind string, attempts int, duration time.Duration) {
	p.calls.WithLabelValues(operation, endpoint, outcome(kind)).Inc()
	p.callDuration.WithLabelValues(operation, endpoint).Observe(duration.Seconds())
	p.callAttempts.WithLabelValues(operation).Observe(float64(attempts))
}

func (p *Prometheus) RecordRejection(operation, endpoint, reason string) {
	p.rejections.WithLabelValues(operation, endpoint, reason).Inc()
}

func (p *Prometheus) RecordCircuitStateChange(endpoint, from, to string) {
	p.circuitTransitions.WithLabelValues(endpoint, from, to).Inc()
	p.circuitState.WithLabelValues(endpoint).Set(stateValue(to))
}

func stateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

func (p *Prometheus) RecordBatchFlush(queue string, size int, duration time.Duration, kind string) {
	p.batchFlushes.WithLabelValues(queue, outcome(kind)).Inc()
	p.batchSize.WithLabelValues(queue).Observe(float64(size))
	p.batchDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

func (p *Prometheus) RecordQueueDepth(queue string, depth int) {
	p.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (p *Prometheus) RecordResourceEvent(resourceType, event string) {
	p.resourceEvents.WithLabelValues(resourceType, event).Inc()
}

func (p *Prometheus) RecordLiveResources(resourceType string, count int) {
	p.liveResources.WithLabelValues(resourceType).Set(float64(count))
}

func (p *Prometheus) RecordPressureLevel(level string) {
	switch level {
	case "elevated":
		p.pressureLevel.Set(1)
	case "critical":
		p.pressureLevel.Set(2)
	default:
		p.pressureLevel.Set(0)
	}
}

func (p *Prometheus) RecordCollection(performed bool) {
	if performed {
		p.collections.WithLabelValues("performed").Inc()
		return
	}
	p.collections.WithLabelValues("skipped").Inc()
}
