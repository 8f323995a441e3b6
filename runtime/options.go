package runtime

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/nativeguard/call"
	"github.com/wippyai/nativeguard/config"
	"github.com/wippyai/nativeguard/memory"
	"github.com/wippyai/nativeguard/metrics"
	"github.com/wippyai/nativeguard/resource"
)

type options struct {
	cfg         config.Config
	log         *zap.Logger
	recorder    metrics.Recorder
	tracer      trace.TracerProvider
	classifier  call.Classifier
	sampler     memory.Sampler
	callOpts    []call.Option
	trackerOpts []resource.TrackerOption
	noWatchers  bool
}

// Option configures a Runtime.
type Option func(*options)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithClassifier overrides the default outcome classification for calls
// and batches.
func WithClassifier(c call.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithSampler replaces the memory sampler.
func WithSampler(s memory.Sampler) Option {
	return func(o *options) { o.sampler = s }
}

// WithCallOptions passes extra options to the call manager.
func WithCallOptions(opts ...call.Option) Option {
	return func(o *options) { o.callOpts = append(o.callOpts, opts...) }
}

// WithTrackerOptions passes extra options to the resource tracker.
func WithTrackerOptions(opts ...resource.TrackerOption) Option {
	return func(o *options) { o.trackerOpts = append(o.trackerOpts, opts...) }
}

// WithoutWatchers disables the background leak sweep and memory monitor.
// Both can still be driven by hand through Tracker and Monitor.
func WithoutWatchers() Option {
	return func(o *options) { o.noWatchers = true }
}
