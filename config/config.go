package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/nativeguard/batch"
	"github.com/wippyai/nativeguard/call"
	"github.com/wippyai/nativeguard/errors"
	"github.com/wippyai/nativeguard/memory"
)

// Duration is a time.Duration written as a string such as "250ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Config is the full runtime configuration.
type Config struct {
	Circuit CircuitConfig `yaml:"circuit"`
	Retry   RetryConfig   `yaml:"retry"`
	Batch   BatchConfig   `yaml:"batch"`
	Memory  MemoryConfig  `yaml:"memory"`
	Tracker TrackerConfig `yaml:"tracker"`
	Log     LogConfig     `yaml:"log"`
}

type CircuitConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	CoolDown         Duration `yaml:"cool_down"`
}

type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Multiplier     float64  `yaml:"multiplier"`
	Jitter         float64  `yaml:"jitter"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
}

type BatchConfig struct {
	MaxSize      int      `yaml:"max_size"`
	MaxWait      Duration `yaml:"max_wait"`
	MatchByID    bool     `yaml:"match_by_id"`
	Retries      int      `yaml:"retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
	Concurrent   bool     `yaml:"concurrent"`
	MaxPending   int      `yaml:"max_pending"`
	RateLimit    float64  `yaml:"rate_limit"`
	RateBurst    int      `yaml:"rate_burst"`
}

type MemoryConfig struct {
	Interval       Duration `yaml:"interval"`
	Retention      int      `yaml:"retention"`
	Window         Duration `yaml:"window"`
	ElevatedRatio  float64  `yaml:"elevated_ratio"`
	CriticalRatio  float64  `yaml:"critical_ratio"`
	ElevatedNative int      `yaml:"elevated_native"`
	CriticalNative int      `yaml:"critical_native"`
	ForceCleanup   bool     `yaml:"force_cleanup"`
	StaleAfter     Duration `yaml:"stale_after"`
	MinGCInterval  Duration `yaml:"min_gc_interval"`
	Disabled       bool     `yaml:"disabled"`
}

type TrackerConfig struct {
	SweepInterval Duration `yaml:"sweep_interval"`
	LeakThreshold Duration `yaml:"leak_threshold"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cc := call.DefaultConfig()
	bc := batch.DefaultConfig()
	mc := memory.DefaultConfig()
	return Config{
		Circuit: CircuitConfig{
			FailureThreshold: cc.Circuit.FailureThreshold,
			CoolDown:         Duration(cc.Circuit.CoolDown),
		},
		Retry: RetryConfig{
			MaxAttempts:    cc.MaxAttempts,
			InitialBackoff: Duration(cc.InitialBackoff),
			MaxBackoff:     Duration(cc.MaxBackoff),
			Multiplier:     cc.Multiplier,
			Jitter:         cc.Jitter,
			AttemptTimeout: Duration(cc.AttemptTimeout),
		},
		Batch: BatchConfig{
			MaxSize:      bc.MaxSize,
			MaxWait:      Duration(bc.MaxWait),
			Retries:      bc.BatchRetries,
			RetryBackoff: Duration(bc.RetryBackoff),
		},
		Memory: MemoryConfig{
			Interval:       Duration(mc.Interval),
			Retention:      mc.Retention,
			ElevatedRatio:  mc.Thresholds.ElevatedRatio,
			CriticalRatio:  mc.Thresholds.CriticalRatio,
			ElevatedNative: mc.Thresholds.ElevatedNative,
			CriticalNative: mc.Thresholds.CriticalNative,
			StaleAfter:     Duration(mc.StaleAfter),
			MinGCInterval:  Duration(mc.MinGCInterval),
		},
		Tracker: TrackerConfig{
			SweepInterval: Duration(30 * time.Second),
			LeakThreshold: Duration(10 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read "+path)
		default:
			if err := decode(data, &cfg); err != nil {
				return cfg, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse "+path)
			}
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return cfg, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config")
	}
	return cfg, cfg.Validate()
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs error
	bad := func(field, format string, args ...any) {
		errs = multierr.Append(errs, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Op(field).
			Detail(format, args...).
			Build())
	}

	if c.Circuit.FailureThreshold < 1 {
		bad("circuit.failure_threshold", "must be at least 1, got %d", c.Circuit.FailureThreshold)
	}
	if c.Circuit.CoolDown <= 0 {
		bad("circuit.cool_down", "must be positive, got %s", c.Circuit.CoolDown)
	}
	if c.Retry.MaxAttempts < 1 {
		bad("retry.max_attempts", "must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
		bad("retry", "backoff durations must not be negative")
	}
	if c.Retry.MaxBackoff > 0 && c.Retry.InitialBackoff > c.Retry.MaxBackoff {
		bad("retry.initial_backoff", "%s exceeds max_backoff %s", c.Retry.InitialBackoff, c.Retry.MaxBackoff)
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		bad("retry.multiplier", "must be at least 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		bad("retry.jitter", "must be within [0, 1], got %v", c.Retry.Jitter)
	}
	if c.Batch.MaxSize < 1 {
		bad("batch.max_size", "must be at least 1, got %d", c.Batch.MaxSize)
	}
	if c.Batch.MaxWait <= 0 {
		bad("batch.max_wait", "must be positive, got %s", c.Batch.MaxWait)
	}
	if c.Batch.Retries < 0 {
		bad("batch.retries", "must not be negative, got %d", c.Batch.Retries)
	}
	if c.Batch.MaxPending < 0 || c.Batch.RateLimit < 0 || c.Batch.RateBurst < 0 {
		bad("batch", "limits must not be negative")
	}
	m := c.Memory
	if m.ElevatedRatio < 0 || m.CriticalRatio < 0 {
		bad("memory", "ratios must not be negative")
	}
	if m.CriticalRatio > 0 && m.ElevatedRatio > m.CriticalRatio {
		bad("memory.elevated_ratio", "%v exceeds critical_ratio %v", m.ElevatedRatio, m.CriticalRatio)
	}
	if m.CriticalNative > 0 && m.ElevatedNative > m.CriticalNative {
		bad("memory.elevated_native", "%d exceeds critical_native %d", m.ElevatedNative, m.CriticalNative)
	}
	if m.Window < 0 {
		bad("memory.window", "must not be negative, got %s", m.Window.Std())
	}
	if m.ForceCleanup && m.StaleAfter <= 0 {
		bad("memory.stale_after", "must be positive when force_cleanup is set")
	}
	if _, err := c.Log.level(); err != nil {
		bad("log.level", "%v", err)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		bad("log.format", "unknown format %q", c.Log.Format)
	}
	return errs
}

// CallConfig converts the circuit and retry sections.
func (c Config) CallConfig() call.Config {
	return call.Config{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialBackoff: c.Retry.InitialBackoff.Std(),
		MaxBackoff:     c.Retry.MaxBackoff.Std(),
		Multiplier:     c.Retry.Multiplier,
		Jitter:         c.Retry.Jitter,
		AttemptTimeout: c.Retry.AttemptTimeout.Std(),
		Circuit: call.CircuitConfig{
			FailureThreshold: c.Circuit.FailureThreshold,
			CoolDown:         c.Circuit.CoolDown.Std(),
		},
	}
}

// BatchConfig converts the batch section.
func (c Config) BatchConfig() batch.Config {
	b := c.Batch
	return batch.Config{
		MaxSize:      b.MaxSize,
		MaxWait:      b.MaxWait.Std(),
		MatchByID:    b.MatchByID,
		BatchRetries: b.Retries,
		RetryBackoff: b.RetryBackoff.Std(),
		Concurrent:   b.Concurrent,
		MaxPending:   b.MaxPending,
		RateLimit:    b.RateLimit,
		RateBurst:    b.RateBurst,
	}
}

// MemoryConfig converts the memory section.
func (c Config) MemoryConfig() memory.Config {
	m := c.Memory
	return memory.Config{
		Thresholds: memory.Thresholds{
			ElevatedRatio:  m.ElevatedRatio,
			CriticalRatio:  m.CriticalRatio,
			ElevatedNative: m.ElevatedNative,
			CriticalNative: m.CriticalNative,
		},
		Interval:      m.Interval.Std(),
		Retention:     m.Retention,
		Window:        m.Window.Std(),
		ForceCleanup:  m.ForceCleanup,
		StaleAfter:    m.StaleAfter.Std(),
		MinGCInterval: m.MinGCInterval.Std(),
	}
}
