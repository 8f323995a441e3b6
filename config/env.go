package config

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/wippyai/nativeguard/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NATIVEGUARD_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type override struct {
	apply func(cfg *Config, raw string) error
	key   string
}

func intVar(key string, field func(*Config) *int) override {
	return override{key: key, apply: func(cfg *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*field(cfg) = v
		return nil
	}}
}

func floatVar(key string, field func(*Config) *float64) override {
	return override{key: key, apply: func(cfg *Config, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		*field(cfg) = v
		return nil
	}}
}

func boolVar(key string, field func(*Config) *bool) override {
	return override{key: key, apply: func(cfg *Config, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*field(cfg) = v
		return nil
	}}
}

func durationVar(key string, field func(*Config) *Duration) override {
	return override{key: key, apply: func(cfg *Config, raw string) error {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*field(cfg) = Duration(v)
		return nil
	}}
}

func stringVar(key string, field func(*Config) *string) override {
	return override{key: key, apply: func(cfg *Config, raw string) error {
		*field(cfg) = raw
		return nil
	}}
}

var overrides = []override{
	intVar("CIRCUIT_FAILURE_THRESHOLD", func(c *Config) *int { return &c.Circuit.FailureThreshold }),
	durationVar("CIRCUIT_COOL_DOWN", func(c *Config) *Duration { return &c.Circuit.CoolDown }),
	intVar("RETRY_MAX_ATTEMPTS", func(c *Config) *int { return &c.Retry.MaxAttempts }),
	durationVar("RETRY_INITIAL_BACKOFF", func(c *Config) *Duration { return &c.Retry.InitialBackoff }),
	durationVar("RETRY_MAX_BACKOFF", func(c *Config) *Duration { return &c.Retry.MaxBackoff }),
	durationVar("RETRY_ATTEMPT_TIMEOUT", func(c *Config) *Duration { return &c.Retry.AttemptTimeout }),
	intVar("BATCH_MAX_SIZE", func(c *Config) *int { return &c.Batch.MaxSize }),
	durationVar("BATCH_MAX_WAIT", func(c *Config) *Duration { return &c.Batch.MaxWait }),
	intVar("BATCH_MAX_PENDING", func(c *Config) *int { return &c.Batch.MaxPending }),
	floatVar("BATCH_RATE_LIMIT", func(c *Config) *float64 { return &c.Batch.RateLimit }),
	boolVar("BATCH_CONCURRENT", func(c *Config) *bool { return &c.Batch.Concurrent }),
	durationVar("MEMORY_INTERVAL", func(c *Config) *Duration { return &c.Memory.Interval }),
	boolVar("MEMORY_FORCE_CLEANUP", func(c *Config) *bool { return &c.Memory.ForceCleanup }),
	boolVar("MEMORY_DISABLED", func(c *Config) *bool { return &c.Memory.Disabled }),
	durationVar("TRACKER_SWEEP_INTERVAL", func(c *Config) *Duration { return &c.Tracker.SweepInterval }),
	stringVar("LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),
	stringVar("LOG_FORMAT", func(c *Config) *string { return &c.Log.Format }),
}

// ApplyEnv overwrites fields from NATIVEGUARD_* variables. Empty values are
// ignored; malformed values are reported and leave the field unchanged.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs error
	for _, o := range overrides {
		raw, ok := lookup(EnvPrefix + o.key)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			continue
		}
		if err := o.apply(cfg, raw); err != nil {
			errs = multierr.Append(errs, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Op(EnvPrefix+o.key).
				Detail("invalid value %q", raw).
				Cause(err).
				Build())
		}
	}
	return errs
}
