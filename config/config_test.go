package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/nativeguard/errors"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Circuit.CoolDown.Std())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 64, cfg.Batch.MaxSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Circuit, cfg.Circuit)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nativeguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
circuit:
  failure_threshold: 2
  cool_down: 250ms
batch:
  max_wait: 5ms
  match_by_id: true
memory:
  force_cleanup: true
  stale_after: 1m
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Circuit.CoolDown.Std())
	assert.Equal(t, 5*time.Millisecond, cfg.Batch.MaxWait.Std())
	assert.True(t, cfg.Batch.MatchByID)
	assert.Equal(t, 64, cfg.Batch.MaxSize, "unset fields keep defaults")
	assert.True(t, cfg.Memory.ForceCleanup)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nativeguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  max_attempts: 4\n"), 0o600))
	t.Setenv("NATIVEGUARD_RETRY_MAX_ATTEMPTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("circuit:\n  threshold: 3\n"))
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("circuit:\n  cool_down: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, envMap(map[string]string{
		"NATIVEGUARD_CIRCUIT_COOL_DOWN":    "2s",
		"NATIVEGUARD_BATCH_CONCURRENT":     "true",
		"NATIVEGUARD_BATCH_RATE_LIMIT":     "100.5",
		"NATIVEGUARD_LOG_LEVEL":            "warn",
		"NATIVEGUARD_MEMORY_FORCE_CLEANUP": " ",
	}))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Circuit.CoolDown.Std())
	assert.True(t, cfg.Batch.Concurrent)
	assert.Equal(t, 100.5, cfg.Batch.RateLimit)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Memory.ForceCleanup, "blank values are ignored")
}

func TestApplyEnvReportsMalformedValues(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, envMap(map[string]string{
		"NATIVEGUARD_BATCH_MAX_SIZE":  "many",
		"NATIVEGUARD_MEMORY_INTERVAL": "often",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATIVEGUARD_BATCH_MAX_SIZE")
	assert.Contains(t, err.Error(), "NATIVEGUARD_MEMORY_INTERVAL")
	assert.Equal(t, 64, cfg.Batch.MaxSize)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Circuit.FailureThreshold = 0
	cfg.Retry.Jitter = 2
	cfg.Batch.MaxSize = 0
	cfg.Memory.ElevatedRatio = 0.95
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{
		"circuit.failure_threshold",
		"retry.jitter",
		"batch.max_size",
		"memory.elevated_ratio",
		"log.level",
	} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Batch.Retries = 3
	cfg.Memory.CriticalNative = 500
	cfg.Memory.Window = Duration(2 * time.Minute)

	cc := cfg.CallConfig()
	assert.Equal(t, cfg.Retry.MaxAttempts, cc.MaxAttempts)
	assert.Equal(t, cfg.Circuit.CoolDown.Std(), cc.Circuit.CoolDown)

	bc := cfg.BatchConfig()
	assert.Equal(t, 3, bc.BatchRetries)
	assert.False(t, bc.Concurrent)

	mc := cfg.MemoryConfig()
	assert.Equal(t, 500, mc.Thresholds.CriticalNative)
	assert.Equal(t, cfg.Memory.Interval.Std(), mc.Interval)
	assert.Equal(t, 2*time.Minute, mc.Window)
}

func TestLogConfigLogger(t *testing.T) {
	l, err := LogConfig{Level: "debug", Format: "json"}.Logger()
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = LogConfig{Level: "nope"}.Logger()
	assert.Error(t, err)
}
