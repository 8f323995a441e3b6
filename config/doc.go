// Package config loads nativeguard settings from YAML with NATIVEGUARD_*
// environment overrides.
//
//	circuit:
//	  failure_threshold: 5
//	  cool_down: 30s
//	retry:
//	  max_attempts: 3
//	  initial_backoff: 50ms
//	batch:
//	  max_size: 64
//	  max_wait: 10ms
//	memory:
//	  force_cleanup: true
//	  stale_after: 5m
//	log:
//	  level: debug
//	  format: json
//
// Unset fields keep their defaults. Durations are Go duration strings.
package config
