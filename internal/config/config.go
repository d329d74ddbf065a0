// Package config assembles session configuration from defaults, a
// resource-pool spec file, environment variables, and CLI flags, in
// that precedence order (CLI wins last), and serializes the resolved
// result into the snapshot worker subprocesses read back at startup.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"testexec/internal/resourcepool"
)

// Env variable names carrying the worker-visible pool locator and the
// config snapshot path, per the documented external interface.
const (
	EnvResourcePoolAddr = "TESTEXEC_RESOURCE_POOL_ADDR"
	EnvConfigFile       = "TESTEXEC_CONFIG_FILE"
)

// BatchSpec captures the `-b spec=...` batch-mode sub-options.
type BatchSpec struct {
	Count    string `json:"count,omitempty"`    // "N" | "auto" | "max"
	Duration time.Duration `json:"duration,omitempty"`
	Layout   string `json:"layout,omitempty"` // "flat" | "atomic"
	Nodes    string `json:"nodes,omitempty"`  // "any" | "same"
	Workers  int    `json:"workers,omitempty"`
	Backend  string `json:"backend,omitempty"`
	Options  string `json:"options,omitempty"`
}

// Settings is the fully resolved, precedence-applied session
// configuration. WriteSnapshot and ReadSnapshot serialize it as JSON;
// nothing in this module sets or reads EnvConfigFile.
type Settings struct {
	Workers           int                  `json:"workers"`
	SessionTimeout    time.Duration        `json:"session_timeout"`
	TestTimeouts      map[string]time.Duration `json:"test_timeouts,omitempty"`
	TimeoutMultiplier float64              `json:"timeout_multiplier"`
	ResourceOverrides map[string]int       `json:"resource_overrides,omitempty"`
	ResourcePoolFile  string               `json:"resource_pool_file,omitempty"`
	Oversubscribe     map[string]int       `json:"oversubscribe,omitempty"`
	Batch             *BatchSpec           `json:"batch,omitempty"`
	FailFast          bool                 `json:"fail_fast"`
	PoolAddr          string               `json:"pool_addr,omitempty"`
}

// RegisterFlags defines the CLI surface on fs, for cmd/testexec to
// attach to its root command before calling Resolve.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("workers", -1, "worker-pool size; negative means auto")
	fs.Duration("timeout", 0, "session timeout, e.g. 1h20m")
	fs.Float64("timeout-multiplier", 1.0, "multiplier applied to every job's timeout")
	fs.String("resource-pool-file", "", "load resource pool spec from file")
	fs.Bool("fail-fast", false, "stop dispatching once a job fails")
	fs.StringSliceP("resource-override", "r", nil, "type=N, override pool entry count")
	fs.StringSlice("oversubscribe", nil, "type=K, multiply instance slots")
	fs.StringSlice("test-timeout", nil, "type:duration, e.g. fast:30s")
	fs.StringP("batch", "b", "", "batch-mode spec, e.g. count:auto,layout:flat,backend:slurm")
}

func defaults() Settings {
	return Settings{
		Workers:           -1, // auto
		SessionTimeout:    0,
		TimeoutMultiplier: 1.0,
		TestTimeouts:      map[string]time.Duration{},
		ResourceOverrides: map[string]int{},
		Oversubscribe:     map[string]int{},
	}
}

// Resolve builds Settings from defaults, then environment variables,
// then CLI flags — flags bound last so they win over everything. A
// resource-pool file named by flags/env is only recorded in
// ResourcePoolFile; Resolve does not read it. This mirrors the
// original hook chain where CLI options are applied after
// environment-derived defaults.
func Resolve(fs *pflag.FlagSet, fsys afero.Fs, environ func(string) string) (Settings, error) {
	s := defaults()

	v := viper.New()
	v.SetFs(fsys)
	if err := v.BindPFlags(fs); err != nil {
		return s, fmt.Errorf("config: bind flags: %w", err)
	}
	v.SetEnvPrefix("TESTEXEC")
	v.AutomaticEnv()

	if w := v.GetInt("workers"); w != 0 {
		s.Workers = w
	}
	if t := v.GetDuration("timeout"); t > 0 {
		s.SessionTimeout = t
	}
	if m := v.GetFloat64("timeout-multiplier"); m > 0 {
		s.TimeoutMultiplier = m
	}
	if f := v.GetString("resource-pool-file"); f != "" {
		s.ResourcePoolFile = f
	}
	if v.GetBool("fail-fast") {
		s.FailFast = true
	}

	if addr := environ(EnvResourcePoolAddr); addr != "" {
		if _, err := resourcepool.ParseAddr(addr); err != nil {
			return s, fmt.Errorf("config: %s: %w", EnvResourcePoolAddr, err)
		}
		s.PoolAddr = addr
	}

	for _, kv := range v.GetStringSlice("resource-override") {
		typ, n, err := splitKV(kv)
		if err != nil {
			return s, fmt.Errorf("config: -r %s: %w", kv, err)
		}
		s.ResourceOverrides[typ] = n
	}
	for _, kv := range v.GetStringSlice("oversubscribe") {
		typ, n, err := splitKV(kv)
		if err != nil {
			return s, fmt.Errorf("config: --oversubscribe %s: %w", kv, err)
		}
		s.Oversubscribe[typ] = n
	}
	for _, kv := range v.GetStringSlice("test-timeout") {
		typ, d, err := splitDuration(kv)
		if err != nil {
			return s, fmt.Errorf("config: --test-timeout %s: %w", kv, err)
		}
		s.TestTimeouts[typ] = d
	}

	if raw := v.GetString("batch"); raw != "" {
		batch, err := parseBatchSpec(raw)
		if err != nil {
			return s, fmt.Errorf("config: -b %s: %w", raw, err)
		}
		s.Batch = &batch
	}

	return s, nil
}

// parseBatchSpec parses the `-b spec=...` comma-separated key:value
// sub-options (count, duration, layout, nodes, workers, backend,
// options) into a BatchSpec.
func parseBatchSpec(raw string) (BatchSpec, error) {
	var b BatchSpec
	for _, field := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(field, ":")
		if !ok {
			return b, fmt.Errorf("expected key:value field, got %q", field)
		}
		switch key {
		case "count":
			b.Count = val
		case "duration":
			d, err := time.ParseDuration(val)
			if err != nil {
				return b, fmt.Errorf("duration: %w", err)
			}
			b.Duration = d
		case "layout":
			b.Layout = val
		case "nodes":
			b.Nodes = val
		case "workers":
			var n int
			if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
				return b, fmt.Errorf("workers: expected integer, got %q", val)
			}
			b.Workers = n
		case "backend":
			b.Backend = val
		case "options":
			b.Options = val
		default:
			return b, fmt.Errorf("unknown batch option %q", key)
		}
	}
	return b, nil
}

func splitKV(s string) (string, int, error) {
	typ, rest, ok := strings.Cut(s, "=")
	if !ok {
		return "", 0, fmt.Errorf("expected type=N")
	}
	var n int
	if _, err := fmt.Sscanf(rest, "%d", &n); err != nil {
		return "", 0, fmt.Errorf("expected integer count, got %q", rest)
	}
	return typ, n, nil
}

func splitDuration(s string) (string, time.Duration, error) {
	typ, rest, ok := strings.Cut(s, ":")
	if !ok {
		return "", 0, fmt.Errorf("expected type:duration")
	}
	d, err := time.ParseDuration(rest)
	if err != nil {
		return "", 0, fmt.Errorf("invalid duration %q: %w", rest, err)
	}
	return typ, d, nil
}

// WriteSnapshot serializes s as JSON to path on fsys, the format a
// worker subprocess reads back via ReadSnapshot.
func WriteSnapshot(fsys afero.Fs, path string, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("config: marshal snapshot: %w", err)
	}
	return afero.WriteFile(fsys, path, data, 0o644)
}

// ReadSnapshot reads back a Settings value written by WriteSnapshot.
func ReadSnapshot(fsys afero.Fs, path string) (Settings, error) {
	var s Settings
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return s, fmt.Errorf("config: read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("config: unmarshal snapshot: %w", err)
	}
	return s, nil
}
