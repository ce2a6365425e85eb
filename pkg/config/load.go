package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "GEMINI_PROXY_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	cfg, err := loadUnvalidated(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. An empty path skips the file and starts
// from defaults, so a deployment can be configured from the environment
// alone.
//
// The loading sequence is:
// 1. Load YAML from file (or defaults)
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefault()
	} else {
		var err error
		if cfg, err = loadUnvalidated(path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadUnvalidated reads path without validating, so env overrides can still
// supply missing values.
func loadUnvalidated(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// envSource reads environment overrides. Legacy names are consulted only
// when the prefixed variable is unset.
type envSource struct {
	errs []error
}

func (e *envSource) lookup(name string, legacy ...string) (string, bool) {
	if val, ok := os.LookupEnv(EnvPrefix + name); ok {
		return val, true
	}
	for _, l := range legacy {
		if val, ok := os.LookupEnv(l); ok {
			return val, true
		}
	}
	return "", false
}

func (e *envSource) str(dst *string, name string, legacy ...string) {
	if val, ok := e.lookup(name, legacy...); ok {
		*dst = val
	}
}

func (e *envSource) duration(dst *time.Duration, name string) {
	if val, ok := e.lookup(name); ok && val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}
}

func (e *envSource) integer(dst *int, name string) {
	if val, ok := e.lookup(name); ok && val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = i
	}
}

func (e *envSource) int64(dst *int64, name string) {
	if val, ok := e.lookup(name); ok && val != "" {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = i
	}
}

func (e *envSource) boolean(dst *bool, name string) {
	if val, ok := e.lookup(name); ok && val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = b
	}
}

func (e *envSource) float(dst *float64, name string) {
	if val, ok := e.lookup(name); ok && val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = f
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format GEMINI_PROXY_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) error {
	env := &envSource{}

	// Proxy overrides
	env.str(&cfg.Proxy.ListenAddress, "PROXY_LISTEN_ADDRESS")
	env.duration(&cfg.Proxy.ReadTimeout, "PROXY_READ_TIMEOUT")
	env.duration(&cfg.Proxy.WriteTimeout, "PROXY_WRITE_TIMEOUT")
	env.duration(&cfg.Proxy.IdleTimeout, "PROXY_IDLE_TIMEOUT")
	env.duration(&cfg.Proxy.ShutdownTimeout, "PROXY_SHUTDOWN_TIMEOUT")
	env.integer(&cfg.Proxy.MaxHeaderBytes, "PROXY_MAX_HEADER_BYTES")
	env.int64(&cfg.Proxy.MaxBodyBytes, "PROXY_MAX_BODY_BYTES")
	env.str(&cfg.Proxy.APIKey, "PROXY_API_KEY", "PROXY_API_KEY")
	env.boolean(&cfg.Proxy.TLS.Enabled, "PROXY_TLS_ENABLED")
	env.str(&cfg.Proxy.TLS.CertFile, "PROXY_TLS_CERT_FILE")
	env.str(&cfg.Proxy.TLS.KeyFile, "PROXY_TLS_KEY_FILE")
	env.str(&cfg.Proxy.TLS.MinVersion, "PROXY_TLS_MIN_VERSION")

	// Upstream overrides
	env.str(&cfg.Upstreams.OpenAI.BaseURL, "UPSTREAMS_OPENAI_BASE_URL", "OPENAI_UPSTREAM_URL")
	env.duration(&cfg.Upstreams.OpenAI.Timeout, "UPSTREAMS_OPENAI_TIMEOUT")
	env.str(&cfg.Upstreams.Gemini.BaseURL, "UPSTREAMS_GEMINI_BASE_URL", "GEMINI_UPSTREAM_URL")
	env.duration(&cfg.Upstreams.Gemini.Timeout, "UPSTREAMS_GEMINI_TIMEOUT")

	// Key pool overrides
	env.str(&cfg.KeyPool.APIKeys, "KEYPOOL_API_KEYS", "API_KEYS")
	env.str(&cfg.KeyPool.StateKey, "KEYPOOL_STATE_KEY")
	env.integer(&cfg.KeyPool.MaxAttempts, "KEYPOOL_MAX_ATTEMPTS")
	env.duration(&cfg.KeyPool.RetryDelay, "KEYPOOL_RETRY_DELAY")
	env.str(&cfg.KeyPool.ResetSchedule, "KEYPOOL_RESET_SCHEDULE")
	env.str(&cfg.KeyPool.ResetTimezone, "KEYPOOL_RESET_TIMEZONE")
	env.duration(&cfg.KeyPool.BookkeepingTimeout, "KEYPOOL_BOOKKEEPING_TIMEOUT")

	// Storage overrides
	env.str(&cfg.Storage.Backend, "STORAGE_BACKEND")
	env.str(&cfg.Storage.SQLite.Path, "STORAGE_SQLITE_PATH")
	env.str(&cfg.Storage.SQLite.Driver, "STORAGE_SQLITE_DRIVER")
	env.boolean(&cfg.Storage.SQLite.WALMode, "STORAGE_SQLITE_WAL_MODE")
	env.duration(&cfg.Storage.SQLite.BusyTimeout, "STORAGE_SQLITE_BUSY_TIMEOUT")

	// Telemetry overrides
	env.str(&cfg.Telemetry.Logging.Level, "TELEMETRY_LOGGING_LEVEL")
	env.str(&cfg.Telemetry.Logging.Format, "TELEMETRY_LOGGING_FORMAT")
	env.boolean(&cfg.Telemetry.Logging.AddSource, "TELEMETRY_LOGGING_ADD_SOURCE")
	env.boolean(&cfg.Telemetry.Metrics.Enabled, "TELEMETRY_METRICS_ENABLED")
	env.str(&cfg.Telemetry.Metrics.Path, "TELEMETRY_METRICS_PATH")
	env.boolean(&cfg.Telemetry.Tracing.Enabled, "TELEMETRY_TRACING_ENABLED")
	env.str(&cfg.Telemetry.Tracing.Endpoint, "TELEMETRY_TRACING_ENDPOINT")
	env.float(&cfg.Telemetry.Tracing.SampleRatio, "TELEMETRY_TRACING_SAMPLE_RATIO")
	env.boolean(&cfg.Telemetry.Tracing.Insecure, "TELEMETRY_TRACING_INSECURE")

	if len(env.errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(env.errs...))
	}
	return nil
}
