package config

import "time"

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576  // 1MB
	DefaultMaxBodyBytes    = 33554432 // 32MB
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute

	// Upstream defaults
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultGeminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultUpstreamTimeout = 5 * time.Minute

	// Key pool defaults
	DefaultStateKey           = "keyManagerState"
	DefaultMaxAttempts        = 5
	DefaultRetryDelay         = 100 * time.Millisecond
	DefaultResetSchedule      = "0 7 * * *"
	DefaultResetTimezone      = "UTC"
	DefaultBookkeepingTimeout = 10 * time.Second

	// Storage defaults
	DefaultStorageBackend    = "sqlite"
	DefaultSQLitePath        = "data/keypool.db"
	DefaultSQLiteDriver      = "sqlite"
	DefaultSQLiteWALMode     = true
	DefaultSQLiteBusyTimeout = 5 * time.Second

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "gemini_proxy"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "gemini-proxy"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingInsecure    = true
	DefaultTracingTimeout     = 10 * time.Second
)

// DefaultRequestDurationBuckets are the histogram buckets for end-to-end
// request latency, in seconds.
var DefaultRequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0}

// NewDefault returns a configuration with every field set to its default.
// Boolean defaults, and defaults whose zero value is meaningful such as
// keypool.retry_delay, can only be expressed here; LoadConfig decodes YAML on
// top of this value so an explicit false survives.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Storage.SQLite.WALMode = DefaultSQLiteWALMode
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Insecure = DefaultTracingInsecure
	cfg.KeyPool.RetryDelay = DefaultRetryDelay
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Proxy defaults
	if cfg.Proxy.ListenAddress == "" {
		cfg.Proxy.ListenAddress = DefaultListenAddress
	}
	if cfg.Proxy.ReadTimeout == 0 {
		cfg.Proxy.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Proxy.WriteTimeout == 0 {
		cfg.Proxy.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Proxy.IdleTimeout == 0 {
		cfg.Proxy.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Proxy.MaxHeaderBytes == 0 {
		cfg.Proxy.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Proxy.MaxBodyBytes == 0 {
		cfg.Proxy.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Proxy.TLS.MinVersion == "" {
		cfg.Proxy.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Proxy.TLS.ReloadInterval == 0 {
		cfg.Proxy.TLS.ReloadInterval = DefaultTLSReload
	}

	// Upstream defaults
	if cfg.Upstreams.OpenAI.BaseURL == "" {
		cfg.Upstreams.OpenAI.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Upstreams.OpenAI.Timeout == 0 {
		cfg.Upstreams.OpenAI.Timeout = DefaultUpstreamTimeout
	}
	if cfg.Upstreams.Gemini.BaseURL == "" {
		cfg.Upstreams.Gemini.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Upstreams.Gemini.Timeout == 0 {
		cfg.Upstreams.Gemini.Timeout = DefaultUpstreamTimeout
	}

	// Key pool defaults
	if cfg.KeyPool.StateKey == "" {
		cfg.KeyPool.StateKey = DefaultStateKey
	}
	if cfg.KeyPool.MaxAttempts == 0 {
		cfg.KeyPool.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.KeyPool.ResetSchedule == "" {
		cfg.KeyPool.ResetSchedule = DefaultResetSchedule
	}
	if cfg.KeyPool.ResetTimezone == "" {
		cfg.KeyPool.ResetTimezone = DefaultResetTimezone
	}
	if cfg.KeyPool.BookkeepingTimeout == 0 {
		cfg.KeyPool.BookkeepingTimeout = DefaultBookkeepingTimeout
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.Driver == "" {
		cfg.Storage.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.RequestDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.RequestDurationBuckets = append([]float64(nil), DefaultRequestDurationBuckets...)
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
}
