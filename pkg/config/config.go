package config

import "time"

// Config is the root configuration structure for the proxy.
type Config struct {
	// Proxy contains HTTP server configuration including listen address,
	// timeouts, and the shared client secret.
	Proxy ProxyConfig `yaml:"proxy"`

	// Upstreams contains the base URLs of the upstream API families.
	Upstreams UpstreamsConfig `yaml:"upstreams"`

	// KeyPool contains the credential pool and its retry behavior.
	KeyPool KeyPoolConfig `yaml:"keypool"`

	// Storage selects where the pool snapshot is persisted.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProxyConfig contains configuration for the HTTP server.
type ProxyConfig struct {
	// ListenAddress is the address and port for the proxy to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Streaming generations can run for minutes, so keep it long.
	// Default: 10m
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown, including draining pending
	// key pool bookkeeping.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits the buffered request body. Larger requests are
	// rejected with 413.
	// Default: 33554432 (32MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// APIKey is the shared secret that enables pooled mode. When empty every
	// request is forwarded with the caller's own credential.
	// Legacy environment variable: PROXY_API_KEY
	APIKey string `yaml:"api_key"`

	// TLS serves the proxy over HTTPS when enabled.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains server-side TLS settings.
type TLSConfig struct {
	// Enabled serves HTTPS instead of plain HTTP.
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM-encoded certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum TLS version to accept ("1.2" or "1.3").
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts TLS 1.2 cipher suites. Empty uses Go's defaults.
	CipherSuites []string `yaml:"cipher_suites"`

	// ReloadInterval is how often the certificate files are checked for
	// changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// UpstreamsConfig contains the upstream API endpoints.
type UpstreamsConfig struct {
	// OpenAI is the OpenAI-style upstream.
	OpenAI UpstreamConfig `yaml:"openai"`

	// Gemini is the Gemini-style upstream.
	Gemini UpstreamConfig `yaml:"gemini"`
}

// UpstreamConfig contains configuration for one upstream API family.
type UpstreamConfig struct {
	// BaseURL is prepended to the request path.
	// Example: "https://api.openai.com/v1"
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single upstream attempt including the response body.
	// Zero means no timeout.
	// Default: 5m
	Timeout time.Duration `yaml:"timeout"`
}

// KeyPoolConfig contains the credential pool configuration.
type KeyPoolConfig struct {
	// APIKeys is the comma-separated list of upstream keys. It seeds the pool
	// only when storage holds no snapshot.
	// Legacy environment variable: API_KEYS
	APIKeys string `yaml:"api_keys"`

	// StateKey is the storage key of the pool snapshot.
	// Default: "keyManagerState"
	StateKey string `yaml:"state_key"`

	// MaxAttempts bounds key rotations per pooled request.
	// Default: 5
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the fixed pause after an upstream 429 before the next key
	// is tried. An explicit 0 retries immediately.
	// Default: 100ms
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ResetSchedule is the cron expression of the daily exhaustion reset.
	// Default: "0 7 * * *"
	ResetSchedule string `yaml:"reset_schedule"`

	// ResetTimezone is the IANA zone ResetSchedule is evaluated in.
	// Default: "UTC"
	ResetTimezone string `yaml:"reset_timezone"`

	// BookkeepingTimeout bounds background exhaustion and usage updates.
	// Default: 10s
	BookkeepingTimeout time.Duration `yaml:"bookkeeping_timeout"`
}

// StorageConfig selects the pool snapshot backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig contains SQLite storage configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/keypool.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// WALMode enables Write-Ahead Logging mode.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait for a lock before failing.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "gemini_proxy"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets defines histogram buckets for request duration (seconds).
	// Default: [0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "gemini-proxy"
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Insecure disables TLS for the collector connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout bounds exporter startup and flushes.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
