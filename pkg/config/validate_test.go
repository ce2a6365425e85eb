package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(NewDefault()); err != nil {
		t.Fatalf("Expected defaults to be valid, got %v", err)
	}
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{
			name:   "empty listen address",
			modify: func(c *Config) { c.Proxy.ListenAddress = "" },
			field:  "proxy.listen_address",
		},
		{
			name:   "negative read timeout",
			modify: func(c *Config) { c.Proxy.ReadTimeout = -1 },
			field:  "proxy.read_timeout",
		},
		{
			name:   "negative body limit",
			modify: func(c *Config) { c.Proxy.MaxBodyBytes = -1 },
			field:  "proxy.max_body_bytes",
		},
		{
			name: "tls without cert",
			modify: func(c *Config) {
				c.Proxy.TLS.Enabled = true
				c.Proxy.TLS.KeyFile = "server.key"
			},
			field: "proxy.tls.cert_file",
		},
		{
			name: "tls bad version",
			modify: func(c *Config) {
				c.Proxy.TLS = TLSConfig{Enabled: true, CertFile: "a", KeyFile: "b", MinVersion: "1.0"}
			},
			field: "proxy.tls.min_version",
		},
		{
			name:   "non-http upstream",
			modify: func(c *Config) { c.Upstreams.Gemini.BaseURL = "ftp://example.com" },
			field:  "upstreams.gemini.base_url",
		},
		{
			name:   "zero attempts",
			modify: func(c *Config) { c.KeyPool.MaxAttempts = 0 },
			field:  "keypool.max_attempts",
		},
		{
			name:   "bad cron",
			modify: func(c *Config) { c.KeyPool.ResetSchedule = "every day" },
			field:  "keypool.reset_schedule",
		},
		{
			name:   "bad timezone",
			modify: func(c *Config) { c.KeyPool.ResetTimezone = "Mars/Olympus" },
			field:  "keypool.reset_timezone",
		},
		{
			name:   "unknown backend",
			modify: func(c *Config) { c.Storage.Backend = "redis" },
			field:  "storage.backend",
		},
		{
			name:   "unknown sqlite driver",
			modify: func(c *Config) { c.Storage.SQLite.Driver = "pg" },
			field:  "storage.sqlite.driver",
		},
		{
			name:   "bad log level",
			modify: func(c *Config) { c.Telemetry.Logging.Level = "loud" },
			field:  "telemetry.logging.level",
		},
		{
			name:   "bad sample ratio",
			modify: func(c *Config) { c.Telemetry.Tracing.SampleRatio = 2 },
			field:  "telemetry.tracing.sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.modify(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}

			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected error for %s, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := NewDefault()
	cfg.Proxy.ListenAddress = ""
	cfg.KeyPool.MaxAttempts = 0
	cfg.Storage.Backend = "redis"

	err := Validate(cfg)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("Expected 3 errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
	if !strings.Contains(err.Error(), "3 errors") {
		t.Errorf("Expected summary in message, got %s", err.Error())
	}
}

func TestValidate_MemoryBackendIgnoresSQLite(t *testing.T) {
	cfg := NewDefault()
	cfg.Storage.Backend = "memory"
	cfg.Storage.SQLite.Driver = "anything"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected sqlite settings to be ignored for memory backend, got %v", err)
	}
}
