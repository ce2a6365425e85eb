// Package config provides configuration management for the proxy.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file (or defaults when path is empty) with environment
//     variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GEMINI_PROXY_SECTION_FIELD:
//
//   - GEMINI_PROXY_PROXY_LISTEN_ADDRESS overrides proxy.listen_address
//   - GEMINI_PROXY_KEYPOOL_API_KEYS overrides keypool.api_keys
//   - GEMINI_PROXY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//   - GEMINI_PROXY_PROXY_TLS_CERT_FILE overrides proxy.tls.cert_file
//
// The variables of earlier single-binary deployments are still honored when
// the prefixed name is unset: API_KEYS, PROXY_API_KEY, OPENAI_UPSTREAM_URL
// and GEMINI_UPSTREAM_URL.
//
// # Hot Reload
//
// Watcher observes the configuration file and publishes each successfully
// reloaded Config. The shared secret (proxy.api_key) and the log level take
// effect without a restart; everything else requires one.
//
// # Example Configuration
//
//	proxy:
//	  listen_address: "0.0.0.0:8080"
//	  api_key: "shared-secret"
//	upstreams:
//	  gemini:
//	    base_url: "https://generativelanguage.googleapis.com/v1beta"
//	keypool:
//	  api_keys: "AIza...1,AIza...2"
//	  reset_schedule: "0 7 * * *"
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: data/keypool.db
package config
