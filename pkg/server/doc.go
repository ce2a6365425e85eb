// Package server assembles the proxy into a runnable HTTP server.
//
// # Routes
//
//	GET  /health       liveness
//	GET  /ready        readiness; loads the key pool and reports its size
//	GET  /model_usage  per-key usage and exhaustion, keys masked
//	GET  /metrics      Prometheus metrics (when enabled)
//	*    /             everything else is proxied upstream
//
// Every route is wrapped in recovery, request ID, logging and trace
// context extraction middleware.
//
// # Basic Usage
//
//	backend, err := storage.Open(cfg.Storage)
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	pool := keypool.New(backend, keypool.ParseKeys(cfg.KeyPool.APIKeys))
//	srv, err := server.New(cfg, server.Options{Pool: pool})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
//
// With proxy.tls.enabled the listener serves HTTPS. The certificate is
// loaded at Start and re-read when its files change.
//
// Start blocks until ctx is cancelled. Shutdown then waits for in-flight
// requests, stops the daily reset scheduler and waits for background key
// pool updates before returning.
package server
