// Package health provides the liveness and readiness endpoints.
//
//   - /health: the process is running
//   - /ready: every registered check passes, e.g. the key pool snapshot can
//     be loaded from storage
//
// Checks run concurrently, each bounded by the checker timeout:
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("keypool", func(ctx context.Context) (string, error) {
//	    n, err := pool.Size(ctx)
//	    return fmt.Sprintf("%d keys", n), err
//	})
//	mux.HandleFunc("/ready", checker.ReadinessHandler())
package health
