// Package keypool implements the credential pool admission controller.
//
// # Overview
//
// A Pool owns an ordered list of upstream API keys, the set of models each
// key is currently exhausted for, per-model usage counters, and a rotation
// cursor. It hands out keys round-robin, skipping keys exhausted for the
// requested model:
//
//	pool := keypool.New(backend, keypool.ParseKeys(cfg.KeyPool.APIKeys))
//
//	lease, err := pool.Acquire(ctx, "gemini-pro")
//	switch {
//	case errors.Is(err, keypool.ErrExhausted):
//	    // every key is rate limited for this model
//	case errors.Is(err, keypool.ErrNotConfigured):
//	    // no keys at all
//	}
//
//	// upstream answered 429
//	_ = pool.MarkExhausted(ctx, lease.Key, "gemini-pro", body)
//
// # Persistence
//
// The full pool (records and cursor) is saved as one JSON snapshot after
// every mutating operation. On first use the snapshot is loaded; when none
// exists the pool is seeded from the configured key list and that seed is
// saved immediately.
//
// # Thread Safety
//
// Every operation runs under a single mutex, so operations never observe a
// partially applied mutation. Mutations are computed on a copy and only
// become visible once the snapshot has been written.
package keypool
