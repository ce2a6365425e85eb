// Package storage provides durable key-value backends for key pool state.
//
// # Overview
//
// The key pool persists its complete state as a single JSON snapshot stored
// under one storage key. Backends only need get/put primitives:
//
//   - Memory: in-process map, lost on exit (tests, ephemeral deployments)
//   - SQLite: single-file persistence using either the pure Go driver
//     (modernc.org/sqlite, driver name "sqlite") or the cgo driver
//     (github.com/mattn/go-sqlite3, driver name "sqlite3")
//
// # Usage
//
//	backend, err := storage.NewSQLiteBackend("data/keypool.db")
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	err = backend.Put(ctx, "keyManagerState", snapshot)
//	value, ok, err := backend.Get(ctx, "keyManagerState")
//
// # Thread Safety
//
// All backends are safe for concurrent use. Writes to the same key are
// applied in call order.
package storage
