// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens pooled SQLite connections for the lookup
// cache.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, use it, and [Pool.Put] it back; a connection belongs to
// one goroutine at a time. Every connection gets the same pragmas:
//
//   - journal_mode=WAL: readers and the single writer do not block
//     each other, so workers answering from the cache are never stalled
//     by the background cache writer.
//   - synchronous=NORMAL: commits survive a daemon crash. A power loss
//     may lose the last transactions, which the next live lookup
//     rewrites anyway.
//   - busy_timeout=5000: wait up to five seconds for the write lock.
//   - foreign_keys: OFF unless [Config.ForeignKeys] is set. The cache
//     relies on ON DELETE CASCADE between header and child tables and
//     turns it on.
//   - cache_size=-8192, mmap_size=256MiB, temp_store=MEMORY.
//
// Usage:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:        "/var/cache/dircache/cache.db",
//	    ForeignKeys: true,
//	    Logger:      logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
package sqlitepool
