// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/dispatch"
)

// Action names understood by dircached.
const (
	ActionStatus     = "status"
	ActionCacheStats = "cache-stats"
	ActionInvalidate = "invalidate"
	ActionFlush      = "flush"
)

// Status is the result of ActionStatus.
type Status struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	CacheEnabled  bool   `json:"cache_enabled"`

	Server     dispatch.ServerStats `json:"server"`
	Dispatcher dispatch.Stats       `json:"dispatcher"`
}

// CacheStats is the result of ActionCacheStats.
type CacheStats struct {
	Tables []cache.Stats `json:"tables"`
}

// InvalidateRequest names the kinds whose system cache entries should
// be dropped. An empty list means every kind that has a system cache.
type InvalidateRequest struct {
	Kinds []string `cbor:"kinds"`
}

// InvalidateResult lists the databases queued for invalidation.
type InvalidateResult struct {
	Databases []string `json:"databases"`
}
