// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nss declares the record kinds served by the daemon and the
// protocol actions that query them.
//
// Each [Kind] bundles a search definition (filter, attribute map,
// validation rules), a converter that turns one validated search result
// into output records, and a cache schema with the matching
// encode/decode pair. Each [Handler] binds one protocol action to a
// kind: it decodes the request parameters, runs the live lookup, reads
// the cached fallback, and applies per-caller shaping to every record
// before it reaches the wire.
//
// Records are cached exactly as converted. Shaping (hiding password
// hashes from unprivileged callers, the minimum uid floor, trimming
// member lists) happens on the way out, so live and cached responses
// for the same request are identical.
//
// The [Registry] is built once at startup from [Options]. Attribute
// mapping overrides that fail to parse, or that leave a validation rule
// pointing at an unmapped name, are reported by [NewRegistry] and must
// stop the daemon from starting.
package nss
