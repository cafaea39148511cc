// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/directory"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// Record is one response tuple. Write emits the BEGIN marker and the
// kind's fields; a record may expand to several tuples (netgroups).
type Record interface {
	Write(w *wire.Writer)
}

// Query is a decoded request.
type Query struct {
	// Search holds directory-side parameters, used to build the filter
	// and drive the validation rules.
	Search search.Parameters
	// Cache holds record-side parameters for cache retrieval. These
	// differ from Search when output values are transformed (uid
	// offsets, address normalization).
	Cache map[string]string
	// Filter replaces the generated search filter when set.
	Filter string

	// Request fields that are not lookup parameters.
	values map[string]string
}

// sameParameters builds a query whose search and cache parameters are
// identical.
func sameParameters(parameters map[string]string) Query {
	return Query{Search: parameters, Cache: parameters}
}

// Env carries the per-request context a handler needs.
type Env struct {
	Session directory.Session
	// CallerUID is the peer's uid, or -1 when unknown.
	CallerUID int64
	Logger    *slog.Logger
}

// Kind is one record kind: how to search for it, convert it, and cache
// it.
type Kind struct {
	// Name is the kind's configuration name, e.g. "passwd".
	Name string
	// Database is the system name-service cache database this kind
	// belongs to, or "" when it has none.
	Database string
	// Definition is the configured search definition.
	Definition *search.Definition
	// Schema describes the kind's cache tables.
	Schema *cache.Schema

	convert func(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record
	decode  func(record cache.Record) (Record, error)
	options *Options
}

// Convert expands one validated search result into records.
func (k *Kind) Convert(result search.Result, query Query, logger *slog.Logger) []Record {
	return k.convert(k, result, query, logger)
}

// Encode returns the cache representation of a record produced by this
// kind.
func (k *Kind) Encode(record Record) (cache.Record, error) {
	cacheable, ok := record.(interface{ cacheRecord() cache.Record })
	if !ok {
		return cache.Record{}, fmt.Errorf("nss: %s: record type %T is not cacheable", k.Name, record)
	}
	return cacheable.cacheRecord(), nil
}

// Decode rebuilds a record from its cache representation.
func (k *Kind) Decode(record cache.Record) (Record, error) {
	decoded, err := k.decode(record)
	if err != nil {
		return nil, fmt.Errorf("nss: %s: decoding cached record: %w", k.Name, err)
	}
	return decoded, nil
}

// mapping reports the configured mapping source for a logical name,
// used by converters whose behaviour depends on the configured
// attribute (Active Directory pwdLastSet).
func (k *Kind) mapping(name string) (attmap.Mapping, bool) {
	return k.Definition.Map.Mapping(name)
}

// Handler answers one protocol action.
type Handler struct {
	Action protocol.Action
	// Kind is nil for actions that are not backed by a cached record
	// kind.
	Kind *Kind

	enumerate bool
	options   *Options
	read      func(r *wire.Reader) (Query, error)
	lookup    func(ctx context.Context, env *Env, query Query, emit func(Record) error) error
	shape     func(env *Env, query Query, record Record) (Record, bool)
}

// Read decodes the request parameters that follow the action code.
func (h *Handler) Read(r *wire.Reader) (Query, error) {
	query, err := h.read(r)
	if err == nil {
		err = r.Err()
	}
	if err != nil {
		return Query{}, fmt.Errorf("%s: reading request: %w", h.Action, err)
	}
	return query, nil
}

// Disabled reports whether the action is an enumeration and
// enumeration is turned off.
func (h *Handler) Disabled() bool {
	return h.enumerate && h.options.DisableEnumeration
}

// Lookup produces live records for query, unshaped. A connectivity
// error from the directory is returned wrapped so callers can match it
// with [directory.IsConnectivity].
func (h *Handler) Lookup(ctx context.Context, env *Env, query Query, emit func(Record) error) error {
	if h.Disabled() {
		return nil
	}
	if h.lookup != nil {
		return h.lookup(ctx, env, query, emit)
	}
	return search.Run(ctx, env.Session, h.Kind.Definition, search.Query{
		Parameters: query.Search,
		Filter:     query.Filter,
	}, env.Logger, func(result search.Result) error {
		for _, record := range h.Kind.Convert(result, query, env.Logger) {
			if err := emit(record); err != nil {
				return err
			}
		}
		return nil
	})
}

// Cached produces records for query from the cache, unshaped.
func (h *Handler) Cached(ctx context.Context, table *cache.Table, query Query, emit func(Record) error) error {
	if h.Kind == nil || table == nil || h.Disabled() {
		return nil
	}
	return table.Retrieve(ctx, query.Cache, func(stored cache.Record) error {
		record, err := h.Kind.Decode(stored)
		if err != nil {
			return err
		}
		return emit(record)
	})
}

// Shape applies per-caller adjustments to a record about to be
// written. It reports false when the record must not be sent.
func (h *Handler) Shape(env *Env, query Query, record Record) (Record, bool) {
	if h.shape == nil {
		return record, true
	}
	return h.shape(env, query, record)
}
