// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"

	"github.com/bureau-foundation/dircache/lib/control"
	"github.com/bureau-foundation/dircache/lib/version"
)

var (
	errCacheDisabled        = errors.New("the cache is disabled")
	errInvalidationDisabled = errors.New("invalidation is disabled")
)

// registerActions wires the control socket. status and cache-stats
// reveal only counters; invalidate and flush change daemon state.
func (d *Daemon) registerActions(server *control.Server) {
	server.Handle(control.ActionStatus, d.handleStatus)
	server.Handle(control.ActionCacheStats, d.handleCacheStats)
	server.HandlePrivileged(control.ActionInvalidate, d.handleInvalidate)
	server.HandlePrivileged(control.ActionFlush, d.handleFlush)
}

func (d *Daemon) handleStatus(ctx context.Context, request *control.Request) (any, error) {
	return control.Status{
		Version:       version.UserAgent("dircached"),
		UptimeSeconds: int64(d.clock.Now().Sub(d.startedAt).Seconds()),
		CacheEnabled:  d.cache != nil,
		Server:        d.server.Stats(),
		Dispatcher:    d.dispatcher.Stats(),
	}, nil
}

func (d *Daemon) handleCacheStats(ctx context.Context, request *control.Request) (any, error) {
	if d.cache == nil {
		return nil, errCacheDisabled
	}
	tables, err := d.cache.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return control.CacheStats{Tables: tables}, nil
}

// handleInvalidate queues invalidation of the system cache databases
// behind the requested kinds, or behind every kind when none are named.
func (d *Daemon) handleInvalidate(ctx context.Context, request *control.Request) (any, error) {
	if d.invalidator == nil {
		return nil, errInvalidationDisabled
	}
	var fields control.InvalidateRequest
	if err := request.Decode(&fields); err != nil {
		return nil, err
	}
	kinds := fields.Kinds
	if len(kinds) == 0 {
		for _, kind := range d.registry.Kinds() {
			kinds = append(kinds, kind.Name)
		}
	}
	databases, err := databasesFor(d.registry, kinds)
	if err != nil {
		return nil, err
	}
	d.invalidator.Notify(databases...)
	d.logger.Info("invalidation requested",
		"databases", databases,
		"peer_uid", request.Peer.UID,
	)
	return control.InvalidateResult{Databases: databases}, nil
}

// handleFlush returns once every live result received so far has been
// written to the cache.
func (d *Daemon) handleFlush(ctx context.Context, request *control.Request) (any, error) {
	if d.writer == nil {
		return nil, errCacheDisabled
	}
	return nil, d.writer.Flush(ctx)
}
