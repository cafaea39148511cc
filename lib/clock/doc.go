// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable wall clock.
//
// Components that make decisions from the current time accept a Clock
// instead of calling time.Now: the directory connection uses it for
// its reconnect back-off window and the cache uses it to stamp rows.
// Tests pass a [FakeClock] and move time with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	conn, _ := directory.New(directory.Config{Clock: fake, ...})
//	fake.Advance(11 * time.Second) // past ReconnectRetry
//
// Timeouts on blocking operations use context deadlines, not this
// package.
package clock
