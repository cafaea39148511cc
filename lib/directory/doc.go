// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory is the LDAP client used by the lookup engine.
//
// A [Conn] owns at most one live connection to a directory server. It
// connects lazily, trying each configured URI in order, and after a
// connectivity failure drops the connection and reconnects on the next
// operation. A failed operation is retried once on a fresh connection
// before the failure is reported.
//
// Errors are classified for callers: [ErrUnavailable] means the server
// could not be reached (the caller may fall back to cached data),
// [ErrNoSuchObject] means the search base does not exist. Every other
// error is a well-formed server answer.
//
// The OnConnect callback fires after the first successful search and
// after the first successful search following a connectivity failure.
// The daemon uses it to invalidate the system name-service cache.
//
// A Conn is not shared between workers; each worker owns one.
package directory
