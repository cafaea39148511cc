// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the dircached administrative socket.
//
// The protocol is one CBOR request and one CBOR response per
// connection. A request is a map with an "action" key and any
// action-specific fields; the response is a [Response] envelope whose
// Data holds the action's result.
//
// Callers are identified by SO_PEERCRED. Actions registered with
// [Server.HandlePrivileged] are refused unless the caller is root or
// runs as the daemon's own uid; read-only actions registered with
// [Server.Handle] are open to anyone who can reach the socket.
//
// [Client] is the matching client used by dircachectl.
package control
