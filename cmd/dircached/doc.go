// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Dircached answers name-service and PAM lookups from an LDAP
// directory on the nslcd socket, so existing NSS and PAM modules can
// use it unchanged.
//
// Every successful lookup is mirrored into an SQLite cache. While no
// directory server is reachable, lookups are answered from that cache
// instead, so logins and ownership lookups keep working through an
// outage.
//
// # Configuration
//
// The daemon reads one YAML (or JSONC) file named by --config or the
// DIRCACHE_CONFIG environment variable. See package lib/config for the
// keys. --check loads and validates the file, builds every search
// definition, and exits without opening any socket.
//
// # Sockets
//
// server.socket is the nslcd protocol socket (mode server.socket_mode,
// 0666 by default). server.control_socket is a CBOR socket for
// dircachectl: status and cache-stats are open to every local user;
// invalidate and flush require root or the daemon's own uid.
//
// # Shutdown
//
// SIGINT and SIGTERM stop accepting connections, let in-flight
// requests finish, drain the cache writer, and exit.
package main
