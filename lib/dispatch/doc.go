// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch answers name-service requests on the nslcd Unix
// socket.
//
// A [Server] runs a fixed pool of workers that share one listening
// socket. Each worker owns one directory session and serves one
// connection at a time, so a hung directory search stalls a single
// worker and never the pool.
//
// A [Dispatcher] handles the requests on one connection. For each
// request it reads the version and action, decodes the parameters with
// the action's [nss.Handler], and runs the live lookup. Live records
// are collected before anything is written. When the lookup succeeds
// they are shaped for the caller, written, and mirrored into the cache
// in the background. When the directory is unreachable the response is
// built from the cache instead, so a response never mixes live and
// cached records. Every answered request ends with the END marker.
//
// A request with the wrong version or an unknown action gets no
// response; the connection stays open for the next request.
package dispatch
