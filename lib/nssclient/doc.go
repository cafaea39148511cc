// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nssclient speaks the client side of the nslcd protocol.
//
// [Client.Do] sends one request and decodes each result tuple. On top
// of it, [Getent] resolves a database name and key the way getent(1)
// does and renders each entry as a getent line, and
// [Client.Authenticate] issues a PAM authentication request. dircachectl
// uses both to exercise a running daemon through the same socket the
// NSS and PAM modules use.
package nssclient
