// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Dircachectl inspects and controls a running dircached.
//
// status, cache-stats, invalidate, flush and call talk to the daemon's
// CBOR control socket. getent and auth speak the nslcd protocol on the
// name-service socket, exactly as the NSS and PAM modules do, so they
// show what a login would see:
//
//	dircachectl getent passwd alice
//	dircachectl getent services 22/tcp
//	dircachectl auth alice
//
// getent exits with status 2 when a keyed lookup finds nothing, as
// getent(1) does.
package main
