// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps passwords out of swap and core dumps.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into RAM with mlock and marks it MADV_DONTDUMP. Close zeros,
// unlocks and unmaps it. The garbage collector never sees the region,
// so it cannot leave copies behind.
//
// dircached loads ldap.bind_password_file into a Buffer with
// [ReadFromPath]; dircachectl auth reads the user's password into one
// before sending it to the daemon.
//
// Depends on golang.org/x/sys/unix.
package secret
