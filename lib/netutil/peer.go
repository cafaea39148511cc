// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Peer identifies the process on the other end of a connection.
type Peer struct {
	PID int32
	UID int64
	GID int64
}

// UnknownPeer is returned when credentials cannot be read. A uid of -1 is
// never treated as root.
var UnknownPeer = Peer{PID: -1, UID: -1, GID: -1}

// PeerCredentials reads SO_PEERCRED from a Unix socket connection. On
// failure it returns UnknownPeer with the error.
func PeerCredentials(conn net.Conn) (Peer, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return UnknownPeer, fmt.Errorf("peer credentials need a unix socket, got %T", conn)
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return UnknownPeer, fmt.Errorf("getting raw connection: %w", err)
	}

	var credentials *unix.Ucred
	var credentialsErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return UnknownPeer, fmt.Errorf("controlling raw connection: %w", err)
	}
	if credentialsErr != nil {
		return UnknownPeer, fmt.Errorf("reading SO_PEERCRED: %w", credentialsErr)
	}
	return Peer{
		PID: credentials.Pid,
		UID: int64(credentials.Uid),
		GID: int64(credentials.Gid),
	}, nil
}
