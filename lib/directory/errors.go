// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"errors"
	"net"

	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrUnavailable reports that no directory server could be
	// reached, or the connection failed mid-operation.
	ErrUnavailable = errors.New("directory unavailable")

	// ErrNoSuchObject reports that the search base does not exist.
	ErrNoSuchObject = errors.New("no such object")
)

// connectivityCodes are result codes that indicate the server (or the
// path to it) is unusable rather than answering the request.
var connectivityCodes = []uint16{
	ldap.ErrorNetwork,
	ldap.LDAPResultBusy,
	ldap.LDAPResultUnavailable,
}

// IsConnectivity reports whether err means the directory could not be
// reached.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if ldap.IsErrorAnyOf(err, connectivityCodes...) {
		return true
	}
	var netError net.Error
	return errors.As(err, &netError)
}

func isNoSuchObject(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject)
}
