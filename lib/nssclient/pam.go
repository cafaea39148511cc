// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nssclient

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// AuthResult is the daemon's answer to a PAM authentication request.
type AuthResult struct {
	Username string
	DN       string
	Authc    protocol.PAMStatus
	Authz    protocol.PAMStatus
	Message  string
}

// Authenticate asks the daemon to verify password for username on
// behalf of the PAM service. password is sent as-is and not retained.
func (c *Client) Authenticate(ctx context.Context, username, service string, password []byte) (AuthResult, error) {
	var result AuthResult
	count, err := c.Do(ctx, protocol.ActionPAMAuthc,
		func(w *wire.Writer) {
			w.String(username)
			w.String("")
			w.String(service)
			w.Bytes(password)
		},
		func(r *wire.Reader) error {
			result = AuthResult{
				Username: r.String(),
				DN:       r.String(),
				Authc:    protocol.PAMStatus(r.Int32()),
				Authz:    protocol.PAMStatus(r.Int32()),
				Message:  r.String(),
			}
			return nil
		})
	if err != nil {
		return AuthResult{}, err
	}
	if count != 1 {
		return AuthResult{}, fmt.Errorf("%w: %d authentication results", ErrUnexpectedResponse, count)
	}
	return result, nil
}
