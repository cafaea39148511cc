// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nssclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// DefaultTimeout bounds a whole request when the context has no
// deadline.
const DefaultTimeout = 30 * time.Second

// ErrUnexpectedResponse is returned when the daemon's reply does not
// follow the protocol.
var ErrUnexpectedResponse = errors.New("nssclient: unexpected response")

// Client sends requests to the name-service socket. Each request uses
// a new connection, as the NSS module does.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// New returns a client for the socket at socketPath.
func New(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: DefaultTimeout}
}

// Do sends action with the parameters written by encode, then calls
// decode once per result tuple. It returns the number of tuples.
// encode may be nil for enumerations.
func (c *Client) Do(ctx context.Context, action protocol.Action, encode func(*wire.Writer), decode func(*wire.Reader) error) (int, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return 0, fmt.Errorf("connecting to %s: %w", c.socketPath, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	writer := wire.NewWriter(conn)
	writer.Int32(protocol.Version)
	writer.Int32(int32(action))
	if encode != nil {
		encode(writer)
	}
	if err := writer.Flush(); err != nil {
		return 0, fmt.Errorf("%s: writing request: %w", action, err)
	}

	reader := wire.NewReader(conn)
	version := reader.Int32()
	echoed := protocol.Action(reader.Int32())
	if err := reader.Err(); err != nil {
		return 0, fmt.Errorf("%s: reading response header: %w", action, err)
	}
	if version != protocol.Version || echoed != action {
		return 0, fmt.Errorf("%w: header version %d action %s", ErrUnexpectedResponse, version, echoed)
	}

	count := 0
	for {
		marker := reader.Int32()
		if err := reader.Err(); err != nil {
			return count, fmt.Errorf("%s: reading result %d: %w", action, count, err)
		}
		switch marker {
		case protocol.ResultEnd:
			return count, nil
		case protocol.ResultBegin:
		default:
			return count, fmt.Errorf("%w: marker %d", ErrUnexpectedResponse, marker)
		}
		if err := decode(reader); err != nil {
			return count, err
		}
		if err := reader.Err(); err != nil {
			return count, fmt.Errorf("%s: decoding result %d: %w", action, count, err)
		}
		count++
	}
}
