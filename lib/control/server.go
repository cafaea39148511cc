// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/dircache/lib/codec"
	"github.com/bureau-foundation/dircache/lib/netutil"
)

// ErrPermissionDenied is returned to callers of a privileged action
// who are neither root nor the daemon's uid.
var ErrPermissionDenied = errors.New("permission denied")

// Request is one decoded control request.
type Request struct {
	Action string
	// Peer is the calling process. UID is -1 when unknown.
	Peer netutil.Peer

	raw codec.RawMessage
}

// Decode unmarshals the action-specific fields of the request into v.
func (r *Request) Decode(v any) error {
	if err := codec.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("decoding %s request: %w", r.Action, err)
	}
	return nil
}

// ActionFunc processes one request. A nil result produces {ok: true}
// with no data; a non-nil result is CBOR-encoded into the response's
// Data field.
type ActionFunc func(ctx context.Context, request *Request) (any, error)

// Response is the wire envelope of every control response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

type action struct {
	handler    ActionFunc
	privileged bool
}

// Server serves the control protocol on a Unix socket. Register
// actions before calling Serve.
type Server struct {
	socketPath string
	mode       os.FileMode
	actions    map[string]action
	logger     *slog.Logger

	// ownerUID is the uid, besides root, allowed to call privileged
	// actions.
	ownerUID int64

	// activeConnections lets Serve wait for in-flight handlers.
	activeConnections sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath and chmod
// the socket to mode.
func NewServer(socketPath string, mode os.FileMode, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		mode:       mode,
		actions:    make(map[string]action),
		logger:     logger,
		ownerUID:   int64(os.Getuid()),
	}
}

// Handle registers an action any caller may invoke. Panics if the
// action is already registered.
func (s *Server) Handle(name string, handler ActionFunc) {
	s.register(name, action{handler: handler})
}

// HandlePrivileged registers an action restricted to root and the
// daemon's uid. Panics if the action is already registered.
func (s *Server) HandlePrivileged(name string, handler ActionFunc) {
	s.register(name, action{handler: handler, privileged: true})
}

func (s *Server) register(name string, registered action) {
	if _, exists := s.actions[name]; exists {
		panic(fmt.Sprintf("control.Server: duplicate handler for action %q", name))
	}
	s.actions[name] = registered
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight handlers. A stale socket file is removed before listening
// and the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()
	if err := os.Chmod(s.socketPath, s.mode); err != nil {
		return fmt.Errorf("setting mode of %s: %w", s.socketPath, err)
	}

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("control socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long a client has to send its request after
// connecting.
const readTimeout = 30 * time.Second

const writeTimeout = 10 * time.Second

// maxRequestSize bounds a single request. Invalidate requests carry
// at most a handful of kind names.
const maxRequestSize = 64 * 1024

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	registered, exists := s.actions[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	peer, err := netutil.PeerCredentials(conn)
	if err != nil {
		s.logger.Debug("peer credentials unavailable", "error", err)
	}
	if registered.privileged && !s.allowed(peer) {
		s.logger.Warn("privileged control action refused",
			"action", header.Action,
			"peer_uid", peer.UID,
			"peer_pid", peer.PID,
		)
		s.writeError(conn, fmt.Sprintf("%s: %v", header.Action, ErrPermissionDenied))
		return
	}

	result, err := registered.handler(ctx, &Request{Action: header.Action, Peer: peer, raw: raw})
	if err != nil {
		s.logger.Debug("control action failed",
			"action", header.Action,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

func (s *Server) allowed(peer netutil.Peer) bool {
	return peer.UID == 0 || (peer.UID >= 0 && peer.UID == s.ownerUID)
}

// writeError sends {ok: false, error: message}. Write failures are
// logged at debug level since the connection closes either way.
func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
