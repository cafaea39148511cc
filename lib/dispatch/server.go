// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/dircache/lib/directory"
)

// SessionFunc opens the directory session owned by one worker.
// Sessions that implement io.Closer are closed when the server stops.
type SessionFunc func(worker int) (directory.Session, error)

// ServerConfig configures a Server.
type ServerConfig struct {
	// SocketPath is where the listening socket is created. A stale
	// socket file is removed first.
	SocketPath string
	// SocketMode is applied to the socket file. Default: 0666, since
	// every local process resolves names through it.
	SocketMode os.FileMode
	// Workers is the number of connections served concurrently.
	// Default: 5.
	Workers int
	// Sessions opens one directory session per worker.
	Sessions   SessionFunc
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

// Server is the worker pool behind the name-service socket.
type Server struct {
	config ServerConfig
	ready  chan struct{}
	active atomic.Int64
}

// ServerStats describes the pool.
type ServerStats struct {
	Workers int   `json:"workers"`
	Active  int64 `json:"active"`
}

// NewServer validates config and returns a Server.
func NewServer(config ServerConfig) (*Server, error) {
	var errs []error
	if config.SocketPath == "" {
		errs = append(errs, errors.New("dispatch: SocketPath is required"))
	}
	if config.Sessions == nil {
		errs = append(errs, errors.New("dispatch: Sessions is required"))
	}
	if config.Dispatcher == nil {
		errs = append(errs, errors.New("dispatch: Dispatcher is required"))
	}
	if config.Logger == nil {
		errs = append(errs, errors.New("dispatch: Logger is required"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if config.SocketMode == 0 {
		config.SocketMode = 0o666
	}
	if config.Workers <= 0 {
		config.Workers = 5
	}
	return &Server{config: config, ready: make(chan struct{})}, nil
}

// Ready is closed once the socket is listening and every worker has
// its session.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Stats returns the pool size and the number of connections being
// served.
func (s *Server) Stats() ServerStats {
	return ServerStats{Workers: s.config.Workers, Active: s.active.Load()}
}

// Serve listens on the socket and runs the workers until ctx is
// cancelled. It waits for in-flight connections before returning and
// removes the socket file.
func (s *Server) Serve(ctx context.Context) error {
	sessions := make([]directory.Session, s.config.Workers)
	for worker := range sessions {
		session, err := s.config.Sessions(worker)
		if err != nil {
			closeSessions(sessions[:worker])
			return fmt.Errorf("opening directory session for worker %d: %w", worker, err)
		}
		sessions[worker] = session
	}
	defer closeSessions(sessions)

	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.config.SocketPath, err)
	}
	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.SocketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.config.SocketPath)
	}()
	if err := os.Chmod(s.config.SocketPath, s.config.SocketMode); err != nil {
		return fmt.Errorf("setting mode of %s: %w", s.config.SocketPath, err)
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.config.Logger.Info("name-service socket listening",
		"path", s.config.SocketPath,
		"workers", s.config.Workers,
	)
	close(s.ready)

	var workers sync.WaitGroup
	for worker, session := range sessions {
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.work(ctx, listener, worker, session)
		}()
	}
	workers.Wait()
	return nil
}

// work accepts and serves connections one at a time.
func (s *Server) work(ctx context.Context, listener net.Listener, worker int, session directory.Session) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.config.Logger.Error("accept failed", "worker", worker, "error", err)
			continue
		}
		s.active.Add(1)
		s.config.Dispatcher.ServeConn(ctx, conn, session)
		s.active.Add(-1)
	}
}

func closeSessions(sessions []directory.Session) {
	for _, session := range sessions {
		if closer, ok := session.(io.Closer); ok {
			closer.Close()
		}
	}
}
