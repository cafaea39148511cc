// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/bureau-foundation/dircache/lib/directory"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/testutil"
	"github.com/bureau-foundation/dircache/lib/wire"
)

type closingSession struct {
	*fakeSession
	closed chan int
	worker int
}

func (c *closingSession) Close() error {
	c.closed <- c.worker
	return nil
}

func startServer(t *testing.T, f *fixture, workers int) (string, *Server, chan int) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "nslcd.sock")
	closed := make(chan int, workers)
	server, err := NewServer(ServerConfig{
		SocketPath: socketPath,
		Workers:    workers,
		Sessions: func(worker int) (directory.Session, error) {
			return &closingSession{fakeSession: f.session, closed: closed, worker: worker}, nil
		},
		Dispatcher: f.dispatcher,
		Logger:     discard(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, served, 5*time.Second, "server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")
	return socketPath, server, closed
}

func dial(t *testing.T, socketPath string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dialing %s: %v", socketPath, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:realclock socket deadline
	return conn
}

// readResponse reads one complete passwd response from the stream.
func readPasswdResponse(t *testing.T, r *wire.Reader, action protocol.Action) []string {
	t.Helper()
	if version := r.Int32(); version != protocol.Version {
		t.Fatalf("response version = %d (%v)", version, r.Err())
	}
	if got := protocol.Action(r.Int32()); got != action {
		t.Fatalf("response action = %s, want %s", got, action)
	}
	var names []string
	for r.Int32() == protocol.ResultBegin {
		names = append(names, r.String())
		r.String()
		r.Int32()
		r.Int32()
		r.String()
		r.String()
		r.String()
	}
	if r.Err() != nil {
		t.Fatalf("reading response: %v", r.Err())
	}
	return names
}

func TestServerAnswersSequentialRequests(t *testing.T) {
	f := newFixture(t, false)
	socketPath, _, _ := startServer(t, f, 2)
	conn := dial(t, socketPath)
	w := wire.NewWriter(conn)
	r := wire.NewReader(conn)

	// A request with a bad version gets no answer; the connection
	// stays usable.
	w.Int32(1)
	w.Int32(protocol.Version)
	w.Int32(int32(protocol.ActionPasswdByName))
	w.String("alice")
	if err := w.Flush(); err != nil {
		t.Fatalf("writing: %v", err)
	}
	if names := readPasswdResponse(t, r, protocol.ActionPasswdByName); !reflect.DeepEqual(names, []string{"alice"}) {
		t.Errorf("names = %v, want [alice]", names)
	}

	// So does an unknown action.
	w.Int32(protocol.Version)
	w.Int32(0x7fff0001)
	w.Int32(protocol.Version)
	w.Int32(int32(protocol.ActionPasswdAll))
	if err := w.Flush(); err != nil {
		t.Fatalf("writing: %v", err)
	}
	if names := readPasswdResponse(t, r, protocol.ActionPasswdAll); !reflect.DeepEqual(names, []string{"alice", "bob"}) {
		t.Errorf("names = %v, want [alice bob]", names)
	}
}

func TestServerSkipsRejectedRequestParameters(t *testing.T) {
	f := newFixture(t, false)
	socketPath, _, _ := startServer(t, f, 1)
	conn := dial(t, socketPath)
	w := wire.NewWriter(conn)
	r := wire.NewReader(conn)

	// An unknown alias action carrying a string, then a valid request
	// in the same write.
	w.Int32(protocol.Version)
	w.Int32(0x00020099)
	w.String("abc")
	w.Int32(protocol.Version)
	w.Int32(int32(protocol.ActionPasswdAll))
	// A bad version followed by parameters.
	w.Int32(7)
	w.Int32(int32(protocol.ActionPasswdByName))
	w.StringList([]string{"x", "y"})
	w.Int32(protocol.Version)
	w.Int32(int32(protocol.ActionPasswdByName))
	w.String("bob")
	if err := w.Flush(); err != nil {
		t.Fatalf("writing: %v", err)
	}

	if names := readPasswdResponse(t, r, protocol.ActionPasswdAll); !reflect.DeepEqual(names, []string{"alice", "bob"}) {
		t.Errorf("names = %v, want [alice bob]", names)
	}
	if names := readPasswdResponse(t, r, protocol.ActionPasswdByName); !reflect.DeepEqual(names, []string{"bob"}) {
		t.Errorf("names = %v, want [bob]", names)
	}
}

func TestServerClosesOnClientEOF(t *testing.T) {
	f := newFixture(t, false)
	socketPath, _, _ := startServer(t, f, 1)
	conn := dial(t, socketPath)
	conn.(*net.UnixConn).CloseWrite()

	buffer := make([]byte, 1)
	if _, err := conn.Read(buffer); !errors.Is(err, io.EOF) {
		t.Errorf("read after half-close = %v, want EOF", err)
	}

	// The single worker is free again.
	second := dial(t, socketPath)
	w := wire.NewWriter(second)
	w.Int32(protocol.Version)
	w.Int32(int32(protocol.ActionPasswdByName))
	w.String("bob")
	w.Flush()
	if names := readPasswdResponse(t, wire.NewReader(second), protocol.ActionPasswdByName); !reflect.DeepEqual(names, []string{"bob"}) {
		t.Errorf("names = %v, want [bob]", names)
	}
}

func TestServerSocketMode(t *testing.T) {
	f := newFixture(t, false)
	socketPath, server, _ := startServer(t, f, 3)
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o666 {
		t.Errorf("socket mode = %v, want 0666", info.Mode().Perm())
	}
	if stats := server.Stats(); stats.Workers != 3 || stats.Active != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestServerShutdownClosesSessions(t *testing.T) {
	f := newFixture(t, false)
	socketPath := filepath.Join(testutil.SocketDir(t), "nslcd.sock")
	closed := make(chan int, 2)
	server, err := NewServer(ServerConfig{
		SocketPath: socketPath,
		Workers:    2,
		Sessions: func(worker int) (directory.Session, error) {
			return &closingSession{fakeSession: f.session, closed: closed, worker: worker}, nil
		},
		Dispatcher: f.dispatcher,
		Logger:     discard(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	// An idle connection must not hold up shutdown.
	dial(t, socketPath)
	cancel()
	if err := testutil.RequireReceive(t, served, 5*time.Second, "server shutdown"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	for range 2 {
		testutil.RequireReceive(t, closed, 5*time.Second, "session close")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present: %v", err)
	}
}

func TestServerSessionFailure(t *testing.T) {
	f := newFixture(t, false)
	server, err := NewServer(ServerConfig{
		SocketPath: filepath.Join(testutil.SocketDir(t), "nslcd.sock"),
		Workers:    2,
		Sessions: func(worker int) (directory.Session, error) {
			if worker == 1 {
				return nil, errors.New("no URIs reachable")
			}
			return f.session, nil
		},
		Dispatcher: f.dispatcher,
		Logger:     discard(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := server.Serve(context.Background()); err == nil {
		t.Fatal("Serve succeeded without every worker session")
	}
}

func TestNewServerValidates(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("NewServer accepted an empty config")
	}
}
