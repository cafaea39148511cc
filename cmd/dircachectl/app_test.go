// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/control"
	"github.com/bureau-foundation/dircache/lib/dispatch"
	"github.com/bureau-foundation/dircache/lib/process"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/testutil"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// fakeDaemon is a control server answering with canned results.
type fakeDaemon struct {
	socket      string
	invalidated chan []string
	flushed     chan struct{}
}

func startFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	daemon := &fakeDaemon{
		socket:      filepath.Join(testutil.SocketDir(t), "control.sock"),
		invalidated: make(chan []string, 1),
		flushed:     make(chan struct{}, 1),
	}
	server := control.NewServer(daemon.socket, 0o600, slog.New(slog.NewTextHandler(io.Discard, nil)))
	server.Handle(control.ActionStatus, func(ctx context.Context, request *control.Request) (any, error) {
		return control.Status{
			Version:       "dircached/test",
			UptimeSeconds: 90,
			CacheEnabled:  true,
			Server:        dispatch.ServerStats{Workers: 4, Active: 1},
			Dispatcher:    dispatch.Stats{Requests: 42, Fallbacks: 3, DirectoryFailures: 2},
		}, nil
	})
	server.Handle(control.ActionCacheStats, func(ctx context.Context, request *control.Request) (any, error) {
		return control.CacheStats{Tables: []cache.Stats{
			{Kind: "group"},
			{Kind: "passwd", Records: 2, Newest: 1700000100, Oldest: 1700000000},
		}}, nil
	})
	server.HandlePrivileged(control.ActionInvalidate, func(ctx context.Context, request *control.Request) (any, error) {
		var fields control.InvalidateRequest
		if err := request.Decode(&fields); err != nil {
			return nil, err
		}
		if len(fields.Kinds) == 1 && fields.Kinds[0] == "bogus" {
			return nil, errors.New(`unknown kind "bogus"`)
		}
		daemon.invalidated <- fields.Kinds
		return control.InvalidateResult{Databases: fields.Kinds}, nil
	})
	server.HandlePrivileged(control.ActionFlush, func(ctx context.Context, request *control.Request) (any, error) {
		daemon.flushed <- struct{}{}
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "control server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	testutil.RequireEventually(t, func() bool {
		_, err := os.Stat(daemon.socket)
		return err == nil
	}, 5*time.Second, "control socket")
	return daemon
}

// serveLookup answers one name-service connection with respond.
func serveLookup(t *testing.T, respond func(action protocol.Action, r *wire.Reader, w *wire.Writer)) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "nslcd.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := wire.NewReader(conn)
		writer := wire.NewWriter(conn)
		reader.Int32()
		action := protocol.Action(reader.Int32())
		writer.Int32(protocol.Version)
		writer.Int32(int32(action))
		respond(action, reader, writer)
		writer.Flush()
	}()
	return socketPath
}

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func exitCode(err error) int {
	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

func TestStatus(t *testing.T) {
	daemon := startFakeDaemon(t)
	stdout, _, err := runCommand(t, "status", "--control", daemon.socket)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"dircached/test", "1m30s", "enabled", "4 (1 active)", "42", "directory reachable:"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("status output missing %q:\n%s", want, stdout)
		}
	}
}

func TestStatusJSON(t *testing.T) {
	daemon := startFakeDaemon(t)
	stdout, _, err := runCommand(t, "status", "--json", "--control", daemon.socket)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status control.Status
	if err := json.Unmarshal([]byte(stdout), &status); err != nil {
		t.Fatalf("decoding %q: %v", stdout, err)
	}
	if status.Dispatcher.Requests != 42 || !status.CacheEnabled || status.Server.Workers != 4 {
		t.Errorf("status = %+v", status)
	}
}

func TestCacheStats(t *testing.T) {
	daemon := startFakeDaemon(t)
	stdout, _, err := runCommand(t, "cache-stats", "--control", daemon.socket)
	if err != nil {
		t.Fatalf("cache-stats: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 {
		t.Fatalf("cache-stats output:\n%s", stdout)
	}
	if fields := strings.Fields(lines[0]); !reflect.DeepEqual(fields, []string{"KIND", "RECORDS", "NEWEST", "OLDEST"}) {
		t.Errorf("header = %q", fields)
	}
	if fields := strings.Fields(lines[1]); !reflect.DeepEqual(fields, []string{"group", "0", "-", "-"}) {
		t.Errorf("group row = %q", fields)
	}
	want := []string{"passwd", "2", "2023-11-14T22:15:00Z", "2023-11-14T22:13:20Z"}
	if fields := strings.Fields(lines[2]); !reflect.DeepEqual(fields, want) {
		t.Errorf("passwd row = %q, want %q", fields, want)
	}
}

func TestInvalidate(t *testing.T) {
	daemon := startFakeDaemon(t)
	_, stderr, err := runCommand(t, "invalidate", "--control", daemon.socket, "passwd", "group")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	kinds := testutil.RequireReceive(t, daemon.invalidated, 5*time.Second, "invalidate request")
	if !reflect.DeepEqual(kinds, []string{"passwd", "group"}) {
		t.Errorf("kinds = %q", kinds)
	}
	if !strings.Contains(stderr, "invalidation queued") {
		t.Errorf("stderr = %q, want a log line", stderr)
	}
}

func TestInvalidateReportsDaemonError(t *testing.T) {
	daemon := startFakeDaemon(t)
	_, _, err := runCommand(t, "invalidate", "--control", daemon.socket, "bogus")
	var controlErr *control.Error
	if !errors.As(err, &controlErr) {
		t.Fatalf("error = %v, want *control.Error", err)
	}
	if !strings.Contains(controlErr.Message, "bogus") {
		t.Errorf("message = %q", controlErr.Message)
	}
}

func TestFlush(t *testing.T) {
	daemon := startFakeDaemon(t)
	if _, _, err := runCommand(t, "flush", "--control", daemon.socket); err != nil {
		t.Fatalf("flush: %v", err)
	}
	testutil.RequireReceive(t, daemon.flushed, 5*time.Second, "flush request")
}

func TestCall(t *testing.T) {
	daemon := startFakeDaemon(t)
	stdout, _, err := runCommand(t, "call", "--control", daemon.socket, "cache-stats")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !strings.Contains(stdout, `"tables"`) || !strings.Contains(stdout, `"passwd"`) {
		t.Errorf("call output = %q", stdout)
	}

	stdout, _, err = runCommand(t, "call", "--control", daemon.socket, "flush")
	if err != nil {
		t.Fatalf("call flush: %v", err)
	}
	if stdout != "ok\n" {
		t.Errorf("call flush output = %q, want ok", stdout)
	}
	testutil.RequireReceive(t, daemon.flushed, 5*time.Second, "flush request")
}

func TestCallUsage(t *testing.T) {
	for _, args := range [][]string{
		{"call"},
		{"call", "status", "novalue"},
		{"call", "status", "action=flush"},
	} {
		if _, _, err := runCommand(t, args...); exitCode(err) != 2 {
			t.Errorf("%q: error = %v, want exit status 2", args, err)
		}
	}
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"kinds=passwd,group", "name=alice", "empty="})
	if err != nil {
		t.Fatalf("parseFields: %v", err)
	}
	want := map[string]any{
		"kinds": []string{"passwd", "group"},
		"name":  "alice",
		"empty": "",
	}
	if !reflect.DeepEqual(fields, want) {
		t.Errorf("fields = %#v, want %#v", fields, want)
	}
	if _, err := parseFields([]string{"=value"}); err == nil {
		t.Error("empty key accepted")
	}
}

func TestGetent(t *testing.T) {
	socket := serveLookup(t, func(action protocol.Action, r *wire.Reader, w *wire.Writer) {
		if action != protocol.ActionGroupByName {
			t.Errorf("action = %s", action)
		}
		if name := r.String(); name != "staff" {
			t.Errorf("name = %q", name)
		}
		w.Int32(protocol.ResultBegin)
		w.String("staff")
		w.String("*")
		w.Int32(50)
		w.Int32(2)
		w.String("alice")
		w.String("bob")
		w.Int32(protocol.ResultEnd)
	})
	stdout, _, err := runCommand(t, "getent", "--socket", socket, "group", "staff")
	if err != nil {
		t.Fatalf("getent: %v", err)
	}
	if stdout != "staff:*:50:alice,bob\n" {
		t.Errorf("getent output = %q", stdout)
	}
}

func TestGetentNotFound(t *testing.T) {
	socket := serveLookup(t, func(action protocol.Action, r *wire.Reader, w *wire.Writer) {
		r.String()
		w.Int32(protocol.ResultEnd)
	})
	stdout, _, err := runCommand(t, "getent", "--socket", socket, "passwd", "nobody")
	if exitCode(err) != 2 {
		t.Fatalf("error = %v, want exit status 2", err)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want nothing", stdout)
	}
}

func TestGetentUsage(t *testing.T) {
	for _, args := range [][]string{
		{"getent"},
		{"getent", "passwd", "a", "b"},
		{"getent", "--socket", "/nonexistent", "phonebook"},
	} {
		if _, _, err := runCommand(t, args...); exitCode(err) != 2 {
			t.Errorf("%q: error = %v, want exit status 2", args, err)
		}
	}
}

func writePasswordFile(t *testing.T, password string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(path, []byte(password+"\n"), 0o600); err != nil {
		t.Fatalf("writing password file: %v", err)
	}
	return path
}

func authServer(t *testing.T, status protocol.PAMStatus, message string) string {
	return serveLookup(t, func(action protocol.Action, r *wire.Reader, w *wire.Writer) {
		if action != protocol.ActionPAMAuthc {
			t.Errorf("action = %s", action)
		}
		username, _, service, password := r.String(), r.String(), r.String(), r.String()
		if username != "alice" || service != "sshd" || password != "hunter2" {
			t.Errorf("request = %q %q %q", username, service, password)
		}
		w.Int32(protocol.ResultBegin)
		w.String("alice")
		w.String("uid=alice,ou=people,dc=example,dc=com")
		w.Int32(int32(status))
		w.Int32(int32(protocol.PAMSuccess))
		w.String(message)
		w.Int32(protocol.ResultEnd)
	})
}

func TestAuth(t *testing.T) {
	socket := authServer(t, protocol.PAMSuccess, "")
	stdout, _, err := runCommand(t, "auth", "--socket", socket, "--service", "sshd",
		"--password-file", writePasswordFile(t, "hunter2"), "alice")
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	if stdout != "authenticated alice as uid=alice,ou=people,dc=example,dc=com\n" {
		t.Errorf("auth output = %q", stdout)
	}
}

func TestAuthFailure(t *testing.T) {
	socket := authServer(t, protocol.PAMAuthErr, "wrong password")
	stdout, _, err := runCommand(t, "auth", "--socket", socket, "--service", "sshd", "--json",
		"--password-file", writePasswordFile(t, "hunter2"), "alice")
	if exitCode(err) != 1 {
		t.Fatalf("error = %v, want exit status 1", err)
	}
	if !strings.Contains(err.Error(), "authentication failure: wrong password") {
		t.Errorf("error = %v", err)
	}
	var result authResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("decoding %q: %v", stdout, err)
	}
	if result.Authenticated || result.Authentication != "authentication failure" || result.Authorization != "success" {
		t.Errorf("result = %+v", result)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout, "dircachectl ") {
		t.Errorf("version output = %q", stdout)
	}
}
