// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/directory"
	"github.com/bureau-foundation/dircache/lib/nss"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/wire"
)

const (
	baseA = "ou=a,dc=example,dc=com"
	baseB = "ou=b,dc=example,dc=com"
)

// fakeSession answers searches per base. It is shared by server
// workers, so access is locked.
type fakeSession struct {
	mu       sync.Mutex
	entries  map[string][]*directory.Entry
	errs     map[string]error
	searches int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		entries: map[string][]*directory.Entry{
			baseA: {account("alice", 1000)},
			baseB: {account("bob", 1001)},
		},
		errs: make(map[string]error),
	}
}

func account(name string, uid int) *directory.Entry {
	return directory.NewEntry("uid="+name+","+baseA, map[string][]string{
		"uid":       {name},
		"uidNumber": {fmt.Sprint(uid)},
		"gidNumber": {"100"},
	})
}

func (f *fakeSession) Search(_ context.Context, request directory.SearchRequest) ([]*directory.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if err := f.errs[request.Base]; err != nil {
		return nil, err
	}
	var matched []*directory.Entry
	for _, entry := range f.entries[request.Base] {
		// Enough filtering for by-name requests in these tests.
		name := entry.Values("uid")[0]
		if request.Filter == "(objectClass=posixAccount)" || bytes.Contains([]byte(request.Filter), []byte("(uid="+name+")")) {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (f *fakeSession) Authenticate(context.Context, string, string) (directory.BindResult, error) {
	return directory.BindResult{Status: directory.BindInvalidCredentials, Message: "Invalid credentials"}, nil
}

func (f *fakeSession) fail(bases ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, base := range bases {
		f.errs[base] = fmt.Errorf("search %s: %w", base, directory.ErrUnavailable)
	}
}

type fixture struct {
	dispatcher *Dispatcher
	registry   *nss.Registry
	cache      *cache.Cache
	writer     *cache.Writer
	session    *fakeSession
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	registry, err := nss.NewRegistry(nss.Options{Bases: []string{baseA, baseB}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	f := &fixture{registry: registry, session: newFakeSession()}
	config := Config{Registry: registry, Logger: discard()}
	if withCache {
		f.cache, err = cache.Open(cache.Config{
			Path:    filepath.Join(t.TempDir(), "cache.db"),
			Schemas: registry.Schemas(),
			Logger:  discard(),
		})
		if err != nil {
			t.Fatalf("cache.Open: %v", err)
		}
		t.Cleanup(func() { f.cache.Close() })
		f.writer = cache.NewWriter(f.cache, discard(), 0)
		t.Cleanup(f.writer.Close)
		config.Cache = f.cache
		config.Writer = f.writer
	}
	f.dispatcher, err = New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

// call sends one request through Handle and returns the raw response.
func (f *fixture) call(t *testing.T, callerUID int64, action protocol.Action, params func(*wire.Writer)) []byte {
	t.Helper()
	var request bytes.Buffer
	w := wire.NewWriter(&request)
	w.Int32(protocol.Version)
	w.Int32(int32(action))
	if params != nil {
		params(w)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("encoding request: %v", err)
	}

	var response bytes.Buffer
	out := wire.NewWriter(&response)
	env := &nss.Env{Session: f.session, CallerUID: callerUID, Logger: discard()}
	if err := f.dispatcher.Handle(context.Background(), wire.NewReader(&request), out, env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	return response.Bytes()
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	if err := f.writer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

// passwdNames decodes a passwd response into account names.
func passwdNames(t *testing.T, response []byte, action protocol.Action) []string {
	t.Helper()
	r := wire.NewReader(bytes.NewReader(response))
	if version := r.Int32(); version != protocol.Version {
		t.Fatalf("response version = %d", version)
	}
	if got := protocol.Action(r.Int32()); got != action {
		t.Fatalf("response action = %s, want %s", got, action)
	}
	names := []string{}
	for {
		marker := r.Int32()
		if r.Err() != nil {
			t.Fatalf("reading response: %v", r.Err())
		}
		if marker == protocol.ResultEnd {
			break
		}
		if marker != protocol.ResultBegin {
			t.Fatalf("unexpected marker %d", marker)
		}
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

func byName(name string) func(*wire.Writer) {
	return func(w *wire.Writer) { w.String(name) }
}

func TestLiveLookup(t *testing.T) {
	f := newFixture(t, false)
	response := f.call(t, 1000, protocol.ActionPasswdAll, nil)
	if names := passwdNames(t, response, protocol.ActionPasswdAll); !reflect.DeepEqual(names, []string{"alice", "bob"}) {
		t.Errorf("names = %v, want [alice bob]", names)
	}

	response = f.call(t, 1000, protocol.ActionPasswdByName, byName("bob"))
	if names := passwdNames(t, response, protocol.ActionPasswdByName); !reflect.DeepEqual(names, []string{"bob"}) {
		t.Errorf("names = %v, want [bob]", names)
	}

	stats := f.dispatcher.Stats()
	if stats.Requests != 2 || stats.Fallbacks != 0 || !stats.DirectoryReachable {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLiveResultsAreMirrored(t *testing.T) {
	f := newFixture(t, true)
	f.call(t, 1000, protocol.ActionPasswdAll, nil)
	f.flush(t)

	var names []string
	err := f.cache.Table("passwd").Retrieve(context.Background(), nil, func(record cache.Record) error {
		names = append(names, record.Fields["uid"].(string))
		return nil
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"alice", "bob"}) {
		t.Errorf("cached names = %v, want [alice bob]", names)
	}
}

func TestFallbackMatchesCache(t *testing.T) {
	f := newFixture(t, true)
	live := f.call(t, 1000, protocol.ActionPasswdByName, byName("alice"))
	f.flush(t)

	f.session.fail(baseA, baseB)
	cached := f.call(t, 1000, protocol.ActionPasswdByName, byName("alice"))
	if !bytes.Equal(live, cached) {
		t.Errorf("cached response differs from live response\nlive:   %x\ncached: %x", live, cached)
	}

	stats := f.dispatcher.Stats()
	if stats.Fallbacks != 1 || stats.DirectoryFailures != 1 || stats.DirectoryReachable {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFallbackNeverMixesSources(t *testing.T) {
	f := newFixture(t, true)
	passwd, _ := f.registry.Kind("passwd")
	carol, err := passwd.Encode(nss.Passwd{Name: "carol", Password: "*", UID: 1002, GID: 100})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := f.cache.Table("passwd").Store(context.Background(), carol); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// The first base answers, the second is unreachable: the live
	// records from the first base are discarded.
	f.session.fail(baseB)
	response := f.call(t, 1000, protocol.ActionPasswdAll, nil)
	if names := passwdNames(t, response, protocol.ActionPasswdAll); !reflect.DeepEqual(names, []string{"carol"}) {
		t.Errorf("names = %v, want only the cached [carol]", names)
	}
}

func TestUnreachableWithoutCache(t *testing.T) {
	f := newFixture(t, false)
	f.session.fail(baseA)
	response := f.call(t, 1000, protocol.ActionPasswdAll, nil)
	if names := passwdNames(t, response, protocol.ActionPasswdAll); len(names) != 0 {
		t.Errorf("names = %v, want none", names)
	}
}

func TestShadowFallbackHidesPassword(t *testing.T) {
	f := newFixture(t, true)
	shadow, _ := f.registry.Kind("shadow")
	stored, err := shadow.Encode(nss.Shadow{Name: "alice", Password: "{crypt}hash", LastChange: -1, Min: -1, Max: -1, Warning: -1, Inactive: -1, Expire: -1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := f.cache.Table("shadow").Store(context.Background(), stored); err != nil {
		t.Fatalf("Store: %v", err)
	}
	f.session.fail(baseA, baseB)

	passwordFor := func(callerUID int64) string {
		response := f.call(t, callerUID, protocol.ActionShadowByName, byName("alice"))
		r := wire.NewReader(bytes.NewReader(response))
		r.Int32()
		r.Int32()
		if marker := r.Int32(); marker != protocol.ResultBegin {
			t.Fatalf("marker = %d, want BEGIN", marker)
		}
		r.String()
		return r.String()
	}
	if got := passwordFor(0); got != "{crypt}hash" {
		t.Errorf("root sees %q", got)
	}
	if got := passwordFor(1000); got != "*" {
		t.Errorf("user sees %q", got)
	}
}

func TestDisabledEnumeration(t *testing.T) {
	registry, err := nss.NewRegistry(nss.Options{Bases: []string{baseA}, DisableEnumeration: true})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	dispatcher, err := New(Config{Registry: registry, Logger: discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := &fixture{dispatcher: dispatcher, registry: registry, session: newFakeSession()}
	response := f.call(t, 1000, protocol.ActionPasswdAll, nil)
	if names := passwdNames(t, response, protocol.ActionPasswdAll); len(names) != 0 {
		t.Errorf("names = %v, want none", names)
	}
	if f.session.searches != 0 {
		t.Errorf("directory searched %d times", f.session.searches)
	}
}

func TestRejectedRequests(t *testing.T) {
	f := newFixture(t, false)
	tests := []struct {
		name    string
		version int32
		action  int32
		want    error
	}{
		{"version", 1, int32(protocol.ActionPasswdAll), ErrVersionMismatch},
		{"action", protocol.Version, 0x7fff0001, ErrUnknownAction},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var request bytes.Buffer
			w := wire.NewWriter(&request)
			w.Int32(test.version)
			w.Int32(test.action)
			w.Flush()

			var response bytes.Buffer
			env := &nss.Env{Session: f.session, CallerUID: 0, Logger: discard()}
			err := f.dispatcher.Handle(context.Background(), wire.NewReader(&request), wire.NewWriter(&response), env)
			if !errors.Is(err, test.want) {
				t.Errorf("Handle error = %v, want %v", err, test.want)
			}
			if response.Len() != 0 {
				t.Errorf("rejected request produced %d response bytes", response.Len())
			}
		})
	}
}

func TestPAMResponse(t *testing.T) {
	f := newFixture(t, false)
	response := f.call(t, 0, protocol.ActionPAMAuthc, func(w *wire.Writer) {
		w.String("alice")
		w.String("")
		w.String("login")
		w.String("wrong")
	})
	r := wire.NewReader(bytes.NewReader(response))
	r.Int32()
	r.Int32()
	if marker := r.Int32(); marker != protocol.ResultBegin {
		t.Fatalf("marker = %d, want BEGIN", marker)
	}
	username, dn := r.String(), r.String()
	authc, authz := protocol.PAMStatus(r.Int32()), protocol.PAMStatus(r.Int32())
	message := r.String()
	if end := r.Int32(); end != protocol.ResultEnd {
		t.Fatalf("marker = %d, want END", end)
	}
	if username != "alice" || dn != "uid=alice,"+baseA {
		t.Errorf("username/dn = %q/%q", username, dn)
	}
	if authc != protocol.PAMAuthErr || authz != protocol.PAMAuthErr || message != "Invalid credentials" {
		t.Errorf("result = %s/%s %q", authc, authz, message)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{Logger: discard()}); err == nil {
		t.Error("New accepted a config without a registry")
	}
	registry, _ := nss.NewRegistry(nss.Options{Bases: []string{baseA}})
	if _, err := New(Config{Registry: registry}); err == nil {
		t.Error("New accepted a config without a logger")
	}
}
