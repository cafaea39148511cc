// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/bureau-foundation/dircache/lib/clock"
)

var serviceSchema = &Schema{
	Kind: "service",
	Key:  []string{"ipServicePort", "ipServiceProtocol"},
	Columns: []Column{
		{Name: "cn", Type: Text},
		{Name: "ipServicePort", Type: Integer},
		{Name: "ipServiceProtocol", Type: Text},
	},
	Lists:   []List{{Name: "alias"}},
	Aliases: map[string]string{"cn": "alias"},
}

var groupSchema = &Schema{
	Kind: "group",
	Key:  []string{"cn"},
	Columns: []Column{
		{Name: "cn", Type: Text},
		{Name: "userPassword", Type: Text, Nullable: true},
		{Name: "gidNumber", Type: Integer, Unique: true},
	},
	Lists: []List{{Name: "memberUid"}},
}

var hostSchema = &Schema{
	Kind:    "host",
	Key:     []string{"cn"},
	Columns: []Column{{Name: "cn", Type: Text, NoCase: true}},
	Lists:   []List{{Name: "alias", NoCase: true}, {Name: "ipHostNumber"}},
	Aliases: map[string]string{"cn": "alias"},
}

func openTestCache(t *testing.T, clk clock.Clock) *Cache {
	t.Helper()
	cache, err := Open(Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Schemas: []*Schema{serviceSchema, groupSchema, hostSchema},
		Clock:   clk,
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func retrieveAll(t *testing.T, table *Table, parameters map[string]string) []Record {
	t.Helper()
	var records []Record
	err := table.Retrieve(context.Background(), parameters, func(record Record) error {
		records = append(records, record)
		return nil
	})
	if err != nil {
		t.Fatalf("Retrieve(%v): %v", parameters, err)
	}
	return records
}

func service(name string, port int64, protocol string, aliases ...string) Record {
	if aliases == nil {
		aliases = []string{}
	}
	return Record{
		Fields: map[string]any{"cn": name, "ipServicePort": port, "ipServiceProtocol": protocol},
		Lists:  map[string][]string{"alias": aliases},
	}
}

func TestChildListsAreReplaced(t *testing.T) {
	cache := openTestCache(t, nil)
	table := cache.Table("service")
	ctx := context.Background()

	if err := table.Store(ctx, service("svc1", 80, "tcp", "http", "www")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := table.Store(ctx, service("svc1", 80, "tcp", "http")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	records := retrieveAll(t, table, map[string]string{"ipServicePort": "80", "ipServiceProtocol": "tcp"})
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if want := []string{"http"}; !reflect.DeepEqual(records[0].Lists["alias"], want) {
		t.Errorf("aliases = %v, want %v", records[0].Lists["alias"], want)
	}
}

func TestRoundTrip(t *testing.T) {
	cache := openTestCache(t, nil)
	ctx := context.Background()

	groups := []Record{
		{
			Fields: map[string]any{"cn": "admins", "userPassword": "*", "gidNumber": int64(100)},
			Lists:  map[string][]string{"memberUid": {"alice", "bob"}},
		},
		{
			Fields: map[string]any{"cn": "empty", "userPassword": nil, "gidNumber": int64(101)},
			Lists:  map[string][]string{"memberUid": {}},
		},
	}
	table := cache.Table("group")
	if err := table.Store(ctx, groups...); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got := retrieveAll(t, table, nil)
	if !reflect.DeepEqual(got, groups) {
		t.Errorf("Retrieve = %#v, want %#v", got, groups)
	}

	got = retrieveAll(t, table, map[string]string{"cn": "empty"})
	if len(got) != 1 || got[0].Lists["memberUid"] == nil || len(got[0].Lists["memberUid"]) != 0 {
		t.Errorf("empty list did not round-trip as empty: %#v", got)
	}
}

func TestNoCaseKeysFoldOnlyASCII(t *testing.T) {
	cache := openTestCache(t, nil)
	table := cache.Table("host")
	hosts := []Record{
		{
			Fields: map[string]any{"cn": "Äb"},
			Lists:  map[string][]string{"alias": {"Äb-alias"}, "ipHostNumber": {"10.0.0.1"}},
		},
		{
			Fields: map[string]any{"cn": "äb"},
			Lists:  map[string][]string{"alias": {"äb-alias"}, "ipHostNumber": {"10.0.0.2"}},
		},
	}
	if err := table.Store(context.Background(), hosts...); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got := retrieveAll(t, table, nil)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2: %#v", len(got), got)
	}
	byName := map[any]Record{got[0].Fields["cn"]: got[0], got[1].Fields["cn"]: got[1]}
	for _, want := range hosts {
		if record := byName[want.Fields["cn"]]; !reflect.DeepEqual(record, want) {
			t.Errorf("record %v = %#v, want %#v", want.Fields["cn"], record, want)
		}
	}
}

func TestFoldASCII(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"WWW.Example": "www.example",
		"Äb":          "Äb",
		"ÀZaz":        "Àzaz",
	}
	for input, want := range tests {
		if got := foldASCII(input); got != want {
			t.Errorf("foldASCII(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestReverseListQuery(t *testing.T) {
	cache := openTestCache(t, nil)
	table := cache.Table("group")
	ctx := context.Background()
	err := table.Store(ctx,
		Record{Fields: map[string]any{"cn": "a", "gidNumber": int64(1)}, Lists: map[string][]string{"memberUid": {"alice", "bob"}}},
		Record{Fields: map[string]any{"cn": "b", "gidNumber": int64(2)}, Lists: map[string][]string{"memberUid": {"bob"}}},
		Record{Fields: map[string]any{"cn": "c", "gidNumber": int64(3)}, Lists: map[string][]string{"memberUid": {"carol"}}},
	)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	records := retrieveAll(t, table, map[string]string{"memberUid": "bob"})
	var names []string
	for _, record := range records {
		names = append(names, record.Fields["cn"].(string))
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(names, want) {
		t.Errorf("groups of bob = %v, want %v", names, want)
	}
	// The full member list comes back, not just the matching member.
	if want := []string{"alice", "bob"}; !reflect.DeepEqual(records[0].Lists["memberUid"], want) {
		t.Errorf("members of a = %v, want %v", records[0].Lists["memberUid"], want)
	}
}

func TestAliasedQuery(t *testing.T) {
	cache := openTestCache(t, nil)
	table := cache.Table("host")
	err := table.Store(context.Background(), Record{
		Fields: map[string]any{"cn": "web1.example.com"},
		Lists: map[string][]string{
			"alias":        {"web1", "www"},
			"ipHostNumber": {"192.0.2.1", "2001:db8::1"},
		},
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	for _, name := range []string{"web1.example.com", "WEB1.example.com", "www", "WWW"} {
		records := retrieveAll(t, table, map[string]string{"cn": name})
		if len(records) != 1 {
			t.Errorf("lookup %q: got %d records, want 1", name, len(records))
			continue
		}
		if want := []string{"192.0.2.1", "2001:db8::1"}; !reflect.DeepEqual(records[0].Lists["ipHostNumber"], want) {
			t.Errorf("lookup %q: addresses = %v, want %v", name, records[0].Lists["ipHostNumber"], want)
		}
	}
	if records := retrieveAll(t, table, map[string]string{"cn": "mail"}); len(records) != 0 {
		t.Errorf("unrelated name matched %d records", len(records))
	}
	if records := retrieveAll(t, table, map[string]string{"ipHostNumber": "192.0.2.1"}); len(records) != 1 {
		t.Errorf("lookup by address matched %d records, want 1", len(records))
	}
}

func TestUniqueCollisionReplacesOtherKey(t *testing.T) {
	cache := openTestCache(t, nil)
	table := cache.Table("group")
	ctx := context.Background()
	if err := table.Store(ctx, Record{
		Fields: map[string]any{"cn": "old", "gidNumber": int64(500)},
		Lists:  map[string][]string{"memberUid": {"alice"}},
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := table.Store(ctx, Record{
		Fields: map[string]any{"cn": "renamed", "gidNumber": int64(500)},
		Lists:  map[string][]string{"memberUid": {"bob"}},
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	records := retrieveAll(t, table, map[string]string{"gidNumber": "500"})
	if len(records) != 1 || records[0].Fields["cn"] != "renamed" {
		t.Fatalf("records for gid 500 = %#v", records)
	}
	if records := retrieveAll(t, table, map[string]string{"memberUid": "alice"}); len(records) != 0 {
		t.Errorf("members of the replaced row survived: %#v", records)
	}
}

func TestParameterErrors(t *testing.T) {
	cache := openTestCache(t, nil)
	table := cache.Table("group")
	if records := retrieveAll(t, table, map[string]string{"gidNumber": "not-a-number"}); len(records) != 0 {
		t.Errorf("non-numeric id matched %d records", len(records))
	}
	err := table.Retrieve(context.Background(), map[string]string{"shell": "x"}, func(Record) error { return nil })
	if err == nil {
		t.Error("unknown parameter accepted")
	}
}

func TestStoreRejectsBadRecords(t *testing.T) {
	cache := openTestCache(t, nil)
	table := cache.Table("group")
	ctx := context.Background()
	if err := table.Store(ctx, Record{Fields: map[string]any{"gidNumber": int64(1)}}); err == nil {
		t.Error("record without key accepted")
	}
	if err := table.Store(ctx, Record{Fields: map[string]any{"cn": "x", "gidNumber": "one"}}); err == nil {
		t.Error("text in integer column accepted")
	}
}

func TestStatsAndWriter(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cache := openTestCache(t, fake)
	writer := NewWriter(cache, slog.New(slog.DiscardHandler), 8)

	writer.Enqueue("service", []Record{service("ssh", 22, "tcp"), service("domain", 53, "udp")})
	writer.Enqueue("unknown-kind", []Record{service("x", 1, "tcp")})
	if err := writer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	writer.Close()
	// Enqueue after Close is ignored.
	writer.Enqueue("service", []Record{service("late", 1, "tcp")})

	stats, err := cache.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := []Stats{
		{Kind: "group"},
		{Kind: "host"},
		{Kind: "service", Records: 2, Newest: fake.Now().Unix(), Oldest: fake.Now().Unix()},
	}
	if !reflect.DeepEqual(stats, want) {
		t.Errorf("Stats = %+v, want %+v", stats, want)
	}
}

func TestSchemaValidation(t *testing.T) {
	bad := []*Schema{
		{Kind: "x"},
		{Kind: "bad kind", Key: []string{"a"}, Columns: []Column{{Name: "a"}}},
		{Kind: "x", Key: []string{"missing"}, Columns: []Column{{Name: "a"}}},
		{Kind: "x", Key: []string{"a"}, Columns: []Column{{Name: "a", Nullable: true}}},
		{Kind: "x", Key: []string{"a"}, Columns: []Column{{Name: "mtime"}}},
		{Kind: "x", Key: []string{"a"}, Columns: []Column{{Name: "a"}}, Lists: []List{{Name: "a"}}},
		{Kind: "x", Key: []string{"a"}, Columns: []Column{{Name: "a"}}, Aliases: map[string]string{"a": "nope"}},
	}
	for i, schema := range bad {
		if err := schema.validate(); err == nil {
			t.Errorf("schema %d accepted: %+v", i, schema)
		}
	}
}
