// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// Group is a POSIX group.
type Group struct {
	Name     string
	Password string
	GID      int32
	Members  []string
}

func (g Group) Write(w *wire.Writer) {
	begin(w)
	w.String(g.Name)
	w.String(g.Password)
	w.Int32(g.GID)
	w.StringList(g.Members)
}

func (g Group) cacheRecord() cache.Record {
	return cache.Record{
		Fields: map[string]any{"cn": g.Name, "userPassword": g.Password, "gidNumber": g.GID},
		Lists:  map[string][]string{"memberUid": g.Members},
	}
}

var groupKind = kindSpec{
	name:     "group",
	database: "group",
	filter:   "(objectClass=posixGroup)",
	attmap: []attmap.Pair{
		{Name: "cn", Mapping: "cn"},
		{Name: "userPassword", Mapping: `"*"`},
		{Name: "gidNumber", Mapping: "gidNumber"},
		{Name: "memberUid", Mapping: "memberUid"},
	},
	rules: search.Rules{
		Required:        []string{"cn", "gidNumber"},
		CaseSensitive:   []string{"cn", "gidNumber"},
		LimitAttributes: []string{"cn", "gidNumber"},
	},
	schema: &cache.Schema{
		Kind: "group",
		Key:  []string{"cn", "gidNumber"},
		Columns: []cache.Column{
			{Name: "cn"},
			{Name: "gidNumber", Type: cache.Integer},
			{Name: "userPassword", Nullable: true},
		},
		Lists: []cache.List{{Name: "memberUid"}},
	},
	convert: convertGroup,
	decode: func(record cache.Record) (Record, error) {
		fields := fieldReader{record: record}
		group := Group{
			Name:     fields.text("cn"),
			Password: fields.text("userPassword"),
			GID:      fields.int("gidNumber"),
			Members:  fields.list("memberUid"),
		}
		return group, fields.err
	},
}

func convertGroup(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record {
	names := validNames(kind.Name, result, result.Attributes["cn"], logger)
	gids := parseInt32s(kind.Name, result, "gidNumber", result.Attributes["gidNumber"], kind.options.GIDOffset, logger)

	members := []string{}
	seen := make(map[string]bool)
	for _, member := range result.Attributes["memberUid"] {
		member = strings.ReplaceAll(member, "\x00", "")
		if seen[member] || !ValidName(member) {
			continue
		}
		seen[member] = true
		members = append(members, member)
	}

	password := result.First("userPassword")
	var records []Record
	for _, name := range names {
		for _, gid := range gids {
			records = append(records, Group{Name: name, Password: password, GID: gid, Members: members})
		}
	}
	return records
}

func readGroupByGID(options *Options) func(*wire.Reader) (Query, error) {
	return func(r *wire.Reader) (Query, error) {
		gid := int64(r.Int32())
		return Query{
			Search: search.Parameters{"gidNumber": strconv.FormatInt(gid-options.GIDOffset, 10)},
			Cache:  map[string]string{"gidNumber": strconv.FormatInt(gid, 10)},
		}, nil
	}
}

// withoutMembers answers membership queries with the matching groups
// only; their member lists are not part of the response.
func withoutMembers(*Options) func(*Env, Query, Record) (Record, bool) {
	return func(env *Env, query Query, record Record) (Record, bool) {
		group, ok := record.(Group)
		if !ok {
			return record, true
		}
		group.Members = []string{}
		return group, true
	}
}

var groupActions = []actionSpec{
	{action: protocol.ActionGroupByName, kind: "group", read: readString("cn")},
	{action: protocol.ActionGroupByGID, kind: "group", read: readGroupByGID},
	{action: protocol.ActionGroupByMember, kind: "group", read: readString("memberUid"), shape: withoutMembers},
	{action: protocol.ActionGroupAll, kind: "group", enumerate: true, read: readNothing},
}
