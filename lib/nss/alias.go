// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"log/slog"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// Alias is a mail alias and its recipients.
type Alias struct {
	Name    string
	Members []string
}

func (a Alias) Write(w *wire.Writer) {
	begin(w)
	w.String(a.Name)
	w.StringList(a.Members)
}

func (a Alias) cacheRecord() cache.Record {
	return cache.Record{
		Fields: map[string]any{"cn": a.Name},
		Lists:  map[string][]string{"rfc822MailMember": a.Members},
	}
}

var aliasKind = kindSpec{
	name:     "alias",
	database: "aliases",
	filter:   "(objectClass=nisMailAlias)",
	attmap: []attmap.Pair{
		{Name: "cn", Mapping: "cn"},
		{Name: "rfc822MailMember", Mapping: "rfc822MailMember"},
	},
	rules: search.Rules{
		Required:        []string{"cn", "rfc822MailMember"},
		CaseInsensitive: []string{"cn"},
		LimitAttributes: []string{"cn"},
	},
	schema: &cache.Schema{
		Kind:    "alias",
		Key:     []string{"cn"},
		Columns: []cache.Column{{Name: "cn", NoCase: true}},
		Lists:   []cache.List{{Name: "rfc822MailMember"}},
	},
	convert: func(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record {
		var records []Record
		for _, name := range result.Attributes["cn"] {
			records = append(records, Alias{Name: name, Members: result.Attributes["rfc822MailMember"]})
		}
		return records
	},
	decode: func(record cache.Record) (Record, error) {
		fields := fieldReader{record: record}
		alias := Alias{Name: fields.text("cn"), Members: fields.list("rfc822MailMember")}
		return alias, fields.err
	},
}

var aliasActions = []actionSpec{
	{action: protocol.ActionAliasByName, kind: "alias", read: readString("cn")},
	{action: protocol.ActionAliasAll, kind: "alias", enumerate: true, read: readNothing},
}
