// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// Triple is one (host, user, domain) netgroup member. Empty fields are
// wildcards.
type Triple struct {
	Host   string
	User   string
	Domain string
}

func (t Triple) String() string {
	return fmt.Sprintf("(%s,%s,%s)", t.Host, t.User, t.Domain)
}

var triplePattern = regexp.MustCompile(`^\s*\(\s*([^,]*?)\s*,\s*([^,]*?)\s*,\s*([^,]*?)\s*\)\s*$`)

// ParseTriple parses "(host,user,domain)".
func ParseTriple(text string) (Triple, bool) {
	match := triplePattern.FindStringSubmatch(text)
	if match == nil {
		return Triple{}, false
	}
	return Triple{Host: match[1], User: match[2], Domain: match[3]}, true
}

// Netgroup is a named set of triples and member netgroups. On the wire
// every member is its own result tuple; the netgroup name is implied by
// the request.
type Netgroup struct {
	Name    string
	Triples []Triple
	Members []string
}

func (n Netgroup) Write(w *wire.Writer) {
	for _, triple := range n.Triples {
		begin(w)
		w.Int32(protocol.NetgroupTypeTriple)
		w.String(triple.Host)
		w.String(triple.User)
		w.String(triple.Domain)
	}
	for _, member := range n.Members {
		begin(w)
		w.Int32(protocol.NetgroupTypeNetgroup)
		w.String(member)
	}
}

func (n Netgroup) cacheRecord() cache.Record {
	triples := make([]string, len(n.Triples))
	for i, triple := range n.Triples {
		triples[i] = triple.String()
	}
	return cache.Record{
		Fields: map[string]any{"cn": n.Name},
		Lists:  map[string][]string{"nisNetgroupTriple": triples, "memberNisNetgroup": n.Members},
	}
}

var netgroupKind = kindSpec{
	name:     "netgroup",
	database: "netgroup",
	filter:   "(objectClass=nisNetgroup)",
	attmap: []attmap.Pair{
		{Name: "cn", Mapping: "cn"},
		{Name: "nisNetgroupTriple", Mapping: "nisNetgroupTriple"},
		{Name: "memberNisNetgroup", Mapping: "memberNisNetgroup"},
	},
	rules: search.Rules{
		Required:        []string{"cn"},
		CaseSensitive:   []string{"cn"},
		LimitAttributes: []string{"cn"},
	},
	schema: &cache.Schema{
		Kind:    "netgroup",
		Key:     []string{"cn"},
		Columns: []cache.Column{{Name: "cn"}},
		Lists: []cache.List{
			{Name: "nisNetgroupTriple"},
			{Name: "memberNisNetgroup"},
		},
	},
	convert: func(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record {
		triples := []Triple{}
		for _, text := range result.Attributes["nisNetgroupTriple"] {
			triple, ok := ParseTriple(text)
			if !ok {
				logger.Warn("entry contains an invalid netgroup triple",
					"kind", kind.Name,
					"dn", result.DN,
					"value", text,
				)
				continue
			}
			triples = append(triples, triple)
		}
		members := []string{}
		for _, member := range result.Attributes["memberNisNetgroup"] {
			if member = strings.TrimSpace(member); member != "" {
				members = append(members, member)
			}
		}
		var records []Record
		for _, name := range result.Attributes["cn"] {
			records = append(records, Netgroup{Name: name, Triples: triples, Members: members})
		}
		return records
	},
	decode: func(record cache.Record) (Record, error) {
		fields := fieldReader{record: record}
		netgroup := Netgroup{
			Name:    fields.text("cn"),
			Triples: []Triple{},
			Members: fields.list("memberNisNetgroup"),
		}
		for _, text := range fields.list("nisNetgroupTriple") {
			triple, ok := ParseTriple(text)
			if !ok {
				return nil, fmt.Errorf("invalid cached triple %q", text)
			}
			netgroup.Triples = append(netgroup.Triples, triple)
		}
		return netgroup, fields.err
	},
}

var netgroupActions = []actionSpec{
	{action: protocol.ActionNetgroupByName, kind: "netgroup", read: readString("cn")},
	{action: protocol.ActionNetgroupAll, kind: "netgroup", enumerate: true, read: readNothing},
}
