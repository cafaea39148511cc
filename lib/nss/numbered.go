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

// Numbered is a named number with aliases: an IP protocol or an RPC
// program.
type Numbered struct {
	Name    string
	Aliases []string
	Number  int32

	// numberColumn names the cache column holding Number.
	numberColumn string
}

func (n Numbered) Write(w *wire.Writer) {
	begin(w)
	w.String(n.Name)
	w.StringList(n.Aliases)
	w.Int32(n.Number)
}

func (n Numbered) cacheRecord() cache.Record {
	return cache.Record{
		Fields: map[string]any{"cn": n.Name, n.numberColumn: n.Number},
		Lists:  map[string][]string{"alias": n.Aliases},
	}
}

// numberedKind declares a kind of named numbers.
func numberedKind(name, database, objectClass, numberAttribute string) kindSpec {
	return kindSpec{
		name:     name,
		database: database,
		filter:   "(objectClass=" + objectClass + ")",
		attmap: []attmap.Pair{
			{Name: "cn", Mapping: "cn"},
			{Name: numberAttribute, Mapping: numberAttribute},
		},
		rules: search.Rules{
			CanonicalFirst: []string{"cn"},
			Required:       []string{"cn", numberAttribute},
			CaseSensitive:  []string{"cn", numberAttribute},
		},
		schema: &cache.Schema{
			Kind: name,
			Key:  []string{"cn"},
			Columns: []cache.Column{
				{Name: "cn"},
				{Name: numberAttribute, Type: cache.Integer},
			},
			Lists:   []cache.List{{Name: "alias"}},
			Aliases: map[string]string{"cn": "alias"},
		},
		convert: func(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record {
			number, ok := parseInt32(kind.Name, result, numberAttribute, result.First(numberAttribute), logger)
			if !ok {
				return nil
			}
			names := result.Attributes["cn"]
			return []Record{Numbered{
				Name:         names[0],
				Aliases:      others(names[1:], names[0]),
				Number:       number,
				numberColumn: numberAttribute,
			}}
		},
		decode: func(record cache.Record) (Record, error) {
			fields := fieldReader{record: record}
			numbered := Numbered{
				Name:         fields.text("cn"),
				Aliases:      fields.list("alias"),
				Number:       fields.int(numberAttribute),
				numberColumn: numberAttribute,
			}
			return numbered, fields.err
		},
	}
}

var (
	protocolKind = numberedKind("protocol", "protocols", "ipProtocol", "ipProtocolNumber")
	rpcKind      = numberedKind("rpc", "rpc", "oncRpc", "oncRpcNumber")
)

var protocolActions = []actionSpec{
	{action: protocol.ActionProtocolByName, kind: "protocol", read: readString("cn")},
	{action: protocol.ActionProtocolByNumber, kind: "protocol", read: readNumber("ipProtocolNumber")},
	{action: protocol.ActionProtocolAll, kind: "protocol", enumerate: true, read: readNothing},
}

var rpcActions = []actionSpec{
	{action: protocol.ActionRPCByName, kind: "rpc", read: readString("cn")},
	{action: protocol.ActionRPCByNumber, kind: "rpc", read: readNumber("oncRpcNumber")},
	{action: protocol.ActionRPCAll, kind: "rpc", enumerate: true, read: readNothing},
}
