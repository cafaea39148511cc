// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// Service is a network service on one port and protocol.
type Service struct {
	Name     string
	Aliases  []string
	Port     int32
	Protocol string
}

func (s Service) Write(w *wire.Writer) {
	begin(w)
	w.String(s.Name)
	w.StringList(s.Aliases)
	w.Int32(s.Port)
	w.String(s.Protocol)
}

func (s Service) cacheRecord() cache.Record {
	return cache.Record{
		Fields: map[string]any{"cn": s.Name, "ipServicePort": s.Port, "ipServiceProtocol": s.Protocol},
		Lists:  map[string][]string{"alias": s.Aliases},
	}
}

var serviceKind = kindSpec{
	name:     "service",
	database: "services",
	filter:   "(objectClass=ipService)",
	attmap: []attmap.Pair{
		{Name: "cn", Mapping: "cn"},
		{Name: "ipServicePort", Mapping: "ipServicePort"},
		{Name: "ipServiceProtocol", Mapping: "ipServiceProtocol"},
	},
	rules: search.Rules{
		CanonicalFirst:  []string{"cn"},
		Required:        []string{"cn", "ipServicePort", "ipServiceProtocol"},
		CaseSensitive:   []string{"cn", "ipServicePort", "ipServiceProtocol"},
		LimitAttributes: []string{"ipServiceProtocol"},
	},
	schema: &cache.Schema{
		Kind: "service",
		Key:  []string{"ipServicePort", "ipServiceProtocol"},
		Columns: []cache.Column{
			{Name: "ipServicePort", Type: cache.Integer},
			{Name: "ipServiceProtocol"},
			{Name: "cn"},
		},
		Lists:   []cache.List{{Name: "alias"}},
		Aliases: map[string]string{"cn": "alias"},
	},
	convert: func(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record {
		port, ok := parseInt32(kind.Name, result, "ipServicePort", result.First("ipServicePort"), logger)
		if !ok {
			return nil
		}
		names := result.Attributes["cn"]
		var records []Record
		for _, protocolName := range result.Attributes["ipServiceProtocol"] {
			records = append(records, Service{
				Name:     names[0],
				Aliases:  others(names[1:], names[0]),
				Port:     port,
				Protocol: protocolName,
			})
		}
		return records
	},
	decode: func(record cache.Record) (Record, error) {
		fields := fieldReader{record: record}
		service := Service{
			Name:     fields.text("cn"),
			Aliases:  fields.list("alias"),
			Port:     fields.int("ipServicePort"),
			Protocol: fields.text("ipServiceProtocol"),
		}
		return service, fields.err
	},
}

// withProtocol adds the optional protocol restriction to parameters.
func withProtocol(parameters map[string]string, protocolName string) Query {
	if protocolName != "" {
		parameters["ipServiceProtocol"] = protocolName
	}
	return sameParameters(parameters)
}

func readServiceByName(*Options) func(*wire.Reader) (Query, error) {
	return func(r *wire.Reader) (Query, error) {
		name := r.String()
		protocolName := r.String()
		return withProtocol(map[string]string{"cn": name}, protocolName), nil
	}
}

func readServiceByNumber(*Options) func(*wire.Reader) (Query, error) {
	return func(r *wire.Reader) (Query, error) {
		port := r.Int32()
		protocolName := r.String()
		return withProtocol(map[string]string{"ipServicePort": fmt.Sprint(port)}, protocolName), nil
	}
}

var serviceActions = []actionSpec{
	{action: protocol.ActionServiceByName, kind: "service", read: readServiceByName},
	{action: protocol.ActionServiceByNumber, kind: "service", read: readServiceByNumber},
	{action: protocol.ActionServiceAll, kind: "service", enumerate: true, read: readNothing},
}
