// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"log/slog"
	"net/netip"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// Host is a named host with its aliases and addresses. Network records
// share the layout.
type Host struct {
	Name      string
	Aliases   []string
	Addresses []netip.Addr

	// addressList names the cache list holding the addresses.
	addressList string
}

func (h Host) Write(w *wire.Writer) {
	begin(w)
	w.String(h.Name)
	w.StringList(h.Aliases)
	w.AddressList(h.Addresses)
}

func (h Host) cacheRecord() cache.Record {
	addresses := make([]string, len(h.Addresses))
	for i, address := range h.Addresses {
		addresses[i] = address.String()
	}
	return cache.Record{
		Fields: map[string]any{"cn": h.Name},
		Lists:  map[string][]string{"alias": h.Aliases, h.addressList: addresses},
	}
}

// addressKind declares a kind of named address records: hosts and
// networks differ only in object class and address attribute.
func addressKind(name, database, objectClass, addressAttribute string) kindSpec {
	return kindSpec{
		name:     name,
		database: database,
		filter:   "(objectClass=" + objectClass + ")",
		attmap: []attmap.Pair{
			{Name: "cn", Mapping: "cn"},
			{Name: addressAttribute, Mapping: addressAttribute},
		},
		rules: search.Rules{
			CanonicalFirst:  []string{"cn"},
			Required:        []string{"cn", addressAttribute},
			CaseInsensitive: []string{"cn"},
		},
		schema: &cache.Schema{
			Kind:    name,
			Key:     []string{"cn"},
			Columns: []cache.Column{{Name: "cn", NoCase: true}},
			Lists: []cache.List{
				{Name: "alias", NoCase: true},
				{Name: addressAttribute},
			},
			Aliases: map[string]string{"cn": "alias"},
		},
		convert: func(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record {
			names := result.Attributes["cn"]
			var addresses []netip.Addr
			for _, text := range result.Attributes[addressAttribute] {
				address, err := netip.ParseAddr(text)
				if err != nil {
					logger.Warn("entry contains an invalid address",
						"kind", kind.Name,
						"dn", result.DN,
						"value", text,
					)
					continue
				}
				addresses = append(addresses, address.Unmap())
			}
			if len(addresses) == 0 {
				logger.Warn("entry has no usable address", "kind", kind.Name, "dn", result.DN)
				return nil
			}
			return []Record{Host{
				Name:        names[0],
				Aliases:     others(names[1:], names[0]),
				Addresses:   addresses,
				addressList: addressAttribute,
			}}
		},
		decode: func(record cache.Record) (Record, error) {
			fields := fieldReader{record: record}
			host := Host{
				Name:        fields.text("cn"),
				Aliases:     fields.list("alias"),
				addressList: addressAttribute,
			}
			for _, text := range fields.list(addressAttribute) {
				address, err := netip.ParseAddr(text)
				if err != nil {
					return nil, err
				}
				host.Addresses = append(host.Addresses, address)
			}
			return host, fields.err
		},
	}
}

var (
	hostKind    = addressKind("host", "hosts", "ipHost", "ipHostNumber")
	networkKind = addressKind("network", "networks", "ipNetwork", "ipNetworkNumber")
)

// readAddress returns a reader taking one address parameter matched
// against attribute.
func readAddress(attribute string) func(*Options) func(*wire.Reader) (Query, error) {
	return func(*Options) func(*wire.Reader) (Query, error) {
		return func(r *wire.Reader) (Query, error) {
			address := r.Address()
			return sameParameters(map[string]string{attribute: address.String()}), nil
		}
	}
}

var hostActions = []actionSpec{
	{action: protocol.ActionHostByName, kind: "host", read: readString("cn")},
	{action: protocol.ActionHostByAddr, kind: "host", read: readAddress("ipHostNumber")},
	{action: protocol.ActionHostAll, kind: "host", enumerate: true, read: readNothing},
}

var networkActions = []actionSpec{
	{action: protocol.ActionNetworkByName, kind: "network", read: readString("cn")},
	{action: protocol.ActionNetworkByAddr, kind: "network", read: readAddress("ipNetworkNumber")},
	{action: protocol.ActionNetworkAll, kind: "network", enumerate: true, read: readNothing},
}
