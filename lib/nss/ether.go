// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// Ether maps a host name to a hardware address.
type Ether struct {
	Name    string
	Address [6]byte
}

func (e Ether) Write(w *wire.Writer) {
	begin(w)
	w.String(e.Name)
	w.Ether(e.Address)
}

func (e Ether) cacheRecord() cache.Record {
	return cache.Record{
		Fields: map[string]any{"cn": e.Name, "macAddress": FormatMAC(e.Address)},
	}
}

// ParseMAC parses a colon-separated hardware address whose groups may
// omit leading zeros ("0:1b:21:3c:4d:5e").
func ParseMAC(text string) ([6]byte, error) {
	var mac [6]byte
	groups := strings.Split(strings.TrimSpace(text), ":")
	if len(groups) != 6 {
		return mac, fmt.Errorf("invalid hardware address %q", text)
	}
	for i, group := range groups {
		if len(group) == 0 || len(group) > 2 {
			return mac, fmt.Errorf("invalid hardware address %q", text)
		}
		value, err := strconv.ParseUint(group, 16, 8)
		if err != nil {
			return mac, fmt.Errorf("invalid hardware address %q", text)
		}
		mac[i] = byte(value)
	}
	return mac, nil
}

// FormatMAC renders mac with two lowercase digits per group.
func FormatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// shortMAC renders mac without leading zeros, the form most
// directories store.
func shortMAC(mac [6]byte) string {
	return fmt.Sprintf("%x:%x:%x:%x:%x:%x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

var etherKind = kindSpec{
	name:     "ether",
	database: "ethers",
	filter:   "(objectClass=ieee802Device)",
	attmap: []attmap.Pair{
		{Name: "cn", Mapping: "cn"},
		{Name: "macAddress", Mapping: "macAddress"},
	},
	rules: search.Rules{
		Required:        []string{"cn", "macAddress"},
		CaseInsensitive: []string{"cn"},
		LimitAttributes: []string{"cn"},
	},
	schema: &cache.Schema{
		Kind: "ether",
		Key:  []string{"cn", "macAddress"},
		Columns: []cache.Column{
			{Name: "cn", NoCase: true},
			{Name: "macAddress", NoCase: true},
		},
	},
	convert: func(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record {
		var addresses [][6]byte
		for _, text := range result.Attributes["macAddress"] {
			mac, err := ParseMAC(text)
			if err != nil {
				logger.Warn("entry contains an invalid hardware address", "kind", kind.Name, "dn", result.DN, "value", text)
				continue
			}
			if requested, ok := query.Cache["macAddress"]; ok && FormatMAC(mac) != requested {
				continue
			}
			addresses = append(addresses, mac)
		}
		var records []Record
		for _, name := range result.Attributes["cn"] {
			for _, mac := range addresses {
				records = append(records, Ether{Name: name, Address: mac})
			}
		}
		return records
	},
	decode: func(record cache.Record) (Record, error) {
		fields := fieldReader{record: record}
		name := fields.text("cn")
		address := fields.text("macAddress")
		if fields.err != nil {
			return nil, fields.err
		}
		mac, err := ParseMAC(address)
		if err != nil {
			return nil, err
		}
		return Ether{Name: name, Address: mac}, nil
	},
}

func readEther(*Options) func(*wire.Reader) (Query, error) {
	return func(r *wire.Reader) (Query, error) {
		mac := r.Ether()
		return Query{
			Search: search.Parameters{"macAddress": shortMAC(mac)},
			Cache:  map[string]string{"macAddress": FormatMAC(mac)},
		}, nil
	}
}

var etherActions = []actionSpec{
	{action: protocol.ActionEtherByName, kind: "ether", read: readString("cn")},
	{action: protocol.ActionEtherByEther, kind: "ether", read: readEther},
	{action: protocol.ActionEtherAll, kind: "ether", enumerate: true, read: readNothing},
}
