// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nssclient

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/bureau-foundation/dircache/lib/nss"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/wire"
)

var (
	// ErrUnknownDatabase is returned by Getent for a database name it
	// does not know.
	ErrUnknownDatabase = errors.New("unknown database")
	// ErrNotFound is returned by Getent when a keyed lookup has no
	// results.
	ErrNotFound = errors.New("not found")
	// ErrKeyRequired is returned for databases that cannot be
	// enumerated.
	ErrKeyRequired = errors.New("a key is required")
)

// request is one encoded lookup.
type request struct {
	action protocol.Action
	encode func(*wire.Writer)
}

type database struct {
	// all is zero for databases that cannot be enumerated.
	all protocol.Action
	// keyed picks the lookup for a key.
	keyed func(key string) (request, error)
	// decode renders one result tuple.
	decode func(*wire.Reader) (string, error)
	// combine, when set, folds all rendered tuples into the output
	// lines.
	combine func(key string, parts []string) []string
}

var databases = map[string]database{
	"passwd": {
		all:    protocol.ActionPasswdAll,
		keyed:  byNameOrNumber(protocol.ActionPasswdByName, protocol.ActionPasswdByUID),
		decode: plain(decodePasswd),
	},
	"group": {
		all:    protocol.ActionGroupAll,
		keyed:  byNameOrNumber(protocol.ActionGroupByName, protocol.ActionGroupByGID),
		decode: plain(decodeGroup),
	},
	"initgroups": {
		keyed:   byName(protocol.ActionGroupByMember),
		decode:  plain(decodeGroupID),
		combine: func(key string, parts []string) []string {
			return []string{strings.Join(append([]string{key}, parts...), " ")}
		},
	},
	"shadow": {
		all:    protocol.ActionShadowAll,
		keyed:  byName(protocol.ActionShadowByName),
		decode: plain(decodeShadow),
	},
	"hosts": {
		all:    protocol.ActionHostAll,
		keyed:  byNameOrAddress(protocol.ActionHostByName, protocol.ActionHostByAddr),
		decode: plain(decodeHost),
	},
	"networks": {
		all:    protocol.ActionNetworkAll,
		keyed:  byNameOrAddress(protocol.ActionNetworkByName, protocol.ActionNetworkByAddr),
		decode: plain(decodeNetwork),
	},
	"services": {
		all:    protocol.ActionServiceAll,
		keyed:  serviceLookup,
		decode: plain(decodeService),
	},
	"protocols": {
		all:    protocol.ActionProtocolAll,
		keyed:  byNameOrNumber(protocol.ActionProtocolByName, protocol.ActionProtocolByNumber),
		decode: plain(decodeNumbered),
	},
	"rpc": {
		all:    protocol.ActionRPCAll,
		keyed:  byNameOrNumber(protocol.ActionRPCByName, protocol.ActionRPCByNumber),
		decode: plain(decodeNumbered),
	},
	"ethers": {
		all:    protocol.ActionEtherAll,
		keyed:  etherLookup,
		decode: plain(decodeEther),
	},
	"aliases": {
		all:    protocol.ActionAliasAll,
		keyed:  byName(protocol.ActionAliasByName),
		decode: plain(decodeAlias),
	},
	"netgroup": {
		keyed:   byName(protocol.ActionNetgroupByName),
		decode:  decodeNetgroupMember,
		combine: func(key string, parts []string) []string {
			return []string{strings.Join(append([]string{key}, parts...), " ")}
		},
	},
}

// Databases returns the database names Getent accepts, sorted.
func Databases() []string {
	names := make([]string, 0, len(databases))
	for name := range databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Getent looks up key in the named database, or enumerates it when key
// is empty, and returns the entries formatted as getent(1) prints them.
// A keyed lookup with no results returns ErrNotFound.
func (c *Client) Getent(ctx context.Context, name, key string) ([]string, error) {
	db, ok := databases[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownDatabase, name)
	}

	var req request
	if key == "" {
		if db.all == 0 {
			return nil, fmt.Errorf("%s: %w", name, ErrKeyRequired)
		}
		req = request{action: db.all}
	} else {
		var err error
		req, err = db.keyed(key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	var parts []string
	_, err := c.Do(ctx, req.action, req.encode, func(r *wire.Reader) error {
		part, err := db.decode(r)
		if err != nil {
			return err
		}
		parts = append(parts, part)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if key != "" && len(parts) == 0 {
		return nil, fmt.Errorf("%s %q: %w", name, key, ErrNotFound)
	}
	if db.combine != nil && len(parts) > 0 {
		return db.combine(key, parts), nil
	}
	return parts, nil
}

func byName(action protocol.Action) func(string) (request, error) {
	return func(key string) (request, error) {
		return request{action: action, encode: func(w *wire.Writer) { w.String(key) }}, nil
	}
}

func byNameOrNumber(byName, byNumber protocol.Action) func(string) (request, error) {
	return func(key string) (request, error) {
		if number, err := strconv.ParseInt(key, 10, 32); err == nil {
			return request{action: byNumber, encode: func(w *wire.Writer) { w.Int32(int32(number)) }}, nil
		}
		return request{action: byName, encode: func(w *wire.Writer) { w.String(key) }}, nil
	}
}

func byNameOrAddress(byName, byAddress protocol.Action) func(string) (request, error) {
	return func(key string) (request, error) {
		if address, err := netip.ParseAddr(key); err == nil {
			return request{action: byAddress, encode: func(w *wire.Writer) { w.Address(address) }}, nil
		}
		return request{action: byName, encode: func(w *wire.Writer) { w.String(key) }}, nil
	}
}

func etherLookup(key string) (request, error) {
	if mac, err := nss.ParseMAC(key); err == nil {
		return request{action: protocol.ActionEtherByEther, encode: func(w *wire.Writer) { w.Ether(mac) }}, nil
	}
	return request{action: protocol.ActionEtherByName, encode: func(w *wire.Writer) { w.String(key) }}, nil
}

// serviceLookup accepts "name", "name/protocol", "port" and
// "port/protocol".
func serviceLookup(key string) (request, error) {
	service, protocolName, _ := strings.Cut(key, "/")
	if service == "" {
		return request{}, fmt.Errorf("invalid service key %q", key)
	}
	if port, err := strconv.ParseInt(service, 10, 32); err == nil {
		return request{action: protocol.ActionServiceByNumber, encode: func(w *wire.Writer) {
			w.Int32(int32(port))
			w.String(protocolName)
		}}, nil
	}
	return request{action: protocol.ActionServiceByName, encode: func(w *wire.Writer) {
		w.String(service)
		w.String(protocolName)
	}}, nil
}

func plain(decode func(*wire.Reader) string) func(*wire.Reader) (string, error) {
	return func(r *wire.Reader) (string, error) { return decode(r), nil }
}

func decodePasswd(r *wire.Reader) string {
	name, password := r.String(), r.String()
	uid, gid := r.Int32(), r.Int32()
	gecos, home, shell := r.String(), r.String(), r.String()
	return fmt.Sprintf("%s:%s:%d:%d:%s:%s:%s", name, password, uid, gid, gecos, home, shell)
}

func decodeGroup(r *wire.Reader) string {
	name, password := r.String(), r.String()
	gid := r.Int32()
	members := r.StringList()
	return fmt.Sprintf("%s:%s:%d:%s", name, password, gid, strings.Join(members, ","))
}

func decodeGroupID(r *wire.Reader) string {
	r.String()
	r.String()
	gid := r.Int32()
	r.StringList()
	return strconv.Itoa(int(gid))
}

// decodeShadow prints unset numeric fields (-1) as empty, as
// /etc/shadow does.
func decodeShadow(r *wire.Reader) string {
	fields := []string{r.String(), r.String()}
	for range 7 {
		value := r.Int32()
		if value == -1 {
			fields = append(fields, "")
		} else {
			fields = append(fields, strconv.Itoa(int(value)))
		}
	}
	return strings.Join(fields, ":")
}

// decodeHost prints one line per address.
func decodeHost(r *wire.Reader) string {
	name := r.String()
	aliases := r.StringList()
	addresses := r.AddressList()
	names := strings.Join(append([]string{name}, aliases...), " ")
	lines := make([]string, len(addresses))
	for i, address := range addresses {
		lines[i] = fmt.Sprintf("%-15s %s", address, names)
	}
	return strings.Join(lines, "\n")
}

func decodeNetwork(r *wire.Reader) string {
	name := r.String()
	aliases := r.StringList()
	addresses := r.AddressList()
	var address string
	if len(addresses) > 0 {
		address = addresses[0].String()
	}
	return strings.Join(append([]string{fmt.Sprintf("%-21s %s", name, address)}, aliases...), " ")
}

func decodeService(r *wire.Reader) string {
	name := r.String()
	aliases := r.StringList()
	port := r.Int32()
	protocolName := r.String()
	return strings.Join(append([]string{fmt.Sprintf("%-21s %d/%s", name, port, protocolName)}, aliases...), " ")
}

func decodeNumbered(r *wire.Reader) string {
	name := r.String()
	aliases := r.StringList()
	number := r.Int32()
	return strings.Join(append([]string{fmt.Sprintf("%-21s %d", name, number)}, aliases...), " ")
}

func decodeEther(r *wire.Reader) string {
	name := r.String()
	mac := r.Ether()
	return fmt.Sprintf("%s %s", nss.FormatMAC(mac), name)
}

func decodeAlias(r *wire.Reader) string {
	name := r.String()
	members := r.StringList()
	return fmt.Sprintf("%s: %s", name, strings.Join(members, ","))
}

// decodeNetgroupMember renders one netgroup tuple: a triple or the
// name of a member netgroup. The payload of an unknown member type has
// no known length, so the response cannot be read further.
func decodeNetgroupMember(r *wire.Reader) (string, error) {
	switch memberType := r.Int32(); memberType {
	case protocol.NetgroupTypeTriple:
		triple := nss.Triple{Host: r.String(), User: r.String(), Domain: r.String()}
		return triple.String(), nil
	case protocol.NetgroupTypeNetgroup:
		return r.String(), nil
	default:
		if r.Err() != nil {
			return "", nil
		}
		return "", fmt.Errorf("%w: netgroup member type %d", ErrUnexpectedResponse, memberType)
	}
}
