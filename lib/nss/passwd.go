// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"log/slog"
	"strconv"

	"golang.org/x/text/cases"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// Passwd is a user account.
type Passwd struct {
	Name     string
	Password string
	UID      int32
	GID      int32
	Gecos    string
	Home     string
	Shell    string
}

func (p Passwd) Write(w *wire.Writer) {
	begin(w)
	w.String(p.Name)
	w.String(p.Password)
	w.Int32(p.UID)
	w.Int32(p.GID)
	w.String(p.Gecos)
	w.String(p.Home)
	w.String(p.Shell)
}

func (p Passwd) cacheRecord() cache.Record {
	return cache.Record{Fields: map[string]any{
		"uid":           p.Name,
		"userPassword":  p.Password,
		"uidNumber":     p.UID,
		"gidNumber":     p.GID,
		"gecos":         p.Gecos,
		"homeDirectory": p.Home,
		"loginShell":    p.Shell,
	}}
}

var passwdKind = kindSpec{
	name:     "passwd",
	database: "passwd",
	filter:   "(objectClass=posixAccount)",
	attmap: []attmap.Pair{
		{Name: "uid", Mapping: "uid"},
		{Name: "userPassword", Mapping: `"*"`},
		{Name: "uidNumber", Mapping: "uidNumber"},
		{Name: "gidNumber", Mapping: "gidNumber"},
		{Name: "gecos", Mapping: `"${gecos:-$cn}"`},
		{Name: "homeDirectory", Mapping: "homeDirectory"},
		{Name: "loginShell", Mapping: "loginShell"},
		{Name: "objectClass", Mapping: "objectClass"},
	},
	rules: search.Rules{
		Required:        []string{"uid", "uidNumber", "gidNumber"},
		CaseSensitive:   []string{"uid", "uidNumber"},
		LimitAttributes: []string{"uid", "uidNumber"},
	},
	schema: &cache.Schema{
		Kind: "passwd",
		Key:  []string{"uid", "uidNumber"},
		Columns: []cache.Column{
			{Name: "uid"},
			{Name: "uidNumber", Type: cache.Integer},
			{Name: "userPassword", Nullable: true},
			{Name: "gidNumber", Type: cache.Integer},
			{Name: "gecos", Nullable: true},
			{Name: "homeDirectory", Nullable: true},
			{Name: "loginShell", Nullable: true},
		},
	},
	convert: convertPasswd,
	decode: func(record cache.Record) (Record, error) {
		fields := fieldReader{record: record}
		passwd := Passwd{
			Name:     fields.text("uid"),
			Password: fields.text("userPassword"),
			UID:      fields.int("uidNumber"),
			GID:      fields.int("gidNumber"),
			Gecos:    fields.text("gecos"),
			Home:     fields.text("homeDirectory"),
			Shell:    fields.text("loginShell"),
		}
		return passwd, fields.err
	},
}

func convertPasswd(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record {
	names := validNames(kind.Name, result, result.Attributes["uid"], logger)
	uids := parseInt32s(kind.Name, result, "uidNumber", result.Attributes["uidNumber"], kind.options.UIDOffset, logger)
	gids := parseInt32s(kind.Name, result, "gidNumber", result.Attributes["gidNumber"][:1], kind.options.GIDOffset, logger)
	if len(gids) == 0 {
		return nil
	}

	password := result.First("userPassword")
	folder := cases.Fold()
	shadowAccount := folder.String("shadowAccount")
	for _, objectClass := range result.Attributes["objectClass"] {
		if folder.String(objectClass) == shadowAccount {
			password = "x"
			break
		}
	}

	var records []Record
	for _, name := range names {
		for _, uid := range uids {
			records = append(records, Passwd{
				Name:     name,
				Password: password,
				UID:      uid,
				GID:      gids[0],
				Gecos:    result.First("gecos"),
				Home:     result.First("homeDirectory"),
				Shell:    result.First("loginShell"),
			})
		}
	}
	return records
}

func readPasswdByUID(options *Options) func(*wire.Reader) (Query, error) {
	return func(r *wire.Reader) (Query, error) {
		uid := int64(r.Int32())
		return Query{
			Search: search.Parameters{"uidNumber": strconv.FormatInt(uid-options.UIDOffset, 10)},
			Cache:  map[string]string{"uidNumber": strconv.FormatInt(uid, 10)},
		}, nil
	}
}

// minimumUID hides accounts below the configured uid floor.
func minimumUID(options *Options) func(*Env, Query, Record) (Record, bool) {
	return func(env *Env, query Query, record Record) (Record, bool) {
		passwd, ok := record.(Passwd)
		if ok && options.MinUID > 0 && int64(passwd.UID) < options.MinUID {
			return nil, false
		}
		return record, true
	}
}

var passwdActions = []actionSpec{
	{action: protocol.ActionPasswdByName, kind: "passwd", read: readString("uid"), shape: minimumUID},
	{action: protocol.ActionPasswdByUID, kind: "passwd", read: readPasswdByUID, shape: minimumUID},
	{action: protocol.ActionPasswdAll, kind: "passwd", enumerate: true, read: readNothing, shape: minimumUID},
}
