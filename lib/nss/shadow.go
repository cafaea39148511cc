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

// Shadow is a shadow password entry. Day counts are days since the
// epoch; -1 means unset.
type Shadow struct {
	Name       string
	Password   string
	LastChange int32
	Min        int32
	Max        int32
	Warning    int32
	Inactive   int32
	Expire     int32
	Flag       int32
}

func (s Shadow) Write(w *wire.Writer) {
	begin(w)
	w.String(s.Name)
	w.String(s.Password)
	w.Int32(s.LastChange)
	w.Int32(s.Min)
	w.Int32(s.Max)
	w.Int32(s.Warning)
	w.Int32(s.Inactive)
	w.Int32(s.Expire)
	w.Int32(s.Flag)
}

func (s Shadow) cacheRecord() cache.Record {
	return cache.Record{Fields: map[string]any{
		"uid":              s.Name,
		"userPassword":     s.Password,
		"shadowLastChange": s.LastChange,
		"shadowMin":        s.Min,
		"shadowMax":        s.Max,
		"shadowWarning":    s.Warning,
		"shadowInactive":   s.Inactive,
		"shadowExpire":     s.Expire,
		"shadowFlag":       s.Flag,
	}}
}

// Active Directory account control bit meaning the password never
// expires.
const dontExpirePassword = 0x10000

// shadowNumbers are the numeric shadow fields in wire order.
var shadowNumbers = []string{
	"shadowLastChange",
	"shadowMin",
	"shadowMax",
	"shadowWarning",
	"shadowInactive",
	"shadowExpire",
	"shadowFlag",
}

func shadowColumns() []cache.Column {
	columns := []cache.Column{
		{Name: "uid"},
		{Name: "userPassword", Nullable: true},
	}
	for _, name := range shadowNumbers {
		columns = append(columns, cache.Column{Name: name, Type: cache.Integer})
	}
	return columns
}

var shadowKind = kindSpec{
	name:     "shadow",
	database: "shadow",
	filter:   "(objectClass=shadowAccount)",
	attmap: []attmap.Pair{
		{Name: "uid", Mapping: "uid"},
		{Name: "userPassword", Mapping: `"*"`},
		{Name: "shadowLastChange", Mapping: `"${shadowLastChange:--1}"`},
		{Name: "shadowMin", Mapping: `"${shadowMin:--1}"`},
		{Name: "shadowMax", Mapping: `"${shadowMax:--1}"`},
		{Name: "shadowWarning", Mapping: `"${shadowWarning:--1}"`},
		{Name: "shadowInactive", Mapping: `"${shadowInactive:--1}"`},
		{Name: "shadowExpire", Mapping: `"${shadowExpire:--1}"`},
		{Name: "shadowFlag", Mapping: `"${shadowFlag:-0}"`},
	},
	rules: search.Rules{
		Required:        []string{"uid"},
		CaseSensitive:   []string{"uid"},
		LimitAttributes: []string{"uid"},
	},
	schema: &cache.Schema{
		Kind:    "shadow",
		Key:     []string{"uid"},
		Columns: shadowColumns(),
	},
	convert: convertShadow,
	decode: func(record cache.Record) (Record, error) {
		fields := fieldReader{record: record}
		shadow := Shadow{
			Name:       fields.text("uid"),
			Password:   fields.text("userPassword"),
			LastChange: fields.int("shadowLastChange"),
			Min:        fields.int("shadowMin"),
			Max:        fields.int("shadowMax"),
			Warning:    fields.int("shadowWarning"),
			Inactive:   fields.int("shadowInactive"),
			Expire:     fields.int("shadowExpire"),
			Flag:       fields.int("shadowFlag"),
		}
		return shadow, fields.err
	},
}

// mappedToPwdLastSet reports whether name is mapped straight to the
// Active Directory pwdLastSet attribute.
func mappedToPwdLastSet(kind *Kind, name string) bool {
	mapping, ok := kind.mapping(name)
	return ok && mapping.Form == attmap.FormAttribute && strings.EqualFold(mapping.Attribute, "pwdLastSet")
}

func convertShadow(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record {
	activeDirectory := mappedToPwdLastSet(kind, "shadowLastChange")

	numbers := make(map[string]int64, len(shadowNumbers))
	for _, name := range shadowNumbers {
		text := result.First(name)
		value, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			logger.Warn("entry contains a non-numeric value",
				"kind", kind.Name,
				"dn", result.DN,
				"attribute", kind.Definition.Map.Attribute(name),
				"value", text,
			)
			return nil
		}
		numbers[name] = value
	}
	if activeDirectory {
		// 100ns intervals since 1601 to days since 1970.
		if numbers["shadowLastChange"] > 0 {
			numbers["shadowLastChange"] = numbers["shadowLastChange"]/864000000000 - 134774
		}
		if numbers["shadowFlag"]&dontExpirePassword != 0 {
			numbers["shadowMax"] = 99999
		}
		numbers["shadowFlag"] = 0
	}

	password := result.First("userPassword")
	var records []Record
	for _, name := range result.Attributes["uid"] {
		records = append(records, Shadow{
			Name:       name,
			Password:   password,
			LastChange: int32(numbers["shadowLastChange"]),
			Min:        int32(numbers["shadowMin"]),
			Max:        int32(numbers["shadowMax"]),
			Warning:    int32(numbers["shadowWarning"]),
			Inactive:   int32(numbers["shadowInactive"]),
			Expire:     int32(numbers["shadowExpire"]),
			Flag:       int32(numbers["shadowFlag"]),
		})
	}
	return records
}

// hidePassword replaces the password hash with "*" for callers other
// than root.
func hidePassword(*Options) func(*Env, Query, Record) (Record, bool) {
	return func(env *Env, query Query, record Record) (Record, bool) {
		shadow, ok := record.(Shadow)
		if !ok {
			return record, true
		}
		if env.CallerUID != 0 || shadow.Password == "" {
			shadow.Password = "*"
		}
		return shadow, true
	}
}

var shadowActions = []actionSpec{
	{action: protocol.ActionShadowByName, kind: "shadow", read: readString("uid"), shape: hidePassword},
	{action: protocol.ActionShadowAll, kind: "shadow", enumerate: true, read: readNothing, shape: hidePassword},
}
