// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"regexp"
	"strings"
)

// ColumnType is the storage class of a scalar column.
type ColumnType int

const (
	// Text columns hold Go strings.
	Text ColumnType = iota
	// Integer columns hold Go int64 values.
	Integer
)

// Column describes one scalar field of the header table.
type Column struct {
	Name string
	Type ColumnType
	// NoCase makes comparisons on the column case-insensitive.
	NoCase bool
	// Nullable allows a missing value. Key columns are never
	// nullable.
	Nullable bool
	// Unique adds a uniqueness constraint. A write that collides with
	// another key's row replaces that row.
	Unique bool
}

// List describes a one-to-many field, stored in its own child table.
type List struct {
	Name   string
	NoCase bool
}

// Schema declares the cache tables for one record kind.
type Schema struct {
	// Kind names the record kind and prefixes every table.
	Kind string
	// Key lists the natural key columns, in order.
	Key []string
	// Columns lists every scalar column, key columns included.
	Columns []Column
	// Lists are the one-to-many fields.
	Lists []List
	// Aliases maps a column to a list whose values are alternative
	// names: a query on the column also matches rows whose list
	// contains the value.
	Aliases map[string]string
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// reserved names cannot be used for columns or lists.
var reserved = map[string]bool{"mtime": true, "value": true}

// validate checks internal consistency.
func (s *Schema) validate() error {
	if !identifierPattern.MatchString(s.Kind) {
		return fmt.Errorf("cache: invalid kind %q", s.Kind)
	}
	if len(s.Key) == 0 {
		return fmt.Errorf("cache %s: key is required", s.Kind)
	}
	names := make(map[string]bool)
	for _, column := range s.Columns {
		if !identifierPattern.MatchString(column.Name) || reserved[strings.ToLower(column.Name)] {
			return fmt.Errorf("cache %s: invalid column name %q", s.Kind, column.Name)
		}
		if names[column.Name] {
			return fmt.Errorf("cache %s: duplicate name %q", s.Kind, column.Name)
		}
		names[column.Name] = true
	}
	for _, key := range s.Key {
		column, ok := s.column(key)
		if !ok {
			return fmt.Errorf("cache %s: key %q is not a column", s.Kind, key)
		}
		if column.Nullable {
			return fmt.Errorf("cache %s: key column %q cannot be nullable", s.Kind, key)
		}
	}
	for _, list := range s.Lists {
		if !identifierPattern.MatchString(list.Name) || reserved[strings.ToLower(list.Name)] {
			return fmt.Errorf("cache %s: invalid list name %q", s.Kind, list.Name)
		}
		if names[list.Name] {
			return fmt.Errorf("cache %s: duplicate name %q", s.Kind, list.Name)
		}
		names[list.Name] = true
	}
	for column, list := range s.Aliases {
		if _, ok := s.column(column); !ok {
			return fmt.Errorf("cache %s: alias column %q is not a column", s.Kind, column)
		}
		if _, ok := s.list(list); !ok {
			return fmt.Errorf("cache %s: alias list %q is not a list", s.Kind, list)
		}
	}
	return nil
}

func (s *Schema) column(name string) (Column, bool) {
	for _, column := range s.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

func (s *Schema) list(name string) (List, bool) {
	for _, list := range s.Lists {
		if list.Name == name {
			return list, true
		}
	}
	return List{}, false
}

func (s *Schema) headerTable() string { return s.Kind + "_cache" }

func (s *Schema) listTable(list List) string { return s.Kind + "_" + list.Name + "_cache" }

// orderedColumns returns key columns first, then the rest in
// declaration order.
func (s *Schema) orderedColumns() []Column {
	ordered := make([]Column, 0, len(s.Columns))
	for _, key := range s.Key {
		column, _ := s.column(key)
		ordered = append(ordered, column)
	}
	for _, column := range s.Columns {
		if !s.isKey(column.Name) {
			ordered = append(ordered, column)
		}
	}
	return ordered
}

func (s *Schema) isKey(name string) bool {
	for _, key := range s.Key {
		if key == name {
			return true
		}
	}
	return false
}

// ddl returns the statements creating the kind's tables and indexes.
// Every statement is idempotent.
func (s *Schema) ddl() []string {
	var statements []string

	var header strings.Builder
	fmt.Fprintf(&header, "CREATE TABLE IF NOT EXISTS %s (", quote(s.headerTable()))
	for _, column := range s.orderedColumns() {
		header.WriteString("\n  " + columnDefinition(column, !column.Nullable))
		if column.Unique {
			header.WriteString(" UNIQUE")
		}
		header.WriteString(",")
	}
	header.WriteString("\n  `mtime` INTEGER NOT NULL,")
	fmt.Fprintf(&header, "\n  PRIMARY KEY (%s)\n)", quotedList(s.Key))
	statements = append(statements, header.String())

	for _, list := range s.Lists {
		table := s.listTable(list)
		var child strings.Builder
		fmt.Fprintf(&child, "CREATE TABLE IF NOT EXISTS %s (", quote(table))
		for _, key := range s.Key {
			column, _ := s.column(key)
			child.WriteString("\n  " + columnDefinition(column, true) + ",")
		}
		valueCollation := ""
		if list.NoCase {
			valueCollation = " COLLATE NOCASE"
		}
		fmt.Fprintf(&child, "\n  `value` TEXT NOT NULL%s,", valueCollation)
		fmt.Fprintf(&child, "\n  FOREIGN KEY (%s) REFERENCES %s (%s)\n    ON DELETE CASCADE ON UPDATE CASCADE\n)",
			quotedList(s.Key), quote(s.headerTable()), quotedList(s.Key))
		statements = append(statements,
			child.String(),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote(table+"_key_idx"), quote(table), quotedList(s.Key)),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (`value`)",
				quote(table+"_value_idx"), quote(table)),
		)
	}
	return statements
}

func columnDefinition(column Column, notNull bool) string {
	definition := quote(column.Name)
	if column.Type == Integer {
		definition += " INTEGER"
	} else {
		definition += " TEXT"
	}
	if notNull {
		definition += " NOT NULL"
	}
	if column.NoCase {
		definition += " COLLATE NOCASE"
	}
	return definition
}

func quote(identifier string) string { return "`" + identifier + "`" }

func quotedList(identifiers []string) string {
	quoted := make([]string, len(identifiers))
	for i, identifier := range identifiers {
		quoted[i] = quote(identifier)
	}
	return strings.Join(quoted, ", ")
}
