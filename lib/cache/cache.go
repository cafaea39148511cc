// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/dircache/lib/clock"
	"github.com/bureau-foundation/dircache/lib/sqlitepool"
)

// Record is the cached form of one lookup result: scalar fields keyed
// by column name and one value list per List.
//
// Field values are string (Text), int64 (Integer) or nil (a nullable
// column with no value). Retrieve always returns every declared list,
// empty lists as empty non-nil slices.
type Record struct {
	Fields map[string]any
	Lists  map[string][]string
}

// Config holds the parameters for opening a cache.
type Config struct {
	// Path is the SQLite database file.
	Path string
	// PoolSize defaults to the sqlitepool default.
	PoolSize int
	// Schemas declares every cached kind.
	Schemas []*Schema
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Cache is the persistent lookup cache shared by all workers. Writers
// are serialized by SQLite's IMMEDIATE transactions; no other locking
// is used.
type Cache struct {
	pool   *sqlitepool.Pool
	tables map[string]*Table
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens (creating if needed) the cache database and ensures every
// schema's tables exist.
func Open(config Config) (*Cache, error) {
	if config.Logger == nil {
		return nil, fmt.Errorf("cache: Logger is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var statements []string
	tables := make(map[string]*Table, len(config.Schemas))
	for _, schema := range config.Schemas {
		if err := schema.validate(); err != nil {
			return nil, err
		}
		if _, exists := tables[schema.Kind]; exists {
			return nil, fmt.Errorf("cache: duplicate schema for %q", schema.Kind)
		}
		tables[schema.Kind] = nil
		statements = append(statements, schema.ddl()...)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        config.Path,
		PoolSize:    config.PoolSize,
		ForeignKeys: true,
		Logger:      config.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			for _, statement := range statements {
				if err := sqlitex.ExecuteTransient(conn, statement, nil); err != nil {
					return fmt.Errorf("creating cache schema: %w", err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	c := &Cache{pool: pool, tables: tables, clock: clk, logger: config.Logger}
	for _, schema := range config.Schemas {
		tables[schema.Kind] = &Table{cache: c, schema: schema}
	}
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.pool.Close()
}

// Table returns the table set for kind, or nil if kind is not cached.
func (c *Cache) Table(kind string) *Table {
	return c.tables[kind]
}

// Kinds returns the cached kinds in sorted order.
func (c *Cache) Kinds() []string {
	kinds := make([]string, 0, len(c.tables))
	for kind := range c.tables {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Table stores and retrieves the records of one kind.
type Table struct {
	cache  *Cache
	schema *Schema
}

// Kind returns the record kind.
func (t *Table) Kind() string { return t.schema.Kind }

// Store writes records in one transaction. Each header row is upserted
// by natural key and every child list of that key is replaced.
func (t *Table) Store(ctx context.Context, records ...Record) (err error) {
	if len(records) == 0 {
		return nil
	}

	conn, err := t.cache.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cache %s: store: %w", t.schema.Kind, err)
	}
	defer t.cache.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("cache %s: begin transaction: %w", t.schema.Kind, err)
	}
	defer endTransaction(&err)

	mtime := t.cache.clock.Now().Unix()
	for _, record := range records {
		if err := t.storeOne(conn, record, mtime); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) storeOne(conn *sqlite.Conn, record Record, mtime int64) error {
	columns := t.schema.orderedColumns()
	args := make([]any, 0, len(columns)+1)
	for _, column := range columns {
		value, err := columnValue(column, record.Fields[column.Name], t.schema.isKey(column.Name))
		if err != nil {
			return fmt.Errorf("cache %s: %w", t.schema.Kind, err)
		}
		args = append(args, value)
	}
	args = append(args, mtime)

	names := make([]string, 0, len(columns)+1)
	for _, column := range columns {
		names = append(names, column.Name)
	}
	names = append(names, "mtime")
	insert := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quote(t.schema.headerTable()), quotedList(names), placeholders(len(names)))
	if err := sqlitex.Execute(conn, insert, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("cache %s: writing header: %w", t.schema.Kind, err)
	}

	keyArgs := args[:len(t.schema.Key)]
	for _, list := range t.schema.Lists {
		table := quote(t.schema.listTable(list))
		remove := fmt.Sprintf("DELETE FROM %s WHERE %s", table, keyCondition(t.schema.Key, ""))
		if err := sqlitex.Execute(conn, remove, &sqlitex.ExecOptions{Args: keyArgs}); err != nil {
			return fmt.Errorf("cache %s: clearing %s: %w", t.schema.Kind, list.Name, err)
		}
		insertChild := fmt.Sprintf("INSERT INTO %s (%s, `value`) VALUES (%s)",
			table, quotedList(t.schema.Key), placeholders(len(t.schema.Key)+1))
		for _, value := range record.Lists[list.Name] {
			childArgs := append(append([]any(nil), keyArgs...), value)
			if err := sqlitex.Execute(conn, insertChild, &sqlitex.ExecOptions{Args: childArgs}); err != nil {
				return fmt.Errorf("cache %s: writing %s: %w", t.schema.Kind, list.Name, err)
			}
		}
	}
	return nil
}

// columnValue checks and normalizes one field for binding.
func columnValue(column Column, value any, key bool) (any, error) {
	if value == nil {
		if key || !column.Nullable {
			return nil, fmt.Errorf("column %q requires a value", column.Name)
		}
		return nil, nil
	}
	switch column.Type {
	case Integer:
		switch typed := value.(type) {
		case int64:
			return typed, nil
		case int:
			return int64(typed), nil
		case int32:
			return int64(typed), nil
		case uint32:
			return int64(typed), nil
		}
	case Text:
		if typed, ok := value.(string); ok {
			return typed, nil
		}
	}
	return nil, fmt.Errorf("column %q: unexpected value type %T", column.Name, value)
}

// Retrieve calls yield once per cached record matching parameters, in
// natural key order. Parameter names are column names (exact match),
// list names (records whose list contains the value), or aliased
// columns (column match or alias list match). Empty parameters match
// every record.
func (t *Table) Retrieve(ctx context.Context, parameters map[string]string, yield func(Record) error) error {
	where, args, ok, err := t.conditions(parameters)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	conn, err := t.cache.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cache %s: retrieve: %w", t.schema.Kind, err)
	}
	defer t.cache.pool.Put(conn)

	query, queryArgs := t.retrieveQuery(where, args)
	columns := t.schema.orderedColumns()
	listColumn := len(columns)
	valueColumn := len(columns) + 1

	var current *Record
	var currentKey string
	emit := func() error {
		if current == nil {
			return nil
		}
		record := *current
		current = nil
		return yield(record)
	}

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: queryArgs,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			key := rowKey(stmt, columns[:len(t.schema.Key)])
			if current == nil || key != currentKey {
				if err := emit(); err != nil {
					return err
				}
				current = t.newRecord(stmt, columns)
				currentKey = key
			}
			if stmt.ColumnType(listColumn) != sqlite.TypeNull {
				list := stmt.ColumnText(listColumn)
				current.Lists[list] = append(current.Lists[list], stmt.ColumnText(valueColumn))
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("cache %s: retrieve: %w", t.schema.Kind, err)
	}
	return emit()
}

// newRecord reads the header columns of the current row.
func (t *Table) newRecord(stmt *sqlite.Stmt, columns []Column) *Record {
	record := &Record{
		Fields: make(map[string]any, len(columns)),
		Lists:  make(map[string][]string, len(t.schema.Lists)),
	}
	for i, column := range columns {
		switch {
		case stmt.ColumnType(i) == sqlite.TypeNull:
			record.Fields[column.Name] = nil
		case column.Type == Integer:
			record.Fields[column.Name] = stmt.ColumnInt64(i)
		default:
			record.Fields[column.Name] = stmt.ColumnText(i)
		}
	}
	for _, list := range t.schema.Lists {
		record.Lists[list.Name] = []string{}
	}
	return record
}

// rowKey renders the key columns of the current row as one string for
// grouping, folding case where the column compares without it. Key
// columns come first in every branch of the query.
func rowKey(stmt *sqlite.Stmt, keys []Column) string {
	var key strings.Builder
	for i, column := range keys {
		if i > 0 {
			key.WriteByte(0)
		}
		text := stmt.ColumnText(i)
		if column.NoCase {
			text = foldASCII(text)
		}
		key.WriteString(text)
	}
	return key.String()
}

// foldASCII lowercases A-Z only, the folding SQLite's NOCASE collation
// applies. Other letters stay distinct, as they are in the table.
func foldASCII(text string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, text)
}

// conditions builds the WHERE clause over header alias h. ok is false
// when a parameter can never match (a non-numeric value for an
// integer column).
func (t *Table) conditions(parameters map[string]string) (where string, args []any, ok bool, err error) {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	var clauses []string
	for _, name := range names {
		value := parameters[name]
		if column, found := t.schema.column(name); found {
			var bound any = value
			if column.Type == Integer {
				number, parseErr := strconv.ParseInt(value, 10, 64)
				if parseErr != nil {
					return "", nil, false, nil
				}
				bound = number
			}
			if aliasList, aliased := t.schema.Aliases[name]; aliased {
				list, _ := t.schema.list(aliasList)
				clauses = append(clauses, fmt.Sprintf("(h.%s = ? OR %s)", quote(name), t.containsClause(list)))
				args = append(args, bound, value)
			} else {
				clauses = append(clauses, fmt.Sprintf("h.%s = ?", quote(name)))
				args = append(args, bound)
			}
			continue
		}
		if list, found := t.schema.list(name); found {
			clauses = append(clauses, t.containsClause(list))
			args = append(args, value)
			continue
		}
		return "", nil, false, fmt.Errorf("cache %s: unknown query parameter %q", t.schema.Kind, name)
	}
	if len(clauses) == 0 {
		return "", nil, true, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, true, nil
}

// containsClause matches header rows whose list contains one bound
// value.
func (t *Table) containsClause(list List) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS r WHERE %s AND r.`value` = ?)",
		quote(t.schema.listTable(list)), joinCondition(t.schema.Key, "r", "h"))
}

// retrieveQuery builds a UNION ALL of the header rows and one joined
// branch per list, ordered so that each key's rows are contiguous with
// the header row first and list values in insertion order.
func (t *Table) retrieveQuery(where string, args []any) (string, []any) {
	columns := t.schema.orderedColumns()
	selected := make([]string, len(columns))
	for i, column := range columns {
		selected[i] = "h." + quote(column.Name)
	}
	headerColumns := strings.Join(selected, ", ")

	branches := []string{fmt.Sprintf(
		"SELECT %s, NULL AS _list, NULL AS _value, 0 AS _branch, 0 AS _seq FROM %s AS h%s",
		headerColumns, quote(t.schema.headerTable()), where)}
	queryArgs := append([]any(nil), args...)

	for i, list := range t.schema.Lists {
		branches = append(branches, fmt.Sprintf(
			"SELECT %s, '%s', c.`value`, %d, c.rowid FROM %s AS h JOIN %s AS c ON %s%s",
			headerColumns, list.Name, i+1,
			quote(t.schema.headerTable()), quote(t.schema.listTable(list)),
			joinCondition(t.schema.Key, "c", "h"), where))
		queryArgs = append(queryArgs, args...)
	}

	order := make([]string, 0, len(t.schema.Key)+2)
	for i := range t.schema.Key {
		order = append(order, strconv.Itoa(i+1))
	}
	order = append(order, strconv.Itoa(len(columns)+3), strconv.Itoa(len(columns)+4))

	return strings.Join(branches, " UNION ALL ") + " ORDER BY " + strings.Join(order, ", "), queryArgs
}

// Stats summarizes one kind's header table.
type Stats struct {
	Kind    string `json:"kind"`
	Records int64  `json:"records"`
	// Newest is the Unix time of the most recent write, zero when the
	// table is empty.
	Newest int64 `json:"newest"`
	Oldest int64 `json:"oldest"`
}

// Stats returns row counts and write times per kind, in kind order.
func (c *Cache) Stats(ctx context.Context) ([]Stats, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: stats: %w", err)
	}
	defer c.pool.Put(conn)

	var stats []Stats
	for _, kind := range c.Kinds() {
		schema := c.tables[kind].schema
		entry := Stats{Kind: kind}
		query := fmt.Sprintf("SELECT COUNT(*), COALESCE(MAX(`mtime`), 0), COALESCE(MIN(`mtime`), 0) FROM %s",
			quote(schema.headerTable()))
		err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry.Records = stmt.ColumnInt64(0)
				entry.Newest = stmt.ColumnInt64(1)
				entry.Oldest = stmt.ColumnInt64(2)
				return nil
			},
		})
		if err != nil {
			return nil, fmt.Errorf("cache: stats for %s: %w", kind, err)
		}
		stats = append(stats, entry)
	}
	return stats, nil
}

func placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

// keyCondition matches the key columns against positional arguments.
func keyCondition(key []string, alias string) string {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	clauses := make([]string, len(key))
	for i, name := range key {
		clauses[i] = prefix + quote(name) + " = ?"
	}
	return strings.Join(clauses, " AND ")
}

// joinCondition equates the key columns of two table aliases.
func joinCondition(key []string, left, right string) string {
	clauses := make([]string, len(key))
	for i, name := range key {
		clauses[i] = fmt.Sprintf("%s.%s = %s.%s", left, quote(name), right, quote(name))
	}
	return strings.Join(clauses, " AND ")
}
