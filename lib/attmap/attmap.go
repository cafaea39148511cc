// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package attmap maps logical record fields onto directory attributes.
//
// A mapping is written in one of three forms:
//
//	uidNumber            a plain directory attribute
//	"${gecos:-$cn}"      a quoted expression (see package expr)
//	lower(uid)           a function applied to every value of an attribute
//
// A Map is built once from configuration and is read-only afterwards.
package attmap

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bureau-foundation/dircache/lib/directory"
	"github.com/bureau-foundation/dircache/lib/expr"
)

// Form identifies how a logical name is mapped.
type Form int

const (
	// FormAttribute copies a directory attribute verbatim.
	FormAttribute Form = iota
	// FormExpression evaluates an expression once per entry.
	FormExpression
	// FormFunction applies a function to each attribute value.
	FormFunction
)

// Function is a value transformation usable in the function form.
type Function string

const (
	FunctionLower Function = "lower"
	FunctionUpper Function = "upper"
)

func (f Function) apply(value string) string {
	switch f {
	case FunctionLower:
		return cases.Lower(language.Und).String(value)
	case FunctionUpper:
		return cases.Upper(language.Und).String(value)
	}
	return value
}

// ErrNotFilterable is returned by Filter for expression mappings.
var ErrNotFilterable = errors.New("expression mapping cannot be used in a filter")

// Mapping is one parsed mapping.
type Mapping struct {
	Form Form
	// Attribute is the directory attribute for FormAttribute and
	// FormFunction.
	Attribute string
	// Function is set for FormFunction.
	Function Function
	// Expression is set for FormExpression.
	Expression *expr.Expression

	source string
}

// String returns the mapping as written in configuration.
func (m Mapping) String() string { return m.source }

// ParseMapping parses one mapping in any of the three forms.
func ParseMapping(text string) (Mapping, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Mapping{}, fmt.Errorf("empty mapping")
	}

	if strings.HasPrefix(trimmed, `"`) {
		if len(trimmed) < 2 || !strings.HasSuffix(trimmed, `"`) {
			return Mapping{}, fmt.Errorf("unterminated quoted expression %s", trimmed)
		}
		expression, err := expr.Parse(trimmed[1 : len(trimmed)-1])
		if err != nil {
			return Mapping{}, err
		}
		return Mapping{Form: FormExpression, Expression: expression, source: trimmed}, nil
	}

	if open := strings.IndexByte(trimmed, '('); open >= 0 {
		if !strings.HasSuffix(trimmed, ")") {
			return Mapping{}, fmt.Errorf("malformed function mapping %q", trimmed)
		}
		function := Function(trimmed[:open])
		if function != FunctionLower && function != FunctionUpper {
			return Mapping{}, fmt.Errorf("unknown mapping function %q", function)
		}
		attribute := strings.TrimSpace(trimmed[open+1 : len(trimmed)-1])
		if !validAttribute(attribute) {
			return Mapping{}, fmt.Errorf("invalid attribute %q in %q", attribute, trimmed)
		}
		return Mapping{Form: FormFunction, Attribute: attribute, Function: function, source: trimmed}, nil
	}

	if !validAttribute(trimmed) {
		return Mapping{}, fmt.Errorf("invalid attribute name %q", trimmed)
	}
	return Mapping{Form: FormAttribute, Attribute: trimmed, source: trimmed}, nil
}

// validAttribute accepts attribute descriptions: a letter followed by
// letters, digits, hyphens and semicolon-separated options, or a
// numeric OID.
func validAttribute(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == ';', c == '.':
		default:
			return false
		}
	}
	return true
}

// Pair is one logical name with its mapping text, used to build a Map
// in a fixed order.
type Pair struct {
	Name    string
	Mapping string
}

// Map is an ordered table of logical name to Mapping.
type Map struct {
	names    []string
	mappings map[string]Mapping
}

// New parses pairs into a Map. Duplicate names are an error.
func New(pairs ...Pair) (*Map, error) {
	m := &Map{mappings: make(map[string]Mapping, len(pairs))}
	for _, pair := range pairs {
		if _, exists := m.mappings[pair.Name]; exists {
			return nil, fmt.Errorf("attmap: duplicate name %q", pair.Name)
		}
		if err := m.Set(pair.Name, pair.Mapping); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is like New but panics on error. Intended for built-in
// default tables.
func MustNew(pairs ...Pair) *Map {
	m, err := New(pairs...)
	if err != nil {
		panic(err)
	}
	return m
}

// Set adds or replaces the mapping for name.
func (m *Map) Set(name, text string) error {
	mapping, err := ParseMapping(text)
	if err != nil {
		return fmt.Errorf("attmap: %s: %w", name, err)
	}
	if _, exists := m.mappings[name]; !exists {
		m.names = append(m.names, name)
	}
	m.mappings[name] = mapping
	return nil
}

// Clone returns an independent copy that can be modified with Set.
func (m *Map) Clone() *Map {
	clone := &Map{
		names:    append([]string(nil), m.names...),
		mappings: make(map[string]Mapping, len(m.mappings)),
	}
	for name, mapping := range m.mappings {
		clone.mappings[name] = mapping
	}
	return clone
}

// Names returns the logical names in table order.
func (m *Map) Names() []string {
	return append([]string(nil), m.names...)
}

// Has reports whether name is mapped.
func (m *Map) Has(name string) bool {
	_, ok := m.mappings[name]
	return ok
}

// Mapping returns the mapping for name.
func (m *Map) Mapping(name string) (Mapping, bool) {
	mapping, ok := m.mappings[name]
	return mapping, ok
}

// Attribute returns a representation of name's mapping fit for log
// messages: the attribute name, or the mapping source text.
func (m *Map) Attribute(name string) string {
	mapping, ok := m.mappings[name]
	if !ok {
		return name
	}
	if mapping.Form == FormAttribute {
		return mapping.Attribute
	}
	return mapping.source
}

// Attributes returns the sorted set of directory attributes referenced
// by every mapping in the table.
func (m *Map) Attributes() []string {
	set := make(map[string]string)
	add := func(attribute string) {
		set[strings.ToLower(attribute)] = attribute
	}
	for _, mapping := range m.mappings {
		switch mapping.Form {
		case FormAttribute, FormFunction:
			add(mapping.Attribute)
		case FormExpression:
			for _, name := range mapping.Expression.ReferencedNames() {
				add(name)
			}
		}
	}
	attributes := make([]string, 0, len(set))
	for _, attribute := range set {
		attributes = append(attributes, attribute)
	}
	sort.Strings(attributes)
	return attributes
}

// Filter returns an equality clause matching value against name's
// attribute, with value escaped.
func (m *Map) Filter(name, value string) (string, error) {
	mapping, ok := m.mappings[name]
	if !ok {
		return "", fmt.Errorf("attmap: no mapping for %q", name)
	}
	if mapping.Form == FormExpression {
		return "", fmt.Errorf("attmap: %s: %w", name, ErrNotFilterable)
	}
	return "(" + mapping.Attribute + "=" + directory.EscapeFilter(value) + ")", nil
}

// Translate maps a directory entry onto logical names. Every name in
// the table is present in the result; names with no values map to an
// empty slice.
func (m *Map) Translate(entry *directory.Entry) map[string][]string {
	result := make(map[string][]string, len(m.names))
	for _, name := range m.names {
		mapping := m.mappings[name]
		switch mapping.Form {
		case FormAttribute:
			result[name] = append([]string{}, entry.Values(mapping.Attribute)...)
		case FormExpression:
			result[name] = []string{mapping.Expression.Evaluate(entry)}
		case FormFunction:
			raw := entry.Values(mapping.Attribute)
			values := make([]string, len(raw))
			for i, value := range raw {
				values[i] = mapping.Function.apply(value)
			}
			result[name] = values
		}
	}
	return result
}

// RDNValue returns the value of name's attribute in the leading RDN of
// dn. Expression mappings have no attribute and never match.
func (m *Map) RDNValue(dn, name string) (string, bool) {
	mapping, ok := m.mappings[name]
	if !ok || mapping.Form == FormExpression {
		return "", false
	}
	value, ok := directory.RDNValue(dn, mapping.Attribute)
	if !ok {
		return "", false
	}
	if mapping.Form == FormFunction {
		value = mapping.Function.apply(value)
	}
	return value, true
}
