// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Bindings supplies variable values during evaluation.
type Bindings interface {
	// Values returns the values bound to name, or nil if unbound.
	Values(name string) []string
}

// Values is a Bindings backed by a map with exact-match keys.
type Values map[string][]string

// Values implements Bindings.
func (v Values) Values(name string) []string { return v[name] }

// Operator identifies the operation applied to a braced reference.
type Operator int

const (
	// OpNone is a plain reference: $name or ${name}.
	OpNone Operator = iota
	// OpDefault is ${name:-word}.
	OpDefault
	// OpAlternate is ${name:+word}.
	OpAlternate
	// OpSubstring is ${name:offset:length}.
	OpSubstring
	// OpTrimPrefixShort is ${name#glob}.
	OpTrimPrefixShort
	// OpTrimPrefixLong is ${name##glob}.
	OpTrimPrefixLong
	// OpTrimSuffixShort is ${name%glob}.
	OpTrimSuffixShort
	// OpTrimSuffixLong is ${name%%glob}.
	OpTrimSuffixLong
	// OpLower is $(lower(word)).
	OpLower
	// OpUpper is $(upper(word)).
	OpUpper
)

var operatorNames = map[Operator]string{
	OpNone:            "",
	OpDefault:         ":-",
	OpAlternate:       ":+",
	OpSubstring:       ":",
	OpTrimPrefixShort: "#",
	OpTrimPrefixLong:  "##",
	OpTrimSuffixShort: "%",
	OpTrimSuffixLong:  "%%",
	OpLower:           "lower",
	OpUpper:           "upper",
}

func (op Operator) String() string { return operatorNames[op] }

// Expression is a parsed mapping expression. It is immutable and safe
// for concurrent use.
type Expression struct {
	text  string
	parts []node
}

type node interface {
	evaluate(b Bindings, out *strings.Builder)
	collect(names map[string]struct{})
}

type literal string

func (l literal) evaluate(_ Bindings, out *strings.Builder) { out.WriteString(string(l)) }
func (literal) collect(map[string]struct{})                  {}

// reference is a $name or ${name...} form, or a $(func(...)) call when
// op is OpLower or OpUpper (name is then empty).
type reference struct {
	name    string
	op      Operator
	operand *Expression

	// offset and length are set for OpSubstring unless dynamicBounds,
	// when the operand is evaluated and parsed on every use.
	offset, length int
	dynamicBounds  bool

	// pattern is precompiled for trim operators whose operand contains
	// no variable references.
	pattern *regexp.Regexp
}

func (r *reference) evaluate(b Bindings, out *strings.Builder) {
	switch r.op {
	case OpLower:
		// Casers carry state and must not be shared between goroutines.
		out.WriteString(cases.Lower(language.Und).String(r.operand.Evaluate(b)))
		return
	case OpUpper:
		out.WriteString(cases.Upper(language.Und).String(r.operand.Evaluate(b)))
		return
	}

	value := first(b.Values(r.name))
	switch r.op {
	case OpNone:
		out.WriteString(value)
	case OpDefault:
		if value != "" {
			out.WriteString(value)
		} else {
			out.WriteString(r.operand.Evaluate(b))
		}
	case OpAlternate:
		if value != "" {
			out.WriteString(r.operand.Evaluate(b))
		}
	case OpSubstring:
		offset, length := r.offset, r.length
		if r.dynamicBounds {
			var err error
			offset, length, err = parseBounds(r.operand.Evaluate(b))
			if err != nil {
				return
			}
		}
		out.WriteString(substring(value, offset, length))
	case OpTrimPrefixShort, OpTrimPrefixLong, OpTrimSuffixShort, OpTrimSuffixLong:
		pattern := r.pattern
		if pattern == nil {
			pattern = compileTrim(r.op, r.operand.Evaluate(b))
		}
		if match := pattern.FindStringSubmatch(value); match != nil {
			out.WriteString(match[1])
		} else {
			out.WriteString(value)
		}
	}
}

func (r *reference) collect(names map[string]struct{}) {
	if r.name != "" {
		names[r.name] = struct{}{}
	}
	if r.operand != nil {
		r.operand.collect(names)
	}
}

// first returns the first element of values, or "" when empty.
func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// substring slices value by rune offsets, clamping to the value's
// length.
func substring(value string, offset, length int) string {
	runes := []rune(value)
	if offset >= len(runes) {
		return ""
	}
	end := offset + length
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[offset:end])
}

// Evaluate expands the expression against b.
func (e *Expression) Evaluate(b Bindings) string {
	if b == nil {
		b = Values(nil)
	}
	var out strings.Builder
	for _, part := range e.parts {
		part.evaluate(b, &out)
	}
	return out.String()
}

// ReferencedNames returns the sorted set of variable names used
// anywhere in the expression, including inside operands.
func (e *Expression) ReferencedNames() []string {
	set := make(map[string]struct{})
	e.collect(set)
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Expression) collect(names map[string]struct{}) {
	for _, part := range e.parts {
		part.collect(names)
	}
}

// IsLiteral reports whether the expression contains no references.
func (e *Expression) IsLiteral() bool {
	for _, part := range e.parts {
		if _, ok := part.(literal); !ok {
			return false
		}
	}
	return true
}

// String returns the source text the expression was parsed from.
func (e *Expression) String() string { return e.text }
