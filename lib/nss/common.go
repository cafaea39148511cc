// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// validNamePattern accepts POSIX portable user and group names plus a
// few characters commonly found in directory-sourced names.
var validNamePattern = regexp.MustCompile(`(?i)^[a-z0-9._@$()]([a-z0-9._@$() \\~-]*[a-z0-9._@$()~-])?$`)

// ValidName reports whether name is acceptable as a user or group
// name.
func ValidName(name string) bool {
	return len(name) < 256 && validNamePattern.MatchString(name)
}

// validNames drops invalid names, logging each.
func validNames(kind string, result search.Result, names []string, logger *slog.Logger) []string {
	valid := make([]string, 0, len(names))
	for _, name := range names {
		if !ValidName(name) {
			logger.Warn("entry contains an invalid name", "kind", kind, "dn", result.DN, "name", name)
			continue
		}
		valid = append(valid, name)
	}
	return valid
}

// parseInt32s converts each value, logging and skipping values that
// are not numbers. offset is added to each.
func parseInt32s(kind string, result search.Result, attribute string, values []string, offset int64, logger *slog.Logger) []int32 {
	numbers := make([]int32, 0, len(values))
	for _, value := range values {
		number, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			number += offset
		}
		if err != nil || number < -1<<31 || number > 1<<31-1 {
			logger.Warn("entry contains a non-numeric value",
				"kind", kind,
				"dn", result.DN,
				"attribute", attribute,
				"value", value,
			)
			continue
		}
		numbers = append(numbers, int32(number))
	}
	return numbers
}

// parseInt32 converts the first value, reporting false when it is
// missing or not a number.
func parseInt32(kind string, result search.Result, attribute string, value string, logger *slog.Logger) (int32, bool) {
	numbers := parseInt32s(kind, result, attribute, []string{value}, 0, logger)
	if len(numbers) == 0 {
		return 0, false
	}
	return numbers[0], true
}

// others returns values without the first occurrence of primary.
func others(values []string, primary string) []string {
	rest := make([]string, 0, len(values))
	removed := false
	for _, value := range values {
		if !removed && value == primary {
			removed = true
			continue
		}
		rest = append(rest, value)
	}
	return rest
}

func begin(w *wire.Writer) {
	w.Int32(protocol.ResultBegin)
}

// Cached record field accessors. The cache guarantees column types, so
// a mismatch means the schema and the codec disagree.

func textField(record cache.Record, name string) (string, error) {
	switch value := record.Fields[name].(type) {
	case string:
		return value, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("field %q: unexpected type %T", name, value)
	}
}

func intField(record cache.Record, name string) (int32, error) {
	value, ok := record.Fields[name].(int64)
	if !ok {
		return 0, fmt.Errorf("field %q: unexpected type %T", name, record.Fields[name])
	}
	return int32(value), nil
}

// fieldReader collects the first error from a sequence of field reads.
type fieldReader struct {
	record cache.Record
	err    error
}

func (f *fieldReader) text(name string) string {
	if f.err != nil {
		return ""
	}
	value, err := textField(f.record, name)
	f.err = err
	return value
}

func (f *fieldReader) int(name string) int32 {
	if f.err != nil {
		return 0
	}
	value, err := intField(f.record, name)
	f.err = err
	return value
}

func (f *fieldReader) list(name string) []string {
	values := f.record.Lists[name]
	if values == nil {
		return []string{}
	}
	return values
}
