// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package search turns directory entries into validated, canonical
// attribute sets.
//
// A [Definition] describes one record kind: where to search, the base
// filter, the attribute map, and the validation rules. [Run] issues one
// search per base and passes each surviving entry to a callback. The
// rules apply in a fixed order:
//
//  1. CanonicalFirst moves the value named in the entry's RDN to the
//     front of the field's values.
//  2. Required drops entries where the field has no values.
//  3. CaseSensitive and CaseInsensitive drop entries that do not
//     contain the value the caller asked for.
//  4. LimitAttributes replaces the field's values with the requested
//     value.
//
// A missing search base yields no results from that base. Connectivity
// failures abort the run and are returned to the caller; any other
// search error is logged and the run continues with the next base.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/directory"
)

// Rules are the per-kind validation steps, each a list of logical
// names from the kind's attribute map.
type Rules struct {
	CanonicalFirst  []string
	Required        []string
	CaseSensitive   []string
	CaseInsensitive []string
	LimitAttributes []string
}

// names returns every logical name mentioned by the rules.
func (r Rules) names() []string {
	var names []string
	for _, list := range [][]string{r.CanonicalFirst, r.Required, r.CaseSensitive, r.CaseInsensitive, r.LimitAttributes} {
		names = append(names, list...)
	}
	return names
}

// Definition describes how one record kind is searched.
type Definition struct {
	// Name identifies the kind in log messages.
	Name string
	// Bases are searched in order.
	Bases []string
	Scope directory.Scope
	// Filter is the base filter, e.g. "(objectClass=posixAccount)".
	Filter string
	Map    *attmap.Map
	Rules  Rules
}

// Validate checks that every name used by the rules is mapped.
func (d *Definition) Validate() error {
	var errs []error
	if d.Map == nil {
		return fmt.Errorf("search %s: attribute map is required", d.Name)
	}
	if len(d.Bases) == 0 {
		errs = append(errs, fmt.Errorf("search %s: at least one base is required", d.Name))
	}
	if d.Filter == "" {
		errs = append(errs, fmt.Errorf("search %s: filter is required", d.Name))
	}
	for _, name := range d.Rules.names() {
		if !d.Map.Has(name) {
			errs = append(errs, fmt.Errorf("search %s: rule references unmapped name %q", d.Name, name))
		}
	}
	return errors.Join(errs...)
}

// Parameters narrow a search: logical name to requested value.
type Parameters map[string]string

// Query is one logical lookup.
type Query struct {
	Parameters Parameters

	// Base, when set, replaces the definition's bases.
	Base string
	// Scope, when set, replaces the definition's scope.
	Scope *directory.Scope
	// Filter, when set, replaces the generated filter. The parameters
	// still drive the validation rules.
	Filter string
}

// Result is one entry that survived the rules.
type Result struct {
	DN         string
	Attributes map[string][]string
}

// First returns the first value of name, or "".
func (r Result) First(name string) string {
	if values := r.Attributes[name]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// MakeFilter returns the filter for a query: the base filter alone, or
// the base filter and-ed with one equality clause per parameter in
// name order.
func (d *Definition) MakeFilter(parameters Parameters) (string, error) {
	if len(parameters) == 0 {
		return d.Filter, nil
	}
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	var filter strings.Builder
	filter.WriteString("(&")
	filter.WriteString(d.Filter)
	for _, name := range names {
		clause, err := d.Map.Filter(name, parameters[name])
		if err != nil {
			return "", fmt.Errorf("search %s: %w", d.Name, err)
		}
		filter.WriteString(clause)
	}
	filter.WriteString(")")
	return filter.String(), nil
}

// Run searches every base and calls yield for each entry that passes
// the rules, in base order and then server order. An error from yield
// stops the run and is returned.
func Run(ctx context.Context, session directory.Session, definition *Definition, query Query, logger *slog.Logger, yield func(Result) error) error {
	filter := query.Filter
	if filter == "" {
		var err error
		filter, err = definition.MakeFilter(query.Parameters)
		if err != nil {
			return err
		}
	}
	bases := definition.Bases
	if query.Base != "" {
		bases = []string{query.Base}
	}
	scope := definition.Scope
	if query.Scope != nil {
		scope = *query.Scope
	}
	attributes := definition.Map.Attributes()

	for _, base := range bases {
		logger.Debug("directory search",
			"kind", definition.Name,
			"base", base,
			"scope", scope.String(),
			"filter", filter,
		)
		entries, err := session.Search(ctx, directory.SearchRequest{
			Base:       base,
			Scope:      scope,
			Filter:     filter,
			Attributes: attributes,
		})
		if err != nil {
			if directory.IsConnectivity(err) {
				return err
			}
			if errors.Is(err, directory.ErrNoSuchObject) {
				logger.Debug("search base does not exist", "kind", definition.Name, "base", base)
			} else {
				logger.Warn("directory search failed", "kind", definition.Name, "base", base, "error", err)
			}
			continue
		}

		for _, entry := range entries {
			result, ok := definition.Transform(entry, query.Parameters, logger)
			if !ok {
				continue
			}
			if err := yield(result); err != nil {
				return err
			}
		}
	}
	return nil
}

// Transform applies the attribute map and the rules to one entry. It
// reports false when the entry is dropped.
func (d *Definition) Transform(entry *directory.Entry, parameters Parameters, logger *slog.Logger) (Result, bool) {
	attributes := d.Map.Translate(entry)

	for _, name := range d.Rules.CanonicalFirst {
		primary, ok := d.Map.RDNValue(entry.DN, name)
		if !ok || primary == "" {
			continue
		}
		values := attributes[name]
		if i := slices.Index(values, primary); i >= 0 {
			values = slices.Delete(slices.Clone(values), i, i+1)
		}
		attributes[name] = append([]string{primary}, values...)
	}

	for _, name := range d.Rules.Required {
		if len(attributes[name]) == 0 {
			logger.Warn("entry is missing a required attribute",
				"kind", d.Name,
				"dn", entry.DN,
				"attribute", d.Map.Attribute(name),
			)
			return Result{}, false
		}
	}

	for _, name := range d.Rules.CaseSensitive {
		requested := parameters[name]
		if requested != "" && !slices.Contains(attributes[name], requested) {
			logger.Debug("entry does not contain requested value",
				"kind", d.Name,
				"dn", entry.DN,
				"attribute", d.Map.Attribute(name),
				"value", requested,
			)
			return Result{}, false
		}
	}

	for _, name := range d.Rules.CaseInsensitive {
		requested := parameters[name]
		if requested != "" && !containsFold(attributes[name], requested) {
			logger.Debug("entry does not contain requested value",
				"kind", d.Name,
				"dn", entry.DN,
				"attribute", d.Map.Attribute(name),
				"value", requested,
			)
			return Result{}, false
		}
	}

	for _, name := range d.Rules.LimitAttributes {
		if requested, ok := parameters[name]; ok {
			attributes[name] = []string{requested}
		}
	}

	return Result{DN: entry.DN, Attributes: attributes}, true
}

func containsFold(values []string, want string) bool {
	folder := cases.Fold()
	folded := folder.String(want)
	for _, value := range values {
		if folder.String(value) == folded {
			return true
		}
	}
	return false
}
