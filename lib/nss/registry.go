// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nss

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bureau-foundation/dircache/lib/attmap"
	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/directory"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/search"
	"github.com/bureau-foundation/dircache/lib/wire"
)

// MapOverride replaces parts of a kind's built-in search definition.
type MapOverride struct {
	Bases []string
	// Scope is nil to keep the default.
	Scope  *directory.Scope
	Filter string
	// Attributes maps logical names to mapping text, e.g.
	// {"gecos": `"${displayName:-$cn}"`}.
	Attributes map[string]string
}

// Options configure a Registry.
type Options struct {
	// Bases are the search bases for kinds without their own.
	Bases []string
	Scope directory.Scope
	// Maps holds overrides keyed by kind name.
	Maps map[string]MapOverride

	// MinUID drops passwd records with a lower uid.
	MinUID int64
	// UIDOffset and GIDOffset are added to numeric ids on the way out
	// and subtracted from requested ids.
	UIDOffset int64
	GIDOffset int64
	// DisableEnumeration makes every enumeration action return no
	// records.
	DisableEnumeration bool

	// PasswordProhibitMessage is returned by the configuration query
	// for the password-change prohibition option.
	PasswordProhibitMessage string
}

// kindSpec is the built-in declaration of a kind.
type kindSpec struct {
	name     string
	database string
	filter   string
	attmap   []attmap.Pair
	rules    search.Rules
	schema   *cache.Schema
	convert  func(kind *Kind, result search.Result, query Query, logger *slog.Logger) []Record
	decode   func(record cache.Record) (Record, error)
}

// actionSpec is the built-in declaration of an action.
type actionSpec struct {
	action    protocol.Action
	kind      string
	enumerate bool
	read      func(options *Options) func(r *wire.Reader) (Query, error)
	shape     func(options *Options) func(env *Env, query Query, record Record) (Record, bool)
}

// Registry holds the configured kinds and the handler for every
// action.
type Registry struct {
	options  *Options
	kinds    map[string]*Kind
	handlers map[protocol.Action]*Handler
}

// NewRegistry builds every kind from its built-in declaration and the
// overrides in options. All problems are reported together.
func NewRegistry(options Options) (*Registry, error) {
	registry := &Registry{
		options:  &options,
		kinds:    make(map[string]*Kind),
		handlers: make(map[protocol.Action]*Handler),
	}

	var errs []error
	known := make(map[string]bool)
	for _, spec := range kindSpecs {
		known[spec.name] = true
		kind, err := registry.buildKind(spec, options.Maps[spec.name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		registry.kinds[spec.name] = kind
	}
	for name := range options.Maps {
		if !known[name] {
			errs = append(errs, fmt.Errorf("nss: unknown map %q", name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, spec := range actionSpecs {
		handler := &Handler{
			Action:    spec.action,
			Kind:      registry.kinds[spec.kind],
			enumerate: spec.enumerate,
			options:   registry.options,
			read:      spec.read(registry.options),
		}
		if spec.shape != nil {
			handler.shape = spec.shape(registry.options)
		}
		registry.handlers[spec.action] = handler
	}
	registry.addConfigGet()
	registry.addPAMAuthc()
	return registry, nil
}

func (r *Registry) buildKind(spec kindSpec, override MapOverride) (*Kind, error) {
	attributes, err := attmap.New(spec.attmap...)
	if err != nil {
		return nil, fmt.Errorf("nss: %s: %w", spec.name, err)
	}
	if len(override.Attributes) > 0 {
		names := make([]string, 0, len(override.Attributes))
		for name := range override.Attributes {
			names = append(names, name)
		}
		sort.Strings(names)
		var errs []error
		for _, name := range names {
			if !attributes.Has(name) {
				errs = append(errs, fmt.Errorf("nss: %s: unknown attribute %q", spec.name, name))
				continue
			}
			if err := attributes.Set(name, override.Attributes[name]); err != nil {
				errs = append(errs, fmt.Errorf("nss: %s: %w", spec.name, err))
			}
		}
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
	}

	definition := &search.Definition{
		Name:   spec.name,
		Bases:  r.options.Bases,
		Scope:  r.options.Scope,
		Filter: spec.filter,
		Map:    attributes,
		Rules:  spec.rules,
	}
	if len(override.Bases) > 0 {
		definition.Bases = override.Bases
	}
	if override.Scope != nil {
		definition.Scope = *override.Scope
	}
	if override.Filter != "" {
		definition.Filter = override.Filter
	}
	if err := definition.Validate(); err != nil {
		return nil, fmt.Errorf("nss: %w", err)
	}

	return &Kind{
		Name:       spec.name,
		Database:   spec.database,
		Definition: definition,
		Schema:     spec.schema,
		convert:    spec.convert,
		decode:     spec.decode,
		options:    r.options,
	}, nil
}

// Handler returns the handler for action.
func (r *Registry) Handler(action protocol.Action) (*Handler, bool) {
	handler, ok := r.handlers[action]
	return handler, ok
}

// Kind returns the kind called name.
func (r *Registry) Kind(name string) (*Kind, bool) {
	kind, ok := r.kinds[name]
	return kind, ok
}

// Kinds returns every kind sorted by name.
func (r *Registry) Kinds() []*Kind {
	kinds := make([]*Kind, 0, len(r.kinds))
	for _, kind := range r.kinds {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Name < kinds[j].Name })
	return kinds
}

// Schemas returns the cache schema of every kind.
func (r *Registry) Schemas() []*cache.Schema {
	var schemas []*cache.Schema
	for _, kind := range r.Kinds() {
		schemas = append(schemas, kind.Schema)
	}
	return schemas
}

// KindNames lists the built-in kind names.
func KindNames() []string {
	names := make([]string, 0, len(kindSpecs))
	for _, spec := range kindSpecs {
		names = append(names, spec.name)
	}
	sort.Strings(names)
	return names
}

var kindSpecs = []kindSpec{
	aliasKind,
	etherKind,
	groupKind,
	hostKind,
	netgroupKind,
	networkKind,
	passwdKind,
	protocolKind,
	rpcKind,
	serviceKind,
	shadowKind,
}

var actionSpecs = concat(
	aliasActions,
	etherActions,
	groupActions,
	hostActions,
	netgroupActions,
	networkActions,
	passwdActions,
	protocolActions,
	rpcActions,
	serviceActions,
	shadowActions,
)

func concat(lists ...[]actionSpec) []actionSpec {
	var all []actionSpec
	for _, list := range lists {
		all = append(all, list...)
	}
	return all
}

// readNothing is the parameter reader for enumeration actions.
func readNothing(*Options) func(*wire.Reader) (Query, error) {
	return func(*wire.Reader) (Query, error) { return Query{}, nil }
}

// readString returns a reader taking one string parameter named name.
func readString(name string) func(*Options) func(*wire.Reader) (Query, error) {
	return func(*Options) func(*wire.Reader) (Query, error) {
		return func(r *wire.Reader) (Query, error) {
			return sameParameters(map[string]string{name: r.String()}), nil
		}
	}
}

// readNumber returns a reader taking one int32 parameter named name.
func readNumber(name string) func(*Options) func(*wire.Reader) (Query, error) {
	return func(*Options) func(*wire.Reader) (Query, error) {
		return func(r *wire.Reader) (Query, error) {
			return sameParameters(map[string]string{name: fmt.Sprint(r.Int32())}), nil
		}
	}
}
