// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Scope is the search scope relative to the base DN.
type Scope int

const (
	// ScopeSubtree searches the base and everything below it.
	ScopeSubtree Scope = iota
	// ScopeOneLevel searches the immediate children of the base.
	ScopeOneLevel
	// ScopeBase searches only the base object.
	ScopeBase
)

// ParseScope accepts the nslcd.conf spellings: sub, subtree, one,
// onelevel, base.
func ParseScope(text string) (Scope, error) {
	switch strings.ToLower(text) {
	case "sub", "subtree", "":
		return ScopeSubtree, nil
	case "one", "onelevel":
		return ScopeOneLevel, nil
	case "base":
		return ScopeBase, nil
	}
	return ScopeSubtree, fmt.Errorf("unknown search scope %q (want sub, one or base)", text)
}

func (s Scope) String() string {
	switch s {
	case ScopeOneLevel:
		return "one"
	case ScopeBase:
		return "base"
	default:
		return "sub"
	}
}

func (s Scope) ldap() int {
	switch s {
	case ScopeOneLevel:
		return ldap.ScopeSingleLevel
	case ScopeBase:
		return ldap.ScopeBaseObject
	default:
		return ldap.ScopeWholeSubtree
	}
}

// Deref controls alias dereferencing during searches.
type Deref int

const (
	DerefNever Deref = iota
	DerefSearching
	DerefFinding
	DerefAlways
)

// ParseDeref accepts never, searching, finding and always.
func ParseDeref(text string) (Deref, error) {
	switch strings.ToLower(text) {
	case "never", "":
		return DerefNever, nil
	case "searching":
		return DerefSearching, nil
	case "finding":
		return DerefFinding, nil
	case "always":
		return DerefAlways, nil
	}
	return DerefNever, fmt.Errorf("unknown deref option %q", text)
}

func (d Deref) ldap() int {
	switch d {
	case DerefSearching:
		return ldap.DerefInSearching
	case DerefFinding:
		return ldap.DerefFindingBaseObj
	case DerefAlways:
		return ldap.DerefAlways
	default:
		return ldap.NeverDerefAliases
	}
}
