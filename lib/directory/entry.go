// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Entry is one search result: a distinguished name plus its raw
// attribute values. Attribute names compare case-insensitively.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// NewEntry builds an Entry from a DN and attribute map. Intended for
// tests and fakes; the map is used as given.
func NewEntry(dn string, attributes map[string][]string) *Entry {
	if attributes == nil {
		attributes = make(map[string][]string)
	}
	return &Entry{DN: dn, Attributes: attributes}
}

// fromLDAP converts a go-ldap entry.
func fromLDAP(entry *ldap.Entry) *Entry {
	attributes := make(map[string][]string, len(entry.Attributes))
	for _, attribute := range entry.Attributes {
		attributes[attribute.Name] = append(attributes[attribute.Name], attribute.Values...)
	}
	return &Entry{DN: entry.DN, Attributes: attributes}
}

// Values returns the values of the named attribute. The lookup tries
// an exact match first and then a case-insensitive one.
func (e *Entry) Values(name string) []string {
	if values, ok := e.Attributes[name]; ok {
		return values
	}
	for key, values := range e.Attributes {
		if strings.EqualFold(key, name) {
			return values
		}
	}
	return nil
}

// HasValue reports whether the attribute has value, comparing values
// case-insensitively.
func (e *Entry) HasValue(name, value string) bool {
	for _, candidate := range e.Values(name) {
		if strings.EqualFold(candidate, value) {
			return true
		}
	}
	return false
}

// RDNValue returns the value of attribute in the leading RDN of dn.
func RDNValue(dn, attribute string) (string, bool) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return "", false
	}
	for _, typeAndValue := range parsed.RDNs[0].Attributes {
		if strings.EqualFold(typeAndValue.Type, attribute) {
			return typeAndValue.Value, true
		}
	}
	return "", false
}

// EscapeFilter escapes a value for inclusion in a search filter.
func EscapeFilter(value string) string {
	return ldap.EscapeFilter(value)
}
