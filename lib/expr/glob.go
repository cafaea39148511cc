// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"regexp"
	"strings"
)

// compileTrim builds the regular expression implementing a prefix or
// suffix trim. Submatch 1 is the part of the value that remains.
func compileTrim(op Operator, glob string) *regexp.Regexp {
	var source string
	switch op {
	case OpTrimPrefixShort:
		source = `^` + globPattern(glob, true) + `(.*)$`
	case OpTrimPrefixLong:
		source = `^` + globPattern(glob, false) + `(.*?)$`
	case OpTrimSuffixShort:
		source = `^(.*)` + globPattern(glob, true) + `$`
	case OpTrimSuffixLong:
		source = `^(.*?)` + globPattern(glob, false) + `$`
	}
	pattern, err := regexp.Compile(`(?s)` + source)
	if err != nil {
		// Only a malformed bracket range gets here; treat the glob
		// as plain text.
		return compileTrim(op, escapeGlob(glob))
	}
	return pattern
}

// globPattern translates a shell glob into regular expression syntax.
// Stars match lazily when lazy is set.
func globPattern(glob string, lazy bool) string {
	var out strings.Builder
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			out.WriteString(".*")
			if lazy {
				out.WriteByte('?')
			}
		case '?':
			out.WriteByte('.')
		case '[':
			end := classEnd(runes, i)
			if end < 0 {
				out.WriteString(`\[`)
				continue
			}
			out.WriteByte('[')
			body := runes[i+1 : end]
			if len(body) > 0 && (body[0] == '!' || body[0] == '^') {
				out.WriteByte('^')
				body = body[1:]
			}
			for _, member := range body {
				if member == '-' {
					out.WriteRune(member)
				} else {
					out.WriteString(regexp.QuoteMeta(string(member)))
				}
			}
			out.WriteByte(']')
			i = end
		case '\\':
			if i+1 < len(runes) {
				i++
				out.WriteString(regexp.QuoteMeta(string(runes[i])))
			} else {
				out.WriteString(`\\`)
			}
		default:
			out.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return out.String()
}

// classEnd returns the index of the ']' closing the bracket expression
// opened at runes[open], or -1.
func classEnd(runes []rune, open int) int {
	i := open + 1
	if i < len(runes) && (runes[i] == '!' || runes[i] == '^') {
		i++
	}
	// A ']' right after the opening bracket is a member.
	if i < len(runes) && runes[i] == ']' {
		i++
	}
	for ; i < len(runes); i++ {
		if runes[i] == ']' {
			return i
		}
	}
	return -1
}

// escapeGlob backslash-escapes every glob metacharacter.
func escapeGlob(glob string) string {
	var out strings.Builder
	for _, c := range glob {
		if strings.ContainsRune(`*?[]\`, c) {
			out.WriteByte('\\')
		}
		out.WriteRune(c)
	}
	return out.String()
}
