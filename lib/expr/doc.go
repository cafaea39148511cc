// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package expr parses and evaluates attribute mapping expressions.
//
// The syntax is a subset of shell parameter expansion. Literal text is
// copied through; a backslash escapes the next character. Variable
// references take these forms:
//
//	$name              value of name
//	${name}            value of name
//	${name:-word}      word if name is empty, else name
//	${name:+word}      word if name is non-empty, else empty
//	${name:off:len}    substring of name
//	${name#glob}       strip shortest prefix matching glob
//	${name##glob}      strip longest prefix matching glob
//	${name%glob}       strip shortest suffix matching glob
//	${name%%glob}      strip longest suffix matching glob
//	$(lower(word))     word folded to lower case
//	$(upper(word))     word folded to upper case
//
// Operands (word, glob) are themselves expressions. Variable names are
// made of letters and digits. When a name is bound to several values
// only the first one is used; an unbound name evaluates to the empty
// string.
//
// Substring bounds may contain references, as in ${uid:0:$len}. Literal
// bounds are checked by Parse; bounds computed at evaluation that are
// not two non-negative integers make the substring empty.
//
// All syntax errors are reported by Parse. Evaluate never fails.
package expr
