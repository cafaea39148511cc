// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseError describes malformed expression syntax.
type ParseError struct {
	// Text is the complete expression being parsed.
	Text string
	// Offset is the rune offset at which the problem was detected.
	Offset int
	// Message describes the problem.
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("expr: %s at offset %d in %q", e.Message, e.Offset, e.Text)
}

// Parse parses text as an expression. The text must not carry the
// surrounding quotes used in mapping tables.
func Parse(text string) (*Expression, error) {
	p := &parser{source: []rune(text), text: text}
	expression, err := p.expression(0)
	if err != nil {
		return nil, err
	}
	return expression, nil
}

// MustParse is like Parse but panics on error. Intended for
// expressions compiled into the binary.
func MustParse(text string) *Expression {
	expression, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return expression
}

type parser struct {
	source   []rune
	text     string
	position int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Text: p.text, Offset: p.position, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) peek() (rune, bool) {
	if p.position >= len(p.source) {
		return 0, false
	}
	return p.source[p.position], true
}

func (p *parser) next() (rune, bool) {
	c, ok := p.peek()
	if ok {
		p.position++
	}
	return c, ok
}

func (p *parser) expect(want rune) error {
	c, ok := p.next()
	if !ok {
		return p.errorf("expected %q, found end of expression", want)
	}
	if c != want {
		p.position--
		return p.errorf("expected %q, found %q", want, c)
	}
	return nil
}

// name reads a run of letters and digits.
func (p *parser) name() string {
	start := p.position
	for p.position < len(p.source) {
		c := p.source[p.position]
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			break
		}
		p.position++
	}
	return string(p.source[start:p.position])
}

// expression parses until end (not consumed) or the end of input when
// end is zero.
func (p *parser) expression(end rune) (*Expression, error) {
	start := p.position
	var parts []node
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			parts = append(parts, literal(text.String()))
			text.Reset()
		}
	}

	for {
		c, ok := p.peek()
		if !ok {
			if end != 0 {
				return nil, p.errorf("unterminated expression, expected %q", end)
			}
			break
		}
		if end != 0 && c == end {
			break
		}
		p.position++

		switch c {
		case '\\':
			escaped, ok := p.next()
			if !ok {
				return nil, p.errorf("trailing backslash")
			}
			text.WriteRune(escaped)
		case '$':
			flush()
			ref, err := p.dollar()
			if err != nil {
				return nil, err
			}
			parts = append(parts, ref)
		default:
			text.WriteRune(c)
		}
	}
	flush()

	return &Expression{text: string(p.source[start:p.position]), parts: parts}, nil
}

// dollar parses what follows a '$'.
func (p *parser) dollar() (*reference, error) {
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("expected variable name after '$'")
	}
	switch c {
	case '{':
		p.position++
		return p.braced()
	case '(':
		p.position++
		return p.call()
	}
	name := p.name()
	if name == "" {
		return nil, p.errorf("expected variable name after '$'")
	}
	return &reference{name: name}, nil
}

// braced parses ${name} and ${name<op><operand>}.
func (p *parser) braced() (*reference, error) {
	name := p.name()
	if name == "" {
		return nil, p.errorf("expected variable name after '${'")
	}

	c, ok := p.next()
	if !ok {
		return nil, p.errorf("unterminated '${%s'", name)
	}

	var op Operator
	switch c {
	case '}':
		return &reference{name: name}, nil
	case ':':
		op = OpSubstring
		if next, ok := p.peek(); ok && next == '-' {
			op = OpDefault
			p.position++
		} else if ok && next == '+' {
			op = OpAlternate
			p.position++
		}
	case '#':
		op = OpTrimPrefixShort
		if next, ok := p.peek(); ok && next == '#' {
			op = OpTrimPrefixLong
			p.position++
		}
	case '%':
		op = OpTrimSuffixShort
		if next, ok := p.peek(); ok && next == '%' {
			op = OpTrimSuffixLong
			p.position++
		}
	default:
		p.position--
		return nil, p.errorf("unknown operator %q in '${%s'", c, name)
	}

	operandStart := p.position
	operand, err := p.expression('}')
	if err != nil {
		return nil, err
	}
	p.position++

	ref := &reference{name: name, op: op, operand: operand}
	switch op {
	case OpSubstring:
		if err := p.substringBounds(ref, operandStart); err != nil {
			return nil, err
		}
	case OpTrimPrefixShort, OpTrimPrefixLong, OpTrimSuffixShort, OpTrimSuffixLong:
		if operand.IsLiteral() {
			ref.pattern = compileTrim(op, operand.Evaluate(nil))
		}
	}
	return ref, nil
}

// substringBounds parses the "offset:length" operand of ${name:o:l}.
// An operand with references is parsed each time it is evaluated.
func (p *parser) substringBounds(ref *reference, operandStart int) error {
	if !ref.operand.IsLiteral() {
		ref.dynamicBounds = true
		return nil
	}
	bounds := ref.operand.Evaluate(nil)
	offset, length, err := parseBounds(bounds)
	if err != nil {
		return &ParseError{Text: p.text, Offset: operandStart, Message: err.Error()}
	}
	ref.offset = offset
	ref.length = length
	return nil
}

func parseBounds(bounds string) (offset, length int, err error) {
	offsetText, lengthText, found := strings.Cut(bounds, ":")
	if !found {
		return 0, 0, fmt.Errorf("substring bounds %q must be offset:length", bounds)
	}
	offset, err = strconv.Atoi(offsetText)
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("invalid substring offset %q", offsetText)
	}
	length, err = strconv.Atoi(lengthText)
	if err != nil || length < 0 {
		return 0, 0, fmt.Errorf("invalid substring length %q", lengthText)
	}
	return offset, length, nil
}

// call parses $(func(operand)).
func (p *parser) call() (*reference, error) {
	function := p.name()
	var op Operator
	switch function {
	case "lower":
		op = OpLower
	case "upper":
		op = OpUpper
	case "":
		return nil, p.errorf("expected function name after '$('")
	default:
		return nil, p.errorf("unknown function %q", function)
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}
	operand, err := p.expression(')')
	if err != nil {
		return nil, err
	}
	p.position++
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return &reference{op: op, operand: operand}, nil
}
