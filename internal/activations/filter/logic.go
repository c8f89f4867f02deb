// Package filter evaluates criteria against CRM records and renders them as
// CRM query conditions.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"activation_backend/platform/apperr"
)

// Expr is a parsed filter_logic formula.
type Expr interface {
	// Eval computes the formula given the truth value of each filter, 0-indexed.
	Eval(values []bool) bool
}

// Atom refers to the 1-based filter index k of a "_k_" token.
type Atom int

// Eval implements Expr.
func (a Atom) Eval(values []bool) bool { return values[int(a)-1] }

// And is the conjunction of its operands.
type And []Expr

// Eval implements Expr.
func (e And) Eval(values []bool) bool {
	for _, x := range e {
		if !x.Eval(values) {
			return false
		}
	}
	return true
}

// Or is the disjunction of its operands.
type Or []Expr

// Eval implements Expr.
func (e Or) Eval(values []bool) bool {
	for _, x := range e {
		if x.Eval(values) {
			return true
		}
	}
	return false
}

type tokenKind int

const (
	tokAtom tokenKind = iota
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	index int
	pos   int
}

// ParseLogic parses a stored filter_logic formula over n filters.
// An empty formula is the conjunction of every filter.
func ParseLogic(logic string, n int) (Expr, error) {
	if strings.TrimSpace(logic) == "" {
		and := make(And, n)
		for i := range and {
			and[i] = Atom(i + 1)
		}
		return and, nil
	}

	tokens, err := tokenize(logic, n)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, logic: logic}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, p.errorf("unexpected token at position %d", p.tokens[p.pos].pos)
	}
	return expr, nil
}

func tokenize(logic string, n int) ([]token, error) {
	var tokens []token
	for i := 0; i < len(logic); {
		c := logic[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, pos: i})
			i++
		case c == '_':
			j := i + 1
			for j < len(logic) && logic[j] >= '0' && logic[j] <= '9' {
				j++
			}
			if j == i+1 || j >= len(logic) || logic[j] != '_' {
				return nil, logicError(logic, "malformed atom at position %d", i)
			}
			k, err := strconv.Atoi(logic[i+1 : j])
			if err != nil || k < 1 || k > n {
				return nil, logicError(logic, "filter index %s out of range 1..%d", logic[i+1:j], n)
			}
			tokens = append(tokens, token{kind: tokAtom, index: k, pos: i})
			i = j + 1
		case unicode.IsLetter(rune(c)):
			j := i
			for j < len(logic) && unicode.IsLetter(rune(logic[j])) {
				j++
			}
			switch strings.ToUpper(logic[i:j]) {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd, pos: i})
			case "OR":
				tokens = append(tokens, token{kind: tokOr, pos: i})
			default:
				return nil, logicError(logic, "unsupported word %q", logic[i:j])
			}
			i = j
		default:
			return nil, logicError(logic, "unexpected character %q at position %d", c, i)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
	logic  string
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := Or{left}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			break
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return terms, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	factors := And{left}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			break
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		factors = append(factors, right)
	}
	if len(factors) == 1 {
		return left, nil
	}
	return factors, nil
}

func (p *parser) parseFactor() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of expression")
	}
	switch t.kind {
	case tokAtom:
		p.pos++
		return Atom(t.index), nil
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, p.errorf("missing closing parenthesis for position %d", t.pos)
		}
		p.pos++
		return inner, nil
	default:
		return nil, p.errorf("expected filter or '(' at position %d", t.pos)
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return logicError(p.logic, format, args...)
}

func logicError(logic, format string, args ...any) error {
	return apperr.Schema(fmt.Sprintf("filter logic %q: %s", logic, fmt.Sprintf(format, args...))).WithOp("filter.ParseLogic")
}

var (
	displayAtom = regexp.MustCompile(`_?(\d+)_?`)
	storedAtom  = regexp.MustCompile(`_(\d+)_`)
)

// ToStoredLogic maps the display form "(1 OR 2) AND 3" to "(_1_ OR _2_) AND _3_".
// Already-stored input is returned unchanged.
func ToStoredLogic(display string) string {
	return displayAtom.ReplaceAllString(display, "_${1}_")
}

// ToDisplayLogic maps the stored form back to plain indices.
func ToDisplayLogic(stored string) string {
	return storedAtom.ReplaceAllString(stored, "${1}")
}
