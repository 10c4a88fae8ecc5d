// Package contract evaluates small boolean expressions against a node's
// inputs and outputs, enforcing preconditions before a handler runs and
// postconditions after it returns.
//
// Grounded on original_source/python/vesper_verification/contracts.py
// (ContractChecker) for the expression grammar (AND/OR/NOT, comparisons,
// IN, CONTAINS, IS NULL, old()) and evaluation entry points. Comparison
// operators are parsed prefix-ordered (">=" and "<=" tried before their
// single-character prefixes) to avoid splitting a two-character
// operator at its first byte.
package contract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jihwankim/vesper-verify/pkg/value"
)

// Scope resolves dotted identifier paths (e.g. "input.amount",
// "output.balance") against a node invocation's inputs and outputs.
type Scope struct {
	root value.Value
}

// NewScope builds a Scope from top-level "input" and "output" maps. A
// precondition scope is built with an empty or null output.
func NewScope(input, output value.Value) Scope {
	return Scope{root: value.MapOf(value.Map{"input": input, "output": output})}
}

// Resolve walks a dotted path against the scope's root value, returning
// an error if any segment does not exist or indexes into a non-map.
func (s Scope) Resolve(path string) (value.Value, error) {
	return resolvePath(s.root, path)
}

func resolvePath(root value.Value, path string) (value.Value, error) {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.AsMap()
		if !ok {
			return value.Null(), fmt.Errorf("contract: cannot resolve %q: %q is not a map", path, seg)
		}
		next, ok := m[seg]
		if !ok {
			return value.Null(), fmt.Errorf("contract: unknown identifier %q", path)
		}
		cur = next
	}
	return cur, nil
}

// ViolationError reports that a precondition or postcondition
// expression evaluated false, or failed to evaluate at all.
type ViolationError struct {
	Kind string // "precondition" or "postcondition"
	Expr string
	Err  error // non-nil if evaluation itself failed
}

func (e *ViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s_violated(%s): %v", e.Kind, e.Expr, e.Err)
	}
	return fmt.Sprintf("%s_violated(%s)", e.Kind, e.Expr)
}

func (e *ViolationError) Unwrap() error { return e.Err }

// Checker parses and evaluates contract expressions.
type Checker struct{}

// New builds a Checker.
func New() *Checker { return &Checker{} }

// CheckPrecondition evaluates expr against scope (built from a node's
// inputs, before execution) and returns a *ViolationError if it
// evaluates false or fails to evaluate at all.
func (c *Checker) CheckPrecondition(expr string, scope Scope) error {
	return c.check("precondition", expr, scope, Scope{})
}

// CheckPostcondition evaluates expr against scope (built from a node's
// inputs and outputs, after execution). old is the pre-execution
// snapshot scope that any old(...) subexpression resolves against.
func (c *Checker) CheckPostcondition(expr string, scope, old Scope) error {
	return c.check("postcondition", expr, scope, old)
}

func (c *Checker) check(kind, expr string, scope, old Scope) error {
	result, err := Evaluate(expr, scope, old)
	if err != nil {
		return &ViolationError{Kind: kind, Expr: expr, Err: err}
	}
	b, ok := result.AsBool()
	if !ok {
		return &ViolationError{Kind: kind, Expr: expr, Err: fmt.Errorf("expression did not evaluate to a bool (got %s)", result.TypeName())}
	}
	if !b {
		return &ViolationError{Kind: kind, Expr: expr}
	}
	return nil
}

// Evaluate parses and evaluates expr against scope, resolving any
// old(...) subexpressions against oldScope.
func Evaluate(expr string, scope, oldScope Scope) (value.Value, error) {
	toks, err := lex(expr)
	if err != nil {
		return value.Null(), err
	}
	p := &parser{toks: toks, scope: scope, old: oldScope}
	v, err := p.parseOr()
	if err != nil {
		return value.Null(), err
	}
	if p.pos != len(p.toks) {
		return value.Null(), fmt.Errorf("contract: unexpected token %q", p.toks[p.pos].text)
	}
	return v, nil
}

// --- lexer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokOp // == != < <= > >=
)

type token struct {
	kind tokenKind
	text string
}

var keywordOps = map[string]string{
	"and":      "AND",
	"or":       "OR",
	"not":      "NOT",
	"in":       "IN",
	"contains": "CONTAINS",
	"is":       "IS",
	"null":     "NULL",
	"true":     "TRUE",
	"false":    "FALSE",
	"old":      "OLD",
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	n := len(src)
	for i < n {
		ch := src[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case ch == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case ch == '[':
			toks = append(toks, token{tokLBracket, "["})
			i++
		case ch == ']':
			toks = append(toks, token{tokRBracket, "]"})
			i++
		case ch == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case ch == '\'' || ch == '"':
			quote := ch
			j := i + 1
			var sb strings.Builder
			for j < n && src[j] != quote {
				sb.WriteByte(src[j])
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("contract: unterminated string literal")
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case isDigit(ch) || (ch == '-' && i+1 < n && isDigit(src[i+1]) && endsOperand(toks)):
			j := i + 1
			for j < n && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j]})
			i = j
		case isIdentStart(ch):
			j := i + 1
			for j < n && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			i = j
			lower := strings.ToLower(word)
			if kw, ok := keywordOps[lower]; ok {
				toks = append(toks, token{tokOp, kw})
			} else {
				toks = append(toks, token{tokIdent, word})
			}
		case ch == '=' && i+1 < n && src[i+1] == '=':
			toks = append(toks, token{tokOp, "=="})
			i += 2
		case ch == '!' && i+1 < n && src[i+1] == '=':
			toks = append(toks, token{tokOp, "!="})
			i += 2
		case ch == '<' && i+1 < n && src[i+1] == '=':
			toks = append(toks, token{tokOp, "<="})
			i += 2
		case ch == '>' && i+1 < n && src[i+1] == '=':
			toks = append(toks, token{tokOp, ">="})
			i += 2
		case ch == '<':
			toks = append(toks, token{tokOp, "<"})
			i++
		case ch == '>':
			toks = append(toks, token{tokOp, ">"})
			i++
		default:
			return nil, fmt.Errorf("contract: unexpected character %q", ch)
		}
	}
	return toks, nil
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '.'
}

// endsOperand reports whether a unary minus at this point should be
// read as part of a numeric literal rather than a subtraction
// operator; this grammar has no binary minus, so a leading '-' is
// always part of a number.
func endsOperand(toks []token) bool { return true }

// --- parser ---

type parser struct {
	toks  []token
	pos   int
	scope Scope
	old   Scope
	// skip marks a branch that AND/OR has already short-circuited away:
	// identifiers resolve to null and type errors are suppressed, since
	// the branch's value can never affect the result, only its token
	// span needs to be consumed.
	skip bool
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expectOp(op string) error {
	t := p.peek()
	if t.kind != tokOp || t.text != op {
		return fmt.Errorf("contract: expected %q, got %q", op, t.text)
	}
	p.pos++
	return nil
}

// parseOr handles the lowest-precedence OR, short-circuiting on true.
func (p *parser) parseOr() (value.Value, error) {
	left, err := p.parseAnd()
	if err != nil {
		return value.Null(), err
	}
	for p.peek().kind == tokOp && p.peek().text == "OR" {
		p.next()
		lb, _ := left.AsBool()
		if lb {
			// left is already true: the right side can never change the
			// result, so it is parsed in skip mode to advance past its
			// tokens without resolving identifiers or raising type errors.
			sub := &parser{toks: p.toks, pos: p.pos, scope: p.scope, old: p.old, skip: true}
			if _, err := sub.parseAnd(); err != nil {
				return value.Null(), err
			}
			p.pos = sub.pos
			continue
		}
		right, err := p.parseAnd()
		if err != nil {
			return value.Null(), err
		}
		if p.skip {
			continue
		}
		rb, ok := right.AsBool()
		if !ok {
			return value.Null(), fmt.Errorf("contract: OR operand is not a bool")
		}
		left = value.Bool(rb)
	}
	return left, nil
}

func (p *parser) parseAnd() (value.Value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return value.Null(), err
	}
	for p.peek().kind == tokOp && p.peek().text == "AND" {
		p.next()
		lb, _ := left.AsBool()
		if !p.skip && !lb {
			// left is already false: short-circuit the same way OR does.
			sub := &parser{toks: p.toks, pos: p.pos, scope: p.scope, old: p.old, skip: true}
			if _, err := sub.parseUnary(); err != nil {
				return value.Null(), err
			}
			p.pos = sub.pos
			continue
		}
		right, err := p.parseUnary()
		if err != nil {
			return value.Null(), err
		}
		if p.skip {
			continue
		}
		rb, ok := right.AsBool()
		if !ok {
			return value.Null(), fmt.Errorf("contract: AND operand is not a bool")
		}
		left = value.Bool(lb && rb)
	}
	return left, nil
}

func (p *parser) parseUnary() (value.Value, error) {
	if p.peek().kind == tokOp && p.peek().text == "NOT" {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return value.Null(), err
		}
		if p.skip {
			return value.Bool(false), nil
		}
		b, ok := v.AsBool()
		if !ok {
			return value.Null(), fmt.Errorf("contract: NOT operand is not a bool")
		}
		return value.Bool(!b), nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (value.Value, error) {
	if p.peek().kind == tokLParen {
		p.next()
		v, err := p.parseOr()
		if err != nil {
			return value.Null(), err
		}
		if p.peek().kind != tokRParen {
			return value.Null(), fmt.Errorf("contract: expected )")
		}
		p.next()
		return p.parseComparisonTail(v)
	}

	left, err := p.parseOperand()
	if err != nil {
		return value.Null(), err
	}
	return p.parseComparisonTail(left)
}

// parseComparisonTail handles an optional trailing comparison/IN/
// CONTAINS/IS [NOT] NULL applied to an already-parsed operand.
func (p *parser) parseComparisonTail(left value.Value) (value.Value, error) {
	t := p.peek()
	if t.kind != tokOp {
		return left, nil
	}
	if p.skip {
		return p.skipComparisonTail(t)
	}

	switch t.text {
	case "==", "!=", "<", "<=", ">", ">=":
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return value.Null(), err
		}
		return compareValues(t.text, left, right)

	case "IN":
		p.next()
		if p.peek().kind != tokLBracket {
			return value.Null(), fmt.Errorf("contract: expected [ after IN")
		}
		p.next()
		var found bool
		for p.peek().kind != tokRBracket {
			item, err := p.parseOperand()
			if err != nil {
				return value.Null(), err
			}
			if valuesEqual(left, item) {
				found = true
			}
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if p.peek().kind != tokRBracket {
			return value.Null(), fmt.Errorf("contract: expected ] to close IN list")
		}
		p.next()
		return value.Bool(found), nil

	case "CONTAINS":
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return value.Null(), err
		}
		items, ok := left.AsList()
		if !ok {
			return value.Null(), fmt.Errorf("contract: CONTAINS left operand is not a list")
		}
		for _, item := range items {
			if valuesEqual(item, right) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil

	case "IS":
		p.next()
		negate := false
		if p.peek().kind == tokOp && p.peek().text == "NOT" {
			negate = true
			p.next()
		}
		if p.peek().kind != tokOp || p.peek().text != "NULL" {
			return value.Null(), fmt.Errorf("contract: expected NULL after IS [NOT]")
		}
		p.next()
		isNull := left.IsNull()
		if negate {
			isNull = !isNull
		}
		return value.Bool(isNull), nil
	}

	return left, nil
}

// skipComparisonTail consumes the token span of a comparison/IN/
// CONTAINS/IS [NOT] NULL tail in skip mode, without applying any of
// the type checks the live path enforces.
func (p *parser) skipComparisonTail(t token) (value.Value, error) {
	switch t.text {
	case "==", "!=", "<", "<=", ">", ">=", "CONTAINS":
		p.next()
		if _, err := p.parseOperand(); err != nil {
			return value.Null(), err
		}
		return value.Bool(false), nil

	case "IN":
		p.next()
		if p.peek().kind != tokLBracket {
			return value.Null(), fmt.Errorf("contract: expected [ after IN")
		}
		p.next()
		for p.peek().kind != tokRBracket {
			if _, err := p.parseOperand(); err != nil {
				return value.Null(), err
			}
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if p.peek().kind != tokRBracket {
			return value.Null(), fmt.Errorf("contract: expected ] to close IN list")
		}
		p.next()
		return value.Bool(false), nil

	case "IS":
		p.next()
		if p.peek().kind == tokOp && p.peek().text == "NOT" {
			p.next()
		}
		if p.peek().kind != tokOp || p.peek().text != "NULL" {
			return value.Null(), fmt.Errorf("contract: expected NULL after IS [NOT]")
		}
		p.next()
		return value.Bool(false), nil
	}
	return value.Bool(false), nil
}

// parseOperand parses a single operand: a literal, an old(...)
// wrapper, or a dotted identifier path resolved against the scope.
func (p *parser) parseOperand() (value.Value, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return parseNumberLiteral(t.text)
	case tokString:
		return value.String(t.text), nil
	case tokIdent:
		if p.skip {
			return value.Null(), nil
		}
		return p.scope.Resolve(t.text)
	case tokOp:
		switch t.text {
		case "TRUE":
			return value.Bool(true), nil
		case "FALSE":
			return value.Bool(false), nil
		case "NULL":
			return value.Null(), nil
		case "OLD":
			if p.peek().kind != tokLParen {
				return value.Null(), fmt.Errorf("contract: expected ( after old")
			}
			p.next()
			inner := p.withOldScope()
			v, err := inner.parseOr()
			if err != nil {
				return value.Null(), err
			}
			p.pos = inner.pos
			if p.peek().kind != tokRParen {
				return value.Null(), fmt.Errorf("contract: expected ) to close old(...)")
			}
			p.next()
			return v, nil
		}
	case tokLParen:
		v, err := p.parseOr()
		if err != nil {
			return value.Null(), err
		}
		if p.peek().kind != tokRParen {
			return value.Null(), fmt.Errorf("contract: expected )")
		}
		p.next()
		return v, nil
	}
	return value.Null(), fmt.Errorf("contract: unexpected token %q", t.text)
}

// withOldScope returns a parser positioned at the current token but
// whose identifier resolution uses old in place of scope, for
// evaluating the inside of an old(...) expression.
func (p *parser) withOldScope() *parser {
	return &parser{toks: p.toks, pos: p.pos, scope: p.old, old: p.old, skip: p.skip}
}

func parseNumberLiteral(text string) (value.Value, error) {
	if strings.Contains(text, ".") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return value.Null(), fmt.Errorf("contract: invalid number %q: %w", text, err)
		}
		return value.Float(f), nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return value.Null(), fmt.Errorf("contract: invalid number %q: %w", text, err)
	}
	return value.Int(i), nil
}

// compareValues implements the six comparison operators: two numeric
// operands compare numerically, two strings compare lexically,
// everything else only supports == and !=.
func compareValues(op string, left, right value.Value) (value.Value, error) {
	switch op {
	case "==":
		return value.Bool(valuesEqual(left, right)), nil
	case "!=":
		return value.Bool(!valuesEqual(left, right)), nil
	}

	if left.IsNumeric() && right.IsNumeric() {
		lf, rf := left.Float64(), right.Float64()
		switch op {
		case "<":
			return value.Bool(lf < rf), nil
		case "<=":
			return value.Bool(lf <= rf), nil
		case ">":
			return value.Bool(lf > rf), nil
		case ">=":
			return value.Bool(lf >= rf), nil
		}
	}

	ls, lok := left.AsString()
	rs, rok := right.AsString()
	if lok && rok {
		switch op {
		case "<":
			return value.Bool(ls < rs), nil
		case "<=":
			return value.Bool(ls <= rs), nil
		case ">":
			return value.Bool(ls > rs), nil
		case ">=":
			return value.Bool(ls >= rs), nil
		}
	}

	return value.Null(), fmt.Errorf("contract: operator %s not supported between %s and %s", op, left.TypeName(), right.TypeName())
}

func valuesEqual(a, b value.Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return a.Float64() == b.Float64()
	}
	return value.CanonicalJSON(a) == value.CanonicalJSON(b)
}
