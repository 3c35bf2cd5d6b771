package workflowdef

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hansjm10/jeeves/internal/jeeveserr"
	"github.com/hansjm10/jeeves/internal/model"
)

// Predicate is a parsed boolean expression of the form
// `status.<field> == <literal>`, combined with && and ||. Evaluation is
// defined for every model.Status mapping: missing fields compare against
// Go's zero value for the literal's type (false, "", nil). A present,
// non-nil field whose type differs from a bool or string literal's type is
// an error of kind workflow_invalid.
type Predicate struct {
	op       predOp
	left     *Predicate
	right    *Predicate
	field    string
	literal  any
}

type predOp int

const (
	opEq predOp = iota
	opAnd
	opOr
)

// Eval evaluates the predicate against a status mapping.
func (p *Predicate) Eval(status model.Status) (bool, error) {
	if p == nil {
		return true, nil
	}
	switch p.op {
	case opEq:
		v, present := status[p.field]
		if !present {
			v = zeroFor(p.literal)
		} else if p.literal != nil && v != nil && fmt.Sprintf("%T", v) != fmt.Sprintf("%T", p.literal) {
			return false, jeeveserr.Configuration("workflow_invalid", "predicate on status.%s: value %v (%T) cannot be compared with literal %v (%T)", p.field, v, v, p.literal, p.literal)
		}
		return literalEquals(v, p.literal), nil
	case opAnd:
		l, err := p.left.Eval(status)
		if err != nil {
			return false, err
		}
		r, err := p.right.Eval(status)
		if err != nil {
			return false, err
		}
		return l && r, nil
	case opOr:
		l, err := p.left.Eval(status)
		if err != nil {
			return false, err
		}
		r, err := p.right.Eval(status)
		if err != nil {
			return false, err
		}
		return l || r, nil
	default:
		return false, jeeveserr.Configuration("workflow_invalid", "unknown predicate operator")
	}
}

func zeroFor(literal any) any {
	switch literal.(type) {
	case bool:
		return false
	case string:
		return ""
	default:
		return nil
	}
}

func literalEquals(v, literal any) bool {
	if literal == nil {
		return v == nil
	}
	switch lit := literal.(type) {
	case bool:
		b, ok := v.(bool)
		return ok && b == lit
	case string:
		s, ok := v.(string)
		return ok && s == lit
	default:
		return false
	}
}

// ParsePredicate parses a predicate string as used in a transition's `when`
// field. An empty string is an error (callers should use `auto` instead).
func ParsePredicate(src string) (*Predicate, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty predicate")
	}
	p := &predParser{tokens: tokenize(src), src: src}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected trailing tokens in predicate %q", src)
	}
	return expr, nil
}

type predParser struct {
	tokens []string
	pos    int
	src    string
}

func (p *predParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *predParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *predParser) parseOr() (*Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Predicate{op: opOr, left: left, right: right}
	}
	return left, nil
}

func (p *predParser) parseAnd() (*Predicate, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek() == "&&" {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &Predicate{op: opAnd, left: left, right: right}
	}
	return left, nil
}

func (p *predParser) parseTerm() (*Predicate, error) {
	if p.peek() == "(" {
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("predicate %q: expected ')'", p.src)
		}
		p.next()
		return expr, nil
	}

	field := p.next()
	if !strings.HasPrefix(field, "status.") {
		return nil, fmt.Errorf("predicate %q: expected status.<field>, got %q", p.src, field)
	}
	field = strings.TrimPrefix(field, "status.")

	if p.next() != "==" {
		return nil, fmt.Errorf("predicate %q: expected '==' after status.%s", p.src, field)
	}

	litTok := p.next()
	literal, err := parseLiteral(litTok)
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %w", p.src, err)
	}
	return &Predicate{op: opEq, field: field, literal: literal}, nil
}

func parseLiteral(tok string) (any, error) {
	switch tok {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if len(tok) >= 2 && (tok[0] == '\'' || tok[0] == '"') && tok[len(tok)-1] == tok[0] {
		return tok[1 : len(tok)-1], nil
	}
	if _, err := strconv.Unquote(tok); err == nil {
		s, _ := strconv.Unquote(tok)
		return s, nil
	}
	return nil, fmt.Errorf("invalid literal %q", tok)
}

// tokenize splits a predicate string into tokens: status.<field>, ==, &&,
// ||, (, ), and quoted/bare literals.
func tokenize(src string) []string {
	var tokens []string
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(' || c == ')':
			tokens = append(tokens, string(c))
			i++
		case strings.HasPrefix(src[i:], "=="):
			tokens = append(tokens, "==")
			i += 2
		case strings.HasPrefix(src[i:], "&&"):
			tokens = append(tokens, "&&")
			i += 2
		case strings.HasPrefix(src[i:], "||"):
			tokens = append(tokens, "||")
			i += 2
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(src) && src[j] != c {
				j++
			}
			if j < len(src) {
				j++
			}
			tokens = append(tokens, src[i:j])
			i = j
		default:
			j := i
			for j < len(src) && !strings.ContainsRune(" \t()", rune(src[j])) && !strings.HasPrefix(src[j:], "==") && !strings.HasPrefix(src[j:], "&&") && !strings.HasPrefix(src[j:], "||") {
				j++
			}
			tokens = append(tokens, src[i:j])
			i = j
		}
	}
	return tokens
}
