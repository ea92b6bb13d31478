package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conneroisu/hydra/internal/value"
)

type condKind int

const (
	condTruthy condKind = iota
	condCompare
	condPredicate
)

// operators in match order: longer first so `===` never reads as `==`.
var operators = []string{"===", "!==", "==", "!=", "<=", ">=", "<", ">"}

// operand is a literal or a store key.
type operand struct {
	literal   any
	isLiteral bool
	key       string
}

// Condition is a parsed `data-if` or `data-classname-*` expression.
type Condition struct {
	Raw    string
	Negate bool

	kind  condKind
	left  string
	op    string
	right operand
	name  string
	args  []operand
}

// Lookup resolves a dotted store path.
type Lookup func(path string) (any, bool)

// PredicateCall dispatches a named predicate. ok is false when no
// predicate is registered under name.
type PredicateCall func(name string, args []any) (result, ok bool)

// ParseCondition parses one of the three condition forms, each optionally
// negated with `!`: a bare identifier, `identifier <op> rhs`, or a named
// predicate call `name(args)`.
func ParseCondition(expr string) (*Condition, error) {
	c := &Condition{Raw: expr}
	s := strings.TrimSpace(expr)
	for strings.HasPrefix(s, "!") && !strings.HasPrefix(s, "!=") {
		c.Negate = !c.Negate
		s = strings.TrimSpace(s[1:])
	}
	if s == "" {
		return nil, fmt.Errorf("empty condition %q", expr)
	}

	if open := strings.IndexByte(s, '('); open > 0 && strings.HasSuffix(s, ")") {
		name := strings.TrimSpace(s[:open])
		if !isIdentifier(name) {
			return nil, fmt.Errorf("condition %q: invalid predicate name %q", expr, name)
		}
		args, err := splitArgs(s[open+1 : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", expr, err)
		}
		c.kind = condPredicate
		c.name = name
		for _, a := range args {
			op, err := parseOperand(a)
			if err != nil {
				return nil, fmt.Errorf("condition %q: %w", expr, err)
			}
			c.args = append(c.args, op)
		}
		return c, nil
	}

	if at, op := findOperator(s); at >= 0 {
		left := strings.TrimSpace(s[:at])
		right := strings.TrimSpace(s[at+len(op):])
		if !isIdentifier(left) {
			return nil, fmt.Errorf("condition %q: left side %q is not an identifier", expr, left)
		}
		if right == "" {
			return nil, fmt.Errorf("condition %q: missing right side", expr)
		}
		rhs, err := parseOperand(right)
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", expr, err)
		}
		c.kind = condCompare
		c.left = left
		c.op = op
		c.right = rhs
		return c, nil
	}

	if !isIdentifier(s) {
		return nil, fmt.Errorf("condition %q: %q is not an identifier", expr, s)
	}
	c.kind = condTruthy
	c.left = s
	return c, nil
}

// Keys returns the store paths the condition reads.
func (c *Condition) Keys() []string {
	var out []string
	switch c.kind {
	case condTruthy, condCompare:
		out = append(out, c.left)
		if c.kind == condCompare && !c.right.isLiteral {
			out = append(out, c.right.key)
		}
	case condPredicate:
		for _, a := range c.args {
			if !a.isLiteral {
				out = append(out, a.key)
			}
		}
	}
	return out
}

// Eval evaluates the condition. A predicate missing from call evaluates
// to false whether or not the condition is negated, and is reported
// through missing.
func (c *Condition) Eval(lookup Lookup, call PredicateCall) (result bool, missing bool) {
	switch c.kind {
	case condTruthy:
		v, _ := lookup(c.left)
		result = value.Truthy(v)
	case condCompare:
		l, _ := lookup(c.left)
		result = compare(l, c.op, c.right.resolve(lookup))
	case condPredicate:
		args := make([]any, len(c.args))
		for i, a := range c.args {
			args[i] = a.resolve(lookup)
		}
		var ok bool
		if call != nil {
			result, ok = call(c.name, args)
		}
		if !ok {
			return false, true
		}
	}
	if c.Negate {
		result = !result
	}
	return result, false
}

func (o operand) resolve(lookup Lookup) any {
	if o.isLiteral {
		return o.literal
	}
	v, _ := lookup(o.key)
	return v
}

func compare(l any, op string, r any) bool {
	l = normalized(l)
	r = normalized(r)
	switch op {
	case "===":
		return value.Equal(l, r)
	case "!==":
		return !value.Equal(l, r)
	case "==":
		return looseEqual(l, r)
	case "!=":
		return !looseEqual(l, r)
	}

	ln, ok := l.(float64)
	if !ok {
		return false
	}
	rn, ok := value.ToNumber(r)
	if !ok {
		return false
	}
	switch op {
	case "<":
		return ln < rn
	case ">":
		return ln > rn
	case "<=":
		return ln <= rn
	case ">=":
		return ln >= rn
	}
	return false
}

// looseEqual is strict equality extended so that scalars compare by their
// attribute form: 1 == "1" and true == "true".
func looseEqual(l, r any) bool {
	if value.Equal(l, r) {
		return true
	}
	lk, rk := value.KindOf(l), value.KindOf(r)
	if lk == value.Array || lk == value.Object || rk == value.Array || rk == value.Object {
		return false
	}
	if l == nil || r == nil {
		return false
	}
	return value.Format(l) == value.Format(r)
}

func normalized(v any) any {
	if n, err := value.Normalize(v); err == nil {
		return n
	}
	return v
}

func parseOperand(s string) (operand, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return operand{}, fmt.Errorf("empty operand")
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return operand{literal: s[1 : len(s)-1], isLiteral: true}, nil
	}
	var lit any
	if err := json.Unmarshal([]byte(s), &lit); err == nil {
		return operand{literal: lit, isLiteral: true}, nil
	}
	if !isIdentifier(s) {
		return operand{}, fmt.Errorf("operand %q is neither a literal nor an identifier", s)
	}
	return operand{key: s}, nil
}

func findOperator(s string) (int, string) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		for _, op := range operators {
			if strings.HasPrefix(s[i:], op) {
				return i, op
			}
		}
	}
	return -1, ""
}

func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []string
	var quote byte
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[' || c == '{':
			depth++
		case c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if quote != 0 || depth != 0 {
		return nil, fmt.Errorf("unbalanced arguments %q", s)
	}
	return append(out, s[start:]), nil
}

// isIdentifier accepts store paths such as `open`, `user.name` and
// `items[0].done`.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if !(c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || c == '$' || c == '.' || c == '[' || c == ']' || c == '-':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	_, err := value.ParsePath(s)
	return err == nil
}
