// Package formula evaluates indicator formulas: arithmetic over named
// standardized keys with + - * /, unary signs and parentheses. Formulas are
// operator-authored configuration, so nothing beyond that grammar is
// accepted and evaluation never fails loudly: any failure yields no value.
package formula

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	errDivByZero   = errors.New("division by zero")
	errUnsupported = errors.New("unsupported expression")
)

// Expr is a compiled formula.
type Expr struct {
	src  string
	root *node
}

// Compile parses src and rejects anything outside the arithmetic grammar.
func Compile(src string) (*Expr, error) {
	root, err := parse(src)
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", src, err)
	}
	return &Expr{src: src, root: root}, nil
}

func (e *Expr) String() string { return e.src }

// Eval computes the formula. Names missing from vars count as 0. The second
// result is false on division by zero or a NaN/infinite result.
func (e *Expr) Eval(vars map[string]float64) (float64, bool) {
	v, err := eval(e.root, vars)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Names lists the distinct variable names the formula references, sorted.
func (e *Expr) Names() []string {
	seen := map[string]struct{}{}
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		if n.kind == nodeName {
			seen[n.name] = struct{}{}
		}
		walk(n.left)
		walk(n.right)
	}
	walk(e.root)
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Evaluate compiles and evaluates src in one step. It returns nil when the
// formula is malformed or produces no finite value.
func Evaluate(src string, vars map[string]float64) *float64 {
	e, err := Compile(src)
	if err != nil {
		return nil
	}
	v, ok := e.Eval(vars)
	if !ok {
		return nil
	}
	return &v
}

func eval(n *node, vars map[string]float64) (float64, error) {
	switch n.kind {
	case nodeLiteral:
		return n.value, nil
	case nodeName:
		return vars[n.name], nil
	case nodeUnary:
		v, err := eval(n.left, vars)
		if err != nil {
			return 0, err
		}
		switch n.op {
		case '+':
			return v, nil
		case '-':
			return -v, nil
		}
		return 0, errUnsupported
	case nodeBinary:
		l, err := eval(n.left, vars)
		if err != nil {
			return 0, err
		}
		r, err := eval(n.right, vars)
		if err != nil {
			return 0, err
		}
		switch n.op {
		case '+':
			return l + r, nil
		case '-':
			return l - r, nil
		case '*':
			return l * r, nil
		case '/':
			if r == 0 {
				return 0, errDivByZero
			}
			return l / r, nil
		}
		return 0, errUnsupported
	default:
		return 0, errUnsupported
	}
}
