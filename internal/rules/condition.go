package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator is a threshold comparison.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpBetween      Operator = "between"
)

// Condition is one parsed threshold: a comparison against Threshold, or an
// inclusive [Low, High] range for OpBetween.
type Condition struct {
	Op        Operator
	Threshold float64
	Low       float64
	High      float64
}

var (
	cmpPattern     = regexp.MustCompile(`^(<=|>=|<|>)\s*([+-]?\d+(\.\d+)?)$`)
	betweenPattern = regexp.MustCompile(`^between\s+([+-]?\d+(\.\d+)?),\s*([+-]?\d+(\.\d+)?)$`)
)

// ParseCondition parses "<10", ">= -5.5" or "between 5,20". Range endpoints
// may be given in either order.
func ParseCondition(s string) (Condition, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if m := cmpPattern.FindStringSubmatch(norm); m != nil {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Condition{}, fmt.Errorf("condition %q: %w", s, err)
		}
		return Condition{Op: Operator(m[1]), Threshold: v}, nil
	}
	if m := betweenPattern.FindStringSubmatch(norm); m != nil {
		a, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Condition{}, fmt.Errorf("condition %q: %w", s, err)
		}
		b, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return Condition{}, fmt.Errorf("condition %q: %w", s, err)
		}
		if a > b {
			a, b = b, a
		}
		return Condition{Op: OpBetween, Low: a, High: b}, nil
	}
	return Condition{}, fmt.Errorf("invalid condition %q: want <, <=, >, >= followed by a number, or \"between a,b\"", s)
}

// Match reports whether v satisfies the condition. A missing value never
// matches.
func (c Condition) Match(v *float64) bool {
	if v == nil {
		return false
	}
	x := *v
	switch c.Op {
	case OpLess:
		return x < c.Threshold
	case OpLessEqual:
		return x <= c.Threshold
	case OpGreater:
		return x > c.Threshold
	case OpGreaterEqual:
		return x >= c.Threshold
	case OpBetween:
		return c.Low <= x && x <= c.High
	}
	return false
}

func (c Condition) String() string {
	if c.Op == OpBetween {
		return fmt.Sprintf("between %s,%s", formatNum(c.Low), formatNum(c.High))
	}
	return string(c.Op) + formatNum(c.Threshold)
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
