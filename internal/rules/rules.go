// Package rules classifies banks into risk tiers with threshold rule-sets.
//
// A rule-set is a conjunction of per-indicator conditions. Red sets are
// checked before Yellow sets; the first satisfied set decides the tier.
// Nothing matching leaves the bank Green.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"finstat/internal/model"
)

// Clause binds a condition to an indicator.
type Clause struct {
	IndicatorID string
	Condition   Condition
}

func (c Clause) String() string {
	if c.Condition.Op == OpBetween {
		return c.IndicatorID + " " + c.Condition.String()
	}
	return c.IndicatorID + c.Condition.String()
}

// RuleSet is satisfied when every clause matches.
type RuleSet []Clause

// Satisfied reports whether all clauses match values.
func (rs RuleSet) Satisfied(values map[string]*float64) bool {
	if len(rs) == 0 {
		return false
	}
	for _, c := range rs {
		if !c.Condition.Match(values[c.IndicatorID]) {
			return false
		}
	}
	return true
}

func (rs RuleSet) String() string {
	parts := make([]string, len(rs))
	for i, c := range rs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// Rules holds the rule-sets of both tiers.
type Rules struct {
	Red    []RuleSet
	Yellow []RuleSet
}

// Tiers lists the non-green tiers in evaluation order.
func (r *Rules) Tiers() []struct {
	Status model.Status
	Sets   []RuleSet
} {
	return []struct {
		Status model.Status
		Sets   []RuleSet
	}{
		{model.StatusRed, r.Red},
		{model.StatusYellow, r.Yellow},
	}
}

// Evaluate classifies one bank/period's indicator values and returns the
// tier with the trail of the rule-set that fired.
func (r *Rules) Evaluate(values map[string]*float64) (model.Status, []string) {
	for _, tier := range r.Tiers() {
		for i, set := range tier.Sets {
			if set.Satisfied(values) {
				return tier.Status, []string{fmt.Sprintf("%s set #%d matched: %s", tier.Status, i+1, set)}
			}
		}
	}
	return model.StatusGreen, nil
}

// LoadRules reads a rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	r, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return r, nil
}

// ParseRules decodes the rules YAML. Only the red_sets and yellow_sets
// lists are read; single-indicator thresholds and other keys are ignored,
// as are list items that are not mappings. Any malformed condition fails.
func ParseRules(data []byte) (*Rules, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	r := &Rules{}
	if len(doc.Content) == 0 {
		return r, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("rules: expected a mapping at the top level")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i].Value, root.Content[i+1]
		var dst *[]RuleSet
		switch key {
		case "red_sets":
			dst = &r.Red
		case "yellow_sets":
			dst = &r.Yellow
		default:
			continue
		}
		if val.Kind != yaml.SequenceNode {
			continue
		}
		sets, err := parseSets(key, val)
		if err != nil {
			return nil, err
		}
		*dst = sets
	}
	return r, nil
}

func parseSets(name string, seq *yaml.Node) ([]RuleSet, error) {
	var sets []RuleSet
	for n, item := range seq.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		var set RuleSet
		for i := 0; i+1 < len(item.Content); i += 2 {
			k, v := item.Content[i], item.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("%s[%d].%s (line %d): condition must be a string", name, n, k.Value, v.Line)
			}
			cond, err := ParseCondition(v.Value)
			if err != nil {
				return nil, fmt.Errorf("%s[%d].%s (line %d): %w", name, n, k.Value, v.Line, err)
			}
			set = append(set, Clause{IndicatorID: k.Value, Condition: cond})
		}
		sets = append(sets, set)
	}
	return sets, nil
}
