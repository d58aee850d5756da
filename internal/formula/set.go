package formula

import (
	"fmt"
	"os"
	"sort"

	"github.com/phuslu/log"
	"gopkg.in/yaml.v3"
)

// Definition is one configured indicator.
type Definition struct {
	ID      string
	Formula string
	expr    *Expr
	err     error
}

// Valid reports whether the formula compiled.
func (d Definition) Valid() bool { return d.err == nil }

// Err returns the compile error of an invalid definition.
func (d Definition) Err() error { return d.err }

// Eval evaluates the definition; invalid definitions yield nil.
func (d Definition) Eval(vars map[string]float64) *float64 {
	if d.expr == nil {
		return nil
	}
	v, ok := d.expr.Eval(vars)
	if !ok {
		return nil
	}
	return &v
}

// Set holds the indicator definitions of one run, ordered by id.
type Set struct {
	defs []Definition
}

// NewSet compiles formulas keyed by indicator id. In strict mode the first
// malformed formula fails the whole set; otherwise it is kept and always
// evaluates to nil.
func NewSet(formulas map[string]string, strict bool) (*Set, error) {
	ids := make([]string, 0, len(formulas))
	for id := range formulas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s := &Set{defs: make([]Definition, 0, len(ids))}
	for _, id := range ids {
		d := Definition{ID: id, Formula: formulas[id]}
		d.expr, d.err = Compile(d.Formula)
		if d.err != nil {
			if strict {
				return nil, fmt.Errorf("indicator %s: %w", id, d.err)
			}
			log.Warn().Str("indicator", id).Err(d.err).Msg("formula rejected, indicator will be null")
		}
		s.defs = append(s.defs, d)
	}
	return s, nil
}

// LoadSet reads an indicators file: a YAML mapping of indicator id to
// formula string.
func LoadSet(path string, strict bool) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indicators: %w", err)
	}
	formulas, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("parse indicators %s: %w", path, err)
	}
	return NewSet(formulas, strict)
}

// ParseDefinitions decodes the indicators YAML document. Scalar values of
// any tag are taken as formula text, so a bare number is a constant formula.
func ParseDefinitions(data []byte) (map[string]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := map[string]string{}
	if len(doc.Content) == 0 {
		return out, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping of indicator id to formula")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("indicator %s (line %d): formula must be a string", k.Value, v.Line)
		}
		out[k.Value] = v.Value
	}
	return out, nil
}

// Definitions returns the definitions in id order.
func (s *Set) Definitions() []Definition { return s.defs }

// IDs returns the indicator ids in order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.defs))
	for i, d := range s.defs {
		ids[i] = d.ID
	}
	return ids
}

func (s *Set) Len() int { return len(s.defs) }

// Lookup returns the definition with the given id.
func (s *Set) Lookup(id string) (Definition, bool) {
	i := sort.Search(len(s.defs), func(i int) bool { return s.defs[i].ID >= id })
	if i < len(s.defs) && s.defs[i].ID == id {
		return s.defs[i], true
	}
	return Definition{}, false
}
