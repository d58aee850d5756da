package calculator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/phuslu/log"

	"finstat/internal/model"
	"finstat/internal/store"
)

// DefaultChangeTargets are the base indicators that get percentage changes
// when none are configured.
var DefaultChangeTargets = []string{"QN9", "O1", "QN15", "QN18", "QN19", "QN11", "O2", "A1", "QN13"}

// series is one bank's history of one indicator.
type series struct {
	bank, indicator string
	values          map[model.Period]*float64
}

// pctChange returns (curr-prev)/|prev|*100, or false for a null or zero
// baseline.
func pctChange(curr float64, prev *float64) (float64, bool) {
	if prev == nil || *prev == 0 {
		return 0, false
	}
	v := (curr - *prev) / math.Abs(*prev) * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// longBaseline picks the comparison period for the long horizon: the exact
// period `window` months back if the series has it, otherwise the farthest
// earlier period no more than `window` months back.
func longBaseline(s series, p model.Period, window int) (model.Period, bool) {
	exact := p.AddMonths(-window)
	if _, ok := s.values[exact]; ok {
		return exact, true
	}
	var best model.Period
	bestDist := 0
	for cand := range s.values {
		d := p.MonthsSince(cand)
		if d < 1 || d > window {
			continue
		}
		if d > bestDist {
			best, bestDist = cand, d
		}
	}
	return best, bestDist > 0
}

// ComputeChanges derives {id}_PCT_M1 and {id}_PCT_M6 values for the target
// indicators found in values. Output is ordered by bank, indicator, period.
func ComputeChanges(values []model.IndicatorValue, targets []string) []model.IndicatorValue {
	wanted := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		wanted[t] = struct{}{}
	}

	byKey := map[[2]string]*series{}
	for _, v := range values {
		if _, ok := wanted[v.IndicatorID]; !ok {
			continue
		}
		k := [2]string{v.BankID, v.IndicatorID}
		s, ok := byKey[k]
		if !ok {
			s = &series{bank: v.BankID, indicator: v.IndicatorID, values: map[model.Period]*float64{}}
			byKey[k] = s
		}
		s.values[v.Period] = v.Value
	}

	keys := make([][2]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	var out []model.IndicatorValue
	for _, k := range keys {
		s := byKey[k]
		periods := make([]model.Period, 0, len(s.values))
		for p := range s.values {
			periods = append(periods, p)
		}
		sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

		for _, p := range periods {
			curr := s.values[p]
			if curr == nil {
				continue
			}
			if prev, ok := s.values[p.AddMonths(-model.ChangeShort)]; ok {
				if chg, ok := pctChange(*curr, prev); ok {
					out = append(out, model.IndicatorValue{
						BankID: s.bank, IndicatorID: model.ChangeID(s.indicator, model.ChangeShort),
						Period: p, Value: model.Float(chg),
					})
				}
			}
			if base, ok := longBaseline(*s, p, model.ChangeLong); ok {
				if chg, ok := pctChange(*curr, s.values[base]); ok {
					out = append(out, model.IndicatorValue{
						BankID: s.bank, IndicatorID: model.ChangeID(s.indicator, model.ChangeLong),
						Period: p, Value: model.Float(chg),
					})
				}
			}
		}
	}
	return out
}

// ChangeCalculator persists percentage changes for a fixed set of base
// indicators.
type ChangeCalculator struct {
	Targets []string
	Store   store.Store
}

// NewChangeCalculator creates a ChangeCalculator; empty targets fall back to
// DefaultChangeTargets.
func NewChangeCalculator(targets []string, st store.Store) *ChangeCalculator {
	if len(targets) == 0 {
		targets = DefaultChangeTargets
	}
	return &ChangeCalculator{Targets: targets, Store: st}
}

// Run computes and upserts change indicators, returning the number written.
func (c *ChangeCalculator) Run(ctx context.Context) (int, error) {
	values, err := c.Store.ListIndicatorValues(ctx, store.IndicatorQuery{IndicatorIDs: c.Targets})
	if err != nil {
		return 0, fmt.Errorf("list indicator values: %w", err)
	}
	if len(values) == 0 {
		return 0, nil
	}
	changes := ComputeChanges(values, c.Targets)
	if err := c.Store.UpsertIndicatorValues(ctx, changes); err != nil {
		return 0, fmt.Errorf("store changes: %w", err)
	}
	if len(changes) > 0 {
		log.Info().Int("written", len(changes)).Strs("targets", c.Targets).Msg("indicator changes calculated")
	}
	return len(changes), nil
}
