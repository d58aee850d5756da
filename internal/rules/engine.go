package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/phuslu/log"

	"finstat/internal/model"
	"finstat/internal/store"
)

// Classify evaluates rules against every (bank, period) present in values.
// Output is ordered by period, then bank.
func Classify(r *Rules, values []model.IndicatorValue) []model.Classification {
	byKey := map[model.BankPeriod]map[string]*float64{}
	for _, v := range values {
		k := model.BankPeriod{BankID: v.BankID, Period: v.Period}
		m, ok := byKey[k]
		if !ok {
			m = map[string]*float64{}
			byKey[k] = m
		}
		m[v.IndicatorID] = v.Value
	}

	keys := make([]model.BankPeriod, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Period != keys[j].Period {
			return keys[i].Period.Before(keys[j].Period)
		}
		return keys[i].BankID < keys[j].BankID
	})

	out := make([]model.Classification, 0, len(keys))
	for _, k := range keys {
		status, trail := r.Evaluate(byKey[k])
		out = append(out, model.Classification{
			BankID:  k.BankID,
			Period:  k.Period,
			Status:  status,
			Details: strings.Join(trail, "; "),
		})
	}
	return out
}

// Engine classifies stored indicator values and persists the result.
type Engine struct {
	Rules *Rules
	Store store.Store

	// Period restricts classification to one month when set.
	Period model.Period
}

// NewEngine creates an Engine over all stored periods.
func NewEngine(r *Rules, st store.Store) *Engine {
	return &Engine{Rules: r, Store: st}
}

// Run classifies and upserts, returning the classifications written.
func (e *Engine) Run(ctx context.Context) ([]model.Classification, error) {
	values, err := e.Store.ListIndicatorValues(ctx, store.IndicatorQuery{Period: e.Period})
	if err != nil {
		return nil, fmt.Errorf("list indicator values: %w", err)
	}
	cs := Classify(e.Rules, values)
	if len(cs) == 0 {
		log.Warn().Msg("no indicator values to classify")
		return nil, nil
	}
	if err := e.Store.UpsertClassifications(ctx, cs); err != nil {
		return nil, fmt.Errorf("store classifications: %w", err)
	}

	counts := Count(cs)
	log.Info().
		Int("total", len(cs)).
		Int("red", counts[model.StatusRed]).
		Int("yellow", counts[model.StatusYellow]).
		Int("green", counts[model.StatusGreen]).
		Msg("banks classified")
	return cs, nil
}

// Count tallies classifications per tier.
func Count(cs []model.Classification) map[model.Status]int {
	m := map[model.Status]int{}
	for _, c := range cs {
		m[c.Status]++
	}
	return m
}
