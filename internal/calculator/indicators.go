// Package calculator derives indicator values from raw statement data and
// percentage changes from indicator history.
package calculator

import (
	"context"
	"fmt"

	"github.com/phuslu/log"

	"finstat/internal/formula"
	"finstat/internal/model"
	"finstat/internal/store"
)

// Resolver maps a raw line item to its standardized key.
type Resolver interface {
	Resolve(formCode, itemCode string) (string, bool)
}

// Aggregate sums raw values per standardized key. Unmapped items are
// dropped; a null value registers its key with 0.
func Aggregate(obs []model.RawObservation, r Resolver) map[string]float64 {
	sums := make(map[string]float64)
	for _, o := range obs {
		key, ok := r.Resolve(o.FormCode, o.ItemCode)
		if !ok {
			continue
		}
		v := 0.0
		if o.Value != nil {
			v = *o.Value
		}
		sums[key] += v
	}
	return sums
}

// IndicatorCalculator evaluates every configured formula for every bank
// and period present in raw data.
type IndicatorCalculator struct {
	Resolver Resolver
	Formulas *formula.Set
	Store    store.Store
}

// NewIndicatorCalculator creates an IndicatorCalculator.
func NewIndicatorCalculator(r Resolver, formulas *formula.Set, st store.Store) *IndicatorCalculator {
	return &IndicatorCalculator{Resolver: r, Formulas: formulas, Store: st}
}

// Compute evaluates all definitions against one bank/period's raw data.
func (c *IndicatorCalculator) Compute(bp model.BankPeriod, obs []model.RawObservation) []model.IndicatorValue {
	vars := Aggregate(obs, c.Resolver)
	defs := c.Formulas.Definitions()
	out := make([]model.IndicatorValue, 0, len(defs))
	for _, d := range defs {
		out = append(out, model.IndicatorValue{
			BankID:      bp.BankID,
			IndicatorID: d.ID,
			Period:      bp.Period,
			Value:       d.Eval(vars),
		})
	}
	return out
}

// Run recomputes all indicators for all bank/period pairs and returns the
// number of values written. It is not incremental.
func (c *IndicatorCalculator) Run(ctx context.Context) (int, error) {
	pairs, err := c.Store.ListBankPeriods(ctx)
	if err != nil {
		return 0, fmt.Errorf("list bank periods: %w", err)
	}
	if len(pairs) == 0 {
		log.Warn().Msg("no raw data, nothing to calculate")
		return 0, nil
	}

	written := 0
	for _, bp := range pairs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		obs, err := c.Store.ListRawObservations(ctx, store.RawQuery{BankID: bp.BankID, Period: bp.Period})
		if err != nil {
			return written, fmt.Errorf("list raw values for %s %s: %w", bp.BankID, bp.Period, err)
		}
		values := c.Compute(bp, obs)
		if err := c.Store.UpsertIndicatorValues(ctx, values); err != nil {
			return written, fmt.Errorf("store indicators for %s %s: %w", bp.BankID, bp.Period, err)
		}
		written += len(values)
	}

	log.Info().
		Int("pairs", len(pairs)).
		Int("indicators", c.Formulas.Len()).
		Int("written", written).
		Msg("indicator values calculated")
	return written, nil
}
