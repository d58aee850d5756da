package llm

import (
	"context"
	"fmt"

	"finstat/internal/model"
	"finstat/internal/store"
)

// Point is one observation in a metric series.
type Point struct {
	Period string   `json:"p"`
	Value  *float64 `json:"v"`
}

// Metric carries either a series (base indicators) or a latest value
// (changes and single metrics).
type Metric struct {
	Series []Point  `json:"series,omitempty"`
	Latest *float64 `json:"latest"`
}

// Payload is the per-bank data the model sees.
type Payload struct {
	Bank struct {
		ID           string `json:"id"`
		Name         string `json:"name,omitempty"`
		PeriodLatest string `json:"period_latest"`
	} `json:"bank"`
	TimeseriesMonths int               `json:"timeseries_months"`
	Metrics          map[string]Metric `json:"metrics"`
	Algo             struct {
		Status  string `json:"status,omitempty"`
		Details string `json:"details,omitempty"`
	} `json:"algo"`
	DataQuality struct {
		PeriodsAvailable int      `json:"periods_available"`
		SeriesPoints     int      `json:"series_points"`
		MissingLatest    []string `json:"missing_latest,omitempty"`
	} `json:"data_quality"`
}

// window returns up to n stored periods ending at p, oldest first.
func window(periods []model.Period, p model.Period, n int) []model.Period {
	var upTo []model.Period
	for _, q := range periods {
		if !p.Before(q) {
			upTo = append(upTo, q)
		}
	}
	if len(upTo) > n {
		upTo = upTo[len(upTo)-n:]
	}
	return upTo
}

func (a *Analyzer) buildPayload(ctx context.Context, bank model.Bank, period model.Period, periods []model.Period, algo map[string]model.Classification) (*Payload, error) {
	values, err := a.Store.ListIndicatorValues(ctx, store.IndicatorQuery{BankID: bank.ID})
	if err != nil {
		return nil, fmt.Errorf("list indicators for %s: %w", bank.ID, err)
	}
	inWindow := make(map[model.Period]bool, len(periods))
	for _, p := range periods {
		inWindow[p] = true
	}
	byID := map[string]map[model.Period]*float64{}
	for _, v := range values {
		if !inWindow[v.Period] {
			continue
		}
		m, ok := byID[v.IndicatorID]
		if !ok {
			m = map[model.Period]*float64{}
			byID[v.IndicatorID] = m
		}
		m[v.Period] = v.Value
	}

	pl := &Payload{Metrics: map[string]Metric{}}
	pl.Bank.ID = bank.ID
	pl.Bank.Name = bank.Name
	pl.Bank.PeriodLatest = period.String()
	pl.TimeseriesMonths = len(periods)
	pl.DataQuality.PeriodsAvailable = len(periods)

	for _, id := range a.Options.BaseMetrics {
		var m Metric
		for _, p := range periods {
			v, ok := byID[id][p]
			if !ok {
				continue
			}
			m.Series = append(m.Series, Point{Period: p.String(), Value: v})
			if v != nil {
				pl.DataQuality.SeriesPoints++
			}
		}
		if v, ok := byID[id][period]; !ok || v == nil {
			pl.DataQuality.MissingLatest = append(pl.DataQuality.MissingLatest, id)
		}
		pl.Metrics[id] = m
	}

	var latestIDs []string
	for _, id := range a.Options.BaseMetrics {
		latestIDs = append(latestIDs, model.ChangeID(id, model.ChangeShort))
	}
	for _, id := range a.Options.BaseMetrics {
		latestIDs = append(latestIDs, model.ChangeID(id, model.ChangeLong))
	}
	latestIDs = append(latestIDs, a.Options.SingleMetrics...)
	for _, id := range latestIDs {
		pl.Metrics[id] = Metric{Latest: latest(byID[id], periods)}
	}

	if c, ok := algo[bank.ID]; ok {
		pl.Algo.Status = string(c.Status)
		pl.Algo.Details = c.Details
	}
	return pl, nil
}

// latest returns the value at the most recent period present in the window.
func latest(vals map[model.Period]*float64, periods []model.Period) *float64 {
	for i := len(periods) - 1; i >= 0; i-- {
		if v, ok := vals[periods[i]]; ok {
			return v
		}
	}
	return nil
}
