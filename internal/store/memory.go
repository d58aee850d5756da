package store

import (
	"context"
	"sort"
	"sync"

	"finstat/internal/model"
)

type rawKey struct {
	bank, form string
	period     model.Period
	item       string
}

type indicatorKey struct {
	bank, indicator string
	period          model.Period
}

// MemoryStore is an in-process Store, used for tests and dry runs.
type MemoryStore struct {
	mu         sync.Mutex
	banks      map[string]model.Bank
	raw        map[rawKey]model.RawObservation
	indicators map[indicatorKey]model.IndicatorValue
	algo       map[model.BankPeriod]model.Classification
	ai         map[model.BankPeriod]model.AIClassification
	ingestions map[string]model.IngestionRecord
	runs       map[string]model.RunRecord
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		banks:      map[string]model.Bank{},
		raw:        map[rawKey]model.RawObservation{},
		indicators: map[indicatorKey]model.IndicatorValue{},
		algo:       map[model.BankPeriod]model.Classification{},
		ai:         map[model.BankPeriod]model.AIClassification{},
		ingestions: map[string]model.IngestionRecord{},
		runs:       map[string]model.RunRecord{},
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return model.Float(*v)
}

func (m *MemoryStore) UpsertBanks(_ context.Context, banks []model.Bank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range banks {
		if old, ok := m.banks[b.ID]; ok && b.Name == "" {
			b.Name = old.Name
		}
		m.banks[b.ID] = b
	}
	return nil
}

func (m *MemoryStore) ListBanks(_ context.Context) ([]model.Bank, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Bank, 0, len(m.banks))
	for _, b := range m.banks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertRawObservations(_ context.Context, obs []model.RawObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range obs {
		o.Value = cloneFloat(o.Value)
		m.raw[rawKey{o.BankID, o.FormCode, o.Period, o.ItemCode}] = o
	}
	return nil
}

func (m *MemoryStore) ListRawObservations(_ context.Context, q RawQuery) ([]model.RawObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RawObservation
	for _, o := range m.raw {
		if q.BankID != "" && o.BankID != q.BankID {
			continue
		}
		if q.FormCode != "" && o.FormCode != q.FormCode {
			continue
		}
		if !q.Period.IsZero() && o.Period != q.Period {
			continue
		}
		o.Value = cloneFloat(o.Value)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BankID != b.BankID {
			return a.BankID < b.BankID
		}
		if a.Period != b.Period {
			return a.Period.Before(b.Period)
		}
		if a.FormCode != b.FormCode {
			return a.FormCode < b.FormCode
		}
		return a.ItemCode < b.ItemCode
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListBankPeriods(_ context.Context) ([]model.BankPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[model.BankPeriod]struct{}{}
	for k := range m.raw {
		seen[model.BankPeriod{BankID: k.bank, Period: k.period}] = struct{}{}
	}
	out := make([]model.BankPeriod, 0, len(seen))
	for bp := range seen {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BankID != out[j].BankID {
			return out[i].BankID < out[j].BankID
		}
		return out[i].Period.Before(out[j].Period)
	})
	return out, nil
}

func (m *MemoryStore) ListPeriods(_ context.Context) ([]model.Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[model.Period]struct{}{}
	for k := range m.raw {
		seen[k.period] = struct{}{}
	}
	out := make([]model.Period, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *MemoryStore) ListForms(_ context.Context) ([]FormSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type agg struct {
		banks   map[string]struct{}
		periods map[model.Period]struct{}
		rows    int
	}
	byForm := map[string]*agg{}
	for k := range m.raw {
		a, ok := byForm[k.form]
		if !ok {
			a = &agg{banks: map[string]struct{}{}, periods: map[model.Period]struct{}{}}
			byForm[k.form] = a
		}
		a.banks[k.bank] = struct{}{}
		a.periods[k.period] = struct{}{}
		a.rows++
	}
	out := make([]FormSummary, 0, len(byForm))
	for form, a := range byForm {
		out = append(out, FormSummary{FormCode: form, Banks: len(a.banks), Periods: len(a.periods), Rows: a.rows})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FormCode < out[j].FormCode })
	return out, nil
}

func (m *MemoryStore) UpsertIndicatorValues(_ context.Context, values []model.IndicatorValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		v.Value = cloneFloat(v.Value)
		m.indicators[indicatorKey{v.BankID, v.IndicatorID, v.Period}] = v
	}
	return nil
}

func (m *MemoryStore) ListIndicatorValues(_ context.Context, q IndicatorQuery) ([]model.IndicatorValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := map[string]struct{}{}
	for _, id := range q.IndicatorIDs {
		ids[id] = struct{}{}
	}
	var out []model.IndicatorValue
	for _, v := range m.indicators {
		if len(ids) > 0 {
			if _, ok := ids[v.IndicatorID]; !ok {
				continue
			}
		}
		if q.BankID != "" && v.BankID != q.BankID {
			continue
		}
		if !q.Period.IsZero() && v.Period != q.Period {
			continue
		}
		v.Value = cloneFloat(v.Value)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BankID != b.BankID {
			return a.BankID < b.BankID
		}
		if a.IndicatorID != b.IndicatorID {
			return a.IndicatorID < b.IndicatorID
		}
		return a.Period.Before(b.Period)
	})
	return out, nil
}

func (m *MemoryStore) UpsertClassifications(_ context.Context, cs []model.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cs {
		m.algo[model.BankPeriod{BankID: c.BankID, Period: c.Period}] = c
	}
	return nil
}

func (m *MemoryStore) ListClassifications(_ context.Context, period model.Period) ([]model.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Classification
	for k, c := range m.algo {
		if k.Period == period {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankID < out[j].BankID })
	return out, nil
}

func (m *MemoryStore) UpsertAIClassifications(_ context.Context, cs []model.AIClassification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cs {
		m.ai[model.BankPeriod{BankID: c.BankID, Period: c.Period}] = c
	}
	return nil
}

func (m *MemoryStore) ListAIClassifications(_ context.Context, period model.Period) ([]model.AIClassification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AIClassification
	for k, c := range m.ai {
		if k.Period == period {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankID < out[j].BankID })
	return out, nil
}

func (m *MemoryStore) RecordIngestion(_ context.Context, rec model.IngestionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingestions[rec.FileName] = rec
	return nil
}

func (m *MemoryStore) HasIngested(_ context.Context, fileName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ingestions[fileName]
	return ok, nil
}

func (m *MemoryStore) ListIngestions(_ context.Context) ([]model.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.IngestionRecord, 0, len(m.ingestions))
	for _, r := range m.ingestions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

func (m *MemoryStore) RecordRun(_ context.Context, run model.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

// Runs returns recorded runs, for tests.
func (m *MemoryStore) Runs() []model.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	forms := map[string]struct{}{}
	periods := map[model.Period]struct{}{}
	for k := range m.raw {
		forms[k.form] = struct{}{}
		periods[k.period] = struct{}{}
	}
	return Stats{
		Banks:           len(m.banks),
		Forms:           len(forms),
		Periods:         len(periods),
		RawValues:       len(m.raw),
		IndicatorValues: len(m.indicators),
		Classifications: len(m.algo),
		AIClassified:    len(m.ai),
	}, nil
}

func (m *MemoryStore) Close() error { return nil }
