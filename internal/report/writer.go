// Package report renders one period's results as an Excel workbook.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/phuslu/log"
	"github.com/xuri/excelize/v2"

	"finstat/internal/llm"
	"finstat/internal/model"
	"finstat/internal/store"
)

// Sheet names.
const (
	SheetSummary    = "Summary"
	SheetIndicators = "Indicators_long"
	SheetRaw        = "Raw_values"
	SheetAI         = "AI"
)

// Writer builds workbooks from the store.
type Writer struct {
	Store store.Store
	Dir   string
	Now   func() time.Time
}

// NewWriter creates a Writer that places default-named files under dir.
func NewWriter(st store.Store, dir string) *Writer {
	return &Writer{Store: st, Dir: dir, Now: time.Now}
}

// DefaultPath names a report for period, stamped with the current time.
func (w *Writer) DefaultPath(period model.Period) string {
	return filepath.Join(w.Dir, fmt.Sprintf("report_%s_%s.xlsx", period.Compact(), w.Now().Format("20060102_150405")))
}

// Write renders period into path (a default name when empty) and returns
// the file written.
func (w *Writer) Write(ctx context.Context, period model.Period, path string) (string, error) {
	if path == "" {
		path = w.DefaultPath(period)
	}

	indicators, err := w.Store.ListIndicatorValues(ctx, store.IndicatorQuery{Period: period})
	if err != nil {
		return "", fmt.Errorf("list indicators: %w", err)
	}
	if len(indicators) == 0 {
		return "", fmt.Errorf("no indicators for period %s", period)
	}
	banks, err := w.Store.ListBanks(ctx)
	if err != nil {
		return "", fmt.Errorf("list banks: %w", err)
	}
	algo, err := w.Store.ListClassifications(ctx, period)
	if err != nil {
		return "", fmt.Errorf("list classifications: %w", err)
	}
	ai, err := w.Store.ListAIClassifications(ctx, period)
	if err != nil {
		return "", fmt.Errorf("list ai classifications: %w", err)
	}
	raw, err := w.Store.ListRawObservations(ctx, store.RawQuery{Period: period})
	if err != nil {
		return "", fmt.Errorf("list raw values: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return "", err
	}
	if err := writeSummary(f, banks, indicators, algo, ai); err != nil {
		return "", fmt.Errorf("summary sheet: %w", err)
	}
	if err := writeIndicators(f, indicators); err != nil {
		return "", fmt.Errorf("indicators sheet: %w", err)
	}
	if err := writeRaw(f, raw); err != nil {
		return "", fmt.Errorf("raw sheet: %w", err)
	}
	if len(ai) > 0 {
		if err := writeAI(f, ai); err != nil {
			return "", fmt.Errorf("ai sheet: %w", err)
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	log.Info().Str("period", period.String()).Str("file", path).Int("banks", countBanks(indicators)).Msg("report written")
	return path, nil
}

func cell(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &row); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func newSheet(f *excelize.File, name string) error {
	_, err := f.NewSheet(name)
	return err
}

func countBanks(values []model.IndicatorValue) int {
	seen := map[string]struct{}{}
	for _, v := range values {
		seen[v.BankID] = struct{}{}
	}
	return len(seen)
}

func writeSummary(f *excelize.File, banks []model.Bank, values []model.IndicatorValue, algo []model.Classification, ai []model.AIClassification) error {
	names := make(map[string]string, len(banks))
	for _, b := range banks {
		names[b.ID] = b.Name
	}
	algoBy := make(map[string]model.Classification, len(algo))
	for _, c := range algo {
		algoBy[c.BankID] = c
	}
	aiBy := make(map[string]model.AIClassification, len(ai))
	for _, c := range ai {
		aiBy[c.BankID] = c
	}

	pivot := map[string]map[string]*float64{}
	idSet := map[string]struct{}{}
	for _, v := range values {
		m, ok := pivot[v.BankID]
		if !ok {
			m = map[string]*float64{}
			pivot[v.BankID] = m
		}
		m[v.IndicatorID] = v.Value
		idSet[v.IndicatorID] = struct{}{}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	bankIDs := make([]string, 0, len(pivot))
	for id := range pivot {
		bankIDs = append(bankIDs, id)
	}
	sort.Strings(bankIDs)

	header := []any{"bank_id", "bank_name"}
	for _, id := range ids {
		header = append(header, id)
	}
	header = append(header, "rule_status", "rule_details", "ai_status", "ai_summary", "ai_recommendation", "ai_model")
	rows := [][]any{header}

	for _, b := range bankIDs {
		name := names[b]
		if name == "" {
			name = b
		}
		row := []any{b, name}
		for _, id := range ids {
			row = append(row, cell(pivot[b][id]))
		}
		a := algoBy[b]
		row = append(row, string(a.Status), a.Details)
		if c, ok := aiBy[b]; ok {
			r, _ := llm.ParseReasoning(c.Reasoning)
			row = append(row, string(c.Status), r.Summary, r.Recommendation, c.Model)
		} else {
			row = append(row, nil, nil, nil, nil)
		}
		rows = append(rows, row)
	}
	return setRows(f, SheetSummary, rows)
}

func writeIndicators(f *excelize.File, values []model.IndicatorValue) error {
	if err := newSheet(f, SheetIndicators); err != nil {
		return err
	}
	rows := [][]any{{"bank_id", "indicator_id", "period", "value"}}
	for _, v := range values {
		rows = append(rows, []any{v.BankID, v.IndicatorID, v.Period.String(), cell(v.Value)})
	}
	return setRows(f, SheetIndicators, rows)
}

func writeRaw(f *excelize.File, raw []model.RawObservation) error {
	if err := newSheet(f, SheetRaw); err != nil {
		return err
	}
	rows := [][]any{{"bank_id", "form_code", "period", "item_code", "value"}}
	for _, o := range raw {
		rows = append(rows, []any{o.BankID, o.FormCode, o.Period.String(), o.ItemCode, cell(o.Value)})
	}
	return setRows(f, SheetRaw, rows)
}

func writeAI(f *excelize.File, ai []model.AIClassification) error {
	if err := newSheet(f, SheetAI); err != nil {
		return err
	}
	rows := [][]any{{"bank_id", "status", "model", "summary", "recommendation", "reasoning"}}
	for _, c := range ai {
		r, _ := llm.ParseReasoning(c.Reasoning)
		rows = append(rows, []any{c.BankID, string(c.Status), c.Model, r.Summary, r.Recommendation, c.Reasoning})
	}
	return setRows(f, SheetAI, rows)
}
