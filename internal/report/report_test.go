package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"finstat/internal/model"
	"finstat/internal/store"
)

func periods(ss ...string) []model.Period {
	out := make([]model.Period, len(ss))
	for i, s := range ss {
		out[i] = model.MustParsePeriod(s)
	}
	return out
}

func TestResolvePeriod(t *testing.T) {
	ps := periods("2023-11-01", "2024-01-01", "2024-03-01")
	tests := []struct {
		desired string
		want    string
	}{
		{"", "2024-03-01"},
		{"latest", "2024-03-01"},
		{"LATEST", "2024-03-01"},
		{"2024-01-01", "2024-01-01"},
		{"2024-02-15", "2024-01-01"},
		{"2024-02", "2024-01-01"},
		{"2025-06-01", "2024-03-01"},
		{"2020-01-01", "2023-11-01"},
	}
	for _, tt := range tests {
		got, err := ResolvePeriod(ps, tt.desired)
		require.NoError(t, err, tt.desired)
		assert.Equal(t, tt.want, got.String(), tt.desired)
	}

	_, err := ResolvePeriod(nil, "latest")
	assert.ErrorIs(t, err, ErrNoData)
	_, err = ResolvePeriod(ps, "yesterday")
	assert.Error(t, err)
}

func TestWriter_Write(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	jan := model.MustParsePeriod("2024-01-01")

	require.NoError(t, st.UpsertBanks(ctx, []model.Bank{{ID: "B1", Name: "First"}, {ID: "B2"}}))
	require.NoError(t, st.UpsertRawObservations(ctx, []model.RawObservation{
		{BankID: "B1", FormCode: "F101", Period: jan, ItemCode: "1001A", Value: model.Float(40)},
		{BankID: "B2", FormCode: "F101", Period: jan, ItemCode: "1001A", Value: nil},
	}))
	require.NoError(t, st.UpsertIndicatorValues(ctx, []model.IndicatorValue{
		{BankID: "B1", IndicatorID: "A1", Period: jan, Value: model.Float(20)},
		{BankID: "B1", IndicatorID: "QN9", Period: jan, Value: nil},
		{BankID: "B2", IndicatorID: "A1", Period: jan, Value: model.Float(5)},
	}))
	require.NoError(t, st.UpsertClassifications(ctx, []model.Classification{
		{BankID: "B1", Period: jan, Status: model.StatusRed, Details: "Red set #1 matched: A1>10"},
	}))
	require.NoError(t, st.UpsertAIClassifications(ctx, []model.AIClassification{
		{BankID: "B1", Period: jan, Status: model.StatusYellow, Model: "fake",
			Reasoning: `{"status":"Yellow","summary":"watch liquidity","recommendation":"reduce limits"}`},
	}))

	w := NewWriter(st, t.TempDir())
	w.Now = func() time.Time { return time.Date(2024, 2, 3, 10, 4, 5, 0, time.UTC) }
	path, err := w.Write(ctx, jan, "")
	require.NoError(t, err)
	assert.Equal(t, "report_20240101_20240203_100405.xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetSummary, SheetIndicators, SheetRaw, SheetAI}, f.GetSheetList())

	rows, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "bank_id,bank_name,A1,QN9,rule_status,rule_details,ai_status,ai_summary,ai_recommendation,ai_model", strings.Join(rows[0], ","))
	assert.Equal(t, []string{"B1", "First", "20", "", "Red", "Red set #1 matched: A1>10", "Yellow", "watch liquidity", "reduce limits", "fake"}, rows[1])
	assert.Equal(t, []string{"B2", "B2", "5"}, rows[2])

	rows, err = f.GetRows(SheetIndicators)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	rows, err = f.GetRows(SheetRaw)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestWriter_NoAISheetWithoutRows(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	jan := model.MustParsePeriod("2024-01-01")
	require.NoError(t, st.UpsertIndicatorValues(ctx, []model.IndicatorValue{
		{BankID: "B1", IndicatorID: "A1", Period: jan, Value: model.Float(1)},
	}))

	out := filepath.Join(t.TempDir(), "nested", "r.xlsx")
	path, err := NewWriter(st, "").Write(ctx, jan, out)
	require.NoError(t, err)
	assert.Equal(t, out, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.NotContains(t, f.GetSheetList(), SheetAI)
}

func TestWriter_NoIndicators(t *testing.T) {
	_, err := NewWriter(store.NewMemory(), t.TempDir()).Write(context.Background(), model.MustParsePeriod("2024-01-01"), "")
	require.Error(t, err)
}
