package calculator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstat/internal/dictionary"
	"finstat/internal/formula"
	"finstat/internal/model"
	"finstat/internal/store"
)

func testDictionary() *dictionary.Dictionary {
	return dictionary.New([]dictionary.Entry{
		{FormCode: "101", ItemCode: "20202", Key: "CASH"},
		{FormCode: "101", ItemCode: "20203", Key: "CASH"},
		{FormCode: "102", ItemCode: "C1", Key: "CASH"},
		{FormCode: "101", ItemCode: "30102P", Key: "DEPOSITS"},
		{FormCode: "101", ItemCode: "30102A", Key: "LOANS"},
	})
}

func TestAggregate_Additive(t *testing.T) {
	jan := model.MustParsePeriod("2024-01-01")
	obs := []model.RawObservation{
		{BankID: "B1", FormCode: "101", Period: jan, ItemCode: "20202", Value: model.Float(10)},
		{BankID: "B1", FormCode: "101", Period: jan, ItemCode: "20203", Value: model.Float(5)},
		{BankID: "B1", FormCode: "102", Period: jan, ItemCode: "C1", Value: model.Float(2.5)},
		{BankID: "B1", FormCode: "101", Period: jan, ItemCode: "30102P", Value: nil},
		{BankID: "B1", FormCode: "101", Period: jan, ItemCode: "UNMAPPED", Value: model.Float(1000)},
		{BankID: "B1", FormCode: "999", Period: jan, ItemCode: "20202", Value: model.Float(1000)},
	}
	got := Aggregate(obs, testDictionary())
	assert.Equal(t, map[string]float64{"CASH": 17.5, "DEPOSITS": 0}, got)
}

func seedRaw(t *testing.T, st store.Store) {
	t.Helper()
	jan := model.MustParsePeriod("2024-01-01")
	feb := model.MustParsePeriod("2024-02-01")
	require.NoError(t, st.UpsertRawObservations(context.Background(), []model.RawObservation{
		{BankID: "B1", FormCode: "101", Period: jan, ItemCode: "20202", Value: model.Float(30)},
		{BankID: "B1", FormCode: "101", Period: jan, ItemCode: "20203", Value: model.Float(10)},
		{BankID: "B1", FormCode: "101", Period: jan, ItemCode: "30102P", Value: model.Float(200)},
		{BankID: "B1", FormCode: "101", Period: feb, ItemCode: "20202", Value: model.Float(50)},
		{BankID: "B2", FormCode: "101", Period: jan, ItemCode: "20202", Value: model.Float(7)},
	}))
}

func testFormulas(t *testing.T) *formula.Set {
	t.Helper()
	set, err := formula.NewSet(map[string]string{
		"A1":  "CASH / DEPOSITS * 100",
		"SUM": "CASH + LOANS",
	}, true)
	require.NoError(t, err)
	return set
}

func TestIndicatorCalculator_Run(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedRaw(t, st)

	calc := NewIndicatorCalculator(testDictionary(), testFormulas(t), st)
	written, err := calc.Run(ctx)
	require.NoError(t, err)
	// 3 bank/period pairs x 2 definitions
	assert.Equal(t, 6, written)

	vals, err := st.ListIndicatorValues(ctx, store.IndicatorQuery{BankID: "B1", IndicatorIDs: []string{"A1"}})
	require.NoError(t, err)
	require.Len(t, vals, 2)
	require.NotNil(t, vals[0].Value)
	assert.InDelta(t, 20.0, *vals[0].Value, 1e-9)
	// DEPOSITS missing in February: division by zero is stored as null
	assert.Nil(t, vals[1].Value)

	sum, err := st.ListIndicatorValues(ctx, store.IndicatorQuery{BankID: "B2", IndicatorIDs: []string{"SUM"}})
	require.NoError(t, err)
	require.Len(t, sum, 1)
	assert.Equal(t, 7.0, *sum[0].Value)
}

func TestIndicatorCalculator_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedRaw(t, st)
	calc := NewIndicatorCalculator(testDictionary(), testFormulas(t), st)

	_, err := calc.Run(ctx)
	require.NoError(t, err)
	first, err := st.ListIndicatorValues(ctx, store.IndicatorQuery{})
	require.NoError(t, err)

	_, err = calc.Run(ctx)
	require.NoError(t, err)
	second, err := st.ListIndicatorValues(ctx, store.IndicatorQuery{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestIndicatorCalculator_InvalidFormulaIsContained(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedRaw(t, st)
	set, err := formula.NewSet(map[string]string{"BAD": "max(CASH)", "GOOD": "CASH"}, false)
	require.NoError(t, err)

	written, err := NewIndicatorCalculator(testDictionary(), set, st).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, written)

	vals, err := st.ListIndicatorValues(ctx, store.IndicatorQuery{IndicatorIDs: []string{"BAD"}})
	require.NoError(t, err)
	for _, v := range vals {
		assert.Nil(t, v.Value)
	}
	good, err := st.ListIndicatorValues(ctx, store.IndicatorQuery{IndicatorIDs: []string{"GOOD"}, BankID: "B1"})
	require.NoError(t, err)
	require.Len(t, good, 2)
	assert.Equal(t, 40.0, *good[0].Value)
}

func TestIndicatorCalculator_NoRawData(t *testing.T) {
	written, err := NewIndicatorCalculator(testDictionary(), testFormulas(t), store.NewMemory()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, written)
}
