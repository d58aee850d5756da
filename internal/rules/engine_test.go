package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstat/internal/model"
	"finstat/internal/store"
)

const sampleRules = `
# bare thresholds are ignored
QN9: "<5"
red_sets:
  - QN9: "<10"
    O1: "> 50"
  - A1: "between 20, 5"
yellow_sets:
  - QN9: "<= 15"
  - "not a mapping"
`

func mustRules(t *testing.T, src string) *Rules {
	t.Helper()
	r, err := ParseRules([]byte(src))
	require.NoError(t, err)
	return r
}

func TestParseCondition_AllOperators(t *testing.T) {
	tests := []struct {
		cond  string
		value float64
		want  bool
	}{
		{"<10", 9.99, true},
		{"<10", 10, false},
		{"<= 10", 10, true},
		{">-5", -4, true},
		{">-5", -5, false},
		{" >= +2.5 ", 2.5, true},
		{"between 5,20", 5, true},
		{"between 5,20", 20, true},
		{"between 5,20", 20.01, false},
		{"BETWEEN 20, 5", 12, true},
		{"between -10,-1", -11, false},
	}
	for _, tt := range tests {
		c, err := ParseCondition(tt.cond)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.cond, err)
		}
		v := tt.value
		if got := c.Match(&v); got != tt.want {
			t.Errorf("%q on %v: expected %v, got %v", tt.cond, tt.value, tt.want, got)
		}
	}
}

func TestParseCondition_Invalid(t *testing.T) {
	for _, s := range []string{"", "10", "== 5", "< ten", "between 5", "between 5;20", "<10%", "=> 3"} {
		if _, err := ParseCondition(s); err == nil {
			t.Errorf("%q: expected error", s)
		}
	}
}

func TestCondition_NilNeverMatches(t *testing.T) {
	c, err := ParseCondition(">-1000000")
	require.NoError(t, err)
	assert.False(t, c.Match(nil))
}

func TestParseRules_SetsOnly(t *testing.T) {
	r := mustRules(t, sampleRules)
	require.Len(t, r.Red, 2)
	require.Len(t, r.Yellow, 1)
	assert.Equal(t, "QN9", r.Red[0][0].IndicatorID)
	assert.Equal(t, "O1", r.Red[0][1].IndicatorID)
	assert.Equal(t, 5.0, r.Red[1][0].Condition.Low)
	assert.Equal(t, 20.0, r.Red[1][0].Condition.High)
}

func TestParseRules_MalformedConditionFails(t *testing.T) {
	_, err := ParseRules([]byte("red_sets:\n  - QN9: \"about 10\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "red_sets[0].QN9")
}

func TestEvaluate_RedBeforeYellow(t *testing.T) {
	r := mustRules(t, sampleRules)
	status, trail := r.Evaluate(map[string]*float64{
		"QN9": model.Float(8),
		"O1":  model.Float(60),
	})
	assert.Equal(t, model.StatusRed, status)
	require.Len(t, trail, 1)
	assert.Equal(t, "Red set #1 matched: QN9<10, O1>50", trail[0])
}

func TestEvaluate_AllClausesRequired(t *testing.T) {
	r := mustRules(t, sampleRules)
	// QN9 alone satisfies only the yellow set.
	status, trail := r.Evaluate(map[string]*float64{
		"QN9": model.Float(8),
		"O1":  model.Float(40),
	})
	assert.Equal(t, model.StatusYellow, status)
	assert.Equal(t, []string{"Yellow set #1 matched: QN9<=15"}, trail)
}

func TestEvaluate_MissingValueUnsatisfied(t *testing.T) {
	r := mustRules(t, sampleRules)
	status, _ := r.Evaluate(map[string]*float64{
		"QN9": model.Float(8),
		"O1":  nil,
	})
	assert.Equal(t, model.StatusYellow, status)

	status, trail := r.Evaluate(map[string]*float64{"O1": model.Float(99)})
	assert.Equal(t, model.StatusGreen, status)
	assert.Empty(t, trail)
}

func TestEvaluate_SecondSetAlone(t *testing.T) {
	r := mustRules(t, sampleRules)
	status, trail := r.Evaluate(map[string]*float64{"A1": model.Float(7)})
	assert.Equal(t, model.StatusRed, status)
	assert.Equal(t, []string{"Red set #2 matched: A1 between 5,20"}, trail)
}

func TestEvaluate_EmptySetNeverMatches(t *testing.T) {
	r := mustRules(t, "red_sets:\n  - {}\nyellow_sets:\n  - QN9: \"<5\"\n")
	require.Len(t, r.Red, 1)
	status, trail := r.Evaluate(map[string]*float64{"QN9": model.Float(1)})
	assert.Equal(t, model.StatusYellow, status)
	assert.Equal(t, []string{"Yellow set #1 matched: QN9<5"}, trail)
}

func TestEvaluate_BareThresholdHasNoEffect(t *testing.T) {
	r := mustRules(t, "QN9: \"<5\"\n")
	status, _ := r.Evaluate(map[string]*float64{"QN9": model.Float(1)})
	assert.Equal(t, model.StatusGreen, status)
}

func TestEngine_Run(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	jan, feb := "2024-01-01", "2024-02-01"
	require.NoError(t, st.UpsertIndicatorValues(ctx, []model.IndicatorValue{
		{BankID: "B1", IndicatorID: "QN9", Period: model.MustParsePeriod(jan), Value: model.Float(8)},
		{BankID: "B1", IndicatorID: "O1", Period: model.MustParsePeriod(jan), Value: model.Float(70)},
		{BankID: "B2", IndicatorID: "QN9", Period: model.MustParsePeriod(jan), Value: model.Float(12)},
		{BankID: "B2", IndicatorID: "QN9", Period: model.MustParsePeriod(feb), Value: model.Float(40)},
	}))

	e := NewEngine(mustRules(t, sampleRules), st)
	cs, err := e.Run(ctx)
	require.NoError(t, err)
	require.Len(t, cs, 3)

	counts := Count(cs)
	assert.Equal(t, 1, counts[model.StatusRed])
	assert.Equal(t, 1, counts[model.StatusYellow])
	assert.Equal(t, 1, counts[model.StatusGreen])

	stored, err := st.ListClassifications(ctx, model.MustParsePeriod(jan))
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, c := range stored {
		switch c.BankID {
		case "B1":
			assert.Equal(t, model.StatusRed, c.Status)
			assert.True(t, strings.HasPrefix(c.Details, "Red set #1"))
		case "B2":
			assert.Equal(t, model.StatusYellow, c.Status)
		}
	}

	// rerunning overwrites
	_, err = e.Run(ctx)
	require.NoError(t, err)
	stored, err = st.ListClassifications(ctx, model.MustParsePeriod(jan))
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestEngine_RunSinglePeriod(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.UpsertIndicatorValues(ctx, []model.IndicatorValue{
		{BankID: "B1", IndicatorID: "QN9", Period: model.MustParsePeriod("2024-01-01"), Value: model.Float(1)},
		{BankID: "B1", IndicatorID: "QN9", Period: model.MustParsePeriod("2024-02-01"), Value: model.Float(1)},
	}))
	e := NewEngine(mustRules(t, sampleRules), st)
	e.Period = model.MustParsePeriod("2024-02-01")
	cs, err := e.Run(ctx)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, e.Period, cs[0].Period)
}
