package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstat/internal/config"
	"finstat/internal/model"
	"finstat/internal/store"
)

const (
	dictionaryCSV  = "# form_code,item_code,std_key\n101,20202,CASH\n101,30102P,DEPOSITS\n"
	indicatorsYAML = "A1: CASH / DEPOSITS * 100\n"
	rulesYAML      = "red_sets:\n  - A1: \"<10\"\n    A1_PCT_M1: \"<-20\"\nyellow_sets:\n  - A1: \"<15\"\n"
	inputCSV       = "bank_id,form_code,period,item_code,value\n" +
		"B1,101,2023-12-01,20202,30\n" +
		"B1,101,2023-12-01,30102P,200\n" +
		"B1,101,2024-01-01,20202,10\n" +
		"B1,101,2024-01-01,30102P,200\n" +
		"B2,101,2024-01-01,20202,28\n" +
		"B2,101,2024-01-01,30102P,200\n"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	cfg, err := config.Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.Paths.DictionaryFile = write("data_dictionary.csv", dictionaryCSV)
	cfg.Paths.IndicatorsFile = write("indicators.yaml", indicatorsYAML)
	cfg.Paths.RulesFile = write("rules.yaml", rulesYAML)
	write("input/b.csv", inputCSV)
	cfg.Paths.InputDir = filepath.Join(dir, "input")
	cfg.Paths.ReportsDir = filepath.Join(dir, "reports")
	cfg.AI.CacheDir = filepath.Join(dir, "llm")
	cfg.Changes.Indicators = []string{"A1"}
	return cfg
}

func TestPipeline_RunEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.AI.Enabled = true
	cfg.AI.DryRun = true
	st := store.NewMemory()

	p, err := Build(cfg, st, nil)
	require.NoError(t, err)
	require.NotNil(t, p.Analyzer)

	sum, err := p.Run(ctx, Options{AI: true, Report: true})
	require.NoError(t, err)
	rec := sum.Run
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 6, rec.Imported)
	assert.Equal(t, 3, rec.IndicatorValues)
	// B1 Jan: M1 and M6 against Dec
	assert.Equal(t, 2, rec.ChangeValues)
	assert.Equal(t, 3, rec.Classified)
	assert.Equal(t, 0, rec.AIClassified)
	assert.FileExists(t, rec.ReportPath)

	jan := model.MustParsePeriod("2024-01-01")
	cs, err := st.ListClassifications(ctx, jan)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	// B1: A1 = 5, change -66.7% -> Red; B2: A1 = 14 -> Yellow
	assert.Equal(t, model.StatusRed, cs[0].Status)
	assert.Equal(t, model.StatusYellow, cs[1].Status)

	assert.Equal(t, 1, sum.Counts[model.StatusRed])
	require.Len(t, sum.Red, 1)
	assert.Equal(t, "B1", sum.Red[0].BankID)

	ai, err := st.ListAIClassifications(ctx, jan)
	require.NoError(t, err)
	assert.Len(t, ai, 2)

	runs := st.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, rec.ID, runs[0].ID)
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	st := store.NewMemory()
	p, err := Build(cfg, st, nil)
	require.NoError(t, err)
	assert.Nil(t, p.Analyzer)

	_, err = p.Run(ctx, Options{})
	require.NoError(t, err)
	first, err := st.Stats(ctx)
	require.NoError(t, err)

	sum, err := p.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Run.Imported)
	second, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuild_BadRules(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Paths.RulesFile, []byte("red_sets:\n  - A1: \"== 3\"\n"), 0o644))
	_, err := Build(cfg, store.NewMemory(), nil)
	require.Error(t, err)
}

func TestBuild_ShippedConfigs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths.DictionaryFile = "../../configs/data_dictionary.csv"
	cfg.Paths.IndicatorsFile = "../../configs/indicators.yaml"
	cfg.Paths.RulesFile = "../../configs/rules.yaml"

	p, err := Build(cfg, store.NewMemory(), nil)
	require.NoError(t, err)
	assert.Len(t, p.Indicators.Formulas.IDs(), 11)
}
