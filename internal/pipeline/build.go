package pipeline

import (
	"fmt"

	"github.com/phuslu/log"

	"finstat/internal/calculator"
	"finstat/internal/config"
	"finstat/internal/dictionary"
	"finstat/internal/formula"
	"finstat/internal/ingest"
	"finstat/internal/llm"
	"finstat/internal/report"
	"finstat/internal/rules"
	"finstat/internal/store"
)

// Build wires every phase from configuration. m may be nil; the AI phase is
// then only available offline.
func Build(cfg *config.Config, st store.Store, m llm.Model) (*Pipeline, error) {
	dict, err := dictionary.Load(cfg.Paths.DictionaryFile)
	if err != nil {
		return nil, err
	}
	formulas, err := formula.LoadSet(cfg.Paths.IndicatorsFile, cfg.StrictFormulas())
	if err != nil {
		return nil, err
	}
	rs, err := rules.LoadRules(cfg.Paths.RulesFile)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("dictionary_keys", dict.Len()).
		Int("formulas", formulas.Len()).
		Int("red_sets", len(rs.Red)).
		Int("yellow_sets", len(rs.Yellow)).
		Msg("configuration loaded")

	p := &Pipeline{
		Store:      st,
		Importer:   ingest.NewImporter(cfg.Paths.InputDir, st),
		Indicators: calculator.NewIndicatorCalculator(dict, formulas, st),
		Changes:    calculator.NewChangeCalculator(cfg.Changes.Indicators, st),
		Classifier: rules.NewEngine(rs, st),
		Reports:    report.NewWriter(st, cfg.Paths.ReportsDir),
	}

	if cfg.AI.Enabled && (m != nil || cfg.AI.Offline()) {
		prompt, err := llm.LoadSystemPrompt(cfg.AI.SystemPromptFile)
		if err != nil {
			return nil, err
		}
		p.Analyzer = llm.NewAnalyzer(st, m, cfg.AI.CacheDir, llm.OptionsFromConfig(cfg.AI, prompt))
	}
	return p, nil
}

// NewModel creates the configured model client, or nil when AI is disabled
// or offline.
func NewModel(cfg *config.Config) (llm.Model, error) {
	if !cfg.AI.Enabled || cfg.AI.Offline() {
		return nil, nil
	}
	m, err := llm.NewClaudeModel(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.MaxTokens, llm.OptionsFromConfig(cfg.AI, "").Timeout, cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	return m, nil
}
