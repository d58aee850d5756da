// Package pipeline chains the processing phases into one run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"finstat/internal/calculator"
	"finstat/internal/ingest"
	"finstat/internal/llm"
	"finstat/internal/model"
	"finstat/internal/report"
	"finstat/internal/rules"
	"finstat/internal/store"
)

// Pipeline runs import, indicators, changes, classification and the
// optional AI and report phases in order. A nil Analyzer or Reports skips
// that phase.
type Pipeline struct {
	Store      store.Store
	Importer   *ingest.Importer
	Indicators *calculator.IndicatorCalculator
	Changes    *calculator.ChangeCalculator
	Classifier *rules.Engine
	Analyzer   *llm.Analyzer
	Reports    *report.Writer

	Now func() time.Time
}

// Options select optional phases.
type Options struct {
	SkipImport   bool
	AI           bool
	Report       bool
	ReportPeriod string
	ReportPath   string
}

// Summary is a finished run plus the tier counts of its classification.
type Summary struct {
	Run    model.RunRecord
	Counts map[model.Status]int

	// Red lists the banks classified Red in the latest period.
	Red []model.Classification
}

// Run executes one pass. The run record is stored even when a phase fails.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	sum := &Summary{Run: model.RunRecord{ID: uuid.NewString(), StartedAt: now().UTC()}}
	rec := &sum.Run
	log.Info().Str("run_id", rec.ID).Msg("pipeline started")

	err := p.run(ctx, opts, sum)
	rec.FinishedAt = now().UTC()
	if rerr := p.Store.RecordRun(ctx, *rec); rerr != nil {
		log.Warn().Err(rerr).Str("run_id", rec.ID).Msg("record run failed")
	}
	if err != nil {
		log.Error().Err(err).Str("run_id", rec.ID).Msg("pipeline failed")
		return sum, err
	}

	log.Info().
		Str("run_id", rec.ID).
		Int("imported", rec.Imported).
		Int("indicators", rec.IndicatorValues).
		Int("changes", rec.ChangeValues).
		Int("classified", rec.Classified).
		Int("ai", rec.AIClassified).
		Str("report", rec.ReportPath).
		Dur("elapsed", rec.FinishedAt.Sub(rec.StartedAt)).
		Msg("pipeline finished")
	return sum, nil
}

func (p *Pipeline) run(ctx context.Context, opts Options, sum *Summary) error {
	rec := &sum.Run
	if !opts.SkipImport && p.Importer != nil {
		res, err := p.Importer.Run(ctx)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		rec.Imported = res.Rows
	}

	n, err := p.Indicators.Run(ctx)
	if err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	rec.IndicatorValues = n

	n, err = p.Changes.Run(ctx)
	if err != nil {
		return fmt.Errorf("changes: %w", err)
	}
	rec.ChangeValues = n

	cs, err := p.Classifier.Run(ctx)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	rec.Classified = len(cs)
	sum.Counts, sum.Red = latestTiers(cs)

	if opts.AI && p.Analyzer != nil {
		res, err := p.Analyzer.Run(ctx, model.Period{})
		if err != nil {
			return fmt.Errorf("ai analysis: %w", err)
		}
		rec.AIClassified = res.Written
	}

	if opts.Report && p.Reports != nil {
		periods, err := p.Store.ListPeriods(ctx)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		period, err := report.ResolvePeriod(periods, opts.ReportPeriod)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		path, err := p.Reports.Write(ctx, period, opts.ReportPath)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		rec.ReportPath = path
	}
	return nil
}

// latestTiers counts tiers in the newest classified period and returns its
// Red banks.
func latestTiers(cs []model.Classification) (map[model.Status]int, []model.Classification) {
	var latest model.Period
	for _, c := range cs {
		if latest.Before(c.Period) {
			latest = c.Period
		}
	}
	counts := map[model.Status]int{}
	var red []model.Classification
	for _, c := range cs {
		if c.Period != latest {
			continue
		}
		counts[c.Status]++
		if c.Status == model.StatusRed {
			red = append(red, c)
		}
	}
	return counts, red
}
