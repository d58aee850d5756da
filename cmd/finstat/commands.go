package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/phuslu/log"

	"finstat/internal/model"
	"finstat/internal/notifier"
	"finstat/internal/pipeline"
	"finstat/internal/report"
	"finstat/internal/rules"
	"finstat/internal/scheduler"
)

func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

// parsePeriodFlag accepts "" (zero period), YYYY-MM or YYYY-MM-DD.
func parsePeriodFlag(s string) (model.Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.Period{}, nil
	}
	p, err := model.ParsePeriod(s)
	if err != nil {
		return model.Period{}, fmt.Errorf("-period: %w", err)
	}
	return p, nil
}

// build wires the pipeline. The model client is created only when AI is
// enabled and online.
func (a *app) build() (*pipeline.Pipeline, error) {
	m, err := pipeline.NewModel(a.cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.Build(a.cfg, a.st, m)
}

func cmdInitDB(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet(a, "init-db").Parse(args); err != nil {
		return err
	}
	stats, err := a.st.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "database ready (%s): %d banks, %d raw values\n", a.cfg.Database.Driver, stats.Banks, stats.RawValues)
	return nil
}

func cmdImport(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "import")
	dir := fs.String("dir", a.cfg.Paths.InputDir, "input directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := a.build()
	if err != nil {
		return err
	}
	p.Importer.Dir = *dir
	res, err := p.Importer.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "imported %d rows from %d files (%d already loaded, %d rows skipped)\n",
		res.Rows, res.Files, res.SkippedOld, res.SkippedRows)
	if len(res.Failed) > 0 {
		fmt.Fprintf(a.out, "failed: %s\n", strings.Join(res.Failed, ", "))
	}
	return nil
}

func cmdCalcIndicators(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet(a, "calc-indicators").Parse(args); err != nil {
		return err
	}
	p, err := a.build()
	if err != nil {
		return err
	}
	n, err := p.Indicators.Run(ctx)
	if err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	changes, err := p.Changes.Run(ctx)
	if err != nil {
		return fmt.Errorf("changes: %w", err)
	}
	fmt.Fprintf(a.out, "indicator values: %d, change values: %d\n", n, changes)
	return nil
}

func cmdClassify(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "classify")
	periodFlag := fs.String("period", "", "classify one month only (YYYY-MM)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	period, err := parsePeriodFlag(*periodFlag)
	if err != nil {
		return err
	}
	p, err := a.build()
	if err != nil {
		return err
	}
	p.Classifier.Period = period
	cs, err := p.Classifier.Run(ctx)
	if err != nil {
		return err
	}
	counts := rules.Count(cs)
	fmt.Fprintf(a.out, "classified %d: red=%d yellow=%d green=%d\n", len(cs),
		counts[model.StatusRed], counts[model.StatusYellow], counts[model.StatusGreen])
	return nil
}

func cmdLLMAnalyze(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "llm-analyze")
	periodFlag := fs.String("period", "", "month to analyze (default: latest)")
	dryRun := fs.Bool("dry-run", a.cfg.AI.DryRun, "never call the model")
	if err := fs.Parse(args); err != nil {
		return err
	}
	period, err := parsePeriodFlag(*periodFlag)
	if err != nil {
		return err
	}
	a.cfg.AI.Enabled = true
	a.cfg.AI.DryRun = *dryRun
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	p, err := a.build()
	if err != nil {
		return err
	}
	if p.Analyzer == nil {
		return errors.New("ai analysis is not available")
	}
	res, err := p.Analyzer.Run(ctx, period)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "period %s: %d banks, %d written, %d cached, %d failed, %d offline\n",
		res.Period, res.Banks, res.Written, res.CacheHits, res.Failed, res.Offline)
	if res.Stopped {
		fmt.Fprintln(a.out, "stopped early after consecutive errors")
	}
	return nil
}

func cmdReport(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "report")
	periodFlag := fs.String("period", "", "report month, nearest earlier month is used (default: latest)")
	out := fs.String("out", "", "output path (default: reports dir, timestamped)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	periods, err := a.st.ListPeriods(ctx)
	if err != nil {
		return err
	}
	period, err := report.ResolvePeriod(periods, *periodFlag)
	if err != nil {
		return err
	}
	path, err := report.NewWriter(a.st, a.cfg.Paths.ReportsDir).Write(ctx, period, *out)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "report for %s written to %s\n", period, path)
	return nil
}

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "run")
	ai := fs.Bool("ai", a.cfg.AI.Enabled, "include model-assisted classification")
	withReport := fs.Bool("report", true, "write the xlsx report")
	skipImport := fs.Bool("skip-import", false, "reuse already imported data")
	periodFlag := fs.String("period", "", "report month (default: latest)")
	out := fs.String("out", "", "report path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ai {
		a.cfg.AI.Enabled = true
		if err := a.cfg.Validate(); err != nil {
			return fmt.Errorf("config validation: %w", err)
		}
	}
	p, err := a.build()
	if err != nil {
		return err
	}
	sum, err := p.Run(ctx, pipeline.Options{
		SkipImport:   *skipImport,
		AI:           *ai,
		Report:       *withReport,
		ReportPeriod: *periodFlag,
		ReportPath:   *out,
	})
	if err != nil {
		return err
	}
	r := sum.Run
	fmt.Fprintf(a.out, "run %s: imported=%d indicators=%d changes=%d classified=%d ai=%d\n",
		r.ID, r.Imported, r.IndicatorValues, r.ChangeValues, r.Classified, r.AIClassified)
	fmt.Fprintf(a.out, "latest period: red=%d yellow=%d green=%d\n",
		sum.Counts[model.StatusRed], sum.Counts[model.StatusYellow], sum.Counts[model.StatusGreen])
	if r.ReportPath != "" {
		fmt.Fprintf(a.out, "report: %s\n", r.ReportPath)
	}
	return nil
}

func cmdServe(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet(a, "serve").Parse(args); err != nil {
		return err
	}
	p, err := a.build()
	if err != nil {
		return err
	}

	var n scheduler.Notifier
	var tn *notifier.TelegramNotifier
	if a.cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Proxy)
		n = tn
	} else {
		log.Warn().Msg("telegram not configured, notifications disabled")
	}

	sched := scheduler.NewScheduler(ctx, p, a.st, n, pipeline.Options{AI: p.Analyzer != nil, Report: true})
	if err := sched.RegisterAll(a.cfg.Schedule.PipelineCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	if os.Getenv("RUN_ON_START") == "true" {
		log.Info().Msg("RUN_ON_START enabled, running pipeline now")
		go func() {
			if _, err := sched.RunNow(); err != nil && !errors.Is(err, scheduler.ErrBusy) {
				log.Error().Err(err).Msg("startup run")
			}
		}()
	}

	log.Info().Str("cron", a.cfg.Schedule.PipelineCron).Msg("finstat is running, press Ctrl+C to stop")
	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping")
	return nil
}
