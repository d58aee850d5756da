package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"finstat/internal/calculator"
	"finstat/internal/config"
	"finstat/internal/model"
	"finstat/internal/store"
)

// OfflineReason is stored when the model may not be called.
const OfflineReason = model.AIErrorPrefix + " strict_cache_or_dry_run"

// Options tune an analysis run.
type Options struct {
	Months        int
	BaseMetrics   []string
	SingleMetrics []string
	SystemPrompt  string
	BankLimit     int
	OnlyErrors    bool

	// Offline forbids model calls; cache hits are still used.
	Offline bool

	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration

	// StopAfter ends the run after this many consecutive failed banks. Zero disables.
	StopAfter         int
	RequestsPerMinute float64
}

// OptionsFromConfig maps the ai config section.
func OptionsFromConfig(c config.AI, systemPrompt string) Options {
	return Options{
		Months:            c.Months,
		SystemPrompt:      systemPrompt,
		BankLimit:         c.BankLimit,
		OnlyErrors:        c.OnlyErrors,
		Offline:           c.Offline(),
		Timeout:           time.Duration(c.TimeoutSec) * time.Second,
		MaxRetries:        c.MaxRetries,
		Backoff:           time.Duration(c.BackoffSeconds * float64(time.Second)),
		StopAfter:         c.StopAfterConsecutiveErrors,
		RequestsPerMinute: c.RequestsPerMinute,
	}
}

// Result summarizes one analysis run.
type Result struct {
	Period    model.Period
	Banks     int
	Written   int
	CacheHits int
	Failed    int
	Offline   int

	// Stopped is set when the consecutive-failure limit ended the run early.
	Stopped bool
}

// Analyzer runs the model over every bank of one period.
type Analyzer struct {
	Store   store.Store
	Model   Model
	Cache   *Cache
	Options Options

	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewAnalyzer creates an Analyzer. A nil model is allowed for offline runs.
func NewAnalyzer(st store.Store, m Model, cacheDir string, opts Options) *Analyzer {
	if opts.Months <= 0 {
		opts.Months = 6
	}
	if len(opts.BaseMetrics) == 0 {
		opts.BaseMetrics = calculator.DefaultChangeTargets
	}
	if opts.SingleMetrics == nil {
		opts.SingleMetrics = []string{"QN17", "QN16"}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(opts.RequestsPerMinute / 60)
	}
	return &Analyzer{
		Store:   st,
		Model:   m,
		Cache:   &Cache{Dir: cacheDir},
		Options: opts,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Analyzer) modelName() string {
	if a.Model == nil {
		return ""
	}
	return a.Model.Name()
}

// Run analyzes the banks of period, or of the latest stored period when
// period is zero.
func (a *Analyzer) Run(ctx context.Context, period model.Period) (Result, error) {
	var res Result
	if a.Model == nil && !a.Options.Offline {
		return res, fmt.Errorf("no model configured")
	}

	periods, err := a.Store.ListPeriods(ctx)
	if err != nil {
		return res, fmt.Errorf("list periods: %w", err)
	}
	if len(periods) == 0 {
		log.Warn().Msg("no data for ai analysis")
		return res, nil
	}
	if period.IsZero() {
		period = periods[len(periods)-1]
	}
	res.Period = period
	win := window(periods, period, a.Options.Months)

	banks, err := a.selectBanks(ctx, period)
	if err != nil {
		return res, err
	}
	res.Banks = len(banks)

	cs, err := a.Store.ListClassifications(ctx, period)
	if err != nil {
		return res, fmt.Errorf("list classifications: %w", err)
	}
	algo := make(map[string]model.Classification, len(cs))
	for _, c := range cs {
		algo[c.BankID] = c
	}

	log.Info().Str("period", period.String()).Int("banks", len(banks)).Str("model", a.modelName()).Bool("offline", a.Options.Offline).Msg("ai analysis started")

	consecutive := 0
	for _, bank := range banks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row, outcome, err := a.analyzeBank(ctx, bank, period, win, algo)
		if err != nil {
			return res, err
		}
		if err := a.Store.UpsertAIClassifications(ctx, []model.AIClassification{row}); err != nil {
			return res, fmt.Errorf("store ai classification: %w", err)
		}

		switch outcome {
		case outcomeCached:
			res.CacheHits++
			res.Written++
			consecutive = 0
		case outcomeAnswered:
			res.Written++
			consecutive = 0
		case outcomeOffline:
			res.Offline++
		case outcomeFailed:
			res.Failed++
			consecutive++
			if a.Options.StopAfter > 0 && consecutive >= a.Options.StopAfter {
				log.Warn().Int("consecutive_errors", consecutive).Msg("ai analysis stopped after repeated failures")
				res.Stopped = true
				return res, nil
			}
		}
	}

	log.Info().
		Str("period", period.String()).
		Int("written", res.Written).
		Int("cache_hits", res.CacheHits).
		Int("failed", res.Failed).
		Int("offline", res.Offline).
		Msg("ai analysis finished")
	return res, nil
}

func (a *Analyzer) selectBanks(ctx context.Context, period model.Period) ([]model.Bank, error) {
	banks, err := a.Store.ListBanks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	if a.Options.OnlyErrors {
		existing, err := a.Store.ListAIClassifications(ctx, period)
		if err != nil {
			return nil, fmt.Errorf("list ai classifications: %w", err)
		}
		done := map[string]bool{}
		for _, c := range existing {
			if !c.Failed() {
				done[c.BankID] = true
			}
		}
		kept := banks[:0]
		for _, b := range banks {
			if !done[b.ID] {
				kept = append(kept, b)
			}
		}
		banks = kept
	}
	if a.Options.BankLimit > 0 && len(banks) > a.Options.BankLimit {
		banks = banks[:a.Options.BankLimit]
	}
	return banks, nil
}

type outcome int

const (
	outcomeAnswered outcome = iota
	outcomeCached
	outcomeOffline
	outcomeFailed
)

func (a *Analyzer) analyzeBank(ctx context.Context, bank model.Bank, period model.Period, win []model.Period, algo map[string]model.Classification) (model.AIClassification, outcome, error) {
	row := model.AIClassification{
		BankID:    bank.ID,
		Period:    period,
		Model:     a.modelName(),
		CreatedAt: a.now().UTC(),
	}
	fail := func(err error) (model.AIClassification, outcome, error) {
		row.Status = model.StatusGreen
		row.Reasoning = fmt.Sprintf("%s %v", model.AIErrorPrefix, err)
		return row, outcomeFailed, nil
	}

	payload, err := a.buildPayload(ctx, bank, period, win, algo)
	if err != nil {
		return row, 0, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fail(err)
	}
	msgs := buildMessages(a.Options.SystemPrompt, payloadJSON)
	key := CacheKey(row.Model, msgs, payloadJSON)
	p := period.String()

	if cached, err := a.Cache.Get(p, bank.ID, key); err != nil {
		log.Warn().Err(err).Str("bank", bank.ID).Msg("ignoring unreadable cache entry")
	} else if cached != nil {
		if status, err := model.ParseStatus(cached.Status); err == nil {
			return a.finish(row, status, *cached), outcomeCached, nil
		}
	}

	if a.Options.Offline {
		row.Status = model.StatusGreen
		row.Reasoning = OfflineReason
		return row, outcomeOffline, nil
	}

	if err := a.Cache.PutRequest(p, bank.ID, key, row.Model, payloadJSON); err != nil {
		log.Warn().Err(err).Str("bank", bank.ID).Msg("cache request write failed")
	}
	resp, status, err := a.complete(ctx, msgs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return row, 0, ctxErr
		}
		return fail(err)
	}
	if err := a.Cache.PutResponse(p, bank.ID, key, resp); err != nil {
		log.Warn().Err(err).Str("bank", bank.ID).Msg("cache response write failed")
	}
	return a.finish(row, status, resp), outcomeAnswered, nil
}

func (a *Analyzer) finish(row model.AIClassification, status model.Status, resp Response) model.AIClassification {
	row.Status = status
	data, err := json.Marshal(resp)
	if err != nil {
		row.Reasoning = fmt.Sprintf("%s %v", model.AIErrorPrefix, err)
		return row
	}
	row.Reasoning = string(data)
	return row
}

// complete calls the model with retries. Unparseable answers are retried
// like transport errors.
func (a *Analyzer) complete(ctx context.Context, msgs Messages) (Response, model.Status, error) {
	var lastErr error
	for attempt := 0; attempt <= a.Options.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, a.Options.Backoff*time.Duration(1<<(attempt-1))); err != nil {
				return Response{}, "", err
			}
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return Response{}, "", err
		}

		callCtx, cancel := context.WithTimeout(ctx, a.Options.Timeout)
		text, err := a.Model.Complete(callCtx, msgs.System, msgs.User)
		cancel()
		if err == nil {
			var resp Response
			var status model.Status
			resp, status, err = ParseResponse(text)
			if err == nil {
				return resp, status, nil
			}
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Response{}, "", ctx.Err()
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt+1).Msg("model call failed")
	}
	return Response{}, "", lastErr
}
