package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"finstat/internal/model"
	"finstat/internal/notifier"
	"finstat/internal/pipeline"
	"finstat/internal/store"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Summary, error)
}

// Notifier delivers messages to the operator.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron     *cron.Cron
	Pipeline Runner
	Store    store.Store
	Notifier Notifier
	Options  pipeline.Options
	Ctx      context.Context

	mu      sync.Mutex
	running bool
	last    *pipeline.Summary
}

// NewScheduler creates a new Scheduler. n may be nil.
func NewScheduler(ctx context.Context, p Runner, st store.Store, n Notifier, opts pipeline.Options) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Pipeline: p,
		Store:    st,
		Notifier: n,
		Options:  opts,
		Ctx:      ctx,
	}
}

// RegisterAll registers the pipeline job.
func (s *Scheduler) RegisterAll(pipelineCron string) error {
	if _, err := s.Cron.AddFunc(pipelineCron, s.pipelineTask); err != nil {
		return fmt.Errorf("register pipeline task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// ErrBusy is returned by RunNow while another run is in progress.
var ErrBusy = errors.New("pipeline already running")

// RunNow executes the pipeline immediately.
func (s *Scheduler) RunNow() (*pipeline.Summary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.running = true
	s.mu.Unlock()

	sum, err := s.Pipeline.Run(s.Ctx, s.Options)

	s.mu.Lock()
	s.running = false
	if err == nil {
		s.last = sum
	}
	s.mu.Unlock()
	return sum, err
}

// Last returns the most recent successful run, if any.
func (s *Scheduler) Last() *pipeline.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) pipelineTask() {
	log.Info().Msg("running scheduled pipeline")
	sum, err := s.RunNow()
	if err != nil {
		log.Error().Err(err).Msg("scheduled pipeline")
		s.trySend(fmt.Sprintf("❌ pipeline failed: %v", err))
		return
	}
	s.trySend(notifier.FormatRunSummary(sum.Run, sum.Counts, sum.Red, s.bankNames()))
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	var cmd string
	if fields := strings.Fields(command); len(fields) > 0 {
		cmd = strings.ToLower(fields[0])
	}
	switch cmd {
	case "/run":
		go s.pipelineTask()
		return "⏳ pipeline started"
	case "/status":
		return s.status()
	case "/red":
		return s.tierList(model.StatusRed)
	case "/yellow":
		return s.tierList(model.StatusYellow)
	default:
		return "Available commands:\n• /run\n• /status\n• /red\n• /yellow"
	}
}

func (s *Scheduler) status() string {
	var b strings.Builder
	s.mu.Lock()
	running, last := s.running, s.last
	s.mu.Unlock()
	if running {
		b.WriteString("⏳ pipeline is running\n\n")
	}
	if last != nil {
		b.WriteString(notifier.FormatRunSummary(last.Run, last.Counts, last.Red, s.bankNames()))
		b.WriteString("\n")
	}
	stats, err := s.Store.Stats(s.Ctx)
	if err != nil {
		return fmt.Sprintf("❌ stats: %v", err)
	}
	b.WriteString(notifier.FormatStats(stats))
	return b.String()
}

func (s *Scheduler) tierList(status model.Status) string {
	periods, err := s.Store.ListPeriods(s.Ctx)
	if err != nil {
		return fmt.Sprintf("❌ periods: %v", err)
	}
	if len(periods) == 0 {
		return "No data loaded."
	}
	cs, err := s.Store.ListClassifications(s.Ctx, periods[len(periods)-1])
	if err != nil {
		return fmt.Sprintf("❌ classifications: %v", err)
	}
	return notifier.FormatTierList(status, cs, s.bankNames())
}

func (s *Scheduler) bankNames() map[string]string {
	banks, err := s.Store.ListBanks(s.Ctx)
	if err != nil {
		log.Warn().Err(err).Msg("list banks")
		return nil
	}
	names := make(map[string]string, len(banks))
	for _, b := range banks {
		names[b.ID] = b.Name
	}
	return names
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.Error().Err(err).Msg("send notification")
	}
}
