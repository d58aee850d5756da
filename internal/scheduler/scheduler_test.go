package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstat/internal/model"
	"finstat/internal/pipeline"
	"finstat/internal/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, _ pipeline.Options) (*pipeline.Summary, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Summary{
		Run:    model.RunRecord{ID: "run-1", StartedAt: time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC), Classified: 2},
		Counts: map[model.Status]int{model.StatusRed: 1, model.StatusGreen: 1},
	}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) SendWithRetry(_ context.Context, text string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func seededStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	jan := model.MustParsePeriod("2024-01-01")
	require.NoError(t, st.UpsertBanks(ctx, []model.Bank{{ID: "B1", Name: "Alpha"}, {ID: "B2", Name: "Beta"}}))
	require.NoError(t, st.UpsertRawObservations(ctx, []model.RawObservation{
		{BankID: "B1", FormCode: "101", Period: jan, ItemCode: "1", Value: model.Float(1)},
	}))
	require.NoError(t, st.UpsertClassifications(ctx, []model.Classification{
		{BankID: "B1", Period: jan, Status: model.StatusRed, Details: "Red set #1 matched: A1<10"},
		{BankID: "B2", Period: jan, Status: model.StatusGreen},
	}))
	return st
}

func TestRegisterAll_InvalidCron(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRunner{}, store.NewMemory(), nil, pipeline.Options{})
	require.Error(t, s.RegisterAll("not a cron"))
	require.NoError(t, s.RegisterAll("0 0 6 * * *"))
	assert.Len(t, s.Cron.Entries(), 1)
}

func TestRunNow_StoresLastAndRejectsOverlap(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	s := NewScheduler(context.Background(), r, store.NewMemory(), nil, pipeline.Options{})

	done := make(chan struct{})
	go func() {
		_, err := s.RunNow()
		assert.NoError(t, err)
		close(done)
	}()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.calls == 1
	}, time.Second, 5*time.Millisecond)

	_, err := s.RunNow()
	assert.ErrorIs(t, err, ErrBusy)

	close(r.block)
	<-done
	require.NotNil(t, s.Last())
	assert.Equal(t, "run-1", s.Last().Run.ID)
}

func TestPipelineTask_Notifies(t *testing.T) {
	n := &fakeNotifier{}
	s := NewScheduler(context.Background(), &fakeRunner{}, seededStore(t), n, pipeline.Options{})
	s.pipelineTask()
	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Classified: 2")

	s.Pipeline = &fakeRunner{err: errors.New("disk full")}
	s.pipelineTask()
	msgs = n.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "disk full")
}

func TestHandleCommand(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRunner{}, seededStore(t), nil, pipeline.Options{})

	red := s.HandleCommand("/red")
	assert.Contains(t, red, "<b>Alpha</b> [B1]")
	assert.Contains(t, red, "A1&lt;10")

	assert.Contains(t, s.HandleCommand("/YELLOW"), "No Yellow banks")
	assert.Contains(t, s.HandleCommand("/status"), "Banks: 2")
	assert.Contains(t, s.HandleCommand("hello"), "/run")
	assert.Contains(t, s.HandleCommand(""), "/status")
}

func TestHandleCommand_NoData(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRunner{}, store.NewMemory(), nil, pipeline.Options{})
	assert.Equal(t, "No data loaded.", s.HandleCommand("/red"))
}
