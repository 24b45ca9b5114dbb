package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/shipsavings/internal/service"
)

type stubJobs struct {
	syncs    atomic.Int32
	accruals atomic.Int32
	syncErr  error
	outcomes []service.AccrualOutcome
	panicky  bool
}

func (j *stubJobs) SyncWallet(ctx context.Context) (service.SyncReport, error) {
	j.syncs.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return service.SyncReport{}, errors.New("job context has no deadline")
	}
	return service.SyncReport{Detail: "1 processed: 1 matched (10 ISK), 0 unmatched"}, j.syncErr
}

func (j *stubJobs) AccrueAll(context.Context) ([]service.AccrualOutcome, error) {
	j.accruals.Add(1)
	if j.panicky {
		panic("accrual exploded")
	}
	return j.outcomes, nil
}

func TestRegister_InvalidSchedule(t *testing.T) {
	s := New(&stubJobs{}, Config{WalletSync: "every now and then"}, zap.NewNop())
	err := s.Register()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet sync")
}

func TestRegister_DisabledJobs(t *testing.T) {
	s := New(&stubJobs{}, Config{}, zap.NewNop())
	require.NoError(t, s.Register())
	assert.Empty(t, s.cron.Entries())
}

func TestRegister_Both(t *testing.T) {
	s := New(&stubJobs{}, Config{WalletSync: "@every 15m", Accrual: "@daily"}, zap.NewNop())
	require.NoError(t, s.Register())
	assert.Len(t, s.cron.Entries(), 2)
}

func TestAccrue_LogsSummary(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	jobs := &stubJobs{outcomes: []service.AccrualOutcome{
		{OrderID: 1, Periods: 2, Interest: 20_100},
		{OrderID: 2, Err: errors.New("boom")},
		{OrderID: 3},
	}}
	s := New(jobs, Config{}, zap.New(core))

	s.Accrue()

	entries := logs.FilterMessage("scheduled interest accrual").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 3, fields["orders"])
	assert.EqualValues(t, 1, fields["accrued"])
	assert.EqualValues(t, 20_100, fields["interest"])
	assert.EqualValues(t, 1, fields["failed"])
}

func TestSyncWallet_LogsFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	jobs := &stubJobs{syncErr: errors.New("feed down")}
	s := New(jobs, Config{JobTimeout: time.Second}, zap.New(core))

	s.SyncWallet()

	assert.Equal(t, int32(1), jobs.syncs.Load())
	assert.Equal(t, 1, logs.FilterMessage("scheduled wallet sync failed").Len())
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	jobs := &stubJobs{panicky: true}
	s := New(jobs, Config{Accrual: "@every 1s"}, zap.NewNop())
	require.NoError(t, s.Register())

	s.Start()
	assert.Eventually(t, func() bool { return jobs.accruals.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
}
