// Package scheduler запускает периодическую сверку кошелька и начисление процентов.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/service"
)

// Jobs описывает операции, выполняемые по расписанию.
type Jobs interface {
	SyncWallet(ctx context.Context) (service.SyncReport, error)
	AccrueAll(ctx context.Context) ([]service.AccrualOutcome, error)
}

// Config задаёт расписания в формате cron. Пустое расписание отключает задачу.
type Config struct {
	WalletSync string
	Accrual    string
	// JobTimeout ограничивает время одного запуска задачи.
	JobTimeout time.Duration
}

// Scheduler управляет cron-задачами.
type Scheduler struct {
	cron   *cron.Cron
	jobs   Jobs
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New создаёт планировщик. Паника в задаче перехватывается, повторный запуск пропускается,
// пока предыдущий не завершился.
func New(jobs Jobs, cfg Config, logger *zap.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register добавляет задачи по расписаниям из конфигурации.
func (s *Scheduler) Register() error {
	if spec := strings.TrimSpace(s.cfg.WalletSync); spec != "" {
		if _, err := s.cron.AddFunc(spec, s.SyncWallet); err != nil {
			return fmt.Errorf("schedule wallet sync %q: %w", spec, err)
		}
		s.logger.Info("scheduled wallet sync job", zap.String("schedule", spec))
	} else {
		s.logger.Info("wallet sync job disabled")
	}

	if spec := strings.TrimSpace(s.cfg.Accrual); spec != "" {
		if _, err := s.cron.AddFunc(spec, s.Accrue); err != nil {
			return fmt.Errorf("schedule interest accrual %q: %w", spec, err)
		}
		s.logger.Info("scheduled interest accrual job", zap.String("schedule", spec))
	} else {
		s.logger.Info("interest accrual job disabled")
	}
	return nil
}

// Start запускает планировщик в фоне.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop останавливает планировщик, отменяет выполняющиеся задачи и возвращает контекст,
// который завершается после их окончания.
func (s *Scheduler) Stop() context.Context {
	done := s.cron.Stop()
	s.cancel()
	return done
}

// SyncWallet выполняет одну сверку кошелька.
func (s *Scheduler) SyncWallet() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	report, err := s.jobs.SyncWallet(ctx)
	if err != nil {
		s.logger.Warn("scheduled wallet sync failed", zap.String("detail", report.Detail), zap.Error(err))
		return
	}
	s.logger.Info("scheduled wallet sync", zap.String("detail", report.Detail))
}

// Accrue выполняет начисление процентов по всем активным целям.
func (s *Scheduler) Accrue() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	outcomes, err := s.jobs.AccrueAll(ctx)
	if err != nil {
		s.logger.Error("scheduled interest accrual failed", zap.Error(err))
		return
	}

	var (
		accrued  int
		failed   int
		interest int64
	)
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
		case o.Periods > 0:
			accrued++
			interest += o.Interest
		}
	}
	s.logger.Info("scheduled interest accrual",
		zap.Int("orders", len(outcomes)),
		zap.Int("accrued", accrued),
		zap.Int64("interest", interest),
		zap.Int("failed", failed),
	)
}
