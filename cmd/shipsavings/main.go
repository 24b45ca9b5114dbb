// Package main запускает HTTP-сервер сервиса накоплений на корабли.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/shipsavings/internal/config"
	"github.com/mmeshcher/shipsavings/internal/handler"
	"github.com/mmeshcher/shipsavings/internal/logger"
	"github.com/mmeshcher/shipsavings/internal/metrics"
	"github.com/mmeshcher/shipsavings/internal/middleware"
	"github.com/mmeshcher/shipsavings/internal/notification"
	"github.com/mmeshcher/shipsavings/internal/repository"
	"github.com/mmeshcher/shipsavings/internal/scheduler"
	"github.com/mmeshcher/shipsavings/internal/service"
	"github.com/mmeshcher/shipsavings/internal/walletfeed"
)

func main() {
	bootstrap, _ := zap.NewProduction()
	cfg, err := config.Parse()
	if err != nil {
		bootstrap.Sugar().Fatalw("configuration error", "error", err.Error())
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		bootstrap.Sugar().Warnw("invalid log level, using info", "error", err.Error())
		log = bootstrap
	}
	defer log.Sync()

	sugar := log.Sugar()

	if err := run(cfg, log); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	sugar := log.Sugar()

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI, log)
		if err != nil {
			return fmt.Errorf("database initialization: %w", err)
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, using the in-memory store; data is lost on restart")
		repo = repository.NewMemoryRepository()
	}

	var feed service.Feed
	if cfg.FeedEnabled() {
		feed = walletfeed.NewClient(cfg.WalletFeedAddress, cfg.WalletFeedToken, cfg.BankCharacterID, cfg.FeedTimeout, log)
	} else {
		sugar.Warn("wallet feed is not configured, wallet sync is disabled")
	}

	notifiers := notification.Multi{notification.NewStoreNotifier(repo)}
	if cfg.NotifyAMQPURL != "" {
		publisher, err := notification.NewAMQPPublisher(cfg.NotifyAMQPURL, cfg.NotifyExchange, log)
		if err != nil {
			return fmt.Errorf("notification broker: %w", err)
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}

	m := metrics.New()
	svc := service.NewService(repo, feed, service.Options{
		AdminCharacterID: cfg.AdminCharacterID,
		Notifier:         notifiers,
		Metrics:          m,
		Logger:           log,
	})
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := svc.ReconcileCompletions(ctx); err != nil {
		sugar.Errorw("completion reconciliation failed", "error", err)
	} else if n > 0 {
		sugar.Infow("completed goals reconciled at startup", "count", n)
	}

	syncSchedule := cfg.WalletSyncSchedule
	if feed == nil {
		syncSchedule = ""
	}
	sched := scheduler.New(svc, scheduler.Config{
		WalletSync: syncSchedule,
		Accrual:    cfg.AccrualSchedule,
		JobTimeout: cfg.FeedTimeout + time.Minute,
	}, log)
	if err := sched.Register(); err != nil {
		return err
	}

	auth := middleware.NewAuthMiddleware(cfg.AuthSecret, svc)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, sessions will not survive a restart")
	}
	h := handler.NewHandler(svc, log, auth, m, cfg.GatewayKey)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Периодическая сверка кошелька и начисление процентов
	g.Go(func() error {
		sched.Start()
		<-ctx.Done()
		<-sched.Stop().Done()
		sugar.Info("scheduler stopped")
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting shipsavings server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
