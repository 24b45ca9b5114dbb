package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/balance"
	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/repository"
)

// AccrualOutcome описывает результат начисления по одной цели.
type AccrualOutcome struct {
	OrderID   int64
	Periods   int
	Interest  int64
	Completed bool
	Err       error
}

// AccrueOrder начисляет проценты по одной активной цели за все прошедшие периоды.
func (s *Service) AccrueOrder(ctx context.Context, p model.Principal, orderID int64) (AccrualOutcome, error) {
	if err := requireAdmin(p); err != nil {
		return AccrualOutcome{OrderID: orderID}, err
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return AccrualOutcome{OrderID: orderID}, translate(err)
	}
	if o.Status != model.OrderStatusActive {
		return AccrualOutcome{OrderID: orderID}, newError(KindConflict, ErrOrderNotActive, "order %d is %s and does not accrue interest", o.ID, o.Status)
	}

	settings, err := s.loadSettings(ctx, s.repo)
	if err != nil {
		return AccrualOutcome{OrderID: orderID}, translate(err)
	}

	out := s.accrue(ctx, orderID, settings)
	if out.Err != nil {
		return out, out.Err
	}
	return out, nil
}

// AccrueAll начисляет проценты по всем активным целям. Ошибка одной цели не прерывает
// обработку остальных и возвращается в её результате.
func (s *Service) AccrueAll(ctx context.Context) ([]AccrualOutcome, error) {
	settings, err := s.loadSettings(ctx, s.repo)
	if err != nil {
		return nil, translate(err)
	}

	orders, err := s.repo.ListOrders(ctx, repository.OrderFilter{Statuses: []model.OrderStatus{model.OrderStatusActive}})
	if err != nil {
		return nil, translate(err)
	}

	outcomes := make([]AccrualOutcome, 0, len(orders))
	var (
		posted int
		failed int
	)
	for _, o := range orders {
		out := s.accrue(ctx, o.ID, settings)
		if out.Err != nil {
			failed++
			s.metrics.AccrualFailed()
			s.logger.Error("interest accrual failed", zap.Int64("orderID", o.ID), zap.Error(out.Err))
		} else if out.Periods > 0 {
			posted++
		}
		outcomes = append(outcomes, out)
	}

	s.logger.Info("interest accrual run finished",
		zap.Int("orders", len(orders)),
		zap.Int("accrued", posted),
		zap.Int("failed", failed),
	)
	return outcomes, nil
}

// restartAccrualClock записывает нулевое начисление на текущий момент. Следующие периоды
// отсчитываются от него, поэтому время ожидания вывода проценты не приносит.
func (s *Service) restartAccrualClock(ctx context.Context, st repository.Store, o *model.Order) error {
	now := s.now()
	deposits, err := st.ListDeposits(ctx, o.ID)
	if err != nil {
		return err
	}
	postings, err := st.ListInterestPostings(ctx, o.ID)
	if err != nil {
		return err
	}
	eligible := balance.Eligible(deposits, postings, now)
	if _, err := st.AddInterestPosting(ctx, &model.InterestPosting{
		OrderID:       o.ID,
		BalanceBefore: eligible,
		BalanceAfter:  eligible,
		AccruedAt:     now,
	}); err != nil {
		return fmt.Errorf("restart accrual clock: %w", err)
	}
	return nil
}

// accrue выполняет начисление по одной цели в собственной транзакции.
func (s *Service) accrue(ctx context.Context, orderID int64, settings model.Settings) AccrualOutcome {
	out := AccrualOutcome{OrderID: orderID}
	var (
		notes   batch
		amounts []int64
	)
	now := s.now()

	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		notes, amounts = nil, nil
		out = AccrualOutcome{OrderID: orderID}

		o, err := st.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != model.OrderStatusActive {
			return nil
		}

		deposits, err := st.ListDeposits(ctx, o.ID)
		if err != nil {
			return err
		}
		postings, err := st.ListInterestPostings(ctx, o.ID)
		if err != nil {
			return err
		}

		eligible := balance.Eligible(deposits, postings, now)
		if eligible <= 0 {
			return nil
		}

		since := balance.LastAccrual(postings, o.CreatedAt)
		periods := balance.PeriodsElapsed(since, now, settings.Period)
		if periods == 0 {
			return nil
		}

		for _, step := range balance.Schedule(eligible, since, periods, settings) {
			_, err := st.AddInterestPosting(ctx, &model.InterestPosting{
				OrderID:       o.ID,
				Amount:        step.Amount,
				BalanceBefore: step.BalanceBefore,
				BalanceAfter:  step.BalanceAfter,
				AccruedAt:     step.At,
			})
			if err != nil {
				return fmt.Errorf("post period ending %s: %w", step.At.Format(time.DateOnly), err)
			}
			out.Interest += step.Amount
			amounts = append(amounts, step.Amount)
		}
		out.Periods = periods

		notes.add(o.MemberID, o.ID, model.NotificationInterestAccrued,
			fmt.Sprintf("%s interest credited to your %s goal over %d period(s).", formatISK(out.Interest), o.ItemName, periods))

		out.Completed, err = s.checkCompletion(ctx, st, o.ID, &notes)
		return err
	})
	if err != nil {
		return AccrualOutcome{OrderID: orderID, Err: translate(err)}
	}

	for _, a := range amounts {
		s.metrics.InterestPosted(a)
	}
	if out.Periods > 0 {
		s.logger.Info("interest accrued",
			zap.Int64("orderID", orderID),
			zap.Int("periods", out.Periods),
			zap.Int64("interest", out.Interest),
		)
	}
	s.deliver(ctx, notes)
	return out
}
