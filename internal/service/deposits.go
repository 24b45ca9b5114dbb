package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/repository"
)

// DepositInput описывает ручной депозит администратора.
type DepositInput struct {
	Amount int64
	Note   string
	// EffectiveAt задаёт дату вступления в силу для правила 30 дней. Нулевое значение означает «сейчас».
	EffectiveAt time.Time
}

// RecordDeposit записывает ручной депозит на активную цель и сразу проверяет её завершение.
func (s *Service) RecordDeposit(ctx context.Context, p model.Principal, orderID int64, in DepositInput) (*model.Deposit, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, newError(KindValidation, ErrInvalidAmount, "deposit amount must be positive, got %d", in.Amount)
	}

	now := s.now()
	if in.EffectiveAt.After(now) {
		return nil, newError(KindValidation, ErrInvalidInput, "effective date cannot be in the future")
	}

	var (
		stored *model.Deposit
		notes  batch
	)
	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		notes = nil
		o, err := st.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		d, err := model.NewDeposit(o.ID, in.Amount, model.DepositSourceManual, in.EffectiveAt, now)
		if err != nil {
			return err
		}
		recorder := p.MemberID
		d.RecordedBy = &recorder
		d.Note = strings.TrimSpace(in.Note)

		if err := s.addDeposit(ctx, st, o, d, &notes); err != nil {
			return err
		}
		stored = d
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.metrics.DepositRecorded(string(stored.Source), stored.Amount)
	s.deliver(ctx, notes)
	return stored, nil
}

// addDeposit сохраняет депозит на активную цель и выполняет проверку завершения в той же транзакции.
func (s *Service) addDeposit(ctx context.Context, st repository.Store, o *model.Order, d *model.Deposit, notes *batch) error {
	if o.Status != model.OrderStatusActive {
		return newError(KindConflict, ErrOrderNotActive, "order %d is %s; deposits require an active order", o.ID, o.Status)
	}

	id, err := st.AddDeposit(ctx, d)
	if err != nil {
		return err
	}
	d.ID = id

	s.logger.Info("deposit recorded",
		zap.Int64("orderID", o.ID),
		zap.Int64("amount", d.Amount),
		zap.String("source", string(d.Source)),
	)
	notes.add(o.MemberID, o.ID, model.NotificationDepositRecorded,
		fmt.Sprintf("%s deposited to your %s goal.", formatISK(d.Amount), o.ItemName))

	_, err = s.checkCompletion(ctx, st, o.ID, notes)
	return err
}
