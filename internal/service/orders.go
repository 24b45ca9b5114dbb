package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/balance"
	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/repository"
)

// CreateOrderInput описывает цель, создаваемую администратором.
type CreateOrderInput struct {
	MemberID int64
	ItemName string
	Price    int64
	Category string
	Notes    string
}

// UpdateOrderInput описывает изменяемые администратором поля цели.
type UpdateOrderInput struct {
	ItemName string
	Price    int64
	Public   bool
}

// OrderDetail содержит цель, её баланс и историю движений.
type OrderDetail struct {
	Order    model.Order
	Balance  balance.Snapshot
	Deposits []model.Deposit
	Postings []model.InterestPosting
}

func ensureNoOpenOrder(ctx context.Context, st repository.Store, memberID int64) error {
	open, err := st.ListOrders(ctx, repository.OrderFilter{MemberID: memberID, Statuses: model.OpenStatuses})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return newError(KindConflict, ErrConflictingActiveGoal,
			"conflicting active goal: order %d is %s", open[0].ID, open[0].Status)
	}
	return nil
}

// RequestOrder создаёт заявку участника на цель из доступной позиции каталога.
// Цена, категория и изображение копируются в цель и не меняются вслед за каталогом.
func (s *Service) RequestOrder(ctx context.Context, p model.Principal, catalogItemID int64, notes string) (*model.Order, error) {
	var created *model.Order
	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		item, err := st.GetCatalogItem(ctx, catalogItemID)
		if err != nil {
			return err
		}
		if !item.Available {
			return newError(KindValidation, ErrInvalidInput, "catalog item %q is not available", item.Name)
		}
		if err := ensureNoOpenOrder(ctx, st, p.MemberID); err != nil {
			return err
		}

		o, err := model.NewOrder(p.MemberID, item.Name, item.Price, model.OrderStatusPendingApproval, s.now())
		if err != nil {
			return err
		}
		o.Category = item.Category
		o.ImageRef = item.ImageRef
		o.Notes = strings.TrimSpace(notes)
		o.Public = true

		id, err := st.CreateOrder(ctx, o)
		if err != nil {
			return err
		}
		o.ID = id
		o.MemberName = p.Name
		created = o
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("order requested", zap.Int64("orderID", created.ID), zap.Int64("memberID", p.MemberID))
	return created, nil
}

// CreateOrder создаёт активную цель для участника от имени администратора.
// Если категория не указана, она берётся из каталога по названию корабля.
func (s *Service) CreateOrder(ctx context.Context, p model.Principal, in CreateOrderInput) (*model.Order, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	var created *model.Order
	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		member, err := st.GetMember(ctx, in.MemberID)
		if err != nil {
			return err
		}
		if err := ensureNoOpenOrder(ctx, st, member.ID); err != nil {
			return err
		}

		o, err := model.NewOrder(member.ID, in.ItemName, in.Price, model.OrderStatusActive, s.now())
		if err != nil {
			return err
		}
		o.Category = strings.TrimSpace(in.Category)
		o.Notes = strings.TrimSpace(in.Notes)
		o.Public = true

		catalog, err := st.ListCatalog(ctx, false)
		if err != nil {
			return err
		}
		if item, ok := findCatalogByName(catalog, o.ItemName); ok {
			if o.Category == "" {
				o.Category = item.Category
			}
			o.ImageRef = item.ImageRef
		}

		id, err := st.CreateOrder(ctx, o)
		if err != nil {
			return err
		}
		o.ID = id
		o.MemberName = member.Name
		created = o
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("order created by admin", zap.Int64("orderID", created.ID), zap.Int64("memberID", created.MemberID))
	return created, nil
}

// transition описывает один переход статуса цели.
type transition struct {
	to         model.OrderStatus
	authorize  func(p model.Principal, o *model.Order) error
	notify     model.NotificationType
	message    func(o *model.Order) string
	completion bool
	// after выполняется в той же транзакции сразу после смены статуса.
	after func(ctx context.Context, st repository.Store, o *model.Order) error
}

func ownerOnly(p model.Principal, o *model.Order) error {
	if o.MemberID != p.MemberID {
		return newError(KindForbidden, ErrForbidden, "order %d belongs to another member", o.ID)
	}
	return nil
}

func adminOnly(p model.Principal, _ *model.Order) error {
	return requireAdmin(p)
}

// applyTransition выполняет переход статуса в одной транзакции с проверкой допустимости.
func (s *Service) applyTransition(ctx context.Context, p model.Principal, orderID int64, t transition) (*model.Order, error) {
	var (
		result *model.Order
		notes  batch
		from   model.OrderStatus
	)
	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		notes = nil
		o, err := st.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := t.authorize(p, o); err != nil {
			return err
		}
		if !model.CanTransition(o.Status, t.to) {
			return newError(KindConflict, ErrInvalidTransition, "order %d cannot move from %s to %s", o.ID, o.Status, t.to)
		}

		from = o.Status
		if err := st.UpdateOrderStatus(ctx, o.ID, o.Status, t.to, s.now()); err != nil {
			return err
		}
		o.Status = t.to

		if t.after != nil {
			if err := t.after(ctx, st, o); err != nil {
				return err
			}
		}
		if t.notify != "" {
			notes.add(o.MemberID, o.ID, t.notify, t.message(o))
		}
		if t.completion {
			if _, err := s.checkCompletion(ctx, st, o.ID, &notes); err != nil {
				return err
			}
		}

		result, err = st.GetOrder(ctx, o.ID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	s.metrics.OrderTransition(string(from), string(t.to))
	s.logger.Info("order status changed",
		zap.Int64("orderID", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(t.to)),
	)
	s.deliver(ctx, notes)
	return result, nil
}

// ApproveOrder одобряет заявку: pending_approval -> active.
func (s *Service) ApproveOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error) {
	return s.applyTransition(ctx, p, orderID, transition{
		to:        model.OrderStatusActive,
		authorize: adminOnly,
		notify:    model.NotificationOrderApproved,
		message: func(o *model.Order) string {
			return fmt.Sprintf("Your savings goal for %s has been approved.", o.ItemName)
		},
		completion: true,
	})
}

// RejectOrder отклоняет заявку: pending_approval -> cancelled.
func (s *Service) RejectOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error) {
	return s.applyTransition(ctx, p, orderID, transition{
		to: model.OrderStatusCancelled,
		authorize: func(p model.Principal, o *model.Order) error {
			if err := requireAdmin(p); err != nil {
				return err
			}
			if o.Status != model.OrderStatusPendingApproval {
				return newError(KindConflict, ErrInvalidTransition, "only pending orders can be rejected")
			}
			return nil
		},
		notify: model.NotificationOrderRejected,
		message: func(o *model.Order) string {
			return fmt.Sprintf("Your savings goal request for %s was rejected.", o.ItemName)
		},
	})
}

// CancelOrder отменяет открытую цель администратором.
func (s *Service) CancelOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error) {
	return s.applyTransition(ctx, p, orderID, transition{
		to:        model.OrderStatusCancelled,
		authorize: adminOnly,
		notify:    model.NotificationOrderCancelled,
		message: func(o *model.Order) string {
			return fmt.Sprintf("Your savings goal for %s has been cancelled.", o.ItemName)
		},
	})
}

// RequestWithdrawal запрашивает полный вывод средств владельцем: active -> withdrawal_pending.
func (s *Service) RequestWithdrawal(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error) {
	return s.applyTransition(ctx, p, orderID, transition{
		to:        model.OrderStatusWithdrawalPending,
		authorize: ownerOnly,
	})
}

// ApproveWithdrawal подтверждает вывод: withdrawal_pending -> withdrawn.
func (s *Service) ApproveWithdrawal(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error) {
	return s.applyTransition(ctx, p, orderID, transition{
		to: model.OrderStatusWithdrawn,
		authorize: func(p model.Principal, o *model.Order) error {
			if err := requireAdmin(p); err != nil {
				return err
			}
			if o.Status != model.OrderStatusWithdrawalPending {
				return newError(KindConflict, ErrInvalidTransition, "order %d has no pending withdrawal", o.ID)
			}
			return nil
		},
		notify: model.NotificationWithdrawalApproved,
		message: func(o *model.Order) string {
			return fmt.Sprintf("Your withdrawal of %s from the %s goal has been approved.", formatISK(o.Total()), o.ItemName)
		},
	})
}

// DenyWithdrawal отклоняет вывод, цель продолжает накопление: withdrawal_pending -> active.
func (s *Service) DenyWithdrawal(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error) {
	return s.applyTransition(ctx, p, orderID, transition{
		to: model.OrderStatusActive,
		authorize: func(p model.Principal, o *model.Order) error {
			if err := requireAdmin(p); err != nil {
				return err
			}
			if o.Status != model.OrderStatusWithdrawalPending {
				return newError(KindConflict, ErrInvalidTransition, "order %d has no pending withdrawal", o.ID)
			}
			return nil
		},
		notify: model.NotificationWithdrawalDenied,
		message: func(o *model.Order) string {
			return fmt.Sprintf("Your withdrawal request for the %s goal was denied; saving continues.", o.ItemName)
		},
		after:      s.restartAccrualClock,
		completion: true,
	})
}

// checkCompletion переводит активную цель в completed, если баланс достиг целевой цены.
// Вызывается в той же транзакции, что и увеличившее баланс событие.
func (s *Service) checkCompletion(ctx context.Context, st repository.Store, orderID int64, notes *batch) (bool, error) {
	o, err := st.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.Status != model.OrderStatusActive || !o.GoalReached() {
		return false, nil
	}
	if err := st.UpdateOrderStatus(ctx, o.ID, model.OrderStatusActive, model.OrderStatusCompleted, s.now()); err != nil {
		return false, err
	}

	s.metrics.OrderTransition(string(model.OrderStatusActive), string(model.OrderStatusCompleted))
	s.logger.Info("savings goal completed",
		zap.Int64("orderID", o.ID),
		zap.Int64("total", o.Total()),
		zap.Int64("target", o.TargetPrice),
	)
	notes.add(o.MemberID, o.ID, model.NotificationGoalCompleted,
		fmt.Sprintf("Congratulations! Your %s goal is complete with %s saved.", o.ItemName, formatISK(o.Total())))
	return true, nil
}

// UpdateOrderDetails изменяет название, цену и видимость открытой цели.
// Снижение цены может сразу завершить цель.
func (s *Service) UpdateOrderDetails(ctx context.Context, p model.Principal, orderID int64, in UpdateOrderInput) (*model.Order, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	in.ItemName = strings.TrimSpace(in.ItemName)
	if in.ItemName == "" {
		return nil, newError(KindValidation, ErrInvalidInput, "item name is required")
	}
	if in.Price <= 0 {
		return nil, newError(KindValidation, ErrInvalidAmount, "target price must be positive")
	}

	var (
		result *model.Order
		notes  batch
	)
	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		notes = nil
		o, err := st.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.IsOpen() {
			return newError(KindConflict, ErrInvalidTransition, "order %d is %s and cannot be edited", o.ID, o.Status)
		}
		if err := st.UpdateOrderDetails(ctx, o.ID, in.ItemName, in.Price, in.Public, s.now()); err != nil {
			return err
		}
		if _, err := s.checkCompletion(ctx, st, o.ID, &notes); err != nil {
			return err
		}
		result, err = st.GetOrder(ctx, o.ID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	s.deliver(ctx, notes)
	return result, nil
}

// SetVisibility изменяет видимость цели в таблице лидеров. Только владелец и только для активной цели.
func (s *Service) SetVisibility(ctx context.Context, p model.Principal, orderID int64, public bool) (*model.Order, error) {
	var result *model.Order
	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		o, err := st.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := ownerOnly(p, o); err != nil {
			return err
		}
		if o.Status != model.OrderStatusActive {
			return newError(KindConflict, ErrOrderNotActive, "visibility can only be changed on an active order")
		}
		if err := st.SetOrderVisibility(ctx, o.ID, public, s.now()); err != nil {
			return err
		}
		o.Public = public
		result = o
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

// GetOrderDetail возвращает цель с расчётом баланса. Доступно владельцу и администратору.
func (s *Service) GetOrderDetail(ctx context.Context, p model.Principal, orderID int64) (*OrderDetail, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !p.Admin && o.MemberID != p.MemberID {
		return nil, newError(KindForbidden, ErrForbidden, "order %d belongs to another member", o.ID)
	}

	deposits, err := s.repo.ListDeposits(ctx, o.ID)
	if err != nil {
		return nil, translate(err)
	}
	postings, err := s.repo.ListInterestPostings(ctx, o.ID)
	if err != nil {
		return nil, translate(err)
	}
	settings, err := s.loadSettings(ctx, s.repo)
	if err != nil {
		return nil, translate(err)
	}

	snap := balance.Calculate(balance.Input{
		TargetPrice: o.TargetPrice,
		CreatedAt:   o.CreatedAt,
		Deposits:    deposits,
		Postings:    postings,
		Settings:    settings,
		Now:         s.now(),
		Frozen:      o.Status != model.OrderStatusActive,
	})

	return &OrderDetail{Order: *o, Balance: snap, Deposits: deposits, Postings: postings}, nil
}

// ListMemberOrders возвращает все цели участника, новые первыми.
func (s *Service) ListMemberOrders(ctx context.Context, p model.Principal) ([]model.Order, error) {
	orders, err := s.repo.ListOrders(ctx, repository.OrderFilter{MemberID: p.MemberID})
	if err != nil {
		return nil, translate(err)
	}
	return orders, nil
}

// ListOrders возвращает цели в указанных статусах. Только для администратора.
func (s *Service) ListOrders(ctx context.Context, p model.Principal, statuses ...model.OrderStatus) ([]model.Order, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, newError(KindValidation, ErrInvalidInput, "unknown status %q", st)
		}
	}
	orders, err := s.repo.ListOrders(ctx, repository.OrderFilter{Statuses: statuses})
	if err != nil {
		return nil, translate(err)
	}
	return orders, nil
}

// Leaderboard возвращает активные цели по убыванию прогресса. Название корабля
// показывается только для публичных целей.
func (s *Service) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	orders, err := s.repo.ListOrders(ctx, repository.OrderFilter{Statuses: []model.OrderStatus{model.OrderStatusActive}})
	if err != nil {
		return nil, translate(err)
	}

	entries := make([]model.LeaderboardEntry, 0, len(orders))
	for _, o := range orders {
		progress := float64(o.Total()) * 100 / float64(o.TargetPrice)
		if progress > 100 {
			progress = 100
		}
		e := model.LeaderboardEntry{MemberName: o.MemberName, Progress: progress, Public: o.Public}
		if o.Public {
			e.ItemName = o.ItemName
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Progress > entries[j].Progress
	})
	return entries, nil
}

// ReconcileCompletions завершает активные цели, достигшие целевой цены, но не переведённые
// в completed. Выполняется при запуске; каждая цель обрабатывается в отдельной транзакции.
func (s *Service) ReconcileCompletions(ctx context.Context) (int, error) {
	orders, err := s.repo.ListOrders(ctx, repository.OrderFilter{Statuses: []model.OrderStatus{model.OrderStatusActive}})
	if err != nil {
		return 0, translate(err)
	}

	completed := 0
	var errs []error
	for _, o := range orders {
		if !o.GoalReached() {
			continue
		}
		var (
			notes batch
			done  bool
		)
		err := s.repo.WithinTx(ctx, func(st repository.Store) error {
			notes = nil
			var err error
			done, err = s.checkCompletion(ctx, st, o.ID, &notes)
			return err
		})
		if err != nil {
			s.logger.Error("completion reconciliation failed", zap.Int64("orderID", o.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("order %d: %w", o.ID, err))
			continue
		}
		if done {
			completed++
		}
		s.deliver(ctx, notes)
	}

	if completed > 0 {
		s.logger.Info("completion reconciliation finished", zap.Int("completed", completed))
	}
	return completed, translate(errors.Join(errs...))
}
