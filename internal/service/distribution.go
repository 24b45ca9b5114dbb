package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/repository"
)

// Allocation описывает долю бонуса, зачисленная на одну цель.
type Allocation struct {
	OrderID  int64 `json:"order_id"`
	MemberID int64 `json:"member_id"`
	Amount   int64 `json:"amount"`
}

// DistributionResult описывает итог распределения бонуса.
type DistributionResult struct {
	Dollars     decimal.Decimal `json:"dollars"`
	TotalISK    int64           `json:"total_isk"`
	Allocations []Allocation    `json:"allocations"`
}

// splitBonus делит total между целями пропорционально накопленным депозитам с округлением вниз.
// Если депозитов нет, сумма делится поровну. Остаток получает цель с наибольшими депозитами.
func splitBonus(total int64, orders []model.Order) []int64 {
	shares := make([]int64, len(orders))
	if len(orders) == 0 || total <= 0 {
		return shares
	}

	var deposited int64
	for _, o := range orders {
		deposited += o.Deposited
	}

	var distributed int64
	if deposited <= 0 {
		per := total / int64(len(orders))
		for i := range shares {
			shares[i] = per
		}
		distributed = per * int64(len(orders))
	} else {
		t := decimal.NewFromInt(total)
		d := decimal.NewFromInt(deposited)
		for i, o := range orders {
			shares[i] = t.Mul(decimal.NewFromInt(o.Deposited)).Div(d).Floor().IntPart()
			distributed += shares[i]
		}
	}

	if remainder := total - distributed; remainder > 0 {
		largest := 0
		for i, o := range orders {
			if o.Deposited > orders[largest].Deposited {
				largest = i
			}
		}
		shares[largest] += remainder
	}
	return shares
}

// DistributeBonus переводит долларовый бонус в ISK по курсу из настроек и распределяет его
// по всем активным целям одной транзакцией.
func (s *Service) DistributeBonus(ctx context.Context, p model.Principal, dollars decimal.Decimal) (*DistributionResult, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if !dollars.IsPositive() {
		return nil, newError(KindValidation, ErrInvalidAmount, "dollar amount must be positive")
	}

	settings, err := s.loadSettings(ctx, s.repo)
	if err != nil {
		return nil, translate(err)
	}
	total := dollars.Mul(settings.ConversionRatio).Floor()
	if !total.IsPositive() {
		return nil, newError(KindValidation, ErrInvalidAmount, "$%s converts to less than 1 ISK", dollars.StringFixed(2))
	}
	if !total.LessThanOrEqual(decimal.NewFromInt(1 << 62)) {
		return nil, newError(KindValidation, ErrInvalidAmount, "$%s is too large to distribute", dollars.StringFixed(2))
	}

	result := &DistributionResult{Dollars: dollars, TotalISK: total.IntPart()}
	var (
		notes    batch
		deposits []*model.Deposit
	)
	now := s.now()

	err = s.repo.WithinTx(ctx, func(st repository.Store) error {
		notes, deposits, result.Allocations = nil, nil, nil

		orders, err := st.ListOrders(ctx, repository.OrderFilter{Statuses: []model.OrderStatus{model.OrderStatusActive}})
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return newError(KindValidation, ErrInvalidInput, "no active savings goals to distribute to")
		}
		sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })

		shares := splitBonus(result.TotalISK, orders)
		for i := range orders {
			if shares[i] <= 0 {
				continue
			}
			o, err := st.LockOrder(ctx, orders[i].ID)
			if err != nil {
				return err
			}
			d, err := model.NewDeposit(o.ID, shares[i], model.DepositSourceDistribution, now, now)
			if err != nil {
				return err
			}
			recorder := p.MemberID
			d.RecordedBy = &recorder
			d.Note = fmt.Sprintf("Bonus distribution: $%s", dollars.StringFixed(2))
			if err := s.addDeposit(ctx, st, o, d, &notes); err != nil {
				return fmt.Errorf("order %d: %w", o.ID, err)
			}
			deposits = append(deposits, d)
			result.Allocations = append(result.Allocations, Allocation{OrderID: o.ID, MemberID: o.MemberID, Amount: shares[i]})
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	for _, d := range deposits {
		s.metrics.DepositRecorded(string(d.Source), d.Amount)
	}
	s.logger.Info("bonus distributed",
		zap.String("dollars", dollars.StringFixed(2)),
		zap.Int64("totalISK", result.TotalISK),
		zap.Int("orders", len(result.Allocations)),
	)
	s.deliver(ctx, notes)
	return result, nil
}
