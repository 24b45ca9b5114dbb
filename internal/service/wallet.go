package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/repository"
	"github.com/mmeshcher/shipsavings/internal/walletfeed"
)

// SyncReport описывает итог одной сверки с журналом кошелька.
type SyncReport struct {
	Fetched    int    `json:"fetched"`
	Considered int    `json:"considered"`
	Duplicates int    `json:"duplicates"`
	Matched    int    `json:"matched"`
	MatchedISK int64  `json:"matched_isk"`
	Unmatched  int    `json:"unmatched"`
	Failed     int    `json:"failed"`
	Detail     string `json:"detail"`
}

// Processed возвращает число сохранённых в этой сверке транзакций.
func (r SyncReport) Processed() int {
	return r.Matched + r.Unmatched
}

// SyncWallet загружает журнал кошелька, отбрасывает уже известные записи и сопоставляет
// переводы игроков с их активными целями. При ошибке загрузки ничего не сохраняется.
func (s *Service) SyncWallet(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if s.feed == nil {
		report.Detail = "0 processed, wallet feed not configured"
		return report, newError(KindUpstream, ErrFeedUnavailable, "%s", report.Detail)
	}

	entries, err := s.feed.FetchJournal(ctx)
	if err != nil {
		report.Detail = "0 processed, fetch failed"
		s.metrics.WalletSync(false, 0, 0)
		s.logger.Warn("wallet sync skipped", zap.Error(err))
		return report, &Error{Kind: KindUpstream, Err: errors.Join(ErrFeedUnavailable, err), Detail: report.Detail + ": " + err.Error()}
	}
	report.Fetched = len(entries)

	for _, e := range entries {
		if !e.IsDonation() || e.ISK() <= 0 {
			continue
		}
		report.Considered++

		id := string(e.ID)
		exists, err := s.repo.ExternalTransactionExists(ctx, id)
		if err != nil {
			report.Failed++
			s.logger.Error("wallet dedup check failed", zap.String("txID", id), zap.Error(err))
			continue
		}
		if exists {
			report.Duplicates++
			continue
		}

		status, err := s.reconcileEntry(ctx, e)
		switch {
		case err != nil:
			report.Failed++
			s.logger.Error("wallet entry reconciliation failed", zap.String("txID", id), zap.Error(err))
		case status == model.TransactionMatched:
			report.Matched++
			report.MatchedISK += e.ISK()
		case status == model.TransactionUnmatched:
			report.Unmatched++
		default:
			report.Duplicates++
		}
	}

	report.Detail = fmt.Sprintf("%d processed: %d matched (%s), %d unmatched",
		report.Processed(), report.Matched, formatISK(report.MatchedISK), report.Unmatched)
	if report.Failed > 0 {
		report.Detail += fmt.Sprintf(", %d failed", report.Failed)
	}

	s.metrics.WalletSync(true, report.Matched, report.Unmatched)
	s.logger.Info("wallet sync finished",
		zap.Int("fetched", report.Fetched),
		zap.Int("matched", report.Matched),
		zap.Int64("matchedISK", report.MatchedISK),
		zap.Int("unmatched", report.Unmatched),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// reconcileEntry сохраняет одну запись журнала и, если у отправителя есть активная цель,
// записывает депозит. Пустой статус означает, что запись уже была сохранена.
func (s *Service) reconcileEntry(ctx context.Context, e walletfeed.Entry) (model.TransactionStatus, error) {
	var (
		status   model.TransactionStatus
		notes    batch
		deposit  *model.Deposit
		received = e.Date
	)
	now := s.now()
	if received.IsZero() {
		received = now
	}

	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		notes, deposit, status = nil, nil, ""

		tx := &model.ExternalTransaction{
			ID:         string(e.ID),
			SenderID:   e.FirstPartyID,
			SenderName: strings.TrimSpace(e.FirstPartyName),
			Amount:     e.ISK(),
			Reason:     e.Reason,
			Date:       received,
			Status:     model.TransactionUnmatched,
			CreatedAt:  now,
		}

		var order *model.Order
		member, err := st.GetMemberByCharacterID(ctx, e.FirstPartyID)
		switch {
		case err == nil:
			tx.SenderName = member.Name
			active, err := st.ListOrders(ctx, repository.OrderFilter{
				MemberID: member.ID,
				Statuses: []model.OrderStatus{model.OrderStatusActive},
			})
			if err != nil {
				return err
			}
			if len(active) == 1 {
				order, err = st.LockOrder(ctx, active[0].ID)
				if err != nil {
					return err
				}
			}
		case errors.Is(err, repository.ErrNotFound):
		default:
			return err
		}
		if tx.SenderName == "" {
			tx.SenderName = "Unknown"
		}

		if order != nil {
			tx.Status = model.TransactionMatched
			tx.OrderID = &order.ID
		}

		inserted, err := st.InsertExternalTransaction(ctx, tx)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		status = tx.Status

		if order == nil {
			return nil
		}

		d, err := model.NewDeposit(order.ID, tx.Amount, model.DepositSourceExternalFeed, received, now)
		if err != nil {
			return err
		}
		ref := tx.ID
		d.OriginRef = &ref
		d.Note = "Wallet sync"
		if tx.Reason != "" {
			d.Note = "Wallet sync: " + tx.Reason
		}
		deposit = d
		return s.addDeposit(ctx, st, order, d, &notes)
	})
	if err != nil {
		return "", err
	}

	if deposit != nil {
		s.metrics.DepositRecorded(string(deposit.Source), deposit.Amount)
	}
	s.deliver(ctx, notes)
	return status, nil
}

// ListUnmatched возвращает транзакции, ожидающие ручного разбора.
func (s *Service) ListUnmatched(ctx context.Context, p model.Principal) ([]model.ExternalTransaction, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	txs, err := s.repo.ListExternalTransactions(ctx, model.TransactionUnmatched)
	if err != nil {
		return nil, translate(err)
	}
	return txs, nil
}

// AssignTransaction вручную относит неразобранную транзакцию к активной цели.
func (s *Service) AssignTransaction(ctx context.Context, p model.Principal, txID string, orderID int64) (*model.Deposit, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	var (
		stored *model.Deposit
		notes  batch
	)
	now := s.now()
	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		notes = nil
		tx, err := st.GetExternalTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Status != model.TransactionUnmatched {
			return notUnmatched(tx.ID, tx.Status)
		}

		o, err := st.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		d, err := model.NewDeposit(o.ID, tx.Amount, model.DepositSourceExternalFeed, tx.Date, now)
		if err != nil {
			return err
		}
		ref := tx.ID
		recorder := p.MemberID
		d.OriginRef = &ref
		d.RecordedBy = &recorder
		d.Note = "Manual match: " + tx.SenderName
		if err := s.addDeposit(ctx, st, o, d, &notes); err != nil {
			return err
		}

		if err := st.ResolveExternalTransaction(ctx, tx.ID, model.TransactionMatched, &o.ID); err != nil {
			if errors.Is(err, repository.ErrStatusChanged) {
				return notUnmatched(tx.ID, "")
			}
			return err
		}
		stored = d
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.metrics.DepositRecorded(string(stored.Source), stored.Amount)
	s.logger.Info("wallet transaction assigned", zap.String("txID", txID), zap.Int64("orderID", orderID))
	s.deliver(ctx, notes)
	return stored, nil
}

// IgnoreTransaction помечает неразобранную транзакцию как проигнорированную.
func (s *Service) IgnoreTransaction(ctx context.Context, p model.Principal, txID string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	err := s.repo.ResolveExternalTransaction(ctx, txID, model.TransactionIgnored, nil)
	if errors.Is(err, repository.ErrStatusChanged) {
		return notUnmatched(txID, "")
	}
	if err != nil {
		return translate(err)
	}
	s.logger.Info("wallet transaction ignored", zap.String("txID", txID))
	return nil
}

func notUnmatched(id string, status model.TransactionStatus) error {
	if status == "" {
		return newError(KindValidation, ErrNotUnmatched, "transaction %s is not unmatched", id)
	}
	return newError(KindValidation, ErrNotUnmatched, "transaction %s is not unmatched (%s)", id, status)
}
