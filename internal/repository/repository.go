// Package repository содержит хранилища данных сервиса: PostgreSQL и in-memory.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/shipsavings/internal/model"
)

var (
	// ErrNotFound возвращается, если запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrOpenOrderExists возвращается при попытке создать вторую открытую цель участника.
	ErrOpenOrderExists = errors.New("member already has an open order")
	// ErrStatusChanged возвращается, если статус записи не совпал с ожидаемым при условном обновлении.
	ErrStatusChanged = errors.New("status changed concurrently")
	// ErrDuplicateTransaction возвращается при повторной записи депозита с той же внешней ссылкой.
	ErrDuplicateTransaction = errors.New("duplicate external transaction")
)

// OrderFilter задаёт условия выборки целей. Нулевые поля не ограничивают выборку.
type OrderFilter struct {
	MemberID int64
	Statuses []model.OrderStatus
}

func (f OrderFilter) match(o model.Order) bool {
	if f.MemberID != 0 && o.MemberID != f.MemberID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// Store описывает операции над данными, доступные как вне, так и внутри транзакции.
type Store interface {
	UpsertMember(ctx context.Context, characterID int64, name string, isAdmin bool) (*model.Member, error)
	GetMember(ctx context.Context, id int64) (*model.Member, error)
	GetMemberByCharacterID(ctx context.Context, characterID int64) (*model.Member, error)

	AddCatalogItem(ctx context.Context, item *model.CatalogItem) (int64, error)
	GetCatalogItem(ctx context.Context, id int64) (*model.CatalogItem, error)
	ListCatalog(ctx context.Context, availableOnly bool) ([]model.CatalogItem, error)

	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	LockOrder(ctx context.Context, id int64) (*model.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus, at time.Time) error
	UpdateOrderDetails(ctx context.Context, id int64, itemName string, price int64, public bool, at time.Time) error
	SetOrderVisibility(ctx context.Context, id int64, public bool, at time.Time) error

	AddDeposit(ctx context.Context, d *model.Deposit) (int64, error)
	ListDeposits(ctx context.Context, orderID int64) ([]model.Deposit, error)

	AddInterestPosting(ctx context.Context, p *model.InterestPosting) (int64, error)
	ListInterestPostings(ctx context.Context, orderID int64) ([]model.InterestPosting, error)

	InsertExternalTransaction(ctx context.Context, tx *model.ExternalTransaction) (bool, error)
	GetExternalTransaction(ctx context.Context, id string) (*model.ExternalTransaction, error)
	ExternalTransactionExists(ctx context.Context, id string) (bool, error)
	ResolveExternalTransaction(ctx context.Context, id string, status model.TransactionStatus, orderID *int64) error
	ListExternalTransactions(ctx context.Context, status model.TransactionStatus) ([]model.ExternalTransaction, error)

	GetSettings(ctx context.Context) (map[string]string, error)
	PutSettings(ctx context.Context, values map[string]string) error

	AddNotification(ctx context.Context, n *model.Notification) (int64, error)
	ListNotifications(ctx context.Context, memberID int64, limit int) ([]model.Notification, error)
	MarkNotificationsRead(ctx context.Context, memberID int64) (int64, error)
}
