// Package model содержит доменные сущности сервиса накоплений на корабли.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Member представляет участника корпорации, прошедшего вход через провайдера идентификации.
type Member struct {
	ID          int64
	CharacterID int64
	Name        string
	IsAdmin     bool
	CreatedAt   time.Time
}

// Principal описывает аутентифицированного вызывающего: идентификатор участника и признак администратора.
type Principal struct {
	MemberID int64
	Name     string
	Admin    bool
}

// OrderStatus описывает статус накопительной цели.
type OrderStatus string

const (
	OrderStatusPendingApproval   OrderStatus = "pending_approval"
	OrderStatusActive            OrderStatus = "active"
	OrderStatusWithdrawalPending OrderStatus = "withdrawal_pending"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusWithdrawn         OrderStatus = "withdrawn"
	OrderStatusCancelled         OrderStatus = "cancelled"
)

// OpenStatuses перечисляет статусы, которые занимают единственный слот открытой цели участника.
var OpenStatuses = []OrderStatus{
	OrderStatusPendingApproval,
	OrderStatusActive,
	OrderStatusWithdrawalPending,
}

// transitions задаёт допустимые переходы между статусами цели.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingApproval:   {OrderStatusActive, OrderStatusCancelled},
	OrderStatusActive:            {OrderStatusWithdrawalPending, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusWithdrawalPending: {OrderStatusWithdrawn, OrderStatusActive, OrderStatusCancelled},
}

// Valid сообщает, является ли статус известным.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingApproval, OrderStatusActive, OrderStatusWithdrawalPending,
		OrderStatusCompleted, OrderStatusWithdrawn, OrderStatusCancelled:
		return true
	}
	return false
}

// IsOpen сообщает, учитывается ли статус в ограничении «одна открытая цель на участника».
func (s OrderStatus) IsOpen() bool {
	for _, open := range OpenStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, является ли статус конечным.
func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && !s.IsOpen()
}

// CanTransition проверяет, разрешён ли переход из статуса from в статус to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order описывает накопительную цель участника на покупку корабля.
type Order struct {
	ID             int64
	MemberID       int64
	MemberName     string
	ItemName       string
	TargetPrice    int64
	Deposited      int64
	InterestEarned int64
	Status         OrderStatus
	Public         bool
	Category       string
	ImageRef       string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Total возвращает сумму всех депозитов и начисленных процентов.
func (o Order) Total() int64 {
	return o.Deposited + o.InterestEarned
}

// GoalReached сообщает, достигнута ли целевая цена.
func (o Order) GoalReached() bool {
	return o.Total() >= o.TargetPrice
}

// ErrInvalidOrder возвращается конструктором цели при некорректных входных данных.
var ErrInvalidOrder = errors.New("invalid order")

// NewOrder создаёт цель в начальном статусе, проверяя цену и название.
func NewOrder(memberID int64, itemName string, price int64, status OrderStatus, now time.Time) (*Order, error) {
	itemName = strings.TrimSpace(itemName)
	if memberID <= 0 {
		return nil, fmt.Errorf("%w: member is required", ErrInvalidOrder)
	}
	if itemName == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrInvalidOrder)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: target price must be positive", ErrInvalidOrder)
	}
	if status != OrderStatusPendingApproval && status != OrderStatusActive {
		return nil, fmt.Errorf("%w: initial status %q", ErrInvalidOrder, status)
	}
	return &Order{
		MemberID:    memberID,
		ItemName:    itemName,
		TargetPrice: price,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// DepositSource описывает происхождение депозита.
type DepositSource string

const (
	DepositSourceManual       DepositSource = "manual"
	DepositSourceExternalFeed DepositSource = "external_feed"
	DepositSourceDistribution DepositSource = "distribution"
)

// Valid сообщает, является ли источник известным.
func (s DepositSource) Valid() bool {
	switch s {
	case DepositSourceManual, DepositSourceExternalFeed, DepositSourceDistribution:
		return true
	}
	return false
}

// Deposit описывает неизменяемое зачисление на цель.
type Deposit struct {
	ID          int64
	OrderID     int64
	Amount      int64
	Source      DepositSource
	OriginRef   *string
	EffectiveAt time.Time
	RecordedAt  time.Time
	RecordedBy  *int64
	Note        string
}

// ErrInvalidDeposit возвращается конструктором депозита при нарушении инвариантов.
var ErrInvalidDeposit = errors.New("invalid deposit")

// NewDeposit создаёт депозит, проверяя положительность суммы и источник.
// Нулевая дата вступления в силу заменяется моментом записи.
func NewDeposit(orderID, amount int64, source DepositSource, effectiveAt, recordedAt time.Time) (*Deposit, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidDeposit, amount)
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidDeposit, source)
	}
	if effectiveAt.IsZero() {
		effectiveAt = recordedAt
	}
	return &Deposit{
		OrderID:     orderID,
		Amount:      amount,
		Source:      source,
		EffectiveAt: effectiveAt,
		RecordedAt:  recordedAt,
	}, nil
}

// InterestPosting описывает одно начисление процентов за период.
type InterestPosting struct {
	ID            int64
	OrderID       int64
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	AccruedAt     time.Time
}

// CatalogItem описывает позицию каталога кораблей.
type CatalogItem struct {
	ID        int64
	Name      string
	Price     int64
	Category  string
	ImageRef  string
	Available bool
	CreatedAt time.Time
}

// TransactionStatus описывает статус разбора внешней транзакции кошелька.
type TransactionStatus string

const (
	TransactionUnmatched TransactionStatus = "unmatched"
	TransactionMatched   TransactionStatus = "matched"
	TransactionIgnored   TransactionStatus = "ignored"
)

// ExternalTransaction описывает входящую транзакцию из журнала кошелька.
type ExternalTransaction struct {
	ID         string
	SenderID   int64
	SenderName string
	Amount     int64
	Reason     string
	Date       time.Time
	Status     TransactionStatus
	OrderID    *int64
	CreatedAt  time.Time
}

// NotificationType описывает тип уведомления участнику.
type NotificationType string

const (
	NotificationOrderApproved      NotificationType = "order_approved"
	NotificationOrderRejected      NotificationType = "order_rejected"
	NotificationOrderCancelled     NotificationType = "order_cancelled"
	NotificationWithdrawalApproved NotificationType = "withdrawal_approved"
	NotificationWithdrawalDenied   NotificationType = "withdrawal_denied"
	NotificationGoalCompleted      NotificationType = "goal_completed"
	NotificationDepositRecorded    NotificationType = "deposit_recorded"
	NotificationInterestAccrued    NotificationType = "interest_accrued"
)

// Notification описывает уведомление участнику.
type Notification struct {
	ID        int64
	MemberID  int64
	OrderID   *int64
	Type      NotificationType
	Message   string
	Read      bool
	CreatedAt time.Time
}

// LeaderboardEntry описывает строку таблицы лидеров.
type LeaderboardEntry struct {
	MemberName string  `json:"member_name"`
	Progress   float64 `json:"progress"`
	ItemName   string  `json:"item_name,omitempty"`
	Public     bool    `json:"public"`
}
