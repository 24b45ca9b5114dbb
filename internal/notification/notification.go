// Package notification доставляет уведомления участникам: в хранилище и, опционально, в RabbitMQ.
package notification

import (
	"context"
	"errors"

	"github.com/mmeshcher/shipsavings/internal/model"
)

// Notifier доставляет одно уведомление.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Store описывает хранилище уведомлений.
type Store interface {
	AddNotification(ctx context.Context, n *model.Notification) (int64, error)
}

// StoreNotifier сохраняет уведомления в хранилище для показа участнику.
type StoreNotifier struct {
	store Store
}

// NewStoreNotifier создаёт уведомитель поверх хранилища.
func NewStoreNotifier(store Store) *StoreNotifier {
	return &StoreNotifier{store: store}
}

// Notify сохраняет уведомление.
func (s *StoreNotifier) Notify(ctx context.Context, n model.Notification) error {
	_, err := s.store.AddNotification(ctx, &n)
	return err
}

// Multi рассылает уведомление всем получателям и объединяет их ошибки.
type Multi []Notifier

// Notify вызывает каждого получателя независимо от ошибок остальных.
func (m Multi) Notify(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop игнорирует уведомления.
type Nop struct{}

// Notify ничего не делает.
func (Nop) Notify(context.Context, model.Notification) error { return nil }
