package service

import (
	"context"

	"github.com/mmeshcher/shipsavings/internal/model"
)

const defaultNotificationLimit = 50

// ListNotifications возвращает последние уведомления участника.
func (s *Service) ListNotifications(ctx context.Context, p model.Principal, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultNotificationLimit
	}
	list, err := s.repo.ListNotifications(ctx, p.MemberID, limit)
	if err != nil {
		return nil, translate(err)
	}
	return list, nil
}

// MarkNotificationsRead отмечает все уведомления участника прочитанными.
func (s *Service) MarkNotificationsRead(ctx context.Context, p model.Principal) (int64, error) {
	n, err := s.repo.MarkNotificationsRead(ctx, p.MemberID)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}
