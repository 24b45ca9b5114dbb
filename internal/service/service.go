// Package service реализует бизнес-логику накоплений: жизненный цикл целей, депозиты,
// начисление процентов, сверку с журналом кошелька и распределение бонусов.
package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mmeshcher/shipsavings/internal/metrics"
	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/notification"
	"github.com/mmeshcher/shipsavings/internal/repository"
	"github.com/mmeshcher/shipsavings/internal/walletfeed"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	repository.Store
	WithinTx(ctx context.Context, fn func(repository.Store) error) error
	Close() error
}

// Feed описывает источник журнала кошелька.
type Feed interface {
	FetchJournal(ctx context.Context) ([]walletfeed.Entry, error)
}

// Options содержит необязательные зависимости сервиса.
type Options struct {
	AdminCharacterID int64
	Notifier         notification.Notifier
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
	Now              func() time.Time
}

// Service содержит бизнес-логику сервиса накоплений.
type Service struct {
	repo     Repository
	feed     Feed
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	adminID  int64
}

// NewService создаёт сервис с указанным хранилищем и лентой кошелька.
func NewService(repo Repository, feed Feed, opts Options) *Service {
	s := &Service{
		repo:     repo,
		feed:     feed,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
		adminID:  opts.AdminCharacterID,
	}
	if s.notifier == nil {
		s.notifier = notification.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.repo.GetSettings(ctx)
	return err
}

// Login регистрирует участника по данным провайдера идентификации или обновляет его имя.
// Признак администратора выставляется по настроенному идентификатору персонажа.
func (s *Service) Login(ctx context.Context, characterID int64, name string) (*model.Member, error) {
	name = strings.TrimSpace(name)
	if characterID <= 0 || name == "" {
		return nil, newError(KindValidation, ErrInvalidInput, "character id and name are required")
	}
	m, err := s.repo.UpsertMember(ctx, characterID, name, s.isAdmin(characterID))
	if err != nil {
		return nil, translate(err)
	}
	return m, nil
}

// Principal восстанавливает полномочия участника по его идентификатору.
// Признак администратора сверяется с текущей конфигурацией, а не с сохранённым при входе.
func (s *Service) Principal(ctx context.Context, memberID int64) (model.Principal, error) {
	m, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return model.Principal{}, translate(err)
	}
	return model.Principal{MemberID: m.ID, Name: m.Name, Admin: s.isAdmin(m.CharacterID)}, nil
}

func (s *Service) isAdmin(characterID int64) bool {
	return s.adminID != 0 && characterID == s.adminID
}

func requireAdmin(p model.Principal) error {
	if !p.Admin {
		return newError(KindForbidden, ErrForbidden, "admin capability required")
	}
	return nil
}

// batch накапливает уведомления внутри транзакции; они отправляются только после фиксации.
type batch []model.Notification

func (b *batch) add(memberID int64, orderID int64, typ model.NotificationType, message string) {
	id := orderID
	*b = append(*b, model.Notification{
		MemberID: memberID,
		OrderID:  &id,
		Type:     typ,
		Message:  message,
	})
}

// deliver отправляет уведомления. Ошибки доставки только логируются.
func (s *Service) deliver(ctx context.Context, b batch) {
	now := s.now()
	for _, n := range b {
		n.CreatedAt = now
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("notification delivery failed",
				zap.Int64("memberID", n.MemberID),
				zap.String("type", string(n.Type)),
				zap.Error(err),
			)
		}
	}
}

// loadSettings читает настройки. Некорректные значения заменяются значениями по умолчанию.
func (s *Service) loadSettings(ctx context.Context, st repository.Store) (model.Settings, error) {
	raw, err := st.GetSettings(ctx)
	if err != nil {
		return model.Settings{}, err
	}
	settings, problems := model.SettingsFromMap(raw)
	for _, p := range problems {
		s.logger.Warn("setting replaced with default", zap.String("problem", p))
	}
	return settings, nil
}

var iskPrinter = message.NewPrinter(language.English)

// formatISK форматирует сумму с разделителями разрядов: 1,250,000 ISK.
func formatISK(v int64) string {
	return iskPrinter.Sprintf("%d ISK", v)
}
