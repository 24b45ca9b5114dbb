package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/model"
)

// SettingsInput описывает изменение настроек. Пустые поля не меняются.
type SettingsInput struct {
	InterestRate    string
	AccrualPeriod   string
	ConversionRatio string
}

// GetSettings возвращает действующие настройки с подстановкой значений по умолчанию.
func (s *Service) GetSettings(ctx context.Context) (model.Settings, error) {
	settings, err := s.loadSettings(ctx, s.repo)
	if err != nil {
		return model.Settings{}, translate(err)
	}
	return settings, nil
}

// UpdateSettings проверяет и сохраняет новые настройки. Изменения действуют только на будущие начисления.
func (s *Service) UpdateSettings(ctx context.Context, p model.Principal, in SettingsInput) (model.Settings, error) {
	if err := requireAdmin(p); err != nil {
		return model.Settings{}, err
	}

	values := make(map[string]string, 3)

	if raw := strings.TrimSpace(in.InterestRate); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return model.Settings{}, newError(KindValidation, ErrInvalidSettings, "interest rate must be a number between 0 and 1, got %q", raw)
		}
		values[model.SettingInterestRate] = rate.String()
	}

	if raw := strings.TrimSpace(in.AccrualPeriod); raw != "" {
		period, ok := model.ParseAccrualPeriod(raw)
		if !ok {
			return model.Settings{}, newError(KindValidation, ErrInvalidSettings, "accrual period must be weekly, biweekly or monthly, got %q", raw)
		}
		values[model.SettingAccrualPeriod] = string(period)
	}

	if raw := strings.TrimSpace(in.ConversionRatio); raw != "" {
		ratio, err := decimal.NewFromString(raw)
		if err != nil || !ratio.IsPositive() {
			return model.Settings{}, newError(KindValidation, ErrInvalidSettings, "conversion ratio must be a positive number, got %q", raw)
		}
		values[model.SettingConversionRatio] = ratio.String()
	}

	if len(values) > 0 {
		if err := s.repo.PutSettings(ctx, values); err != nil {
			return model.Settings{}, translate(err)
		}
		s.logger.Info("settings updated", zap.Any("values", values), zap.Int64("by", p.MemberID))
	}

	return s.GetSettings(ctx)
}
