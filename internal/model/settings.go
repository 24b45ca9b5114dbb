package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Ключи хранилища настроек.
const (
	SettingInterestRate    = "interest_rate"
	SettingAccrualPeriod   = "accrual_period"
	SettingConversionRatio = "conversion_ratio"
)

// AccrualPeriod описывает период начисления процентов.
type AccrualPeriod string

const (
	PeriodWeekly   AccrualPeriod = "weekly"
	PeriodBiweekly AccrualPeriod = "biweekly"
	PeriodMonthly  AccrualPeriod = "monthly"
)

// Days возвращает длину периода в днях. Месяц считается равным 30 дням.
func (p AccrualPeriod) Days() int {
	switch p {
	case PeriodWeekly:
		return 7
	case PeriodBiweekly:
		return 14
	default:
		return 30
	}
}

// ParseAccrualPeriod разбирает название периода.
func ParseAccrualPeriod(s string) (AccrualPeriod, bool) {
	switch p := AccrualPeriod(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodWeekly, PeriodBiweekly, PeriodMonthly:
		return p, true
	}
	return "", false
}

// Значения по умолчанию для отсутствующих или повреждённых настроек.
var (
	DefaultInterestRate    = decimal.RequireFromString("0.05")
	DefaultAccrualPeriod   = PeriodMonthly
	DefaultConversionRatio = decimal.NewFromInt(1_000_000_000)
)

// Settings содержит параметры начисления, передаваемые явно в калькулятор и движок процентов.
type Settings struct {
	InterestRate    decimal.Decimal
	Period          AccrualPeriod
	ConversionRatio decimal.Decimal
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		InterestRate:    DefaultInterestRate,
		Period:          DefaultAccrualPeriod,
		ConversionRatio: DefaultConversionRatio,
	}
}

// SettingsFromMap строит настройки из пар ключ-значение. Отсутствующие и некорректные
// значения заменяются значениями по умолчанию; описание каждой замены некорректного
// значения возвращается вторым результатом.
func SettingsFromMap(values map[string]string) (Settings, []string) {
	s := DefaultSettings()
	var problems []string

	if raw, ok := values[SettingInterestRate]; ok {
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("%s: %q is not a number", SettingInterestRate, raw))
		case rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)):
			problems = append(problems, fmt.Sprintf("%s: %s out of range [0,1]", SettingInterestRate, rate))
		default:
			s.InterestRate = rate
		}
	}

	if raw, ok := values[SettingAccrualPeriod]; ok {
		if p, valid := ParseAccrualPeriod(raw); valid {
			s.Period = p
		} else {
			problems = append(problems, fmt.Sprintf("%s: unknown period %q", SettingAccrualPeriod, raw))
		}
	}

	if raw, ok := values[SettingConversionRatio]; ok {
		ratio, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !ratio.IsPositive() {
			problems = append(problems, fmt.Sprintf("%s: %q must be a positive number", SettingConversionRatio, raw))
		} else {
			s.ConversionRatio = ratio
		}
	}

	return s, problems
}

// Map возвращает настройки в виде пар ключ-значение для хранилища.
func (s Settings) Map() map[string]string {
	return map[string]string{
		SettingInterestRate:    s.InterestRate.String(),
		SettingAccrualPeriod:   string(s.Period),
		SettingConversionRatio: s.ConversionRatio.String(),
	}
}
