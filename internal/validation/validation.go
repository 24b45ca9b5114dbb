// Package validation содержит функции разбора и проверки входных данных API.
package validation

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/shipsavings/internal/model"
)

// ParseID разбирает положительный целочисленный идентификатор из пути запроса.
func ParseID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParseStatuses разбирает список статусов через запятую. Пустая строка означает «все статусы».
func ParseStatuses(raw string) ([]model.OrderStatus, bool) {
	var res []model.OrderStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s := model.OrderStatus(strings.ToLower(part))
		if !s.Valid() {
			return nil, false
		}
		res = append(res, s)
	}
	return res, true
}

// ParseDollars разбирает положительную сумму в долларах не более чем с двумя знаками после запятой.
func ParseDollars(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "$")
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() || !d.Equal(d.Round(2)) {
		return decimal.Zero, false
	}
	return d, true
}

// IsValidAmount проверяет сумму в ISK: положительное целое число.
func IsValidAmount(amount int64) bool {
	return amount > 0
}
