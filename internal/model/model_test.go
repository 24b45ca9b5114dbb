package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusPendingApproval, OrderStatusActive, true},
		{OrderStatusPendingApproval, OrderStatusCancelled, true},
		{OrderStatusPendingApproval, OrderStatusCompleted, false},
		{OrderStatusActive, OrderStatusWithdrawalPending, true},
		{OrderStatusActive, OrderStatusCompleted, true},
		{OrderStatusWithdrawalPending, OrderStatusWithdrawn, true},
		{OrderStatusWithdrawalPending, OrderStatusActive, true},
		{OrderStatusWithdrawalPending, OrderStatusCompleted, false},
		{OrderStatusCompleted, OrderStatusActive, false},
		{OrderStatusWithdrawn, OrderStatusActive, false},
		{OrderStatusCancelled, OrderStatusPendingApproval, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestOrderStatus_OpenAndTerminal(t *testing.T) {
	for _, s := range OpenStatuses {
		assert.True(t, s.IsOpen(), s)
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range []OrderStatus{OrderStatusCompleted, OrderStatusWithdrawn, OrderStatusCancelled} {
		assert.False(t, s.IsOpen(), s)
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, OrderStatus("bogus").IsTerminal())
}

func TestNewDeposit(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	_, err := NewDeposit(1, 0, DepositSourceManual, now, now)
	require.True(t, errors.Is(err, ErrInvalidDeposit))

	_, err = NewDeposit(1, -5, DepositSourceManual, now, now)
	require.True(t, errors.Is(err, ErrInvalidDeposit))

	_, err = NewDeposit(1, 5, DepositSource("wire"), now, now)
	require.True(t, errors.Is(err, ErrInvalidDeposit))

	d, err := NewDeposit(1, 5, DepositSourceExternalFeed, time.Time{}, now)
	require.NoError(t, err)
	assert.Equal(t, now, d.EffectiveAt)
}

func TestNewOrder(t *testing.T) {
	now := time.Now()

	_, err := NewOrder(1, "  ", 100, OrderStatusActive, now)
	require.ErrorIs(t, err, ErrInvalidOrder)

	_, err = NewOrder(1, "Raven", 0, OrderStatusActive, now)
	require.ErrorIs(t, err, ErrInvalidOrder)

	_, err = NewOrder(1, "Raven", 100, OrderStatusCompleted, now)
	require.ErrorIs(t, err, ErrInvalidOrder)

	o, err := NewOrder(1, " Raven ", 100, OrderStatusPendingApproval, now)
	require.NoError(t, err)
	assert.Equal(t, "Raven", o.ItemName)
	assert.False(t, o.GoalReached())
}

func TestSettingsFromMap(t *testing.T) {
	t.Run("empty uses defaults", func(t *testing.T) {
		s, problems := SettingsFromMap(nil)
		assert.Empty(t, problems)
		assert.True(t, s.InterestRate.Equal(DefaultInterestRate))
		assert.Equal(t, PeriodMonthly, s.Period)
		assert.True(t, s.ConversionRatio.Equal(DefaultConversionRatio))
	})

	t.Run("valid values", func(t *testing.T) {
		s, problems := SettingsFromMap(map[string]string{
			SettingInterestRate:    "0.01",
			SettingAccrualPeriod:   "Weekly",
			SettingConversionRatio: "2500",
		})
		assert.Empty(t, problems)
		assert.True(t, s.InterestRate.Equal(decimal.RequireFromString("0.01")))
		assert.Equal(t, PeriodWeekly, s.Period)
		assert.Equal(t, 7, s.Period.Days())
		assert.True(t, s.ConversionRatio.Equal(decimal.NewFromInt(2500)))
	})

	t.Run("malformed falls back", func(t *testing.T) {
		s, problems := SettingsFromMap(map[string]string{
			SettingInterestRate:    "lots",
			SettingAccrualPeriod:   "fortnightly-ish",
			SettingConversionRatio: "-3",
		})
		assert.Len(t, problems, 3)
		assert.Equal(t, DefaultSettings(), s)
	})
}

func TestAccrualPeriod_Days(t *testing.T) {
	assert.Equal(t, 7, PeriodWeekly.Days())
	assert.Equal(t, 14, PeriodBiweekly.Days())
	assert.Equal(t, 30, PeriodMonthly.Days())
	assert.Equal(t, 30, AccrualPeriod("").Days())
}
