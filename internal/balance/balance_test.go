package balance

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/shipsavings/internal/model"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func deposit(amount int64, age time.Duration) model.Deposit {
	return model.Deposit{Amount: amount, EffectiveAt: now.Add(-age)}
}

func settings(rate string, period model.AccrualPeriod) model.Settings {
	s := model.DefaultSettings()
	s.InterestRate = decimal.RequireFromString(rate)
	s.Period = period
	return s
}

func TestEligible_BoundaryIsInclusive(t *testing.T) {
	deposits := []model.Deposit{
		deposit(100, EligibilityAge),
		deposit(10, EligibilityAge-time.Second),
		deposit(1, EligibilityAge+time.Hour),
	}

	assert.Equal(t, int64(101), Eligible(deposits, nil, now))
	assert.Equal(t, int64(111), Total(deposits, nil))
}

func TestEligible_IncludesAllInterest(t *testing.T) {
	deposits := []model.Deposit{deposit(500, time.Hour)}
	postings := []model.InterestPosting{{Amount: 7}, {Amount: 3}}

	assert.Equal(t, int64(10), Eligible(deposits, postings, now))
	assert.Equal(t, int64(510), Total(deposits, postings))
}

func TestEligibleNeverExceedsTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		var deposits []model.Deposit
		allOld := true
		n := rng.Intn(8)
		for j := 0; j < n; j++ {
			age := time.Duration(rng.Intn(60*24)) * time.Hour
			if age < EligibilityAge {
				allOld = false
			}
			deposits = append(deposits, deposit(int64(rng.Intn(1_000_000)+1), age))
		}
		postings := []model.InterestPosting{{Amount: int64(rng.Intn(1000))}}

		eligible := Eligible(deposits, postings, now)
		total := Total(deposits, postings)

		require.LessOrEqual(t, eligible, total)
		if allOld {
			require.Equal(t, total, eligible)
		} else {
			require.Less(t, eligible, total)
		}
	}
}

func TestPeriodsElapsed(t *testing.T) {
	tests := []struct {
		name   string
		since  time.Time
		period model.AccrualPeriod
		want   int
	}{
		{"future", now.Add(time.Hour), model.PeriodMonthly, 0},
		{"almost a month", now.Add(-(30*day - time.Minute)), model.PeriodMonthly, 0},
		{"one month", now.Add(-30 * day), model.PeriodMonthly, 1},
		{"two weeks weekly", now.Add(-14 * day), model.PeriodWeekly, 2},
		{"twenty days biweekly", now.Add(-20 * day), model.PeriodBiweekly, 1},
		{"sixty-one days monthly", now.Add(-61 * day), model.PeriodMonthly, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodsElapsed(tt.since, now, tt.period))
		})
	}
}

func TestSchedule_CompoundsWithTruncation(t *testing.T) {
	since := now.Add(-60 * day)
	steps := Schedule(1_000_000, since, 2, settings("0.01", model.PeriodMonthly))

	require.Len(t, steps, 2)
	assert.Equal(t, Step{Amount: 10_000, BalanceBefore: 1_000_000, BalanceAfter: 1_010_000, At: since.Add(30 * day)}, steps[0])
	assert.Equal(t, Step{Amount: 10_100, BalanceBefore: 1_010_000, BalanceAfter: 1_020_100, At: since.Add(60 * day)}, steps[1])
}

func TestInterest_Truncates(t *testing.T) {
	assert.Equal(t, int64(3), Interest(333, decimal.RequireFromString("0.01")))
	assert.Equal(t, int64(0), Interest(99, decimal.RequireFromString("0.01")))
	assert.Equal(t, int64(0), Interest(1000, decimal.Zero))
	assert.Equal(t, int64(0), Interest(-1000, decimal.RequireFromString("0.5")))
}

func TestCalculate(t *testing.T) {
	created := now.Add(-65 * day)
	in := Input{
		TargetPrice: 2_000_000,
		CreatedAt:   created,
		Deposits: []model.Deposit{
			{Amount: 1_000_000, EffectiveAt: created},
			{Amount: 5_000, EffectiveAt: now.Add(-day)},
		},
		Postings: []model.InterestPosting{
			{Amount: 10_000, BalanceBefore: 1_000_000, BalanceAfter: 1_010_000, AccruedAt: created.Add(30 * day)},
		},
		Settings: settings("0.01", model.PeriodMonthly),
		Now:      now,
	}

	snap := Calculate(in)

	assert.Equal(t, int64(1_005_000), snap.Deposited)
	assert.Equal(t, int64(10_000), snap.Interest)
	assert.Equal(t, int64(1_015_000), snap.Total)
	assert.Equal(t, int64(1_010_000), snap.Eligible)
	assert.Equal(t, 1, snap.PeriodsDue)
	assert.Equal(t, int64(10_100), snap.PendingInterest)
	assert.Equal(t, int64(1_025_100), snap.ProjectedTotal)
	assert.Equal(t, int64(974_900), snap.Remaining)
	assert.InDelta(t, 51.255, snap.Progress, 0.001)
}

func TestCalculate_ProgressCapped(t *testing.T) {
	snap := Calculate(Input{
		TargetPrice: 100,
		CreatedAt:   now,
		Deposits:    []model.Deposit{{Amount: 250, EffectiveAt: now}},
		Settings:    model.DefaultSettings(),
		Now:         now,
	})

	assert.Equal(t, float64(100), snap.Progress)
	assert.Zero(t, snap.Remaining)
	assert.Zero(t, snap.PeriodsDue)
}
