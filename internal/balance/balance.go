// Package balance содержит чистые функции расчёта баланса цели и сложных процентов.
package balance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/shipsavings/internal/model"
)

// EligibilityAge задаёт возраст депозита, начиная с которого он участвует в начислении процентов.
// Граница включительная: депозит ровно 30-дневной давности уже приносит проценты.
const EligibilityAge = 30 * 24 * time.Hour

const day = 24 * time.Hour

// Snapshot содержит расчёт баланса цели на момент Now.
type Snapshot struct {
	Deposited       int64
	Interest        int64
	Total           int64
	Eligible        int64
	PendingInterest int64
	ProjectedTotal  int64
	PeriodsDue      int
	Progress        float64
	Remaining       int64
}

// Input описывает исходные данные калькулятора.
type Input struct {
	TargetPrice int64
	CreatedAt   time.Time
	Deposits    []model.Deposit
	Postings    []model.InterestPosting
	Settings    model.Settings
	Now         time.Time
	// Frozen отключает прогноз процентов для целей, которые не начисляются.
	Frozen bool
}

// IsEligible сообщает, приносит ли депозит проценты на момент now.
func IsEligible(d model.Deposit, now time.Time) bool {
	return !d.EffectiveAt.After(now.Add(-EligibilityAge))
}

// Total возвращает сумму всех депозитов и всех начислений независимо от возраста.
func Total(deposits []model.Deposit, postings []model.InterestPosting) int64 {
	var sum int64
	for _, d := range deposits {
		sum += d.Amount
	}
	return sum + sumPostings(postings)
}

// Eligible возвращает сумму депозитов старше EligibilityAge и всех начислений.
func Eligible(deposits []model.Deposit, postings []model.InterestPosting, now time.Time) int64 {
	var sum int64
	for _, d := range deposits {
		if IsEligible(d, now) {
			sum += d.Amount
		}
	}
	return sum + sumPostings(postings)
}

func sumPostings(postings []model.InterestPosting) int64 {
	var sum int64
	for _, p := range postings {
		sum += p.Amount
	}
	return sum
}

// LastAccrual возвращает момент последнего начисления или момент создания цели.
func LastAccrual(postings []model.InterestPosting, createdAt time.Time) time.Time {
	last := createdAt
	for _, p := range postings {
		if p.AccruedAt.After(last) {
			last = p.AccruedAt
		}
	}
	return last
}

// PeriodsElapsed возвращает количество полных периодов между since и now.
// Считаются только полные сутки.
func PeriodsElapsed(since, now time.Time, period model.AccrualPeriod) int {
	if !now.After(since) {
		return 0
	}
	days := int(now.Sub(since) / day)
	return days / period.Days()
}

// Interest возвращает проценты за один период, усечённые до целых ISK.
func Interest(balance int64, rate decimal.Decimal) int64 {
	if balance <= 0 || !rate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(balance).Mul(rate).Floor().IntPart()
}

// Step описывает одно периодическое начисление.
type Step struct {
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	At            time.Time
}

// Schedule рассчитывает последовательность начислений за periods периодов, начиная с since.
// Каждый шаг начисляется на баланс после предыдущего шага.
func Schedule(eligible int64, since time.Time, periods int, s model.Settings) []Step {
	if periods <= 0 {
		return nil
	}
	step := time.Duration(s.Period.Days()) * day
	steps := make([]Step, 0, periods)
	current := eligible
	for i := 0; i < periods; i++ {
		amount := Interest(current, s.InterestRate)
		steps = append(steps, Step{
			Amount:        amount,
			BalanceBefore: current,
			BalanceAfter:  current + amount,
			At:            since.Add(step * time.Duration(i+1)),
		})
		current += amount
	}
	return steps
}

// Calculate строит снимок баланса без побочных эффектов.
func Calculate(in Input) Snapshot {
	var deposited int64
	for _, d := range in.Deposits {
		deposited += d.Amount
	}
	interest := sumPostings(in.Postings)

	snap := Snapshot{
		Deposited: deposited,
		Interest:  interest,
		Total:     deposited + interest,
		Eligible:  Eligible(in.Deposits, in.Postings, in.Now),
	}

	if !in.Frozen {
		since := LastAccrual(in.Postings, in.CreatedAt)
		snap.PeriodsDue = PeriodsElapsed(since, in.Now, in.Settings.Period)
		for _, s := range Schedule(snap.Eligible, since, snap.PeriodsDue, in.Settings) {
			snap.PendingInterest += s.Amount
		}
	}
	snap.ProjectedTotal = snap.Total + snap.PendingInterest

	if in.TargetPrice > 0 {
		snap.Progress = float64(snap.ProjectedTotal) * 100 / float64(in.TargetPrice)
		if snap.Progress > 100 {
			snap.Progress = 100
		}
		if remaining := in.TargetPrice - snap.ProjectedTotal; remaining > 0 {
			snap.Remaining = remaining
		}
	}

	return snap
}
