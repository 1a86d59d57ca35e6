// Package installment holds the schedule arithmetic shared by financed sales
// and standalone financing plans.
package installment

import (
	"time"

	"github.com/shopspring/decimal"

	"branchpos/backend/internal/domain"
)

const (
	weeklyStepDays  = 7
	monthlyStepDays = 30
)

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Total       decimal.Decimal
	Installment decimal.Decimal
}

// ComputeTotals returns principal * (1 + rate/100) rounded to cents and the
// per-installment share, truncated to cents. Installment is zero when n < 1.
func ComputeTotals(principal decimal.Decimal, ratePct decimal.Decimal, n int) Totals {
	total := principal.Mul(decimal.NewFromInt(1).Add(ratePct.Div(hundred))).Round(2)
	if n < 1 {
		return Totals{Total: total, Installment: decimal.Zero}
	}
	return Totals{
		Total:       total,
		Installment: share(total, n),
	}
}

// share truncates total/n to cents so n-1 shares never exceed total.
func share(total decimal.Decimal, n int) decimal.Decimal {
	return total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
}

// Split divides total into n amounts of whole cents. Every amount but the
// last is total/n truncated; the last absorbs the residue, so it is never
// smaller than the others and the parts always sum to total.
func Split(total decimal.Decimal, n int) []decimal.Decimal {
	if n < 1 {
		return nil
	}
	each := share(total, n)
	parts := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = each
		allocated = allocated.Add(each)
	}
	parts[n-1] = total.Sub(allocated)
	return parts
}

// DueDates returns n due dates counted from start: every 7 days for weekly
// schedules and every 30 days for monthly ones. The first is one step out.
func DueDates(start time.Time, kind string, n int) []time.Time {
	step := monthlyStepDays
	if kind == domain.PaymentWeekly {
		step = weeklyStepDays
	}
	dates := make([]time.Time, 0, max(n, 0))
	for i := 0; i < n; i++ {
		dates = append(dates, start.AddDate(0, 0, step*(i+1)))
	}
	return dates
}

// ForSale builds the Pending installment rows of a financed sale.
func ForSale(total decimal.Decimal, kind string, n int, createdAt time.Time) []domain.Installment {
	amounts := Split(total, n)
	dates := DueDates(createdAt, kind, n)
	rows := make([]domain.Installment, 0, n)
	for i := range amounts {
		rows = append(rows, domain.Installment{
			DueDate:   dates[i],
			AmountDue: amounts[i],
			Status:    domain.InstallmentPending,
		})
	}
	return rows
}

// ForPlan builds the numbered Pending installment rows of a financing plan.
func ForPlan(total decimal.Decimal, kind string, n int, createdAt time.Time) []domain.FinancialInstallment {
	amounts := Split(total, n)
	dates := DueDates(createdAt, kind, n)
	rows := make([]domain.FinancialInstallment, 0, n)
	for i := range amounts {
		rows = append(rows, domain.FinancialInstallment{
			InstallmentNumber: i + 1,
			DueDate:           dates[i],
			AmountDue:         amounts[i],
			AmountPaid:        decimal.Zero,
			Status:            domain.InstallmentPending,
		})
	}
	return rows
}
