package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"branchpos/backend/internal/cache"
	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

func TestDefaultPeriod(t *testing.T) {
	cases := []struct {
		name       string
		period     string
		today      time.Time
		start, end string
	}{
		{"weekly midweek", domain.PeriodWeekly, fixedNow, "2024-03-11", "2024-03-17"},
		{"weekly on sunday", domain.PeriodWeekly, time.Date(2024, 3, 17, 23, 0, 0, 0, time.UTC), "2024-03-11", "2024-03-17"},
		{"weekly on monday", domain.PeriodWeekly, time.Date(2024, 3, 11, 0, 30, 0, 0, time.UTC), "2024-03-11", "2024-03-17"},
		{"monthly", domain.PeriodMonthly, fixedNow, "2024-03-01", "2024-03-13"},
		{"monthly first day", domain.PeriodMonthly, time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC), "2024-02-01", "2024-02-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := DefaultPeriod(tc.period, tc.today)
			require.Equal(t, tc.start, start.Format(dateLayout))
			require.Equal(t, tc.end, end.Format(dateLayout))
		})
	}
}

// seedCollections records, for the seed seller, a cash sale, a card sale,
// a weekly financed sale and a financing plan with one paid installment.
func seedCollections(t *testing.T, svc *Service) (context.Context, domain.FinancialPayment) {
	t.Helper()
	ctx := sellerCtx(seedSellerID, seedMainBranchID, "sess-close")

	widget := mustProduct(t, svc, "Widget", "10.00")
	mustStock(t, svc, widget.ID, seedMainBranchID, 50)
	customer := mustCustomer(t, svc, ctx, "Ana")

	for _, method := range []string{domain.PaymentCash, domain.PaymentCard, domain.PaymentWeekly} {
		_, err := svc.AddToCart(ctx, domain.CartAddRequest{ProductID: widget.ID, Quantity: 2})
		require.NoError(t, err)
		req := domain.CheckoutRequest{CustomerID: customer.ID, PaymentMethod: method}
		if method == domain.PaymentWeekly {
			req.NumInstallments = 2
		}
		_, err = svc.Checkout(ctx, req)
		require.NoError(t, err)
	}

	plan, err := svc.CreateFinancingPlan(ctx, domain.FinancingPlanCreateRequest{
		CustomerID:      customer.ID,
		PrincipalAmount: decimal.NewFromInt(100),
		InterestRate:    decimal.Zero,
		InstallmentType: domain.PeriodWeekly,
		NumInstallments: 4,
	})
	require.NoError(t, err)
	plan, err = svc.MarkInstallmentPaid(ctx, plan.Installments[0].ID)
	require.NoError(t, err)
	return ctx, plan
}

func TestFetchCollectibleListsInflows(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, plan := seedCollections(t, svc)

	report, err := svc.FetchCollectible(ctx, domain.CollectibleQuery{PeriodType: domain.PeriodWeekly})
	require.NoError(t, err)
	require.Equal(t, "2024-03-11", report.StartDate)
	require.Equal(t, "2024-03-17", report.EndDate)
	require.Len(t, report.Items, 3)
	require.Equal(t, "65.00", report.Total.StringFixed(2))

	require.Equal(t, domain.SourceFinancialInstallment, report.Items[0].SourceType)
	require.Equal(t, plan.Installments[0].ID, report.Items[0].SourceID)
	require.Equal(t, domain.CollectedCreditPayment, report.Items[0].PaymentType)
	require.Equal(t, domain.CollectedDirectCash, report.Items[1].PaymentType)
	require.Equal(t, domain.CollectedDirectCard, report.Items[2].PaymentType)
	require.Equal(t, "Ana", report.Items[1].CustomerName)

	admin, err := svc.FetchCollectible(adminCtx(), domain.CollectibleQuery{StartDate: "2024-03-13", EndDate: "2024-03-13"})
	require.NoError(t, err)
	require.Len(t, admin.Items, 3)

	before, err := svc.FetchCollectible(ctx, domain.CollectibleQuery{StartDate: "2024-03-01", EndDate: "2024-03-12"})
	require.NoError(t, err)
	require.Empty(t, before.Items)
	require.True(t, before.Total.IsZero())

	stranger := sellerCtx(42, seedMainBranchID, "sess-stranger")
	theirs, err := svc.FetchCollectible(stranger, domain.CollectibleQuery{PeriodType: domain.PeriodMonthly})
	require.NoError(t, err)
	require.Empty(t, theirs.Items)
}

func TestFetchCollectibleRejectsBadDates(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.FetchCollectible(adminCtx(), domain.CollectibleQuery{StartDate: "13/03/2024"})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.FetchCollectible(adminCtx(), domain.CollectibleQuery{StartDate: "2024-03-14", EndDate: "2024-03-13"})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.FetchCollectible(adminCtx(), domain.CollectibleQuery{PeriodType: "daily"})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestClosePeriodRecordsDetails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, _ := seedCollections(t, svc)

	closing, err := svc.ClosePeriod(ctx, domain.CashClosingRequest{PeriodType: domain.PeriodWeekly})
	require.NoError(t, err)
	require.Equal(t, seedSellerID, closing.UserID)
	require.Equal(t, seedMainBranchID, closing.BranchID)
	require.Equal(t, domain.ClosingClosed, closing.Status)
	require.Equal(t, "65.00", closing.TotalCollected.StringFixed(2))
	require.Equal(t, "2024-03-11", closing.StartDate.Format(dateLayout))
	require.Equal(t, "2024-03-17", closing.EndDate.Format(dateLayout))
	require.Len(t, closing.Details, 3)

	sum := decimal.Zero
	for _, detail := range closing.Details {
		require.Equal(t, closing.ID, detail.ClosingID)
		sum = sum.Add(detail.Amount)
	}
	require.True(t, sum.Equal(closing.TotalCollected))

	// Windows are not consumed, so the same period closes again.
	again, err := svc.ClosePeriod(ctx, domain.CashClosingRequest{PeriodType: domain.PeriodWeekly})
	require.NoError(t, err)
	require.NotEqual(t, closing.ID, again.ID)

	history, err := svc.ClosingHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "seller", history[0].Username)

	stranger, err := svc.ClosingHistory(sellerCtx(42, seedMainBranchID, "sess-stranger"))
	require.NoError(t, err)
	require.Empty(t, stranger)

	all, err := svc.ClosingHistory(adminCtx())
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestClosePeriodRequiresCollections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := sellerCtx(seedSellerID, seedMainBranchID, "sess-empty")

	_, err := svc.ClosePeriod(ctx, domain.CashClosingRequest{PeriodType: domain.PeriodMonthly})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.ClosePeriod(ctx, domain.CashClosingRequest{})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.ClosePeriod(adminCtx(), domain.CashClosingRequest{PeriodType: domain.PeriodWeekly})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestClosePeriodConflictsWhileLocked(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, _ := seedCollections(t, svc)

	locker := cache.NewLocalLocker()
	svc.locker = locker
	release, err := locker.Obtain(context.Background(), "cash-closing:user:2", time.Minute)
	require.NoError(t, err)

	_, err = svc.ClosePeriod(ctx, domain.CashClosingRequest{PeriodType: domain.PeriodWeekly})
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, release(context.Background()))
	_, err = svc.ClosePeriod(ctx, domain.CashClosingRequest{PeriodType: domain.PeriodWeekly})
	require.NoError(t, err)
}
