package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"branchpos/backend/internal/cache"
	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

const (
	dateLayout       = "2006-01-02"
	closingLockTTL   = 30 * time.Second
	closingLockScope = "cash-closing:user:%d"
)

// DefaultPeriod returns the window used when no dates are given: Monday to
// Sunday of the current week, or the first of the month up to today.
func DefaultPeriod(periodType string, today time.Time) (time.Time, time.Time) {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if periodType == domain.PeriodMonthly {
		return day.AddDate(0, 0, 1-day.Day()), day
	}
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 6)
}

// resolveWindow parses a closing window. The returned end is exclusive: the
// day after endDate.
func (s *Service) resolveWindow(periodType, startDate, endDate string) (time.Time, time.Time, error) {
	defStart, defEnd := DefaultPeriod(periodType, s.now().UTC())
	start, end := defStart, defEnd

	if startDate != "" {
		parsed, err := time.ParseInLocation(dateLayout, startDate, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", store.ErrValidation)
		}
		start = parsed
	}
	if endDate != "" {
		parsed, err := time.ParseInLocation(dateLayout, endDate, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date must be YYYY-MM-DD", store.ErrValidation)
		}
		end = parsed
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date is before start_date", store.ErrValidation)
	}
	return start, end.AddDate(0, 0, 1), nil
}

// FetchCollectible lists the cash and card inflows of a window: paid
// financing installments and direct cash/card sales. Non-admins only see
// their own.
func (s *Service) FetchCollectible(ctx context.Context, q domain.CollectibleQuery) (domain.CollectibleReport, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return domain.CollectibleReport{}, err
	}
	if err := s.check(q); err != nil {
		return domain.CollectibleReport{}, err
	}
	return s.collectible(ctx, actor, q.PeriodType, q.StartDate, q.EndDate)
}

func (s *Service) collectible(ctx context.Context, actor domain.Actor, periodType, startDate, endDate string) (domain.CollectibleReport, error) {
	from, to, err := s.resolveWindow(periodType, startDate, endDate)
	if err != nil {
		return domain.CollectibleReport{}, err
	}

	var userID *int64
	if !actor.IsAdmin() {
		userID = store.Int64Ptr(actor.ID)
	}
	items, err := s.repo.ListCollected(ctx, from, to, userID)
	if err != nil {
		return domain.CollectibleReport{}, err
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return domain.CollectibleReport{
		PeriodType: periodType,
		StartDate:  from.Format(dateLayout),
		EndDate:    to.AddDate(0, 0, -1).Format(dateLayout),
		Items:      items,
		Total:      total,
	}, nil
}

// ClosePeriod records a cash closing over the collectible set of a window,
// with one detail row per collected item. Collected rows are not marked, so
// an overlapping window can be closed again.
func (s *Service) ClosePeriod(ctx context.Context, req domain.CashClosingRequest) (domain.CashClosing, error) {
	actor, err := s.activeActor(ctx)
	if err != nil {
		return domain.CashClosing{}, err
	}
	if err := s.check(req); err != nil {
		return domain.CashClosing{}, err
	}

	var branchID int64
	switch {
	case actor.HasBranch():
		branchID = *actor.BranchID
	case actor.IsAdmin() && req.BranchID != nil && *req.BranchID > 0:
		branchID = *req.BranchID
	default:
		return domain.CashClosing{}, fmt.Errorf("%w: a branch is required to close a period", store.ErrValidation)
	}

	release, err := s.locker.Obtain(ctx, fmt.Sprintf(closingLockScope, actor.ID), closingLockTTL)
	if errors.Is(err, cache.ErrLocked) {
		return domain.CashClosing{}, fmt.Errorf("%w: a closing is already in progress", store.ErrConflict)
	}
	if err != nil {
		return domain.CashClosing{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log(ctx).WithError(err).Warn("failed to release closing lock")
		}
	}()

	report, err := s.collectible(ctx, actor, req.PeriodType, req.StartDate, req.EndDate)
	if err != nil {
		return domain.CashClosing{}, err
	}
	if len(report.Items) == 0 {
		return domain.CashClosing{}, fmt.Errorf("%w: no collected payments in the selected period", store.ErrValidation)
	}

	start, _ := time.ParseInLocation(dateLayout, report.StartDate, time.UTC)
	end, _ := time.ParseInLocation(dateLayout, report.EndDate, time.UTC)
	details := make([]domain.CashClosingDetail, 0, len(report.Items))
	for _, item := range report.Items {
		details = append(details, domain.CashClosingDetail{
			PaymentType: item.PaymentType,
			PaymentID:   item.SourceID,
			Amount:      item.Amount,
		})
	}

	created, err := s.repo.CreateCashClosing(ctx, domain.CashClosing{
		UserID:         actor.ID,
		BranchID:       branchID,
		PeriodType:     req.PeriodType,
		StartDate:      start,
		EndDate:        end,
		TotalCollected: report.Total,
		Status:         domain.ClosingClosed,
		CreatedAt:      s.now().UTC(),
		Details:        details,
	})
	if err != nil {
		return domain.CashClosing{}, err
	}
	s.log(ctx).WithFields(logrus.Fields{
		"closing_id": created.ID,
		"total":      created.TotalCollected.StringFixed(2),
		"items":      len(details),
	}).Info("cash closing recorded")
	return *created, nil
}

// ClosingHistory returns closings newest first; non-admins see their own.
func (s *Service) ClosingHistory(ctx context.Context) ([]domain.CashClosing, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCashClosings(ctx, actorScope(actor))
}
