package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/installment"
	"branchpos/backend/internal/store"
)

// CreateFinancingPlan issues a standalone credit plan to a customer and
// schedules its installments.
func (s *Service) CreateFinancingPlan(ctx context.Context, req domain.FinancingPlanCreateRequest) (domain.FinancialPayment, error) {
	actor, err := s.activeActor(ctx)
	if err != nil {
		return domain.FinancialPayment{}, err
	}
	if !actor.HasBranch() {
		return domain.FinancialPayment{}, fmt.Errorf("%w: your account has no assigned branch", store.ErrValidation)
	}
	if err := s.check(req); err != nil {
		return domain.FinancialPayment{}, err
	}

	// Every installment must be at least one cent.
	totals := installment.ComputeTotals(req.PrincipalAmount, req.InterestRate, req.NumInstallments)
	if totals.Installment.IsZero() {
		return domain.FinancialPayment{}, fmt.Errorf("%w: total %s is too small for %d installments", store.ErrValidation, totals.Total.StringFixed(2), req.NumInstallments)
	}
	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return domain.FinancialPayment{}, notFoundAs(err, "customer", req.CustomerID)
	}

	now := s.now().UTC()
	created, err := s.repo.CreateFinancialPayment(ctx, domain.FinancialPayment{
		CustomerID:        req.CustomerID,
		UserID:            actor.ID,
		BranchID:          *actor.BranchID,
		PrincipalAmount:   req.PrincipalAmount,
		InterestRate:      req.InterestRate,
		TotalAmount:       totals.Total,
		InstallmentType:   req.InstallmentType,
		NumInstallments:   req.NumInstallments,
		InstallmentAmount: totals.Installment,
		Status:            domain.PlanActive,
		CreatedAt:         now,
		Installments:      installment.ForPlan(totals.Total, req.InstallmentType, req.NumInstallments, now),
	})
	if err != nil {
		return domain.FinancialPayment{}, err
	}
	s.log(ctx).WithFields(logrus.Fields{
		"plan_id": created.ID,
		"total":   created.TotalAmount.StringFixed(2),
	}).Info("financing plan created")
	return *created, nil
}

// MarkInstallmentPaid settles one plan installment in full and returns the
// parent plan, Completed once every installment is paid.
func (s *Service) MarkInstallmentPaid(ctx context.Context, installmentID int64) (domain.FinancialPayment, error) {
	if _, err := s.activeActor(ctx); err != nil {
		return domain.FinancialPayment{}, err
	}
	_, plan, err := s.repo.PayFinancialInstallment(ctx, installmentID, s.now().UTC())
	if err != nil {
		return domain.FinancialPayment{}, notFoundAs(err, "installment", installmentID)
	}
	if plan.Status == domain.PlanCompleted {
		s.log(ctx).WithField("plan_id", plan.ID).Info("financing plan completed")
	}
	return *plan, nil
}

func (s *Service) ListFinancingPlans(ctx context.Context) ([]domain.FinancialPayment, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFinancialPayments(ctx, actorScope(actor))
}
