package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

// CreateCustomer registers a customer in the actor's branch. An admin may
// name any branch and must do so when they have none.
func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, err := s.activeActor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Address = strings.TrimSpace(req.Address)
	if err := s.check(req); err != nil {
		return domain.Customer{}, err
	}

	var branchID int64
	if actor.HasBranch() {
		branchID = *actor.BranchID
	}
	if actor.IsAdmin() && req.BranchID != nil && *req.BranchID > 0 {
		branchID = *req.BranchID
	}
	if branchID == 0 {
		return domain.Customer{}, fmt.Errorf("%w: a branch is required for the customer", store.ErrValidation)
	}

	phone, err := s.normalizePhone(req.Phone)
	if err != nil {
		return domain.Customer{}, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:          req.Name,
		Phone:         phone,
		Email:         req.Email,
		Address:       req.Address,
		BranchID:      branchID,
		CreditBalance: decimal.Zero,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, notFoundAs(err, "branch", branchID)
	}
	s.metricsChanged(ctx)
	return *created, nil
}

// normalizePhone formats a phone number as E.164. Numbers without a country
// code are read in the configured default region.
func (s *Service) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := libphonenumber.Parse(raw, s.opts.PhoneRegion)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("%w: invalid phone number %q", store.ErrValidation, raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// ListCustomers searches name, email and phone case-insensitively. Sellers
// only see customers of their own branch.
func (s *Service) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return nil, err
	}

	filter := store.CustomerFilter{Search: strings.TrimSpace(search)}
	if !actor.IsAdmin() {
		if !actor.HasBranch() {
			return []domain.Customer{}, nil
		}
		filter.BranchID = actor.BranchID
	}
	return s.repo.ListCustomers(ctx, filter)
}

func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	actor, err := currentActor(ctx)
	if err != nil {
		return err
	}

	if !actor.IsAdmin() {
		customer, err := s.repo.GetCustomer(ctx, id)
		if err != nil {
			return notFoundAs(err, "customer", id)
		}
		if !actor.HasBranch() || customer.BranchID != *actor.BranchID {
			return ErrForbidden
		}
	}
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return notFoundAs(err, "customer", id)
	}
	s.metricsChanged(ctx)
	return nil
}
