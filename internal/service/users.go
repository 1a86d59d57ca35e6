package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.User{}, err
	}

	req.Username = strings.TrimSpace(req.Username)
	if err := s.check(req); err != nil {
		return domain.User{}, err
	}
	if strings.ContainsAny(req.Username, " \t\r\n") {
		return domain.User{}, fmt.Errorf("%w: username must not contain spaces", store.ErrValidation)
	}
	if req.Role == domain.RoleSeller && (req.BranchID == nil || *req.BranchID <= 0) {
		return domain.User{}, fmt.Errorf("%w: sellers must be assigned to a branch", store.ErrValidation)
	}
	if req.BranchID != nil {
		if _, err := s.repo.GetBranch(ctx, *req.BranchID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.User{}, fmt.Errorf("%w: branch %d does not exist", store.ErrValidation, *req.BranchID)
			}
			return domain.User{}, err
		}
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.repo.CreateUser(ctx, domain.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
		BranchID:     req.BranchID,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return domain.User{}, err
	}
	s.log(ctx).WithField("user_id", created.ID).Info("user created")
	return *created, nil
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	if id == actor.ID {
		return fmt.Errorf("%w: you cannot delete your own account", store.ErrValidation)
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return notFoundAs(err, "user", id)
	}
	s.log(ctx).WithField("user_id", id).Info("user deleted")
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Branch{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Location = strings.TrimSpace(req.Location)
	if err := s.check(req); err != nil {
		return domain.Branch{}, err
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		Name:      req.Name,
		Location:  req.Location,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Branch{}, err
	}
	return *created, nil
}

func (s *Service) DeleteBranch(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteBranch(ctx, id); err != nil {
		return notFoundAs(err, "branch", id)
	}
	return nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	if _, err := currentActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListBranches(ctx)
}
