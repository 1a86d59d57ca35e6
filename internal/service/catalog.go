package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price.Round(2),
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

// DeleteProduct refuses while any branch still holds a stock row for the
// product.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return notFoundAs(err, "product", id)
	}
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := currentActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx)
}

// SetStock overwrites the quantity of a product at a branch, creating the
// row on first use.
func (s *Service) SetStock(ctx context.Context, req domain.StockSetRequest) (domain.Stock, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Stock{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Stock{}, err
	}

	row, err := s.repo.SetStock(ctx, req.ProductID, req.BranchID, req.Quantity)
	if err != nil {
		return domain.Stock{}, err
	}
	s.log(ctx).WithFields(logrus.Fields{
		"product_id": req.ProductID,
		"branch_id":  req.BranchID,
		"quantity":   req.Quantity,
	}).Info("stock set")
	return *row, nil
}

// TransferStock moves quantity between two branches. The product total
// across branches is unchanged.
func (s *Service) TransferStock(ctx context.Context, req domain.StockTransferRequest) (domain.StockTransferResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.StockTransferResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.StockTransferResponse{}, err
	}
	if req.FromBranchID == req.ToBranchID {
		return domain.StockTransferResponse{}, fmt.Errorf("%w: source and destination branch must differ", store.ErrInvalidTransfer)
	}
	if req.Quantity <= 0 {
		return domain.StockTransferResponse{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidTransfer)
	}

	resp, err := s.repo.TransferStock(ctx, req.ProductID, req.FromBranchID, req.ToBranchID, req.Quantity)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	s.log(ctx).WithFields(logrus.Fields{
		"product_id": req.ProductID,
		"from":       req.FromBranchID,
		"to":         req.ToBranchID,
		"quantity":   req.Quantity,
	}).Info("stock transferred")
	return *resp, nil
}

func (s *Service) ListStock(ctx context.Context, branchID *int64) ([]domain.Stock, error) {
	if _, err := currentActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListStock(ctx, branchID)
}
