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
	"branchpos/backend/internal/installment"
	"branchpos/backend/internal/store"
)

const (
	cartLockTTL   = 15 * time.Second
	cartLockRetry = 20 * time.Millisecond
	cartLockWait  = 5 * time.Second
)

// withCartLock runs fn while holding the session's cart lease so concurrent
// requests on one session apply their cart changes one after another.
func (s *Service) withCartLock(ctx context.Context, sessionID string, fn func() error) error {
	key := "cart:" + sessionID
	deadline := time.Now().Add(cartLockWait)
	for {
		release, err := s.locker.Obtain(ctx, key, cartLockTTL)
		if err == nil {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.log(ctx).WithError(err).Warn("failed to release cart lock")
				}
			}()
			return fn()
		}
		if !errors.Is(err, cache.ErrLocked) {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: cart is busy, try again", store.ErrConflict)
		}

		timer := time.NewTimer(cartLockRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) sessionActor(ctx context.Context) (domain.Actor, error) {
	actor, err := s.activeActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.SessionID == "" {
		return domain.Actor{}, ErrUnauthorized
	}
	return actor, nil
}

func (s *Service) ViewCart(ctx context.Context) (domain.Cart, error) {
	actor, err := s.sessionActor(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.sessions.LoadCart(ctx, actor.SessionID)
	if err != nil {
		return domain.Cart{}, err
	}
	return withTotal(cart), nil
}

// AddToCart adds quantity of a product to the session cart. A product
// already in the cart keeps the price captured when it was first added.
func (s *Service) AddToCart(ctx context.Context, req domain.CartAddRequest) (domain.Cart, error) {
	actor, err := s.sessionActor(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if err := s.check(req); err != nil {
		return domain.Cart{}, err
	}
	if req.Quantity < 1 {
		return domain.Cart{}, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
	}

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.Cart{}, notFoundAs(err, "product", req.ProductID)
	}
	var cart domain.Cart
	err = s.withCartLock(ctx, actor.SessionID, func() error {
		cart, err = s.sessions.LoadCart(ctx, actor.SessionID)
		if err != nil {
			return err
		}
		cart = addLine(cart, product, req.Quantity)
		return s.sessions.SaveCart(ctx, actor.SessionID, cart, s.opts.SessionTTL)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// addLine merges quantity of product into cart and recomputes the total.
func addLine(cart domain.Cart, product *domain.Product, quantity int) domain.Cart {
	found := false
	for i := range cart.Lines {
		line := &cart.Lines[i]
		if line.ProductID != product.ID {
			continue
		}
		line.Quantity += quantity
		line.Subtotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		found = true
		break
	}
	if !found {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    quantity,
			UnitPrice:   product.Price,
			Subtotal:    product.Price.Mul(decimal.NewFromInt(int64(quantity))),
		})
	}
	return withTotal(cart)
}

// RemoveFromCart drops the whole line for productID.
func (s *Service) RemoveFromCart(ctx context.Context, productID int64) (domain.Cart, error) {
	actor, err := s.sessionActor(ctx)
	if err != nil {
		return domain.Cart{}, err
	}

	var cart domain.Cart
	err = s.withCartLock(ctx, actor.SessionID, func() error {
		cart, err = s.sessions.LoadCart(ctx, actor.SessionID)
		if err != nil {
			return err
		}

		kept := cart.Lines[:0]
		removed := false
		for _, line := range cart.Lines {
			if line.ProductID == productID {
				removed = true
				continue
			}
			kept = append(kept, line)
		}
		if !removed {
			return fmt.Errorf("%w: product %d is not in the cart", store.ErrNotFound, productID)
		}
		cart.Lines = kept

		cart = withTotal(cart)
		return s.sessions.SaveCart(ctx, actor.SessionID, cart, s.opts.SessionTTL)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (s *Service) ClearCart(ctx context.Context) error {
	actor, err := s.sessionActor(ctx)
	if err != nil {
		return err
	}
	return s.withCartLock(ctx, actor.SessionID, func() error {
		return s.sessions.DeleteCart(ctx, actor.SessionID)
	})
}

// Checkout turns the session cart into a sale at the actor's branch. Stock
// is verified and decremented by the store in the same unit of work, so a
// shortfall on any line leaves nothing written.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Sale, error) {
	actor, err := s.sessionActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if !actor.HasBranch() {
		return domain.Sale{}, fmt.Errorf("%w: your account has no assigned branch", store.ErrValidation)
	}
	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}

	var created *domain.Sale
	err = s.withCartLock(ctx, actor.SessionID, func() error {
		created, err = s.checkoutCart(ctx, actor, req)
		return err
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.metricsChanged(ctx)
	s.log(ctx).WithFields(logrus.Fields{
		"sale_id": created.ID,
		"total":   created.TotalAmount.StringFixed(2),
		"method":  created.PaymentMethod,
	}).Info("sale recorded")
	return *created, nil
}

// checkoutCart builds the sale from the session cart and records it. The
// caller holds the cart lock.
func (s *Service) checkoutCart(ctx context.Context, actor domain.Actor, req domain.CheckoutRequest) (*domain.Sale, error) {
	cart, err := s.sessions.LoadCart(ctx, actor.SessionID)
	if err != nil {
		return nil, err
	}
	if len(cart.Lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	if req.CustomerID <= 0 {
		return nil, fmt.Errorf("%w: a customer must be selected", store.ErrValidation)
	}
	financed := domain.IsInstallmentMethod(req.PaymentMethod)
	if financed && req.NumInstallments < 1 {
		return nil, fmt.Errorf("%w: num_installments must be positive for %s payments", store.ErrValidation, req.PaymentMethod)
	}
	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, notFoundAs(err, "customer", req.CustomerID)
	}

	now := s.now().UTC()
	sale := domain.Sale{
		CustomerID:    req.CustomerID,
		UserID:        actor.ID,
		BranchID:      *actor.BranchID,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.SaleStatusPaid,
		CreatedAt:     now,
		Details:       make([]domain.SaleDetail, 0, len(cart.Lines)),
	}
	total := decimal.Zero
	for _, line := range cart.Lines {
		subtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		total = total.Add(subtotal)
		sale.Details = append(sale.Details, domain.SaleDetail{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    subtotal,
		})
	}
	sale.TotalAmount = total
	if financed && installment.ComputeTotals(total, decimal.Zero, req.NumInstallments).Installment.IsZero() {
		return nil, fmt.Errorf("%w: total %s is too small for %d installments", store.ErrValidation, total.StringFixed(2), req.NumInstallments)
	}
	if financed {
		sale.Status = domain.SaleStatusPending
		sale.Installments = installment.ForSale(total, req.PaymentMethod, req.NumInstallments, now)
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.DeleteCart(ctx, actor.SessionID); err != nil {
		s.log(ctx).WithError(err).Warn("failed to clear cart after checkout")
	}
	return created, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, actorScope(actor))
}

// PaySaleInstallment marks one installment of a financed sale as paid. The
// sale becomes Paid once none of its installments are pending.
func (s *Service) PaySaleInstallment(ctx context.Context, installmentID int64) (domain.Sale, error) {
	if _, err := s.activeActor(ctx); err != nil {
		return domain.Sale{}, err
	}
	_, sale, err := s.repo.PaySaleInstallment(ctx, installmentID, s.now().UTC())
	if err != nil {
		return domain.Sale{}, notFoundAs(err, "installment", installmentID)
	}
	s.metricsChanged(ctx)
	return *sale, nil
}

func withTotal(cart domain.Cart) domain.Cart {
	total := decimal.Zero
	for _, line := range cart.Lines {
		total = total.Add(line.Subtotal)
	}
	cart.Total = total
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	return cart
}
