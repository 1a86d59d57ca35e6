package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

// LoadDashboard returns revenue, sale count, customer count and pending
// sale installments. Admins get global numbers; sellers get their own sales
// and their branch's customers.
func (s *Service) LoadDashboard(ctx context.Context) (domain.DashboardMetrics, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}

	key := "global"
	if !actor.IsAdmin() {
		key = fmt.Sprintf("user:%d", actor.ID)
	}

	if cached, found, err := s.metrics.GetMetrics(ctx, key); err != nil {
		s.log(ctx).WithError(err).Warn("dashboard cache read failed")
	} else if found {
		return *cached, nil
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		metrics, err := s.computeDashboard(ctx, actor, key)
		if err != nil {
			return nil, err
		}
		if s.opts.MetricsTTL > 0 {
			if err := s.metrics.SetMetrics(ctx, key, &metrics, s.opts.MetricsTTL); err != nil {
				s.log(ctx).WithError(err).Warn("dashboard cache write failed")
			}
		}
		return metrics, nil
	})
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	return v.(domain.DashboardMetrics), nil
}

// metricsChanged drops cached dashboards after a write that moves revenue,
// sale or customer counts. Failures only leave numbers stale until the TTL.
func (s *Service) metricsChanged(ctx context.Context) {
	if err := s.metrics.InvalidateMetrics(ctx); err != nil {
		s.log(ctx).WithError(err).Warn("dashboard cache invalidation failed")
	}
}

func (s *Service) computeDashboard(ctx context.Context, actor domain.Actor, key string) (domain.DashboardMetrics, error) {
	metrics := domain.DashboardMetrics{Scope: key}
	salesScope := actorScope(actor)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		revenue, count, err := s.repo.SalesSummary(gctx, salesScope)
		if err != nil {
			return err
		}
		metrics.TotalRevenue = revenue.Round(2)
		metrics.TotalSales = count
		return nil
	})
	g.Go(func() error {
		customerScope := store.Scope{}
		if !actor.IsAdmin() {
			if !actor.HasBranch() {
				return nil
			}
			customerScope.BranchID = actor.BranchID
		}
		count, err := s.repo.CountCustomers(gctx, customerScope)
		if err != nil {
			return err
		}
		metrics.TotalCustomers = count
		return nil
	})
	g.Go(func() error {
		count, err := s.repo.CountPendingInstallments(gctx, salesScope)
		if err != nil {
			return err
		}
		metrics.PendingInstallments = count
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.DashboardMetrics{}, err
	}
	return metrics, nil
}
