package cache

import (
	"context"
	"errors"
	"time"

	"branchpos/backend/internal/domain"
)

var ErrLocked = errors.New("resource is locked")

// MetricsCache holds computed dashboard numbers. InvalidateMetrics drops
// every cached key after a write that changes them.
type MetricsCache interface {
	GetMetrics(ctx context.Context, key string) (*domain.DashboardMetrics, bool, error)
	SetMetrics(ctx context.Context, key string, value *domain.DashboardMetrics, ttl time.Duration) error
	InvalidateMetrics(ctx context.Context) error
}

// SessionStore keeps per-session state: the in-flight cart and the
// revocation marker written on logout.
type SessionStore interface {
	LoadCart(ctx context.Context, sessionID string) (domain.Cart, error)
	SaveCart(ctx context.Context, sessionID string, cart domain.Cart, ttl time.Duration) error
	DeleteCart(ctx context.Context, sessionID string) error
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Locker hands out short exclusive leases. Obtain returns ErrLocked when the
// key is already held.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type NoopMetricsCache struct{}

func (NoopMetricsCache) GetMetrics(_ context.Context, _ string) (*domain.DashboardMetrics, bool, error) {
	return nil, false, nil
}

func (NoopMetricsCache) SetMetrics(_ context.Context, _ string, _ *domain.DashboardMetrics, _ time.Duration) error {
	return nil
}

func (NoopMetricsCache) InvalidateMetrics(_ context.Context) error {
	return nil
}
