package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"

	"branchpos/backend/internal/domain"
)

const (
	metricsPrefix = "branchpos:dashboard:"
	sessionPrefix = "branchpos:session:"
	lockPrefix    = "branchpos:lock:"
)

// Redis backs MetricsCache, SessionStore and Locker with one client.
type Redis struct {
	client *redis.Client
	locker *redislock.Client
}

func NewRedis(addr string, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Redis{client: client, locker: redislock.New(client)}
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) GetMetrics(ctx context.Context, key string) (*domain.DashboardMetrics, bool, error) {
	var metrics domain.DashboardMetrics
	found, err := c.getJSON(ctx, metricsPrefix+key, &metrics)
	if err != nil || !found {
		return nil, false, err
	}
	return &metrics, true, nil
}

func (c *Redis) SetMetrics(ctx context.Context, key string, value *domain.DashboardMetrics, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	return c.setJSON(ctx, metricsPrefix+key, value, ttl)
}

// InvalidateMetrics deletes every dashboard key found by SCAN.
func (c *Redis) InvalidateMetrics(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, metricsPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Redis) LoadCart(ctx context.Context, sessionID string) (domain.Cart, error) {
	var cart domain.Cart
	if _, err := c.getJSON(ctx, cartKey(sessionID), &cart); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (c *Redis) SaveCart(ctx context.Context, sessionID string, cart domain.Cart, ttl time.Duration) error {
	return c.setJSON(ctx, cartKey(sessionID), cart, ttl)
}

func (c *Redis) DeleteCart(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, cartKey(sessionID)).Err()
}

func (c *Redis) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, revokedKey(sessionID), "1", ttl)
	pipe.Del(ctx, cartKey(sessionID))
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Redis) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := c.locker.Obtain(ctx, lockPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

func (c *Redis) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Redis) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func cartKey(sessionID string) string {
	return sessionPrefix + sessionID + ":cart"
}

func revokedKey(sessionID string) string {
	return sessionPrefix + sessionID + ":revoked"
}
