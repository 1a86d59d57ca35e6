package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"branchpos/backend/internal/cache"
	"branchpos/backend/internal/config"
	"branchpos/backend/internal/httpapi"
	"branchpos/backend/internal/service"
	"branchpos/backend/internal/store"
	"branchpos/backend/internal/store/memory"
	pgstore "branchpos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger := config.NewLogger(cfg)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("repository unavailable")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var (
		sessions cache.SessionStore = cache.NewMemorySessionStore()
		metrics  cache.MetricsCache = cache.NoopMetricsCache{}
		locker   cache.Locker       = cache.NewLocalLocker()
	)
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using in-process sessions and locks")
			_ = redisCache.Close()
		} else {
			sessions, metrics, locker = redisCache, redisCache, redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: in-process")
	}

	svc := service.New(repo, sessions, metrics, locker, logger, service.Options{
		SessionTTL:  cfg.AccessTokenTTL,
		MetricsTTL:  cfg.DashboardCacheTTL,
		PhoneRegion: cfg.PhoneRegion,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, svc)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		LoginRateLimit: cfg.LoginRateLimit,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("branch POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

// openRepository connects to Postgres when DATABASE_URL is set and falls back
// to the seeded in-memory store otherwise. A configured but unreachable
// database is fatal.
func openRepository(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("postgres migrate: %w", err)
	}

	if cfg.SeedAdminPassword != "" {
		hash, err := service.HashPassword(cfg.SeedAdminPassword)
		if err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		created, err := pg.Bootstrap(ctx, "admin", hash)
		if err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres bootstrap: %w", err)
		}
		if created {
			logger.Info("bootstrapped Main branch and admin account")
		}
	}

	logger.Info("repository: postgres")
	return pg, pg.Close, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.SeedAdminPassword != "" && len(cfg.SeedAdminPassword) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}
