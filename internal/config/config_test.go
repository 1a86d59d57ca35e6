package config

import (
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// unsetEnv removes keys for the duration of the test. envconfig treats a
// variable set to "" as present, so defaults only apply to unset keys.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	unsetEnv(t, "AUTH_SECRET")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.AuthSecret)
}

func TestLoadAppliesDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "ACCESS_TOKEN_TTL", "DASHBOARD_CACHE_TTL", "PHONE_REGION")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Address())
	require.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, 15*time.Second, cfg.DashboardCacheTTL)
	require.Equal(t, "US", cfg.PhoneRegion)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PHONE_REGION", "id")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Address())
	require.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 3, cfg.RedisDB)
	require.Equal(t, "ID", cfg.PhoneRegion)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("DASHBOARD_CACHE_TTL", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := NewLogger(Config{LogLevel: "chatty", LogFormat: "text"})
	require.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger = NewLogger(Config{LogLevel: "debug"})
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}
