package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryDriverDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.LockTTL)
	assert.Equal(t, 10, cfg.MaxSeatsPerHolder)
	assert.Equal(t, 15*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, 25*time.Second, cfg.StreamHeartbeat)
	assert.Equal(t, 1024, cfg.StreamBuffer)
	assert.Equal(t, 250*time.Millisecond, cfg.StreamReorderHold)
}

func TestLoad_RequiresSecretsAndDatabase(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_NAME", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "DB_USER")
	assert.Contains(t, err.Error(), "DB_NAME")

	t.Setenv("STORE_DRIVER", "postgres")
	_, err = Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOCK_TTL", "2m")
	t.Setenv("MAX_SEATS_PER_HOLDER", "4")
	t.Setenv("DB_AUTO_MIGRATE", "off")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.LockTTL)
	assert.Equal(t, 4, cfg.MaxSeatsPerHolder)
	assert.False(t, cfg.DBAutoMigrate)

	t.Setenv("LOCK_TTL", "0s")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 2*time.Second, cfg.RefillInterval)
	assert.Equal(t, 10*time.Second, cfg.TTL)
}

func TestLoadRedisConfig(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_TLS", "1")

	cfg := LoadRedisConfig()
	assert.Equal(t, "cache:6380", cfg.Addr)
	assert.True(t, cfg.TLS)
	assert.Nil(t, NewRedisClient(RedisConfig{Enabled: false}))
}
