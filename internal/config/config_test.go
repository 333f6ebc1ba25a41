package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("REDIS_ADDR", "")
	cfg := Load()
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, StoragePostgres, cfg.StorageDriver)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 1000, cfg.DefaultBankCalories)
	require.Equal(t, 2*time.Minute, cfg.LockTTL)
	require.False(t, cfg.LockTTLRaised)
	require.Equal(t, 5, cfg.DLQMaxRetries)
	require.Equal(t, 30*time.Second, cfg.DLQPollInterval)
	require.Equal(t, []string{"profile.updated", "workout_preferences.updated"}, cfg.ConsumerTopics)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	require.Empty(t, cfg.RedisAddr)
	require.True(t, cfg.OutboxEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("KAFKA_BROKERS", " k1:9092 , ,k2:9092")
	t.Setenv("ORACLE_TIMEOUT", "15s")
	t.Setenv("OUTBOX_BATCH_SIZE", "not-a-number")
	t.Setenv("DEFAULT_BANK_CALORIES", "1500")
	t.Setenv("USER_TIMEZONE", "Europe/Berlin")

	cfg := Load()
	require.Equal(t, StorageMemory, cfg.StorageDriver)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 15*time.Second, cfg.OracleTimeout)
	require.Equal(t, 25, cfg.OutboxBatchSize, "unparseable values fall back")
	require.Equal(t, 1500, cfg.DefaultBankCalories)
	require.Equal(t, "Europe/Berlin", cfg.UserTimezone)
	require.False(t, cfg.OutboxEnabled())
}

func TestLoadRaisesLockTTLAboveOracleTimeout(t *testing.T) {
	t.Setenv("ORACLE_TIMEOUT", "90s")
	t.Setenv("LOCK_TTL", "30s")

	cfg := Load()
	require.Equal(t, 105*time.Second, cfg.LockTTL)
	require.True(t, cfg.LockTTLRaised)

	t.Setenv("LOCK_TTL", "5m")
	cfg = Load()
	require.Equal(t, 5*time.Minute, cfg.LockTTL)
	require.False(t, cfg.LockTTLRaised)
}
