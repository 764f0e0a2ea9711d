package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8098", cfg.HTTPPort)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 3*time.Second, cfg.Queue.StoreTimeout)
	assert.Equal(t, 5, cfg.Queue.ClaimAttempts)
	assert.Equal(t, 3, cfg.Queue.IssueAttempts)
	assert.Equal(t, "queue.events", cfg.KafkaTopicQueue)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "queue_service", cfg.DB.Database)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("APP_TIMEZONE", "Asia/Jakarta")
	t.Setenv("QUEUE_STORE_TIMEOUT", "750ms")
	t.Setenv("QUEUE_CLAIM_ATTEMPTS", "8")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DB_PASSWORD", "p@ss word")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.Queue.StoreTimeout)
	assert.Equal(t, 8, cfg.Queue.ClaimAttempts)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Contains(t, cfg.DatabaseURL(), "postgres:p%40ss+word@")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())
	assert.NoError(t, cfg.Validate())

	t.Setenv("APP_PORT", "9100")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.HTTPPort)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUEUE_STORE_TIMEOUT", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "QUEUE_STORE_TIMEOUT")

	t.Setenv("QUEUE_STORE_TIMEOUT", "")
	t.Setenv("QUEUE_ISSUE_ATTEMPTS", "three")
	_, err = Load()
	assert.ErrorContains(t, err, "QUEUE_ISSUE_ATTEMPTS")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	cfg.StoreDriver = "sqlite"
	assert.ErrorContains(t, cfg.Validate(), "STORE_DRIVER")

	cfg.StoreDriver = StoreDriverMemory
	cfg.AppEnv = "production"
	assert.Error(t, cfg.Validate())

	cfg.AppEnv = "development"
	cfg.Timezone = "Mars/Olympus"
	assert.ErrorContains(t, cfg.Validate(), "APP_TIMEZONE")

	cfg.Timezone = "UTC"
	cfg.Queue.ClaimAttempts = 0
	assert.Error(t, cfg.Validate())
}
