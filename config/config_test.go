package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Second, cfg.Business.LockTTL)
	assert.Equal(t, 15*time.Minute, cfg.Business.CancellationDelay)
	assert.Equal(t, time.Second, cfg.Business.CancellationPollInterval)
	assert.Equal(t, 3, cfg.Business.SalesRetryMaxAttempts)
	assert.Equal(t, time.Second, cfg.Business.SalesRetryBaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Business.PaymentGatewayTimeout)
	assert.Equal(t, time.UTC, cfg.Business.SalesTimezone)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "Memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOCK_TTL_MS", "250")
	t.Setenv("CANCELLATION_DELAY", "30s")
	t.Setenv("SALES_TIMEZONE", "Asia/Seoul")
	t.Setenv("PAYMENT_GATEWAY_URL", "https://pay.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Business.LockTTL)
	assert.Equal(t, 30*time.Second, cfg.Business.CancellationDelay)
	assert.Equal(t, "Asia/Seoul", cfg.Business.SalesTimezone.String())
	assert.Equal(t, "https://pay.example.com", cfg.Business.PaymentGatewayURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"DATABASE_DRIVER":          "mysql",
		"LOCK_TTL_MS":              "0",
		"SALES_RETRY_MAX_ATTEMPTS": "0",
		"SALES_TIMEZONE":           "Mars/Olympus",
		"KAFKA_BROKERS":            " , ",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}
