package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("PAYMENT_TIMEOUT", "")
	t.Setenv("PAYMENT_CURRENCY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, "EUR", cfg.PaymentCurrency)
	assert.Equal(t, 2*time.Minute, cfg.StaleOrderAfter)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE", "crdb")
	t.Setenv("CRDB_DSN", "postgresql://root@localhost:26257/ticketing?sslmode=disable")
	t.Setenv("PAYMENT_TIMEOUT", "3s")
	t.Setenv("MIGRATE", "true")
	t.Setenv("COMPENSATION_RETRIES", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.PaymentTimeout)
	assert.True(t, cfg.Migrate)
	assert.Equal(t, 7, cfg.CompensationRetries)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("STORE", "memory")

	t.Run("duration", func(t *testing.T) {
		t.Setenv("PAYMENT_TIMEOUT", "soon")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("store", func(t *testing.T) {
		t.Setenv("STORE", "sqlite")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("missing dsn", func(t *testing.T) {
		t.Setenv("STORE", "crdb")
		t.Setenv("CRDB_DSN", "")
		_, err := Load()
		require.Error(t, err)
	})
}
