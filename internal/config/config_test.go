package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT", "DATABASE_URL", "LOG_LEVEL", "LOG_FORMAT",
	"DEFAULT_LABOR_PERCENTAGE", "DEFAULT_PROFIT_PERCENTAGE", "DEFAULT_TAX_PERCENTAGE",
	"KAFKA_BROKERS", "KAFKA_INVOICE_TOPIC", "OUTBOX_POLL_INTERVAL", "MEMORY_CUSTOMERS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFile_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "memory")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.UseMemoryStore())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.DefaultTaxPercentage.IsZero())
	assert.False(t, cfg.KafkaEnabled())
	assert.Equal(t, "invoice-events", cfg.KafkaInvoiceTopic)
	assert.Equal(t, 5*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, []int64{1}, cfg.MemoryCustomers)
}

func TestLoadFile_MemoryCustomers(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("MEMORY_CUSTOMERS", "7, 12,")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 12}, cfg.MemoryCustomers)
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "DATABASE_URL=postgres://file/db\nPORT=9000\nDEFAULT_TAX_PERCENTAGE=9\nKAFKA_BROKERS=k1:9092, k2:9092\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))
	t.Setenv("PORT", "9100")

	cfg, err := LoadFile(envPath)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "postgres://file/db", cfg.DatabaseURL)
	assert.False(t, cfg.UseMemoryStore())
	assert.Equal(t, "9", cfg.DefaultTaxPercentage.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoadFile_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                     "abc",
		"LOG_FORMAT":               "xml",
		"DEFAULT_LABOR_PERCENTAGE": "-5",
		"OUTBOX_POLL_INTERVAL":     "soon",
		"MEMORY_CUSTOMERS":         "1,-2",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DATABASE_URL", "memory")
			t.Setenv(key, value)

			_, err := LoadFile(filepath.Join(t.TempDir(), ".env"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadFile_RequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), ".env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
