package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// MemoryDatabase as DATABASE_URL selects the in-process store.
const MemoryDatabase = "memory"

type Config struct {
	Port        int
	DatabaseURL string

	// MemoryCustomers are registered when the in-memory store is used, since
	// customers are managed outside this service.
	MemoryCustomers []int64

	LogLevel  string
	LogFormat string

	DefaultLaborPercentage  decimal.Decimal
	DefaultProfitPercentage decimal.Decimal
	DefaultTaxPercentage    decimal.Decimal

	KafkaBrokers       []string
	KafkaInvoiceTopic  string
	OutboxPollInterval time.Duration
}

func (c Config) UseMemoryStore() bool {
	return strings.EqualFold(c.DatabaseURL, MemoryDatabase)
}

func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads .env from the working directory when present. Process
// environment wins over the file.
func Load() (Config, error) {
	return LoadFile(filepath.Join(".", ".env"))
}

func LoadFile(envPath string) (Config, error) {
	values := map[string]string{}
	if _, err := os.Stat(envPath); err == nil {
		fileValues, err := godotenv.Read(envPath)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", envPath, err)
		}
		values = fileValues
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("stat %s: %w", envPath, err)
	}
	lookup := func(key string) string {
		return firstNonEmpty(os.Getenv(key), values[key])
	}

	cfg := Config{
		Port:               8080,
		LogLevel:           "info",
		LogFormat:          "json",
		KafkaInvoiceTopic:  "invoice-events",
		OutboxPollInterval: 5 * time.Second,
		MemoryCustomers:    []int64{1},
	}

	if portRaw := lookup("PORT"); portRaw != "" {
		port, err := strconv.Atoi(portRaw)
		if err != nil || port <= 0 {
			return Config{}, fmt.Errorf("invalid PORT: %q", portRaw)
		}
		cfg.Port = port
	}

	cfg.DatabaseURL = lookup("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required (environment variable or .env)")
	}

	if raw := lookup("MEMORY_CUSTOMERS"); raw != "" {
		cfg.MemoryCustomers = nil
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return Config{}, fmt.Errorf("invalid MEMORY_CUSTOMERS: %q", raw)
			}
			cfg.MemoryCustomers = append(cfg.MemoryCustomers, id)
		}
	}

	if level := lookup("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := lookup("LOG_FORMAT"); format != "" {
		format = strings.ToLower(format)
		if format != "json" && format != "text" {
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: %q", format)
		}
		cfg.LogFormat = format
	}

	var err error
	if cfg.DefaultLaborPercentage, err = percentage(lookup, "DEFAULT_LABOR_PERCENTAGE"); err != nil {
		return Config{}, err
	}
	if cfg.DefaultProfitPercentage, err = percentage(lookup, "DEFAULT_PROFIT_PERCENTAGE"); err != nil {
		return Config{}, err
	}
	if cfg.DefaultTaxPercentage, err = percentage(lookup, "DEFAULT_TAX_PERCENTAGE"); err != nil {
		return Config{}, err
	}

	if brokers := lookup("KAFKA_BROKERS"); brokers != "" {
		for _, broker := range strings.Split(brokers, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	if topic := lookup("KAFKA_INVOICE_TOPIC"); topic != "" {
		cfg.KafkaInvoiceTopic = topic
	}
	if raw := lookup("OUTBOX_POLL_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			return Config{}, fmt.Errorf("invalid OUTBOX_POLL_INTERVAL: %q", raw)
		}
		cfg.OutboxPollInterval = interval
	}

	return cfg, nil
}

func percentage(lookup func(string) string, key string) (decimal.Decimal, error) {
	raw := lookup(key)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil || value.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return value, nil
}

func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if value := strings.TrimSpace(candidate); value != "" {
			return value
		}
	}
	return ""
}
