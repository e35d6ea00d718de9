package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/certificate-issuance-worker/tools/timeparser"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	LogLevel    string
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Redis       RedisConfig
	Sync        SyncConfig
	Measurement MeasurementConfig
	Registry    RegistryConfig
	Wallet      WalletConfig
	Retry       RetryConfig
	Outbox      OutboxConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL           string
	Exchange      string
	QueuePrefix   string
	PrefetchCount int
	Workers       int
}

// RedisConfig enables distributed meter locks when URL is set
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

// SyncConfig holds measurement synchronization settings
type SyncConfig struct {
	Enabled     bool
	Schedule    string
	Workers     int
	RunBudget   time.Duration
	MinimumAge  time.Duration
	AgeBoundary timeparser.AgeBoundary
}

// MeasurementConfig points at the measurement source
type MeasurementConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RegistryConfig holds registry RPC and issuer settings
type RegistryConfig struct {
	BaseURL    string
	Name       string
	Timeout    time.Duration
	IssuerKeys map[string]string
}

// WalletConfig holds wallet deposit settings
type WalletConfig struct {
	Timeout time.Duration
}

// RetryConfig holds both retry policies
type RetryConfig struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	Increment          time.Duration
	MaxInterval        time.Duration
	PendingInterval    time.Duration
	PendingMaxAttempts int
}

// OutboxConfig holds relay settings
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	ageBoundary, err := timeparser.ParseAgeBoundary(getEnv("SYNC_AGE_BOUNDARY", string(timeparser.AgeBoundaryInclusive)))
	if err != nil {
		return nil, fmt.Errorf("SYNC_AGE_BOUNDARY: %w", err)
	}

	issuerKeys, err := getEnvAsMap("REGISTRY_ISSUER_KEYS")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "certificate-issuance-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvAsInt("DATABASE_MAX_CONNS", 10)),
		},
		RabbitMQ: RabbitMQConfig{
			URL:           getEnv("RABBITMQ_URL", ""),
			Exchange:      getEnv("RABBITMQ_EXCHANGE", "certificates.events.exchange"),
			QueuePrefix:   getEnv("RABBITMQ_QUEUE_PREFIX", "certificates"),
			PrefetchCount: getEnvAsInt("RABBITMQ_PREFETCH", 10),
			Workers:       getEnvAsInt("RABBITMQ_WORKERS", 4),
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			LockTTL: getEnvAsDuration("REDIS_LOCK_TTL", 10*time.Minute),
		},
		Sync: SyncConfig{
			Enabled:     getEnvAsBool("SYNC_ENABLED", true),
			Schedule:    getEnv("SYNC_SCHEDULE", "@every 5m"),
			Workers:     getEnvAsInt("SYNC_WORKERS", 8),
			RunBudget:   getEnvAsDuration("SYNC_RUN_BUDGET", 4*time.Minute),
			MinimumAge:  getEnvAsDuration("SYNC_MINIMUM_AGE_BEFORE_ISSUING", time.Hour),
			AgeBoundary: ageBoundary,
		},
		Measurement: MeasurementConfig{
			BaseURL: getEnv("MEASUREMENTS_BASE_URL", ""),
			Timeout: getEnvAsDuration("MEASUREMENTS_TIMEOUT", 30*time.Second),
		},
		Registry: RegistryConfig{
			BaseURL:    getEnv("REGISTRY_BASE_URL", ""),
			Name:       getEnv("REGISTRY_NAME", "Energinet.dk"),
			Timeout:    getEnvAsDuration("REGISTRY_TIMEOUT", 15*time.Second),
			IssuerKeys: issuerKeys,
		},
		Wallet: WalletConfig{
			Timeout: getEnvAsDuration("WALLET_TIMEOUT", 15*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:        getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
			InitialInterval:    getEnvAsDuration("RETRY_INITIAL_INTERVAL", time.Second),
			Increment:          getEnvAsDuration("RETRY_INCREMENT", 10*time.Second),
			MaxInterval:        getEnvAsDuration("RETRY_MAX_INTERVAL", 3*time.Minute),
			PendingInterval:    getEnvAsDuration("RETRY_PENDING_INTERVAL", time.Second),
			PendingMaxAttempts: getEnvAsInt("RETRY_PENDING_MAX_ATTEMPTS", 20),
		},
		Outbox: OutboxConfig{
			PollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
			BatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
		},
	}

	// Validate required fields
	required := []struct {
		key   string
		value string
	}{
		{"DATABASE_URL", cfg.Database.URL},
		{"RABBITMQ_URL", cfg.RabbitMQ.URL},
		{"MEASUREMENTS_BASE_URL", cfg.Measurement.BaseURL},
		{"REGISTRY_BASE_URL", cfg.Registry.BaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("%s is required but not set in environment variables", r.key)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsMap parses "KEY=value,KEY2=value2".
func getEnvAsMap(key string) (map[string]string, error) {
	out := map[string]string{}
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return out, nil
	}
	for _, pair := range strings.Split(valueStr, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("%s: malformed entry %q", key, pair)
		}
		out[k] = v
	}
	return out, nil
}
