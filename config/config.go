package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay service
type Config struct {
	Telegram TelegramConfig
	Bot      BotConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Relay    RelayConfig
	Logging  LoggingConfig
	Service  ServiceConfig
}

// TelegramConfig holds MTProto configuration shared by all account connections
type TelegramConfig struct {
	APIID      int
	APIHash    string
	SessionDir string // fallback session storage when no database is configured
}

// BotConfig holds the admin bot configuration
type BotConfig struct {
	Token   string
	AdminID int64
}

// DatabaseConfig holds PostgreSQL configuration. An empty DSN switches the
// service to in-memory stores with file-based session storage.
type DatabaseConfig struct {
	DSN    string
	DBName string
}

// KafkaConfig holds the audit event producer configuration. Empty broker
// list disables audit publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RelayConfig holds redirection engine and supervisor tuning
type RelayConfig struct {
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	SendRetries       int
	MaxConcurrent     int // parallel session restores
	ShutdownTimeout   time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Name string
	Port string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	apiID, err := strconv.Atoi(getEnv("TELEGRAM_API_ID", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_API_ID: %w", err)
	}

	adminID, err := strconv.ParseInt(getEnv("ADMIN_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_ID: %w", err)
	}

	heartbeatInterval, err := time.ParseDuration(getEnv("HEARTBEAT_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
	}

	connectTimeout, err := time.ParseDuration(getEnv("CONNECT_TIMEOUT", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONNECT_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	sendRetries, err := strconv.Atoi(getEnv("SEND_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEND_RETRIES: %w", err)
	}

	maxConcurrent, err := strconv.Atoi(getEnv("RESTORE_MAX_CONCURRENT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid RESTORE_MAX_CONCURRENT: %w", err)
	}

	brokers := []string{}
	brokersStr := getEnv("KAFKA_BROKERS", "")
	if brokersStr != "" {
		brokers = strings.Split(brokersStr, ",")
	}

	cfg := &Config{
		Telegram: TelegramConfig{
			APIID:      apiID,
			APIHash:    getEnv("TELEGRAM_API_HASH", ""),
			SessionDir: getEnv("TELEGRAM_SESSION_DIR", "./sessions"),
		},
		Bot: BotConfig{
			Token:   getEnv("BOT_TOKEN", ""),
			AdminID: adminID,
		},
		Database: DatabaseConfig{
			DSN:    getEnv("DATABASE_DSN", ""),
			DBName: getEnv("DATABASE_NAME", "relay"),
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   getEnv("KAFKA_TOPIC_REDIRECTED", "relay.redirected"),
		},
		Relay: RelayConfig{
			HeartbeatInterval: heartbeatInterval,
			ConnectTimeout:    connectTimeout,
			SendRetries:       sendRetries,
			MaxConcurrent:     maxConcurrent,
			ShutdownTimeout:   shutdownTimeout,
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Service: ServiceConfig{
			Name: getEnv("SERVICE_NAME", "relay-service"),
			Port: getEnv("SERVICE_PORT", "5000"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Telegram.APIID == 0 {
		return fmt.Errorf("TELEGRAM_API_ID is required")
	}

	if c.Telegram.APIHash == "" {
		return fmt.Errorf("TELEGRAM_API_HASH is required")
	}

	if c.Bot.Token == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}

	if c.Bot.AdminID == 0 {
		return fmt.Errorf("ADMIN_ID is required")
	}

	if c.Relay.SendRetries <= 0 {
		return fmt.Errorf("SEND_RETRIES must be positive")
	}

	return nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
