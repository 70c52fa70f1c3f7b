/**
 * @description
 * This package handles the configuration management for the ATM service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading.
 * - github.com/shopspring/decimal: The cash watermark.
 */

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	EventBrokerRabbitMQ = "rabbitmq"
	EventBrokerKafka    = "kafka"
	EventBrokerNone     = "none"

	defaultRateLimitPrefix = "atm:rate_limit"
)

// Config holds all the configuration variables for the ATM service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	StoreDriver             string `mapstructure:"STORE_DRIVER"`
	StoreSnapshotPath       string `mapstructure:"STORE_SNAPSHOT_PATH"`
	RunMigrations           bool   `mapstructure:"RUN_MIGRATIONS"`
	DBMaxConns              int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32  `mapstructure:"DB_MIN_CONNS"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	EventExchange           string `mapstructure:"EVENT_EXCHANGE"`
	KafkaBrokersRaw         string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic              string `mapstructure:"KAFKA_TOPIC"`
	EventBroker             string `mapstructure:"EVENT_BROKER"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	LoginRateLimitPerMinute int    `mapstructure:"LOGIN_RATE_LIMIT_PER_MINUTE"`
	SessionSigningKey       string `mapstructure:"SESSION_SIGNING_KEY"`
	SessionTTLMinutes       int    `mapstructure:"SESSION_TTL_MINUTES"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	AdminPINHash            string `mapstructure:"ADMIN_PIN_HASH"`
	CashMonitorSchedule     string `mapstructure:"CASH_MONITOR_SCHEDULE"`
	CashLowWatermarkRaw     string `mapstructure:"CASH_LOW_WATERMARK"`
	SessionSweepSchedule    string `mapstructure:"SESSION_SWEEP_SCHEDULE"`
	LogLevel                string `mapstructure:"LOG_LEVEL"`
	HistoryDefaultLimit     int    `mapstructure:"HISTORY_DEFAULT_LIMIT"`

	// Derived during LoadConfig.
	KafkaBrokers     []string        `mapstructure:"-"`
	CashLowWatermark decimal.Decimal `mapstructure:"-"`
	// Warnings collects non-fatal problems for the caller to log once a logger exists.
	Warnings []string `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in path. Invalid enumerations and amounts are reported as errors.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("DB_MIN_CONNS", 1)
	viper.SetDefault("EVENT_EXCHANGE", "atm.events")
	viper.SetDefault("KAFKA_TOPIC", "atm.ledger")
	viper.SetDefault("EVENT_BROKER", EventBrokerRabbitMQ)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("SESSION_TTL_MINUTES", 15)
	viper.SetDefault("CASH_MONITOR_SCHEDULE", "@every 5m")
	viper.SetDefault("CASH_LOW_WATERMARK", "5000.00")
	viper.SetDefault("SESSION_SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HISTORY_DEFAULT_LIMIT", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("STORE_SNAPSHOT_PATH")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("KAFKA_BROKERS")
	_ = viper.BindEnv("KAFKA_TOPIC")
	_ = viper.BindEnv("EVENT_BROKER")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ATM_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("LOGIN_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SESSION_SIGNING_KEY")
	_ = viper.BindEnv("SESSION_TTL_MINUTES")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "ATM_INTERNAL_API_KEY")
	_ = viper.BindEnv("ADMIN_PIN_HASH")
	_ = viper.BindEnv("CASH_MONITOR_SCHEDULE")
	_ = viper.BindEnv("CASH_LOW_WATERMARK")
	_ = viper.BindEnv("SESSION_SWEEP_SCHEDULE")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("HISTORY_DEFAULT_LIMIT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			config.Warnings = append(config.Warnings, fmt.Sprintf("failed to read config file; using environment values: %v", err))
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	warnings := config.Warnings
	if err = viper.Unmarshal(&config); err != nil {
		return
	}
	config.Warnings = warnings

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = os.Getenv("ATM_INTERNAL_API_KEY")
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.AdminPINHash = strings.TrimSpace(config.AdminPINHash)
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	switch config.StoreDriver {
	case StoreDriverPostgres:
		if config.DatabaseURL == "" {
			err = fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
			return
		}
	case StoreDriverMemory:
	default:
		err = fmt.Errorf("invalid STORE_DRIVER %q (want %s or %s)", config.StoreDriver, StoreDriverPostgres, StoreDriverMemory)
		return
	}

	config.EventBroker = strings.ToLower(strings.TrimSpace(config.EventBroker))
	switch config.EventBroker {
	case EventBrokerRabbitMQ, EventBrokerKafka, EventBrokerNone:
	case "":
		config.EventBroker = EventBrokerNone
	default:
		err = fmt.Errorf("invalid EVENT_BROKER %q", config.EventBroker)
		return
	}

	for _, broker := range strings.Split(config.KafkaBrokersRaw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			config.KafkaBrokers = append(config.KafkaBrokers, broker)
		}
	}
	if config.EventBroker == EventBrokerKafka && len(config.KafkaBrokers) == 0 {
		err = fmt.Errorf("KAFKA_BROKERS is required when EVENT_BROKER=%s", EventBrokerKafka)
		return
	}

	config.CashLowWatermark, err = decimal.NewFromString(strings.TrimSpace(config.CashLowWatermarkRaw))
	if err != nil {
		err = fmt.Errorf("invalid CASH_LOW_WATERMARK %q: %w", config.CashLowWatermarkRaw, err)
		return
	}
	if config.CashLowWatermark.IsNegative() {
		config.Warnings = append(config.Warnings, "negative cash watermark configured; coercing to zero")
		config.CashLowWatermark = decimal.Zero
	}

	if config.DBMaxConns <= 0 {
		config.DBMaxConns = 10
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		config.Warnings = append(config.Warnings, fmt.Sprintf("DB_MIN_CONNS %d out of range; using 0", config.DBMinConns))
		config.DBMinConns = 0
	}
	if config.LoginRateLimitPerMinute < 0 {
		config.LoginRateLimitPerMinute = 0
	}
	if config.SessionTTLMinutes <= 0 {
		config.SessionTTLMinutes = 15
	}
	if config.HistoryDefaultLimit <= 0 {
		config.HistoryDefaultLimit = 10
	}
	if config.HistoryDefaultLimit > 100 {
		config.Warnings = append(config.Warnings, "history default limit too high; capping at 100")
		config.HistoryDefaultLimit = 100
	}
	if config.SessionSigningKey == "" {
		config.Warnings = append(config.Warnings, "SESSION_SIGNING_KEY not set; HTTP sessions use a per-process random key")
	}

	return
}
