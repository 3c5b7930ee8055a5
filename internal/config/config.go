// Package config provides configuration management for the payment engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Chains     ChainsConfig
	Market     MarketConfig
	Scoring    ScoringConfig
	Checkout   CheckoutConfig
	Settlement SettlementConfig
	Monitor    MonitorConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds chain configuration
type ChainsConfig struct {
	Enabled []string
	Chains  map[string]ChainConfig
}

// ChainConfig holds configuration for a specific chain
type ChainConfig struct {
	RPCPrimary     string
	RPCSecondary   string
	FallbackGasUSD float64
}

// MarketConfig holds market data source configuration
type MarketConfig struct {
	SnapshotTTL      time.Duration
	GasTimeout       time.Duration
	RateTimeout      time.Duration
	RateBaseURL      string
	RateAPIKey       string
	TransferGasLimit uint64

	// Rate-API request quota per window, split between the checkout
	// (reserved) and probe (remainder) pools.
	RateQuotaTotal    int
	RateQuotaReserved int
	RateQuotaWindow   time.Duration
}

// ScoringConfig holds scoring weights. Defaults match the production
// weighting; overriding them shifts the ranking, not the sub-scores.
type ScoringConfig struct {
	CostWeight         float64
	PreferenceWeight   float64
	AvailabilityWeight float64
	NetworkWeight      float64
}

// CheckoutConfig holds checkout orchestration configuration
type CheckoutConfig struct {
	SessionTTL       time.Duration
	ShippingFlatUSD  float64
	TaxRate          float64
	PlatformFeeRate  float64
	SettleTimeout    time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	ReconcileEvery   time.Duration
}

// SettlementConfig holds settlement backend configuration
type SettlementConfig struct {
	EscrowBaseURL  string
	EscrowAPIKey   string
	CardBaseURL    string
	CardAPIKey     string
	RequestTimeout time.Duration
}

// MonitorConfig holds health monitor configuration
type MonitorConfig struct {
	Interval             time.Duration
	WindowSize           int
	ProbeTimeout         time.Duration
	AvailabilityWarn     float64
	AvailabilityCritical float64
	LatencyWarn          time.Duration
	LatencyCritical      time.Duration
	ConfidenceWarn       float64
	ConfidenceCritical   float64
	FailureRateWarn      float64
	FailureRateCritical  float64
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "marketplace"),
				User:           getEnv("POSTGRES_USER", "marketplace"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "marketplace"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Market: MarketConfig{
			SnapshotTTL:      getEnvAsDuration("MARKET_SNAPSHOT_TTL", 20*time.Second),
			GasTimeout:       getEnvAsDuration("MARKET_GAS_TIMEOUT", 5*time.Second),
			RateTimeout:      getEnvAsDuration("MARKET_RATE_TIMEOUT", 5*time.Second),
			RateBaseURL:      getEnv("RATE_API_URL", "https://api.exchange.example.com"),
			RateAPIKey:       getEnv("RATE_API_KEY", ""),
			TransferGasLimit: uint64(getEnvAsInt("MARKET_TRANSFER_GAS_LIMIT", 65000)),

			RateQuotaTotal:    getEnvAsInt("RATE_API_QUOTA_TOTAL", 300),
			RateQuotaReserved: getEnvAsInt("RATE_API_QUOTA_RESERVED", 200),
			RateQuotaWindow:   getEnvAsDuration("RATE_API_QUOTA_WINDOW", time.Minute),
		},
		Scoring: ScoringConfig{
			CostWeight:         getEnvAsFloat("SCORING_COST_WEIGHT", 0.4),
			PreferenceWeight:   getEnvAsFloat("SCORING_PREFERENCE_WEIGHT", 0.3),
			AvailabilityWeight: getEnvAsFloat("SCORING_AVAILABILITY_WEIGHT", 0.2),
			NetworkWeight:      getEnvAsFloat("SCORING_NETWORK_WEIGHT", 0.1),
		},
		Checkout: CheckoutConfig{
			SessionTTL:       getEnvAsDuration("CHECKOUT_SESSION_TTL", 30*time.Minute),
			ShippingFlatUSD:  getEnvAsFloat("CHECKOUT_SHIPPING_FLAT_USD", 5.0),
			TaxRate:          getEnvAsFloat("CHECKOUT_TAX_RATE", 0.08),
			PlatformFeeRate:  getEnvAsFloat("CHECKOUT_PLATFORM_FEE_RATE", 0.025),
			SettleTimeout:    getEnvAsDuration("CHECKOUT_SETTLE_TIMEOUT", 30*time.Second),
			RetryMaxAttempts: getEnvAsInt("CHECKOUT_RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:   getEnvAsDuration("CHECKOUT_RETRY_BASE_DELAY", 2*time.Second),
			ReconcileEvery:   getEnvAsDuration("CHECKOUT_RECONCILE_EVERY", 1*time.Minute),
		},
		Settlement: SettlementConfig{
			EscrowBaseURL:  getEnv("ESCROW_GATEWAY_URL", "http://localhost:8545"),
			EscrowAPIKey:   getEnv("ESCROW_GATEWAY_API_KEY", ""),
			CardBaseURL:    getEnv("CARD_PROCESSOR_URL", "https://api.cards.example.com"),
			CardAPIKey:     getEnv("CARD_PROCESSOR_API_KEY", ""),
			RequestTimeout: getEnvAsDuration("SETTLEMENT_REQUEST_TIMEOUT", 15*time.Second),
		},
		Monitor: MonitorConfig{
			Interval:             getEnvAsDuration("MONITOR_INTERVAL", 60*time.Second),
			WindowSize:           getEnvAsInt("MONITOR_WINDOW_SIZE", 30),
			ProbeTimeout:         getEnvAsDuration("MONITOR_PROBE_TIMEOUT", 5*time.Second),
			AvailabilityWarn:     getEnvAsFloat("MONITOR_AVAILABILITY_WARN", 0.90),
			AvailabilityCritical: getEnvAsFloat("MONITOR_AVAILABILITY_CRITICAL", 0.75),
			LatencyWarn:          getEnvAsDuration("MONITOR_LATENCY_WARN", 2*time.Second),
			LatencyCritical:      getEnvAsDuration("MONITOR_LATENCY_CRITICAL", 5*time.Second),
			ConfidenceWarn:       getEnvAsFloat("MONITOR_CONFIDENCE_WARN", 0.7),
			ConfidenceCritical:   getEnvAsFloat("MONITOR_CONFIDENCE_CRITICAL", 0.5),
			FailureRateWarn:      getEnvAsFloat("MONITOR_FAILURE_RATE_WARN", 0.10),
			FailureRateCritical:  getEnvAsFloat("MONITOR_FAILURE_RATE_CRITICAL", 0.25),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Load chain configurations
	config.Chains = loadChainConfigs()

	return config, nil
}

// loadChainConfigs loads chain-specific configurations
func loadChainConfigs() ChainsConfig {
	enabledChains := strings.Split(getEnv("ENABLED_CHAINS", "ethereum,polygon,arbitrum,optimism,base"), ",")

	chains := make(map[string]ChainConfig)
	for _, chain := range enabledChains {
		chain = strings.TrimSpace(chain)
		if chain == "" {
			continue
		}

		prefix := strings.ToUpper(chain)
		chains[chain] = ChainConfig{
			RPCPrimary:     getEnv(prefix+"_RPC_PRIMARY", ""),
			RPCSecondary:   getEnv(prefix+"_RPC_SECONDARY", ""),
			FallbackGasUSD: getEnvAsFloat(prefix+"_FALLBACK_GAS_USD", 5.0),
		}
	}

	return ChainsConfig{
		Enabled: enabledChains,
		Chains:  chains,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
