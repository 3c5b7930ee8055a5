package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("MARKET_SNAPSHOT_TTL", "30s"); err != nil {
		t.Fatalf("Failed to set MARKET_SNAPSHOT_TTL: %v", err)
	}
	if err := os.Setenv("SCORING_COST_WEIGHT", "0.5"); err != nil {
		t.Fatalf("Failed to set SCORING_COST_WEIGHT: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("MARKET_SNAPSHOT_TTL")
		_ = os.Unsetenv("SCORING_COST_WEIGHT")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Market.SnapshotTTL != 30*time.Second {
		t.Errorf("Market.SnapshotTTL = %v, want %v", cfg.Market.SnapshotTTL, 30*time.Second)
	}

	if cfg.Scoring.CostWeight != 0.5 {
		t.Errorf("Scoring.CostWeight = %v, want 0.5", cfg.Scoring.CostWeight)
	}

	// Untouched sections keep their defaults
	if cfg.Market.RateQuotaTotal != 300 || cfg.Market.RateQuotaReserved != 200 {
		t.Errorf("Market quota = %d/%d, want 300/200", cfg.Market.RateQuotaTotal, cfg.Market.RateQuotaReserved)
	}
	if cfg.Checkout.SessionTTL != 30*time.Minute {
		t.Errorf("Checkout.SessionTTL = %v, want %v", cfg.Checkout.SessionTTL, 30*time.Minute)
	}
	if cfg.RateLimit.RequestsPerMinute != 120 {
		t.Errorf("RateLimit.RequestsPerMinute = %v, want 120", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %v, want info", cfg.Logging.Level)
	}
}

func TestLoadChainConfigs(t *testing.T) {
	if err := os.Setenv("ENABLED_CHAINS", "ethereum,base"); err != nil {
		t.Fatalf("Failed to set ENABLED_CHAINS: %v", err)
	}
	if err := os.Setenv("ETHEREUM_RPC_PRIMARY", "https://eth.example.com"); err != nil {
		t.Fatalf("Failed to set ETHEREUM_RPC_PRIMARY: %v", err)
	}
	if err := os.Setenv("BASE_FALLBACK_GAS_USD", "0.02"); err != nil {
		t.Fatalf("Failed to set BASE_FALLBACK_GAS_USD: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("ENABLED_CHAINS")
		_ = os.Unsetenv("ETHEREUM_RPC_PRIMARY")
		_ = os.Unsetenv("BASE_FALLBACK_GAS_USD")
	}()

	chains := loadChainConfigs()

	if len(chains.Enabled) != 2 {
		t.Fatalf("Enabled = %v, want 2 chains", chains.Enabled)
	}

	eth, ok := chains.Chains["ethereum"]
	if !ok {
		t.Fatal("missing ethereum chain config")
	}
	if eth.RPCPrimary != "https://eth.example.com" {
		t.Errorf("ethereum RPCPrimary = %v, want https://eth.example.com", eth.RPCPrimary)
	}
	if eth.FallbackGasUSD != 5.0 {
		t.Errorf("ethereum FallbackGasUSD = %v, want default 5.0", eth.FallbackGasUSD)
	}

	base, ok := chains.Chains["base"]
	if !ok {
		t.Fatal("missing base chain config")
	}
	if base.FallbackGasUSD != 0.02 {
		t.Errorf("base FallbackGasUSD = %v, want 0.02", base.FallbackGasUSD)
	}

	if _, ok := chains.Chains["polygon"]; ok {
		t.Error("polygon should not be configured when not enabled")
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue float64
		envValue     string
		want         float64
	}{
		{
			name:         "returns float when valid",
			key:          "TEST_FLOAT",
			defaultValue: 0.4,
			envValue:     "0.75",
			want:         0.75,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_FLOAT_INVALID",
			defaultValue: 0.4,
			envValue:     "invalid",
			want:         0.4,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_FLOAT_NOTSET",
			defaultValue: 0.4,
			envValue:     "",
			want:         0.4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsFloat(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
