package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ton      TonConfig
	Telegram TelegramConfig
	Escrow   EscrowConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// TonConfig holds the external ledger configuration
type TonConfig struct {
	RPCEndpoint   string // toncenter-style HTTP RPC endpoint
	APIKey        string
	WalletAddress string // hot wallet watched for deposits, source of withdrawals
	WalletSecret  string // signing key for outbound transfers, hex-encoded
}

// TelegramConfig holds the messaging platform configuration
type TelegramConfig struct {
	BotToken string
}

// EscrowConfig holds settlement engine tunables
type EscrowConfig struct {
	PlatformFeeBps      int64         // e.g., 500 = 5%
	MinPlatformFee      int64         // in nanotons
	DepositToleranceBps int64         // allowed shortfall on deposits, e.g., 100 = 1%
	DepositExpiry       time.Duration // window for an intent to be funded
	ConfirmAttempts     int           // seqno polls before a withdrawal times out
	ConfirmInterval     time.Duration // delay between seqno polls
	PendingDealGrace    time.Duration // PENDING past scheduled time by this much -> EXPIRED
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "settlement"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Ton: TonConfig{
			RPCEndpoint:   getEnv("TON_RPC_ENDPOINT", ""),
			APIKey:        getEnv("TON_API_KEY", ""),
			WalletAddress: getEnv("TON_WALLET_ADDRESS", ""),
			WalletSecret:  getEnv("TON_WALLET_SECRET", ""),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Escrow: EscrowConfig{
			PlatformFeeBps:      int64(getEnvInt("ESCROW_PLATFORM_FEE_BPS", 500)),
			MinPlatformFee:      int64(getEnvInt("ESCROW_MIN_PLATFORM_FEE", 50000000)),
			DepositToleranceBps: int64(getEnvInt("DEPOSIT_TOLERANCE_BPS", 100)),
			DepositExpiry:       getEnvDuration("DEPOSIT_EXPIRY", 30*time.Minute),
			ConfirmAttempts:     getEnvInt("WITHDRAWAL_CONFIRM_ATTEMPTS", 30),
			ConfirmInterval:     getEnvDuration("WITHDRAWAL_CONFIRM_INTERVAL", 2*time.Second),
			PendingDealGrace:    getEnvDuration("PENDING_DEAL_GRACE", 24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Ton.RPCEndpoint == "" {
		return fmt.Errorf("TON_RPC_ENDPOINT is required")
	}

	if c.Ton.WalletAddress == "" {
		return fmt.Errorf("TON_WALLET_ADDRESS is required")
	}

	if c.Escrow.DepositToleranceBps < 0 || c.Escrow.DepositToleranceBps > 100 {
		return fmt.Errorf("deposit tolerance must be between 0 and 100 bps, got %d",
			c.Escrow.DepositToleranceBps)
	}

	if c.Escrow.ConfirmAttempts <= 0 {
		return fmt.Errorf("withdrawal confirm attempts must be positive")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
