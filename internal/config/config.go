package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	BotToken string
	// Telegram group the referral program lives in.
	GroupID      int64
	HelpUsername string

	SolanaRPCURL   string
	CurrencySymbol string

	DefaultLanguage     string
	VerificationEnabled bool

	CacheTTL     time.Duration
	CacheMaxSize int
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "referral_bot"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BotToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		GroupID:      getEnvInt64("TELEGRAM_GROUP_ID", 0),
		HelpUsername: getEnv("HELP_USERNAME", ""),

		SolanaRPCURL:   getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		CurrencySymbol: getEnv("CURRENCY_SYMBOL", "SOL"),

		DefaultLanguage:     getEnv("DEFAULT_LANGUAGE", "en"),
		VerificationEnabled: getEnvBool("VERIFICATION_ENABLED", true),

		CacheTTL:     getEnvDuration("CACHE_TTL", time.Minute),
		CacheMaxSize: int(getEnvInt64("CACHE_MAX_SIZE", 100)),
	}
}

// Validate reports configuration the bot cannot start without.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	if c.GroupID == 0 {
		return fmt.Errorf("TELEGRAM_GROUP_ID is not set")
	}
	if c.SolanaRPCURL == "" {
		return fmt.Errorf("SOLANA_RPC_URL is not set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		log.Printf("Invalid integer for %s, using default", key)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Printf("Invalid boolean for %s, using default", key)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s, using default", key)
	}
	return fallback
}
