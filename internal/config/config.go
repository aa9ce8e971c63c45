package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	LookupCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	DraftFreshness        time.Duration
	PaymentTolerance      decimal.Decimal
	CurrencySymbol        string
	SnowflakeNode         int64
}

// Load reads the environment, with a .env file in the working directory
// filling in anything not already set.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := strconv.Atoi(getEnv("LOOKUP_CACHE_TTL_SECONDS", "20"))
	if err != nil || ttl < 1 {
		ttl = 20
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	freshness, err := strconv.Atoi(getEnv("DRAFT_FRESHNESS_MINUTES", "120"))
	if err != nil || freshness < 1 {
		freshness = 120
	}
	tolerance, err := decimal.NewFromString(getEnv("PAYMENT_TOLERANCE", "0.01"))
	if err != nil || tolerance.IsNegative() {
		tolerance = decimal.New(1, -2)
	}
	node, err := strconv.ParseInt(getEnv("SNOWFLAKE_NODE", "1"), 10, 64)
	if err != nil || node < 0 || node > 1023 {
		node = 1
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-store"),
		LookupCacheTTLSeconds: ttl,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		DraftFreshness:        time.Duration(freshness) * time.Minute,
		PaymentTolerance:      tolerance,
		CurrencySymbol:        getEnv("CURRENCY_SYMBOL", "$"),
		SnowflakeNode:         node,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}
