package config

import (
	"fmt"
	"log"
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
	BranchID              string
	CatalogTTLSeconds     int
	AuthSecret            string
	AccessTokenTTLMinutes int

	BackendURL            string
	BackendToken          string
	BackendTimeoutSeconds int

	MpesaPollIntervalSeconds int
	MpesaTimeoutSeconds      int
	TaxRate                  decimal.Decimal
	PhoneCountryCode         string

	KafkaBrokers    []string
	KafkaSalesTopic string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] WARN: could not read .env: %v", err)
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	taxRate, err := decimal.NewFromString(getEnv("TAX_RATE", "0.16"))
	if err != nil || taxRate.IsNegative() || taxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		taxRate = decimal.RequireFromString("0.16")
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		BranchID:              getEnv("BRANCH_ID", "main-branch"),
		CatalogTTLSeconds:     positiveInt("CATALOG_TTL_SECONDS", 60),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),

		BackendURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("BACKEND_URL")), "/"),
		BackendToken:          strings.TrimSpace(os.Getenv("BACKEND_TOKEN")),
		BackendTimeoutSeconds: positiveInt("BACKEND_TIMEOUT_SECONDS", 15),

		MpesaPollIntervalSeconds: positiveInt("MPESA_POLL_INTERVAL_SECONDS", 5),
		MpesaTimeoutSeconds:      positiveInt("MPESA_TIMEOUT_SECONDS", 120),
		TaxRate:                  taxRate,
		PhoneCountryCode:         getEnv("PHONE_COUNTRY_CODE", "254"),

		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaSalesTopic: getEnv("KAFKA_SALES_TOPIC", "pos.sales"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CatalogTTL() time.Duration {
	return time.Duration(c.CatalogTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSeconds) * time.Second
}

func (c Config) MpesaPollInterval() time.Duration {
	return time.Duration(c.MpesaPollIntervalSeconds) * time.Second
}

func (c Config) MpesaTimeout() time.Duration {
	return time.Duration(c.MpesaTimeoutSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
