package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func LoadEnv() error {
	// A missing .env is fine: production sets variables directly.
	_ = godotenv.Load()
	return nil
}

// ValidateEnv checks that critical environment variables are set.
// Returns an error if any critical variable is missing.
func ValidateEnv() error {
	var missing []string

	if os.Getenv("JWT_SECRET") == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if os.Getenv("DATABASE_URL") == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("critical environment variables not set: %v", missing)
	}

	if os.Getenv("FRONTEND_URL") == "" {
		slog.Warn("FRONTEND_URL not set, CORS falls back to localhost")
	}
	if os.Getenv("SMTP_HOST") == "" || os.Getenv("SMTP_PORT") == "" || os.Getenv("SMTP_FROM") == "" {
		slog.Warn("SMTP not fully configured, notifications are logged only")
	}

	return nil
}

func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func GetDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return d
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

type Config struct {
	Port               string
	DatabaseURL        string
	LogLevel           string
	TxTimeout          time.Duration
	TxMaxRetries       int
	SweepSchedule      string
	SweepConcurrency   int
	CatalogCacheSize   int
	CatalogCacheTTL    time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
	CORSOrigins        []string
	SMTP               SMTPConfig
	Rules              *PointsRules
}

// Load reads the process environment into a Config. Rules come from
// POINTS_RULES_FILE when set, otherwise from the embedded defaults.
func Load() (*Config, error) {
	rules, err := LoadRules(os.Getenv("POINTS_RULES_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               GetEnv("PORT", "8080"),
		DatabaseURL:        GetEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=rewards port=5432 sslmode=disable"),
		LogLevel:           GetEnv("LOG_LEVEL", "info"),
		TxTimeout:          GetDuration("TX_TIMEOUT", 5*time.Second),
		TxMaxRetries:       GetInt("TX_MAX_RETRIES", 3),
		SweepSchedule:      GetEnv("COUPON_SWEEP_SCHEDULE", "*/15 * * * *"),
		SweepConcurrency:   GetInt("COUPON_SWEEP_CONCURRENCY", 4),
		CatalogCacheSize:   GetInt("CATALOG_CACHE_SIZE", 1024),
		CatalogCacheTTL:    GetDuration("CATALOG_CACHE_TTL", 30*time.Second),
		RateLimitPerMinute: GetInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     GetInt("RATE_LIMIT_BURST", 20),
		CORSOrigins:        corsOrigins(),
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     os.Getenv("SMTP_PORT"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
		Rules: rules,
	}
	if cfg.TxMaxRetries < 0 {
		cfg.TxMaxRetries = 0
	}
	return cfg, nil
}

func corsOrigins() []string {
	var origins []string
	for _, o := range []string{os.Getenv("FRONTEND_URL"), os.Getenv("ADMIN_URL")} {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return origins
}
