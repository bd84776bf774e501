package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"ledger-service/internal/domain"

	"github.com/shopspring/decimal"
)

// DB driver names accepted in DB_DRIVER
const (
	DriverMemory       = "memory"
	DriverPostgres     = "postgres"
	DriverSQLite       = "sqlite"
	DriverGormPostgres = "gorm-postgres"
)

type DBConfig struct {
	Driver     string
	User       string
	Password   string
	Host       string
	Port       string
	Name       string
	SQLitePath string
}

// URL is the postgres connection string used by both pgx and the gorm postgres dialector.
func (c DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Name)
}

type AppConfig struct {
	AppEnv   string
	LogLevel string
	HTTPAddr string

	DB DBConfig

	RedisAddr     string
	RedisPass     string
	EventsChannel string
	KafkaBrokers  []string
	KafkaTopic    string

	Limits           domain.AmountLimits
	ReconcileMode    domain.ReconcileMode
	SeedAccounts     string
	SeedReservations string

	// Warnings collects values that were rejected and replaced by defaults.
	// They are logged once the logger exists.
	Warnings []string
}

func Load() AppConfig {
	cfg := AppConfig{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8025"),
		DB: DBConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", DriverMemory)),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			Name:       getEnv("DB_NAME", "ledger"),
			SQLitePath: getEnv("SQLITE_PATH", "ledger.db"),
		},
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPass:        getEnv("REDIS_PASS", ""),
		EventsChannel:    getEnv("EVENTS_CHANNEL", "ledger.events"),
		KafkaBrokers:     getEnvSlice("KAFKA_BROKERS", nil),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "ledger-events"),
		SeedAccounts:     getEnv("LEDGER_SEED_ACCOUNTS", ""),
		SeedReservations: getEnv("LEDGER_SEED_RESERVATIONS", ""),
	}

	cfg.Limits = domain.DefaultAmountLimits
	if v := os.Getenv("LEDGER_MAX_AMOUNT"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			cfg.Limits.Max = d
		} else {
			cfg.warnf("LEDGER_MAX_AMOUNT=%q is not a positive decimal, using %s", v, cfg.Limits.Max)
		}
	}
	if v := os.Getenv("LEDGER_AMOUNT_SCALE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= int(domain.MaxAmountScale) {
			cfg.Limits.Scale = int32(n)
		} else {
			cfg.warnf("LEDGER_AMOUNT_SCALE=%q is not an integer in [0,%d], using %d", v, domain.MaxAmountScale, cfg.Limits.Scale)
		}
	}

	cfg.ReconcileMode = domain.ReconcileMode(strings.ToLower(getEnv("LEDGER_RECONCILE_MODE", string(domain.ReconcileModeExplicit))))
	if !cfg.ReconcileMode.IsValid() {
		cfg.warnf("LEDGER_RECONCILE_MODE=%q is unknown, using %s", cfg.ReconcileMode, domain.ReconcileModeExplicit)
		cfg.ReconcileMode = domain.ReconcileModeExplicit
	}

	switch cfg.DB.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite, DriverGormPostgres:
	default:
		cfg.warnf("DB_DRIVER=%q is unknown, using %s", cfg.DB.Driver, DriverMemory)
		cfg.DB.Driver = DriverMemory
	}
	return cfg
}

// IsProduction selects production logging
func (c AppConfig) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}

func (c *AppConfig) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
