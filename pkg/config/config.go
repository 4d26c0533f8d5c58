package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
)

// Config holds the runtime configuration of the trade service.
type Config struct {
	ServiceName string
	Env         string // "dev", "uat", "prod"
	LogLevel    string
	Port        int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	// Persistence
	StoreBackend        string // memory | pebble | postgres
	PebbleDir           string
	DatabaseURL         string
	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration
	PGAutoMigrate       bool
	LegacySync          bool

	// FX quotes live in Redis when RedisAddr is set, in memory otherwise.
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	FXRatesURL  string // empty uses the static MVP table
	FXRatesRPS  int
	FXRateBurst int

	// Event sinks; both optional.
	NATSURL           string
	NATSSubjectPrefix string
	RabbitMQURL       string
	RabbitMQExchange  string

	// Auth
	AWSRegion      string
	AuthSecretName string
	AuthStaticKeys string // key1:org1,key2:org2
	AuthCacheTTL   time.Duration
	CleanupFreq    time.Duration

	// Ledger
	SeedBalances        string // RUB:1000000,USD:0; empty means no opening balance
	LedgerAuditInterval time.Duration
	// DemoFunding enables self-service deposits and the demo opening balance.
	DemoFunding bool

	// Per-organization API throttling.
	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	env := GetEnv("ENV", "dev")
	return &Config{
		ServiceName: GetEnv("SERVICE_NAME", "trade-escrow"),
		Env:         env,
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		Port:        GetEnvInt("PORT", 8080),

		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),

		StoreBackend:        GetEnv("STORE_BACKEND", BackendMemory),
		PebbleDir:           GetEnv("PEBBLE_DIR", "./data/trade"),
		DatabaseURL:         GetEnv("DATABASE_URL", ""),
		PGMaxConns:          GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),
		PGAutoMigrate:       GetEnvBool("PG_AUTO_MIGRATE", true),
		LegacySync:          GetEnvBool("LEGACY_SYNC_ENABLED", false),

		RedisAddr:   GetEnv("REDIS_ADDR", ""),
		RedisDB:     GetEnvInt("REDIS_DB", 0),
		RedisPass:   GetEnv("REDIS_PASS", ""),
		FXRatesURL:  GetEnv("FX_RATES_URL", ""),
		FXRatesRPS:  GetEnvInt("FX_RATES_RPS", 5),
		FXRateBurst: GetEnvInt("FX_RATES_BURST", 10),

		NATSURL:           GetEnv("NATS_URL", ""),
		NATSSubjectPrefix: GetEnv("NATS_SUBJECT_PREFIX", "evt.trade"),
		RabbitMQURL:       GetEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:  GetEnv("RABBITMQ_EXCHANGE", ""),

		AWSRegion:      GetEnv("AWS_REGION", "us-east-2"),
		AuthSecretName: GetEnv("AUTH_SECRET_NAME", ""),
		AuthStaticKeys: GetEnv("AUTH_STATIC_KEYS", ""),
		AuthCacheTTL:   GetEnvDuration("AUTH_CACHE_TTL", 5*time.Minute),
		CleanupFreq:    GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),

		SeedBalances:        GetEnv("SEED_BALANCES", ""),
		LedgerAuditInterval: GetEnvDuration("LEDGER_AUDIT_INTERVAL", 5*time.Minute),
		DemoFunding:         GetEnvBool("DEMO_FUNDING_ENABLED", env == "dev"),

		RateLimitRPS:   GetEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst: GetEnvInt("RATE_LIMIT_BURST", 40),
	}
}

// Validate catches combinations that cannot start.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPebble:
		if c.PebbleDir == "" {
			return fmt.Errorf("PEBBLE_DIR is required for the pebble backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.AuthSecretName == "" && c.AuthStaticKeys == "" {
		return fmt.Errorf("one of AUTH_SECRET_NAME or AUTH_STATIC_KEYS must be set")
	}
	if c.LedgerAuditInterval <= 0 {
		return fmt.Errorf("LEDGER_AUDIT_INTERVAL must be positive")
	}
	return nil
}
