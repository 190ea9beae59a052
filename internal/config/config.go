package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/searchsync/pkg/config"
	"github.com/utafrali/searchsync/pkg/database"
)

// Config holds all configuration for the search sync engine.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server (admin API, health, metrics)
	HTTPPort int `env:"SEARCHSYNC_HTTP_PORT" envDefault:"8020"`

	// Search engine selection (elasticsearch or memory)
	SearchEngine string `env:"SEARCH_ENGINE" envDefault:"elasticsearch"`

	// Elasticsearch
	ElasticsearchURL string `env:"ELASTICSEARCH_URL" envDefault:"http://localhost:9200"`
	IndexAlias       string `env:"SEARCH_INDEX_ALIAS" envDefault:"products"`

	// PostgreSQL (dead letters, reindex jobs)
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"searchsync"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"searchsync_secret"`
	PostgresDB   string `env:"SEARCHSYNC_DB_NAME" envDefault:"searchsync"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis (idempotency guard)
	RedisHost string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int           `env:"REDIS_DB" envDefault:"0"`
	GuardTTL  time.Duration `env:"GUARD_TTL" envDefault:"168h"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"searchsync"`

	// Bulk batcher
	BatchMaxSize       int           `env:"BATCH_MAX_SIZE" envDefault:"100"`
	BatchFlushInterval time.Duration `env:"BATCH_FLUSH_INTERVAL" envDefault:"200ms"`
	BatchFlushTimeout  time.Duration `env:"BATCH_FLUSH_TIMEOUT" envDefault:"30s"`
	BatchRetryAttempts int           `env:"BATCH_RETRY_ATTEMPTS" envDefault:"5"`
	BatchRetryBase     time.Duration `env:"BATCH_RETRY_BASE_DELAY" envDefault:"200ms"`
	BatchRetryMax      time.Duration `env:"BATCH_RETRY_MAX_DELAY" envDefault:"5s"`

	// Reindex orchestrator
	ReindexPageSize     int           `env:"REINDEX_PAGE_SIZE" envDefault:"500"`
	ReindexDeltaSlack   time.Duration `env:"REINDEX_DELTA_SLACK" envDefault:"2m"`
	ReindexDeltaPasses  int           `env:"REINDEX_DELTA_PASSES" envDefault:"3"`
	ReindexVerifySample int           `env:"REINDEX_VERIFY_SAMPLE" envDefault:"50"`
	ReindexRetireGrace  time.Duration `env:"REINDEX_RETIRE_GRACE" envDefault:"10m"`

	// Adaptive consumer fetch budget
	ThrottleMinRate  float64       `env:"THROTTLE_MIN_RATE" envDefault:"1"`
	ThrottleMaxRate  float64       `env:"THROTTLE_MAX_RATE" envDefault:"500"`
	ThrottleStep     float64       `env:"THROTTLE_STEP" envDefault:"1"`
	ThrottleBackoff  float64       `env:"THROTTLE_BACKOFF" envDefault:"0.5"`
	ThrottleCooldown time.Duration `env:"THROTTLE_COOLDOWN" envDefault:"2s"`

	// Circuit breaker for index writes
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Admin API CORS. Empty means same-origin only; in development the
	// middleware allows any origin regardless.
	CORSAllowedOrigins []string `env:"ADMIN_CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load searchsync config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.SearchEngine != "elasticsearch" && c.SearchEngine != "memory" {
		return fmt.Errorf("SEARCH_ENGINE must be elasticsearch or memory, got %q", c.SearchEngine)
	}
	if c.IndexAlias == "" {
		return fmt.Errorf("SEARCH_INDEX_ALIAS is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.BatchMaxSize < 1 {
		return fmt.Errorf("BATCH_MAX_SIZE must be at least 1, got %d", c.BatchMaxSize)
	}
	if c.ReindexPageSize < 1 {
		return fmt.Errorf("REINDEX_PAGE_SIZE must be at least 1, got %d", c.ReindexPageSize)
	}
	if c.ThrottleBackoff <= 0 || c.ThrottleBackoff >= 1 {
		return fmt.Errorf("THROTTLE_BACKOFF must be between 0 and 1 exclusive, got %f", c.ThrottleBackoff)
	}
	if c.ThrottleMaxRate <= c.ThrottleMinRate {
		return fmt.Errorf("THROTTLE_MAX_RATE must exceed THROTTLE_MIN_RATE")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Postgres returns the connection pool configuration for the dead-letter
// and reindex-job store.
func (c *Config) Postgres() database.PostgresConfig {
	pc := database.DefaultPostgresConfig()
	pc.Host = c.PostgresHost
	pc.Port = c.PostgresPort
	pc.User = c.PostgresUser
	pc.Password = c.PostgresPass
	pc.DBName = c.PostgresDB
	pc.SSLMode = c.PostgresSSL
	return pc
}

// Redis returns the connection configuration for the idempotency guard store.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPass,
		DB:       c.RedisDB,
	}
}
