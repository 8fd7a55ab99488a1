// Package config loads runtime configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the pipeline.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	AdminToken  string `env:"ADMIN_TOKEN,required"`

	CronPort   int `env:"CRON_PORT" envDefault:"8080"`
	HealthPort int `env:"HEALTH_PORT" envDefault:"8081"`

	// Embedding service
	EmbeddingAPIKey  string `env:"EMBEDDING_API_KEY,required"`
	EmbeddingBaseURL string `env:"EMBEDDING_BASE_URL"`
	EmbeddingModel   string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDims    int    `env:"EMBEDDING_DIMENSIONS" envDefault:"1536"`
	EmbeddingRPS     int    `env:"EMBEDDING_RPS" envDefault:"4"`

	// Chat completion service (rewriting, web discovery)
	ChatAPIKey  string `env:"CHAT_API_KEY,required"`
	ChatBaseURL string `env:"CHAT_BASE_URL"`
	ChatModel   string `env:"CHAT_MODEL" envDefault:"gpt-4o-mini"`
	ChatRPS     int    `env:"CHAT_RPS" envDefault:"2"`

	// Pipeline knobs
	RetentionDays    int           `env:"RETENTION_DAYS" envDefault:"60"`
	BackfillHours    int           `env:"BACKFILL_HOURS" envDefault:"48"`
	BackfillBatch    int           `env:"BACKFILL_BATCH" envDefault:"50"`
	ClusterWindow    time.Duration `env:"CLUSTER_WINDOW" envDefault:"168h"`
	RiverWindowHours int           `env:"RIVER_WINDOW_HOURS" envDefault:"168"`
	RewriteDays      int           `env:"REWRITE_DAYS" envDefault:"3"`

	// Outbound HTTP
	FeedFetchTimeout    time.Duration `env:"FEED_FETCH_TIMEOUT" envDefault:"12s"`
	ContentFetchTimeout time.Duration `env:"CONTENT_FETCH_TIMEOUT" envDefault:"10s"`
	WebFetchRPS         float64       `env:"WEB_FETCH_RPS" envDefault:"4"`

	// DB pool
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"2"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30s"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
	DBStatementTimeout  time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from the environment, loading a .env file first
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
