package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds configuration for the evaluator service.
type Config struct {
	HTTPPort   string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	EncryptKey string `env:"ENCRYPTION_KEY" envDefault:"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"`

	// Empty disables API authentication
	JWTSecret string `env:"JWT_SECRET"`
	// Empty disables CORS headers
	CORSOrigin string `env:"CORS_ALLOW_ORIGIN" envDefault:"*"`

	Database    DatabaseConfig
	Cache       CacheConfig
	Redis       RedisConfig
	Chat        ChatConfig
	LoggingSink LoggingSinkConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL,required,notEmpty"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// CacheConfig holds cache settings for model and provider lookups
type CacheConfig struct {
	ModelCacheSize    int           `env:"CACHE_MODEL_SIZE" envDefault:"500"`
	ModelCacheTTL     time.Duration `env:"CACHE_MODEL_TTL" envDefault:"15m"`
	ProviderCacheSize int           `env:"CACHE_PROVIDER_SIZE" envDefault:"100"`
	ProviderCacheTTL  time.Duration `env:"CACHE_PROVIDER_TTL" envDefault:"5m"`
}

// RedisConfig holds Redis connection settings. An empty address disables
// Redis and conversation locks fall back to process memory.
type RedisConfig struct {
	Address      string        `env:"REDIS_ADDRESS"`
	Password     string        `env:"REDIS_PASSWORD"`
	DB           int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// ChatConfig holds fan-out settings
type ChatConfig struct {
	// Deadline for a single model call inside a fan-out
	CallTimeout time.Duration `env:"CHAT_CALL_TIMEOUT" envDefault:"120s"`
	// Upper bound on how long one fan-out round may hold its conversation
	LockTTL     time.Duration `env:"CHAT_LOCK_TTL" envDefault:"5m"`
	SyncTimeout time.Duration `env:"PROVIDER_SYNC_TIMEOUT" envDefault:"10s"`
}

// LoggingSinkConfig holds configuration for the S3-based generation log sink
type LoggingSinkConfig struct {
	Enabled       bool          `env:"LOGGING_SINK_ENABLED" envDefault:"false"`
	BufferSize    int           `env:"LOGGING_SINK_BUFFER_SIZE" envDefault:"10000"`
	FlushSize     int           `env:"LOGGING_SINK_FLUSH_SIZE" envDefault:"1000"`
	FlushInterval time.Duration `env:"LOGGING_SINK_FLUSH_INTERVAL" envDefault:"5m"`
	S3Bucket      string        `env:"LOGGING_SINK_S3_BUCKET"`
	S3Region      string        `env:"LOGGING_SINK_S3_REGION" envDefault:"us-east-1"`
	S3Prefix      string        `env:"LOGGING_SINK_S3_PREFIX" envDefault:"generations/"`
	PodName       string        `env:"POD_NAME" envDefault:"evaluator-0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.LoggingSink.Enabled && cfg.LoggingSink.S3Bucket == "" {
		return nil, fmt.Errorf("LOGGING_SINK_S3_BUCKET is required when LOGGING_SINK_ENABLED is true")
	}
	if cfg.Chat.CallTimeout <= 0 {
		return nil, fmt.Errorf("CHAT_CALL_TIMEOUT must be positive")
	}
	// A round holds its conversation lock for at least one call timeout
	if cfg.Chat.LockTTL <= cfg.Chat.CallTimeout {
		return nil, fmt.Errorf("CHAT_LOCK_TTL (%s) must exceed CHAT_CALL_TIMEOUT (%s)", cfg.Chat.LockTTL, cfg.Chat.CallTimeout)
	}

	return &cfg, nil
}

// EncryptionKey decodes the hex ENCRYPTION_KEY into a 32-byte AES key
func (c *Config) EncryptionKey() ([]byte, error) {
	if len(c.EncryptKey) != 64 {
		return nil, fmt.Errorf("encryption key must be 64 hex characters (32 bytes)")
	}
	key, err := hex.DecodeString(c.EncryptKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be valid hex: %w", err)
	}
	return key, nil
}

// AuthEnabled reports whether API routes require a bearer JWT
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}
