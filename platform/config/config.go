// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketInboxMedia() string
	IsMinIOEnabled() bool
}

// GatewayConfig provides timeouts for outbound calls to messaging gateways.
type GatewayConfig interface {
	GetGatewayTimeout() time.Duration
	GetMediaTimeout() time.Duration
	GetStorageTimeout() time.Duration
}

// WebhookConfig provides settings for the webhook ingress.
type WebhookConfig interface {
	GetWebhookSignatureMode() string
	GetWebhookMaxBodyBytes() int64
	GetWebhookRateLimitRPS() float64
	GetWebhookRateLimitBurst() int
}

// SchedulerConfig provides settings for the asynq hand-off queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetAsynqQueueName() string
	IsSchedulerEnabled() bool
}

// BrokerConfig provides settings for the RabbitMQ event publisher.
type BrokerConfig interface {
	GetAMQPURL() string
	GetBrokerExchange() string
	GetBrokerPublishTimeout() time.Duration
	IsBrokerEnabled() bool
}

// IdentityCacheConfig provides settings for the privacy-id resolution cache.
type IdentityCacheConfig interface {
	GetRedisURL() string
	GetIdentityCacheTTL() time.Duration
	IsIdentityCacheEnabled() bool
}

// Signature modes accepted by WEBHOOK_SIGNATURE_MODE.
const (
	SignatureModeStrict = "strict"
	SignatureModeLog    = "log"
)

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env             string
	HTTPAddr        string
	DatabaseURL     string
	JWTAccessSecret string
	CORSAllowAll    bool
	CORSOrigins     []string
	CORSAllowCreds  bool

	MinIOEndpoint         string
	MinIOAccessKey        string
	MinIOSecretKey        string
	MinIOUseSSL           bool
	MinIOMaxFileSize      int64
	MinioBucketInboxMedia string

	GatewayTimeout time.Duration
	MediaTimeout   time.Duration
	StorageTimeout time.Duration

	WebhookSignatureMode  string
	WebhookMaxBodyBytes   int64
	WebhookRateLimitRPS   float64
	WebhookRateLimitBurst int

	RedisURL         string
	AsynqQueueName   string
	IdentityCacheTTL time.Duration

	AMQPURL              string
	BrokerExchange       string
	BrokerPublishTimeout time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// MinIOConfig
func (c *Config) GetMinIOEndpoint() string         { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string        { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string        { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool             { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64       { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketInboxMedia() string { return c.MinioBucketInboxMedia }
func (c *Config) IsMinIOEnabled() bool             { return c.MinIOEndpoint != "" }

// GatewayConfig
func (c *Config) GetGatewayTimeout() time.Duration { return c.GatewayTimeout }
func (c *Config) GetMediaTimeout() time.Duration   { return c.MediaTimeout }
func (c *Config) GetStorageTimeout() time.Duration { return c.StorageTimeout }

// WebhookConfig
func (c *Config) GetWebhookSignatureMode() string { return c.WebhookSignatureMode }
func (c *Config) GetWebhookMaxBodyBytes() int64   { return c.WebhookMaxBodyBytes }
func (c *Config) GetWebhookRateLimitRPS() float64 { return c.WebhookRateLimitRPS }
func (c *Config) GetWebhookRateLimitBurst() int   { return c.WebhookRateLimitBurst }

// SchedulerConfig / IdentityCacheConfig
func (c *Config) GetRedisURL() string                { return c.RedisURL }
func (c *Config) GetAsynqQueueName() string          { return c.AsynqQueueName }
func (c *Config) IsSchedulerEnabled() bool           { return c.RedisURL != "" }
func (c *Config) GetIdentityCacheTTL() time.Duration { return c.IdentityCacheTTL }
func (c *Config) IsIdentityCacheEnabled() bool {
	return c.RedisURL != "" && c.IdentityCacheTTL > 0
}

// BrokerConfig
func (c *Config) GetAMQPURL() string        { return c.AMQPURL }
func (c *Config) GetBrokerExchange() string { return c.BrokerExchange }
func (c *Config) GetBrokerPublishTimeout() time.Duration {
	return c.BrokerPublishTimeout
}
func (c *Config) IsBrokerEnabled() bool { return c.AMQPURL != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:             getEnv("APP_ENV", "development"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:    corsAllowAll,
		CORSOrigins:     corsOrigins,
		CORSAllowCreds:  strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),

		MinIOEndpoint:         getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:        getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:        getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:           strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:      mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "52428800")),
		MinioBucketInboxMedia: getEnv("MINIO_BUCKET_INBOX_MEDIA", "inbox-media"),

		GatewayTimeout: mustDuration(getEnv("GATEWAY_TIMEOUT", "5s")),
		MediaTimeout:   mustDuration(getEnv("MEDIA_TIMEOUT", "30s")),
		StorageTimeout: mustDuration(getEnv("STORAGE_TIMEOUT", "15s")),

		WebhookSignatureMode:  strings.ToLower(getEnv("WEBHOOK_SIGNATURE_MODE", SignatureModeStrict)),
		WebhookMaxBodyBytes:   mustInt64(getEnv("WEBHOOK_MAX_BODY_BYTES", "26214400")),
		WebhookRateLimitRPS:   mustFloat(getEnv("WEBHOOK_RATE_LIMIT_RPS", "50")),
		WebhookRateLimitBurst: int(mustInt64(getEnv("WEBHOOK_RATE_LIMIT_BURST", "100"))),

		RedisURL:         getEnv("REDIS_URL", ""),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "automation"),
		IdentityCacheTTL: mustDuration(getEnv("IDENTITY_CACHE_TTL", "24h")),

		AMQPURL:              getEnv("AMQP_URL", ""),
		BrokerExchange:       getEnv("BROKER_EXCHANGE", "inbox.events"),
		BrokerPublishTimeout: mustDuration(getEnv("BROKER_PUBLISH_TIMEOUT", "5s")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.WebhookSignatureMode != SignatureModeStrict && cfg.WebhookSignatureMode != SignatureModeLog {
		return nil, fmt.Errorf("WEBHOOK_SIGNATURE_MODE must be %q or %q", SignatureModeStrict, SignatureModeLog)
	}
	if cfg.GatewayTimeout <= 0 || cfg.MediaTimeout <= 0 || cfg.StorageTimeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT, MEDIA_TIMEOUT and STORAGE_TIMEOUT must be positive durations")
	}
	if cfg.BrokerPublishTimeout <= 0 {
		return nil, fmt.Errorf("BROKER_PUBLISH_TIMEOUT must be a positive duration")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
