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
	"github.com/robfig/cron/v3"
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

// SchedulerConfig provides settings for the asynq scheduler and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetActivationRunSchedule() string
	GetActivationRunTimeout() time.Duration
	GetActivationRunRetention() time.Duration
}

// EngineConfig provides settings for the activation engine runs.
type EngineConfig interface {
	GetUserTimezone() string
	GetActivationRunTimeout() time.Duration
}

// CRMConfig provides Salesforce connection and fan-out settings.
type CRMConfig interface {
	GetSalesforceInstanceURL() string
	GetSalesforceAPIVersion() string
	GetSalesforceAccessToken() string
	GetSalesforceClientID() string
	GetSalesforceClientSecret() string
	GetSalesforceRefreshToken() string
	GetSalesforceTokenURL() string
	GetCRMMaxConcurrentBatches() int
	GetCRMBatchDelay() time.Duration
	GetCRMRequestsPerSecond() float64
	GetCRMMaxRetries() int
}

// KafkaConfig provides settings for forwarding activation events to Kafka.
type KafkaConfig interface {
	GetKafkaBrokers() []string
	GetKafkaActivationTopic() string
	IsKafkaEnabled() bool
}

// StorageConfig provides settings for MinIO S3-compatible storage.
type StorageConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketRunSnapshots() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	JWTAccessSecret         string
	CORSAllowAll            bool
	CORSOrigins             []string
	CORSAllowCreds          bool
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueueName          string
	AsynqConcurrency        int
	ActivationRunSchedule   string
	ActivationRunTimeout    time.Duration
	ActivationRunRetention  time.Duration
	UserTimezone            string
	SalesforceInstanceURL   string
	SalesforceAPIVersion    string
	SalesforceAccessToken   string
	SalesforceClientID      string
	SalesforceClientSecret  string
	SalesforceRefreshToken  string
	SalesforceTokenURL      string
	CRMMaxConcurrentBatches int
	CRMBatchDelay           time.Duration
	CRMRequestsPerSecond    float64
	CRMMaxRetries           int
	KafkaBrokers            []string
	KafkaActivationTopic    string
	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	MinioBucketRunSnapshots string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                      { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool                { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string                { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int                 { return c.AsynqConcurrency }
func (c *Config) GetActivationRunSchedule() string         { return c.ActivationRunSchedule }
func (c *Config) GetActivationRunTimeout() time.Duration   { return c.ActivationRunTimeout }
func (c *Config) GetActivationRunRetention() time.Duration { return c.ActivationRunRetention }

// EngineConfig implementation
func (c *Config) GetUserTimezone() string { return c.UserTimezone }

// CRMConfig implementation
func (c *Config) GetSalesforceInstanceURL() string   { return c.SalesforceInstanceURL }
func (c *Config) GetSalesforceAPIVersion() string    { return c.SalesforceAPIVersion }
func (c *Config) GetSalesforceAccessToken() string   { return c.SalesforceAccessToken }
func (c *Config) GetSalesforceClientID() string      { return c.SalesforceClientID }
func (c *Config) GetSalesforceClientSecret() string  { return c.SalesforceClientSecret }
func (c *Config) GetSalesforceRefreshToken() string  { return c.SalesforceRefreshToken }
func (c *Config) GetSalesforceTokenURL() string      { return c.SalesforceTokenURL }
func (c *Config) GetCRMMaxConcurrentBatches() int    { return c.CRMMaxConcurrentBatches }
func (c *Config) GetCRMBatchDelay() time.Duration    { return c.CRMBatchDelay }
func (c *Config) GetCRMRequestsPerSecond() float64   { return c.CRMRequestsPerSecond }
func (c *Config) GetCRMMaxRetries() int              { return c.CRMMaxRetries }
func (c *Config) IsCRMConfigured() bool              { return c.SalesforceInstanceURL != "" }

// KafkaConfig implementation
func (c *Config) GetKafkaBrokers() []string       { return c.KafkaBrokers }
func (c *Config) GetKafkaActivationTopic() string { return c.KafkaActivationTopic }
func (c *Config) IsKafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaActivationTopic != ""
}

// StorageConfig implementation
func (c *Config) GetMinIOEndpoint() string           { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string          { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string          { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool               { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketRunSnapshots() string { return c.MinioBucketRunSnapshots }
func (c *Config) IsMinIOEnabled() bool               { return c.MinIOEndpoint != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		JWTAccessSecret:         getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:            corsAllowAll,
		CORSOrigins:             corsOrigins,
		CORSAllowCreds:          strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:        mustInt(getEnv("ASYNQ_CONCURRENCY", "2")),
		ActivationRunSchedule:   getEnv("ACTIVATION_RUN_SCHEDULE", "*/30 * * * *"),
		ActivationRunTimeout:    mustDuration(getEnv("ACTIVATION_RUN_TIMEOUT", "20m")),
		ActivationRunRetention:  time.Duration(mustInt(getEnv("ACTIVATION_RUN_RETENTION_DAYS", "30"))) * 24 * time.Hour,
		UserTimezone:            getEnv("ACTIVATION_USER_TIMEZONE", "UTC"),
		SalesforceInstanceURL:   strings.TrimRight(getEnv("SALESFORCE_INSTANCE_URL", ""), "/"),
		SalesforceAPIVersion:    getEnv("SALESFORCE_API_VERSION", "v60.0"),
		SalesforceAccessToken:   getEnv("SALESFORCE_ACCESS_TOKEN", ""),
		SalesforceClientID:      getEnv("SALESFORCE_CLIENT_ID", ""),
		SalesforceClientSecret:  getEnv("SALESFORCE_CLIENT_SECRET", ""),
		SalesforceRefreshToken:  getEnv("SALESFORCE_REFRESH_TOKEN", ""),
		SalesforceTokenURL:      getEnv("SALESFORCE_TOKEN_URL", "https://login.salesforce.com/services/oauth2/token"),
		CRMMaxConcurrentBatches: mustInt(getEnv("CRM_MAX_CONCURRENT_BATCHES", "3")),
		CRMBatchDelay:           mustDuration(getEnv("CRM_BATCH_DELAY", "250ms")),
		CRMRequestsPerSecond:    mustFloat(getEnv("CRM_REQUESTS_PER_SECOND", "20")),
		CRMMaxRetries:           mustInt(getEnv("CRM_MAX_RETRIES", "5")),
		KafkaBrokers:            splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaActivationTopic:    getEnv("KAFKA_ACTIVATION_TOPIC", "activations.events"),
		MinIOEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketRunSnapshots: getEnv("MINIO_BUCKET_RUN_SNAPSHOTS", "activation-run-snapshots"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if _, err := cron.ParseStandard(c.ActivationRunSchedule); err != nil {
		return fmt.Errorf("ACTIVATION_RUN_SCHEDULE is not a valid cron spec: %w", err)
	}
	if c.ActivationRunTimeout <= 0 {
		return fmt.Errorf("ACTIVATION_RUN_TIMEOUT must be a positive duration")
	}
	if _, err := time.LoadLocation(c.UserTimezone); err != nil {
		return fmt.Errorf("ACTIVATION_USER_TIMEZONE is not a known IANA zone: %w", err)
	}
	if c.CRMMaxConcurrentBatches <= 0 {
		return fmt.Errorf("CRM_MAX_CONCURRENT_BATCHES must be positive")
	}
	if c.SalesforceInstanceURL != "" && c.SalesforceAccessToken == "" && c.SalesforceRefreshToken == "" {
		return fmt.Errorf("SALESFORCE_ACCESS_TOKEN or SALESFORCE_REFRESH_TOKEN is required when SALESFORCE_INSTANCE_URL is set")
	}
	if c.SalesforceRefreshToken != "" && (c.SalesforceClientID == "" || c.SalesforceClientSecret == "") {
		return fmt.Errorf("SALESFORCE_CLIENT_ID and SALESFORCE_CLIENT_SECRET are required with SALESFORCE_REFRESH_TOKEN")
	}
	return nil
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

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
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
