package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Ingest    IngestConfig
	Rules     RulesConfig
	Alerts    AlertsConfig
	Archive   ArchiveConfig
	Notify    NotifyConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration // Per-request handler timeout
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration. Redis backs import events and the
// alert delivery queue.
type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int

	// EventsChannel is the pub/sub channel import events are published on.
	EventsChannel string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// RateLimitConfig holds per-identity upload rate limiting configuration.
type RateLimitConfig struct {
	Enabled         bool
	RequestsPerSec  float64
	Burst           int
	CleanupInterval time.Duration
}

// IngestConfig holds ingestion queue and payload configuration.
type IngestConfig struct {
	Shards              int
	QueueSize           int
	EnqueueTimeout      time.Duration
	JobTimeout          time.Duration
	MaxCompressedSize   int64
	MaxDecompressedSize int64
	MaxRatio            float64
}

// RulesConfig holds the scheduled rule run configuration.
type RulesConfig struct {
	ScheduleEnabled bool
	Schedule        string
	File            string
	RunTimeout      time.Duration
}

// AlertsConfig holds the asynq alert delivery configuration.
type AlertsConfig struct {
	Enabled     bool
	Concurrency int
	Queue       string
	MaxRetry    int
}

// ArchiveConfig holds the raw report archive configuration.
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	RoleARN         string
	UsePathStyle    bool
}

// NotifyConfig holds the alert notification channels.
type NotifyConfig struct {
	WebhookURL      string
	SlackWebhookURL string
	SlackChannel    string
	Timeout         time.Duration
}

// HasChannel reports whether at least one notification channel is configured.
func (c *NotifyConfig) HasChannel() bool {
	return c.WebhookURL != "" || c.SlackWebhookURL != ""
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "scanmerge"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 20<<20), // 20MB, scan reports are large
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "scanmerge"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "scanmerge"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_ENABLED", false),
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "scanmerge:imports"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSec:  getEnvFloat("RATE_LIMIT_RPS", 2),
			Burst:           getEnvInt("RATE_LIMIT_BURST", 10),
			CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP", time.Minute),
		},
		Ingest: IngestConfig{
			Shards:              getEnvInt("INGEST_SHARDS", 4),
			QueueSize:           getEnvInt("INGEST_QUEUE_SIZE", 64),
			EnqueueTimeout:      getEnvDuration("INGEST_ENQUEUE_TIMEOUT", 2*time.Second),
			JobTimeout:          getEnvDuration("INGEST_JOB_TIMEOUT", 10*time.Minute),
			MaxCompressedSize:   getEnvInt64("INGEST_MAX_COMPRESSED_SIZE", 20<<20),
			MaxDecompressedSize: getEnvInt64("INGEST_MAX_DECOMPRESSED_SIZE", 100<<20),
			MaxRatio:            getEnvFloat("INGEST_MAX_RATIO", 200),
		},
		Rules: RulesConfig{
			ScheduleEnabled: getEnvBool("RULES_SCHEDULE_ENABLED", false),
			Schedule:        getEnv("RULES_SCHEDULE", "@hourly"),
			File:            getEnv("RULES_FILE", ""),
			RunTimeout:      getEnvDuration("RULES_RUN_TIMEOUT", 10*time.Minute),
		},
		Alerts: AlertsConfig{
			Enabled:     getEnvBool("ALERTS_ENABLED", false),
			Concurrency: getEnvInt("ALERTS_CONCURRENCY", 5),
			Queue:       getEnv("ALERTS_QUEUE", "alerts"),
			MaxRetry:    getEnvInt("ALERTS_MAX_RETRY", 3),
		},
		Archive: ArchiveConfig{
			Enabled:         getEnvBool("ARCHIVE_ENABLED", false),
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Prefix:          getEnv("ARCHIVE_PREFIX", "reports"),
			Region:          getEnv("ARCHIVE_REGION", "us-east-1"),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
			RoleARN:         getEnv("ARCHIVE_ROLE_ARN", ""),
			UsePathStyle:    getEnvBool("ARCHIVE_USE_PATH_STYLE", false),
		},
		Notify: NotifyConfig{
			WebhookURL:      getEnv("NOTIFY_WEBHOOK_URL", ""),
			SlackWebhookURL: getEnv("NOTIFY_SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnv("NOTIFY_SLACK_CHANNEL", ""),
			Timeout:         getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, errors.New("database host is required"))
	}
	if c.Database.Name == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Log.Level))
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(c.Log.Format)) {
		errs = append(errs, fmt.Errorf("invalid log format: %s", c.Log.Format))
	}
	if c.Ingest.Shards <= 0 || c.Ingest.QueueSize <= 0 {
		errs = append(errs, errors.New("ingest shards and queue size must be positive"))
	}
	if c.Ingest.MaxRatio < 1 {
		errs = append(errs, fmt.Errorf("invalid ingest max ratio: %v", c.Ingest.MaxRatio))
	}
	if c.Rules.ScheduleEnabled && c.Rules.Schedule == "" {
		errs = append(errs, errors.New("RULES_SCHEDULE is required when scheduled rule runs are enabled"))
	}
	if c.Alerts.Enabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("alert delivery requires REDIS_ENABLED=true"))
	}
	if c.Alerts.Enabled && !c.Notify.HasChannel() {
		errs = append(errs, errors.New("alert delivery requires NOTIFY_WEBHOOK_URL or NOTIFY_SLACK_WEBHOOK_URL"))
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, errors.New("ARCHIVE_BUCKET is required when the archive is enabled"))
	}
	if c.IsProduction() && c.Database.Password == "secret" {
		errs = append(errs, errors.New("DB_PASSWORD must be changed in production"))
	}

	return errors.Join(errs...)
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
