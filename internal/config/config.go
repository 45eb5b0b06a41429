// Package config provides centralized configuration management for the import
// server. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all server configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Import   ImportConfig
	Storage  StorageConfig
	Notify   NotifyConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// KeepAlive is the interval between SSE keep-alive comments (default: 15s)
	KeepAlive time.Duration `env:"SERVER_SSE_KEEPALIVE" default:"15s"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP and X-Forwarded-For headers are honoured
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// EnsureSchema creates missing tables on startup (default: true)
	EnsureSchema bool `env:"DB_ENSURE_SCHEMA" default:"true"`
}

// UploadConfig holds file upload and row processing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum accepted file size (default: 100MiB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"100MiB" bytes:"true"`

	// BatchSize is the number of rows applied per batch (default: 500)
	BatchSize int `env:"UPLOAD_BATCH_SIZE" default:"500"`

	// BatchTimeout bounds the write of one started batch (default: 2m)
	BatchTimeout time.Duration `env:"UPLOAD_BATCH_TIMEOUT" default:"2m"`

	// Timeout is the maximum duration of one async import job (default: 30m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"30m"`

	// SyncTimeout bounds an inline import request (default: 60s)
	SyncTimeout time.Duration `env:"UPLOAD_SYNC_TIMEOUT" default:"60s"`
}

// ImportConfig holds job pipeline settings.
type ImportConfig struct {
	// SyncThreshold is the file size at which imports run as background jobs (default: 1MiB)
	SyncThreshold int64 `env:"IMPORT_SYNC_THRESHOLD" default:"1MiB" bytes:"true"`

	// MaxConcurrent is the number of jobs executing at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxQueued is the number of jobs waiting for an executor (default: 32)
	MaxQueued int `env:"IMPORT_MAX_QUEUED" default:"32"`

	// Retention is how long finished jobs stay queryable in memory (default: 1h)
	Retention time.Duration `env:"IMPORT_RETENTION" default:"1h"`

	// GCInterval is how often finished jobs are swept (default: 5m)
	GCInterval time.Duration `env:"IMPORT_GC_INTERVAL" default:"5m"`

	// MaxReportedErrors caps the row errors kept per job (default: 1000)
	MaxReportedErrors int `env:"IMPORT_MAX_REPORTED_ERRORS" default:"1000"`

	// SubscriberBuffer is the event buffer of each push subscriber (default: 16)
	SubscriberBuffer int `env:"IMPORT_SUBSCRIBER_BUFFER" default:"16"`
}

// StorageConfig holds object storage settings for archiving source files.
// Archiving is disabled when Endpoint is empty.
type StorageConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY" envAlt:"MINIO_ROOT_USER"`
	SecretKey string `env:"MINIO_SECRET_KEY" envAlt:"MINIO_ROOT_PASSWORD"`
	Bucket    string `env:"MINIO_BUCKET" default:"stock-imports"`
	Region    string `env:"MINIO_REGION"`
	UseSSL    bool   `env:"MINIO_USE_SSL" default:"false"`
}

// Enabled reports whether source archiving is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Endpoint != ""
}

// NotifyConfig holds completion notification settings.
type NotifyConfig struct {
	// WebhookURL receives finished job snapshots; empty logs them instead
	WebhookURL string `env:"NOTIFY_WEBHOOK_URL"`

	// Timeout bounds one webhook delivery (default: 5s)
	Timeout time.Duration `env:"NOTIFY_TIMEOUT" default:"5s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// LogstashAddr mirrors JSON logs to a Logstash TCP input when set
	LogstashAddr string `env:"LOGSTASH_TCP_ADDR"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
