// Package config provides configuration structures and validation for the application.
// It handles environment-based configuration for all major components including
// server settings, database connections, message queues, and operational parameters.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration (e.g., HTTP server, databases,
// message queues) and is validated during application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	WorkerPool  WorkerPoolConfig
	Connector   ConnectorConfig
	Recon       ReconConfig
	Retry       RetryConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	RunRequestTopic   string // recon run requests, API to worker
	EventTopic        string // job/exception change events for polling clients
	NumPartitions     int    // Number of partitions for topics
	ReplicationFactor int    // Replication factor for topics
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string // Topic for Dead Letter Queue
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration for the audit trail store
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of concurrent recon jobs
}

// ConnectorConfig drives the source connector scheduler in the worker
type ConnectorConfig struct {
	PollInterval  time.Duration // scheduler tick interval
	FetchTimeout  time.Duration // per-source fetch deadline
	SnoozeBatch   int           // max snoozed exceptions reopened per tick
	HistorySize   int           // run history entries retained per source
	PGSourceURL   string        // HTTP pull endpoint for gateway rows (optional)
	BankSourceURL string        // HTTP pull endpoint for bank rows (optional)

	StatusPort      int    // worker's status/metrics HTTP port
	WorkerStatusURL string // base URL the API uses to read worker health
}

// ReconConfig carries matching tolerances and read-path limits
type ReconConfig struct {
	AmountTolerancePaise int64
	DateWindow           time.Duration
	ResultBatchSize      int // rows per result insert batch
	MaxPageSize          int
	DefaultPageSize      int
}

// RetryConfig contains the bounded retry policy for transient failures
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.RunRequestTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_RUN_REQUEST_TOPIC is required")
	}
	if c.Kafka.EventTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_EVENT_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	// Validate Connector config
	if c.Connector.PollInterval <= 0 {
		validationErrors = append(validationErrors, "CONNECTOR_POLL_INTERVAL must be greater than 0")
	}
	if c.Connector.FetchTimeout <= 0 {
		validationErrors = append(validationErrors, "CONNECTOR_FETCH_TIMEOUT must be greater than 0")
	}
	if c.Connector.SnoozeBatch <= 0 {
		validationErrors = append(validationErrors, "CONNECTOR_SNOOZE_BATCH must be greater than 0")
	}
	if c.Connector.StatusPort <= 0 {
		validationErrors = append(validationErrors, "CONNECTOR_STATUS_PORT must be greater than 0")
	}
	if c.Connector.HistorySize <= 0 {
		validationErrors = append(validationErrors, "CONNECTOR_HISTORY_SIZE must be greater than 0")
	}

	// Validate Recon config
	if c.Recon.AmountTolerancePaise < 0 {
		validationErrors = append(validationErrors, "RECON_AMOUNT_TOLERANCE_PAISE must not be negative")
	}
	if c.Recon.DateWindow < 0 {
		validationErrors = append(validationErrors, "RECON_DATE_WINDOW must not be negative")
	}
	if c.Recon.ResultBatchSize <= 0 {
		validationErrors = append(validationErrors, "RECON_RESULT_BATCH_SIZE must be greater than 0")
	}
	if c.Recon.MaxPageSize <= 0 {
		validationErrors = append(validationErrors, "RECON_MAX_PAGE_SIZE must be greater than 0")
	}
	if c.Recon.DefaultPageSize <= 0 || c.Recon.DefaultPageSize > c.Recon.MaxPageSize {
		validationErrors = append(validationErrors, "RECON_DEFAULT_PAGE_SIZE must be between 1 and RECON_MAX_PAGE_SIZE")
	}

	// Validate Retry config
	if c.Retry.MaxAttempts <= 0 {
		validationErrors = append(validationErrors, "RETRY_MAX_ATTEMPTS must be greater than 0")
	}
	if c.Retry.BaseDelay <= 0 {
		validationErrors = append(validationErrors, "RETRY_BASE_DELAY must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
