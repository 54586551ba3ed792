// Package config loads process configuration from environment variables,
// with an optional TOML file as a lower-precedence base (see loader.go).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/codeforprod/eventforge/internal/inbox"
	"github.com/codeforprod/eventforge/internal/outbox"
)

// Config holds all configuration for the relay/inbox process.
type Config struct {
	// HTTP server configuration (health + metrics endpoints)
	HTTP HTTPConfig

	// MongoDB configuration
	MongoDB MongoDBConfig

	// Postgres configuration, used when Storage.Backend == "postgres"
	Postgres PostgresConfig

	// Storage selects which repository adapter backs the outbox/inbox.
	Storage StorageConfig

	// Queue configuration (NATS or SQS) backing the outbox publisher
	Queue QueueConfig

	// Leader election configuration
	Leader LeaderConfig

	// Outbox relay tunables
	Outbox outbox.Config

	// Inbox service tunables
	Inbox inbox.Config

	// Data directory for embedded services (e.g. embedded NATS)
	DataDir string

	// Development mode
	DevMode bool
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN string
}

// StorageConfig selects and names the repository backend and its tables/collections.
type StorageConfig struct {
	// Backend is "mongodb" or "postgres"
	Backend string

	OutboxTable string
	InboxTable  string
}

// QueueConfig holds queue configuration
type QueueConfig struct {
	Type string // "nats" or "sqs"

	// PublishRatePerSecond caps how fast a claimed batch fans out to the
	// broker; zero disables the limiter.
	PublishRatePerSecond float64
	PublishBurst         int

	NATS NATSConfig
	SQS  SQSConfig
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL     string
	Subject string
	DataDir string

	// Embedded runs an in-process NATS server instead of connecting to URL,
	// for single-binary deployments and local development.
	Embedded bool
}

// SQSConfig holds AWS SQS configuration
type SQSConfig struct {
	QueueURL          string
	Region            string
	WaitTimeSeconds   int
	VisibilityTimeout int

	// FIFO enables MessageGroupId/DeduplicationId on sends (required for
	// .fifo queues).
	FIFO bool

	// Endpoint, when set, points at a local stack (ElasticMQ, LocalStack)
	// with static credentials instead of the default AWS chain.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// LeaderConfig holds leader election configuration for single-active-relay
// deployments; additive to, not a replacement for, the atomic row claim
// every repository adapter must provide.
type LeaderConfig struct {
	Enabled         bool
	InstanceID      string
	LockName        string
	TTL             time.Duration
	RefreshInterval time.Duration
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	outboxDefaults := outbox.DefaultConfig()
	inboxDefaults := inbox.DefaultConfig()

	cfg := &Config{
		HTTP: HTTPConfig{
			Port: getEnvInt("HTTP_PORT", 8080),
		},

		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"),
			Database: getEnv("MONGODB_DATABASE", "eventforge"),
		},

		Postgres: PostgresConfig{
			DSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/eventforge?sslmode=disable"),
		},

		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "mongodb"),
			OutboxTable: getEnv("STORAGE_OUTBOX_TABLE", "outbox_messages"),
			InboxTable:  getEnv("STORAGE_INBOX_TABLE", "inbox_messages"),
		},

		Queue: QueueConfig{
			Type:                 getEnv("QUEUE_TYPE", "nats"),
			PublishRatePerSecond: getEnvFloat("QUEUE_PUBLISH_RATE_PER_SECOND", 0),
			PublishBurst:         getEnvInt("QUEUE_PUBLISH_BURST", 1),
			NATS: NATSConfig{
				URL:      getEnv("NATS_URL", "nats://localhost:4222"),
				Subject:  getEnv("NATS_SUBJECT_PREFIX", "eventforge"),
				DataDir:  getEnv("NATS_DATA_DIR", "./data/nats"),
				Embedded: getEnvBool("NATS_EMBEDDED", false),
			},
			SQS: SQSConfig{
				QueueURL:          getEnv("SQS_QUEUE_URL", ""),
				Region:            getEnv("AWS_REGION", "us-east-1"),
				WaitTimeSeconds:   getEnvInt("SQS_WAIT_TIME_SECONDS", 20),
				VisibilityTimeout: getEnvInt("SQS_VISIBILITY_TIMEOUT", 120),
				FIFO:              getEnvBool("SQS_FIFO", false),
				Endpoint:          getEnv("SQS_ENDPOINT", ""),
				AccessKey:         getEnv("SQS_ACCESS_KEY", ""),
				SecretKey:         getEnv("SQS_SECRET_KEY", ""),
			},
		},

		Leader: LeaderConfig{
			Enabled:         getEnvBool("LEADER_ELECTION_ENABLED", false),
			InstanceID:      getEnv("HOSTNAME", ""),
			LockName:        getEnv("LEADER_LOCK_NAME", "outbox-relay"),
			TTL:             getEnvDuration("LEADER_TTL", 30*time.Second),
			RefreshInterval: getEnvDuration("LEADER_REFRESH_INTERVAL", 10*time.Second),
		},

		Outbox: outbox.Config{
			PollingInterval:     getEnvDuration("OUTBOX_POLLING_INTERVAL_MS", outboxDefaults.PollingInterval),
			BatchSize:           getEnvInt("OUTBOX_BATCH_SIZE", outboxDefaults.BatchSize),
			MaxRetries:          getEnvInt("OUTBOX_MAX_RETRIES", outboxDefaults.MaxRetries),
			LockTimeout:         getEnvDuration("OUTBOX_LOCK_TIMEOUT_SECONDS", outboxDefaults.LockTimeout),
			BackoffBase:         getEnvDuration("OUTBOX_BACKOFF_BASE_SECONDS", outboxDefaults.BackoffBase),
			MaxBackoff:          getEnvDuration("OUTBOX_MAX_BACKOFF_SECONDS", outboxDefaults.MaxBackoff),
			CleanupInterval:     getEnvDuration("OUTBOX_CLEANUP_INTERVAL_MS", outboxDefaults.CleanupInterval),
			RetentionDays:       getEnvInt("OUTBOX_RETENTION_DAYS", outboxDefaults.RetentionDays),
			ImmediateProcessing: getEnvBool("OUTBOX_IMMEDIATE_PROCESSING", outboxDefaults.ImmediateProcessing),
			WorkerID:            getEnv("OUTBOX_WORKER_ID", outboxDefaults.WorkerID),
		},

		Inbox: inbox.Config{
			MaxRetries:           getEnvInt("INBOX_MAX_RETRIES", inboxDefaults.MaxRetries),
			EnableRetry:          getEnvBool("INBOX_ENABLE_RETRY", inboxDefaults.EnableRetry),
			RetryPollingInterval: getEnvDuration("INBOX_RETRY_POLLING_INTERVAL_MS", inboxDefaults.RetryPollingInterval),
			RetryBatchSize:       getEnvInt("INBOX_RETRY_BATCH_SIZE", inboxDefaults.RetryBatchSize),
			BackoffBase:          getEnvDuration("INBOX_BACKOFF_BASE_SECONDS", inboxDefaults.BackoffBase),
			MaxBackoff:           getEnvDuration("INBOX_MAX_BACKOFF_SECONDS", inboxDefaults.MaxBackoff),
			CleanupInterval:      getEnvDuration("INBOX_CLEANUP_INTERVAL_MS", inboxDefaults.CleanupInterval),
			RetentionDays:        getEnvInt("INBOX_RETENTION_DAYS", inboxDefaults.RetentionDays),
		},

		DataDir: getEnv("DATA_DIR", "./data"),
		DevMode: getEnvBool("EVENTFORGE_DEV", false),
	}

	return cfg, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration parses key as a Go duration string (e.g. "1000ms", "300s").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

