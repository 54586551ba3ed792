package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/codeforprod/eventforge/internal/inbox"
	"github.com/codeforprod/eventforge/internal/outbox"
)

// TOMLConfig represents the TOML configuration file structure
type TOMLConfig struct {
	HTTP     TOMLHTTPConfig     `toml:"http"`
	MongoDB  TOMLMongoDBConfig  `toml:"mongodb"`
	Postgres TOMLPostgresConfig `toml:"postgres"`
	Storage  TOMLStorageConfig  `toml:"storage"`
	Queue    TOMLQueueConfig    `toml:"queue"`
	Leader   TOMLLeaderConfig   `toml:"leader"`
	Outbox   TOMLOutboxConfig   `toml:"outbox"`
	Inbox    TOMLInboxConfig    `toml:"inbox"`
	DataDir  string             `toml:"data_dir"`
	DevMode  bool               `toml:"dev_mode"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML
type TOMLHTTPConfig struct {
	Port int `toml:"port"`
}

// TOMLMongoDBConfig represents MongoDB configuration in TOML
type TOMLMongoDBConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// TOMLPostgresConfig represents Postgres configuration in TOML
type TOMLPostgresConfig struct {
	DSN string `toml:"dsn"`
}

// TOMLStorageConfig represents storage backend selection in TOML
type TOMLStorageConfig struct {
	Backend     string `toml:"backend"`
	OutboxTable string `toml:"outbox_table"`
	InboxTable  string `toml:"inbox_table"`
}

// TOMLQueueConfig represents queue configuration in TOML
type TOMLQueueConfig struct {
	Type                 string         `toml:"type"`
	PublishRatePerSecond float64        `toml:"publish_rate_per_second"`
	PublishBurst         int            `toml:"publish_burst"`
	NATS                 TOMLNATSConfig `toml:"nats"`
	SQS                  TOMLSQSConfig  `toml:"sqs"`
}

// TOMLNATSConfig represents NATS configuration in TOML
type TOMLNATSConfig struct {
	URL      string `toml:"url"`
	Subject  string `toml:"subject_prefix"`
	DataDir  string `toml:"data_dir"`
	Embedded bool   `toml:"embedded"`
}

// TOMLSQSConfig represents SQS configuration in TOML
type TOMLSQSConfig struct {
	QueueURL          string `toml:"queue_url"`
	Region            string `toml:"region"`
	WaitTimeSeconds   int    `toml:"wait_time_seconds"`
	VisibilityTimeout int    `toml:"visibility_timeout"`
	FIFO              bool   `toml:"fifo"`
	Endpoint          string `toml:"endpoint"`
	AccessKey         string `toml:"access_key"`
	SecretKey         string `toml:"secret_key"`
}

// TOMLLeaderConfig represents leader election configuration in TOML
type TOMLLeaderConfig struct {
	Enabled         bool   `toml:"enabled"`
	InstanceID      string `toml:"instance_id"`
	LockName        string `toml:"lock_name"`
	TTL             string `toml:"ttl"`
	RefreshInterval string `toml:"refresh_interval"`
}

// TOMLOutboxConfig mirrors outbox.Config for file-based overrides.
type TOMLOutboxConfig struct {
	PollingInterval     string `toml:"polling_interval"`
	BatchSize           int    `toml:"batch_size"`
	MaxRetries          int    `toml:"max_retries"`
	LockTimeout         string `toml:"lock_timeout"`
	BackoffBase         string `toml:"backoff_base"`
	MaxBackoff          string `toml:"max_backoff"`
	CleanupInterval     string `toml:"cleanup_interval"`
	RetentionDays       int    `toml:"retention_days"`
	ImmediateProcessing bool   `toml:"immediate_processing"`
	WorkerID            string `toml:"worker_id"`
}

// TOMLInboxConfig mirrors inbox.Config for file-based overrides.
type TOMLInboxConfig struct {
	MaxRetries           int    `toml:"max_retries"`
	EnableRetry          bool   `toml:"enable_retry"`
	RetryPollingInterval string `toml:"retry_polling_interval"`
	RetryBatchSize       int    `toml:"retry_batch_size"`
	BackoffBase          string `toml:"backoff_base"`
	MaxBackoff           string `toml:"max_backoff"`
	CleanupInterval      string `toml:"cleanup_interval"`
	RetentionDays        int    `toml:"retention_days"`
}

// ConfigPaths lists the paths to search for config files
var ConfigPaths = []string{
	"config.toml",
	"application.toml",
	"eventforge.toml",
	"./config/config.toml",
	"./config/application.toml",
	"/etc/eventforge/config.toml",
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from file first, then overrides with env vars
func LoadWithFile() (*Config, error) {
	// Start with defaults from environment
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	// Check for explicit config file path
	configPath := os.Getenv("EVENTFORGE_CONFIG")
	if configPath == "" {
		// Search for config file in standard locations
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	// If no config file found, just use env vars
	if configPath == "" {
		return cfg, nil
	}

	// Load from file
	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	// Merge: file config as base, env vars override
	return mergeConfigs(fileCfg, cfg), nil
}

// tomlConfigToConfig converts TOML config to the internal Config struct
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port: tc.HTTP.Port,
		},
		MongoDB: MongoDBConfig{
			URI:      tc.MongoDB.URI,
			Database: tc.MongoDB.Database,
		},
		Postgres: PostgresConfig{
			DSN: tc.Postgres.DSN,
		},
		Storage: StorageConfig{
			Backend:     tc.Storage.Backend,
			OutboxTable: tc.Storage.OutboxTable,
			InboxTable:  tc.Storage.InboxTable,
		},
		Queue: QueueConfig{
			Type:                 tc.Queue.Type,
			PublishRatePerSecond: tc.Queue.PublishRatePerSecond,
			PublishBurst:         tc.Queue.PublishBurst,
			NATS: NATSConfig{
				URL:      tc.Queue.NATS.URL,
				Subject:  tc.Queue.NATS.Subject,
				DataDir:  tc.Queue.NATS.DataDir,
				Embedded: tc.Queue.NATS.Embedded,
			},
			SQS: SQSConfig{
				QueueURL:          tc.Queue.SQS.QueueURL,
				Region:            tc.Queue.SQS.Region,
				WaitTimeSeconds:   tc.Queue.SQS.WaitTimeSeconds,
				VisibilityTimeout: tc.Queue.SQS.VisibilityTimeout,
				FIFO:              tc.Queue.SQS.FIFO,
				Endpoint:          tc.Queue.SQS.Endpoint,
				AccessKey:         tc.Queue.SQS.AccessKey,
				SecretKey:         tc.Queue.SQS.SecretKey,
			},
		},
		Leader: LeaderConfig{
			Enabled:    tc.Leader.Enabled,
			InstanceID: tc.Leader.InstanceID,
			LockName:   tc.Leader.LockName,
		},
		Outbox: outbox.Config{
			BatchSize:           tc.Outbox.BatchSize,
			MaxRetries:          tc.Outbox.MaxRetries,
			RetentionDays:       tc.Outbox.RetentionDays,
			ImmediateProcessing: tc.Outbox.ImmediateProcessing,
			WorkerID:            tc.Outbox.WorkerID,
		},
		Inbox: inbox.Config{
			MaxRetries:     tc.Inbox.MaxRetries,
			EnableRetry:    tc.Inbox.EnableRetry,
			RetryBatchSize: tc.Inbox.RetryBatchSize,
			RetentionDays:  tc.Inbox.RetentionDays,
		},

		DataDir: tc.DataDir,
		DevMode: tc.DevMode,
	}

	if tc.Leader.TTL != "" {
		if d, err := time.ParseDuration(tc.Leader.TTL); err == nil {
			cfg.Leader.TTL = d
		}
	}
	if tc.Leader.RefreshInterval != "" {
		if d, err := time.ParseDuration(tc.Leader.RefreshInterval); err == nil {
			cfg.Leader.RefreshInterval = d
		}
	}

	if d, err := time.ParseDuration(tc.Outbox.PollingInterval); err == nil {
		cfg.Outbox.PollingInterval = d
	}
	if d, err := time.ParseDuration(tc.Outbox.LockTimeout); err == nil {
		cfg.Outbox.LockTimeout = d
	}
	if d, err := time.ParseDuration(tc.Outbox.BackoffBase); err == nil {
		cfg.Outbox.BackoffBase = d
	}
	if d, err := time.ParseDuration(tc.Outbox.MaxBackoff); err == nil {
		cfg.Outbox.MaxBackoff = d
	}
	if d, err := time.ParseDuration(tc.Outbox.CleanupInterval); err == nil {
		cfg.Outbox.CleanupInterval = d
	}

	if d, err := time.ParseDuration(tc.Inbox.RetryPollingInterval); err == nil {
		cfg.Inbox.RetryPollingInterval = d
	}
	if d, err := time.ParseDuration(tc.Inbox.BackoffBase); err == nil {
		cfg.Inbox.BackoffBase = d
	}
	if d, err := time.ParseDuration(tc.Inbox.MaxBackoff); err == nil {
		cfg.Inbox.MaxBackoff = d
	}
	if d, err := time.ParseDuration(tc.Inbox.CleanupInterval); err == nil {
		cfg.Inbox.CleanupInterval = d
	}

	// Zero-value tunables left unset by an incomplete TOML section fall back
	// to the package defaults rather than a bare zero (e.g. BatchSize: 0
	// would otherwise permanently starve the relay).
	outboxDefaults := outbox.DefaultConfig()
	if cfg.Outbox.PollingInterval == 0 {
		cfg.Outbox.PollingInterval = outboxDefaults.PollingInterval
	}
	if cfg.Outbox.BatchSize == 0 {
		cfg.Outbox.BatchSize = outboxDefaults.BatchSize
	}
	if cfg.Outbox.MaxRetries == 0 {
		cfg.Outbox.MaxRetries = outboxDefaults.MaxRetries
	}
	if cfg.Outbox.LockTimeout == 0 {
		cfg.Outbox.LockTimeout = outboxDefaults.LockTimeout
	}
	if cfg.Outbox.BackoffBase == 0 {
		cfg.Outbox.BackoffBase = outboxDefaults.BackoffBase
	}
	if cfg.Outbox.MaxBackoff == 0 {
		cfg.Outbox.MaxBackoff = outboxDefaults.MaxBackoff
	}
	if cfg.Outbox.CleanupInterval == 0 {
		cfg.Outbox.CleanupInterval = outboxDefaults.CleanupInterval
	}
	if cfg.Outbox.WorkerID == "" {
		cfg.Outbox.WorkerID = outboxDefaults.WorkerID
	}

	inboxDefaults := inbox.DefaultConfig()
	if cfg.Inbox.MaxRetries == 0 {
		cfg.Inbox.MaxRetries = inboxDefaults.MaxRetries
	}
	if cfg.Inbox.RetryPollingInterval == 0 {
		cfg.Inbox.RetryPollingInterval = inboxDefaults.RetryPollingInterval
	}
	if cfg.Inbox.RetryBatchSize == 0 {
		cfg.Inbox.RetryBatchSize = inboxDefaults.RetryBatchSize
	}
	if cfg.Inbox.BackoffBase == 0 {
		cfg.Inbox.BackoffBase = inboxDefaults.BackoffBase
	}
	if cfg.Inbox.MaxBackoff == 0 {
		cfg.Inbox.MaxBackoff = inboxDefaults.MaxBackoff
	}
	if cfg.Inbox.CleanupInterval == 0 {
		cfg.Inbox.CleanupInterval = inboxDefaults.CleanupInterval
	}

	return cfg, nil
}

// mergeConfigs merges two configs, with override taking precedence where its
// value is neither zero nor Load()'s default; Outbox and Inbox are taken from
// override as a whole
func mergeConfigs(base, override *Config) *Config {
	result := *base

	// HTTP
	if override.HTTP.Port != 0 && override.HTTP.Port != 8080 {
		result.HTTP.Port = override.HTTP.Port
	}

	// MongoDB
	if override.MongoDB.URI != "" && override.MongoDB.URI != "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true" {
		result.MongoDB.URI = override.MongoDB.URI
	}
	if override.MongoDB.Database != "" && override.MongoDB.Database != "eventforge" {
		result.MongoDB.Database = override.MongoDB.Database
	}

	// Postgres
	if override.Postgres.DSN != "" && override.Postgres.DSN != "postgres://localhost:5432/eventforge?sslmode=disable" {
		result.Postgres.DSN = override.Postgres.DSN
	}

	// Storage
	if override.Storage.Backend != "" && override.Storage.Backend != "mongodb" {
		result.Storage.Backend = override.Storage.Backend
	}

	// Queue
	if override.Queue.Type != "" && override.Queue.Type != "nats" {
		result.Queue.Type = override.Queue.Type
	}
	if override.Queue.NATS.URL != "" && override.Queue.NATS.URL != "nats://localhost:4222" {
		result.Queue.NATS.URL = override.Queue.NATS.URL
	}
	if override.Queue.NATS.DataDir != "" && override.Queue.NATS.DataDir != "./data/nats" {
		result.Queue.NATS.DataDir = override.Queue.NATS.DataDir
	}
	if override.Queue.NATS.Embedded {
		result.Queue.NATS.Embedded = true
	}
	if override.Queue.PublishRatePerSecond != 0 {
		result.Queue.PublishRatePerSecond = override.Queue.PublishRatePerSecond
	}
	if override.Queue.SQS.QueueURL != "" {
		result.Queue.SQS.QueueURL = override.Queue.SQS.QueueURL
	}
	if override.Queue.SQS.Region != "" && override.Queue.SQS.Region != "us-east-1" {
		result.Queue.SQS.Region = override.Queue.SQS.Region
	}
	if override.Queue.SQS.FIFO {
		result.Queue.SQS.FIFO = true
	}
	if override.Queue.SQS.Endpoint != "" {
		result.Queue.SQS.Endpoint = override.Queue.SQS.Endpoint
	}

	// Leader
	if override.Leader.Enabled {
		result.Leader.Enabled = true
	}
	if override.Leader.InstanceID != "" {
		result.Leader.InstanceID = override.Leader.InstanceID
	}

	// Outbox/Inbox: env defaults always win over file defaults for these
	// numeric tunables, since Load()'s own defaults already match
	// outbox.DefaultConfig()/inbox.DefaultConfig() and an explicit env var
	// is indistinguishable from "unset" once both sides agree on zero vs
	// default. File-only deployments should rely on LoadFromFile directly.
	result.Outbox = override.Outbox
	result.Inbox = override.Inbox

	// General
	if override.DataDir != "" && override.DataDir != "./data" {
		result.DataDir = override.DataDir
	}
	if override.DevMode {
		result.DevMode = true
	}

	return &result
}

// WriteExampleConfig writes an example configuration file
func WriteExampleConfig(path string) error {
	example := `# eventforge configuration
# Environment variables override these settings

[http]
port = 8080

[mongodb]
uri = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"
database = "eventforge"

[postgres]
dsn = "postgres://localhost:5432/eventforge?sslmode=disable"

[storage]
backend = "mongodb"  # mongodb or postgres
outbox_table = "outbox_messages"
inbox_table = "inbox_messages"

[queue]
type = "nats"  # nats or sqs

[queue.nats]
url = "nats://localhost:4222"
subject_prefix = "eventforge"
data_dir = "./data/nats"

[queue.sqs]
queue_url = ""
region = "us-east-1"
wait_time_seconds = 20
visibility_timeout = 120

[leader]
enabled = false
instance_id = ""
lock_name = "outbox-relay"
ttl = "30s"
refresh_interval = "10s"

[outbox]
polling_interval = "1000ms"
batch_size = 10
max_retries = 3
lock_timeout = "300s"
backoff_base = "2s"
max_backoff = "3600s"
cleanup_interval = "24h"
retention_days = 7
immediate_processing = true
worker_id = ""

[inbox]
max_retries = 3
enable_retry = false
retry_polling_interval = "5000ms"
retry_batch_size = 10
backoff_base = "2s"
max_backoff = "3600s"
cleanup_interval = "24h"
retention_days = 7

data_dir = "./data"
dev_mode = false
`

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
