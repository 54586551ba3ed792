package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
[http]
port = 9000

[storage]
backend = "postgres"
outbox_table = "events_out"

[queue]
type = "sqs"
publish_rate_per_second = 100.0

[queue.sqs]
queue_url = "https://sqs.example/queue"
region = "eu-west-1"
fifo = true

[outbox]
polling_interval = "2s"
batch_size = 25
max_retries = 5

[inbox]
enable_retry = true
retry_polling_interval = "10s"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.Storage.Backend != "postgres" || cfg.Storage.OutboxTable != "events_out" {
		t.Errorf("storage section not applied: %+v", cfg.Storage)
	}
	if cfg.Queue.Type != "sqs" || !cfg.Queue.SQS.FIFO || cfg.Queue.SQS.Region != "eu-west-1" {
		t.Errorf("queue section not applied: %+v", cfg.Queue)
	}
	if cfg.Queue.PublishRatePerSecond != 100.0 {
		t.Errorf("publish rate not applied, got %v", cfg.Queue.PublishRatePerSecond)
	}
	if cfg.Outbox.PollingInterval != 2*time.Second {
		t.Errorf("expected 2s polling interval, got %s", cfg.Outbox.PollingInterval)
	}
	if cfg.Outbox.BatchSize != 25 || cfg.Outbox.MaxRetries != 5 {
		t.Errorf("outbox tunables not applied: %+v", cfg.Outbox)
	}
	if !cfg.Inbox.EnableRetry || cfg.Inbox.RetryPollingInterval != 10*time.Second {
		t.Errorf("inbox section not applied: %+v", cfg.Inbox)
	}
}

func TestLoadFromFilePartialSectionsFallBackToDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[outbox]
batch_size = 25
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Outbox.BatchSize != 25 {
		t.Errorf("explicit batch size lost, got %d", cfg.Outbox.BatchSize)
	}
	// Tunables the file leaves unset must not collapse to zero.
	if cfg.Outbox.PollingInterval != 1000*time.Millisecond {
		t.Errorf("unset polling interval must default, got %s", cfg.Outbox.PollingInterval)
	}
	if cfg.Outbox.MaxRetries != 3 {
		t.Errorf("unset max retries must default, got %d", cfg.Outbox.MaxRetries)
	}
	if cfg.Inbox.RetryPollingInterval != 5000*time.Millisecond {
		t.Errorf("unset inbox retry interval must default, got %s", cfg.Inbox.RetryPollingInterval)
	}
}

func TestLoadFromFileMissingFile(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadWithFileEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
[http]
port = 9000

[storage]
backend = "postgres"
`)
	t.Setenv("EVENTFORGE_CONFIG", path)
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := LoadWithFile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9100 {
		t.Errorf("env var must override file value, got %d", cfg.HTTP.Port)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("file value must survive when env is silent, got %s", cfg.Storage.Backend)
	}
}

func TestWriteExampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.toml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := LoadFromFile(path); err != nil {
		t.Fatalf("generated example must parse: %v", err)
	}
}
