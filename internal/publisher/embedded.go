package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EmbeddedNATS runs an in-process NATS server with JetStream enabled, for
// single-binary deployments and local development where an external broker
// isn't available. The relay publishes to it exactly as it would to an
// external cluster; data persists under DataDir across restarts.
type EmbeddedNATS struct {
	server  *server.Server
	conn    *nats.Conn
	js      jetstream.JetStream
	dataDir string
	port    int
	stream  string
}

// EmbeddedNATSConfig holds configuration for the embedded server.
type EmbeddedNATSConfig struct {
	// DataDir is the directory for JetStream persistence.
	DataDir string

	// Host is the bind address (default 127.0.0.1).
	Host string

	// Port is the server port (default 4222).
	Port int

	// StreamName is the JetStream stream name (default EVENTFORGE).
	StreamName string

	// Subjects is the subject set the stream captures; defaults to ">"
	// scoped under the subject prefix so every routing key lands in the
	// stream.
	Subjects []string

	// MaxAge bounds how long unconsumed messages live in the stream.
	MaxAge time.Duration
}

// DefaultEmbeddedNATSConfig returns the defaults for a local single-node run.
func DefaultEmbeddedNATSConfig() *EmbeddedNATSConfig {
	return &EmbeddedNATSConfig{
		DataDir:    "./data/nats",
		Host:       "127.0.0.1",
		Port:       4222,
		StreamName: "EVENTFORGE",
		Subjects:   []string{"eventforge.>"},
		MaxAge:     24 * time.Hour,
	}
}

// NewEmbeddedNATS creates and starts an embedded NATS server, connects to
// it, and ensures the configured stream exists.
func NewEmbeddedNATS(cfg *EmbeddedNATSConfig) (*EmbeddedNATS, error) {
	if cfg == nil {
		cfg = DefaultEmbeddedNATSConfig()
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("publisher: create NATS data directory: %w", err)
	}

	opts := &server.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.DataDir,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("publisher: create embedded NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("publisher: embedded NATS server failed to start within timeout")
	}

	slog.Info("Embedded NATS server started", "host", cfg.Host, "port", cfg.Port, "data_dir", cfg.DataDir)

	url := fmt.Sprintf("nats://%s:%d", cfg.Host, cfg.Port)
	conn, err := nats.Connect(url,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("publisher: connect to embedded NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("publisher: create JetStream context: %w", err)
	}

	e := &EmbeddedNATS{
		server:  ns,
		conn:    conn,
		js:      js,
		dataDir: cfg.DataDir,
		port:    cfg.Port,
		stream:  cfg.StreamName,
	}

	if err := e.ensureStream(context.Background(), cfg); err != nil {
		e.Close()
		return nil, fmt.Errorf("publisher: configure stream: %w", err)
	}

	slog.Info("JetStream stream configured", "stream", cfg.StreamName, "subjects", cfg.Subjects)
	return e, nil
}

func (e *EmbeddedNATS) ensureStream(ctx context.Context, cfg *EmbeddedNATSConfig) error {
	streamCfg := jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  cfg.Subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    cfg.MaxAge,
		Replicas:  1,
		Discard:   jetstream.DiscardOld,
		MaxMsgs:   -1,
		MaxBytes:  -1,
	}

	if _, err := e.js.Stream(ctx, cfg.StreamName); err != nil {
		if _, err := e.js.CreateStream(ctx, streamCfg); err != nil {
			return err
		}
		return nil
	}
	_, err := e.js.UpdateStream(ctx, streamCfg)
	return err
}

// Publisher returns a NATSPublisher backed by the embedded server's
// connection.
func (e *EmbeddedNATS) Publisher() *NATSPublisher {
	return &NATSPublisher{conn: e.conn, js: e.js, stream: e.stream}
}

// URL returns the client URL of the embedded server.
func (e *EmbeddedNATS) URL() string {
	return fmt.Sprintf("nats://127.0.0.1:%d", e.port)
}

// Close shuts down the connection and the embedded server.
func (e *EmbeddedNATS) Close() error {
	if e.conn != nil {
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}

	// JetStream's lock file can survive an unclean shutdown and block the
	// next start against the same DataDir.
	lockFile := filepath.Join(e.dataDir, "jetstream", "lock.lck")
	if _, err := os.Stat(lockFile); err == nil {
		os.Remove(lockFile)
	}
	return nil
}
