// EventForge Relay
//
// Standalone relay binary for production deployments. Runs the outbox relay
// (poll, claim, publish) and the inbox service (dedup intake, handler
// dispatch, optional retry loop) against the configured storage backend and
// broker, exposing health and Prometheus metrics over HTTP.

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeforprod/eventforge/internal/common/health"
	"github.com/codeforprod/eventforge/internal/common/leader"
	"github.com/codeforprod/eventforge/internal/common/lifecycle"
	"github.com/codeforprod/eventforge/internal/common/metrics"
	mongoclient "github.com/codeforprod/eventforge/internal/common/mongo"
	"github.com/codeforprod/eventforge/internal/config"
	"github.com/codeforprod/eventforge/internal/inbox"
	"github.com/codeforprod/eventforge/internal/inboxmongo"
	"github.com/codeforprod/eventforge/internal/inboxpg"
	"github.com/codeforprod/eventforge/internal/outbox"
	"github.com/codeforprod/eventforge/internal/outboxmongo"
	"github.com/codeforprod/eventforge/internal/outboxpg"
	"github.com/codeforprod/eventforge/internal/publisher"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Configure logging
	logLevel := slog.LevelInfo
	if os.Getenv("EVENTFORGE_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting EventForge Relay",
		"version", version,
		"build_time", buildTime)

	cfg, err := config.LoadWithFile()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := lifecycle.NewManager()
	healthChecker := health.NewChecker()

	// Storage
	var (
		outboxRepo outbox.Repository
		inboxRepo  inbox.Repository
		elector    *leader.LeaderElector
	)

	switch cfg.Storage.Backend {
	case "mongodb":
		slog.Info("Connecting to MongoDB", "database", cfg.MongoDB.Database)
		client, err := mongoclient.Connect(ctx, cfg.MongoDB)
		if err != nil {
			slog.Error("Failed to connect to MongoDB", "error", err)
			os.Exit(1)
		}
		shutdown.RegisterDatabaseShutdown("mongodb", client.Disconnect)

		if err := mongoclient.NewIndexInitializer(client).Initialize(ctx); err != nil {
			slog.Error("Failed to initialize indexes", "error", err)
			os.Exit(1)
		}

		healthChecker.AddReadinessCheck(health.MongoDBCheck(func() error {
			return client.Ping(ctx)
		}))

		outboxRepo = outboxmongo.New(client.Database(), cfg.Storage.OutboxTable)
		inboxRepo = inboxmongo.New(client.Database(), cfg.Storage.InboxTable)

		if cfg.Leader.Enabled {
			electorCfg := leader.DefaultElectorConfig(cfg.Leader.LockName)
			if cfg.Leader.InstanceID != "" {
				electorCfg.InstanceID = cfg.Leader.InstanceID
			}
			if cfg.Leader.TTL > 0 {
				electorCfg.TTL = cfg.Leader.TTL
			}
			if cfg.Leader.RefreshInterval > 0 {
				electorCfg.RefreshInterval = cfg.Leader.RefreshInterval
			}
			elector = leader.NewLeaderElector(client.Database(), electorCfg)
		}

	case "postgres":
		slog.Info("Connecting to Postgres")
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			slog.Error("Failed to open Postgres connection", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			slog.Error("Failed to ping Postgres", "error", err)
			os.Exit(1)
		}
		shutdown.RegisterDatabaseShutdown("postgres", func(ctx context.Context) error {
			return db.Close()
		})

		healthChecker.AddReadinessCheck(func() health.Check {
			if err := db.PingContext(ctx); err != nil {
				return health.Check{Name: "Postgres", Status: health.StatusDown,
					Data: map[string]interface{}{"error": err.Error()}}
			}
			return health.Check{Name: "Postgres", Status: health.StatusUp}
		})

		pgOutbox := outboxpg.New(db, cfg.Storage.OutboxTable)
		pgInbox := inboxpg.New(db, cfg.Storage.InboxTable)
		if err := pgOutbox.CreateSchema(ctx); err != nil {
			slog.Error("Failed to create outbox schema", "error", err)
			os.Exit(1)
		}
		if err := pgInbox.CreateSchema(ctx); err != nil {
			slog.Error("Failed to create inbox schema", "error", err)
			os.Exit(1)
		}
		outboxRepo = pgOutbox
		inboxRepo = pgInbox

		if cfg.Leader.Enabled {
			slog.Warn("Leader election requires the MongoDB backend; running leaderless on row claims alone")
		}

	default:
		slog.Error("Unknown storage backend", "backend", cfg.Storage.Backend)
		os.Exit(1)
	}

	outboxRepo = outbox.NewInstrumentedRepository(outboxRepo, cfg.Storage.OutboxTable)
	inboxRepo = inbox.NewInstrumentedRepository(inboxRepo, cfg.Storage.InboxTable)

	// Broker publisher
	pub, err := buildPublisher(ctx, cfg, healthChecker, shutdown)
	if err != nil {
		slog.Error("Failed to build publisher", "error", err)
		os.Exit(1)
	}
	pub = publisher.NewRateLimited(pub, cfg.Queue.PublishRatePerSecond, cfg.Queue.PublishBurst)

	// Engines
	relay := outbox.NewRelay(outboxRepo, pub, cfg.Outbox, outbox.MetricsObserver())
	inboxSvc := inbox.NewService(inboxRepo, cfg.Inbox, inbox.MetricsObserver())

	healthChecker.AddReadinessCheck(health.OutboxRelayCheck(func() health.RelayStats {
		// A standby instance waiting on leader election is healthy even
		// though its relay isn't running.
		if elector != nil && !elector.IsPrimary() {
			return health.RelayStats{Running: true}
		}
		s := relay.Stats()
		return health.RelayStats{Running: s.Running, LastPollTime: s.LastPollTime, LastError: s.LastError}
	}))
	if cfg.Inbox.EnableRetry {
		healthChecker.AddReadinessCheck(health.InboxServiceCheck(func() health.RelayStats {
			s := inboxSvc.Stats()
			return health.RelayStats{Running: s.Running, LastPollTime: s.LastPollTime, LastError: s.LastError}
		}))
	}

	// Supervise the engines: the relay is gated on leadership when an
	// elector is configured, the inbox service always runs locally.
	relayService := lifecycle.NewServiceFunc("outbox-relay",
		func(ctx context.Context) error {
			if elector != nil {
				elector.OnBecomeLeader(func() {
					metrics.OutboxLeaderElectionState.Set(1)
					relay.Start(ctx)
				})
				elector.OnLoseLeadership(func() {
					metrics.OutboxLeaderElectionState.Set(0)
					relay.Stop(ctx)
				})
				return elector.Start(ctx)
			}
			relay.Start(ctx)
			return nil
		},
		func(ctx context.Context) error {
			relay.Stop(ctx)
			if elector != nil {
				elector.Stop()
			}
			return nil
		},
	).WithHealth(func() error {
		if elector != nil && !elector.IsPrimary() {
			return nil
		}
		if s := relay.Stats(); s.LastError != "" {
			return fmt.Errorf("last poll failed: %s", s.LastError)
		}
		return nil
	})

	inboxService := lifecycle.NewServiceFunc("inbox-service",
		func(ctx context.Context) error {
			inboxSvc.Start(ctx)
			return nil
		},
		func(ctx context.Context) error {
			inboxSvc.Stop(ctx)
			return nil
		},
	)

	supervisor := lifecycle.NewSupervisor(relayService, inboxService)
	supCtx, supCancel := context.WithCancel(ctx)
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		if err := supervisor.Run(supCtx); err != nil {
			slog.Error("Supervisor failed", "error", err)
			shutdown.Shutdown()
		}
	}()

	shutdown.RegisterWorkerShutdown("engines", func(ctx context.Context) error {
		supCancel()
		select {
		case <-supDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if elector != nil {
		shutdown.RegisterLeaderShutdown("leader-election", func(ctx context.Context) error {
			elector.Release(ctx)
			return nil
		})
	}

	// HTTP server for health/metrics
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpMetrics)

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	r.Get("/relay/status", func(w http.ResponseWriter, req *http.Request) {
		stats := relay.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"running":       stats.Running,
			"lastPollTime":  stats.LastPollTime,
			"lastError":     stats.LastError,
			"workerId":      cfg.Outbox.WorkerID,
			"pollInterval":  cfg.Outbox.PollingInterval.String(),
			"batchSize":     cfg.Outbox.BatchSize,
			"queueType":     cfg.Queue.Type,
			"storage":       cfg.Storage.Backend,
			"leaderEnabled": elector != nil,
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	shutdown.RegisterHTTPShutdown("http", server.Shutdown)

	go func() {
		slog.Info("HTTP server starting", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			shutdown.Shutdown()
		}
	}()

	slog.Info("EventForge Relay started",
		"storage", cfg.Storage.Backend,
		"queue", cfg.Queue.Type,
		"worker_id", cfg.Outbox.WorkerID,
		"poll_interval", cfg.Outbox.PollingInterval,
		"batch_size", cfg.Outbox.BatchSize,
		"inbox_retry", cfg.Inbox.EnableRetry,
		"leader_election", elector != nil)

	if err := shutdown.Run(); err != nil {
		slog.Error("Shutdown incomplete", "error", err)
		os.Exit(1)
	}
	slog.Info("EventForge Relay stopped")
}

// httpMetrics records request counts and latency for the health/metrics
// surface.
func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		metrics.HTTPRequestsTotal.WithLabelValues(req.Method, req.URL.Path, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(req.Method, req.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// buildPublisher constructs the configured broker publisher, wrapped in a
// circuit breaker, and registers its readiness check. Only the embedded NATS
// server gets a shutdown hook; other publishers register none.
func buildPublisher(ctx context.Context, cfg *config.Config, healthChecker *health.Checker, shutdown *lifecycle.Manager) (outbox.Publisher, error) {
	switch cfg.Queue.Type {
	case "nats":
		var natsPub *publisher.NATSPublisher
		if cfg.Queue.NATS.Embedded {
			embedded, err := publisher.NewEmbeddedNATS(&publisher.EmbeddedNATSConfig{
				DataDir:    cfg.Queue.NATS.DataDir,
				Host:       "127.0.0.1",
				Port:       4222,
				StreamName: "EVENTFORGE",
				Subjects:   []string{cfg.Queue.NATS.Subject + ".>"},
				MaxAge:     24 * time.Hour,
			})
			if err != nil {
				return nil, err
			}
			// The embedded broker must outlive the workers' in-flight
			// publishes, so it shuts down with the storage connections.
			shutdown.RegisterDatabaseShutdown("embedded-nats", func(ctx context.Context) error {
				return embedded.Close()
			})
			natsPub = embedded.Publisher()
		} else {
			// The relay disconnects the publisher itself when it stops.
			p, err := publisher.NewNATSPublisher(cfg.Queue.NATS.URL, "EVENTFORGE")
			if err != nil {
				return nil, err
			}
			natsPub = p
		}
		healthChecker.AddReadinessCheck(health.NATSCheck(natsPub.IsConnected))
		return publisher.NewCircuitBreaker(natsPub, "nats"), nil

	case "sqs":
		var (
			sqsPub *publisher.SQSPublisher
			err    error
		)
		if cfg.Queue.SQS.Endpoint != "" {
			sqsPub, err = publisher.NewSQSPublisherWithStaticCredentials(ctx,
				cfg.Queue.SQS.Region, cfg.Queue.SQS.QueueURL, cfg.Queue.SQS.Endpoint,
				cfg.Queue.SQS.AccessKey, cfg.Queue.SQS.SecretKey, cfg.Queue.SQS.FIFO)
		} else {
			sqsPub, err = publisher.NewSQSPublisher(ctx,
				cfg.Queue.SQS.Region, cfg.Queue.SQS.QueueURL, cfg.Queue.SQS.FIFO)
		}
		if err != nil {
			return nil, err
		}
		healthChecker.AddReadinessCheck(health.SQSCheck(func() error { return nil }))
		return publisher.NewCircuitBreaker(sqsPub, "sqs"), nil

	default:
		return nil, fmt.Errorf("unknown queue type %q", cfg.Queue.Type)
	}
}
