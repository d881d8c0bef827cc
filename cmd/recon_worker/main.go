package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/settleline-recon-engine/internal/config"
	"github.com/settleline-recon-engine/internal/connector"
	"github.com/settleline-recon-engine/internal/data/mongo"
	"github.com/settleline-recon-engine/internal/data/postgres"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/logger"
	"github.com/settleline-recon-engine/internal/platform/messaging/consumers"
	"github.com/settleline-recon-engine/internal/platform/messaging/producers"
	"github.com/settleline-recon-engine/internal/platform/observability"
	"github.com/settleline-recon-engine/internal/platform/persistence"
	"github.com/settleline-recon-engine/internal/recon_worker/consumer"
	"github.com/settleline-recon-engine/internal/recon_worker/service"
	"github.com/settleline-recon-engine/internal/rules"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("recon_worker")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Recon Worker",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	jobRepo := postgres.NewJobRepository(log, postgresDB)
	resultRepo := postgres.NewResultRepository(log, postgresDB)
	excRepo := postgres.NewExceptionRepository(log, postgresDB)
	templateRepo := postgres.NewTemplateRepository(log, postgresDB)
	ruleRepo := postgres.NewRuleRepository(log, postgresDB)
	stagingRepo := postgres.NewRawRowRepository(log, postgresDB)
	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())

	// Initialize Kafka consumer
	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)

	// Initialize Kafka DLQ producer
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// dlqProducer might be nil if DLQTopic is not configured. Handler should be nil-safe.

	eventProducer, err := producers.NewEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize event Kafka producer", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// Rule engine auto-triages freshly raised exceptions
	ruleEngine := rules.NewEngine(log, metrics, ruleRepo, excRepo, auditRepo)

	// Job runner wrapped in a bounded worker pool
	jobRunner := service.NewJobRunner(
		&cfg.Recon,
		log,
		jobRepo,
		templateRepo,
		stagingRepo,
		resultRepo,
		excRepo,
		ruleEngine,
		eventProducer,
		metrics,
	)

	runnerService, err := service.NewWorkerPoolRunnerService(
		jobRunner,
		service.WorkerPoolConfig{Size: cfg.WorkerPool.Size},
		log,
	)
	if err != nil {
		log.Error("Failed to initialize worker pool", "error", err)
		os.Exit(1)
	}

	// Initialize run request handler
	runRequestHandler := consumer.NewRunRequestHandler(
		log,
		runnerService,
		dlqProducer,
		cfg.Retry,
	)

	// Source connectors: HTTP pull endpoints when configured
	var fetchers []connector.Fetcher
	if cfg.Connector.PGSourceURL != "" {
		fetchers = append(fetchers, connector.NewHTTPFetcher("gateway", shared.SourceSidePG, cfg.Connector.PGSourceURL, cfg.Connector.FetchTimeout))
	}
	if cfg.Connector.BankSourceURL != "" {
		fetchers = append(fetchers, connector.NewHTTPFetcher("bank", shared.SourceSideBank, cfg.Connector.BankSourceURL, cfg.Connector.FetchTimeout))
	}

	scheduler := connector.NewScheduler(
		&cfg.Connector,
		fetchers,
		stagingRepo,
		excRepo,
		auditRepo,
		eventProducer,
		metrics,
		log,
	)

	// Status server: Prometheus metrics plus connector health for the API
	// to read through
	statusServer := newStatusServer(cfg.Connector.StatusPort, scheduler)

	// Create error channel for service errors
	errChan := make(chan error, 3)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start Kafka consumer in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Kafka consumer",
			"topic", cfg.Kafka.RunRequestTopic,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := kafkaConsumer.Subscribe(appCtx, cfg.Kafka.RunRequestTopic, cfg.Kafka.ConsumerGroup, runRequestHandler.HandleMessage); err != nil {
			errChan <- fmt.Errorf("kafka consumer error: %w", err)
		}
	}()

	// Start connector scheduler in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting connector scheduler",
			"interval", cfg.Connector.PollInterval.String(),
			"sources", len(fetchers),
		)
		scheduler.Start(appCtx)
	}()

	// Start status server in a goroutine
	go func() {
		log.Info("Starting status server", "port", cfg.Connector.StatusPort)
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("status server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Drain the worker pool before closing shared resources
	log.Info("Shutting down worker pool", "running_workers", runnerService.Running())
	runnerService.Shutdown()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	if err = statusServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during status server shutdown", "error", err)
	}

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Close DLQ Kafka producer
	if dlqProducer != nil { // dlqProducer can be nil if DLQTopic was not configured
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	if err = eventProducer.Close(); err != nil {
		log.Error("Error closing event Kafka producer", "error", err)
	}

	// Close Kafka consumer
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Recon Worker shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Recon Worker shutdown completed with errors")
	} else {
		log.Info("Recon Worker shutdown completed successfully")
	}
}

// newStatusServer exposes metrics and connector health on the worker's own
// port so the API can stay stateless about scheduler internals
func newStatusServer(port int, scheduler *connector.Scheduler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/connectors/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": scheduler.HealthSnapshots(),
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}
