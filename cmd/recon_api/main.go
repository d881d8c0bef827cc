package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/settleline-recon-engine/internal/api_gateway"
	"github.com/settleline-recon-engine/internal/api_gateway/service"
	"github.com/settleline-recon-engine/internal/config"
	"github.com/settleline-recon-engine/internal/data/mongo"
	"github.com/settleline-recon-engine/internal/data/postgres"
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/logger"
	"github.com/settleline-recon-engine/internal/platform/messaging/producers"
	"github.com/settleline-recon-engine/internal/platform/observability"
	"github.com/settleline-recon-engine/internal/platform/persistence"
	"github.com/settleline-recon-engine/internal/rules"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("recon_api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

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

	// Kafka producers: run requests toward the worker, change events for
	// polling clients
	runRequestProducer, err := producers.NewRunRequestProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize run request Kafka producer", "error", err)
		os.Exit(1)
	}

	eventProducer, err := producers.NewEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize event Kafka producer", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize repositories
	jobRepo := postgres.NewJobRepository(log, postgresDB)
	resultRepo := postgres.NewResultRepository(log, postgresDB)
	excRepo := postgres.NewExceptionRepository(log, postgresDB)
	templateRepo := postgres.NewTemplateRepository(log, postgresDB)
	ruleRepo := postgres.NewRuleRepository(log, postgresDB)
	stagingRepo := postgres.NewRawRowRepository(log, postgresDB)
	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())

	// Rule engine re-evaluates triage rules after each mutation
	ruleEngine := rules.NewEngine(log, metrics, ruleRepo, excRepo, auditRepo)

	// Initialize services
	reconService := service.NewReconService(log, jobRepo, resultRepo, runRequestProducer)
	exceptionService := service.NewExceptionService(
		log,
		excRepo, auditRepo, resultRepo, jobRepo, templateRepo, stagingRepo,
		ruleEngine, eventProducer,
		recon.Tolerances{
			AmountTolerancePaise: cfg.Recon.AmountTolerancePaise,
			DateWindow:           cfg.Recon.DateWindow,
		},
	)
	adminService := service.NewAdminService(log, templateRepo, ruleRepo)

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, metrics, reconService, exceptionService, adminService)
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Shutdown HTTP server
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	if err = runRequestProducer.Close(); err != nil {
		log.Error("Error closing run request Kafka producer", "error", err)
	}

	if err = eventProducer.Close(); err != nil {
		log.Error("Error closing event Kafka producer", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
