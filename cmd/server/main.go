package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/config"
	"github.com/ledgerline/reconcile/internal/event"
	"github.com/ledgerline/reconcile/internal/importer"
	httpserver "github.com/ledgerline/reconcile/internal/interfaces/http"
	"github.com/ledgerline/reconcile/internal/job"
	"github.com/ledgerline/reconcile/internal/processor"
	"github.com/ledgerline/reconcile/internal/reconcile"
	"github.com/ledgerline/reconcile/internal/repository"
	"github.com/ledgerline/reconcile/internal/storage"
	"github.com/ledgerline/reconcile/internal/workflow"
	"github.com/ledgerline/reconcile/pkg/database"
	"github.com/ledgerline/reconcile/pkg/utils"
)

func main() {
	// Load .env if present; real environments set variables directly
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting reconciliation service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)
	paymentRepo := repository.NewPaymentRepository(db.DB, logger)
	recRepo := repository.NewReconciliationRepository(db.DB, logger)
	excRepo := repository.NewExceptionRepository(db.DB, logger)
	jobRepo := repository.NewJobRepository(db.DB, logger)

	// Blob storage
	store, err := storage.NewLocalStore(cfg.Storage.Root, cfg.Server.BaseURL, cfg.Storage.SigningSecret, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	// Event bus
	bus := event.NewBus(cfg.Events.Buffer, logger)

	// Document processors
	registry := processor.NewRegistry()
	if cfg.OpenAI.APIKey != "" {
		registry.Register(processor.NewOpenAIProcessor(
			"openai",
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.Temperature,
			cfg.OpenAI.MaxTokens,
			logger,
		))
	} else {
		logger.Warn("OPENAI_API_KEY not set; document extraction is disabled")
	}

	// Workflow engine
	flows := workflow.NewEngine(registry, store, invoiceRepo, paymentRepo, logger)
	if err := flows.Register(workflow.DefaultIngestionDefinition()); err != nil {
		logger.Fatal("Failed to register default workflow", zap.Error(err))
	}

	// Processing job tracker
	tracker := job.NewTracker(jobRepo, flows, bus, store,
		cfg.Jobs.MaxConcurrent, cfg.Jobs.Timeout, logger)

	// Reconciliation engine
	engine := reconcile.NewEngine(invoiceRepo, paymentRepo, recRepo, excRepo,
		cfg.Reconcile, logger, reconcile.WithJobStore(jobRepo))

	// Bulk importer
	imp := importer.New(invoiceRepo, paymentRepo, logger)

	// HTTP server
	srv := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		PresignTTL:   cfg.Storage.PresignTTL,
	}, engine, tracker, flows, bus, store, imp,
		invoiceRepo, paymentRepo, recRepo, excRepo, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
