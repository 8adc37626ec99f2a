package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/crucibleworks/crucible-backend/internal/app"
	jobsrepo "github.com/crucibleworks/crucible-backend/internal/data/repos/jobs"
	"github.com/crucibleworks/crucible-backend/internal/hitl"
	"github.com/crucibleworks/crucible-backend/internal/modules/extraction"
	"github.com/crucibleworks/crucible-backend/internal/observability"
	"github.com/crucibleworks/crucible-backend/internal/pipeline"
	"github.com/crucibleworks/crucible-backend/internal/platform/db"
	"github.com/crucibleworks/crucible-backend/internal/platform/logger"
	"github.com/crucibleworks/crucible-backend/internal/services"
	"github.com/crucibleworks/crucible-backend/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, cfgErr := app.Load()

	// Logger
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	if cfgErr != nil {
		log.Error("Could not load configuration", "error", cfgErr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn("OTel shutdown failed", "error", err)
		}
	}()

	// Database
	dbService, err := db.New(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Error("Auto migration failed", "error", err)
		os.Exit(1)
	}
	conn := dbService.DB()

	// Repos
	log.Info("Setting up repos...")
	jobRepo := jobsrepo.NewJobRepo(conn, log)
	requestRepo := jobsrepo.NewClarificationRequestRepo(conn, log)
	recordRepo := jobsrepo.NewCorrectionRecordRepo(conn, log)

	// Services
	log.Info("Setting up services...")
	clarificationService := services.NewClarificationService(conn, log, requestRepo, jobRepo)
	correctionService := services.NewCorrectionService(conn, log, jobRepo, recordRepo)
	_ = clarificationService
	_ = correctionService

	var statusCache services.StatusCache
	if cache, err := services.NewStatusCache(log); err != nil {
		log.Warn("Status cache unavailable, continuing without it", "error", err)
	} else {
		statusCache = cache
	}

	// Pipelines
	tracer := otel.Tracer("pipeline")
	engine := pipeline.NewEngine(log, jobRepo, requestRepo, tracer)
	registry := pipeline.NewRegistry()
	if err := registerPipelines(registry, cfg, log); err != nil {
		log.Error("Pipeline registration failed", "error", err)
		os.Exit(1)
	}
	log.Info("Pipelines registered", "names", registry.Names())

	// Worker
	w := worker.New(log, jobRepo, registry, engine, statusCache, worker.Config{
		DefaultPipeline: cfg.DefaultPipeline,
		PollInterval:    cfg.PollInterval,
		Concurrency:     cfg.WorkerConcurrency,
	})
	if err := w.Start(ctx); err != nil {
		log.Error("Worker pool exited", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

// registerPipelines wires the configured pipelines, falling back to the
// shipped extraction pipeline with a low-confidence gate when no config
// file is given.
func registerPipelines(registry *pipeline.Registry, cfg app.Config, log *logger.Logger) error {
	entries := cfg.Pipelines
	if len(entries) == 0 {
		entries = []app.PipelineConfig{{
			Name:     "extraction",
			Detector: hitl.DetectorLowConfidence,
		}}
	}
	for _, entry := range entries {
		var gate pipeline.Phase
		if entry.Detector != "" {
			detector, err := hitl.FromConfig(entry.Detector, entry.Options)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", entry.Name, err)
			}
			gate = hitl.NewGate(detector, log)
		}
		if err := registry.Register(entry.Name, extraction.Pipeline(gate)); err != nil {
			return err
		}
	}
	return nil
}
