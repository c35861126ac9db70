package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/sjperalta/fintera-ledger/internal/config"
	"github.com/sjperalta/fintera-ledger/internal/database"
	"github.com/sjperalta/fintera-ledger/internal/handlers"
	"github.com/sjperalta/fintera-ledger/internal/jobs"
	"github.com/sjperalta/fintera-ledger/internal/metrics"
	"github.com/sjperalta/fintera-ledger/internal/middleware"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/internal/services"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Setup(cfg.Environment, cfg.LogLevel)

	// Initialize Sentry when DSN is configured
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
		}
	}

	metrics.Init()

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to database")

	if err := database.Migrate(db); err != nil {
		logger.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize background worker
	worker := jobs.NewWorker(cfg.WorkerCount)
	logger.Info("Started background worker", "goroutines", cfg.WorkerCount)

	// Initialize services
	svcs := services.NewServices(repos, worker, cfg, nil)

	// Schedule recurring jobs
	scheduleJobs(worker, svcs, cfg)

	// Initialize handlers
	h := handlers.NewHandlers(svcs)

	// Setup router
	router := setupRouter(h, cfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // synchronous recompute runs
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Shutdown background worker
	worker.Shutdown()
	logger.Info("Background worker stopped")

	if err := database.Close(db); err != nil {
		logger.Warn("Failed to close database", "error", err)
	}

	// Flush Sentry events before exit
	if cfg.SentryDSN != "" {
		sentry.Flush(5 * time.Second)
	}

	logger.Info("Server exited gracefully")
}

func setupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()

	// Global middleware
	if cfg.SentryDSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Prometheus scrape endpoint (public)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	handlers.RegisterRoutes(router.Group("/api/v1"), h, cfg.JWTSecret)

	return router
}

func scheduleJobs(worker *jobs.Worker, svcs *services.Services, cfg *config.Config) {
	if !cfg.Recompute.Enabled {
		logger.Info("Scheduled recompute disabled")
		return
	}

	// Drain the dirty backlog at startup, then on an interval
	worker.ScheduleEveryImmediate(services.JobRecomputeDirty, cfg.Recompute.Interval, func(ctx context.Context) error {
		result, err := svcs.Recompute.RunDirty(ctx, services.RecomputeOptions{})
		if err != nil {
			return scheduledJobError(result, err)
		}
		logger.Info("[Job] Recompute finished", "run_id", result.RunID, "dates_updated", len(result.DatesUpdated),
			"descriptive_errors", len(result.DescriptiveErrors))
		return nil
	})

	// Purge summaries without a date and loan reports without a loan
	worker.ScheduleEvery("maintenance", cfg.Recompute.MaintenanceInterval, func(ctx context.Context) error {
		for _, run := range []func(context.Context, services.RecomputeOptions) (*services.RecomputeResult, error){
			svcs.Recompute.PurgeNullDateSummaries,
			svcs.Recompute.CleanupOrphanLoanReports,
		} {
			result, err := run(ctx, services.RecomputeOptions{})
			if err != nil {
				return scheduledJobError(result, err)
			}
			logger.Info("[Job] Maintenance finished", "run_id", result.RunID, "job", result.Job, "deleted", result.Deleted)
		}
		return nil
	})

	logger.Info("Scheduled recurring jobs", "recompute_interval", cfg.Recompute.Interval,
		"maintenance_interval", cfg.Recompute.MaintenanceInterval)
}

// scheduledJobError skips ticks that overlap a running batch and reports
// fatal batch errors to Sentry
func scheduledJobError(result *services.RecomputeResult, err error) error {
	if errors.Is(err, services.ErrRecomputeRunning) {
		logger.Info("[Job] Batch already running, skipping tick")
		return nil
	}
	if result != nil && result.FatalError != "" {
		sentry.CaptureException(err)
	}
	return err
}
