package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/draftline/internal"
	"github.com/DukeRupert/draftline/internal/handler"
	"github.com/DukeRupert/draftline/internal/metrics"
	"github.com/DukeRupert/draftline/internal/middleware"
	"github.com/DukeRupert/draftline/internal/worker"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, dialect, err := internal.OpenDatabase(ctx, cfg.DatabaseDriver, cfg.DatabaseUrl)
	if err != nil {
		return err
	}
	defer db.Close()

	// Run migrations
	if err := internal.RunMigrations(db, dialect); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready", "driver", dialect)

	// Initialize services
	svc, err := internal.NewServices(db, dialect, cfg, logger)
	if err != nil {
		return fmt.Errorf("service initialization failed: %w", err)
	}
	logger.Info("Billing periods resolved", "timezone", svc.Periods.Location().String(), "current_period", svc.Periods.Key(time.Now()))

	// ==========================================================================
	// Background worker
	// ==========================================================================

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	var w *worker.Worker
	if cfg.WorkerEnabled {
		workerCfg := worker.DefaultConfig()
		workerCfg.JobTimeout = cfg.WorkerJobTimeout

		w, err = worker.New(workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		if err := w.Register(svc.Normalizer, cfg.NormalizeInterval, worker.WithRunOnStart()); err != nil {
			return err
		}
		if err := w.Register(svc.Reconciler, cfg.ReconcileInterval); err != nil {
			return err
		}
		w.Start(workerCtx)
	} else {
		logger.Info("Worker disabled")
	}

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := cfg.Env != "development"
	identityMw := middleware.NewIdentityMiddleware(logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	jobTokenMw := middleware.NewJobTokenMiddleware(cfg.InternalJobToken, logger)

	// Per-tenant limiter on the usage routes, in front of the database
	usageLimiter := middleware.NewRateLimiter(600, time.Minute, logger)
	usageRateMw := middleware.NewRateLimitMiddleware(usageLimiter, middleware.ByUserID, logger)

	withIdentity := middleware.Stack(identityMw.WithIdentity, usageRateMw.Limit)
	requireUser := middleware.Stack(identityMw.WithIdentity, identityMw.RequireIdentity)

	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("METRICS_USERNAME and METRICS_PASSWORD are not set; /metrics is unprotected")
	}
	if cfg.InternalJobToken == "" {
		logger.Warn("INTERNAL_JOB_TOKEN is not set; internal job routes will reject every request")
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			handler.ErrorResponse(w, r, logger, fmt.Errorf("health check: %w", err))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	handler.NewQuotaHandler(svc.Quota, logger).RegisterRoutes(mux, withIdentity, requireUser)
	handler.NewReferralHandler(svc.Referrals, validator.New(validator.WithRequiredStructEnabled()), logger).RegisterRoutes(mux, requireUser)
	handler.NewJobsHandler(svc.Normalizer, logger).RegisterRoutes(mux, jobTokenMw.Handler)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           middleware.Stack(metrics.Middleware, loggingMw.Handler, securityMw.Handler)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.WorkerJobTimeout + 30*time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serveErr := serve(server, sigChan, 30*time.Second, logger)

	if w != nil {
		stopWorker()
		w.Stop()
	}

	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	logger.Info("Graceful shutdown complete")
	return nil
}

// serve runs server until a signal arrives on stop or the listener fails,
// then shuts it down. A listener failure is returned to the caller.
func serve(server *http.Server, stop <-chan os.Signal, shutdownTimeout time.Duration, logger *slog.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	var failure error
	select {
	case <-stop:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case failure = <-serverErr:
		logger.Error("Server failed", "error", failure)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	return failure
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
