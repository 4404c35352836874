package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/alphaledger/internal/api/handlers"
	"github.com/cloo-solutions/alphaledger/internal/jobs"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/server"
	"github.com/cloo-solutions/alphaledger/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the alphaledger API server together with the index and validation workers",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides ALPHALEDGER_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-workers", false, "Serve the API without background workers")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}
	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	}, log)
	if err != nil {
		log.Warn("telemetry init failed, continuing without tracing", logger.ErrorField(err))
	} else {
		defer shutdownTelemetry()
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := runMigrations(cfg.DatabaseURL, cfg.MigrationsPath, log); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	log.Info("connected to database")

	var workers []*jobs.Worker
	if noWorkers, _ := cmd.Flags().GetBool("no-workers"); !noWorkers {
		workers = append(workers,
			jobs.NewWorker("index", jobs.NewIndexWorker(a.indexJobs, a.indexer, a.extractor, log), cfg.IndexPollInterval, log),
			jobs.NewWorker("validation", jobs.NewValidationWorker(a.validator, log), cfg.ValidationInterval, log, jobs.WithRunOnStart()),
		)
		for _, w := range workers {
			go w.Start(ctx)
		}
	}

	router := server.NewRouter(server.RouterConfig{
		APIToken:           cfg.APIToken,
		Logger:             log,
		SourceHandler:      handlers.NewSourceHandler(a.sources, a.indexer, a.extractor),
		SearchHandler:      handlers.NewSearchHandler(a.search),
		AssumptionHandler:  handlers.NewAssumptionHandler(a.assumptions, a.validator, a.extractor),
		AttributionHandler: handlers.NewAttributionHandler(a.decomposer),
		Authority:          a.authority,
		MaxRequestBytes:    cfg.MaxRequestBytes,
		MaxDocumentBytes:   cfg.MaxDocumentBytes,
	})
	if cfg.APIToken == "" {
		log.Warn("ALPHALEDGER_API_TOKEN is empty, API authentication is disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", logger.StringField("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	for _, w := range workers {
		w.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}
