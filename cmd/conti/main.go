package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"conti/internal/cli"
	"conti/internal/core"
	apphttp "conti/internal/http"
	"conti/internal/log"
	"conti/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadConfig(os.Getenv("CONTI_CONFIG"))
	if err != nil {
		log.New(log.DefaultConfig()).Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg).WithComponent(log.ComponentApp)

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	app, err := cli.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("Failed to close ledger resources", log.FieldError, err)
		}
	}()

	srv := apphttp.NewServer(":"+cfg.Port, app)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", srv.Addr, log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		runScheduler(gctx, app.Scheduler, app.Book.Today, cfg.SchedulerInterval, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server", log.FieldOperation, log.OpShutdown)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// runScheduler evaluates recurring rules once at startup and then every
// interval until ctx is done. A failed tick is logged and retried on the next one.
func runScheduler(ctx context.Context, scheduler *services.Scheduler, today func() core.Date, interval time.Duration, logger *log.Logger) {
	logger = logger.WithComponent(log.ComponentScheduler)
	logger.Info("Recurring scheduler configured", "interval", interval.String())

	tick := func() {
		result, err := scheduler.Evaluate(ctx, today())
		if err != nil {
			logger.Error("Recurring evaluation failed", log.FieldError, err,
				log.FieldCount, len(result.Materialized))
			return
		}
		if n := len(result.Materialized) + len(result.AwaitingApproval); n > 0 {
			logger.Info("Recurring evaluation complete",
				"materialized", len(result.Materialized),
				"awaiting_approval", len(result.AwaitingApproval),
				"next_check", time.Now().Add(interval).Format("15:04:05"))
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
