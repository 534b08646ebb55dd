// Package cli provides the initialization shared by cmd/conti and
// cmd/contictl: environment, logging, configuration and the wiring of the
// ledger with its storage, event publisher and services.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"conti/internal/amqp"
	"conti/internal/backup"
	"conti/internal/config"
	"conti/internal/ledger"
	"conti/internal/log"
	"conti/internal/services"
	"conti/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from the configured level and
// format and installs it as the slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	return SetupLoggerTo(cfg, os.Stdout)
}

// SetupLoggerTo is SetupLogger writing to out.
func SetupLoggerTo(cfg *config.Config, out io.Writer) *log.Logger {
	lc := log.DefaultConfig()
	lc.Output = out
	lc.Format = cfg.LogFormat
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		lc.Level = level
	}
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from the environment, or from path with the
// environment overriding it, and validates it.
func LoadConfig(path string) (*config.Config, error) {
	cfg := config.Load()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App is a wired ledger with its services.
type App struct {
	Config     *config.Config
	Logger     *log.Logger
	Book       *ledger.Book
	Reconciler *services.Reconciler
	Scheduler  *services.Scheduler
	Bulk       *services.BulkExecutor

	// Repository is nil for the memory backend.
	Repository *storage.SQLiteRepository
	// Events is nil when AMQP is disabled or unreachable at startup.
	Events *amqp.Client
}

// OpenOption adjusts how Open prepares the ledger.
type OpenOption func(*openOptions)

type openOptions struct {
	skipDefaults bool
}

// WithoutDefaults leaves an empty ledger empty. Commands that only read the
// store use it so they never write to it.
func WithoutDefaults() OpenOption {
	return func(o *openOptions) { o.skipDefaults = true }
}

// Open loads the ledger from the configured backend, attaches the event
// publisher and, unless WithoutDefaults is given, seeds the default categories
// of an empty ledger.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger, opts ...OpenOption) (*App, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	app := &App{Config: cfg, Logger: logger}

	bookOpts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithFallbacks(ledger.Fallbacks{
			IncomeCategoryID:  cfg.FallbackIncomeCategoryID,
			ExpenseCategoryID: cfg.FallbackExpenseCategoryID,
		}),
	}

	var state *ledger.State
	switch cfg.DataBackend {
	case config.BackendSQLite:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize SQLite repository: %w", err)
		}
		app.Repository = repo

		var version int64
		state, version, err = repo.Load(ctx)
		if err != nil {
			app.Close()
			return nil, err
		}
		bookOpts = append(bookOpts, ledger.WithPersister(repo), ledger.WithVersion(version))
		logger.Info("Initialized SQLite backend", "path", cfg.SQLiteDBPath, log.FieldVersion, version)
	default:
		logger.Info("Initialized memory backend")
	}

	if cfg.EventsEnabled() {
		client, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, ledger events will not be published", log.FieldError, err)
		} else {
			app.Events = client
			bookOpts = append(bookOpts, ledger.WithEventSink(client))
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled, ledger events will not be published")
	}

	app.Book = ledger.New(state, bookOpts...)
	app.Reconciler = services.NewReconciler(app.Book, logger)
	app.Scheduler = services.NewScheduler(app.Book, logger, services.WithUpcomingWindow(cfg.UpcomingWindowDays))
	app.Bulk = services.NewBulkExecutor(app.Book, logger)

	if !o.skipDefaults {
		if err := app.Reconciler.EnsureDefaults(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("seed default categories: %w", err)
		}
	}
	return app, nil
}

// BackupSettings returns the settings stored alongside a backup.
func (a *App) BackupSettings() backup.Settings {
	return backup.Settings{
		Fallbacks:          a.Book.Fallbacks(),
		UpcomingWindowDays: a.Scheduler.UpcomingWindow(),
	}
}

// Restore replaces the ledger with doc and then applies the settings the
// ledger does not own. A document without a window keeps the current one.
func (a *App) Restore(ctx context.Context, doc backup.Document, logger *log.Logger) error {
	if err := backup.Restore(ctx, a.Book, doc, logger); err != nil {
		return err
	}
	if days := doc.Settings.UpcomingWindowDays; days > 0 {
		if err := a.Scheduler.SetUpcomingWindow(days); err != nil {
			return err
		}
	}
	return nil
}

// Ready reports whether the storage backend is reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.Repository == nil {
		return nil
	}
	return a.Repository.Ping(ctx)
}

func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		errs = append(errs, a.Events.Close())
	}
	if a.Repository != nil {
		errs = append(errs, a.Repository.Close())
	}
	return errors.Join(errs...)
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
