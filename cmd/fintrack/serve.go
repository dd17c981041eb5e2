package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/core"
	apphttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/worker"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON API and the outbox dispatcher",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	repo, err := cli.InitSQLite(logger, cfg.SQLiteDBPath, cfg.SQLiteBusyTimeout)
	if err != nil {
		return err
	}
	defer repo.Close()

	clock := core.SystemClock{}
	ledger := services.NewLedger(repo, clock)
	categories := services.NewCategoryService(repo)

	caches := cache.NewManager()
	for _, c := range categories.Caches() {
		caches.Register(c)
	}
	caches.StartCleanup(5 * time.Minute)
	defer caches.Stop()

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Accounts:   services.NewAccountService(repo, clock),
		Ledger:     ledger,
		Bills:      services.NewBillService(repo, ledger, clock),
		Budgets:    services.NewBudgetService(repo, clock),
		Categories: categories,
		DB:         repo,
	}, apphttp.Options{
		RequestTimeout:    cfg.RequestTimeout,
		RequestsPerMinute: cfg.RateLimit,
		Logger:            logger,
	})

	ctx, stop := cli.GracefulShutdown(cmd.Context(), logger)
	defer stop()

	var dispatcher *worker.Dispatcher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			return err
		}
		defer client.Close()

		dispatcher = worker.NewDispatcher(repo, client, clock, logger, worker.DispatcherConfig{
			PollInterval: cfg.OutboxInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
		})
		if err := dispatcher.Start(ctx); err != nil {
			return err
		}
	} else {
		logger.Info("AMQP disabled, outbox events stay in the database")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting fintrack server", "port", cfg.Port, "amqp", cfg.AMQPURL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err, "port", cfg.Port)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			errs = append(errs, err)
		}
		if dispatcher != nil {
			if err := dispatcher.Stop(shutdownCtx); err != nil {
				logger.Warn("Dispatcher did not stop cleanly", "error", err)
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// bootstrap loads the env file and configuration, then installs the logger.
func bootstrap() (*config.Config, *log.Logger, error) {
	if err := cli.LoadEnvFile(flagEnvFile); err != nil {
		return nil, nil, err
	}
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.SetupLogger("info").Error("Configuration validation failed", "error", err)
		return nil, nil, err
	}
	return cfg, cli.SetupLogger(cfg.LogLevel), nil
}
