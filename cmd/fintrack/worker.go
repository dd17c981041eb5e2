package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fintrack/internal/amqp"
	"fintrack/internal/backend"
	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume ledger events and export posted transactions",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	logger = logger.WithComponent(log.ComponentExport)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	if backendCfg.Type == backend.NoneBackend {
		return fmt.Errorf("EXPORT_BACKEND is %q: nothing to export", backendCfg.Type)
	}

	ctx, stop := cli.GracefulShutdown(cmd.Context(), logger)
	defer stop()

	result, err := backend.NewFactory(logger).CreateExporter(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to create exporter", "error", err, "backend", backendCfg.Type)
		return err
	}
	if result.Cleanup != nil {
		defer result.Cleanup()
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		return err
	}
	defer client.Close()

	exporter := worker.NewExportWorker(result.Exporter, logger)
	logger.Info("Starting fintrack worker", "backend", result.Type, "queue", cfg.AMQPQueue)

	if err := client.Consume(ctx, exporter.Handler()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		return err
	}
	logger.Info("Worker shutdown complete")
	return nil
}
