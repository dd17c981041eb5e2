package main

import (
	"github.com/spf13/cobra"

	"fintrack/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		if err := storage.RunMigrations(storage.DSN(cfg.SQLiteDBPath, cfg.SQLiteBusyTimeout)); err != nil {
			logger.Error("Migration failed", "error", err, "path", cfg.SQLiteDBPath)
			return err
		}
		logger.Info("Migrations applied", "path", cfg.SQLiteDBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
