package main

import (
	"os"

	"github.com/spf13/cobra"
)

var flagEnvFile string

var rootCmd = &cobra.Command{
	Use:          "fintrack",
	Short:        "Personal finance ledger",
	Long:         "Accounts, transactions, bills and budgets behind a JSON API, with outbox events and spreadsheet export.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
