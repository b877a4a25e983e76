package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long:  `Creates the pgvector extension and the job, task and knowledge tables. Safe to run repeatedly.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := finishConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	// openStorage applies the schema on connect
	_, _, database, err := openStorage(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	database.Close()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Schema applied (embedding dimension %d)\n", cfg.EmbeddingDimension)
	return nil
}
