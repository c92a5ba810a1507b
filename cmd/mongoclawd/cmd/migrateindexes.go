package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var migrateIndexesCmd = &cobra.Command{
	Use:   "migrate-indexes",
	Short: "Create the indexes the runtime's bookkeeping collections need",
	RunE:  runMigrateIndexes,
}

func init() {
	rootCmd.AddCommand(migrateIndexesCmd)
}

func runMigrateIndexes(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer func() {
		if err := a.mongoClient.Disconnect(ctx); err != nil {
			slog.Warn("mongo disconnect error", "error", err)
		}
	}()

	if err := a.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensuring indexes: %w", err)
	}

	fmt.Println("indexes up to date")
	return nil
}
