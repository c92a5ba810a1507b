package cmd

import (
	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "mongoclawd",
	Short: "mongoclaw watches MongoDB change streams and dispatches agent enrichment work",
	Long: `mongoclawd tails MongoDB change streams, matches mutations against
versioned agent configs, dispatches enrichment work through a durable queue,
and writes LLM-enriched results back with configurable consistency
guarantees.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "./deploy/config",
		"directory containing the .env file to load")
}
