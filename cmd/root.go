package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "iip",
	Short: "Deal memo ingestion and analysis service",
	Long:  "Accepts PDF deal memos by upload or email, keeps only confidential information memoranda, archives them, and extracts structured investment analysis with Claude.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
