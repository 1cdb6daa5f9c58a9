package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geoharvest",
	Short: "Geospatial dataset discovery and ingestion",
	Long:  "Discovers dataset endpoints on an ArcGIS Hub catalog, tracks them in a YAML source registry, and ingests them into PostGIS and a local SQLite mirror.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
