package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/locator"
	"github.com/parcelworks/geoharvest/internal/registry"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Resolve catalog datasets into feature-service endpoints",
	Long: `Drive a headless browser through the catalog application, resolve each
discovery target into a feature-service query endpoint, and record the
endpoints in the source registry. Already-known endpoints keep their
imported state; a changed endpoint resets it so the next ingest re-imports.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("command", "discover"))

		targetsPath, _ := cmd.Flags().GetString("targets")
		if targetsPath == "" {
			targetsPath = cfg.Registry.TargetsPath
		}
		targets, err := registry.LoadTargets(targetsPath)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			log.Info("no discovery targets configured")
			return nil
		}

		reg, err := registry.Load(cfg.Registry.Path)
		if err != nil {
			return err
		}

		headful, _ := cmd.Flags().GetBool("headful")
		session, err := locator.NewChromeSession(ctx, locator.BrowserConfig{
			BinaryPath: cfg.Catalog.BrowserPath,
			Headful:    headful || cfg.Catalog.Headful,
		})
		if err != nil {
			return err
		}
		defer session.Close()

		loc := locator.New(session, locator.Config{
			BaseURL:      cfg.Catalog.BaseURL,
			StageTimeout: time.Duration(cfg.Catalog.StageTimeoutSecs) * time.Second,
		})
		runner := locator.NewRunner(loc, reg, cfg.Catalog.IDPrefix)

		log.Info("starting discovery",
			zap.Int("targets", len(targets)),
			zap.String("catalog", cfg.Catalog.BaseURL),
		)
		report, err := runner.Run(ctx, targets)
		if err != nil {
			return eris.Wrap(err, "discover")
		}

		if err := reg.Save(); err != nil {
			return err
		}

		for _, r := range report.Found {
			fmt.Printf("found    %-40s %s\n", r.SourceID, r.Endpoint)
		}
		for _, r := range report.Failed {
			fmt.Printf("failed   %-40s %s/%s\n", r.Keywords, r.Stage, r.Reason)
		}
		fmt.Printf("discovery complete: %d found, %d failed\n", len(report.Found), len(report.Failed))
		return nil
	},
}

func init() {
	discoverCmd.Flags().String("targets", "", "targets file (default from config)")
	discoverCmd.Flags().Bool("headful", false, "run the browser with a visible window")
	rootCmd.AddCommand(discoverCmd)
}
