package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/db"
	"github.com/parcelworks/geoharvest/internal/dest"
	"github.com/parcelworks/geoharvest/internal/fetch"
	"github.com/parcelworks/geoharvest/internal/ingest"
	"github.com/parcelworks/geoharvest/internal/registry"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Import registered sources into the destination stores",
	Long: `Scan the data directory for new local files, then fetch, standardize,
and load every unimported source. A source is marked imported only after
every destination accepted it, so interrupted runs resume where they left
off.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("command", "ingest"))

		reg, err := registry.Load(cfg.Registry.Path)
		if err != nil {
			return err
		}

		// Register loose geodata files dropped into the data directory.
		if cfg.Registry.DataDir != "" {
			if _, statErr := os.Stat(cfg.Registry.DataDir); statErr == nil {
				added, err := registry.Scan(reg, cfg.Registry.DataDir, fetch.ListGPKGLayers)
				if err != nil {
					return err
				}
				if added > 0 {
					log.Info("registered local files", zap.Int("added", added))
				}
			}
		}

		if err := os.MkdirAll(cfg.Fetch.TempDir, 0o755); err != nil {
			return eris.Wrapf(err, "ingest: create temp dir %s", cfg.Fetch.TempDir)
		}

		client := fetch.NewClient(fetch.Options{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
		})
		dispatcher := fetch.NewDispatcher(client, cfg.Fetch.TempDir)

		loaders, _, err := buildLoaders(ctx)
		if err != nil {
			return err
		}
		defer closeLoaders(loaders)

		opts := ingest.Options{
			Workers:       cfg.Ingest.Workers,
			SourceTimeout: time.Duration(cfg.Ingest.SourceTimeoutMins) * time.Minute,
		}
		opts.Force, _ = cmd.Flags().GetBool("force")
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			opts.Workers = workers
		}
		if sources, _ := cmd.Flags().GetString("sources"); sources != "" {
			opts.Sources = splitAndTrim(sources)
		}

		report, err := ingest.New(dispatcher, reg, loaders).Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		for _, r := range report.Results {
			switch r.Status {
			case ingest.StatusFailed:
				fmt.Printf("%-9s %-40s %v\n", r.Status, r.SourceID, r.Err)
				for _, d := range r.Destinations {
					if d.Err != nil {
						fmt.Printf("          %s: %v\n", d.Destination, d.Err)
					} else {
						fmt.Printf("          %s: %d rows\n", d.Destination, d.Rows)
					}
				}
			default:
				fmt.Printf("%-9s %-40s %d rows\n", r.Status, r.SourceID, r.Rows)
			}
		}
		fmt.Printf("run %s: %d succeeded, %d skipped, %d failed\n",
			report.RunID,
			report.Count(ingest.StatusSucceeded),
			report.Count(ingest.StatusSkipped),
			report.Count(ingest.StatusFailed),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("force", false, "re-import sources already marked imported")
	ingestCmd.Flags().Int("workers", 0, "concurrent sources (default from config)")
	ingestCmd.Flags().String("sources", "", "comma-separated source ids to ingest")
	rootCmd.AddCommand(ingestCmd)
}

// buildLoaders opens every configured destination. At least one must be
// configured. The pgx pool is also returned for callers that query the
// imported tables directly; it is nil when postgres is not configured.
func buildLoaders(ctx context.Context) ([]dest.Loader, db.Pool, error) {
	var loaders []dest.Loader
	var pool db.Pool

	if cfg.Postgres.DatabaseURL != "" {
		p, err := db.Connect(ctx, cfg.Postgres.DatabaseURL, &cfg.Postgres.Pool)
		if err != nil {
			return nil, nil, err
		}
		pool = p
		loaders = append(loaders, dest.NewPostgres(p))
	}
	if cfg.SQLite.Path != "" {
		lite, err := dest.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			closeLoaders(loaders)
			return nil, nil, err
		}
		loaders = append(loaders, lite)
	}

	if len(loaders) == 0 {
		return nil, nil, eris.New("ingest: no destinations configured (set postgres.database_url or sqlite.path)")
	}
	return loaders, pool, nil
}

func closeLoaders(loaders []dest.Loader) {
	for _, l := range loaders {
		if err := l.Close(); err != nil {
			zap.L().Warn("close destination", zap.String("destination", l.Name()), zap.Error(err))
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
