package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/db"
	"github.com/parcelworks/geoharvest/internal/fetch"
	"github.com/parcelworks/geoharvest/internal/ingest"
	"github.com/parcelworks/geoharvest/internal/registry"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registry status and ingestion trigger server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg, err := registry.Load(cfg.Registry.Path)
		if err != nil {
			return err
		}

		client := fetch.NewClient(fetch.Options{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
		})
		dispatcher := fetch.NewDispatcher(client, cfg.Fetch.TempDir)

		loaders, pool, err := buildLoaders(ctx)
		if err != nil {
			return err
		}
		defer closeLoaders(loaders)

		orch := ingest.New(dispatcher, reg, loaders)

		// One run at a time; the destinations replace whole tables.
		var running atomic.Bool

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		}))

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/v1/sources", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, reg.Sources())
		})

		r.Post("/v1/ingest", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Sources []string `json:"sources"`
				Force   bool     `json:"force"`
			}
			if req.Body != nil {
				_ = json.NewDecoder(req.Body).Decode(&body)
			}

			if !running.CompareAndSwap(false, true) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "ingestion already running"})
				return
			}

			go func() {
				defer running.Store(false)
				report, err := orch.Run(ctx, ingest.Options{
					Sources:       body.Sources,
					Force:         body.Force,
					Workers:       cfg.Ingest.Workers,
					SourceTimeout: time.Duration(cfg.Ingest.SourceTimeoutMins) * time.Minute,
				})
				if err != nil {
					zap.L().Error("triggered ingestion failed", zap.Error(err))
					return
				}
				zap.L().Info("triggered ingestion complete",
					zap.String("run_id", report.RunID),
					zap.Int("succeeded", report.Count(ingest.StatusSucceeded)),
					zap.Int("failed", report.Count(ingest.StatusFailed)),
				)
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		r.Post("/v1/analyze", func(w http.ResponseWriter, req *http.Request) {
			if pool == nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "postgres destination not configured"})
				return
			}

			var body struct {
				Table string  `json:"table"`
				Lon   float64 `json:"lon"`
				Lat   float64 `json:"lat"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Table == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "table, lon, and lat are required"})
				return
			}

			rows, err := containingFeatures(req.Context(), pool, body.Table, body.Lon, body.Lat)
			if err != nil {
				zap.L().Error("analyze query failed", zap.String("table", body.Table), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"matches": rows})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go awaitShutdown(ctx, srv)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// awaitShutdown blocks until ctx is canceled, then drains the server under a
// fresh timeout; the canceled signal context would abort in-flight requests
// instead of letting them finish.
func awaitShutdown(ctx context.Context, srv *http.Server) {
	<-ctx.Done()
	zap.L().Info("shutting down server")
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(drainCtx) //nolint:errcheck
}

// containingFeatures returns the attributes of imported features whose
// geometry contains the given point.
func containingFeatures(ctx context.Context, pool db.Pool, table string, lon, lat float64) ([]map[string]any, error) {
	query := fmt.Sprintf(
		`SELECT * FROM %s WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)) LIMIT 10`,
		db.TableIdent(table).Sanitize(),
	)

	rows, err := pool.Query(ctx, query, lon, lat)
	if err != nil {
		return nil, eris.Wrapf(err, "serve: analyze %s", table)
	}
	defer rows.Close()

	var out []map[string]any
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "serve: scan analyze row")
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			if fd.Name == "geom" {
				continue
			}
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, eris.Wrap(rows.Err(), "serve: analyze rows")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
