// Package ingest orchestrates the fetch -> standardize -> load pipeline over
// the source registry.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parcelworks/geoharvest/internal/dest"
	"github.com/parcelworks/geoharvest/internal/fetch"
	"github.com/parcelworks/geoharvest/internal/registry"
	"github.com/parcelworks/geoharvest/internal/standardize"
)

// Status classifies one source's outcome within a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// SourceResult is the outcome of one source.
type SourceResult struct {
	SourceID      string
	Table         string
	Status        Status
	Rows          int64
	UnverifiedCRS bool
	Elapsed       time.Duration
	Err           error
	// Destinations holds one entry per configured loader, in loader order.
	// Empty when the source failed before the load stage.
	Destinations []DestResult
}

// DestResult is one destination's outcome for a source.
type DestResult struct {
	Destination string
	Rows        int64
	Err         error
}

// Report summarizes a whole ingestion run.
type Report struct {
	RunID   string
	Results []SourceResult
}

// Count returns how many sources finished with the given status.
func (r *Report) Count(s Status) int {
	var n int
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Options selects and tunes a run.
type Options struct {
	// Sources restricts the run to specific registry ids; empty means all.
	Sources []string
	// Force re-imports sources already marked imported.
	Force bool
	// Workers bounds concurrent sources, clamped to [1, 4]: sources are
	// large and loads contend on the same destinations.
	Workers int
	// SourceTimeout bounds one source end to end. Default 30m.
	SourceTimeout time.Duration
}

// Orchestrator runs the pipeline: each selected source is fetched,
// standardized, and loaded into every destination. A source is marked
// imported only when every destination accepted it.
type Orchestrator struct {
	fetcher fetch.Fetcher
	reg     *registry.Registry
	loaders []dest.Loader
}

// New wires the pipeline stages together.
func New(fetcher fetch.Fetcher, reg *registry.Registry, loaders []dest.Loader) *Orchestrator {
	return &Orchestrator{fetcher: fetcher, reg: reg, loaders: loaders}
}

// Run processes the selected sources in parallel. Individual source failures
// never abort the run; the registry is saved once at the end so interrupted
// runs keep the imported marks they earned.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	log := zap.L().With(zap.String("component", "ingest"))

	if len(o.loaders) == 0 {
		return nil, eris.New("ingest: no destinations configured")
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Workers > 4 {
		opts.Workers = 4
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 30 * time.Minute
	}

	sources, err := o.selectSources(opts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:   uuid.New().String(),
		Results: make([]SourceResult, len(sources)),
	}
	log.Info("ingestion run starting",
		zap.String("run_id", report.RunID),
		zap.Int("sources", len(sources)),
		zap.Int("workers", opts.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i, src := range sources {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			if src.Imported && !opts.Force {
				log.Debug("skipping imported source", zap.String("id", src.ID))
				report.Results[i] = SourceResult{SourceID: src.ID, Table: src.TableName, Status: StatusSkipped}
				return nil
			}

			srcCtx, cancel := context.WithTimeout(gctx, opts.SourceTimeout)
			report.Results[i] = o.runSource(srcCtx, src)
			cancel()
			return nil
		})
	}

	waitErr := g.Wait()

	// Persist imported marks even when the run was cut short.
	if err := o.reg.Save(); err != nil {
		log.Error("registry save failed", zap.Error(err))
		if waitErr == nil {
			waitErr = err
		}
	}
	if waitErr != nil {
		return report, waitErr
	}

	log.Info("ingestion run complete",
		zap.String("run_id", report.RunID),
		zap.Int("succeeded", report.Count(StatusSucceeded)),
		zap.Int("skipped", report.Count(StatusSkipped)),
		zap.Int("failed", report.Count(StatusFailed)),
	)
	return report, nil
}

func (o *Orchestrator) selectSources(opts Options) ([]registry.Source, error) {
	if len(opts.Sources) == 0 {
		return o.reg.Sources(), nil
	}
	sources := make([]registry.Source, 0, len(opts.Sources))
	for _, id := range opts.Sources {
		src, err := o.reg.Get(id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func (o *Orchestrator) runSource(ctx context.Context, src registry.Source) SourceResult {
	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("id", src.ID),
		zap.String("kind", string(src.Kind)),
	)
	start := time.Now()
	res := SourceResult{SourceID: src.ID, Table: src.TableName}

	fail := func(err error) SourceResult {
		res.Status = StatusFailed
		res.Err = err
		res.Elapsed = time.Since(start)
		log.Error("source failed", zap.Error(err), zap.Duration("elapsed", res.Elapsed))
		return res
	}

	log.Info("fetching source", zap.String("location", src.Location))
	set, err := o.fetcher.Fetch(ctx, src)
	if err != nil {
		return fail(eris.Wrapf(err, "ingest: fetch %s", src.ID))
	}

	std, err := standardize.Standardize(set)
	if err != nil {
		return fail(eris.Wrapf(err, "ingest: standardize %s", src.ID))
	}
	res.UnverifiedCRS = std.UnverifiedCRS
	if std.UnverifiedCRS {
		log.Warn("source CRS could not be verified, geometry loaded as-is",
			zap.Int("srid", set.SRID))
	}

	// Every destination is attempted even when an earlier one fails: loads
	// are whole-table replaces, so a healthy destination must not be left
	// stale by a neighbor's outage. The source counts as imported only when
	// all of them accepted the load.
	var firstErr error
	for _, loader := range o.loaders {
		n, err := loader.Replace(ctx, src.TableName, std)
		dr := DestResult{Destination: loader.Name(), Rows: n}
		if err != nil {
			dr.Err = eris.Wrapf(err, "ingest: load %s into %s", src.ID, loader.Name())
			if firstErr == nil {
				firstErr = dr.Err
			}
			log.Error("destination load failed",
				zap.String("destination", loader.Name()), zap.Error(err))
		} else {
			res.Rows = n
		}
		res.Destinations = append(res.Destinations, dr)
	}
	if firstErr != nil {
		return fail(firstErr)
	}

	if err := o.reg.MarkImported(src.ID); err != nil {
		return fail(eris.Wrapf(err, "ingest: mark imported %s", src.ID))
	}

	res.Status = StatusSucceeded
	res.Elapsed = time.Since(start)
	log.Info("source imported",
		zap.Int64("rows", res.Rows),
		zap.Int("destinations", len(o.loaders)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}
