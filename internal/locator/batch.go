package locator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/registry"
)

// TargetResult is the outcome of one locate attempt.
type TargetResult struct {
	Keywords string
	SourceID string
	Endpoint string
	Stage    Stage
	Reason   string
	Err      error
}

// BatchReport summarizes a discovery run.
type BatchReport struct {
	Found  []TargetResult
	Failed []TargetResult
}

// Runner resolves a batch of targets against one exclusively-owned browser
// session and records discovered endpoints in the registry. Targets are
// processed sequentially: the session is a non-shareable resource.
type Runner struct {
	loc *Locator
	reg *registry.Registry
	// IDPrefix namespaces discovered source ids (e.g. "nys").
	IDPrefix string
}

// NewRunner creates a batch discovery runner.
func NewRunner(loc *Locator, reg *registry.Registry, idPrefix string) *Runner {
	return &Runner{loc: loc, reg: reg, IDPrefix: idPrefix}
}

// Run locates every target. A target failure is logged and recorded but
// never aborts the batch; cancellation is honored between targets.
func (r *Runner) Run(ctx context.Context, targets []registry.Target) (*BatchReport, error) {
	log := zap.L().With(zap.String("component", "locator.batch"))
	report := &BatchReport{}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		tLog := log.With(zap.String("keywords", t.Keywords))
		tLog.Info("locating target", zap.String("category", t.Category))

		endpoint, err := r.loc.Locate(ctx, t.Category, t.Keywords)
		if err != nil {
			res := TargetResult{Keywords: t.Keywords, Err: err}
			var lerr *LocateError
			if errors.As(err, &lerr) {
				res.Stage = lerr.Stage
				res.Reason = lerr.Reason
			}
			tLog.Error("locate failed",
				zap.String("stage", string(res.Stage)),
				zap.String("reason", res.Reason),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, res)
			continue
		}

		src := registry.Source{
			ID:        r.sourceID(t),
			Kind:      registry.KindRESTService,
			Location:  endpoint,
			TableName: t.Purpose,
			IsSpatial: true,
		}
		if err := r.reg.Upsert(src); err != nil {
			tLog.Error("registry upsert failed", zap.Error(err))
			report.Failed = append(report.Failed, TargetResult{Keywords: t.Keywords, Err: err})
			continue
		}

		tLog.Info("endpoint discovered",
			zap.String("id", src.ID),
			zap.String("endpoint", endpoint),
		)
		report.Found = append(report.Found, TargetResult{
			Keywords: t.Keywords,
			SourceID: src.ID,
			Endpoint: endpoint,
		})
	}

	log.Info("discovery batch complete",
		zap.Int("found", len(report.Found)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (r *Runner) sourceID(t registry.Target) string {
	return fmt.Sprintf("%s_%s_%s", r.IDPrefix, registry.Slug(t.Purpose), registry.Slug(t.Keywords))
}
