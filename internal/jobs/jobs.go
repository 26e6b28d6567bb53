// Package jobs runs the enhancement pipeline against the grant store. The
// API's admin routes and grantctl share these operations.
package jobs

import (
	"context"
	"time"

	"github.com/david/grant-enhancer/internal/db"
	"github.com/david/grant-enhancer/internal/enhance"
	"github.com/david/grant-enhancer/internal/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Store is the persistence the runner needs. *db.Store implements it.
type Store interface {
	Query(ctx context.Context, f db.Filter) ([]models.Grant, error)
	Get(ctx context.Context, id string) (*models.Grant, error)
	List(ctx context.Context, status models.Status) ([]models.Grant, error)
	NeedingRefresh(ctx context.Context, staleAfter time.Duration, limit int) ([]models.Grant, error)
	Upsert(ctx context.Context, g *models.Grant) (bool, error)
	UpdateStatus(ctx context.Context, g *models.Grant) error
	UpdateConfidence(ctx context.Context, g *models.Grant) error
	UpdateComplexity(ctx context.Context, g *models.Grant) error
	UpdateDuplicate(ctx context.Context, g *models.Grant) error
	Stats(ctx context.Context) (*db.Stats, error)
}

var _ Store = (*db.Store)(nil)

// matchPageSize is the largest page the stores return.
var matchPageSize = 500

type Runner struct {
	store      Store
	pipeline   *enhance.Pipeline
	staleAfter time.Duration
}

func NewRunner(store Store, pipeline *enhance.Pipeline, staleAfter time.Duration) *Runner {
	return &Runner{store: store, pipeline: pipeline, staleAfter: staleAfter}
}

func (r *Runner) Store() Store {
	return r.store
}

func (r *Runner) Pipeline() *enhance.Pipeline {
	return r.pipeline
}

type SeedResult struct {
	Inserted int                 `json:"inserted"`
	Updated  int                 `json:"updated"`
	Failed   int                 `json:"failed"`
	Dedupe   enhance.DedupeStats `json:"dedupe"`
}

// Seed enhances a fresh catalogue batch and upserts it. A grant that fails
// to persist is logged and counted; the rest are still written.
func (r *Runner) Seed(ctx context.Context, grants []*models.Grant) (SeedResult, error) {
	var res SeedResult
	stats, err := r.pipeline.Enhance(ctx, grants)
	if err != nil {
		return res, eris.Wrap(err, "jobs: seed")
	}
	res.Dedupe = stats

	for _, g := range grants {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "jobs: seed")
		}
		inserted, err := r.store.Upsert(ctx, g)
		if err != nil {
			res.Failed++
			zap.L().Error("jobs: seed upsert failed", zap.String("grant_id", g.ID), zap.Error(err))
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	zap.L().Info("jobs: seed complete",
		zap.Int("inserted", res.Inserted), zap.Int("updated", res.Updated), zap.Int("failed", res.Failed))
	return res, nil
}

type EnhanceResult struct {
	Scored int `json:"scored"`
	Failed int `json:"failed"`
}

// Enhance rescores confidence and complexity for every live grant.
func (r *Runner) Enhance(ctx context.Context) (EnhanceResult, error) {
	var res EnhanceResult
	grants, err := r.live(ctx)
	if err != nil {
		return res, err
	}
	if err := r.pipeline.ScoreBatch(ctx, grants); err != nil {
		return res, eris.Wrap(err, "jobs: enhance")
	}
	if err := r.pipeline.AnalyzeBatch(ctx, grants); err != nil {
		return res, eris.Wrap(err, "jobs: enhance")
	}

	for _, g := range grants {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "jobs: enhance")
		}
		if err := r.store.UpdateConfidence(ctx, g); err != nil {
			res.Failed++
			zap.L().Error("jobs: persist confidence failed", zap.String("grant_id", g.ID), zap.Error(err))
			continue
		}
		if err := r.store.UpdateComplexity(ctx, g); err != nil {
			res.Failed++
			zap.L().Error("jobs: persist complexity failed", zap.String("grant_id", g.ID), zap.Error(err))
			continue
		}
		res.Scored++
	}
	return res, nil
}

// Dedupe re-runs duplicate detection over live grants in ingestion order.
// Unless dryRun is set, grants whose flags changed are written back.
func (r *Runner) Dedupe(ctx context.Context, dryRun bool) (enhance.DedupeStats, error) {
	grants, err := r.live(ctx)
	if err != nil {
		return enhance.DedupeStats{}, err
	}

	type flags struct {
		dup  bool
		orig string
	}
	before := make([]flags, len(grants))
	for i, g := range grants {
		before[i] = flags{dup: g.IsDuplicate, orig: deref(g.OriginalID)}
	}

	_, stats := r.pipeline.Deduplicate(grants)
	if dryRun {
		return stats, nil
	}

	changed := 0
	for i, g := range grants {
		if before[i] == (flags{dup: g.IsDuplicate, orig: deref(g.OriginalID)}) {
			continue
		}
		if err := r.store.UpdateDuplicate(ctx, g); err != nil {
			return stats, eris.Wrap(err, "jobs: dedupe")
		}
		changed++
	}
	zap.L().Info("jobs: dedupe complete",
		zap.Int("duplicates", stats.Duplicates), zap.Int("changed", changed))
	return stats, nil
}

type MonitorResult struct {
	Checked       int                  `json:"checked"`
	Expired       int                  `json:"expired"`
	WebsiteIssues int                  `json:"website_issues"`
	Failed        int                  `json:"failed"`
	Results       []enhance.StatusInfo `json:"results"`
}

// Monitor checks up to limit stale grants and persists the outcome.
func (r *Runner) Monitor(ctx context.Context, limit int) (MonitorResult, error) {
	res := MonitorResult{Results: []enhance.StatusInfo{}}
	rows, err := r.store.NeedingRefresh(ctx, r.staleAfter, limit)
	if err != nil {
		return res, eris.Wrap(err, "jobs: monitor")
	}
	grants := pointers(rows)

	infos := r.pipeline.Monitor.CheckBatch(ctx, grants)
	for i, info := range infos {
		g := grants[i]
		r.pipeline.Monitor.Apply(g, info)
		res.Checked++
		if info.Status == models.StatusExpired {
			res.Expired++
		}
		if !info.WebsiteAccessible {
			res.WebsiteIssues++
		}
		if err := r.store.UpdateStatus(ctx, g); err != nil {
			res.Failed++
			zap.L().Error("jobs: persist status failed", zap.String("grant_id", g.ID), zap.Error(err))
		}
	}
	res.Results = infos
	return res, nil
}

// Report summarises the status of the whole catalogue.
func (r *Runner) Report(ctx context.Context) (enhance.StatusReport, error) {
	rows, err := r.store.List(ctx, "")
	if err != nil {
		return enhance.StatusReport{}, eris.Wrap(err, "jobs: report")
	}
	return r.pipeline.Monitor.Report(pointers(rows)), nil
}

// Match ranks every live canonical grant for a profile, reading the store a
// page at a time.
func (r *Runner) Match(ctx context.Context, profile models.StartupProfile, limit int) ([]enhance.MatchResult, error) {
	var all []models.Grant
	for offset := 0; ; offset += matchPageSize {
		page, err := r.store.Query(ctx, db.Filter{Limit: matchPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "jobs: match")
		}
		all = append(all, page...)
		if len(page) < matchPageSize {
			break
		}
	}
	return r.pipeline.Matcher.Rank(profile, pointers(all), limit), nil
}

func (r *Runner) live(ctx context.Context) ([]*models.Grant, error) {
	rows, err := r.store.List(ctx, models.StatusLive)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: list live grants")
	}
	return pointers(rows), nil
}

func pointers(rows []models.Grant) []*models.Grant {
	out := make([]*models.Grant, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
