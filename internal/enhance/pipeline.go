package enhance

import (
	"context"
	"time"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Confidence ConfidenceConfig
	Dedupe     DedupeConfig
	Matcher    MatcherConfig
	Status     StatusConfig
	Complexity ComplexityConfig
	// Concurrency bounds the per-grant analyzers in batch calls.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Confidence:  DefaultConfidenceConfig(),
		Dedupe:      DefaultDedupeConfig(),
		Matcher:     DefaultMatcherConfig(),
		Status:      DefaultStatusConfig(),
		Complexity:  DefaultComplexityConfig(),
		Concurrency: 8,
	}
}

// Pipeline bundles the five analyzers behind one caller-facing API. Each
// analyzer stays independently usable through its exported field.
type Pipeline struct {
	Scorer     *ConfidenceScorer
	Dedup      *Deduplicator
	Matcher    *EligibilityMatcher
	Monitor    *StatusMonitor
	Complexity *ComplexityAnalyzer

	concurrency int
}

func NewPipeline(cfg Config, prober Prober) (*Pipeline, error) {
	if cfg.Concurrency < 1 {
		return nil, eris.Errorf("pipeline: concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	scorer, err := NewConfidenceScorer(cfg.Confidence)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: confidence scorer")
	}
	dedup, err := NewDeduplicator(cfg.Dedupe)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: deduplicator")
	}
	matcher, err := NewEligibilityMatcher(cfg.Matcher)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: eligibility matcher")
	}
	monitor, err := NewStatusMonitor(cfg.Status, prober)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: status monitor")
	}
	complexity, err := NewComplexityAnalyzer(cfg.Complexity)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: complexity analyzer")
	}
	return &Pipeline{
		Scorer:      scorer,
		Dedup:       dedup,
		Matcher:     matcher,
		Monitor:     monitor,
		Complexity:  complexity,
		concurrency: cfg.Concurrency,
	}, nil
}

// SetClock replaces the time source of every analyzer.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.Scorer.Now = now
	p.Matcher.Now = now
	p.Monitor.Now = now
	p.Complexity.Now = now
}

func (p *Pipeline) ScoreConfidence(g *models.Grant) ConfidenceResult {
	return p.Scorer.Score(g)
}

func (p *Pipeline) Deduplicate(grants []*models.Grant) ([]*models.Grant, DedupeStats) {
	return p.Dedup.Dedupe(grants)
}

func (p *Pipeline) Match(profile models.StartupProfile, g *models.Grant) MatchResult {
	return p.Matcher.Match(profile, g)
}

func (p *Pipeline) CheckStatus(ctx context.Context, g *models.Grant) StatusInfo {
	return p.Monitor.Check(ctx, g)
}

func (p *Pipeline) AnalyzeComplexity(g *models.Grant) ComplexityResult {
	return p.Complexity.Analyze(g)
}

// ScoreBatch scores and annotates confidence for every grant in place.
func (p *Pipeline) ScoreBatch(ctx context.Context, grants []*models.Grant) error {
	return p.each(ctx, grants, func(g *models.Grant) {
		p.Scorer.Apply(g, p.Scorer.Score(g))
	})
}

// AnalyzeBatch annotates application complexity for every grant in place.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, grants []*models.Grant) error {
	return p.each(ctx, grants, func(g *models.Grant) {
		p.Complexity.Apply(g, p.Complexity.Analyze(g))
	})
}

// Enhance runs the offline stages over a freshly ingested batch: normalise,
// score confidence and complexity in parallel, then dedupe in input order.
func (p *Pipeline) Enhance(ctx context.Context, grants []*models.Grant) (DedupeStats, error) {
	for _, g := range grants {
		g.Normalize()
	}
	err := p.each(ctx, grants, func(g *models.Grant) {
		p.Scorer.Apply(g, p.Scorer.Score(g))
		p.Complexity.Apply(g, p.Complexity.Analyze(g))
	})
	if err != nil {
		return DedupeStats{}, err
	}

	_, stats := p.Dedup.Dedupe(grants)
	zap.L().Info("pipeline: batch enhanced",
		zap.Int("grants", stats.TotalInput),
		zap.Int("duplicates", stats.Duplicates))
	return stats, nil
}

// Refresh checks the status of grants that are due and applies the results.
// It returns the grants that were checked.
func (p *Pipeline) Refresh(ctx context.Context, grants []*models.Grant) []*models.Grant {
	due := p.Monitor.NeedingRefresh(grants, p.Monitor.Now())
	for i, info := range p.Monitor.CheckBatch(ctx, due) {
		p.Monitor.Apply(due[i], info)
	}
	return due
}

// each runs fn over grants on a bounded pool. fn only touches its own grant.
func (p *Pipeline) each(ctx context.Context, grants []*models.Grant, fn func(*models.Grant)) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.concurrency)
	for _, g := range grants {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(g)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return eris.Wrap(err, "pipeline: batch interrupted")
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "pipeline: batch interrupted")
	}
	return nil
}
