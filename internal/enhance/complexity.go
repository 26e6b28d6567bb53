package enhance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/rotisserie/eris"
)

// Complexity factor names, in reporting order.
const (
	FactorDocuments   = "document_requirements"
	FactorStages      = "application_stages"
	FactorEvaluation  = "evaluation_process"
	FactorTimeline    = "timeline_duration"
	FactorEligibility = "eligibility_criteria"
	FactorFundingSize = "funding_amount"
)

var complexityFactors = []string{FactorDocuments, FactorStages, FactorEvaluation, FactorTimeline, FactorEligibility, FactorFundingSize}

// complexityLevels is ordered from least to most complex.
var complexityLevels = []models.Complexity{
	models.ComplexitySimple,
	models.ComplexityMedium,
	models.ComplexityComplex,
	models.ComplexityVeryComplex,
}

// DocumentTier lists the eligibility-flag phrases that imply a level of
// paperwork.
type DocumentTier struct {
	Level    models.Complexity
	Keywords []string
}

type ComplexityConfig struct {
	Weights Weights
	// LevelScores maps each level to its factor score.
	LevelScores map[models.Complexity]float64
	// DocumentTiers are ordered from least to most complex.
	DocumentTiers []DocumentTier
	// GovernmentWords mark an agency with a formal evaluation committee.
	GovernmentWords []string
	EffortHours     map[models.Complexity]int
}

func DefaultComplexityConfig() ComplexityConfig {
	return ComplexityConfig{
		Weights: Weights{
			{FactorDocuments, 0.25},
			{FactorStages, 0.20},
			{FactorEvaluation, 0.20},
			{FactorTimeline, 0.15},
			{FactorEligibility, 0.10},
			{FactorFundingSize, 0.10},
		},
		LevelScores: map[models.Complexity]float64{
			models.ComplexitySimple:      0.2,
			models.ComplexityMedium:      0.4,
			models.ComplexityComplex:     0.7,
			models.ComplexityVeryComplex: 1.0,
		},
		DocumentTiers: []DocumentTier{
			{models.ComplexitySimple, []string{"application form", "basic info", "pitch deck"}},
			{models.ComplexityMedium, []string{"business plan", "financial statements", "references"}},
			{models.ComplexityComplex, []string{"detailed projections", "technical specs", "certificates"}},
			{models.ComplexityVeryComplex, []string{"audited financials", "regulatory approvals", "patents"}},
		},
		GovernmentWords: []string{"government", "ministry"},
		EffortHours: map[models.Complexity]int{
			models.ComplexitySimple:      8,
			models.ComplexityMedium:      24,
			models.ComplexityComplex:     56,
			models.ComplexityVeryComplex: 120,
		},
	}
}

// FactorScore is one factor's contribution to a complexity analysis.
type FactorScore struct {
	Score   float64           `json:"score"`
	Level   models.Complexity `json:"level"`
	Details string            `json:"details"`
}

type ComplexityResult struct {
	GrantID              string                 `json:"grant_id"`
	OverallComplexity    models.Complexity      `json:"overall_complexity"`
	ComplexityScore      float64                `json:"complexity_score"`
	FactorScores         map[string]FactorScore `json:"factor_scores"`
	EstimatedEffortHours int                    `json:"estimated_effort_hours"`
	Reasons              []string               `json:"complexity_reasons"`
	CalculatedAt         time.Time              `json:"calculated_at"`
}

// ComplexityAnalyzer estimates how much work applying for a grant takes.
type ComplexityAnalyzer struct {
	cfg ComplexityConfig
	Now func() time.Time
}

func NewComplexityAnalyzer(cfg ComplexityConfig) (*ComplexityAnalyzer, error) {
	if err := cfg.Weights.Validate("complexity", complexityFactors...); err != nil {
		return nil, err
	}
	for _, lvl := range complexityLevels {
		if _, ok := cfg.LevelScores[lvl]; !ok {
			return nil, eris.Errorf("complexity: no score for level %s", lvl)
		}
		if _, ok := cfg.EffortHours[lvl]; !ok {
			return nil, eris.Errorf("complexity: no effort estimate for level %s", lvl)
		}
	}
	return &ComplexityAnalyzer{cfg: cfg, Now: time.Now}, nil
}

func (a *ComplexityAnalyzer) Analyze(g *models.Grant) ComplexityResult {
	amount, _ := g.TicketAmount()

	factors := map[string]FactorScore{
		FactorDocuments:   a.documents(g.EligibilityFlags),
		FactorStages:      a.stages(amount),
		FactorEvaluation:  a.evaluation(g.Agency, amount),
		FactorTimeline:    a.timeline(g.DeadlineType),
		FactorEligibility: a.eligibility(len(g.EligibilityFlags)),
		FactorFundingSize: a.funding(amount),
	}

	var total float64
	var reasons []string
	for _, w := range a.cfg.Weights {
		f := factors[w.Factor]
		total += f.Score * w.Value
		if f.Score >= 0.7 {
			reasons = append(reasons, fmt.Sprintf("High %s: %s", strings.ReplaceAll(w.Factor, "_", " "), f.Details))
		}
	}
	if len(reasons) == 0 {
		reasons = []string{"Standard application process with moderate requirements"}
	}

	// The label and effort use the unrounded score.
	level := complexityLevel(total)
	return ComplexityResult{
		GrantID:              g.ID,
		OverallComplexity:    level,
		ComplexityScore:      round2(clamp01(total)),
		FactorScores:         factors,
		EstimatedEffortHours: a.cfg.EffortHours[level],
		Reasons:              reasons,
		CalculatedAt:         a.Now().UTC(),
	}
}

// Apply writes the field the analyzer owns.
func (a *ComplexityAnalyzer) Apply(g *models.Grant, r ComplexityResult) {
	g.ApplicationComplexity = r.OverallComplexity
}

func (a *ComplexityAnalyzer) factor(level models.Complexity, details string) FactorScore {
	return FactorScore{Score: a.cfg.LevelScores[level], Level: level, Details: details}
}

// documents takes the most demanding tier any flag mentions. Every tier a
// flag mentions counts as one document type.
func (a *ComplexityAnalyzer) documents(flags []string) FactorScore {
	level := models.ComplexitySimple
	rank, count := 0, 0
	for _, flag := range flags {
		lower := strings.ToLower(flag)
		for i, tier := range a.cfg.DocumentTiers {
			if !containsAny(lower, tier.Keywords) {
				continue
			}
			count++
			if i >= rank {
				rank, level = i, tier.Level
			}
		}
	}
	return a.factor(level, fmt.Sprintf("Estimated %d document types required", count))
}

func (a *ComplexityAnalyzer) stages(amount float64) FactorScore {
	var n int
	switch {
	case amount < 10:
		n = 1
	case amount < 50:
		n = 2
	case amount < 200:
		n = 3
	default:
		n = 4
	}
	return a.factor(complexityLevels[n-1], fmt.Sprintf("Estimated %d application stages", n))
}

func (a *ComplexityAnalyzer) evaluation(agency string, amount float64) FactorScore {
	const details = "Evaluation complexity based on agency type and funding amount"
	if containsAny(strings.ToLower(agency), a.cfg.GovernmentWords) {
		if amount > 100 {
			return a.factor(models.ComplexityVeryComplex, details)
		}
		return a.factor(models.ComplexityComplex, details)
	}
	if amount > 50 {
		return a.factor(models.ComplexityMedium, details)
	}
	return a.factor(models.ComplexitySimple, details)
}

func (a *ComplexityAnalyzer) timeline(dt models.DeadlineType) FactorScore {
	var days int
	switch dt {
	case models.DeadlineRolling:
		days = 45
	case models.DeadlineBatchCall:
		days = 120
	case models.DeadlineAnnual:
		days = 180
	default:
		days = 90
	}

	var level models.Complexity
	switch {
	case days <= 30:
		level = models.ComplexitySimple
	case days <= 90:
		level = models.ComplexityMedium
	case days <= 180:
		level = models.ComplexityComplex
	default:
		level = models.ComplexityVeryComplex
	}
	return a.factor(level, fmt.Sprintf("Estimated %d days process duration", days))
}

func (a *ComplexityAnalyzer) eligibility(n int) FactorScore {
	var level models.Complexity
	switch {
	case n <= 3:
		level = models.ComplexitySimple
	case n <= 6:
		level = models.ComplexityMedium
	case n <= 10:
		level = models.ComplexityComplex
	default:
		level = models.ComplexityVeryComplex
	}
	return a.factor(level, fmt.Sprintf("%d eligibility criteria", n))
}

func (a *ComplexityAnalyzer) funding(amount float64) FactorScore {
	var level models.Complexity
	switch {
	case amount <= 10:
		level = models.ComplexitySimple
	case amount <= 50:
		level = models.ComplexityMedium
	case amount <= 200:
		level = models.ComplexityComplex
	default:
		level = models.ComplexityVeryComplex
	}
	return a.factor(level, fmt.Sprintf("₹%sL funding amount", strconv.FormatFloat(amount, 'f', -1, 64)))
}

func complexityLevel(score float64) models.Complexity {
	switch {
	case score <= 0.3:
		return models.ComplexitySimple
	case score <= 0.5:
		return models.ComplexityMedium
	case score <= 0.8:
		return models.ComplexityComplex
	default:
		return models.ComplexityVeryComplex
	}
}
