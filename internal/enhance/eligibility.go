package enhance

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/david/grant-enhancer/internal/models"
)

// Eligibility factor names, in breakdown order.
const (
	FactorStage    = "stage"
	FactorSector   = "sector"
	FactorLocation = "location"
	FactorFunding  = "funding"
	FactorAge      = "age"
	FactorSize     = "size"
	FactorSpecial  = "special"
)

var eligibilityFactors = []string{FactorStage, FactorSector, FactorLocation, FactorFunding, FactorAge, FactorSize, FactorSpecial}

// KeywordGroup names a category and the substrings that place a value in it.
type KeywordGroup struct {
	Name     string
	Keywords []string
}

// SpecialRule matches an eligibility flag mentioning any keyword when the
// profile satisfies Holds.
type SpecialRule struct {
	Name     string
	Keywords []string
	// Tokens match whole words only, for short codes like "sc".
	Tokens []string
	Holds  func(models.StartupProfile) bool
}

type MatcherConfig struct {
	Weights Weights
	// Stages is ordered: adjacent entries are adjacent lifecycle stages.
	Stages        []KeywordGroup
	Sectors       []KeywordGroup
	NationalWords []string
	RegionWords   []string
	SpecialRules  []SpecialRule
}

func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		Weights: Weights{
			{FactorStage, 0.25},
			{FactorSector, 0.20},
			{FactorLocation, 0.15},
			{FactorFunding, 0.15},
			{FactorAge, 0.10},
			{FactorSize, 0.10},
			{FactorSpecial, 0.05},
		},
		Stages: []KeywordGroup{
			{"ideation", []string{"idea", "concept", "ideation", "pre-seed"}},
			{"mvp_prototype", []string{"mvp", "prototype", "poc", "proof of concept", "pilot"}},
			{"early_stage", []string{"early", "seed", "pre-series", "validation"}},
			{"growth_stage", []string{"growth", "series", "scale", "expansion", "mature"}},
		},
		Sectors: []KeywordGroup{
			{"technology", []string{"tech", "software", "it", "digital", "ai", "ml", "iot"}},
			{"healthcare", []string{"health", "medical", "pharma", "biotech", "life sciences"}},
			{"fintech", []string{"finance", "banking", "payments", "insurance"}},
			{"agritech", []string{"agriculture", "farming", "food", "agri"}},
			{"cleantech", []string{"clean", "green", "renewable", "sustainability", "climate"}},
			{"edtech", []string{"education", "learning", "training"}},
			{"mobility", []string{"transport", "automotive", "logistics", "mobility"}},
		},
		NationalWords: []string{"national", "india"},
		RegionWords:   []string{"north", "south", "east", "west"},
		SpecialRules: []SpecialRule{
			{Name: "dpiit", Keywords: []string{"dpiit"}, Holds: func(p models.StartupProfile) bool { return p.DPIITRecognized }},
			{Name: "women_led", Keywords: []string{"women", "woman", "female"}, Holds: func(p models.StartupProfile) bool { return p.WomenLed }},
			{Name: "sc_st", Tokens: []string{"sc", "st"}, Holds: models.StartupProfile.IsReservedCategory},
			{Name: "first_time", Keywords: []string{"first_time", "first time", "first-time"}, Holds: func(p models.StartupProfile) bool { return p.FirstTimeEntrepreneur }},
		},
	}
}

// MatchResult is the eligibility of one profile for one grant.
type MatchResult struct {
	GrantID         string             `json:"grant_id"`
	OverallScore    float64            `json:"overall_score"`
	Breakdown       map[string]float64 `json:"score_breakdown"`
	Recommendations []string           `json:"recommendations"`
	CalculatedAt    time.Time          `json:"calculated_at"`
}

// EligibilityMatcher scores how well a startup fits a grant.
type EligibilityMatcher struct {
	cfg MatcherConfig
	Now func() time.Time
}

func NewEligibilityMatcher(cfg MatcherConfig) (*EligibilityMatcher, error) {
	if err := cfg.Weights.Validate("eligibility", eligibilityFactors...); err != nil {
		return nil, err
	}
	return &EligibilityMatcher{cfg: cfg, Now: time.Now}, nil
}

func (m *EligibilityMatcher) Match(p models.StartupProfile, g *models.Grant) MatchResult {
	breakdown := map[string]float64{
		FactorStage:    m.stageScore(p.Stage, string(g.Bucket)),
		FactorSector:   m.sectorScore(p.Sectors, g.SectorTags),
		FactorLocation: m.locationScore(p.Location, g.StateScope),
		FactorFunding:  fundingScore(p.FundingNeeded, g),
		FactorAge:      ageScore(p.CompanyAgeYears, g.EligibilityCriteria),
		FactorSize:     sizeScore(p.TeamSize, p.Revenue, g.TargetAudience),
		FactorSpecial:  m.specialScore(p, g.EligibilityFlags),
	}

	var overall float64
	for _, w := range m.cfg.Weights {
		overall += breakdown[w.Factor] * w.Value
	}

	return MatchResult{
		GrantID:         g.ID,
		OverallScore:    round2(clamp01(overall)),
		Breakdown:       breakdown,
		Recommendations: recommendations(breakdown, g),
		CalculatedAt:    m.Now().UTC(),
	}
}

// Rank scores every grant and returns the best limit matches, highest score
// first. Ties go to the more confident grant, then to the lower id.
func (m *EligibilityMatcher) Rank(p models.StartupProfile, grants []*models.Grant, limit int) []MatchResult {
	type scored struct {
		res        MatchResult
		confidence float64
	}
	all := make([]scored, 0, len(grants))
	for _, g := range grants {
		all = append(all, scored{res: m.Match(p, g), confidence: g.Confidence})
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.res.OverallScore != b.res.OverallScore {
			return a.res.OverallScore > b.res.OverallScore
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		return a.res.GrantID < b.res.GrantID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]MatchResult, len(all))
	for i, s := range all {
		out[i] = s.res
	}
	return out
}

func normalizeStage(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

func (m *EligibilityMatcher) stageScore(stage, bucket string) float64 {
	stage, bucket = normalizeStage(stage), normalizeStage(bucket)
	if stage == "" || bucket == "" {
		return 0.5
	}
	if stage == bucket {
		return 1.0
	}
	for _, grp := range m.cfg.Stages {
		if containsAny(stage, grp.Keywords) && containsAny(bucket, grp.Keywords) {
			return 0.8
		}
	}
	si, gi := m.stageIndex(stage), m.stageIndex(bucket)
	if si >= 0 && gi >= 0 {
		switch abs(si - gi) {
		case 1:
			return 0.6
		case 2:
			return 0.3
		}
	}
	return 0.1
}

func (m *EligibilityMatcher) stageIndex(stage string) int {
	for i, grp := range m.cfg.Stages {
		if strings.Contains(stage, grp.Name) || containsAny(stage, grp.Keywords) {
			return i
		}
	}
	return -1
}

func (m *EligibilityMatcher) sectorScore(profile, grant []string) float64 {
	ps, gs := lowerAll(profile), lowerAll(grant)
	if len(ps) == 0 || len(gs) == 0 {
		return 0.5
	}

	grantSet := make(map[string]struct{}, len(gs))
	for _, s := range gs {
		grantSet[s] = struct{}{}
	}
	direct := 0
	seen := make(map[string]struct{}, len(ps))
	for _, s := range ps {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := grantSet[s]; ok {
			direct++
		}
	}
	if direct > 0 {
		return math.Min(1.0, float64(direct)/float64(len(ps)))
	}

	for _, a := range ps {
		for _, b := range gs {
			for _, grp := range m.cfg.Sectors {
				if containsAny(a, grp.Keywords) && containsAny(b, grp.Keywords) {
					return 0.7
				}
			}
		}
	}
	return 0.0
}

func (m *EligibilityMatcher) locationScore(location, scope string) float64 {
	location = strings.ToLower(strings.TrimSpace(location))
	scope = strings.ToLower(strings.TrimSpace(scope))
	if location == "" || scope == "" {
		return 0.5
	}
	if containsAny(scope, m.cfg.NationalWords) {
		return 1.0
	}
	if strings.Contains(scope, location) || strings.Contains(location, scope) {
		return 1.0
	}
	if containsAny(scope, m.cfg.RegionWords) {
		return 0.3
	}
	return 0.1
}

func fundingScore(needed *float64, g *models.Grant) float64 {
	if needed == nil || *needed <= 0 {
		return 0.5
	}
	target, ok := g.FundingTarget()
	if !ok {
		return 0.5
	}
	ratio := math.Min(*needed, target) / math.Max(*needed, target)
	switch {
	case ratio >= 0.8:
		return 1.0
	case ratio >= 0.6:
		return 0.8
	case ratio >= 0.4:
		return 0.6
	case ratio >= 0.2:
		return 0.4
	default:
		return 0.2
	}
}

func ageScore(age *float64, criteria *models.EligibilityCriteria) float64 {
	if age == nil {
		return 0.5
	}
	if criteria == nil || criteria.CompanyAgeMax == nil {
		return 0.8
	}
	lo, hi := 0.0, *criteria.CompanyAgeMax
	if criteria.CompanyAgeMin != nil {
		lo = *criteria.CompanyAgeMin
	}
	switch {
	case *age < lo:
		return 0.3
	case *age <= hi:
		return 1.0
	default:
		return math.Max(0.1, 0.8-(*age-hi)*0.1)
	}
}

func sizeScore(team *int, revenue *float64, audience *models.TargetAudience) float64 {
	if audience == nil {
		return 0.5
	}
	var scores []float64
	if team != nil && *team > 0 && audience.TeamSizeMax != nil && *audience.TeamSizeMax > 0 {
		scores = append(scores, overLimitScore(float64(*team), float64(*audience.TeamSizeMax), 0.5))
	}
	if revenue != nil && *revenue > 0 && audience.RevenueMax != nil && *audience.RevenueMax > 0 {
		scores = append(scores, overLimitScore(*revenue, *audience.RevenueMax, 0.3))
	}
	if len(scores) == 0 {
		return 0.5
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// overLimitScore is 1 within the limit and drops by slope per unit of
// excess ratio beyond it, never below 0.1.
func overLimitScore(value, limit, slope float64) float64 {
	if value <= limit {
		return 1.0
	}
	return math.Max(0.1, 1.0-(value/limit-1.0)*slope)
}

func (m *EligibilityMatcher) specialScore(p models.StartupProfile, flags []string) float64 {
	if len(flags) == 0 {
		return 1.0
	}
	matched := 0
	for _, flag := range flags {
		lower := strings.ToLower(flag)
		tokens := wordSet(wordTokens(flag))
		for _, rule := range m.cfg.SpecialRules {
			if !mentions(lower, tokens, rule) || !rule.Holds(p) {
				continue
			}
			matched++
			break
		}
	}
	return float64(matched) / float64(len(flags))
}

func mentions(lower string, tokens map[string]struct{}, rule SpecialRule) bool {
	if containsAny(lower, rule.Keywords) {
		return true
	}
	for _, t := range rule.Tokens {
		if _, ok := tokens[t]; ok {
			return true
		}
	}
	return false
}

func recommendations(b map[string]float64, g *models.Grant) []string {
	recs := []string{}
	if b[FactorStage] < 0.5 {
		bucket := string(g.Bucket)
		if bucket == "" {
			bucket = "appropriate"
		}
		recs = append(recs, fmt.Sprintf("Consider applying when your startup reaches %s stage", bucket))
	}
	if b[FactorSector] < 0.5 {
		recs = append(recs, fmt.Sprintf("This grant focuses on %s sectors", strings.Join(g.SectorTags, ", ")))
	}
	if b[FactorLocation] < 0.5 {
		scope := g.StateScope
		if scope == "" {
			scope = "specific regions"
		}
		recs = append(recs, fmt.Sprintf("This grant is limited to %s", scope))
	}
	if b[FactorFunding] < 0.5 {
		recs = append(recs, fmt.Sprintf("Grant funding range is ₹%sL - ₹%sL", lakh(g.MinTicketLakh), lakh(g.MaxTicketLakh)))
	}
	if b[FactorSpecial] < 0.8 {
		recs = append(recs, "Review special eligibility criteria carefully")
	}
	return recs
}

func lakh(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
