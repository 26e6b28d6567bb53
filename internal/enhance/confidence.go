package enhance

import (
	"net/url"
	"strings"
	"time"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type SourceType string

const (
	SourceOfficialPortal    SourceType = "official_portal"
	SourceGovernmentWebsite SourceType = "government_website"
	SourceNewsArticle       SourceType = "news_article"
	SourceBlogPost          SourceType = "blog_post"
	SourceSocialMedia       SourceType = "social_media"
	SourceUnknown           SourceType = "unknown"
)

// SourceRule classifies a host when any of its substrings occurs in it.
// Rules are tried in order.
type SourceRule struct {
	Type       SourceType
	Substrings []string
}

// Modifier names recorded in lineage.
const (
	ModHasDeadline     = "has_deadline"
	ModHasAmount       = "has_amount"
	ModHasEligibility  = "has_eligibility"
	ModMultipleSources = "multiple_sources"
	ModStructured      = "structured_extraction"
	ModPDF             = "pdf_extraction"
	ModManualEntry     = "manual_entry"
)

type ConfidenceConfig struct {
	Rules      []SourceRule
	BaseScores map[SourceType]float64
	// Modifiers maps a modifier name to its additive delta.
	Modifiers map[string]float64
	// StructuredMethods and friends classify Grant.ExtractionMethod.
	StructuredMethods []string
	PDFMethods        []string
	ManualMethods     []string
}

func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		Rules: []SourceRule{
			{SourceOfficialPortal, []string{".gov.in", ".nic.in"}},
			{SourceGovernmentWebsite, []string{".gov.", "government", "ministry"}},
			{SourceNewsArticle, []string{"times", "hindu", "economic", "business", "news"}},
			{SourceBlogPost, []string{"blog", "medium", "wordpress"}},
			{SourceSocialMedia, []string{"facebook", "twitter", "linkedin", "instagram"}},
		},
		BaseScores: map[SourceType]float64{
			SourceOfficialPortal:    0.90,
			SourceGovernmentWebsite: 0.85,
			SourceNewsArticle:       0.60,
			SourceBlogPost:          0.40,
			SourceSocialMedia:       0.30,
			SourceUnknown:           0.50,
		},
		Modifiers: map[string]float64{
			ModHasDeadline:     0.10,
			ModHasAmount:       0.10,
			ModHasEligibility:  0.05,
			ModMultipleSources: 0.10,
			ModStructured:      0.10,
			ModPDF:             -0.10,
			ModManualEntry:     -0.05,
		},
		StructuredMethods: []string{"api", "structured"},
		PDFMethods:        []string{"pdf"},
		ManualMethods:     []string{"manual", "manual_entry"},
	}
}

// ConfidenceResult is the output of ConfidenceScorer.Score.
type ConfidenceResult struct {
	Confidence float64            `json:"confidence"`
	Lineage    models.DataLineage `json:"lineage"`
}

// ConfidenceScorer derives a confidence score and its lineage from how and
// where a grant was found.
type ConfidenceScorer struct {
	cfg ConfidenceConfig
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

func NewConfidenceScorer(cfg ConfidenceConfig) (*ConfidenceScorer, error) {
	if _, ok := cfg.BaseScores[SourceUnknown]; !ok {
		return nil, eris.New("confidence: base score for unknown source is required")
	}
	for st, v := range cfg.BaseScores {
		if v < 0 || v > 1 {
			return nil, eris.Errorf("confidence: base score for %s out of range: %v", st, v)
		}
	}
	for _, r := range cfg.Rules {
		if _, ok := cfg.BaseScores[r.Type]; !ok {
			return nil, eris.Errorf("confidence: rule %s has no base score", r.Type)
		}
	}
	return &ConfidenceScorer{cfg: cfg, Now: time.Now}, nil
}

// ClassifySource maps a URL to a source type by host substring rules.
// Anything unparsable or host-less is unknown.
func (s *ConfidenceScorer) ClassifySource(rawURL string) SourceType {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return SourceUnknown
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return SourceUnknown
	}
	host := strings.ToLower(u.Host)
	for _, r := range s.cfg.Rules {
		if containsAny(host, r.Substrings) {
			return r.Type
		}
	}
	return SourceUnknown
}

// Score never fails: missing or malformed fields fall back to the unknown
// source and simply earn no modifiers.
func (s *ConfidenceScorer) Score(g *models.Grant) ConfidenceResult {
	sourceType := s.ClassifySource(g.PrimarySourceURL())
	base := s.cfg.BaseScores[sourceType]

	var applied []string
	factors := make(map[string]float64)
	apply := func(name string) {
		delta, ok := s.cfg.Modifiers[name]
		if !ok {
			return
		}
		applied = append(applied, name)
		factors[name] = delta
	}

	hasDeadline := s.hasParsedDeadline(g) && g.DeadlineType != "" && g.DeadlineType != models.DeadlineUnknown
	_, hasAmount := g.TicketAmount()

	if hasDeadline {
		apply(ModHasDeadline)
	}
	if hasAmount {
		apply(ModHasAmount)
	}
	if len(g.EligibilityFlags) > 0 {
		apply(ModHasEligibility)
	}
	if len(g.SourceURLs) > 1 {
		apply(ModMultipleSources)
	}

	method := strings.ToLower(strings.TrimSpace(g.ExtractionMethod))
	switch {
	case method == "":
	case containsExact(s.cfg.StructuredMethods, method):
		apply(ModStructured)
	case containsExact(s.cfg.PDFMethods, method):
		apply(ModPDF)
	case containsExact(s.cfg.ManualMethods, method):
		apply(ModManualEntry)
	}

	score := base
	for _, name := range applied {
		score += factors[name]
	}
	final := round2(clamp01(score))

	if method == "" {
		method = "unknown"
	}
	lineage := models.DataLineage{
		SourceType:        string(sourceType),
		ExtractionMethod:  method,
		DataCompleteness:  completeness(g, hasDeadline, hasAmount),
		QualityIndicators: applied,
		ConfidenceFactors: factors,
		BaseScore:         base,
		FinalScore:        final,
		CalculatedAt:      s.Now().UTC(),
	}
	if lineage.QualityIndicators == nil {
		lineage.QualityIndicators = []string{}
	}

	return ConfidenceResult{Confidence: final, Lineage: lineage}
}

// Apply writes the fields the scorer owns.
func (s *ConfidenceScorer) Apply(g *models.Grant, r ConfidenceResult) {
	g.Confidence = r.Confidence
	lineage := r.Lineage
	g.DataLineage = &lineage
}

func (s *ConfidenceScorer) hasParsedDeadline(g *models.Grant) bool {
	if !g.HasDeadlineText() {
		return false
	}
	if _, err := parseDeadline(*g.NextDeadline); err != nil {
		zap.L().Debug("confidence: deadline not parsable",
			zap.String("grant_id", g.ID), zap.String("next_deadline", *g.NextDeadline))
		return false
	}
	return true
}

func completeness(g *models.Grant, hasDeadline, hasAmount bool) map[string]bool {
	return map[string]bool{
		"has_title":          strings.TrimSpace(g.Title) != "",
		"has_agency":         strings.TrimSpace(g.Agency) != "",
		"has_funding_amount": hasAmount,
		"has_deadline":       hasDeadline,
		"has_eligibility":    len(g.EligibilityFlags) > 0,
		"has_sector_tags":    len(g.SectorTags) > 0,
		"has_source_url":     g.PrimarySourceURL() != "",
		"has_bucket":         g.Bucket != "",
	}
}

func containsExact(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
