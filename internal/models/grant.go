package models

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnknownEnum is returned when a caller supplies an enum value outside the
// known set. Ingestion code should use the Normalize* helpers instead.
var ErrUnknownEnum = eris.New("models: unknown enum value")

type Bucket string

const (
	BucketIdeation     Bucket = "Ideation"
	BucketMVPPrototype Bucket = "MVP Prototype"
	BucketEarlyStage   Bucket = "Early Stage"
	BucketGrowth       Bucket = "Growth"
	BucketInfra        Bucket = "Infra"
)

var buckets = []Bucket{BucketIdeation, BucketMVPPrototype, BucketEarlyStage, BucketGrowth, BucketInfra}

type DeadlineType string

const (
	DeadlineRolling        DeadlineType = "rolling"
	DeadlineBatchCall      DeadlineType = "batch_call"
	DeadlineAnnual         DeadlineType = "annual"
	DeadlineClosedWaitlist DeadlineType = "closed_waitlist"
	DeadlineUnknown        DeadlineType = "unknown"
)

var deadlineTypes = []DeadlineType{DeadlineRolling, DeadlineBatchCall, DeadlineAnnual, DeadlineClosedWaitlist, DeadlineUnknown}

type Status string

const (
	StatusLive    Status = "live"
	StatusExpired Status = "expired"
	StatusDraft   Status = "draft"
)

var statuses = []Status{StatusLive, StatusExpired, StatusDraft}

type Complexity string

const (
	ComplexitySimple      Complexity = "simple"
	ComplexityMedium      Complexity = "medium"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

var complexities = []Complexity{ComplexitySimple, ComplexityMedium, ComplexityComplex, ComplexityVeryComplex}

// DeadlineStatus is derived from now and the parsed next deadline.
type DeadlineStatus string

const (
	DeadlineStatusRolling          DeadlineStatus = "rolling"
	DeadlineStatusUnknown          DeadlineStatus = "unknown"
	DeadlineStatusExpired          DeadlineStatus = "expired"
	DeadlineStatusClosingSoon      DeadlineStatus = "closing_soon"
	DeadlineStatusOpenNearDeadline DeadlineStatus = "open_near_deadline"
	DeadlineStatusOpen             DeadlineStatus = "open"
)

// EligibilityCriteria holds the company-age window a grant accepts, in years.
type EligibilityCriteria struct {
	CompanyAgeMin *float64 `json:"company_age_min,omitempty" yaml:"company_age_min"`
	CompanyAgeMax *float64 `json:"company_age_max,omitempty" yaml:"company_age_max"`
}

// TargetAudience holds size limits on applicants. Revenue is in lakh.
type TargetAudience struct {
	TeamSizeMax *int     `json:"team_size_max,omitempty" yaml:"team_size_max"`
	RevenueMax  *float64 `json:"revenue_max,omitempty" yaml:"revenue_max"`
}

// DataLineage explains how a grant's confidence was derived.
type DataLineage struct {
	SourceType        string             `json:"source_type"`
	ExtractionMethod  string             `json:"extraction_method"`
	DataCompleteness  map[string]bool    `json:"data_completeness"`
	QualityIndicators []string           `json:"quality_indicators"`
	ConfidenceFactors map[string]float64 `json:"confidence_factors"`
	BaseScore         float64            `json:"base_score"`
	FinalScore        float64            `json:"final_score"`
	CalculatedAt      time.Time          `json:"calculated_at"`
}

// Grant is the unit of work for every analyzer. Analyzers only overwrite the
// fields they own; nothing replaces the whole record.
type Grant struct {
	ID                string       `json:"id" yaml:"id"`
	Title             string       `json:"title" yaml:"title"`
	Agency            string       `json:"agency" yaml:"agency"`
	Bucket            Bucket       `json:"bucket" yaml:"bucket"`
	Instrument        []string     `json:"instrument" yaml:"instrument"`
	MinTicketLakh     *float64     `json:"min_ticket_lakh" yaml:"min_ticket_lakh"`
	TypicalTicketLakh *float64     `json:"typical_ticket_lakh" yaml:"typical_ticket_lakh"`
	MaxTicketLakh     *float64     `json:"max_ticket_lakh" yaml:"max_ticket_lakh"`
	DeadlineType      DeadlineType `json:"deadline_type" yaml:"deadline_type"`
	// NextDeadline is kept as the source text; analyzers parse it on demand so
	// that an unparsable value degrades instead of failing ingestion.
	NextDeadline     *string  `json:"next_deadline_iso" yaml:"next_deadline_iso"`
	EligibilityFlags []string `json:"eligibility_flags" yaml:"eligibility_flags"`
	SectorTags       []string `json:"sector_tags" yaml:"sector_tags"`
	StateScope       string   `json:"state_scope" yaml:"state_scope"`
	SourceURLs       []string `json:"source_urls" yaml:"source_urls"`
	ExtractionMethod string   `json:"extraction_method,omitempty" yaml:"extraction_method"`

	Confidence  float64      `json:"confidence" yaml:"confidence"`
	DataLineage *DataLineage `json:"data_lineage,omitempty" yaml:"-"`

	Status            Status         `json:"status" yaml:"status"`
	StatusReason      string         `json:"status_reason,omitempty" yaml:"-"`
	DeadlineStatus    DeadlineStatus `json:"deadline_status,omitempty" yaml:"-"`
	StatusConfidence  *float64       `json:"status_confidence,omitempty" yaml:"-"`
	WebsiteAccessible *bool          `json:"website_accessible,omitempty" yaml:"-"`
	LastChecked       *time.Time     `json:"last_checked_iso,omitempty" yaml:"-"`

	IsDuplicate    bool     `json:"is_duplicate" yaml:"-"`
	OriginalID     *string  `json:"original_id,omitempty" yaml:"-"`
	DuplicateCount int      `json:"duplicate_count,omitempty" yaml:"-"`
	MergedFrom     []string `json:"merged_from,omitempty" yaml:"-"`

	EligibilityCriteria *EligibilityCriteria `json:"eligibility_criteria,omitempty" yaml:"eligibility_criteria"`
	TargetAudience      *TargetAudience      `json:"target_audience,omitempty" yaml:"target_audience"`

	ApplicationComplexity Complexity `json:"application_complexity,omitempty" yaml:"-"`

	CreatedAt  time.Time `json:"created_iso" yaml:"-"`
	LastSeenAt time.Time `json:"last_seen_iso" yaml:"-"`
}

// PrimarySourceURL returns the first discovered source URL, or "".
func (g *Grant) PrimarySourceURL() string {
	for _, u := range g.SourceURLs {
		if u = strings.TrimSpace(u); u != "" {
			return u
		}
	}
	return ""
}

// TicketAmount returns the typical ticket, falling back to the max ticket.
// Zero amounts count as absent.
func (g *Grant) TicketAmount() (float64, bool) {
	if v := positive(g.TypicalTicketLakh); v > 0 {
		return v, true
	}
	if v := positive(g.MaxTicketLakh); v > 0 {
		return v, true
	}
	return 0, false
}

// FundingTarget is the amount a requester is compared against: typical, else
// the midpoint of min and max, else max.
func (g *Grant) FundingTarget() (float64, bool) {
	if v := positive(g.TypicalTicketLakh); v > 0 {
		return v, true
	}
	lo, hi := positive(g.MinTicketLakh), positive(g.MaxTicketLakh)
	if lo > 0 && hi > 0 {
		return (lo + hi) / 2, true
	}
	if hi > 0 {
		return hi, true
	}
	return 0, false
}

// HasDeadlineText reports whether a non-blank next deadline was supplied.
func (g *Grant) HasDeadlineText() bool {
	return g.NextDeadline != nil && strings.TrimSpace(*g.NextDeadline) != ""
}

// Clone returns a deep copy so batch operations can annotate without aliasing
// the caller's slices.
func (g *Grant) Clone() *Grant {
	c := *g
	c.Instrument = cloneStrings(g.Instrument)
	c.EligibilityFlags = cloneStrings(g.EligibilityFlags)
	c.SectorTags = cloneStrings(g.SectorTags)
	c.SourceURLs = cloneStrings(g.SourceURLs)
	c.MergedFrom = cloneStrings(g.MergedFrom)
	c.MinTicketLakh = clonePtr(g.MinTicketLakh)
	c.TypicalTicketLakh = clonePtr(g.TypicalTicketLakh)
	c.MaxTicketLakh = clonePtr(g.MaxTicketLakh)
	c.NextDeadline = clonePtr(g.NextDeadline)
	c.StatusConfidence = clonePtr(g.StatusConfidence)
	c.WebsiteAccessible = clonePtr(g.WebsiteAccessible)
	c.LastChecked = clonePtr(g.LastChecked)
	c.OriginalID = clonePtr(g.OriginalID)
	if g.EligibilityCriteria != nil {
		ec := EligibilityCriteria{
			CompanyAgeMin: clonePtr(g.EligibilityCriteria.CompanyAgeMin),
			CompanyAgeMax: clonePtr(g.EligibilityCriteria.CompanyAgeMax),
		}
		c.EligibilityCriteria = &ec
	}
	if g.TargetAudience != nil {
		ta := TargetAudience{
			TeamSizeMax: clonePtr(g.TargetAudience.TeamSizeMax),
			RevenueMax:  clonePtr(g.TargetAudience.RevenueMax),
		}
		c.TargetAudience = &ta
	}
	if g.DataLineage != nil {
		dl := *g.DataLineage
		dl.QualityIndicators = cloneStrings(g.DataLineage.QualityIndicators)
		dl.DataCompleteness = make(map[string]bool, len(g.DataLineage.DataCompleteness))
		for k, v := range g.DataLineage.DataCompleteness {
			dl.DataCompleteness[k] = v
		}
		dl.ConfidenceFactors = make(map[string]float64, len(g.DataLineage.ConfidenceFactors))
		for k, v := range g.DataLineage.ConfidenceFactors {
			dl.ConfidenceFactors[k] = v
		}
		c.DataLineage = &dl
	}
	return &c
}

// Ptr returns a pointer to v. Handy for optional fields in literals.
func Ptr[T any](v T) *T {
	return &v
}

func positive(p *float64) float64 {
	if p == nil || *p <= 0 {
		return 0
	}
	return *p
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
