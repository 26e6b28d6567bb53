package enhance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNilProber is returned by NewStatusMonitor when no probe transport is given.
var ErrNilProber = eris.New("enhance: status monitor requires a prober")

// ProbeResponse is what a liveness probe saw at a URL. Body is the visible
// page text, already decoded.
type ProbeResponse struct {
	StatusCode int
	Body       string
}

// Prober fetches a grant page. Implementations must honour ctx cancellation;
// any returned error is treated as a transport failure.
type Prober interface {
	Fetch(ctx context.Context, url string) (*ProbeResponse, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, url string) (*ProbeResponse, error)

func (f ProberFunc) Fetch(ctx context.Context, url string) (*ProbeResponse, error) {
	return f(ctx, url)
}

// Likely statuses inferred from page text.
const (
	LikelyOpen    = "open"
	LikelyClosed  = "closed"
	LikelyUnknown = "unknown"
)

// Status reasons recorded on a grant.
const (
	ReasonDeadlinePassed     = "deadline_passed"
	ReasonWebsiteNotFound    = "website_not_found"
	ReasonWebsiteError       = "website_error"
	ReasonWebsiteUnreachable = "website_unreachable"
	ReasonPageClosed         = "page_indicates_closed"
	ReasonPageOpen           = "page_indicates_open"
)

type StatusConfig struct {
	ClosedKeywords []string
	OpenKeywords   []string

	ClosingSoonDays  int
	NearDeadlineDays int

	// StaleAfter is how long a check stays fresh for NeedingRefresh.
	StaleAfter time.Duration
	// Timeout bounds a single probe.
	Timeout     time.Duration
	Concurrency int
}

func DefaultStatusConfig() StatusConfig {
	return StatusConfig{
		ClosedKeywords: []string{
			"closed", "expired", "deadline passed", "applications closed",
			"no longer accepting", "ended", "concluded", "completed",
			"submissions closed", "registration closed",
		},
		OpenKeywords: []string{
			"apply now", "applications open", "accepting applications",
			"submit application", "register now", "deadline", "last date",
		},
		ClosingSoonDays:  7,
		NearDeadlineDays: 30,
		StaleAfter:       24 * time.Hour,
		Timeout:          10 * time.Second,
		Concurrency:      8,
	}
}

// StatusInfo is the outcome of one status check.
type StatusInfo struct {
	GrantID           string                `json:"grant_id"`
	Status            models.Status         `json:"status"`
	StatusReason      string                `json:"status_reason,omitempty"`
	DeadlineStatus    models.DeadlineStatus `json:"deadline_status"`
	DaysUntilDeadline *int                  `json:"days_until_deadline"`
	WebsiteAccessible bool                  `json:"website_accessible"`
	StatusConfidence  float64               `json:"status_confidence"`
	HTTPStatus        int                   `json:"http_status,omitempty"`
	LikelyStatus      string                `json:"likely_status,omitempty"`
	ClosedIndicators  int                   `json:"closed_indicators"`
	OpenIndicators    int                   `json:"open_indicators"`
	LastChecked       time.Time             `json:"last_checked_iso"`
}

type StatusMonitor struct {
	cfg    StatusConfig
	prober Prober
	Now    func() time.Time
}

func NewStatusMonitor(cfg StatusConfig, prober Prober) (*StatusMonitor, error) {
	if prober == nil {
		return nil, ErrNilProber
	}
	if cfg.Concurrency < 1 {
		return nil, eris.Errorf("status: concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.Timeout <= 0 {
		return nil, eris.Errorf("status: timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.ClosingSoonDays < 0 || cfg.NearDeadlineDays < cfg.ClosingSoonDays {
		return nil, eris.Errorf("status: bad deadline windows %d/%d", cfg.ClosingSoonDays, cfg.NearDeadlineDays)
	}
	return &StatusMonitor{cfg: cfg, prober: prober, Now: time.Now}, nil
}

// Check derives the deadline status and, unless the deadline has passed,
// probes the grant's primary source URL. It never returns an error: probe
// failures are recorded on the result.
func (m *StatusMonitor) Check(ctx context.Context, g *models.Grant) StatusInfo {
	now := m.Now().UTC()

	info := StatusInfo{
		GrantID:           g.ID,
		Status:            g.Status,
		WebsiteAccessible: true,
		StatusConfidence:  0.5,
		LastChecked:       now,
	}
	if info.Status == "" {
		info.Status = models.StatusLive
	}

	info.DeadlineStatus, info.DaysUntilDeadline = m.deadlineStatus(g, now)
	if info.DeadlineStatus == models.DeadlineStatusExpired {
		info.Status = models.StatusExpired
		info.StatusReason = ReasonDeadlinePassed
		info.StatusConfidence = 1.0
		return info
	}

	rawURL := g.PrimarySourceURL()
	if rawURL == "" {
		return info
	}

	resp, err := m.probe(ctx, rawURL)
	switch {
	case err != nil:
		zap.L().Warn("status: probe failed",
			zap.String("grant_id", g.ID), zap.String("url", rawURL), zap.Error(err))
		info.WebsiteAccessible = false
		info.StatusConfidence = 0.6
		info.StatusReason = ReasonWebsiteUnreachable
	case resp.StatusCode == 404:
		info.HTTPStatus = resp.StatusCode
		info.WebsiteAccessible = false
		info.StatusConfidence = 0.9
		info.StatusReason = ReasonWebsiteNotFound
	case resp.StatusCode != 200:
		info.HTTPStatus = resp.StatusCode
		info.WebsiteAccessible = false
		info.StatusConfidence = 0.7
		info.StatusReason = ReasonWebsiteError
	default:
		info.HTTPStatus = resp.StatusCode
		m.analyzeContent(resp.Body, &info)
	}
	return info
}

// probe runs one fetch under the per-call timeout. A panicking prober is
// reported as a transport failure.
func (m *StatusMonitor) probe(ctx context.Context, rawURL string) (resp *ProbeResponse, err error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, eris.Errorf("status: prober panic: %v", r)
		}
	}()

	resp, err = m.prober.Fetch(ctx, rawURL)
	if err == nil && resp == nil {
		err = eris.New("status: prober returned no response")
	}
	return resp, err
}

func (m *StatusMonitor) deadlineStatus(g *models.Grant, now time.Time) (models.DeadlineStatus, *int) {
	if !g.HasDeadlineText() || g.DeadlineType == models.DeadlineRolling {
		return models.DeadlineStatusRolling, nil
	}
	deadline, err := parseDeadline(*g.NextDeadline)
	if err != nil {
		zap.L().Warn("status: could not parse deadline",
			zap.String("grant_id", g.ID), zap.String("next_deadline", *g.NextDeadline))
		return models.DeadlineStatusUnknown, nil
	}

	days := daysUntil(deadline, now)
	switch {
	case days < 0:
		return models.DeadlineStatusExpired, &days
	case days <= m.cfg.ClosingSoonDays:
		return models.DeadlineStatusClosingSoon, &days
	case days <= m.cfg.NearDeadlineDays:
		return models.DeadlineStatusOpenNearDeadline, &days
	default:
		return models.DeadlineStatusOpen, &days
	}
}

func (m *StatusMonitor) analyzeContent(body string, info *StatusInfo) {
	content := strings.ToLower(body)
	closed := countContained(content, m.cfg.ClosedKeywords)
	open := countContained(content, m.cfg.OpenKeywords)
	info.ClosedIndicators, info.OpenIndicators = closed, open

	switch {
	case closed > open && closed > 0:
		info.LikelyStatus = LikelyClosed
		info.StatusReason = ReasonPageClosed
		info.StatusConfidence = min(0.9, 0.5+0.1*float64(closed))
	case open > closed && open > 0:
		info.LikelyStatus = LikelyOpen
		info.StatusReason = ReasonPageOpen
		info.StatusConfidence = min(0.9, 0.5+0.1*float64(open))
	default:
		info.LikelyStatus = LikelyUnknown
	}
}

// Apply writes the fields the monitor owns.
func (m *StatusMonitor) Apply(g *models.Grant, info StatusInfo) {
	g.Status = info.Status
	g.StatusReason = info.StatusReason
	g.DeadlineStatus = info.DeadlineStatus
	g.StatusConfidence = models.Ptr(info.StatusConfidence)
	g.WebsiteAccessible = models.Ptr(info.WebsiteAccessible)
	checked := info.LastChecked
	g.LastChecked = &checked
}

// CheckBatch checks every grant on a bounded pool. Results are in input
// order; one grant's failure never affects the others.
func (m *StatusMonitor) CheckBatch(ctx context.Context, grants []*models.Grant) []StatusInfo {
	out := make([]StatusInfo, len(grants))

	var eg errgroup.Group
	eg.SetLimit(m.cfg.Concurrency)
	for i, g := range grants {
		eg.Go(func() error {
			out[i] = m.Check(ctx, g)
			return nil
		})
	}
	_ = eg.Wait()

	zap.L().Info("status: batch checked", zap.Int("grants", len(grants)))
	return out
}

// NeedingRefresh selects grants that are not expired and were never checked
// or were last checked at or before now minus the staleness window.
func (m *StatusMonitor) NeedingRefresh(grants []*models.Grant, now time.Time) []*models.Grant {
	cutoff := now.Add(-m.cfg.StaleAfter)
	var out []*models.Grant
	for _, g := range grants {
		if g.Status == models.StatusExpired {
			continue
		}
		if g.LastChecked != nil && !g.LastChecked.Before(cutoff) {
			continue
		}
		out = append(out, g)
	}
	return out
}

type MonitoringSummary struct {
	LastUpdated     time.Time `json:"last_updated"`
	GrantsMonitored int       `json:"grants_monitored"`
	WebsiteIssues   int       `json:"website_issues"`
	ExpiredGrants   int       `json:"expired_grants"`
}

type StatusReport struct {
	TotalGrants       int               `json:"total_grants"`
	StatusBreakdown   map[string]int    `json:"status_breakdown"`
	DeadlineBreakdown map[string]int    `json:"deadline_breakdown"`
	MonitoringSummary MonitoringSummary `json:"monitoring_summary"`
}

func (m *StatusMonitor) Report(grants []*models.Grant) StatusReport {
	r := StatusReport{
		TotalGrants:       len(grants),
		StatusBreakdown:   map[string]int{},
		DeadlineBreakdown: map[string]int{},
		MonitoringSummary: MonitoringSummary{LastUpdated: m.Now().UTC()},
	}
	for _, g := range grants {
		status := orUnknown(string(g.Status))
		r.StatusBreakdown[status]++
		r.DeadlineBreakdown[orUnknown(string(g.DeadlineStatus))]++

		if g.LastChecked != nil {
			r.MonitoringSummary.GrantsMonitored++
		}
		if g.WebsiteAccessible != nil && !*g.WebsiteAccessible {
			r.MonitoringSummary.WebsiteIssues++
		}
		if g.Status == models.StatusExpired {
			r.MonitoringSummary.ExpiredGrants++
		}
	}
	return r
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// String renders a one-line summary for logs and the CLI.
func (i StatusInfo) String() string {
	days := "n/a"
	if i.DaysUntilDeadline != nil {
		days = fmt.Sprint(*i.DaysUntilDeadline)
	}
	return fmt.Sprintf("%s status=%s deadline=%s days=%s accessible=%t confidence=%.2f",
		i.GrantID, i.Status, i.DeadlineStatus, days, i.WebsiteAccessible, i.StatusConfidence)
}
