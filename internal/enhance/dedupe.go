package enhance

import (
	"math"
	"regexp"
	"strings"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type DedupeConfig struct {
	TitleThreshold  int     // 0-100
	AgencyThreshold int     // 0-100
	AmountTolerance float64 // relative difference allowed, 0-1
	TitleStopWords  []string
	AgencyStopWords []string
	// AcronymConnectives are skipped when building a title's initialism, so
	// "Department of Science and Technology (DST)" still drops "(DST)".
	AcronymConnectives []string
}

func DefaultDedupeConfig() DedupeConfig {
	return DedupeConfig{
		TitleThreshold:  85,
		AgencyThreshold: 80,
		AmountTolerance: 0.2,
		TitleStopWords: []string{
			"scheme", "fund", "grant", "startup", "innovation", "support",
			"programme", "program", "initiative", "challenge", "competition",
		},
		AgencyStopWords:    []string{"ministry", "department", "government", "govt", "of", "india", "goi"},
		AcronymConnectives: []string{"of", "and", "for", "the", "&"},
	}
}

// DuplicatePair records one duplicate decision.
type DuplicatePair struct {
	DuplicateID    string `json:"duplicate_id"`
	OriginalID     string `json:"original_id"`
	DuplicateTitle string `json:"duplicate_title"`
	OriginalTitle  string `json:"original_title"`
}

// DedupeStats summarises a batch run.
type DedupeStats struct {
	TotalInput        int             `json:"total_input_grants"`
	Originals         int             `json:"original_grants"`
	Duplicates        int             `json:"duplicate_grants"`
	DeduplicationRate float64         `json:"deduplication_rate"`
	Pairs             []DuplicatePair `json:"duplicate_pairs"`
}

// Deduplicator flags grants that repeat an earlier grant in the same batch.
type Deduplicator struct {
	cfg         DedupeConfig
	titleStop   map[string]struct{}
	agencyStop  map[string]struct{}
	connectives map[string]struct{}
}

func NewDeduplicator(cfg DedupeConfig) (*Deduplicator, error) {
	if cfg.TitleThreshold < 0 || cfg.TitleThreshold > 100 {
		return nil, eris.Errorf("dedupe: title threshold out of range: %d", cfg.TitleThreshold)
	}
	if cfg.AgencyThreshold < 0 || cfg.AgencyThreshold > 100 {
		return nil, eris.Errorf("dedupe: agency threshold out of range: %d", cfg.AgencyThreshold)
	}
	if cfg.AmountTolerance < 0 || cfg.AmountTolerance > 1 {
		return nil, eris.Errorf("dedupe: amount tolerance out of range: %v", cfg.AmountTolerance)
	}
	return &Deduplicator{
		cfg:         cfg,
		titleStop:   wordSet(cfg.TitleStopWords),
		agencyStop:  wordSet(cfg.AgencyStopWords),
		connectives: wordSet(cfg.AcronymConnectives),
	}, nil
}

type canonical struct {
	grant  *models.Grant
	title  string
	agency string
}

// Dedupe walks the batch once, in order. Each grant is compared with the
// canonical grants accepted so far and marked as a duplicate of the first one
// it matches; otherwise it becomes canonical itself. Earlier decisions are
// never revisited, so the result depends on input order.
//
// Grants are annotated in place (IsDuplicate, OriginalID) and the same slice
// is returned.
func (d *Deduplicator) Dedupe(grants []*models.Grant) ([]*models.Grant, DedupeStats) {
	var accepted []canonical
	titles := make(map[string]string, len(grants))
	stats := DedupeStats{TotalInput: len(grants), Pairs: []DuplicatePair{}}

	for _, g := range grants {
		g.IsDuplicate = false
		g.OriginalID = nil

		title, agency := d.cleanTitle(g.Title), d.cleanAgency(g.Agency)
		for _, c := range accepted {
			if !d.matchCleaned(g, c.grant, title, c.title, agency, c.agency) {
				continue
			}
			g.IsDuplicate = true
			g.OriginalID = models.Ptr(c.grant.ID)
			zap.L().Debug("dedupe: duplicate found",
				zap.String("grant_id", g.ID), zap.String("original_id", c.grant.ID))
			break
		}

		if g.IsDuplicate {
			stats.Duplicates++
			stats.Pairs = append(stats.Pairs, DuplicatePair{
				DuplicateID:    g.ID,
				OriginalID:     *g.OriginalID,
				DuplicateTitle: g.Title,
				OriginalTitle:  titles[*g.OriginalID],
			})
			continue
		}
		accepted = append(accepted, canonical{grant: g, title: title, agency: agency})
		titles[g.ID] = g.Title
		stats.Originals++
	}

	if stats.TotalInput > 0 {
		stats.DeduplicationRate = float64(stats.Duplicates) / float64(stats.TotalInput)
	}
	return grants, stats
}

// IsDuplicate reports whether a and b describe the same grant: similar
// titles, similar agencies and compatible amounts are all required.
func (d *Deduplicator) IsDuplicate(a, b *models.Grant) bool {
	return d.matchCleaned(a, b,
		d.cleanTitle(a.Title), d.cleanTitle(b.Title),
		d.cleanAgency(a.Agency), d.cleanAgency(b.Agency))
}

func (d *Deduplicator) matchCleaned(a, b *models.Grant, titleA, titleB, agencyA, agencyB string) bool {
	if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(b.Title) == "" {
		return false
	}
	if TokenSortRatio(titleA, titleB) < d.cfg.TitleThreshold {
		return false
	}
	if strings.TrimSpace(a.Agency) == "" || strings.TrimSpace(b.Agency) == "" {
		return false
	}
	if Ratio(agencyA, agencyB) < d.cfg.AgencyThreshold {
		return false
	}
	return d.AmountsCompatible(a, b)
}

// TitleSimilarity is the 0-100 reorder-tolerant similarity of two titles
// after cleaning. An empty title scores 0.
func (d *Deduplicator) TitleSimilarity(a, b string) int {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}
	return TokenSortRatio(d.cleanTitle(a), d.cleanTitle(b))
}

// AgencySimilarity is the 0-100 character similarity of two agency names
// after generic words are removed. An empty agency scores 0.
func (d *Deduplicator) AgencySimilarity(a, b string) int {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}
	return Ratio(d.cleanAgency(a), d.cleanAgency(b))
}

// AmountsCompatible compares typical-or-max tickets. A missing amount on
// either side cannot discriminate and counts as compatible.
func (d *Deduplicator) AmountsCompatible(a, b *models.Grant) bool {
	amtA, okA := a.TicketAmount()
	amtB, okB := b.TicketAmount()
	if !okA || !okB {
		return true
	}
	avg := (amtA + amtB) / 2
	if avg <= 0 {
		return true
	}
	return math.Abs(amtA-amtB)/avg <= d.cfg.AmountTolerance
}

var parenthesised = regexp.MustCompile(`\(([^()]*)\)`)

func (d *Deduplicator) cleanTitle(title string) string {
	title = d.dropAcronyms(title)
	return strings.Join(dropWords(wordTokens(title), d.titleStop), " ")
}

func (d *Deduplicator) cleanAgency(agency string) string {
	return strings.Join(dropWords(wordTokens(agency), d.agencyStop), " ")
}

// dropAcronyms removes a parenthesised segment when it spells the initials
// of the rest of the title.
func (d *Deduplicator) dropAcronyms(title string) string {
	if !strings.Contains(title, "(") {
		return title
	}
	outside := parenthesised.ReplaceAllString(title, " ")
	var initials strings.Builder
	for _, w := range wordTokens(outside) {
		if _, skip := d.connectives[w]; skip {
			continue
		}
		initials.WriteRune([]rune(w)[0])
	}
	if initials.Len() < 2 {
		return title
	}
	return parenthesised.ReplaceAllStringFunc(title, func(seg string) string {
		if strings.Join(wordTokens(seg), "") == initials.String() {
			return " "
		}
		return seg
	})
}

// Clusters groups an annotated batch: each canonical grant followed by the
// duplicates that point at it. Duplicates whose original is not in the
// batch form their own cluster.
func (d *Deduplicator) Clusters(grants []*models.Grant) [][]*models.Grant {
	index := make(map[string]int)
	var clusters [][]*models.Grant
	for _, g := range grants {
		if g.IsDuplicate && g.OriginalID != nil {
			if i, ok := index[*g.OriginalID]; ok {
				clusters[i] = append(clusters[i], g)
				continue
			}
		}
		index[g.ID] = len(clusters)
		clusters = append(clusters, []*models.Grant{g})
	}
	return clusters
}

// PickRepresentative returns a copy of the highest-confidence member (the
// earliest wins a tie) carrying the union of all members' source URLs,
// the cluster size, and the ids of the other members.
func (d *Deduplicator) PickRepresentative(cluster []*models.Grant) *models.Grant {
	if len(cluster) == 0 {
		return nil
	}
	best := 0
	for i, g := range cluster {
		if g.Confidence > cluster[best].Confidence {
			best = i
		}
	}

	rep := cluster[best].Clone()
	rep.IsDuplicate = false
	rep.OriginalID = nil
	rep.DuplicateCount = len(cluster)
	rep.MergedFrom = []string{}
	rep.SourceURLs = mergeUnique([]string{}, rep.SourceURLs)
	for i, g := range cluster {
		if i == best {
			continue
		}
		rep.SourceURLs = mergeUnique(rep.SourceURLs, g.SourceURLs)
		rep.MergedFrom = mergeUnique(rep.MergedFrom, []string{g.ID})
	}
	return rep
}

// Merge runs Dedupe and collapses every cluster into its representative.
func (d *Deduplicator) Merge(grants []*models.Grant) ([]*models.Grant, DedupeStats) {
	annotated, stats := d.Dedupe(grants)
	clusters := d.Clusters(annotated)
	out := make([]*models.Grant, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, d.PickRepresentative(c))
	}
	return out, stats
}
