package jobs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/david/grant-enhancer/internal/db"
	"github.com/david/grant-enhancer/internal/models"
	"github.com/rotisserie/eris"
)

// MemoryStore is a Store held in memory. It backs offline runs against a
// seed catalogue and stands in for Postgres in tests.
type MemoryStore struct {
	mu     sync.Mutex
	grants map[string]*models.Grant
	order  []string
	Now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(grants ...*models.Grant) *MemoryStore {
	m := &MemoryStore{grants: map[string]*models.Grant{}, Now: time.Now}
	for _, g := range grants {
		_, _ = m.Upsert(context.Background(), g)
	}
	return m
}

func (m *MemoryStore) Upsert(_ context.Context, g *models.Grant) (bool, error) {
	if strings.TrimSpace(g.ID) == "" {
		return false, eris.New("memory: upsert grant without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := g.Clone()
	now := m.Now().UTC()
	c.LastSeenAt = now
	prev, exists := m.grants[g.ID]
	if exists {
		c.CreatedAt = prev.CreatedAt
		// status fields belong to the monitor once a grant is stored
		c.Status = prev.Status
		c.StatusReason = prev.StatusReason
		c.DeadlineStatus = prev.DeadlineStatus
		c.StatusConfidence = copyPtr(prev.StatusConfidence)
		c.WebsiteAccessible = copyPtr(prev.WebsiteAccessible)
		c.LastChecked = copyPtr(prev.LastChecked)
	} else {
		c.CreatedAt = now
		m.order = append(m.order, g.ID)
	}
	m.grants[g.ID] = c
	return !exists, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return nil, eris.Wrapf(db.ErrNotFound, "id %s", id)
	}
	return g.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, status models.Status) ([]models.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Grant{}
	for _, id := range m.order {
		g := m.grants[id]
		if status == "" || g.Status == status {
			out = append(out, *g.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Query(_ context.Context, f db.Filter) ([]models.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := strings.ToLower(strings.TrimSpace(f.Status))
	if status == "" {
		status = string(models.StatusLive)
	}
	out := []models.Grant{}
	for _, id := range m.order {
		g := m.grants[id]
		if status != "all" && string(g.Status) != status {
			continue
		}
		if !f.IncludeDuplicates && g.IsDuplicate {
			continue
		}
		if f.Bucket != "" && !strings.EqualFold(string(g.Bucket), f.Bucket) {
			continue
		}
		if f.MinAmount != nil && (g.TypicalTicketLakh == nil || *g.TypicalTicketLakh < *f.MinAmount) {
			continue
		}
		if f.MaxAmount != nil && (g.TypicalTicketLakh == nil || *g.TypicalTicketLakh > *f.MaxAmount) {
			continue
		}
		if sector := strings.TrimSpace(f.Sector); sector != "" && !hasTag(g.SectorTags, sector) {
			continue
		}
		if state := strings.TrimSpace(f.State); state != "" {
			scope := strings.ToLower(g.StateScope)
			if scope != "national" && !strings.Contains(scope, strings.ToLower(state)) {
				continue
			}
		}
		if f.Complexity != "" && !strings.EqualFold(string(g.ApplicationComplexity), f.Complexity) {
			continue
		}
		out = append(out, *g.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		ta, tb := a.TypicalTicketLakh, b.TypicalTicketLakh
		if (ta == nil) != (tb == nil) {
			return ta != nil
		}
		if ta != nil && *ta != *tb {
			return *ta > *tb
		}
		return a.ID < b.ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Grant{}, nil
		}
		out = out[f.Offset:]
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) NeedingRefresh(_ context.Context, staleAfter time.Duration, limit int) ([]models.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.Now().Add(-staleAfter)
	out := []models.Grant{}
	for _, id := range m.order {
		g := m.grants[id]
		if g.Status == models.StatusExpired {
			continue
		}
		if g.LastChecked != nil && !g.LastChecked.Before(cutoff) {
			continue
		}
		out = append(out, *g.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastChecked, out[j].LastChecked
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, g *models.Grant) error {
	return m.update(g.ID, func(s *models.Grant) {
		s.Status = g.Status
		s.StatusReason = g.StatusReason
		s.DeadlineStatus = g.DeadlineStatus
		s.StatusConfidence = g.StatusConfidence
		s.WebsiteAccessible = g.WebsiteAccessible
		s.LastChecked = g.LastChecked
	})
}

func (m *MemoryStore) UpdateConfidence(_ context.Context, g *models.Grant) error {
	lineage := g.Clone().DataLineage
	return m.update(g.ID, func(s *models.Grant) {
		s.Confidence = g.Confidence
		s.DataLineage = lineage
	})
}

func (m *MemoryStore) UpdateComplexity(_ context.Context, g *models.Grant) error {
	return m.update(g.ID, func(s *models.Grant) {
		s.ApplicationComplexity = g.ApplicationComplexity
	})
}

func (m *MemoryStore) UpdateDuplicate(_ context.Context, g *models.Grant) error {
	c := g.Clone()
	return m.update(g.ID, func(s *models.Grant) {
		s.IsDuplicate = c.IsDuplicate
		s.OriginalID = c.OriginalID
		s.DuplicateCount = c.DuplicateCount
		s.MergedFrom = c.MergedFrom
	})
}

func (m *MemoryStore) update(id string, fn func(*models.Grant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return eris.Wrapf(db.ErrNotFound, "id %s", id)
	}
	fn(g)
	return nil
}

func (m *MemoryStore) Stats(_ context.Context) (*db.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &db.Stats{
		ByStatus:     map[string]int{},
		ByComplexity: map[string]int{},
		ByBucket:     map[string]int{},
	}
	var sum float64
	for _, g := range m.grants {
		st.Total++
		sum += g.Confidence
		if g.Status == models.StatusLive && !g.IsDuplicate {
			st.Live++
		}
		if g.IsDuplicate {
			st.Duplicates++
		}
		st.ByStatus[orUnknown(string(g.Status))]++
		st.ByComplexity[orUnknown(string(g.ApplicationComplexity))]++
		st.ByBucket[orUnknown(string(g.Bucket))]++
	}
	if st.Total > 0 {
		st.AverageConfidence = sum / float64(st.Total)
	}
	return st, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
