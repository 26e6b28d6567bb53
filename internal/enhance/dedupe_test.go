package enhance

import (
	"testing"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeduplicator(t *testing.T) *Deduplicator {
	t.Helper()
	d, err := NewDeduplicator(DefaultDedupeConfig())
	require.NoError(t, err)
	return d
}

func seedFundGrants() []*models.Grant {
	return []*models.Grant{
		{
			ID:                "grant1",
			Title:             "Startup India Seed Fund Scheme",
			Agency:            "DPIIT, Government of India",
			TypicalTicketLakh: models.Ptr(50.0),
			Confidence:        0.9,
			SourceURLs:        []string{"https://seedfund.startupindia.gov.in"},
		},
		{
			ID:                "grant2",
			Title:             "Startup India Seed Fund Scheme (SISFS)",
			Agency:            "DPIIT, GoI",
			TypicalTicketLakh: models.Ptr(45.0),
			Confidence:        0.85,
			SourceURLs:        []string{"https://inc42.com/sisfs", "https://seedfund.startupindia.gov.in"},
		},
		{
			ID:                "grant3",
			Title:             "BIRAC Innovation Grant",
			Agency:            "BIRAC",
			TypicalTicketLakh: models.Ptr(75.0),
			Confidence:        0.8,
		},
	}
}

func TestDedupe_SeedFundExample(t *testing.T) {
	d := newTestDeduplicator(t)
	out, stats := d.Dedupe(seedFundGrants())

	require.Len(t, out, 3)
	assert.False(t, out[0].IsDuplicate)
	assert.True(t, out[1].IsDuplicate)
	require.NotNil(t, out[1].OriginalID)
	assert.Equal(t, "grant1", *out[1].OriginalID)
	assert.False(t, out[2].IsDuplicate)
	assert.Nil(t, out[2].OriginalID)

	assert.Equal(t, 3, stats.TotalInput)
	assert.Equal(t, 2, stats.Originals)
	assert.Equal(t, 1, stats.Duplicates)
	assert.InDelta(t, 1.0/3.0, stats.DeduplicationRate, 1e-9)
	assert.Equal(t, []DuplicatePair{{
		DuplicateID:    "grant2",
		OriginalID:     "grant1",
		DuplicateTitle: "Startup India Seed Fund Scheme (SISFS)",
		OriginalTitle:  "Startup India Seed Fund Scheme",
	}}, stats.Pairs)
}

func TestDedupe_IsIdempotent(t *testing.T) {
	d := newTestDeduplicator(t)
	first, _ := d.Dedupe(seedFundGrants())
	snapshot := make([]*string, len(first))
	for i, g := range first {
		snapshot[i] = g.OriginalID
	}

	second, _ := d.Dedupe(first)
	for i, g := range second {
		assert.Equal(t, snapshot[i] != nil, g.IsDuplicate)
		assert.Equal(t, snapshot[i], g.OriginalID)
	}
}

func TestDedupe_AllPredicatesRequired(t *testing.T) {
	d := newTestDeduplicator(t)
	base := models.Grant{ID: "a", Title: "Women Entrepreneurship Platform", Agency: "NITI Aayog", TypicalTicketLakh: models.Ptr(10.0)}

	sameAll := base
	sameAll.ID = "b"
	assert.True(t, d.IsDuplicate(&base, &sameAll))

	otherAgency := sameAll
	otherAgency.Agency = "SIDBI"
	assert.False(t, d.IsDuplicate(&base, &otherAgency))

	otherAmount := sameAll
	otherAmount.TypicalTicketLakh = models.Ptr(25.0)
	assert.False(t, d.IsDuplicate(&base, &otherAmount))

	otherTitle := sameAll
	otherTitle.Title = "Atal Incubation Centre"
	assert.False(t, d.IsDuplicate(&base, &otherTitle))

	noAmount := sameAll
	noAmount.TypicalTicketLakh = nil
	assert.True(t, d.IsDuplicate(&base, &noAmount), "missing amount cannot discriminate")

	noAgency := sameAll
	noAgency.Agency = ""
	assert.False(t, d.IsDuplicate(&base, &noAgency))
}

func TestDedupe_ComparesOnlyAgainstCanonical(t *testing.T) {
	d := newTestDeduplicator(t)
	// b duplicates a; c is close to b's amount but not to a's.
	grants := []*models.Grant{
		{ID: "a", Title: "Nidhi Prayas", Agency: "DST", TypicalTicketLakh: models.Ptr(10.0)},
		{ID: "b", Title: "Nidhi Prayas", Agency: "DST", TypicalTicketLakh: models.Ptr(11.5)},
		{ID: "c", Title: "Nidhi Prayas", Agency: "DST", TypicalTicketLakh: models.Ptr(13.5)},
	}
	out, stats := d.Dedupe(grants)
	assert.True(t, out[1].IsDuplicate)
	assert.False(t, out[2].IsDuplicate, "c must not chain through duplicate b")
	assert.Equal(t, 2, stats.Originals)
}

func TestDedupe_FirstMatchWins(t *testing.T) {
	d := newTestDeduplicator(t)
	grants := []*models.Grant{
		{ID: "a", Title: "Nidhi Prayas", Agency: "DST"},
		{ID: "b", Title: "Nidhi Prayas", Agency: "DST", TypicalTicketLakh: models.Ptr(100.0)},
		{ID: "c", Title: "Nidhi Prayas", Agency: "DST"},
	}
	out, _ := d.Dedupe(grants)
	// b matches a (a has no amount), so only a is canonical.
	require.True(t, out[1].IsDuplicate)
	require.True(t, out[2].IsDuplicate)
	assert.Equal(t, "a", *out[2].OriginalID)
}

func TestDedupe_IdenticalGenericNames(t *testing.T) {
	d := newTestDeduplicator(t)
	grants := []*models.Grant{
		{ID: "a", Title: "Startup Innovation Challenge", Agency: "Government of India", TypicalTicketLakh: models.Ptr(50.0)},
		{ID: "b", Title: "Startup Innovation Challenge", Agency: "Government of India", TypicalTicketLakh: models.Ptr(50.0)},
	}
	assert.Equal(t, 100, d.AgencySimilarity("Government of India", "Government of India"))
	assert.Equal(t, 100, d.TitleSimilarity("Startup Innovation Challenge", "Startup Innovation Challenge"))

	out, stats := d.Dedupe(grants)
	require.True(t, out[1].IsDuplicate)
	assert.Equal(t, "a", *out[1].OriginalID)
	assert.Equal(t, 1, stats.Duplicates)

	// a generic agency still differs from a named one
	assert.Equal(t, 0, d.AgencySimilarity("Government of India", "DPIIT"))
}

func TestPickRepresentative_DedupesWinnerURLs(t *testing.T) {
	d := newTestDeduplicator(t)
	rep := d.PickRepresentative([]*models.Grant{
		{ID: "x", Confidence: 0.9, SourceURLs: []string{"https://a.gov.in", "https://a.gov.in", "https://b.gov.in"}},
		{ID: "y", Confidence: 0.5, SourceURLs: []string{"https://b.gov.in", "https://c.gov.in"}},
	})
	assert.Equal(t, []string{"https://a.gov.in", "https://b.gov.in", "https://c.gov.in"}, rep.SourceURLs)
	assert.Equal(t, []string{"y"}, rep.MergedFrom)
}

func TestDedupe_EmptyBatch(t *testing.T) {
	d := newTestDeduplicator(t)
	out, stats := d.Dedupe(nil)
	assert.Empty(t, out)
	assert.Zero(t, stats.DeduplicationRate)
	assert.NotNil(t, stats.Pairs)
}

func TestSimilarityHelpers(t *testing.T) {
	d := newTestDeduplicator(t)
	assert.Equal(t, 100, d.TitleSimilarity("Startup India Seed Fund Scheme", "Seed Fund Scheme: Startup India"))
	assert.Equal(t, 0, d.TitleSimilarity("", "Seed"))
	assert.Equal(t, 100, d.AgencySimilarity("Ministry of Electronics and IT, Government of India", "Ministry of Electronics and IT"))
	assert.Equal(t, 0, d.AgencySimilarity("MeitY", "  "))
	// acronym that does not spell the title is kept
	assert.Less(t, d.TitleSimilarity("Nidhi Prayas (XYZ)", "Nidhi Prayas"), 100)
	// connectives are skipped when spelling initials
	assert.Equal(t, 100, d.TitleSimilarity("Technology Development Board (TDB)", "Technology Development Board"))
	assert.Equal(t, 100, d.TitleSimilarity("Department of Science and Technology (DST)", "Department of Science and Technology"))
}

func TestPickRepresentative(t *testing.T) {
	d := newTestDeduplicator(t)
	grants := seedFundGrants()
	grants[1].Confidence = 0.95

	rep := d.PickRepresentative(grants[:2])
	require.NotNil(t, rep)
	assert.Equal(t, "grant2", rep.ID)
	assert.Equal(t, 2, rep.DuplicateCount)
	assert.Equal(t, []string{"grant1"}, rep.MergedFrom)
	assert.ElementsMatch(t, []string{"https://inc42.com/sisfs", "https://seedfund.startupindia.gov.in"}, rep.SourceURLs)
	assert.False(t, rep.IsDuplicate)

	// the input is not modified
	assert.Len(t, grants[1].SourceURLs, 2)
	assert.Zero(t, grants[1].DuplicateCount)

	assert.Nil(t, d.PickRepresentative(nil))
}

func TestPickRepresentative_TieKeepsEarliest(t *testing.T) {
	d := newTestDeduplicator(t)
	rep := d.PickRepresentative([]*models.Grant{
		{ID: "x", Confidence: 0.7},
		{ID: "y", Confidence: 0.7},
	})
	assert.Equal(t, "x", rep.ID)
	assert.Equal(t, []string{"y"}, rep.MergedFrom)
}

func TestMerge(t *testing.T) {
	d := newTestDeduplicator(t)
	out, stats := d.Merge(seedFundGrants())
	require.Len(t, out, 2)
	assert.Equal(t, "grant1", out[0].ID)
	assert.Equal(t, 2, out[0].DuplicateCount)
	assert.Equal(t, []string{"https://seedfund.startupindia.gov.in", "https://inc42.com/sisfs"}, out[0].SourceURLs)
	assert.Equal(t, "grant3", out[1].ID)
	assert.Equal(t, 1, out[1].DuplicateCount)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestNewDeduplicator_Validates(t *testing.T) {
	cfg := DefaultDedupeConfig()
	cfg.TitleThreshold = 101
	_, err := NewDeduplicator(cfg)
	assert.Error(t, err)

	cfg = DefaultDedupeConfig()
	cfg.AmountTolerance = -1
	_, err = NewDeduplicator(cfg)
	assert.Error(t, err)
}
