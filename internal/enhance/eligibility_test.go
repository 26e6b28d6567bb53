package enhance

import (
	"testing"
	"time"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatcher(t *testing.T) *EligibilityMatcher {
	t.Helper()
	m, err := NewEligibilityMatcher(DefaultMatcherConfig())
	require.NoError(t, err)
	m.Now = func() time.Time { return fixedNow }
	return m
}

func seedFundGrant() *models.Grant {
	return &models.Grant{
		ID:            "sisfs",
		Title:         "Startup India Seed Fund Scheme",
		Agency:        "DPIIT",
		Bucket:        models.BucketEarlyStage,
		MinTicketLakh: models.Ptr(20.0),
		MaxTicketLakh: models.Ptr(50.0),
		SectorTags:    []string{"technology", "healthcare"},
		StateScope:    "national",
	}
}

func TestMatch_IdenticalProfileScoresHigh(t *testing.T) {
	m := newTestMatcher(t)
	g := seedFundGrant()
	p := models.StartupProfile{
		Stage:           "Early Stage",
		Sectors:         []string{"technology", "healthcare"},
		Location:        "Karnataka",
		FundingNeeded:   models.Ptr(35.0),
		CompanyAgeYears: models.Ptr(2.0),
	}

	res := m.Match(p, g)
	assert.GreaterOrEqual(t, res.OverallScore, 0.85)
	assert.LessOrEqual(t, res.OverallScore, 1.0)
	assert.Equal(t, 1.0, res.Breakdown[FactorStage])
	assert.Equal(t, 1.0, res.Breakdown[FactorSector])
	assert.Equal(t, 1.0, res.Breakdown[FactorLocation])
	assert.Equal(t, 1.0, res.Breakdown[FactorFunding])
	assert.Equal(t, 0.8, res.Breakdown[FactorAge])
	assert.Equal(t, 0.5, res.Breakdown[FactorSize])
	assert.Equal(t, 1.0, res.Breakdown[FactorSpecial])
	assert.Empty(t, res.Recommendations)
	assert.Equal(t, "sisfs", res.GrantID)
	assert.Equal(t, fixedNow, res.CalculatedAt)
}

func TestMatch_EmptyProfileIsNeutral(t *testing.T) {
	m := newTestMatcher(t)
	res := m.Match(models.StartupProfile{}, &models.Grant{ID: "bare"})
	for _, f := range []string{FactorStage, FactorSector, FactorLocation, FactorFunding, FactorAge, FactorSize} {
		assert.Equal(t, 0.5, res.Breakdown[f], f)
	}
	assert.Equal(t, 1.0, res.Breakdown[FactorSpecial])
	assert.Equal(t, 0.53, res.OverallScore)
}

func TestStageScore(t *testing.T) {
	m := newTestMatcher(t)
	tests := []struct {
		stage, bucket string
		want          float64
	}{
		{"Early Stage", "Early Stage", 1.0},
		{"early_stage", "Early Stage", 1.0},
		{"seed", "Early Stage", 0.8},
		{"growth_stage", "Growth", 0.8},
		{"prototype", "Early Stage", 0.6},
		{"ideation", "Early Stage", 0.3},
		{"ideation", "Growth", 0.1},
		{"infra", "Growth", 0.1},
		{"", "Growth", 0.5},
		{"seed", "", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.stage+"/"+tt.bucket, func(t *testing.T) {
			assert.Equal(t, tt.want, m.stageScore(tt.stage, tt.bucket))
		})
	}
}

func TestSectorScore(t *testing.T) {
	m := newTestMatcher(t)
	assert.Equal(t, 0.5, m.sectorScore(nil, []string{"technology"}))
	assert.Equal(t, 0.5, m.sectorScore([]string{"fintech"}, nil))
	assert.Equal(t, 1.0, m.sectorScore([]string{"Technology"}, []string{"technology", "agritech"}))
	assert.Equal(t, 0.5, m.sectorScore([]string{"technology", "edtech"}, []string{"technology"}))
	assert.Equal(t, 0.7, m.sectorScore([]string{"medical devices"}, []string{"biotech"}))
	assert.Equal(t, 0.0, m.sectorScore([]string{"banking"}, []string{"farming"}))
}

func TestLocationScore(t *testing.T) {
	m := newTestMatcher(t)
	assert.Equal(t, 1.0, m.locationScore("Kerala", "National"))
	assert.Equal(t, 1.0, m.locationScore("Kerala", "All India"))
	assert.Equal(t, 1.0, m.locationScore("Bengaluru, Karnataka", "karnataka"))
	assert.Equal(t, 0.3, m.locationScore("Kerala", "North East region"))
	assert.Equal(t, 0.1, m.locationScore("Kerala", "Gujarat"))
	assert.Equal(t, 0.5, m.locationScore("", "Gujarat"))
	assert.Equal(t, 0.5, m.locationScore("Kerala", " "))
}

func TestFundingScore(t *testing.T) {
	g := &models.Grant{TypicalTicketLakh: models.Ptr(100.0)}
	tests := []struct {
		needed *float64
		want   float64
	}{
		{nil, 0.5},
		{models.Ptr(0.0), 0.5},
		{models.Ptr(90.0), 1.0},
		{models.Ptr(125.0), 1.0},
		{models.Ptr(70.0), 0.8},
		{models.Ptr(50.0), 0.6},
		{models.Ptr(25.0), 0.4},
		{models.Ptr(10.0), 0.2},
		{models.Ptr(1000.0), 0.2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fundingScore(tt.needed, g))
	}
	assert.Equal(t, 0.5, fundingScore(models.Ptr(10.0), &models.Grant{}))
}

func TestAgeScore(t *testing.T) {
	window := &models.EligibilityCriteria{CompanyAgeMin: models.Ptr(1.0), CompanyAgeMax: models.Ptr(5.0)}
	assert.Equal(t, 0.5, ageScore(nil, window))
	assert.Equal(t, 0.8, ageScore(models.Ptr(3.0), nil))
	assert.Equal(t, 0.8, ageScore(models.Ptr(3.0), &models.EligibilityCriteria{CompanyAgeMin: models.Ptr(1.0)}))
	assert.Equal(t, 1.0, ageScore(models.Ptr(1.0), window))
	assert.Equal(t, 1.0, ageScore(models.Ptr(5.0), window))
	assert.Equal(t, 0.3, ageScore(models.Ptr(0.5), window))
	assert.InDelta(t, 0.6, ageScore(models.Ptr(7.0), window), 1e-9)
	assert.Equal(t, 0.1, ageScore(models.Ptr(30.0), window))
	// A zero age is a real age, not a missing one.
	assert.Equal(t, 1.0, ageScore(models.Ptr(0.0), &models.EligibilityCriteria{CompanyAgeMax: models.Ptr(2.0)}))
}

func TestSizeScore(t *testing.T) {
	aud := &models.TargetAudience{TeamSizeMax: models.Ptr(10), RevenueMax: models.Ptr(100.0)}
	assert.Equal(t, 0.5, sizeScore(models.Ptr(5), models.Ptr(50.0), nil))
	assert.Equal(t, 0.5, sizeScore(nil, nil, aud))
	assert.Equal(t, 1.0, sizeScore(models.Ptr(5), models.Ptr(50.0), aud))
	assert.Equal(t, 0.5, sizeScore(models.Ptr(20), nil, aud))
	assert.InDelta(t, 0.7, sizeScore(nil, models.Ptr(200.0), aud), 1e-9)
	assert.InDelta(t, 0.6, sizeScore(models.Ptr(20), models.Ptr(200.0), aud), 1e-9)
	assert.Equal(t, 0.1, sizeScore(models.Ptr(100), nil, aud))
}

func TestSpecialScore(t *testing.T) {
	m := newTestMatcher(t)
	flags := []string{"DPIIT recognised startup", "Women-led enterprise", "SC/ST founders", "First-time founders"}

	assert.Equal(t, 1.0, m.specialScore(models.StartupProfile{}, nil))
	assert.Equal(t, 0.0, m.specialScore(models.StartupProfile{}, flags))
	assert.Equal(t, 0.5, m.specialScore(models.StartupProfile{DPIITRecognized: true, WomenLed: true}, flags))
	assert.Equal(t, 1.0, m.specialScore(models.StartupProfile{
		DPIITRecognized:       true,
		WomenLed:              true,
		FounderCategory:       "ST",
		FirstTimeEntrepreneur: true,
	}, flags))

	// "st" inside "startup" must not count as a reserved-category flag.
	assert.Equal(t, 0.0, m.specialScore(models.StartupProfile{FounderCategory: "sc"}, []string{"Registered startup"}))
}

func TestMatch_Recommendations(t *testing.T) {
	m := newTestMatcher(t)
	g := &models.Grant{
		ID:               "kstartup",
		Bucket:           models.BucketGrowth,
		MinTicketLakh:    models.Ptr(100.0),
		MaxTicketLakh:    models.Ptr(500.0),
		SectorTags:       []string{"agritech", "cleantech"},
		StateScope:       "Kerala",
		EligibilityFlags: []string{"Women-led enterprise"},
	}
	p := models.StartupProfile{
		Stage:         "ideation",
		Sectors:       []string{"banking"},
		Location:      "Gujarat",
		FundingNeeded: models.Ptr(5.0),
	}

	res := m.Match(p, g)
	assert.Equal(t, []string{
		"Consider applying when your startup reaches Growth stage",
		"This grant focuses on agritech, cleantech sectors",
		"This grant is limited to Kerala",
		"Grant funding range is ₹100L - ₹500L",
		"Review special eligibility criteria carefully",
	}, res.Recommendations)
	assert.GreaterOrEqual(t, res.OverallScore, 0.0)
	assert.Less(t, res.OverallScore, 0.5)
}

func TestMatch_FundingRecommendationWithoutRange(t *testing.T) {
	m := newTestMatcher(t)
	g := &models.Grant{TypicalTicketLakh: models.Ptr(500.0)}
	res := m.Match(models.StartupProfile{FundingNeeded: models.Ptr(5.0)}, g)
	assert.Contains(t, res.Recommendations, "Grant funding range is ₹N/AL - ₹N/AL")
}

func TestRank(t *testing.T) {
	m := newTestMatcher(t)
	good := seedFundGrant()
	far := &models.Grant{ID: "far", Bucket: models.BucketIdeation, StateScope: "Gujarat", SectorTags: []string{"fintech"}}
	twinB := &models.Grant{ID: "twin-b", Confidence: 0.9}
	twinA := &models.Grant{ID: "twin-a", Confidence: 0.9}
	p := models.StartupProfile{Stage: "Early Stage", Sectors: []string{"technology"}, Location: "Karnataka", FundingNeeded: models.Ptr(35.0)}

	ranked := m.Rank(p, []*models.Grant{far, twinB, good, twinA}, 0)
	require.Len(t, ranked, 4)
	assert.Equal(t, "sisfs", ranked[0].GrantID)
	assert.Equal(t, "twin-a", ranked[1].GrantID)
	assert.Equal(t, "twin-b", ranked[2].GrantID)
	assert.Equal(t, "far", ranked[3].GrantID)

	top := m.Rank(p, []*models.Grant{far, good}, 1)
	require.Len(t, top, 1)
	assert.Equal(t, "sisfs", top[0].GrantID)
}

func TestNewEligibilityMatcher_RejectsBadWeights(t *testing.T) {
	cfg := DefaultMatcherConfig()
	cfg.Weights[0].Value = 0.3
	_, err := NewEligibilityMatcher(cfg)
	assert.ErrorIs(t, err, ErrWeightSum)

	cfg = DefaultMatcherConfig()
	cfg.Weights = cfg.Weights[:len(cfg.Weights)-1]
	_, err = NewEligibilityMatcher(cfg)
	assert.ErrorContains(t, err, "special missing")
}
