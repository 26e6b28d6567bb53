package models

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketAmount(t *testing.T) {
	tests := []struct {
		name    string
		grant   Grant
		want    float64
		present bool
	}{
		{"typical wins", Grant{TypicalTicketLakh: Ptr(50.0), MaxTicketLakh: Ptr(100.0)}, 50, true},
		{"max fallback", Grant{MaxTicketLakh: Ptr(100.0)}, 100, true},
		{"zero typical is absent", Grant{TypicalTicketLakh: Ptr(0.0), MaxTicketLakh: Ptr(20.0)}, 20, true},
		{"nothing", Grant{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.grant.TicketAmount()
			assert.Equal(t, tt.present, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestFundingTarget(t *testing.T) {
	g := Grant{MinTicketLakh: Ptr(10.0), MaxTicketLakh: Ptr(30.0)}
	v, ok := g.FundingTarget()
	require.True(t, ok)
	assert.InDelta(t, 20.0, v, 1e-9)

	g = Grant{MinTicketLakh: Ptr(10.0)}
	_, ok = g.FundingTarget()
	assert.False(t, ok)
}

func TestPrimarySourceURL(t *testing.T) {
	g := Grant{SourceURLs: []string{"  ", "https://startupindia.gov.in/a", "https://b"}}
	assert.Equal(t, "https://startupindia.gov.in/a", g.PrimarySourceURL())
	assert.Equal(t, "", (&Grant{}).PrimarySourceURL())
}

func TestClone_IsDeep(t *testing.T) {
	g := &Grant{
		ID:                  "g1",
		SourceURLs:          []string{"https://a"},
		TypicalTicketLakh:   Ptr(10.0),
		EligibilityCriteria: &EligibilityCriteria{CompanyAgeMax: Ptr(10.0)},
		DataLineage:         &DataLineage{DataCompleteness: map[string]bool{"has_title": true}},
	}
	c := g.Clone()
	c.SourceURLs[0] = "https://b"
	*c.TypicalTicketLakh = 99
	*c.EligibilityCriteria.CompanyAgeMax = 1
	c.DataLineage.DataCompleteness["has_title"] = false

	assert.Equal(t, "https://a", g.SourceURLs[0])
	assert.InDelta(t, 10.0, *g.TypicalTicketLakh, 1e-9)
	assert.InDelta(t, 10.0, *g.EligibilityCriteria.CompanyAgeMax, 1e-9)
	assert.True(t, g.DataLineage.DataCompleteness["has_title"])
}

func TestParseEnums(t *testing.T) {
	b, err := ParseBucket("mvp prototype")
	require.NoError(t, err)
	assert.Equal(t, BucketMVPPrototype, b)

	_, err = ParseBucket("Series Z")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownEnum))

	_, err = ParseComplexity("impossible")
	assert.True(t, eris.Is(err, ErrUnknownEnum))

	assert.Equal(t, DeadlineUnknown, NormalizeDeadlineType(""))
	assert.Equal(t, DeadlineBatchCall, NormalizeDeadlineType("BATCH_CALL"))
	assert.Equal(t, StatusLive, NormalizeStatus("whatever"))
}

func TestNormalize_DropsStrayOriginalID(t *testing.T) {
	g := Grant{Title: "  Seed  ", OriginalID: Ptr("x"), DeadlineType: "weird"}
	g.Normalize()
	assert.Equal(t, "Seed", g.Title)
	assert.Nil(t, g.OriginalID)
	assert.Equal(t, DeadlineUnknown, g.DeadlineType)
	assert.Equal(t, StatusLive, g.Status)
}

func TestStartupProfile_IsReservedCategory(t *testing.T) {
	assert.True(t, StartupProfile{FounderCategory: "SC"}.IsReservedCategory())
	assert.True(t, StartupProfile{FounderCategory: " st "}.IsReservedCategory())
	assert.False(t, StartupProfile{FounderCategory: "general"}.IsReservedCategory())
}
