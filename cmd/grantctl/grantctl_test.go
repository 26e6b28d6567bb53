package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-enhancer/internal/enhance"
	"github.com/david/grant-enhancer/internal/jobs"
	"github.com/david/grant-enhancer/internal/models"
)

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "p.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("stage: mvp\nsectors: [fintech]\nlocation: Kerala\nteam_size: 6\nwomen_led: true\n"), 0o600))
	p, err := loadProfile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "mvp", p.Stage)
	assert.Equal(t, []string{"fintech"}, p.Sectors)
	require.NotNil(t, p.TeamSize)
	assert.Equal(t, 6, *p.TeamSize)
	assert.True(t, p.WomenLed)

	jsonPath := filepath.Join(dir, "p.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"stage":"growth","revenue_lakh":120}`), 0o600))
	p, err = loadProfile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "growth", p.Stage)
	require.NotNil(t, p.Revenue)
	assert.Equal(t, 120.0, *p.Revenue)

	_, err = loadProfile("")
	assert.Error(t, err)
	_, err = loadProfile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadCatalogue_Default(t *testing.T) {
	grants, err := loadCatalogue("")
	require.NoError(t, err)
	assert.Len(t, grants, 8)
}

func TestRenderPairs(t *testing.T) {
	var buf bytes.Buffer
	renderPairs(&buf, enhance.DedupeStats{
		TotalInput:        4,
		Duplicates:        1,
		DeduplicationRate: 0.25,
		Pairs: []enhance.DuplicatePair{
			{DuplicateID: "b", OriginalID: "a", DuplicateTitle: "Seed Fund (copy)", OriginalTitle: "Seed Fund"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "4 grants, 1 duplicates (25.0%)")
	assert.Contains(t, out, "Seed Fund (copy)")

	buf.Reset()
	renderPairs(&buf, enhance.DedupeStats{TotalInput: 2})
	assert.Equal(t, "2 grants, 0 duplicates (0.0%)\n", buf.String())
}

func TestRenderMonitorAndReport(t *testing.T) {
	var buf bytes.Buffer
	renderMonitor(&buf, jobs.MonitorResult{
		Checked: 1,
		Expired: 1,
		Results: []enhance.StatusInfo{{
			GrantID:          "old-call",
			Status:           models.StatusExpired,
			DeadlineStatus:   models.DeadlineStatusExpired,
			StatusConfidence: 0.95,
			StatusReason:     enhance.ReasonDeadlinePassed,
		}},
	})
	assert.Contains(t, buf.String(), "old-call")
	assert.Contains(t, buf.String(), "expired 1, website issues 0, failed 0")

	buf.Reset()
	renderReport(&buf, enhance.StatusReport{
		TotalGrants:       3,
		StatusBreakdown:   map[string]int{"live": 2, "expired": 1},
		DeadlineBreakdown: map[string]int{"rolling": 3},
	})
	assert.Contains(t, buf.String(), "3 grants")
	assert.Contains(t, buf.String(), "rolling")
}

func TestRenderMatches(t *testing.T) {
	var buf bytes.Buffer
	renderMatches(&buf, nil, nil)
	assert.Equal(t, "No matching grants.\n", buf.String())

	buf.Reset()
	renderMatches(&buf, []enhance.MatchResult{{GrantID: "sisfs", OverallScore: 0.82, Recommendations: []string{"Apply early"}}},
		map[string]string{"sisfs": "Startup India Seed Fund Scheme"})
	assert.Contains(t, buf.String(), "Startup India Seed Fund Scheme")
	assert.Contains(t, buf.String(), "0.82")
}

func TestRootPreRun_WrapsLoggerError(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GRANTS_LOG_LEVEL", "loud")

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")
}
