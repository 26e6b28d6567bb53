package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/david/grant-enhancer/internal/enhance"
	"github.com/david/grant-enhancer/internal/jobs"
	"github.com/david/grant-enhancer/internal/models"
	"github.com/david/grant-enhancer/internal/seed"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Rank grants for a startup profile",
	Long:  "Reads a startup profile (YAML or JSON) and ranks live grants by eligibility. With --offline the built-in catalogue is matched in memory and no database is needed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("profile")
		offline, _ := cmd.Flags().GetBool("offline")
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.Match.Limit
		}

		profile, err := loadProfile(path)
		if err != nil {
			return err
		}

		var runner *jobs.Runner
		if offline {
			runner, err = offlineRunner(ctx)
		} else {
			var closeFn func()
			runner, closeFn, err = initRunner(ctx)
			if closeFn != nil {
				defer closeFn()
			}
		}
		if err != nil {
			return err
		}

		matches, err := runner.Match(ctx, profile, limit)
		if err != nil {
			return err
		}
		titles := map[string]string{}
		for _, m := range matches {
			if g, err := runner.Store().Get(ctx, m.GrantID); err == nil {
				titles[m.GrantID] = g.Title
			}
		}
		renderMatches(cmd.OutOrStdout(), matches, titles)
		return nil
	},
}

func loadProfile(path string) (models.StartupProfile, error) {
	var p models.StartupProfile
	if path == "" {
		return p, eris.New("match: --profile is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "match: read profile %s", path)
	}
	// JSON is valid YAML, so one decoder covers both.
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, eris.Wrapf(err, "match: parse profile %s", path)
	}
	return p, nil
}

func offlineRunner(ctx context.Context) (*jobs.Runner, error) {
	grants, err := seed.Default()
	if err != nil {
		return nil, err
	}
	pl, err := newPipeline()
	if err != nil {
		return nil, err
	}
	runner := jobs.NewRunner(jobs.NewMemoryStore(), pl, cfg.Monitor.StaleAfter())
	if _, err := runner.Seed(ctx, grants); err != nil {
		return nil, err
	}
	return runner, nil
}

func renderMatches(w io.Writer, matches []enhance.MatchResult, titles map[string]string) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matching grants.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Grant", "Title", "Score", "Recommendations"})
	for i, m := range matches {
		t.AppendRow(table.Row{
			i + 1, m.GrantID, titles[m.GrantID],
			fmt.Sprintf("%.2f", m.OverallScore),
			strings.Join(m.Recommendations, "; "),
		})
	}
	t.Render()
}

func init() {
	matchCmd.Flags().String("profile", "", "startup profile file (.yaml or .json)")
	matchCmd.Flags().Bool("offline", false, "match the built-in catalogue without a database")
	matchCmd.Flags().Int("limit", 0, "maximum matches to show (default match.limit)")
	rootCmd.AddCommand(matchCmd)
}
