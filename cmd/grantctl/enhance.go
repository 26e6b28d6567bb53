package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grant-enhancer/internal/enhance"
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance",
	Short: "Rescore confidence and complexity for live grants",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		runner, closeFn, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := runner.Enhance(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scored %d, failed %d\n", res.Scored, res.Failed)
		return nil
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Flag duplicate grants",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		runner, closeFn, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		stats, err := runner.Dedupe(ctx, dryRun)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		renderPairs(out, stats)
		if dryRun {
			fmt.Fprintln(out, "dry run: nothing written")
		}
		return nil
	},
}

func renderPairs(w io.Writer, stats enhance.DedupeStats) {
	fmt.Fprintf(w, "%d grants, %d duplicates (%.1f%%)\n",
		stats.TotalInput, stats.Duplicates, stats.DeduplicationRate*100)
	if len(stats.Pairs) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Duplicate", "Original", "Duplicate Title", "Original Title"})
	for _, p := range stats.Pairs {
		t.AppendRow(table.Row{p.DuplicateID, p.OriginalID, p.DuplicateTitle, p.OriginalTitle})
	}
	t.Render()
}

func init() {
	dedupeCmd.Flags().Bool("dry-run", false, "report duplicates without writing flags")
	rootCmd.AddCommand(enhanceCmd, dedupeCmd)
}
