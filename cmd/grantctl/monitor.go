package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grant-enhancer/internal/enhance"
	"github.com/david/grant-enhancer/internal/jobs"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Probe stale grants and update their status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.Monitor.BatchLimit
		}

		runner, closeFn, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := runner.Monitor(ctx, limit)
		if err != nil {
			return err
		}
		renderMonitor(cmd.OutOrStdout(), res)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise grant status across the catalogue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		runner, closeFn, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := runner.Report(ctx)
		if err != nil {
			return err
		}
		renderReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func renderMonitor(w io.Writer, res jobs.MonitorResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Grant", "Status", "Deadline", "Days Left", "HTTP", "Confidence", "Reason"})
	for _, info := range res.Results {
		days := "-"
		if info.DaysUntilDeadline != nil {
			days = fmt.Sprint(*info.DaysUntilDeadline)
		}
		httpStatus := "-"
		if info.HTTPStatus != 0 {
			httpStatus = fmt.Sprint(info.HTTPStatus)
		}
		t.AppendRow(table.Row{
			info.GrantID, info.Status, info.DeadlineStatus, days, httpStatus,
			fmt.Sprintf("%.2f", info.StatusConfidence), info.StatusReason,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Checked", res.Checked})
	t.Render()
	fmt.Fprintf(w, "expired %d, website issues %d, failed %d\n", res.Expired, res.WebsiteIssues, res.Failed)
}

func renderReport(w io.Writer, r enhance.StatusReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%d grants", r.TotalGrants))
	t.AppendHeader(table.Row{"Breakdown", "Value", "Count"})
	for _, k := range sortedKeys(r.StatusBreakdown) {
		t.AppendRow(table.Row{"status", k, r.StatusBreakdown[k]})
	}
	t.AppendSeparator()
	for _, k := range sortedKeys(r.DeadlineBreakdown) {
		t.AppendRow(table.Row{"deadline", k, r.DeadlineBreakdown[k]})
	}
	t.AppendSeparator()
	m := r.MonitoringSummary
	t.AppendRow(table.Row{"monitoring", "monitored", m.GrantsMonitored})
	t.AppendRow(table.Row{"monitoring", "website issues", m.WebsiteIssues})
	t.AppendRow(table.Row{"monitoring", "expired", m.ExpiredGrants})
	t.Render()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	monitorCmd.Flags().Int("limit", 0, "maximum grants to probe (default monitor.batch_limit)")
	rootCmd.AddCommand(monitorCmd, reportCmd)
}
