package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/logging"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// #region inspect-cmd

type domainRow struct {
	Domain      string `json:"domain"`
	States      int    `json:"states"`
	Transitions int    `json:"transitions"`
	Toolchains  int    `json:"toolchains"`
}

type inspectOutput struct {
	Domains     []domainRow            `json:"domains"`
	Diagnostics transition.Diagnostics `json:"diagnostics"`
	Reports     []logging.ReportEntry  `json:"reports"`
}

func newInspectCmd(a *app) *cobra.Command {
	var last int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the transition store and recent reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			reports, err := logging.RecentReports(store.DB(), last)
			if err != nil {
				return err
			}
			out := inspectOutput{
				Domains: summarizeDomains(store),
				Reports: reports,
			}
			out.Diagnostics = store.Diagnostics()

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), out)
			}
			printInspect(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&last, "last", 10, "show N most recent reports")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	return cmd
}

func summarizeDomains(store *transition.Store) []domainRow {
	states := store.LoadStates()
	rows := make(map[string]*domainRow)
	row := func(d string) *domainRow {
		if rows[d] == nil {
			rows[d] = &domainRow{Domain: d}
		}
		return rows[d]
	}
	for _, s := range states {
		row(s.Domain).States++
	}
	toolchains := make(map[string]map[string]bool)
	for _, tc := range store.TransitionCounts("") {
		d := states[tc.From].Domain
		if d == "" {
			d = "unknown"
		}
		row(d).Transitions += tc.Count
		if tc.Toolchain != "" {
			if toolchains[d] == nil {
				toolchains[d] = make(map[string]bool)
			}
			toolchains[d][tc.Toolchain] = true
		}
	}

	out := make([]domainRow, 0, len(rows))
	for d, r := range rows {
		r.Toolchains = len(toolchains[d])
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

func printInspect(w io.Writer, out inspectOutput) {
	fmt.Fprintf(w, "%-16s  %8s  %11s  %10s\n", "Domain", "States", "Transitions", "Toolchains")
	fmt.Fprintf(w, "%-16s+-%8s+-%11s+-%10s\n", "----------------", "--------", "-----------", "----------")
	for _, d := range out.Domains {
		fmt.Fprintf(w, "%-16s  %8d  %11d  %10d\n", d.Domain, d.States, d.Transitions, d.Toolchains)
	}
	fmt.Fprintf(w, "\nSkipped rows: %d  Read errors: %d\n", out.Diagnostics.SkippedRows, out.Diagnostics.ReadErrors)

	if len(out.Reports) == 0 {
		fmt.Fprintln(w, "\nno reports logged")
		return
	}
	fmt.Fprintf(w, "\n%-20s  %-10s  %10s  %-6s  %8s  %5s\n", "Time", "Domain", "Chi2/ndf", "Passed", "Action", "Traps")
	fmt.Fprintf(w, "%-20s+-%-10s+-%10s+-%-6s+-%8s+-%5s\n",
		"--------------------", "----------", "----------", "------", "--------", "-----")
	for _, r := range out.Reports {
		dom := r.Domain
		if dom == "" {
			dom = "(all)"
		}
		fmt.Fprintf(w, "%-20s  %-10s  %10.4f  %-6v  %8.4f  %5d\n",
			r.CreatedAt.Format("2006-01-02T15:04:05Z"), dom, r.Chi2PerNDF, r.Passed, r.GlobalActionRate, r.TrapCount)
	}
}

// #endregion inspect-cmd

// #region output
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// #endregion output
