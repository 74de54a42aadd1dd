package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/report"
)

// #region report-cmd
func newReportCmd(a *app) *cobra.Command {
	var out, domain string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the dynamics report and write it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cfg := report.DefaultConfig()
			cfg.Alpha = a.cfg.Potential.Alpha
			cfg.Balance = a.cfg.BalanceConfig()
			cfg.Action = a.cfg.ActionConfig()
			cfg.Domain = a.cfg.Report.Domain
			if cmd.Flags().Changed("domain") {
				cfg.Domain = domain
			}
			path := a.cfg.Report.OutputPath
			if cmd.Flags().Changed("out") {
				path = out
			}

			b, err := report.NewBuilder(store, cfg, report.WithLogger(a.logger), report.WithReportLog(store.DB()))
			if err != nil {
				return err
			}
			r, err := b.Publish(cmd.Context(), path)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), r)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Report:       %s\n", path)
			fmt.Fprintf(w, "States:       %d\n", r.Statistics.TotalStates)
			fmt.Fprintf(w, "Transitions:  %d (%d reversible edges, %d skipped rows)\n",
				r.Statistics.TotalTransitions, r.Statistics.ReversibleEdges, r.Statistics.SkippedRows)
			fmt.Fprintf(w, "Chi2/ndf:     %.3f (p=%.4f, passed=%v)\n", r.Balance.Chi2PerNDF, r.Balance.PValue, r.Balance.Passed)
			fmt.Fprintf(w, "Equilibrium:  %.3f\n", r.Balance.EquilibriumScore)
			fmt.Fprintf(w, "Action rate:  %.3f\n", r.Action.GlobalActionRate)
			fmt.Fprintf(w, "Traps:        %d\n", len(r.TrapsDetected))
			fmt.Fprintf(w, "Exploration:  %+.3f\n", r.ControllerRecommendations.ExplorationRateDelta)
			for _, reason := range r.ControllerRecommendations.Reasons {
				fmt.Fprintf(w, "  - %s\n", reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (overrides config report.output_path)")
	cmd.Flags().StringVar(&domain, "domain", "", "restrict the report to one domain")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full report to stdout as well")
	return cmd
}

// #endregion report-cmd
