package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/router"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
)

// #region rank-cmd
func newRankCmd(a *app) *cobra.Command {
	var (
		q           router.Query
		features    map[string]string
		candidates  []string
		exploration float64
		defaultProb float64
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank candidate toolchains for a dispatch decision",
		Example: `  dynamics rank --domain backend --job-type bugfix \
    --feature phase=plan --feature diff_size=11-100 --candidates A,B,C`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if q.Domain == "" {
				return fmt.Errorf("--domain is required")
			}
			if len(candidates) == 0 {
				return fmt.Errorf("--candidates is required")
			}
			fb := state.NewFeatures()
			for k, v := range features {
				fb.Set(k, v)
			}
			feats, err := fb.Build()
			if err != nil {
				return fmt.Errorf("--feature: %w", err)
			}
			q.Features = feats
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			r, err := router.New(store, a.cfg.RouterConfig(), router.WithLogger(a.logger))
			if err != nil {
				return err
			}
			ranked, err := r.RankToolchains(cmd.Context(), candidates, q, exploration, defaultProb)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), ranked)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-4s  %-20s  %8s  %11s  %s\n", "Rank", "Toolchain", "Score", "Probability", "Known")
			fmt.Fprintf(w, "%-4s+-%-20s+-%8s+-%11s+-%s\n", "----", "--------------------", "--------", "-----------", "-----")
			for i, rk := range ranked {
				fmt.Fprintf(w, "%-4d  %-20s  %8.4f  %11.4f  %v\n", i+1, rk.Toolchain, rk.Score, rk.Probability, rk.Known)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Domain, "domain", "", "domain of the query state")
	cmd.Flags().StringVar(&q.JobType, "job-type", "", "job type of the query state")
	cmd.Flags().StringToStringVar(&features, "feature", nil, "bucketed feature key=value (repeatable)")
	cmd.Flags().StringSliceVar(&candidates, "candidates", nil, "comma-separated candidate toolchains")
	cmd.Flags().Float64Var(&exploration, "exploration", 0.1, "bonus added to unseen toolchains")
	cmd.Flags().Float64Var(&defaultProb, "default-probability", 0.5, "assumed success probability of unseen toolchains")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	return cmd
}

// #endregion rank-cmd
