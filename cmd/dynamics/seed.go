package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/replay"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/synth"
)

// #region seed-cmd
func newSeedCmd(a *app) *cobra.Command {
	var (
		fixture    string
		domains    []string
		toolchains map[string]string
		rollouts   int
		maxSteps   int
		seed       uint64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load rollouts into the store from a JSON fixture or a synthetic random walk",
		Example: `  dynamics seed --fixture rollouts.json
  dynamics seed --rollouts 500 --toolchain A=0.7 --toolchain B=0.4 --domain backend --domain frontend`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var sum replay.ReplaySummary
			if fixture != "" {
				f, err := replay.LoadFixture(fixture)
				if err != nil {
					return err
				}
				if sum, err = replay.Ingest(store, f.Rollouts); err != nil {
					return err
				}
			} else {
				cfg := synth.WalkConfig{
					Domains:  domains,
					JobType:  "synthetic",
					Success:  make(map[string]float64, len(toolchains)),
					Rollouts: rollouts,
					MaxSteps: maxSteps,
					Seed:     seed,
				}
				if err := parseToolchains(toolchains, &cfg); err != nil {
					return err
				}
				if len(cfg.Domains) == 0 || rollouts <= 0 || maxSteps <= 0 {
					return fmt.Errorf("synthetic seeding needs --domain, --rollouts > 0 and --max-steps > 0")
				}
				states, transitions := synth.RandomWalk(cfg)
				if err := replay.Write(store, states, transitions); err != nil {
					return err
				}
				sum = replay.ReplaySummary{Rollouts: rollouts, States: len(states), Transitions: len(transitions), Domains: domains}
			}

			a.logger.Info("store seeded", "db", a.cfg.DBPath, "rollouts", sum.Rollouts,
				"states", sum.States, "transitions", sum.Transitions)
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d rollouts: %d states, %d transitions across %v\n",
				sum.Rollouts, sum.States, sum.Transitions, sum.Domains)
			return nil
		},
	}
	cmd.Flags().StringVar(&fixture, "fixture", "", "JSON rollout fixture to ingest")
	cmd.Flags().StringSliceVar(&domains, "domain", []string{"backend"}, "domains for synthetic rollouts")
	cmd.Flags().StringToStringVar(&toolchains, "toolchain", map[string]string{"A": "0.7", "B": "0.4"},
		"toolchain=success probability per step for synthetic rollouts")
	cmd.Flags().IntVar(&rollouts, "rollouts", 200, "number of synthetic rollouts")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 8, "step limit per synthetic rollout")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed for synthetic rollouts")
	return cmd
}

func parseToolchains(in map[string]string, cfg *synth.WalkConfig) error {
	for name, raw := range in {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p < 0 || p > 1 {
			return fmt.Errorf("toolchain %s: success probability %q must be in [0, 1]", name, raw)
		}
		cfg.Toolchains = append(cfg.Toolchains, name)
		cfg.Success[name] = p
	}
	if len(cfg.Toolchains) == 0 {
		return fmt.Errorf("at least one --toolchain is required")
	}
	sort.Strings(cfg.Toolchains)
	return nil
}

// #endregion seed-cmd
