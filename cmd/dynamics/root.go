package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/config"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/logging"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// #region app
// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgPath string
	envFile string
	dbPath  string

	cfg    config.Config
	logger *slog.Logger
}

func (a *app) load(cmd *cobra.Command) error {
	if a.envFile != "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	logger, err := logging.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) openStore() (*transition.Store, error) {
	store, err := transition.NewStore(a.cfg.DBPath, transition.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", a.cfg.DBPath, err)
	}
	if err := logging.EnsureSchema(store.DB()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// #endregion app

// #region root
func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "dynamics",
		Short: "Statistical dynamics of agent dispatch: potentials, balance, traps and routing",
		Long: `dynamics reads the transition log written by the dispatcher, fits a
potential over execution states, tests it for detailed balance, flags trap
states and ranks toolchains by their historical success.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before DYNAMICS_* overrides")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "path to the SQLite transition store (overrides config)")

	root.AddCommand(
		newReportCmd(a),
		newRankCmd(a),
		newInspectCmd(a),
		newSeedCmd(a),
	)
	return root
}

// #endregion root
