package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/drillplan/internal/config"
	"github.com/JonMunkholm/drillplan/internal/logging"
	"github.com/JonMunkholm/drillplan/internal/store"
)

// app carries what every subcommand needs once the root has loaded config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	open   func(ctx context.Context, cfg *config.Config) (store.Backend, error)
}

func newRootCmd() *cobra.Command {
	a := &app{open: store.Open}
	var logLevel string

	root := &cobra.Command{
		Use:           "drillctl",
		Short:         "Import and inspect the drill library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel == "" {
				logLevel = cfg.Logging.Level
			}
			// Logs go to stderr so stdout carries only command output.
			a.logger = logging.New(cmd.ErrOrStderr(), logLevel, cfg.Logging.Format)
			slog.SetDefault(a.logger)
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL)")

	root.AddCommand(
		newImportCmd(a),
		newHistoryCmd(a),
		newMigrateCmd(a),
		newPruneCmd(a),
	)
	return root
}

// withStore opens the configured store, runs fn, and closes the store.
func (a *app) withStore(ctx context.Context, fn func(store.Backend) error) error {
	st, err := a.open(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(st)
}
