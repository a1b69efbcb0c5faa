package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/config"
	"jordanella.com/evertale-go/internal/database"
	"jordanella.com/evertale-go/internal/logging"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		task    string
		limit   int
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded task runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Store.Enabled {
				return &config.ConfigError{Field: "store.enabled", Reason: "the run store is disabled"}
			}
			db, err := database.Open(a.cfg.Store.Path, logging.Component(a.logger, "database"))
			if err != nil {
				return &config.ConfigError{Field: "store.path", Reason: "cannot open run store", Err: err}
			}
			defer func() {
				if err := db.Close(); err != nil {
					a.logger.Warn("Failed to close run store", zap.Error(err))
				}
			}()
			if err := db.RunMigrations(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if summary {
				summaries, err := db.Summaries(cmd.Context())
				if err != nil {
					return err
				}
				printSummaries(out, summaries)
				return nil
			}

			runs, err := db.RecentRuns(cmd.Context(), task, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, gray("no runs recorded"))
				return nil
			}
			printRuns(out, runs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&task, "task", "t", "", "only show runs of this task")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&summary, "summary", false, "show per-task aggregates instead of runs")
	return cmd
}
