package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/bot"
	"jordanella.com/evertale-go/internal/logging"
	"jordanella.com/evertale-go/internal/metrics"
)

type runOptions struct {
	metricsAddr string
	noLaunch    bool
	serial      string
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Bring the game to its start screen and run tasks",
		Long: `Run boots the emulator if configured, launches the game, waits for the
initial screen and then runs the named tasks in order. Without arguments
the configured default list runs, or every loaded task when that is empty.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.metricsAddr != "" {
				a.cfg.Metrics.Addr = opts.metricsAddr
			}
			if opts.noLaunch {
				a.cfg.Game.Launch = false
			}
			if opts.serial != "" {
				a.cfg.Device.Serial = opts.serial
			}
			return a.run(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.noLaunch, "no-launch", false, "assume the game is already running")
	cmd.Flags().StringVarP(&opts.serial, "serial", "s", "", "device serial, overrides device.serial")
	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer, names []string) error {
	if a.cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(a.cfg.Metrics.Addr, prometheus.DefaultGatherer, logging.Component(a.logger, "metrics"))
		if _, err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				a.logger.Warn("Metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	b := bot.New(a.cfg, append([]bot.Option{bot.WithLogger(a.logger)}, a.botOpts...)...)
	defer func() {
		if err := b.Shutdown(); err != nil {
			a.logger.Warn("Failed to close run store", zap.Error(err))
		}
	}()

	if err := b.Initialize(ctx); err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}

	report, err := b.RunTasks(ctx, names)
	if err != nil {
		return err
	}
	printReport(out, report)
	printErrorStats(out, b.Errors().GetErrorStats())

	if code := report.ExitCode(); code != bot.ExitCompleted {
		return &exitError{
			code: code,
			err:  fmt.Errorf("%d of %d tasks completed", report.Completed(), len(report.Results)+len(report.Skipped)),
		}
	}
	return nil
}
