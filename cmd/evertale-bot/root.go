package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"jordanella.com/evertale-go/internal/bot"
	"jordanella.com/evertale-go/internal/config"
	"jordanella.com/evertale-go/internal/logging"
)

// app holds what the subcommands share once the root has loaded the
// configuration
type app struct {
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger

	// botOpts are appended to every bot the run command builds
	botOpts []bot.Option
}

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// exitCode maps a command error onto the process exit code
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return bot.ExitCodeFor(err)
}

// NewRootCommand creates the root cobra command. Running it without a
// subcommand runs the default task list.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "evertale-bot",
		Short:         "Screen-driven task runner for Evertale on an Android emulator",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync(a.logger)
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file, YAML or legacy Settings.ini (default ./evertale.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	run := newRunCommand(a)
	root.RunE = run.RunE
	root.Args = run.Args
	root.Flags().AddFlagSet(run.Flags())

	root.AddCommand(
		run,
		newClassifyCommand(a),
		newTasksCommand(a),
		newHistoryCommand(a),
		newVersionCommand(),
	)
	return root
}

// initialize loads the configuration and builds the logger
func (a *app) initialize(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.cfgFile)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.logger.Debug("Configuration loaded", zap.String("file", a.cfgFile), zap.String("version", Version))
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		return config.LoadFromINI(path)
	}
	return config.Load(path)
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return bot.ExitCompleted
	}
	fmt.Fprintln(os.Stderr, red("Error:"), err)
	return exitCode(err)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// version needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "evertale-bot %s\n", Version)
		},
	}
}
