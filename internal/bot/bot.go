// Package bot wires the engine together for one device: it loads the
// template catalog and task definitions, prepares the emulator and game,
// and runs tasks one after another, recording each run.
package bot

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/adb"
	"jordanella.com/evertale-go/internal/config"
	"jordanella.com/evertale-go/internal/database"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/emulator"
	"jordanella.com/evertale-go/internal/logging"
	"jordanella.com/evertale-go/internal/metrics"
	"jordanella.com/evertale-go/internal/policy"
	"jordanella.com/evertale-go/internal/recovery"
	"jordanella.com/evertale-go/internal/runner"
	"jordanella.com/evertale-go/internal/screen"
	"jordanella.com/evertale-go/pkg/templates"
)

// Bot owns one device session. It is not safe for concurrent use: only
// one task runs at a time.
type Bot struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	reporter *logging.ErrorReporter

	catalog    *templates.Catalog
	classifier *screen.Classifier
	tasks      *actions.TaskSet

	bridge  emulator.Bridge
	capture device.Capturer
	input   device.Inputer

	db         *database.DB
	ownsDB     bool
	launcher   *emulator.Launcher
	supervisor *recovery.Supervisor
	runner     *runner.Runner

	journal *runJournal
}

// Option configures a Bot
type Option func(*Bot)

// WithLogger sets the root logger; components get named children
func WithLogger(l *zap.Logger) Option {
	return func(b *Bot) {
		b.logger = l
	}
}

// WithMetrics reports to m instead of the default registry
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bot) {
		b.metrics = m
	}
}

// WithDevice supplies the capture and input channels instead of building
// them from the adb configuration
func WithDevice(capture device.Capturer, input device.Inputer) Option {
	return func(b *Bot) {
		b.capture = capture
		b.input = input
	}
}

// WithBridge supplies the emulator bridge used for boot and launch
func WithBridge(bridge emulator.Bridge) Option {
	return func(b *Bot) {
		b.bridge = bridge
	}
}

// WithDatabase records runs in an already opened store
func WithDatabase(db *database.DB) Option {
	return func(b *Bot) {
		b.db = db
	}
}

// New creates a bot from a validated configuration. Nothing is loaded or
// connected until Initialize.
func New(cfg *config.Config, opts ...Option) *Bot {
	b := &Bot{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = metrics.Default()
	}
	b.reporter = logging.NewErrorReporter(b.logger, 200)
	return b
}

// Initialize loads the catalog and tasks, opens the store and builds the
// device channels, recovery supervisor and runner
func (b *Bot) Initialize(ctx context.Context) error {
	var err error

	b.catalog, err = templates.Load(ctx, b.cfg.Catalog.Dir, logging.Component(b.logger, "templates"))
	if err != nil {
		return &config.ConfigError{Field: "catalog.dir", Reason: "cannot load template catalog", Err: err}
	}
	b.classifier, err = screen.NewClassifier(b.catalog, screen.WithClassifierLogger(logging.Component(b.logger, "classifier")))
	if err != nil {
		return err
	}

	b.tasks, err = actions.LoadTasks(b.cfg.Tasks.Dir)
	if err != nil {
		return &config.ConfigError{Field: "tasks.dir", Reason: "cannot load tasks", Err: err}
	}
	if err := b.checkTaskStates(); err != nil {
		return err
	}

	if err := b.openStore(ctx); err != nil {
		return err
	}
	if err := b.openDevice(); err != nil {
		return err
	}

	b.journal = &runJournal{db: b.db, logger: logging.Component(b.logger, "journal")}
	b.supervisor, err = recovery.NewSupervisor(b.capture, b.input, b.classifier, b.strategies(), recovery.Config{
		MaxAttempts: b.cfg.Recovery.MaxAttempts,
		Settle:      b.cfg.Recovery.Settle,
	},
		recovery.WithLogger(logging.Component(b.logger, "recovery")),
		recovery.WithJournal(b.journal),
		recovery.WithMetrics(b.metrics),
	)
	if err != nil {
		return &config.ConfigError{Field: "recovery", Reason: "invalid recovery strategies", Err: err}
	}

	pol := policy.New(b.cfg.Runner.MismatchTolerance, policy.WithLogger(logging.Component(b.logger, "policy")))
	b.runner = runner.New(b.capture, b.input, b.classifier, pol, b.supervisor, runner.Config{
		SettleDelay:   b.cfg.Runner.SettleDelay,
		VerifyRetries: b.cfg.Runner.VerifyRetries,
		VerifyTimeout: b.cfg.Runner.VerifyTimeout,
		TaskTimeout:   b.cfg.Runner.TaskTimeout,
		HistorySize:   b.cfg.Runner.HistorySize,
		MaxDismissals: b.cfg.Runner.MaxDismissals,
		MaxRecoveries: b.cfg.Runner.MaxRecoveries,
		DebugDir:      b.cfg.Runner.DebugDir,
	},
		runner.WithLogger(logging.Component(b.logger, "runner")),
		runner.WithMetrics(b.metrics),
	)

	b.launcher = emulator.NewLauncher(b.bridge, b.launcherConfig(), emulator.WithLogger(logging.Component(b.logger, "emulator")))

	b.logger.Info("Bot initialized",
		zap.Int("templates", b.catalog.Count()),
		zap.Strings("states", b.catalog.States()),
		zap.Strings("tasks", b.tasks.Names()),
		zap.Bool("store", b.db != nil),
	)
	return nil
}

// checkTaskStates rejects a task whose step expects a state no template
// can produce. Unknown is never a valid step state since the policy only
// acts on recognized screens. Ignorable states without a template are
// only logged.
func (b *Bot) checkTaskStates() error {
	known := map[string]bool{}
	for _, s := range b.catalog.States() {
		known[s] = true
	}
	delete(known, screen.Unknown)

	for _, name := range b.tasks.Names() {
		task, _ := b.tasks.Get(name)
		for i, step := range task.Steps {
			if !known[step.Expect] {
				return &config.ConfigError{
					Field:  "tasks." + name,
					Reason: fmt.Sprintf("step %d expects state %q which no template recognizes", i+1, step.Expect),
				}
			}
		}
		for _, ig := range task.Ignorable {
			if !known[ig.State] {
				b.logger.Warn("Ignorable state has no template", zap.String("task", name), zap.String("state", ig.State))
			}
		}
	}
	return nil
}

func (b *Bot) openStore(ctx context.Context) error {
	if b.db != nil || !b.cfg.Store.Enabled {
		return nil
	}
	db, err := database.Open(b.cfg.Store.Path, logging.Component(b.logger, "database"))
	if err != nil {
		return &config.ConfigError{Field: "store.path", Reason: "cannot open run store", Err: err}
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return &config.ConfigError{Field: "store.path", Reason: "cannot migrate run store", Err: err}
	}
	b.db = db
	b.ownsDB = true
	return nil
}

func (b *Bot) openDevice() error {
	if b.capture != nil && b.input != nil {
		return nil
	}

	if err := b.cfg.ResolveBridge(); err != nil {
		return err
	}
	serial := b.serial()
	ctrl := adb.NewController(b.cfg.Device.BridgePath, serial,
		adb.WithTimeout(b.cfg.Device.CommandTimeout),
		adb.WithLogger(logging.Component(b.logger, "adb")),
	)
	dev := device.NewADB(ctrl, device.Endpoint{
		BridgePath:      b.cfg.Device.BridgePath,
		Serial:          serial,
		Width:           b.cfg.Device.Width,
		Height:          b.cfg.Device.Height,
		CommandTimeout:  b.cfg.Device.CommandTimeout,
		CaptureTimeout:  b.cfg.Device.CaptureTimeout,
		CaptureInterval: b.cfg.Device.CaptureInterval,
		GestureTimeout:  b.cfg.Device.GestureTimeout,
	}, device.WithLogger(logging.Component(b.logger, "device")))

	b.capture, b.input = dev, dev
	if b.bridge == nil {
		b.bridge = ctrl
	}
	return nil
}

func (b *Bot) serial() string {
	if b.cfg.Device.Serial == "" && b.cfg.Emulator.MEmuConsole != "" {
		return emulator.MEmuSerial(b.cfg.Emulator.MEmuIndex)
	}
	return b.cfg.Device.Serial
}

func (b *Bot) strategies() []recovery.Strategy {
	rc := b.cfg.Recovery
	out := []recovery.Strategy{
		recovery.BackKey(rc.BackKey),
		recovery.NeutralTap(image.Pt(rc.NeutralTap.X, rc.NeutralTap.Y)),
	}
	for _, tap := range rc.ExtraTaps {
		name := tap.Name
		if name == "" {
			name = fmt.Sprintf("tap_%d_%d", tap.X, tap.Y)
		}
		out = append(out, recovery.TapAt(name, image.Pt(tap.X, tap.Y)))
	}
	return out
}

func (b *Bot) launcherConfig() emulator.Config {
	ec, gc := b.cfg.Emulator, b.cfg.Game
	cfg := emulator.Config{
		Command:        ec.Command,
		Args:           ec.Args,
		Connect:        ec.Connect,
		BootTimeout:    ec.BootTimeout,
		PollInterval:   ec.PollInterval,
		Package:        gc.Package,
		Activities:     gc.QualifiedActivities(),
		LaunchTimeout:  gc.LaunchTimeout,
		StartupTimeout: gc.StartupTimeout,
		InitialState:   gc.InitialState,
	}
	if ec.MEmuConsole != "" && ec.Command == "" {
		cfg.Command, cfg.Args = emulator.MEmuStart(ec.MEmuConsole, ec.MEmuIndex)
		cfg.Connect = true
	}
	if gc.DismissTap != nil {
		tap := actions.Tap(gc.DismissTap.X, gc.DismissTap.Y)
		cfg.DismissTap = &tap
	}

	// every popup some task knows how to dismiss is dismissable at startup
	seen := map[string]bool{}
	for _, name := range b.tasks.Names() {
		task, _ := b.tasks.Get(name)
		for _, ig := range task.Ignorable {
			if !seen[ig.State] {
				seen[ig.State] = true
				cfg.Ignorable = append(cfg.Ignorable, ig)
			}
		}
	}
	return cfg
}

// Start brings the device to the game's initial screen. Emulator boot and
// game launch are skipped when no bridge is available.
func (b *Bot) Start(ctx context.Context) error {
	if b.runner == nil {
		return errors.New("bot is not initialized")
	}

	if b.bridge != nil {
		if err := b.launcher.StartEmulator(ctx); err != nil {
			b.reporter.ReportCriticalError(logging.ErrorCategoryEmulator, "emulator", "Emulator failed to start", err)
			return err
		}
		if err := b.launcher.WaitReady(ctx); err != nil {
			b.reporter.ReportCriticalError(logging.ErrorCategoryEmulator, "emulator", "Device never became ready", err)
			return err
		}
		if b.cfg.Game.Launch {
			if err := b.launcher.LaunchGame(ctx); err != nil {
				b.reporter.ReportCriticalError(logging.ErrorCategoryEmulator, "emulator", "Game failed to launch", err)
				return err
			}
		}
	}

	if _, err := b.launcher.WaitForState(ctx, b.capture, b.input, b.classifier); err != nil {
		b.reporter.ReportCriticalError(logging.ErrorCategoryEmulator, "emulator", "Game never reached its initial screen", err)
		return err
	}
	return nil
}

// Classifier returns the screen classifier built from the catalog
func (b *Bot) Classifier() *screen.Classifier {
	return b.classifier
}

// Tasks returns the loaded task definitions
func (b *Bot) Tasks() *actions.TaskSet {
	return b.tasks
}

// Errors returns the session's error reporter
func (b *Bot) Errors() *logging.ErrorReporter {
	return b.reporter
}

// Shutdown closes the store if the bot opened it
func (b *Bot) Shutdown() error {
	if b.db != nil && b.ownsDB {
		b.ownsDB = false
		return b.db.Close()
	}
	return nil
}
