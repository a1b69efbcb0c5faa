// Package emulator brings the device to a usable state before tasks run:
// it starts the emulator, waits for Android to boot, launches the game and
// waits until the game shows its initial screen.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/policy"
	"jordanella.com/evertale-go/internal/screen"
)

var (
	// ErrBootTimeout means the device did not finish booting in time
	ErrBootTimeout = errors.New("emulator did not boot in time")
	// ErrNotInstalled means the game package is missing from the device
	ErrNotInstalled = errors.New("game package is not installed")
	// ErrLaunchFailed means no launch method got the game running
	ErrLaunchFailed = errors.New("game failed to launch")
	// ErrStartupTimeout means the game never reached its initial screen
	ErrStartupTimeout = errors.New("game did not reach its initial screen")
)

// Bridge is the part of the adb controller the launcher drives
type Bridge interface {
	Connect(ctx context.Context) error
	IsOnline(ctx context.Context) (bool, error)
	BootCompleted(ctx context.Context) (bool, error)
	IsInstalled(ctx context.Context, packageName string) (bool, error)
	KeyEvent(ctx context.Context, key string) error
	StartActivity(ctx context.Context, packageName, activity string) error
	Monkey(ctx context.Context, packageName string) error
	IsAppRunning(ctx context.Context, packageName string) (bool, error)
}

// Classifier recognizes screenshots
type Classifier interface {
	Classify(shot *device.Screenshot) screen.State
}

// Starter launches a background process without waiting for it to exit
type Starter func(ctx context.Context, name string, args ...string) error

// ExecStarter starts the process with os/exec and reaps it in the background
func ExecStarter(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// Config describes how to reach a ready game
type Config struct {
	Command      string
	Args         []string
	Connect      bool
	BootTimeout  time.Duration
	PollInterval time.Duration

	Package        string
	Activities     []string
	LaunchTimeout  time.Duration
	StartupTimeout time.Duration
	InitialState   string

	// Ignorable popups are dismissed while waiting for the initial state
	Ignorable []actions.Ignorable
	// DismissTap, when set, is tapped on unrecognized startup screens
	DismissTap *actions.Action
}

// Launcher prepares one device
type Launcher struct {
	bridge Bridge
	start  Starter
	cfg    Config
	logger *zap.Logger
}

// Option configures a Launcher
type Option func(*Launcher)

// WithLogger sets the launcher logger
func WithLogger(l *zap.Logger) Option {
	return func(lc *Launcher) {
		lc.logger = l
	}
}

// WithStarter replaces the process starter (used by tests)
func WithStarter(s Starter) Option {
	return func(lc *Launcher) {
		lc.start = s
	}
}

// NewLauncher creates a launcher
func NewLauncher(bridge Bridge, cfg Config, opts ...Option) *Launcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = 120 * time.Second
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 45 * time.Second
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 120 * time.Second
	}
	l := &Launcher{
		bridge: bridge,
		start:  ExecStarter,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartEmulator runs the configured launch command. It does nothing when
// no command is configured or the device is already online.
func (l *Launcher) StartEmulator(ctx context.Context) error {
	if l.cfg.Command == "" {
		return nil
	}
	if online, err := l.bridge.IsOnline(ctx); err == nil && online {
		l.logger.Info("Device already online, not starting emulator")
		return nil
	}

	l.logger.Info("Starting emulator", zap.String("command", l.cfg.Command), zap.Strings("args", l.cfg.Args))
	if err := l.start(ctx, l.cfg.Command, l.cfg.Args...); err != nil {
		return fmt.Errorf("%w: failed to start emulator: %v", device.ErrDeviceUnavailable, err)
	}
	return nil
}

// WaitReady polls until the device is listed as online and Android reports
// boot completed, bounded by the boot timeout
func (l *Launcher) WaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeoutCause(ctx, l.cfg.BootTimeout, ErrBootTimeout)
	defer cancel()

	start := time.Now()
	online := false
	for {
		if !online {
			if l.cfg.Connect {
				if err := l.bridge.Connect(ctx); err != nil {
					l.logger.Debug("Connect failed", zap.Error(err))
				}
			}
			ok, err := l.bridge.IsOnline(ctx)
			if err != nil {
				l.logger.Debug("Device list failed", zap.Error(err))
			}
			if ok {
				online = true
				l.logger.Info("Device connection established")
			}
		}

		if online {
			booted, err := l.bridge.BootCompleted(ctx)
			if err == nil && booted {
				l.logger.Info("Device booted", zap.Duration("elapsed", time.Since(start)))
				return nil
			}
		}

		l.logger.Debug("Waiting for boot", zap.Bool("online", online), zap.Duration("elapsed", time.Since(start)))
		if err := l.pause(ctx); err != nil {
			if errors.Is(context.Cause(ctx), ErrBootTimeout) {
				return fmt.Errorf("%w: %w after %s", device.ErrDeviceUnavailable, ErrBootTimeout, l.cfg.BootTimeout)
			}
			return err
		}
	}
}

// LaunchGame starts the game and waits for its process. Each configured
// activity is tried with am start, then the launcher intent via monkey.
func (l *Launcher) LaunchGame(ctx context.Context) error {
	installed, err := l.bridge.IsInstalled(ctx, l.cfg.Package)
	if err != nil {
		return fmt.Errorf("failed to check package %s: %w", l.cfg.Package, err)
	}
	if !installed {
		return fmt.Errorf("%w: %s", ErrNotInstalled, l.cfg.Package)
	}

	if running, _ := l.bridge.IsAppRunning(ctx, l.cfg.Package); running {
		l.logger.Info("Game already running", zap.String("package", l.cfg.Package))
		return nil
	}

	if err := l.bridge.KeyEvent(ctx, "KEYCODE_HOME"); err != nil {
		return err
	}

	methods := make([]launchMethod, 0, len(l.cfg.Activities)+1)
	for _, activity := range l.cfg.Activities {
		activity := activity
		methods = append(methods, launchMethod{
			name: activity,
			run: func(ctx context.Context) error {
				return l.bridge.StartActivity(ctx, l.cfg.Package, activity)
			},
		})
	}
	methods = append(methods, launchMethod{
		name: "monkey",
		run: func(ctx context.Context) error {
			return l.bridge.Monkey(ctx, l.cfg.Package)
		},
	})

	for _, m := range methods {
		if err := m.run(ctx); err != nil {
			if errors.Is(err, device.ErrDeviceUnavailable) || ctx.Err() != nil {
				return err
			}
			l.logger.Debug("Launch method failed", zap.String("method", m.name), zap.Error(err))
			continue
		}
		if l.waitRunning(ctx) {
			l.logger.Info("Game launched", zap.String("method", m.name))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("Launch command succeeded but game is not running", zap.String("method", m.name))
	}
	return fmt.Errorf("%w: %s", ErrLaunchFailed, l.cfg.Package)
}

type launchMethod struct {
	name string
	run  func(ctx context.Context) error
}

func (l *Launcher) waitRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.LaunchTimeout)
	defer cancel()

	for {
		if running, err := l.bridge.IsAppRunning(ctx, l.cfg.Package); err == nil && running {
			return true
		}
		if l.pause(ctx) != nil {
			return false
		}
	}
}

// WaitForState captures and classifies until the initial state shows up.
// Ignorable popups are dismissed on the way and unknown screens get the
// dismiss tap when one is configured.
func (l *Launcher) WaitForState(ctx context.Context, capture device.Capturer, input device.Inputer, classifier Classifier) (screen.State, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, l.cfg.StartupTimeout, ErrStartupTimeout)
	defer cancel()

	last := screen.UnknownState(time.Time{})
	for {
		shot, err := capture.Capture(ctx)
		switch {
		case errors.Is(err, device.ErrDeviceUnavailable):
			return last, err
		case err != nil:
			l.logger.Debug("Startup capture failed", zap.Error(err))
		default:
			last = classifier.Classify(shot)
			if last.Name == l.cfg.InitialState {
				l.logger.Info("Game ready", zap.String("state", last.Name), zap.Float64("score", last.Score))
				return last, nil
			}
			if err := l.dismiss(ctx, input, last); err != nil {
				return last, err
			}
		}

		if err := l.pause(ctx); err != nil {
			if errors.Is(context.Cause(ctx), ErrStartupTimeout) {
				return last, fmt.Errorf("%w: waited %s for %s, last saw %s",
					ErrStartupTimeout, l.cfg.StartupTimeout, l.cfg.InitialState, last.Name)
			}
			return last, err
		}
	}
}

func (l *Launcher) dismiss(ctx context.Context, input device.Inputer, state screen.State) error {
	var action actions.Action
	found := false
	for _, ig := range l.cfg.Ignorable {
		if ig.State == state.Name {
			action, found = ig.Action, true
			break
		}
	}
	if !found {
		if state.Known() || l.cfg.DismissTap == nil {
			return nil
		}
		action = *l.cfg.DismissTap
	}

	resolved, err := policy.Resolve(action, state)
	if err != nil {
		l.logger.Debug("Cannot dismiss", zap.String("state", state.Name), zap.Error(err))
		return nil
	}
	l.logger.Info("Dismissing startup screen", zap.String("state", state.Name), zap.Stringer("action", resolved))
	if err := input.Send(ctx, resolved); err != nil {
		if errors.Is(err, device.ErrDeviceUnavailable) {
			return err
		}
		l.logger.Debug("Dismiss failed", zap.Error(err))
	}
	return nil
}

func (l *Launcher) pause(ctx context.Context) error {
	t := time.NewTimer(l.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
