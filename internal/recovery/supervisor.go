package recovery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/metrics"
	"jordanella.com/evertale-go/internal/screen"
)

var (
	// ErrExhausted is returned when every attempt ended on an unknown screen
	ErrExhausted = errors.New("recovery exhausted")

	// ErrStuck is returned, wrapped together with ErrExhausted, when the
	// history shows the screen frozen on one wrong state for the whole window
	ErrStuck = errors.New("screen is stuck")
)

// Classifier recognizes a screenshot
type Classifier interface {
	Classify(shot *device.Screenshot) screen.State
}

// Strategy is one generic way of getting back to a known screen
type Strategy struct {
	Name    string
	Actions []actions.Action
}

// BackKey presses the device back button
func BackKey(key string) Strategy {
	if key == "" {
		key = "KEYCODE_BACK"
	}
	return Strategy{Name: "back", Actions: []actions.Action{actions.KeyPress(key)}}
}

// NeutralTap taps a point that dismisses overlays without triggering anything
func NeutralTap(p image.Point) Strategy {
	return Strategy{Name: "neutral_tap", Actions: []actions.Action{actions.Tap(p.X, p.Y)}}
}

// TapAt taps a named extra point, such as a close button corner
func TapAt(name string, p image.Point) Strategy {
	return Strategy{Name: name, Actions: []actions.Action{actions.Tap(p.X, p.Y)}}
}

// Outcome is the result of one Recover call. Recovered with the state
// reached, or exhausted with Err explaining why.
type Outcome struct {
	Recovered bool
	State     screen.State
	Attempts  int
	Err       error
}

// Attempt describes a single strategy application
type Attempt struct {
	Number    int
	Strategy  string
	Before    string
	After     string
	Score     float64
	Recovered bool
	Err       error
	At        time.Time
}

// Journal receives every recovery attempt, typically for persistence
type Journal interface {
	RecordAttempt(ctx context.Context, a Attempt)
}

// JournalFunc adapts a function to Journal
type JournalFunc func(ctx context.Context, a Attempt)

// RecordAttempt implements Journal
func (f JournalFunc) RecordAttempt(ctx context.Context, a Attempt) {
	f(ctx, a)
}

// Config bounds a Supervisor
type Config struct {
	// MaxAttempts caps strategy applications per Recover call
	MaxAttempts int
	// Settle is the pause after a strategy before re-capturing
	Settle time.Duration
}

// Supervisor returns the device to a recognized screen using an ordered
// list of generic strategies. It never retries beyond MaxAttempts.
type Supervisor struct {
	capture    device.Capturer
	input      device.Inputer
	classifier Classifier
	strategies []Strategy
	cfg        Config
	logger     *zap.Logger
	journal    Journal
	metrics    *metrics.Metrics
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLogger sets the supervisor logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithJournal records every attempt
func WithJournal(j Journal) Option {
	return func(s *Supervisor) {
		s.journal = j
	}
}

// WithMetrics reports recovery outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// NewSupervisor creates a supervisor. Strategies are tried in order and
// cycled when MaxAttempts exceeds their number.
func NewSupervisor(capture device.Capturer, input device.Inputer, classifier Classifier, strategies []Strategy, cfg Config, opts ...Option) (*Supervisor, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("recovery needs at least one strategy")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("recovery max attempts (%d) must be at least 1", cfg.MaxAttempts)
	}
	for _, st := range strategies {
		for _, a := range st.Actions {
			if err := a.Validate(); err != nil {
				return nil, fmt.Errorf("recovery strategy %s: %w", st.Name, err)
			}
			if a.AtMatch || a.Kind == actions.KindDone {
				return nil, fmt.Errorf("recovery strategy %s: %s is not a standalone action", st.Name, a)
			}
		}
	}

	s := &Supervisor{
		capture:    capture,
		input:      input,
		classifier: classifier,
		strategies: strategies,
		cfg:        cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MaxAttempts returns the configured attempt bound
func (s *Supervisor) MaxAttempts() int {
	return s.cfg.MaxAttempts
}

// Recover applies strategies until a known state is recognized, the
// history shows the screen is stuck, or MaxAttempts is reached. Every
// re-classification is added to history.
func (s *Supervisor) Recover(ctx context.Context, history *screen.History) Outcome {
	out := s.recover(ctx, history)
	s.metrics.ObserveRecovery(out.Recovered, out.Attempts)
	if out.Recovered {
		s.logger.Info("recovered", zap.String("state", out.State.Name), zap.Int("attempts", out.Attempts))
	} else {
		s.logger.Warn("recovery failed", zap.Int("attempts", out.Attempts), zap.Error(out.Err))
	}
	return out
}

func (s *Supervisor) recover(ctx context.Context, history *screen.History) Outcome {
	expected := ""
	before := screen.Unknown
	if last, ok := history.Last(); ok {
		expected = last.Expected
		before = last.State
	}

	for n := 1; n <= s.cfg.MaxAttempts; n++ {
		if history.Stuck() {
			return Outcome{Attempts: n - 1, Err: fmt.Errorf("%w: %w on %s", ErrExhausted, ErrStuck, before)}
		}
		if err := ctx.Err(); err != nil {
			return Outcome{Attempts: n - 1, Err: context.Cause(ctx)}
		}

		strategy := s.strategies[(n-1)%len(s.strategies)]
		s.logger.Debug("recovery attempt", zap.Int("attempt", n), zap.String("strategy", strategy.Name))

		attempt := Attempt{Number: n, Strategy: strategy.Name, Before: before, At: time.Now()}
		state, err := s.apply(ctx, strategy)
		if err != nil {
			attempt.Err = err
			s.record(ctx, attempt)
			return Outcome{Attempts: n, Err: err}
		}

		history.Observe(state, expected)
		attempt.After = state.Name
		attempt.Score = state.Score
		attempt.Recovered = state.Known()
		s.record(ctx, attempt)

		if state.Known() {
			return Outcome{Recovered: true, State: state, Attempts: n}
		}
		before = state.Name
	}

	return Outcome{Attempts: s.cfg.MaxAttempts, Err: fmt.Errorf("%w after %d attempts", ErrExhausted, s.cfg.MaxAttempts)}
}

// apply sends the strategy's actions, waits out the settle delay and
// classifies a fresh screenshot.
func (s *Supervisor) apply(ctx context.Context, strategy Strategy) (screen.State, error) {
	for _, a := range strategy.Actions {
		if err := s.input.Send(ctx, a); err != nil {
			return screen.State{}, fmt.Errorf("%s: %w", strategy.Name, err)
		}
		s.metrics.ObserveAction(a.Kind.String())
	}

	if err := sleep(ctx, s.cfg.Settle); err != nil {
		return screen.State{}, context.Cause(ctx)
	}

	shot, err := s.capture.Capture(ctx)
	s.metrics.ObserveCapture(err)
	if err != nil {
		if errors.Is(err, device.ErrDeviceUnavailable) || ctx.Err() != nil {
			return screen.State{}, err
		}
		// a lost frame counts as an unrecognized screen
		s.logger.Debug("capture failed during recovery", zap.Error(err))
		return screen.UnknownState(time.Now()), nil
	}

	state := s.classifier.Classify(shot)
	s.metrics.ObserveState(state.Name)
	return state, nil
}

func (s *Supervisor) record(ctx context.Context, a Attempt) {
	if s.journal != nil {
		s.journal.RecordAttempt(ctx, a)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
