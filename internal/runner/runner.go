package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/metrics"
	"jordanella.com/evertale-go/internal/policy"
	"jordanella.com/evertale-go/internal/recovery"
	"jordanella.com/evertale-go/internal/screen"
)

// Classifier recognizes a screenshot
type Classifier interface {
	Classify(shot *device.Screenshot) screen.State
}

// Recoverer gets the device back to a known screen
type Recoverer interface {
	Recover(ctx context.Context, history *screen.History) recovery.Outcome
}

// Config tunes the control loop
type Config struct {
	// SettleDelay is the pause after every sent action before re-capturing
	SettleDelay time.Duration
	// VerifyRetries bounds the polls made to confirm a transition
	VerifyRetries int
	// VerifyTimeout bounds the wall clock spent confirming one transition
	VerifyTimeout time.Duration
	// TaskTimeout is the default per-task wall clock; tasks may override it
	TaskTimeout time.Duration
	// HistorySize is the stuck-detection window
	HistorySize int
	// MaxDismissals caps interruptions dismissed while verifying one step
	MaxDismissals int
	// MaxRecoveries caps recovery runs per task
	MaxRecoveries int
	// DebugDir receives the last screenshot of an aborted run when set
	DebugDir string
}

// DefaultConfig returns the loop settings used when none are configured
func DefaultConfig() Config {
	return Config{
		SettleDelay:   1500 * time.Millisecond,
		VerifyRetries: 3,
		VerifyTimeout: 10 * time.Second,
		TaskTimeout:   5 * time.Minute,
		HistorySize:   8,
		MaxDismissals: 5,
		MaxRecoveries: 3,
	}
}

// Runner drives one task at a time through capture, classify, decide,
// act and verify. The loop is sequential; cancellation and timeouts are
// only observed between steps, never in the middle of a gesture.
type Runner struct {
	capture    device.Capturer
	input      device.Inputer
	classifier Classifier
	policy     *policy.Policy
	recovery   Recoverer
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the runner logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics reports captures, states, actions and results
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// New creates a runner over one device
func New(capture device.Capturer, input device.Inputer, classifier Classifier, pol *policy.Policy, rec Recoverer, cfg Config, opts ...Option) *Runner {
	if cfg.VerifyRetries < 1 {
		cfg.VerifyRetries = 1
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	r := &Runner{
		capture:    capture,
		input:      input,
		classifier: classifier,
		policy:     pol,
		recovery:   rec,
		cfg:        cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes task until it completes, times out or aborts. Failures are
// reported in the Result rather than returned, so a scheduler can move on
// to its next task.
func (r *Runner) Run(ctx context.Context, task *actions.Task) Result {
	return r.RunWithID(ctx, uuid.New(), task)
}

// RunWithID is Run with a caller-chosen run ID, letting the caller record
// the run before it starts.
func (r *Runner) RunWithID(ctx context.Context, id uuid.UUID, task *actions.Task) Result {
	rc := newRunContext(id, task, r.cfg.HistorySize)
	started := time.Now()
	logger := r.logger.With(zap.String("task", task.Name), zap.String("run_id", rc.ID.String()))

	var err error
	if verr := task.Validate(); verr != nil {
		rc.Status, err = StatusAborted, fmt.Errorf("%w: %w", ErrInvalidTask, verr)
	} else {
		timeout := r.cfg.TaskTimeout
		if task.Timeout > 0 {
			timeout = task.Timeout
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeoutCause(ctx, timeout, ErrTaskTimeout)
			defer cancel()
		}

		logger.Info("task started", zap.Int("steps", len(task.Steps)), zap.Duration("timeout", timeout))
		rc.Status = StatusRunning
		rc.Status, err = r.loop(ctx, rc, logger)
	}

	res := rc.result()
	res.Err = err
	res.StartedAt = started
	res.FinishedAt = time.Now()

	if res.Status == StatusAborted {
		if path, derr := r.dumpFrame(rc); derr != nil {
			logger.Warn("could not save debug screenshot", zap.Error(derr))
		} else {
			res.DebugFrame = path
		}
	}

	r.metrics.ObserveTask(task.Name, res.Status.String(), res.Duration())
	fields := []zap.Field{
		zap.String("status", res.Status.String()),
		zap.Int("steps_done", res.StepsDone),
		zap.Int("transitions", res.Transitions),
		zap.Int("recoveries", res.Recoveries),
		zap.Duration("elapsed", res.Duration()),
	}
	if res.Succeeded() {
		logger.Info("task finished", fields...)
	} else {
		logger.Warn("task finished", append(fields, zap.Error(err))...)
	}
	return res
}

func (r *Runner) loop(ctx context.Context, rc *RunContext, logger *zap.Logger) (Status, error) {
	dismissStreak := 0

	for {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		if rc.Cursor.Finished() {
			return StatusCompleted, nil
		}

		state, err := r.observe(ctx, rc, rc.expected())
		if err != nil {
			return failed(ctx, err)
		}

		d := r.policy.Next(rc.Task, rc.Cursor, state)
		logger.Debug("decision",
			zap.String("state", state.Name),
			zap.Float64("score", state.Score),
			zap.String("decision", d.Kind.String()),
			zap.Int("step", d.Step+1))

		switch d.Kind {
		case policy.DecisionDone:
			if d.Step < len(rc.Task.Steps) {
				rc.transitions++
			}
			return StatusCompleted, nil

		case policy.DecisionWait:
			if err := r.settle(ctx); err != nil {
				return interrupted(ctx)
			}
			continue

		case policy.DecisionDismiss:
			dismissStreak++
			if dismissStreak > r.cfg.MaxDismissals {
				logger.Info("interruptions keep reappearing", zap.String("state", state.Name))
				break
			}
			if err := r.send(ctx, rc, d.Action); err != nil {
				return failed(ctx, err)
			}
			rc.dismissals++
			if err := r.settle(ctx); err != nil {
				return interrupted(ctx)
			}
			continue

		case policy.DecisionAct:
			dismissStreak = 0
			if err := r.send(ctx, rc, d.Action); err != nil {
				return failed(ctx, err)
			}
			if err := r.settle(ctx); err != nil {
				return interrupted(ctx)
			}

			ok, err := r.verify(ctx, rc, d)
			if err != nil {
				return failed(ctx, err)
			}
			if ok {
				rc.transitions++
				continue
			}

			// the action's effect was never observed; nothing is resent
			// until a fresh capture shows the step's state again
			rc.Cursor.Rewind()
			logger.Info("transition not observed",
				zap.String("action", d.Action.String()),
				zap.String("expected", d.Expect),
				zap.String("state", rc.lastState))

		case policy.DecisionBlocked:
		}

		dismissStreak = 0
		if status, err := r.recover(ctx, rc, logger); status != StatusRunning {
			return status, err
		}
	}
}

// observe returns the state to decide on: the pending verified state if
// there is one, otherwise a fresh capture.
func (r *Runner) observe(ctx context.Context, rc *RunContext, expected string) (screen.State, error) {
	if rc.pending != nil {
		state := *rc.pending
		rc.pending = nil
		return state, nil
	}

	shot, err := r.capture.Capture(ctx)
	r.metrics.ObserveCapture(err)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, device.ErrDeviceUnavailable) {
			return screen.State{}, err
		}
		// a dropped or garbled frame is treated as an unrecognized screen
		r.logger.Debug("capture failed", zap.Error(err))
		state := screen.UnknownState(time.Now())
		rc.History.Observe(state, expected)
		rc.lastState = state.Name
		return state, nil
	}

	rc.last = shot
	state := r.classifier.Classify(shot)
	r.metrics.ObserveState(state.Name)
	rc.History.Observe(state, expected)
	rc.lastState = state.Name
	return state, nil
}

// verify polls for the transition d should cause. Interruptions the task
// tolerates are dismissed along the way without spending a poll.
func (r *Runner) verify(ctx context.Context, rc *RunContext, d policy.Decision) (bool, error) {
	deadline := time.Now().Add(r.cfg.VerifyTimeout)
	dismissals := 0

	for polls := 0; ; {
		state, err := r.observe(ctx, rc, d.Expect)
		if err != nil {
			return false, err
		}
		if arrived(d, state) {
			rc.pending = &state
			return true, nil
		}

		if dismiss, ok := rc.Task.Dismissal(state.Name); ok && state.Known() && dismissals < r.cfg.MaxDismissals {
			action, err := policy.Resolve(dismiss, state)
			if err == nil {
				if err := r.send(ctx, rc, action); err != nil {
					return false, err
				}
				dismissals++
				rc.dismissals++
				if err := r.settle(ctx); err != nil {
					return false, err
				}
				continue
			}
		}

		polls++
		rc.Retries[d.Step]++
		if polls >= r.cfg.VerifyRetries || (r.cfg.VerifyTimeout > 0 && time.Now().After(deadline)) {
			return false, nil
		}
		if err := r.settle(ctx); err != nil {
			return false, err
		}
	}
}

// arrived reports whether state shows d took effect. The last step has no
// successor, so any recognized screen other than the one left counts.
func arrived(d policy.Decision, state screen.State) bool {
	if !state.Known() {
		return false
	}
	if d.Expect != "" {
		return state.Name == d.Expect
	}
	return state.Name != d.Leaving
}

func (r *Runner) recover(ctx context.Context, rc *RunContext, logger *zap.Logger) (Status, error) {
	rc.Status = StatusBlocked
	if rc.recoveries >= r.cfg.MaxRecoveries {
		return StatusAborted, fmt.Errorf("%w after %d recoveries", ErrTooManyRecoveries, rc.recoveries)
	}
	rc.recoveries++

	logger.Info("blocked, starting recovery", zap.Int("step", rc.Cursor.Step()+1), zap.Int("recovery", rc.recoveries))
	out := r.recovery.Recover(ctx, rc.History)
	if ctx.Err() != nil {
		return interrupted(ctx)
	}
	if !out.Recovered {
		if errors.Is(out.Err, device.ErrDeviceUnavailable) {
			return StatusAborted, out.Err
		}
		return StatusAborted, fmt.Errorf("blocked at step %d: %w", rc.Cursor.Step()+1, out.Err)
	}

	before := rc.Cursor.Step()
	rc.Cursor.Resync(rc.Task, out.State.Name)
	rc.Cursor.ResetMismatches()
	if rc.Cursor.Step() > before {
		rc.transitions++
	}

	state := out.State
	rc.pending = &state
	rc.lastState = state.Name
	rc.Status = StatusRunning
	return StatusRunning, nil
}

func (r *Runner) send(ctx context.Context, rc *RunContext, a actions.Action) error {
	if err := r.input.Send(ctx, a); err != nil {
		return err
	}
	rc.sends++
	r.metrics.ObserveAction(a.Kind.String())
	return nil
}

func (r *Runner) settle(ctx context.Context) error {
	if r.cfg.SettleDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// interrupted maps a done context to TimedOut for the task's own deadline
// and Aborted for any other stop.
func interrupted(ctx context.Context) (Status, error) {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTaskTimeout) {
		return StatusTimedOut, cause
	}
	return StatusAborted, cause
}

func failed(ctx context.Context, err error) (Status, error) {
	if ctx.Err() != nil {
		return interrupted(ctx)
	}
	return StatusAborted, err
}
