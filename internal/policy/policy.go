package policy

import (
	"fmt"

	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/screen"
)

// DecisionKind says what the runner should do next
type DecisionKind int

const (
	// DecisionAct sends the step's action; the cursor has advanced
	DecisionAct DecisionKind = iota
	// DecisionDismiss sends a dismiss action for a tolerated interruption
	DecisionDismiss
	// DecisionWait sends nothing and observes again
	DecisionWait
	// DecisionBlocked hands control to recovery
	DecisionBlocked
	// DecisionDone means every step has been reached
	DecisionDone
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAct:
		return "act"
	case DecisionDismiss:
		return "dismiss"
	case DecisionWait:
		return "wait"
	case DecisionBlocked:
		return "blocked"
	case DecisionDone:
		return "done"
	default:
		return fmt.Sprintf("decision(%d)", int(k))
	}
}

// Decision is the policy's answer for one observed state
type Decision struct {
	Kind   DecisionKind
	Action actions.Action

	// Step is the index of the step the decision was made for
	Step int

	// Expect is the state that should appear once Action takes effect.
	// It is empty when the acted step is the last one.
	Expect string

	// Leaving is the state Action is expected to move away from
	Leaving string

	Reason string
}

// Policy maps (task, cursor, state) to the next decision. It holds no
// per-task state of its own; everything positional lives in the Cursor.
type Policy struct {
	tolerance int
	logger    *zap.Logger
}

// Option configures a Policy
type Option func(*Policy)

// WithLogger sets the policy logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Policy) {
		p.logger = l
	}
}

// New creates a policy that blocks after more than tolerance consecutive
// observations that are neither expected nor ignorable.
func New(tolerance int, opts ...Option) *Policy {
	if tolerance < 0 {
		tolerance = 0
	}
	p := &Policy{tolerance: tolerance, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tolerance returns the configured mismatch tolerance
func (p *Policy) Tolerance() int {
	return p.tolerance
}

// Next decides what to do about state. A tap or swipe is only ever
// returned when state is the current step's expected state or one the
// task lists as ignorable.
func (p *Policy) Next(task *actions.Task, cur *Cursor, state screen.State) Decision {
	if cur.Finished() {
		return Decision{Kind: DecisionDone, Step: cur.Step()}
	}

	idx := cur.Step()
	step := task.Steps[idx]

	if state.Known() && state.Name == step.Expect {
		if step.Action.Kind == actions.KindDone {
			cur.Advance()
			return Decision{Kind: DecisionDone, Step: idx, Leaving: state.Name}
		}

		action, err := Resolve(step.Action, state)
		if err != nil {
			cur.mismatch()
			return p.blocked(idx, state, err.Error())
		}

		cur.Advance()
		d := Decision{Kind: DecisionAct, Action: action, Step: idx, Leaving: state.Name}
		if idx+1 < len(task.Steps) {
			d.Expect = task.Steps[idx+1].Expect
		}
		return d
	}

	if state.Known() {
		if dismiss, ok := task.Dismissal(state.Name); ok {
			action, err := Resolve(dismiss, state)
			if err != nil {
				return p.blocked(idx, state, err.Error())
			}
			return Decision{
				Kind:    DecisionDismiss,
				Action:  action,
				Step:    idx,
				Expect:  step.Expect,
				Leaving: state.Name,
				Reason:  "ignorable " + state.Name,
			}
		}
	}

	n := cur.mismatch()
	if n > p.tolerance {
		return p.blocked(idx, state, fmt.Sprintf("expected %s, saw %s %d times", step.Expect, state.Name, n))
	}

	p.logger.Debug("unexpected state, waiting",
		zap.String("expected", step.Expect),
		zap.String("state", state.Name),
		zap.Int("mismatches", n))
	return Decision{
		Kind:   DecisionWait,
		Step:   idx,
		Expect: step.Expect,
		Reason: fmt.Sprintf("saw %s, expected %s", state.Name, step.Expect),
	}
}

func (p *Policy) blocked(idx int, state screen.State, reason string) Decision {
	p.logger.Info("task blocked", zap.Int("step", idx+1), zap.String("state", state.Name), zap.String("reason", reason))
	return Decision{Kind: DecisionBlocked, Step: idx, Reason: reason}
}

// Resolve fills in a tap-on-match action from the state's bounding box
func Resolve(a actions.Action, state screen.State) (actions.Action, error) {
	if !a.AtMatch {
		return a, nil
	}
	center, ok := state.Center()
	if !ok {
		return actions.Action{}, fmt.Errorf("state %s has no matched region to tap", state.Name)
	}
	return actions.Tap(center.X, center.Y), nil
}
