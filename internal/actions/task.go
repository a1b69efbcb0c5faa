package actions

import (
	"fmt"
	"time"
)

// Step pairs the screen state a step expects with the action to take there
type Step struct {
	Expect string
	Action Action
}

// Ignorable is an interruption the task may dismiss without losing its place
type Ignorable struct {
	State  string
	Action Action
}

// Task is an ordered list of steps plus the interruptions it tolerates.
// Tasks are plain data; the engine never special-cases one.
type Task struct {
	Name        string
	Description string
	Tags        []string
	Steps       []Step
	Ignorable   []Ignorable

	// Timeout overrides the configured per-task wall clock when set
	Timeout time.Duration
}

// Dismissal returns the dismiss action for state if the task tolerates it
func (t *Task) Dismissal(state string) (Action, bool) {
	for _, ig := range t.Ignorable {
		if ig.State == state {
			return ig.Action, true
		}
	}
	return Action{}, false
}

// Validate checks the task is runnable
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("task '%s' has no steps", t.Name)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("task '%s': timeout cannot be negative", t.Name)
	}

	for i, step := range t.Steps {
		if step.Expect == "" {
			return fmt.Errorf("task '%s' step %d: expected state cannot be empty", t.Name, i+1)
		}
		if step.Action.Kind == KindDone && i != len(t.Steps)-1 {
			return fmt.Errorf("task '%s' step %d: done is only valid as the last step", t.Name, i+1)
		}
		if err := step.Action.Validate(); err != nil {
			return fmt.Errorf("task '%s' step %d: %w", t.Name, i+1, err)
		}
	}

	seen := make(map[string]bool)
	for i, ig := range t.Ignorable {
		if ig.State == "" {
			return fmt.Errorf("task '%s' ignorable %d: state cannot be empty", t.Name, i+1)
		}
		if seen[ig.State] {
			return fmt.Errorf("task '%s' ignorable %d: state '%s' listed twice", t.Name, i+1, ig.State)
		}
		seen[ig.State] = true
		if ig.Action.Kind == KindDone {
			return fmt.Errorf("task '%s' ignorable %d: dismiss action cannot be done", t.Name, i+1)
		}
		if err := ig.Action.Validate(); err != nil {
			return fmt.Errorf("task '%s' ignorable %d: %w", t.Name, i+1, err)
		}
	}

	return nil
}
