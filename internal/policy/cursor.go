package policy

import "jordanella.com/evertale-go/internal/actions"

// Cursor tracks a task's position and how many consecutive observations
// failed to show what the current step expects.
type Cursor struct {
	step       int
	total      int
	mismatches int
}

// NewCursor creates a cursor at the first of total steps
func NewCursor(total int) *Cursor {
	return &Cursor{total: total}
}

// Step returns the index of the step the task is waiting on
func (c *Cursor) Step() int {
	return c.step
}

// Finished reports whether the cursor has passed the last step
func (c *Cursor) Finished() bool {
	return c.step >= c.total
}

// Advance moves to the next step and clears the mismatch count
func (c *Cursor) Advance() {
	if c.step < c.total {
		c.step++
	}
	c.mismatches = 0
}

// Rewind moves back one step, used when an action's effect was not observed
func (c *Cursor) Rewind() {
	if c.step > 0 {
		c.step--
	}
}

// Mismatches returns the consecutive mismatch count
func (c *Cursor) Mismatches() int {
	return c.mismatches
}

// ResetMismatches clears the mismatch count
func (c *Cursor) ResetMismatches() {
	c.mismatches = 0
}

func (c *Cursor) mismatch() int {
	c.mismatches++
	return c.mismatches
}

// Resync lines the cursor up with a freshly observed state after recovery.
// If the state is what the current step expects nothing moves; if it is
// what the following step expects, the current step's action evidently
// took effect and the cursor advances. It reports whether either held.
func (c *Cursor) Resync(task *actions.Task, state string) bool {
	if c.Finished() {
		return false
	}
	if task.Steps[c.step].Expect == state {
		c.mismatches = 0
		return true
	}
	if c.step+1 < c.total && task.Steps[c.step+1].Expect == state {
		c.Advance()
		return true
	}
	return false
}
