package runner

import (
	"github.com/google/uuid"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/policy"
	"jordanella.com/evertale-go/internal/screen"
)

// RunContext is the state of one task run. It is created when the task
// starts, passed explicitly through the loop, and dropped when the run
// ends. Nothing in it outlives or is shared between runs.
type RunContext struct {
	ID      uuid.UUID
	Task    *actions.Task
	Cursor  *policy.Cursor
	History *screen.History
	Status  Status

	// Retries counts failed verification polls per step
	Retries []int

	transitions int
	sends       int
	dismissals  int
	recoveries  int

	last      *device.Screenshot
	lastState string

	// pending is a state classified from the most recent screenshot that
	// the next iteration decides on instead of capturing again
	pending *screen.State
}

func newRunContext(id uuid.UUID, task *actions.Task, historySize int) *RunContext {
	return &RunContext{
		ID:        id,
		Task:      task,
		Cursor:    policy.NewCursor(len(task.Steps)),
		History:   screen.NewHistory(historySize),
		Status:    StatusIdle,
		Retries:   make([]int, len(task.Steps)),
		lastState: screen.Unknown,
	}
}

// expected returns the state the current step waits for
func (rc *RunContext) expected() string {
	if rc.Cursor.Finished() {
		return ""
	}
	return rc.Task.Steps[rc.Cursor.Step()].Expect
}

func (rc *RunContext) result() Result {
	return Result{
		RunID:       rc.ID,
		Task:        rc.Task.Name,
		Status:      rc.Status,
		StepsDone:   rc.Cursor.Step(),
		TotalSteps:  len(rc.Task.Steps),
		Transitions: rc.transitions,
		Sends:       rc.sends,
		Dismissals:  rc.dismissals,
		Recoveries:  rc.recoveries,
		LastState:   rc.lastState,
	}
}
