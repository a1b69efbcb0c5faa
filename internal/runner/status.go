package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the task state machine position.
// Idle → Running → {Completed, TimedOut, Blocked, Aborted}; Blocked
// returns to Running when recovery succeeds.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusBlocked
	StatusCompleted
	StatusTimedOut
	StatusAborted
)

var statusNames = map[Status]string{
	StatusIdle:      "idle",
	StatusRunning:   "running",
	StatusBlocked:   "blocked",
	StatusCompleted: "completed",
	StatusTimedOut:  "timed_out",
	StatusAborted:   "aborted",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether the status ends a run
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTimedOut || s == StatusAborted
}

// ParseStatus is the inverse of String
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusIdle, fmt.Errorf("unknown status %q", name)
}

var (
	// ErrTaskTimeout is the cancellation cause when a task exceeds its wall clock
	ErrTaskTimeout = errors.New("task timed out")

	// ErrTooManyRecoveries ends a task that keeps getting blocked
	ErrTooManyRecoveries = errors.New("recovery budget for task spent")

	// ErrInvalidTask is returned for a task that fails validation
	ErrInvalidTask = errors.New("invalid task")
)

// Result is what a finished run reports back to its scheduler
type Result struct {
	RunID  uuid.UUID
	Task   string
	Status Status
	Err    error

	StepsDone   int
	TotalSteps  int
	Transitions int
	Sends       int
	Dismissals  int
	Recoveries  int
	LastState   string

	StartedAt  time.Time
	FinishedAt time.Time

	// DebugFrame is the path of the last screenshot saved on abort
	DebugFrame string
}

// Duration returns how long the run took
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the task completed
func (r Result) Succeeded() bool {
	return r.Status == StatusCompleted
}
