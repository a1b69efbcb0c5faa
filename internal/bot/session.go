package bot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/config"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/logging"
	"jordanella.com/evertale-go/internal/recovery"
	"jordanella.com/evertale-go/internal/runner"
)

// Exit codes reported by the command line
const (
	ExitCompleted         = 0
	ExitAborted           = 1
	ExitTimedOut          = 2
	ExitConfigError       = 3
	ExitDeviceUnavailable = 4
)

// Report summarizes a sequence of task runs
type Report struct {
	Results []runner.Result
	// Skipped lists tasks never started because the device was lost
	Skipped   []string
	StartedAt time.Time
	Duration  time.Duration
}

// Completed counts runs that finished successfully
func (r *Report) Completed() int {
	n := 0
	for _, res := range r.Results {
		if res.Succeeded() {
			n++
		}
	}
	return n
}

// ExitCode maps the worst run outcome onto a process exit code. A lost
// device outranks an abort, which outranks a timeout.
func (r *Report) ExitCode() int {
	code := ExitCompleted
	for _, res := range r.Results {
		switch {
		case errors.Is(res.Err, device.ErrDeviceUnavailable):
			return ExitDeviceUnavailable
		case res.Status == runner.StatusAborted:
			code = ExitAborted
		case res.Status == runner.StatusTimedOut && code == ExitCompleted:
			code = ExitTimedOut
		}
	}
	if len(r.Skipped) > 0 && code == ExitCompleted {
		code = ExitAborted
	}
	return code
}

// ExitCodeFor maps an error that ended the process before or outside task
// runs onto an exit code
func ExitCodeFor(err error) int {
	var cfgErr *config.ConfigError
	switch {
	case err == nil:
		return ExitCompleted
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, device.ErrDeviceUnavailable):
		return ExitDeviceUnavailable
	case errors.Is(err, runner.ErrTaskTimeout):
		return ExitTimedOut
	default:
		return ExitAborted
	}
}

// RunTasks runs the named tasks in order, or the configured default list
// when names is empty, or every task when that is empty too. A failed task
// is recorded and the next one starts; a lost device ends the sequence.
func (b *Bot) RunTasks(ctx context.Context, names []string) (*Report, error) {
	if b.runner == nil {
		return nil, errors.New("bot is not initialized")
	}
	if len(names) == 0 {
		names = b.cfg.Tasks.Default
	}
	tasks, err := b.tasks.Select(names)
	if err != nil {
		return nil, &config.ConfigError{Field: "tasks", Reason: "cannot select tasks", Err: err}
	}

	report := &Report{StartedAt: time.Now()}
	for i, task := range tasks {
		if ctx.Err() != nil {
			report.Skipped = append(report.Skipped, taskNames(tasks[i:])...)
			break
		}

		res := b.RunTask(ctx, task)
		report.Results = append(report.Results, res)

		if errors.Is(res.Err, device.ErrDeviceUnavailable) {
			report.Skipped = append(report.Skipped, taskNames(tasks[i+1:])...)
			break
		}
	}
	report.Duration = time.Since(report.StartedAt)

	b.logger.Info("Session finished",
		zap.Int("tasks", len(tasks)),
		zap.Int("completed", report.Completed()),
		zap.Strings("skipped", report.Skipped),
		zap.Duration("elapsed", report.Duration),
	)
	return report, nil
}

// RunTask runs a single task and records it
func (b *Bot) RunTask(ctx context.Context, task *actions.Task) runner.Result {
	id := uuid.New()
	b.journal.start(ctx, id, task.Name, len(task.Steps))

	res := b.runner.RunWithID(ctx, id, task)
	b.journal.finish(ctx, res)

	if !res.Succeeded() {
		b.reportFailure(res)
	}
	return res
}

func (b *Bot) reportFailure(res runner.Result) {
	fields := []zap.Field{
		zap.String("task", res.Task),
		zap.String("run_id", res.RunID.String()),
		zap.String("status", res.Status.String()),
		zap.String("last_state", res.LastState),
	}

	switch {
	case errors.Is(res.Err, device.ErrDeviceUnavailable):
		b.reporter.ReportCriticalError(logging.ErrorCategoryDevice, "runner", "Device lost during task", res.Err, fields...)
	case errors.Is(res.Err, recovery.ErrExhausted), errors.Is(res.Err, runner.ErrTooManyRecoveries):
		b.reporter.ReportError(logging.ErrorCategoryRecovery, logging.ErrorSeverityHigh, "runner", "Task aborted after recovery failed", res.Err, fields...)
	case res.Status == runner.StatusTimedOut:
		b.reporter.ReportError(logging.ErrorCategoryTask, logging.ErrorSeverityMedium, "runner", "Task timed out", res.Err, fields...)
	default:
		b.reporter.ReportError(logging.ErrorCategoryTask, logging.ErrorSeverityHigh, "runner", "Task failed", res.Err, fields...)
	}
}

func taskNames(tasks []*actions.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name
	}
	return out
}
