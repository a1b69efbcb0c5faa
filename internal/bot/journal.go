package bot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/database"
	"jordanella.com/evertale-go/internal/recovery"
	"jordanella.com/evertale-go/internal/runner"
)

// runJournal persists runs and the recovery attempts made during them.
// Store failures are logged and never fail the task.
type runJournal struct {
	db     *database.DB
	logger *zap.Logger
	run    uuid.UUID
}

func (j *runJournal) start(ctx context.Context, id uuid.UUID, task string, steps int) {
	j.run = id
	if j.db == nil {
		return
	}
	if err := j.db.StartRun(ctx, id, task, steps, time.Now()); err != nil {
		j.logger.Warn("Failed to record run start", zap.String("run_id", id.String()), zap.Error(err))
	}
}

func (j *runJournal) finish(ctx context.Context, res runner.Result) {
	j.run = uuid.Nil
	if j.db == nil {
		return
	}

	finished := res.FinishedAt
	run := &database.TaskRun{
		ID:          res.RunID,
		TaskName:    res.Task,
		Status:      res.Status.String(),
		StepsDone:   res.StepsDone,
		TotalSteps:  res.TotalSteps,
		Transitions: res.Transitions,
		Sends:       res.Sends,
		Dismissals:  res.Dismissals,
		Recoveries:  res.Recoveries,
		LastState:   res.LastState,
		DebugFrame:  res.DebugFrame,
		StartedAt:   res.StartedAt,
		FinishedAt:  &finished,
	}
	if res.Err != nil {
		run.ErrorMessage = res.Err.Error()
	}
	// the task context may be spent; the record must still be written
	if err := j.db.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		j.logger.Warn("Failed to record run result", zap.String("run_id", res.RunID.String()), zap.Error(err))
	}
}

// RecordAttempt implements recovery.Journal
func (j *runJournal) RecordAttempt(ctx context.Context, a recovery.Attempt) {
	if j.db == nil || j.run == uuid.Nil {
		return
	}
	rec := &database.RecoveryAttempt{
		RunID:       j.run,
		Attempt:     a.Number,
		Strategy:    a.Strategy,
		StateBefore: a.Before,
		StateAfter:  a.After,
		Score:       a.Score,
		Recovered:   a.Recovered,
		AttemptedAt: a.At,
	}
	if a.Err != nil {
		rec.ErrorMessage = a.Err.Error()
	}
	if _, err := j.db.RecordRecoveryAttempt(context.WithoutCancel(ctx), rec); err != nil {
		j.logger.Warn("Failed to record recovery attempt", zap.Error(err))
	}
}
