package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskRun is one persisted task execution
type TaskRun struct {
	ID           uuid.UUID
	TaskName     string
	Status       string
	StepsDone    int
	TotalSteps   int
	Transitions  int
	Sends        int
	Dismissals   int
	Recoveries   int
	LastState    string
	ErrorMessage string
	DebugFrame   string
	StartedAt    time.Time
	FinishedAt   *time.Time
	DurationMs   *int64
}

// TaskSummary aggregates the runs of one task
type TaskSummary struct {
	TaskName      string
	Runs          int
	Completed     int
	TimedOut      int
	Aborted       int
	Recoveries    int
	AvgDuration   time.Duration
	LastStartedAt time.Time
}

// StartRun records a task run as running
func (db *DB) StartRun(ctx context.Context, id uuid.UUID, taskName string, totalSteps int, startedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_name, status, total_steps, started_at)
		VALUES (?, ?, 'running', ?, ?)
	`, id.String(), taskName, totalSteps, startedAt)
	if err != nil {
		return fmt.Errorf("failed to start task run: %w", err)
	}
	return nil
}

// FinishRun stores the final state of a run started with StartRun
func (db *DB) FinishRun(ctx context.Context, run *TaskRun) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	duration := finished.Sub(run.StartedAt).Milliseconds()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE task_runs
		SET status = ?,
		    steps_done = ?,
		    transitions = ?,
		    sends = ?,
		    dismissals = ?,
		    recoveries = ?,
		    last_state = ?,
		    error_message = ?,
		    debug_frame = ?,
		    finished_at = ?,
		    duration_ms = ?
		WHERE id = ?
	`, run.Status, run.StepsDone, run.Transitions, run.Sends, run.Dismissals, run.Recoveries,
		nullString(run.LastState), nullString(run.ErrorMessage), nullString(run.DebugFrame),
		finished, duration, run.ID.String())
	if err != nil {
		return fmt.Errorf("failed to finish task run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish task run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task run %s: %w", run.ID, ErrNotFound)
	}

	run.FinishedAt = &finished
	run.DurationMs = &duration
	return nil
}

// GetRun retrieves a task run by ID
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*TaskRun, error) {
	row := db.conn.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task run: %w", err)
	}
	return run, nil
}

// RecentRuns returns the newest runs, optionally limited to one task
func (db *DB) RecentRuns(ctx context.Context, taskName string, limit int) ([]*TaskRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := selectRuns
	args := []interface{}{}
	if taskName != "" {
		query += ` WHERE task_name = ?`
		args = append(args, taskName)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	defer rows.Close()

	var runs []*TaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Summaries returns per-task aggregates
func (db *DB) Summaries(ctx context.Context) ([]*TaskSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT task_name, runs, completed, timed_out, aborted,
		       COALESCE(recoveries, 0), COALESCE(avg_duration_ms, 0), last_started_at
		FROM task_summary
		ORDER BY task_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query task summary: %w", err)
	}
	defer rows.Close()

	var out []*TaskSummary
	for rows.Next() {
		var (
			s     TaskSummary
			avgMs float64
			last  sql.NullString
		)
		if err := rows.Scan(&s.TaskName, &s.Runs, &s.Completed, &s.TimedOut, &s.Aborted,
			&s.Recoveries, &avgMs, &last); err != nil {
			return nil, fmt.Errorf("failed to scan task summary: %w", err)
		}
		s.AvgDuration = time.Duration(avgMs * float64(time.Millisecond))
		if last.Valid {
			s.LastStartedAt = parseTime(last.String)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

const selectRuns = `
	SELECT id, task_name, status, steps_done, total_steps, transitions, sends,
	       dismissals, recoveries, last_state, error_message, debug_frame,
	       started_at, finished_at, duration_ms
	FROM task_runs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*TaskRun, error) {
	var (
		run        TaskRun
		id         string
		lastState  sql.NullString
		errMessage sql.NullString
		debugFrame sql.NullString
		finishedAt sql.NullTime
		durationMs sql.NullInt64
	)

	err := s.Scan(&id, &run.TaskName, &run.Status, &run.StepsDone, &run.TotalSteps,
		&run.Transitions, &run.Sends, &run.Dismissals, &run.Recoveries,
		&lastState, &errMessage, &debugFrame, &run.StartedAt, &finishedAt, &durationMs)
	if err != nil {
		return nil, err
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("bad run id %q: %w", id, err)
	}
	run.LastState = lastState.String
	run.ErrorMessage = errMessage.String
	run.DebugFrame = debugFrame.String
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if durationMs.Valid {
		run.DurationMs = &durationMs.Int64
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// parseTime reads the text form the sqlite3 driver writes for time values.
// Aggregates such as MAX() lose the column type and come back as text.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
