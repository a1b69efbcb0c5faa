package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecoveryAttempt is one recovery strategy applied during a run
type RecoveryAttempt struct {
	ID           int64
	RunID        uuid.UUID
	Attempt      int
	Strategy     string
	StateBefore  string
	StateAfter   string
	Score        float64
	Recovered    bool
	ErrorMessage string
	AttemptedAt  time.Time
}

// RecordRecoveryAttempt stores an attempt against its run
func (db *DB) RecordRecoveryAttempt(ctx context.Context, a *RecoveryAttempt) (int64, error) {
	var id int64
	err := db.ExecTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO recovery_attempts (
				run_id, attempt, strategy, state_before, state_after,
				score, recovered, error_message, attempted_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.RunID.String(), a.Attempt, a.Strategy, nullString(a.StateBefore), nullString(a.StateAfter),
			a.Score, a.Recovered, nullString(a.ErrorMessage), a.AttemptedAt)
		if err != nil {
			return fmt.Errorf("failed to insert recovery attempt: %w", err)
		}

		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	a.ID = id
	return id, nil
}

// RecoveryAttempts returns the attempts of one run in order
func (db *DB) RecoveryAttempts(ctx context.Context, runID uuid.UUID) ([]*RecoveryAttempt, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, attempt, strategy, state_before, state_after, score,
		       recovered, error_message, attempted_at
		FROM recovery_attempts
		WHERE run_id = ?
		ORDER BY id
	`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery attempts: %w", err)
	}
	defer rows.Close()

	var out []*RecoveryAttempt
	for rows.Next() {
		var (
			a          = RecoveryAttempt{RunID: runID}
			before     sql.NullString
			after      sql.NullString
			errMessage sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Attempt, &a.Strategy, &before, &after, &a.Score,
			&a.Recovered, &errMessage, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recovery attempt: %w", err)
		}
		a.StateBefore = before.String
		a.StateAfter = after.String
		a.ErrorMessage = errMessage.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
