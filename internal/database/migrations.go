package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// migration is one forward schema step. Steps are applied in order, each
// in its own transaction together with its schema_version row.
type migration struct {
	version     int
	description string
	stmt        string
}

var migrations = []migration{
	{1, "Task run history", `
		CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			task_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			steps_done INTEGER NOT NULL DEFAULT 0,
			total_steps INTEGER NOT NULL DEFAULT 0,
			transitions INTEGER NOT NULL DEFAULT 0,
			sends INTEGER NOT NULL DEFAULT 0,
			dismissals INTEGER NOT NULL DEFAULT 0,
			recoveries INTEGER NOT NULL DEFAULT 0,
			last_state TEXT,
			error_message TEXT,
			debug_frame TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			duration_ms INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_task_runs_task ON task_runs(task_name);
		CREATE INDEX IF NOT EXISTS idx_task_runs_started ON task_runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_task_runs_status ON task_runs(status);
	`},
	{2, "Recovery attempts made during runs", `
		CREATE TABLE IF NOT EXISTS recovery_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES task_runs(id) ON DELETE CASCADE,
			attempt INTEGER NOT NULL,
			strategy TEXT NOT NULL,
			state_before TEXT,
			state_after TEXT,
			score REAL NOT NULL DEFAULT 0,
			recovered INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			attempted_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_recovery_attempts_run ON recovery_attempts(run_id);
	`},
	{3, "Per-task outcome summary", `
		CREATE VIEW IF NOT EXISTS task_summary AS
		SELECT
			task_name,
			COUNT(*) AS runs,
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS completed,
			SUM(CASE WHEN status = 'timed_out' THEN 1 ELSE 0 END) AS timed_out,
			SUM(CASE WHEN status = 'aborted' THEN 1 ELSE 0 END) AS aborted,
			SUM(recoveries) AS recoveries,
			AVG(duration_ms) AS avg_duration_ms,
			MAX(started_at) AS last_started_at
		FROM task_runs
		GROUP BY task_name
	`},
}

const createSchemaVersion = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at DATETIME NOT NULL
	)`

// RunMigrations brings the schema up to LatestVersion
func (db *DB) RunMigrations(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, createSchemaVersion); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	current, err := db.GetVersion(ctx)
	if err != nil {
		return err
	}
	db.logger.Debug("database schema", zap.Int("version", current))

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		db.logger.Info("running migration", zap.Int("version", m.version), zap.String("description", m.description))

		err := db.ExecTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)`,
				m.version, m.description, time.Now())
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

// LatestVersion returns the schema version RunMigrations brings a database to
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// GetVersion returns the applied schema version, 0 for a fresh database
func (db *DB) GetVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
