package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.RunMigrations(context.Background()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func TestDatabaseInitialization(t *testing.T) {
	db := openTestDB(t)

	version, err := db.GetVersion(context.Background())
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version != LatestVersion() {
		t.Errorf("Expected version %d, got %d", LatestVersion(), version)
	}

	if _, err := os.Stat(db.Path()); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// Running again is a no-op
	if err := db.RunMigrations(context.Background()); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}
}

func TestTaskRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id := uuid.New()
	started := time.Now().Add(-3 * time.Second)
	if err := db.StartRun(ctx, id, "daily_quest", 4, started); err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	run, err := db.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if run.Status != "running" || run.FinishedAt != nil {
		t.Errorf("Expected open running row, got status=%s finished=%v", run.Status, run.FinishedAt)
	}

	run.Status = "completed"
	run.StepsDone = 4
	run.Transitions = 4
	run.Sends = 3
	run.LastState = "MainMenu"
	if err := db.FinishRun(ctx, run); err != nil {
		t.Fatalf("Failed to finish run: %v", err)
	}

	got, err := db.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("Failed to reload run: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("Expected status completed, got %s", got.Status)
	}
	if got.Transitions != 4 || got.Sends != 3 || got.TotalSteps != 4 {
		t.Errorf("Unexpected counters: %+v", got)
	}
	if got.LastState != "MainMenu" {
		t.Errorf("Expected last state MainMenu, got %q", got.LastState)
	}
	if got.ErrorMessage != "" {
		t.Errorf("Expected no error message, got %q", got.ErrorMessage)
	}
	if got.FinishedAt == nil || got.DurationMs == nil {
		t.Fatal("Expected finished_at and duration to be set")
	}
	if *got.DurationMs < 3000 {
		t.Errorf("Expected duration of at least 3000ms, got %d", *got.DurationMs)
	}
}

func TestUnknownRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.GetRun(ctx, uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	err = db.FinishRun(ctx, &TaskRun{ID: uuid.New(), Status: "aborted", StartedAt: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound finishing a missing run, got %v", err)
	}
}

func TestRecoveryAttempts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id := uuid.New()
	if err := db.StartRun(ctx, id, "event", 2, time.Now()); err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	attempts := []*RecoveryAttempt{
		{RunID: id, Attempt: 1, Strategy: "back", StateBefore: "Unknown", StateAfter: "Unknown", AttemptedAt: time.Now()},
		{RunID: id, Attempt: 2, Strategy: "neutral_tap", StateBefore: "Unknown", StateAfter: "MainMenu", Score: 0.93, Recovered: true, AttemptedAt: time.Now()},
	}
	for _, a := range attempts {
		if _, err := db.RecordRecoveryAttempt(ctx, a); err != nil {
			t.Fatalf("Failed to record attempt: %v", err)
		}
		if a.ID == 0 {
			t.Error("Expected attempt ID to be set")
		}
	}

	got, err := db.RecoveryAttempts(ctx, id)
	if err != nil {
		t.Fatalf("Failed to list attempts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(got))
	}
	if got[0].Strategy != "back" || got[0].Recovered {
		t.Errorf("Unexpected first attempt: %+v", got[0])
	}
	if got[1].StateAfter != "MainMenu" || !got[1].Recovered || got[1].Score != 0.93 {
		t.Errorf("Unexpected second attempt: %+v", got[1])
	}

	// attempts must belong to a run
	orphan := &RecoveryAttempt{RunID: uuid.New(), Attempt: 1, Strategy: "back", AttemptedAt: time.Now()}
	if _, err := db.RecordRecoveryAttempt(ctx, orphan); err == nil {
		t.Error("Expected foreign key violation for orphan attempt")
	}
}

func TestRecentRunsAndSummary(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	statuses := []struct {
		task   string
		status string
	}{
		{"daily", "completed"},
		{"daily", "aborted"},
		{"event", "timed_out"},
		{"daily", "completed"},
	}
	for i, s := range statuses {
		id := uuid.New()
		started := base.Add(time.Duration(i) * time.Minute)
		if err := db.StartRun(ctx, id, s.task, 2, started); err != nil {
			t.Fatalf("Failed to start run: %v", err)
		}
		finished := started.Add(2 * time.Second)
		run := &TaskRun{ID: id, Status: s.status, StartedAt: started, FinishedAt: &finished, Recoveries: i}
		if err := db.FinishRun(ctx, run); err != nil {
			t.Fatalf("Failed to finish run: %v", err)
		}
	}

	recent, err := db.RecentRuns(ctx, "", 2)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(recent))
	}
	if recent[0].StartedAt.Before(recent[1].StartedAt) {
		t.Error("Expected newest run first")
	}

	daily, err := db.RecentRuns(ctx, "daily", 10)
	if err != nil {
		t.Fatalf("Failed to list daily runs: %v", err)
	}
	if len(daily) != 3 {
		t.Errorf("Expected 3 daily runs, got %d", len(daily))
	}

	summaries, err := db.Summaries(ctx)
	if err != nil {
		t.Fatalf("Failed to load summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(summaries))
	}
	d := summaries[0]
	if d.TaskName != "daily" || d.Runs != 3 || d.Completed != 2 || d.Aborted != 1 {
		t.Errorf("Unexpected daily summary: %+v", d)
	}
	if d.Recoveries != 0+1+3 {
		t.Errorf("Expected 4 recoveries, got %d", d.Recoveries)
	}
	if d.AvgDuration != 2*time.Second {
		t.Errorf("Expected 2s average, got %v", d.AvgDuration)
	}
	if summaries[1].TimedOut != 1 {
		t.Errorf("Expected one timed out event run, got %+v", summaries[1])
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats["task_runs"] != 4 {
		t.Errorf("Expected 4 task runs, got %d", stats["task_runs"])
	}
}
