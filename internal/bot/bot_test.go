package bot

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/config"
	"jordanella.com/evertale-go/internal/database"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/device/devicetest"
	"jordanella.com/evertale-go/internal/metrics"
	"jordanella.com/evertale-go/internal/runner"
)

var testdata = filepath.Join("..", "..", "testdata")

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Catalog.Dir = filepath.Join(testdata, "templates")
	cfg.Tasks.Dir = filepath.Join(testdata, "tasks")
	cfg.Store.Enabled = false
	cfg.Emulator.PollInterval = time.Millisecond
	cfg.Game.StartupTimeout = time.Second
	cfg.Runner.SettleDelay = 0
	cfg.Runner.VerifyTimeout = time.Second
	cfg.Runner.TaskTimeout = 5 * time.Second
	cfg.Runner.DebugDir = ""
	cfg.Recovery.Settle = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func frames(t *testing.T) map[string]*image.RGBA {
	t.Helper()
	out := map[string]*image.RGBA{}
	for name, file := range map[string]string{
		"main":    "main_menu.png",
		"battle":  "battle_screen.png",
		"reward":  "reward_popup.png",
		"unknown": "unknown.png",
	} {
		out[name] = devicetest.MustLoadFrame(t, filepath.Join(testdata, "screens", file))
	}
	return out
}

// game moves between the fixture screens the way the real menus do
func game(current string, a actions.Action) string {
	switch {
	case current == "main" && a == actions.Tap(100, 200):
		return "battle"
	case current == "battle" && a == actions.KeyPress("KEYCODE_BACK"):
		return "reward"
	case current == "reward" && a == actions.Tap(80, 60):
		return "main"
	}
	return ""
}

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func newBot(t *testing.T, cfg *config.Config, capture device.Capturer, input device.Inputer, db *database.DB) *Bot {
	t.Helper()
	opts := []Option{
		WithDevice(capture, input),
		WithMetrics(metrics.MustNew(prometheus.NewRegistry())),
	}
	if db != nil {
		opts = append(opts, WithDatabase(db))
	}
	b := New(cfg, opts...)
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { b.Shutdown() })
	return b
}

func TestSessionRunsTasksAndRecordsThem(t *testing.T) {
	sim := devicetest.NewSim(frames(t), "main", game)
	db := openDB(t)
	b := newBot(t, testConfig(t), sim, sim, db)

	require.NoError(t, b.Start(context.Background()))
	report, err := b.RunTasks(context.Background(), []string{"enter_battle", "leave_battle"})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, runner.StatusCompleted, res.Status, "%s: %v", res.Task, res.Err)
	}
	assert.Equal(t, 2, report.Completed())
	assert.Equal(t, ExitCompleted, report.ExitCode())
	assert.Equal(t, "main", sim.Current())
	assert.Equal(t, 1, report.Results[1].Dismissals)

	runs, err := db.RecentRuns(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, "completed", run.Status)
		assert.NotNil(t, run.FinishedAt)
	}
}

func TestStartDismissesPopupsUntilMainMenu(t *testing.T) {
	sim := devicetest.NewSim(frames(t), "reward", game)
	b := newBot(t, testConfig(t), sim, sim, nil)

	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, "main", sim.Current())
	assert.Equal(t, []actions.Action{actions.Tap(80, 60)}, sim.Sent())
}

func TestFailedTaskDoesNotStopTheSession(t *testing.T) {
	sim := devicetest.NewSim(frames(t), "battle", game)
	cfg := testConfig(t)
	cfg.Runner.MismatchTolerance = 0
	cfg.Runner.VerifyRetries = 1
	db := openDB(t)
	b := newBot(t, cfg, sim, sim, db)

	// enter_battle expects the main menu but the game sits in battle, and
	// back/neutral taps lead through the reward popup only via back
	report, err := b.RunTasks(context.Background(), []string{"enter_battle", "leave_battle"})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Empty(t, report.Skipped)

	first := report.Results[0]
	assert.NotEqual(t, runner.StatusCompleted, first.Status)
	assert.GreaterOrEqual(t, first.Recoveries, 1)

	attempts, err := db.RecoveryAttempts(context.Background(), first.RunID)
	require.NoError(t, err)
	assert.NotEmpty(t, attempts)
	assert.Equal(t, "back", attempts[0].Strategy)

	assert.NotEqual(t, ExitCompleted, report.ExitCode())
	assert.NotEmpty(t, b.Errors().GetRecentErrors(10))
}

func TestDeviceLossSkipsRemainingTasks(t *testing.T) {
	capture := devicetest.NewScriptedCapturer(devicetest.Shot{Err: device.ErrDeviceUnavailable})
	b := newBot(t, testConfig(t), capture, &devicetest.Recorder{}, nil)

	report, err := b.RunTasks(context.Background(), []string{"enter_battle", "leave_battle"})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.ErrorIs(t, report.Results[0].Err, device.ErrDeviceUnavailable)
	assert.Equal(t, []string{"leave_battle"}, report.Skipped)
	assert.Equal(t, ExitDeviceUnavailable, report.ExitCode())
}

func TestRunTasksRejectsUnknownTask(t *testing.T) {
	sim := devicetest.NewSim(frames(t), "main", game)
	b := newBot(t, testConfig(t), sim, sim, nil)

	_, err := b.RunTasks(context.Background(), []string{"missing"})
	assert.Equal(t, ExitConfigError, ExitCodeFor(err))
}

func TestInitializeRejectsTaskWithUnrecognizableState(t *testing.T) {
	for _, expect := range []string{"ShopScreen", "Unknown"} {
		t.Run(expect, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "odd.yaml"), []byte(`task_name: odd
steps:
  - expect: `+expect+`
    action: back
  - expect: MainMenu
    action: done
`), 0o644))

			cfg := testConfig(t)
			cfg.Tasks.Dir = dir
			sim := devicetest.NewSim(frames(t), "main", game)
			b := New(cfg, WithDevice(sim, sim), WithMetrics(metrics.MustNew(prometheus.NewRegistry())))

			err := b.Initialize(context.Background())
			var cfgErr *config.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, "tasks.odd", cfgErr.Field)
		})
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		results []runner.Result
		skipped []string
		want    int
	}{
		{"all completed", []runner.Result{{Status: runner.StatusCompleted}}, nil, ExitCompleted},
		{"timed out", []runner.Result{{Status: runner.StatusCompleted}, {Status: runner.StatusTimedOut}}, nil, ExitTimedOut},
		{"abort beats timeout", []runner.Result{{Status: runner.StatusTimedOut}, {Status: runner.StatusAborted}}, nil, ExitAborted},
		{"device lost", []runner.Result{{Status: runner.StatusAborted, Err: device.ErrDeviceUnavailable}}, []string{"x"}, ExitDeviceUnavailable},
		{"skipped only", nil, []string{"x"}, ExitAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Report{Results: tt.results, Skipped: tt.skipped}
			assert.Equal(t, tt.want, r.ExitCode())
		})
	}

	assert.Equal(t, ExitCompleted, ExitCodeFor(nil))
	assert.Equal(t, ExitConfigError, ExitCodeFor(&config.ConfigError{Field: "x"}))
	assert.Equal(t, ExitDeviceUnavailable, ExitCodeFor(device.ErrDeviceUnavailable))
	assert.Equal(t, ExitTimedOut, ExitCodeFor(runner.ErrTaskTimeout))
	assert.Equal(t, ExitAborted, ExitCodeFor(errors.New("boom")))
}
