package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/bot"
	"jordanella.com/evertale-go/internal/config"
	"jordanella.com/evertale-go/internal/device/devicetest"
	"jordanella.com/evertale-go/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testdata(t *testing.T, parts ...string) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join(append([]string{"..", "..", "testdata"}, parts...)...))
	require.NoError(t, err)
	return p
}

type fixtureConfig struct {
	defaults     string
	initialState string
}

// writeConfig points a config file at the fixtures with fast timings
func writeConfig(t *testing.T, fc fixtureConfig) string {
	t.Helper()
	if fc.defaults == "" {
		fc.defaults = "[]"
	}
	if fc.initialState == "" {
		fc.initialState = "MainMenu"
	}
	dir := t.TempDir()
	content := fmt.Sprintf(`
catalog:
  dir: %q
tasks:
  dir: %q
  default: %s
store:
  path: %q
emulator:
  poll_interval: 1ms
game:
  initial_state: %s
  startup_timeout: 1s
runner:
  settle_delay: 0s
  verify_timeout: 1s
  task_timeout: 5s
  debug_dir: ""
recovery:
  settle: 0s
log:
  level: warn
`, testdata(t, "templates"), testdata(t, "tasks"), fc.defaults, filepath.Join(dir, "runs.db"), fc.initialState)
	path := filepath.Join(dir, "evertale.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func simApp(sim *devicetest.Sim) *app {
	return &app{botOpts: []bot.Option{
		bot.WithDevice(sim, sim),
		bot.WithMetrics(metrics.MustNew(prometheus.NewRegistry())),
	}}
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
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

func simulator(t *testing.T, start string) *devicetest.Sim {
	t.Helper()
	screens := map[string]string{
		"main":   "main_menu.png",
		"battle": "battle_screen.png",
		"reward": "reward_popup.png",
	}
	frames := map[string]*image.RGBA{}
	for name, file := range screens {
		frames[name] = devicetest.MustLoadFrame(t, testdata(t, "screens", file))
	}
	return devicetest.NewSim(frames, start, game)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, &app{}, "version")
	require.NoError(t, err)
	assert.Equal(t, "evertale-bot "+Version+"\n", out)
}

func TestClassifyFixtures(t *testing.T) {
	cfgFile := writeConfig(t, fixtureConfig{})
	out, err := execute(t, &app{}, "--config", cfgFile, "classify",
		testdata(t, "screens", "main_menu.png"),
		testdata(t, "screens", "reward_popup.png"),
		testdata(t, "screens", "unknown.png"),
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, lines[0], "main_menu.png: MainMenu")
	assert.Contains(t, out, "reward_popup.png: RewardPopup")
	assert.Contains(t, out, "unknown.png: Unknown")
}

func TestClassifyMissingFile(t *testing.T) {
	cfgFile := writeConfig(t, fixtureConfig{})
	_, err := execute(t, &app{}, "--config", cfgFile, "classify", filepath.Join(t.TempDir(), "nope.png"))
	require.Error(t, err)
	assert.Equal(t, bot.ExitAborted, exitCode(err))
}

func TestTasksListsDefinitions(t *testing.T) {
	cfgFile := writeConfig(t, fixtureConfig{})
	out, err := execute(t, &app{}, "--config", cfgFile, "tasks")
	require.NoError(t, err)
	assert.Contains(t, out, "enter_battle")
	assert.Contains(t, out, "leave_battle")
	assert.Contains(t, out, "RewardPopup")
}

func TestMissingConfigFileIsConfigError(t *testing.T) {
	_, err := execute(t, &app{}, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "tasks")
	require.Error(t, err)

	var cfgErr *config.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, bot.ExitConfigError, exitCode(err))
}

func TestRunThenHistory(t *testing.T) {
	cfgFile := writeConfig(t, fixtureConfig{})
	sim := simulator(t, "main")

	out, err := execute(t, simApp(sim), "--config", cfgFile, "run", "enter_battle", "leave_battle")
	require.NoError(t, err)
	assert.Contains(t, out, "2/2 tasks completed")
	assert.NotContains(t, out, "errors:")
	assert.Equal(t, "main", sim.Current())

	out, err = execute(t, &app{}, "--config", cfgFile, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "enter_battle")
	assert.Contains(t, out, "leave_battle")

	out, err = execute(t, &app{}, "--config", cfgFile, "history", "--summary")
	require.NoError(t, err)
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "leave_battle")
}

func TestRootRunsDefaultTasks(t *testing.T) {
	cfgFile := writeConfig(t, fixtureConfig{defaults: "[enter_battle]"})
	sim := simulator(t, "main")

	out, err := execute(t, simApp(sim), "--config", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "1/1 tasks completed")
	assert.Equal(t, "battle", sim.Current())
}

func TestRunFailureSetsExitCode(t *testing.T) {
	// the game starts in battle and no recovery reaches the main menu
	cfgFile := writeConfig(t, fixtureConfig{initialState: "BattleScreen"})
	sim := simulator(t, "battle")

	out, err := execute(t, simApp(sim), "--config", cfgFile, "run", "--no-launch", "enter_battle")
	require.Error(t, err)
	assert.Equal(t, bot.ExitAborted, exitCode(err))
	assert.Contains(t, out, "aborted")
	assert.Contains(t, out, "0/1 tasks completed")
	assert.Contains(t, out, "errors:")
	assert.Regexp(t, `(task|recovery)=1`, out)
}

func TestUnknownTaskIsConfigError(t *testing.T) {
	cfgFile := writeConfig(t, fixtureConfig{})
	sim := simulator(t, "main")

	_, err := execute(t, simApp(sim), "--config", cfgFile, "run", "no_such_task")
	require.Error(t, err)
	assert.Equal(t, bot.ExitConfigError, exitCode(err))
}
