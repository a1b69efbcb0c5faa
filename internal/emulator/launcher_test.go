package emulator

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/adb"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/device/devicetest"
	"jordanella.com/evertale-go/internal/screen"
	"jordanella.com/evertale-go/pkg/templates"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const pkg = "com.zigzagame.evertale"

type fakeBridge struct {
	mu          sync.Mutex
	onlineAfter int
	bootAfter   int
	polls       int
	boots       int
	connects    int
	installed   bool
	running     bool
	failActs    map[string]bool
	monkeyRuns  bool
	calls       []string
}

func (f *fakeBridge) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBridge) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeBridge) IsOnline(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls <= f.onlineAfter {
		return false, adb.ErrBridgeUnavailable
	}
	return true, nil
}

func (f *fakeBridge) BootCompleted(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boots++
	return f.boots > f.bootAfter, nil
}

func (f *fakeBridge) IsInstalled(ctx context.Context, p string) (bool, error) {
	return f.installed, nil
}

func (f *fakeBridge) KeyEvent(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("key " + key)
	return nil
}

func (f *fakeBridge) StartActivity(ctx context.Context, p, activity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("am " + activity)
	if f.failActs[activity] {
		return errors.New("Error: Activity class does not exist")
	}
	f.running = true
	return nil
}

func (f *fakeBridge) Monkey(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("monkey")
	f.running = f.monkeyRuns
	return nil
}

func (f *fakeBridge) IsAppRunning(ctx context.Context, p string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func fastConfig() Config {
	return Config{
		BootTimeout:    time.Second,
		PollInterval:   time.Millisecond,
		Package:        pkg,
		LaunchTimeout:  20 * time.Millisecond,
		StartupTimeout: time.Second,
		InitialState:   "MainMenu",
	}
}

func TestMEmuHelpers(t *testing.T) {
	assert.Equal(t, "127.0.0.1:21503", MEmuSerial(0))
	assert.Equal(t, "127.0.0.1:21523", MEmuSerial(2))

	name, args := MEmuStart(`C:\MEmu\memuc.exe`, 1)
	assert.Equal(t, `C:\MEmu\memuc.exe`, name)
	assert.Equal(t, []string{"start", "-i", "1"}, args)
}

func TestStartEmulator(t *testing.T) {
	var started []string
	starter := func(ctx context.Context, name string, args ...string) error {
		started = append(started, name)
		return nil
	}

	cfg := fastConfig()
	bridge := &fakeBridge{onlineAfter: 1}

	// no command configured
	require.NoError(t, NewLauncher(bridge, cfg, WithStarter(starter)).StartEmulator(context.Background()))
	assert.Empty(t, started)

	cfg.Command = "memuc.exe"
	require.NoError(t, NewLauncher(bridge, cfg, WithStarter(starter)).StartEmulator(context.Background()))
	assert.Equal(t, []string{"memuc.exe"}, started)

	// already online
	require.NoError(t, NewLauncher(bridge, cfg, WithStarter(starter)).StartEmulator(context.Background()))
	assert.Len(t, started, 1)

	failing := func(ctx context.Context, name string, args ...string) error { return errors.New("no such file") }
	err := NewLauncher(&fakeBridge{onlineAfter: 5}, cfg, WithStarter(failing)).StartEmulator(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)
}

func TestWaitReady(t *testing.T) {
	bridge := &fakeBridge{onlineAfter: 3, bootAfter: 2}
	cfg := fastConfig()
	cfg.Connect = true

	require.NoError(t, NewLauncher(bridge, cfg).WaitReady(context.Background()))
	assert.Equal(t, 4, bridge.polls, "device list polled until online")
	assert.Equal(t, 3, bridge.boots)
	assert.Equal(t, 4, bridge.connects)
}

func TestWaitReadyTimesOut(t *testing.T) {
	bridge := &fakeBridge{onlineAfter: 1 << 30}
	cfg := fastConfig()
	cfg.BootTimeout = 20 * time.Millisecond

	err := NewLauncher(bridge, cfg).WaitReady(context.Background())
	assert.ErrorIs(t, err, ErrBootTimeout)
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)
}

func TestWaitReadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewLauncher(&fakeBridge{onlineAfter: 1 << 30}, fastConfig()).WaitReady(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrBootTimeout)
}

func TestLaunchGameFallsBackThroughActivities(t *testing.T) {
	cfg := fastConfig()
	cfg.Activities = []string{"com.unity3d.player.UnityPlayerActivity", pkg + ".MainActivity"}
	bridge := &fakeBridge{
		installed: true,
		failActs:  map[string]bool{"com.unity3d.player.UnityPlayerActivity": true},
	}

	require.NoError(t, NewLauncher(bridge, cfg).LaunchGame(context.Background()))
	assert.Equal(t, []string{
		"key KEYCODE_HOME",
		"am com.unity3d.player.UnityPlayerActivity",
		"am " + pkg + ".MainActivity",
	}, bridge.calls)
}

func TestLaunchGameUsesMonkeyLast(t *testing.T) {
	cfg := fastConfig()
	cfg.Activities = []string{".Missing"}
	bridge := &fakeBridge{installed: true, failActs: map[string]bool{".Missing": true}, monkeyRuns: true}

	require.NoError(t, NewLauncher(bridge, cfg).LaunchGame(context.Background()))
	assert.Equal(t, "monkey", bridge.calls[len(bridge.calls)-1])
}

func TestLaunchGameFailures(t *testing.T) {
	err := NewLauncher(&fakeBridge{}, fastConfig()).LaunchGame(context.Background())
	assert.ErrorIs(t, err, ErrNotInstalled)

	// monkey "succeeds" but the process never appears
	err = NewLauncher(&fakeBridge{installed: true}, fastConfig()).LaunchGame(context.Background())
	assert.ErrorIs(t, err, ErrLaunchFailed)

	running := &fakeBridge{installed: true, running: true}
	require.NoError(t, NewLauncher(running, fastConfig()).LaunchGame(context.Background()))
	assert.Empty(t, running.calls, "a running game is left alone")
}

func startupFixture(t *testing.T) (*screen.Classifier, map[string]*image.RGBA) {
	t.Helper()
	testdata := filepath.Join("..", "..", "testdata")
	catalog, err := templates.Load(context.Background(), filepath.Join(testdata, "templates"), nil)
	require.NoError(t, err)
	classifier, err := screen.NewClassifier(catalog)
	require.NoError(t, err)

	screens := map[string]*image.RGBA{}
	for name, file := range map[string]string{
		"main":    "main_menu.png",
		"battle":  "battle_screen.png",
		"reward":  "reward_popup.png",
		"unknown": "unknown.png",
	} {
		screens[name] = devicetest.MustLoadFrame(t, filepath.Join(testdata, "screens", file))
	}
	return classifier, screens
}

func TestWaitForStateDismissesPopups(t *testing.T) {
	classifier, screens := startupFixture(t)
	sim := devicetest.NewSim(screens, "reward", func(current string, a actions.Action) string {
		if current == "reward" && a.Kind == actions.KindTap && a.X == 80 && a.Y == 60 {
			return "main"
		}
		return ""
	})

	cfg := fastConfig()
	cfg.Ignorable = []actions.Ignorable{{State: "RewardPopup", Action: actions.TapMatch()}}

	state, err := NewLauncher(&fakeBridge{}, cfg).WaitForState(context.Background(), sim, sim, classifier)
	require.NoError(t, err)
	assert.Equal(t, "MainMenu", state.Name)
	assert.Equal(t, []actions.Action{actions.Tap(80, 60)}, sim.Sent())
}

func TestWaitForStateTapsUnknownScreens(t *testing.T) {
	classifier, screens := startupFixture(t)
	sim := devicetest.NewSim(screens, "unknown", func(current string, a actions.Action) string {
		if current == "unknown" {
			return "main"
		}
		return ""
	})

	cfg := fastConfig()
	tap := actions.Tap(5, 5)
	cfg.DismissTap = &tap

	state, err := NewLauncher(&fakeBridge{}, cfg).WaitForState(context.Background(), sim, sim, classifier)
	require.NoError(t, err)
	assert.Equal(t, "MainMenu", state.Name)
	assert.Equal(t, []actions.Action{tap}, sim.Sent())
}

func TestWaitForStateTimesOut(t *testing.T) {
	classifier, screens := startupFixture(t)
	sim := devicetest.NewSim(screens, "battle", nil)

	cfg := fastConfig()
	cfg.StartupTimeout = 20 * time.Millisecond

	state, err := NewLauncher(&fakeBridge{}, cfg).WaitForState(context.Background(), sim, sim, classifier)
	assert.ErrorIs(t, err, ErrStartupTimeout)
	assert.Equal(t, "BattleScreen", state.Name)
	assert.Empty(t, sim.Sent(), "known screens that are not ignorable are left alone")
}

func TestWaitForStateDeviceLost(t *testing.T) {
	classifier, _ := startupFixture(t)
	capture := devicetest.NewScriptedCapturer(devicetest.Shot{Err: device.ErrDeviceUnavailable})

	_, err := NewLauncher(&fakeBridge{}, fastConfig()).WaitForState(context.Background(), capture, &devicetest.Recorder{}, classifier)
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)
}
