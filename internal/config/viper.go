package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"jordanella.com/evertale-go/internal/adb"
)

// EnvPrefix prefixes environment overrides, e.g. EVERTALE_DEVICE_SERIAL
const EnvPrefix = "EVERTALE"

// DefaultPackage is the game's Android package
const DefaultPackage = "com.zigzagame.evertale"

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	// -- Device --
	v.SetDefault("device.bridge_path", "")
	v.SetDefault("device.serial", "")
	v.SetDefault("device.width", 0)
	v.SetDefault("device.height", 0)
	v.SetDefault("device.command_timeout", "10s")
	v.SetDefault("device.capture_timeout", "5s")
	v.SetDefault("device.capture_interval", "250ms")
	v.SetDefault("device.gesture_timeout", "5s")

	// -- Emulator --
	v.SetDefault("emulator.command", "")
	v.SetDefault("emulator.args", []string{})
	v.SetDefault("emulator.connect", false)
	v.SetDefault("emulator.memu_console", "")
	v.SetDefault("emulator.memu_index", 0)
	v.SetDefault("emulator.boot_timeout", "120s")
	v.SetDefault("emulator.poll_interval", "5s")

	// -- Game --
	v.SetDefault("game.launch", true)
	v.SetDefault("game.package", DefaultPackage)
	v.SetDefault("game.activities", []string{
		"com.unity3d.player.UnityPlayerActivity",
		"com.unity3d.player.UnityPlayerNativeActivity",
		".UnityPlayerActivity",
		".MainActivity",
		".SplashActivity",
	})
	v.SetDefault("game.initial_state", "MainMenu")
	v.SetDefault("game.startup_timeout", "120s")
	v.SetDefault("game.launch_timeout", "45s")

	// -- Runner --
	v.SetDefault("runner.settle_delay", "1500ms")
	v.SetDefault("runner.verify_retries", 3)
	v.SetDefault("runner.verify_timeout", "10s")
	v.SetDefault("runner.task_timeout", "5m")
	v.SetDefault("runner.history_size", 8)
	v.SetDefault("runner.mismatch_tolerance", 3)
	v.SetDefault("runner.max_dismissals", 5)
	v.SetDefault("runner.max_recoveries", 3)
	v.SetDefault("runner.debug_dir", "debug")

	// -- Recovery --
	v.SetDefault("recovery.max_attempts", 3)
	v.SetDefault("recovery.settle", "1s")
	v.SetDefault("recovery.back_key", "KEYCODE_BACK")
	v.SetDefault("recovery.neutral_tap.x", 10)
	v.SetDefault("recovery.neutral_tap.y", 10)

	// -- Files --
	v.SetDefault("catalog.dir", "assets/templates")
	v.SetDefault("tasks.dir", "assets/tasks")
	v.SetDefault("tasks.default", []string{})
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", "data/evertale.db")

	// -- Log --
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", true)

	// -- Metrics --
	v.SetDefault("metrics.addr", "")
}

// NewDefaultConfig returns a configuration holding only the defaults
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewViper returns a viper instance with defaults and environment
// overrides wired up
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML file at path over the defaults. An empty path
// searches ./evertale.yaml and ./configs/evertale.yaml and falls back to
// defaults when neither exists.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("evertale")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, &ConfigError{Field: "file", Reason: "cannot read configuration", Err: err}
		}
	}
	return NewConfigFromViper(v)
}

// NewConfigFromViper decodes and validates the configuration held by v
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Field: "file", Reason: "cannot decode configuration", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	positive := []struct {
		field string
		value time.Duration
	}{
		{"device.command_timeout", c.Device.CommandTimeout},
		{"device.capture_timeout", c.Device.CaptureTimeout},
		{"device.gesture_timeout", c.Device.GestureTimeout},
		{"runner.verify_timeout", c.Runner.VerifyTimeout},
		{"runner.task_timeout", c.Runner.TaskTimeout},
		{"game.startup_timeout", c.Game.StartupTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return invalid(p.field, "must be a positive duration, got %s", p.value)
		}
	}

	switch {
	case c.Device.Width < 0 || c.Device.Height < 0:
		return invalid("device.width", "screen size cannot be negative")
	case (c.Device.Width == 0) != (c.Device.Height == 0):
		return invalid("device.height", "width and height must be set together")
	case c.Device.CaptureInterval < 0:
		return invalid("device.capture_interval", "cannot be negative")
	case c.Emulator.MEmuIndex < 0:
		return invalid("emulator.memu_index", "cannot be negative")
	case c.Emulator.BootTimeout <= 0:
		return invalid("emulator.boot_timeout", "must be a positive duration")
	case c.Runner.SettleDelay < 0:
		return invalid("runner.settle_delay", "cannot be negative")
	case c.Runner.VerifyRetries < 1:
		return invalid("runner.verify_retries", "must be at least 1")
	case c.Runner.HistorySize < 1:
		return invalid("runner.history_size", "must be at least 1")
	case c.Runner.MismatchTolerance < 0:
		return invalid("runner.mismatch_tolerance", "cannot be negative")
	case c.Runner.MaxDismissals < 0:
		return invalid("runner.max_dismissals", "cannot be negative")
	case c.Runner.MaxRecoveries < 0:
		return invalid("runner.max_recoveries", "cannot be negative")
	case c.Recovery.MaxAttempts < 1:
		return invalid("recovery.max_attempts", "must be at least 1")
	case c.Recovery.BackKey == "":
		return invalid("recovery.back_key", "is required")
	case c.Game.Launch && c.Game.Package == "":
		return invalid("game.package", "is required when game.launch is set")
	case c.Game.InitialState == "":
		return invalid("game.initial_state", "is required")
	case c.Catalog.Dir == "":
		return invalid("catalog.dir", "is required")
	case c.Tasks.Dir == "":
		return invalid("tasks.dir", "is required")
	case c.Store.Enabled && c.Store.Path == "":
		return invalid("store.path", "is required when store.enabled is set")
	}

	if c.Recovery.NeutralTap.X < 0 || c.Recovery.NeutralTap.Y < 0 {
		return invalid("recovery.neutral_tap", "coordinates cannot be negative")
	}
	for i, tap := range c.Recovery.ExtraTaps {
		if tap.X < 0 || tap.Y < 0 {
			return invalid(fmt.Sprintf("recovery.extra_taps[%d]", i), "coordinates cannot be negative")
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return invalid("log.format", "unknown format %q", c.Log.Format)
	}
	return nil
}

// ResolveBridge fills in Device.BridgePath by searching for adb when it
// is unset, and checks an explicit path exists
func (c *Config) ResolveBridge() error {
	path, err := adb.FindADB(c.Device.BridgePath)
	if err != nil {
		return &ConfigError{Field: "device.bridge_path", Reason: "adb not found", Err: err}
	}
	c.Device.BridgePath = path
	return nil
}

// QualifiedActivities expands activity names that start with "." against the
// game package
func (g GameConfig) QualifiedActivities() []string {
	out := make([]string, 0, len(g.Activities))
	for _, a := range g.Activities {
		if strings.HasPrefix(a, ".") {
			a = g.Package + a
		}
		out = append(out, a)
	}
	return out
}
