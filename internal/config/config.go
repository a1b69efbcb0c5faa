package config

import (
	"fmt"
	"time"
)

// Config is the complete bot configuration
type Config struct {
	Device   DeviceConfig   `mapstructure:"device" yaml:"device"`
	Emulator EmulatorConfig `mapstructure:"emulator" yaml:"emulator"`
	Game     GameConfig     `mapstructure:"game" yaml:"game"`
	Runner   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Tasks    TasksConfig    `mapstructure:"tasks" yaml:"tasks"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// DeviceConfig describes the device endpoint and its bridge
type DeviceConfig struct {
	// BridgePath is the adb executable; empty means search the usual places
	BridgePath      string        `mapstructure:"bridge_path" yaml:"bridge_path"`
	Serial          string        `mapstructure:"serial" yaml:"serial"`
	Width           int           `mapstructure:"width" yaml:"width"`
	Height          int           `mapstructure:"height" yaml:"height"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	CaptureTimeout  time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
	CaptureInterval time.Duration `mapstructure:"capture_interval" yaml:"capture_interval"`
	GestureTimeout  time.Duration `mapstructure:"gesture_timeout" yaml:"gesture_timeout"`
}

// EmulatorConfig controls starting the emulator and waiting for it
type EmulatorConfig struct {
	// Command launches the emulator; empty means it is already running
	Command      string        `mapstructure:"command" yaml:"command"`
	Args         []string      `mapstructure:"args" yaml:"args"`
	Connect      bool          `mapstructure:"connect" yaml:"connect"`
	// MEmuConsole is the path to memuc.exe. When set it supplies Command,
	// Args and the device serial for instance MEmuIndex.
	MEmuConsole  string        `mapstructure:"memu_console" yaml:"memu_console"`
	MEmuIndex    int           `mapstructure:"memu_index" yaml:"memu_index"`
	BootTimeout  time.Duration `mapstructure:"boot_timeout" yaml:"boot_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// GameConfig controls launching the game and recognizing it is ready
type GameConfig struct {
	Launch         bool          `mapstructure:"launch" yaml:"launch"`
	Package        string        `mapstructure:"package" yaml:"package"`
	Activities     []string      `mapstructure:"activities" yaml:"activities"`
	InitialState   string        `mapstructure:"initial_state" yaml:"initial_state"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	// DismissTap is tapped while waiting on unrecognized startup screens
	DismissTap *Point `mapstructure:"dismiss_tap" yaml:"dismiss_tap"`
}

// RunnerConfig tunes the task control loop
type RunnerConfig struct {
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	VerifyRetries     int           `mapstructure:"verify_retries" yaml:"verify_retries"`
	VerifyTimeout     time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	HistorySize       int           `mapstructure:"history_size" yaml:"history_size"`
	MismatchTolerance int           `mapstructure:"mismatch_tolerance" yaml:"mismatch_tolerance"`
	MaxDismissals     int           `mapstructure:"max_dismissals" yaml:"max_dismissals"`
	MaxRecoveries     int           `mapstructure:"max_recoveries" yaml:"max_recoveries"`
	DebugDir          string        `mapstructure:"debug_dir" yaml:"debug_dir"`
}

// RecoveryConfig lists the generic recovery strategies
type RecoveryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Settle      time.Duration `mapstructure:"settle" yaml:"settle"`
	BackKey     string        `mapstructure:"back_key" yaml:"back_key"`
	NeutralTap  Point         `mapstructure:"neutral_tap" yaml:"neutral_tap"`
	ExtraTaps   []NamedPoint  `mapstructure:"extra_taps" yaml:"extra_taps"`
}

// Point is a screen coordinate
type Point struct {
	X int `mapstructure:"x" yaml:"x"`
	Y int `mapstructure:"y" yaml:"y"`
}

// NamedPoint is a labelled screen coordinate
type NamedPoint struct {
	Name string `mapstructure:"name" yaml:"name"`
	X    int    `mapstructure:"x" yaml:"x"`
	Y    int    `mapstructure:"y" yaml:"y"`
}

// CatalogConfig locates the template catalog
type CatalogConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// TasksConfig locates task definitions and names the default list
type TasksConfig struct {
	Dir     string   `mapstructure:"dir" yaml:"dir"`
	Default []string `mapstructure:"default" yaml:"default"`
}

// StoreConfig locates the run history database
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// ConfigError reports an unusable configuration value. It is fatal at
// startup.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
