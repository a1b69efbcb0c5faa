package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// LoadFromINI loads a flat Settings.ini file over the defaults. Only the
// device, game and pacing keys are read; everything else keeps its
// default. Durations in the file are milliseconds except waitTime and
// bootTimeout, which are seconds.
func LoadFromINI(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, &ConfigError{Field: "file", Reason: "failed to load config file", Err: err}
	}

	config := NewDefaultConfig()
	section := file.Section("UserSettings")

	// Device
	config.Device.BridgePath = section.Key("adbPath").MustString(config.Device.BridgePath)
	config.Device.Serial = section.Key("serial").MustString(config.Device.Serial)
	config.Device.Width = section.Key("windowWidth").MustInt(config.Device.Width)
	config.Device.Height = section.Key("windowHeight").MustInt(config.Device.Height)

	// Emulator
	config.Emulator.Command = section.Key("emulatorCommand").MustString(config.Emulator.Command)
	if args := section.Key("emulatorArgs").MustString(""); args != "" {
		config.Emulator.Args = strings.Fields(args)
	}
	config.Emulator.BootTimeout = seconds(section.Key("bootTimeout"), config.Emulator.BootTimeout)

	// Game
	config.Game.Launch = section.Key("launchGame").MustBool(config.Game.Launch)
	config.Game.Package = section.Key("package").MustString(config.Game.Package)
	config.Game.InitialState = section.Key("initialState").MustString(config.Game.InitialState)

	// Performance
	config.Runner.SettleDelay = millis(section.Key("Delay"), config.Runner.SettleDelay)
	config.Runner.VerifyTimeout = seconds(section.Key("waitTime"), config.Runner.VerifyTimeout)
	config.Runner.VerifyRetries = section.Key("verifyRetries").MustInt(config.Runner.VerifyRetries)
	config.Runner.MismatchTolerance = section.Key("mismatchTolerance").MustInt(config.Runner.MismatchTolerance)
	config.Recovery.MaxAttempts = section.Key("recoveryAttempts").MustInt(config.Recovery.MaxAttempts)

	// Files
	config.Catalog.Dir = section.Key("templatesDir").MustString(config.Catalog.Dir)
	config.Tasks.Dir = section.Key("tasksDir").MustString(config.Tasks.Dir)
	if tasks := section.Key("tasks").MustString(""); tasks != "" {
		config.Tasks.Default = splitList(tasks)
	}

	// Debug
	if section.Key("debugMode").MustBool(false) {
		config.Log.Level = "debug"
	}
	config.Log.Level = strings.ToLower(section.Key("logLevel").MustString(config.Log.Level))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveToINI writes the keys LoadFromINI understands
func SaveToINI(config *Config, path string) error {
	file := ini.Empty()
	section, err := file.NewSection("UserSettings")
	if err != nil {
		return fmt.Errorf("failed to create section: %w", err)
	}

	set := func(key, value string) {
		section.Key(key).SetValue(value)
	}

	set("adbPath", config.Device.BridgePath)
	set("serial", config.Device.Serial)
	set("windowWidth", fmt.Sprint(config.Device.Width))
	set("windowHeight", fmt.Sprint(config.Device.Height))
	set("emulatorCommand", config.Emulator.Command)
	set("emulatorArgs", strings.Join(config.Emulator.Args, " "))
	set("bootTimeout", fmt.Sprint(int(config.Emulator.BootTimeout/time.Second)))
	set("launchGame", fmt.Sprint(config.Game.Launch))
	set("package", config.Game.Package)
	set("initialState", config.Game.InitialState)
	set("Delay", fmt.Sprint(config.Runner.SettleDelay.Milliseconds()))
	set("waitTime", fmt.Sprint(int(config.Runner.VerifyTimeout/time.Second)))
	set("verifyRetries", fmt.Sprint(config.Runner.VerifyRetries))
	set("mismatchTolerance", fmt.Sprint(config.Runner.MismatchTolerance))
	set("recoveryAttempts", fmt.Sprint(config.Recovery.MaxAttempts))
	set("templatesDir", config.Catalog.Dir)
	set("tasksDir", config.Tasks.Dir)
	set("tasks", strings.Join(config.Tasks.Default, ","))
	set("logLevel", config.Log.Level)

	if err := file.SaveTo(path); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func millis(key *ini.Key, def time.Duration) time.Duration {
	return time.Duration(key.MustInt(int(def.Milliseconds()))) * time.Millisecond
}

func seconds(key *ini.Key, def time.Duration) time.Duration {
	return time.Duration(key.MustInt(int(def/time.Second))) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
