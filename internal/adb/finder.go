package adb

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

var (
	// ErrNotFound is returned when no adb executable can be located
	ErrNotFound = errors.New("adb executable not found")
	// ErrNotExecutable is returned when the configured path is not a runnable file
	ErrNotExecutable = errors.New("adb path is not an executable file")
)

// ValidatePath checks that path names an existing, executable regular file
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrNotFound)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrNotExecutable, path)
	}
	// Windows has no exec bit; the .exe suffix is what matters there
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s", ErrNotExecutable, path)
	}
	return nil
}

// FindADB attempts to locate the adb executable. An explicit path is
// validated and returned as-is; otherwise the SDK location from
// ANDROID_HOME, common install paths and PATH are searched in turn.
func FindADB(preferredPath string) (string, error) {
	if preferredPath != "" {
		if err := ValidatePath(preferredPath); err != nil {
			return "", err
		}
		return preferredPath, nil
	}

	name := "adb"
	if runtime.GOOS == "windows" {
		name = "adb.exe"
	}

	var candidates []string
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if root := os.Getenv(env); root != "" {
			candidates = append(candidates, filepath.Join(root, "platform-tools", name))
		}
	}
	if runtime.GOOS == "windows" {
		candidates = append(candidates,
			`C:\Program Files\Netease\MuMuPlayer-12.0\shell\adb.exe`,
			`C:\Program Files\BlueStacks_nxt\HD-Adb.exe`,
			`C:\Android\sdk\platform-tools\adb.exe`,
		)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, "Android", "Sdk", "platform-tools", "adb"))
		}
		candidates = append(candidates, "/usr/bin/adb", "/usr/local/bin/adb")
	}

	for _, path := range candidates {
		if ValidatePath(path) == nil {
			return path, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w, please specify device.bridge_path in config", ErrNotFound)
}
