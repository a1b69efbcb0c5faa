package adb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Screencap returns the current display as PNG bytes, streamed over exec-out
// so nothing is written to device storage.
func (c *Controller) Screencap(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	output, err := c.exec(ctx, c.device("exec-out", "screencap", "-p")...)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("failed to capture screenshot: empty frame")
	}
	return output, nil
}

// Tap performs a tap at the specified device coordinates
func (c *Controller) Tap(ctx context.Context, x, y int) error {
	_, err := c.Shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

// Swipe performs a swipe gesture lasting the given duration
func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	_, err := c.Shell(ctx, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.FormatInt(duration.Milliseconds(), 10))
	return err
}

// KeyEvent sends a key event (e.g., "KEYCODE_BACK", "4")
func (c *Controller) KeyEvent(ctx context.Context, key string) error {
	_, err := c.Shell(ctx, "input", "keyevent", key)
	return err
}

// StartActivity starts an explicit activity component
func (c *Controller) StartActivity(ctx context.Context, packageName, activity string) error {
	output, err := c.Shell(ctx, "am", "start", "-n", packageName+"/"+activity)
	if err != nil {
		return err
	}
	if strings.Contains(output, "Error") {
		return fmt.Errorf("failed to start %s/%s: %s", packageName, activity, output)
	}
	return nil
}

// Monkey launches a package through its launcher intent
func (c *Controller) Monkey(ctx context.Context, packageName string) error {
	output, err := c.Shell(ctx, "monkey", "-p", packageName, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return err
	}
	if strings.Contains(output, "No activities found") {
		return fmt.Errorf("package %s has no launcher activity", packageName)
	}
	return nil
}

// BootCompleted reports whether Android finished booting
func (c *Controller) BootCompleted(ctx context.Context) (bool, error) {
	output, err := c.Shell(ctx, "getprop", "sys.boot_completed")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) == "1", nil
}

// IsAppRunning checks if an app is currently running
func (c *Controller) IsAppRunning(ctx context.Context, packageName string) (bool, error) {
	output, err := c.Shell(ctx, "pidof", packageName)
	if err != nil {
		return false, nil // pidof exits non-zero when nothing matches
	}
	return len(strings.TrimSpace(output)) > 0, nil
}

// Shell executes a shell command on the device and returns trimmed output
func (c *Controller) Shell(ctx context.Context, args ...string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	output, err := c.exec(ctx, c.device(append([]string{"shell"}, args...)...)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// WindowSize returns the current screen size, preferring an override size
// when one is set.
func (c *Controller) WindowSize(ctx context.Context) (width, height int, err error) {
	output, err := c.Shell(ctx, "wm", "size")
	if err != nil {
		return 0, 0, err
	}
	return parseWindowSize(output)
}

// parseWindowSize parses output like "Physical size: 1080x1920" with an
// optional "Override size: ..." line.
func parseWindowSize(output string) (int, int, error) {
	var w, h int
	found := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		var lw, lh int
		if _, err := fmt.Sscanf(line, "Override size: %dx%d", &lw, &lh); err == nil {
			return lw, lh, nil
		}
		if _, err := fmt.Sscanf(line, "Physical size: %dx%d", &lw, &lh); err == nil {
			w, h, found = lw, lh, true
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("failed to parse window size: %s", output)
	}
	return w, h, nil
}

// IsInstalled reports whether a package is installed on the device
func (c *Controller) IsInstalled(ctx context.Context, packageName string) (bool, error) {
	output, err := c.Shell(ctx, "pm", "list", "packages", packageName)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "package:"+packageName {
			return true, nil
		}
	}
	return false, nil
}
