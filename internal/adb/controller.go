package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrBridgeUnavailable is returned when the adb executable cannot be run
	// or reports that the target device is missing or offline.
	ErrBridgeUnavailable = errors.New("adb: device bridge unavailable")
	// ErrCommandTimeout is returned when an adb invocation exceeds its deadline.
	ErrCommandTimeout = errors.New("adb: command timed out")
)

// CommandRunner executes the bridge binary and returns its stdout.
// Stderr is folded into the returned error on failure.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner is the CommandRunner backed by os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Controller drives a single device through the adb executable.
type Controller struct {
	path    string
	serial  string
	timeout time.Duration
	run     CommandRunner
	logger  *zap.Logger
	mu      sync.Mutex
}

// Option configures a Controller
type Option func(*Controller)

// WithTimeout bounds every adb invocation
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRunner replaces the process runner (used by tests)
func WithRunner(r CommandRunner) Option {
	return func(c *Controller) {
		c.run = r
	}
}

// WithLogger sets the controller logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// NewController creates a controller for the device with the given serial.
// An empty serial targets the only attached device.
func NewController(adbPath, serial string, opts ...Option) *Controller {
	c := &Controller{
		path:    adbPath,
		serial:  serial,
		timeout: 10 * time.Second,
		run:     ExecRunner,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect attaches a network device ("host:port" serials). USB and emulator
// serials are attached by the adb server on their own, so this is a no-op for them.
func (c *Controller) Connect(ctx context.Context) error {
	if !strings.Contains(c.serial, ":") {
		return nil
	}

	output, err := c.exec(ctx, "connect", c.serial)
	if err != nil {
		return fmt.Errorf("failed to connect to device %s: %w", c.serial, err)
	}

	out := string(output)
	if !strings.Contains(out, "connected") {
		return fmt.Errorf("%w: unexpected connect output: %s", ErrBridgeUnavailable, strings.TrimSpace(out))
	}
	return nil
}

// Devices returns the adb device table as serial -> state ("device", "offline", ...)
func (c *Controller) Devices(ctx context.Context) (map[string]string, error) {
	output, err := c.exec(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(string(output)), nil
}

// IsOnline reports whether the target device is listed in the "device" state
func (c *Controller) IsOnline(ctx context.Context) (bool, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return false, err
	}
	if c.serial == "" {
		for _, state := range devices {
			if state == "device" {
				return true, nil
			}
		}
		return false, nil
	}
	return devices[c.serial] == "device", nil
}

// exec runs adb with the controller's deadline and maps failures onto the
// package sentinels.
func (c *Controller) exec(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("adb", zap.Strings("args", args))
	output, err := c.run(ctx, c.path, args...)
	if err == nil {
		return output, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: adb %s", ErrCommandTimeout, strings.Join(args, " "))
	case errors.Is(err, exec.ErrNotFound), isStartFailure(err), mentionsMissingDevice(err.Error()):
		return nil, fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	default:
		return nil, fmt.Errorf("adb %s failed: %w", strings.Join(args, " "), err)
	}
}

// device prefixes args with the -s selector when a serial is configured
func (c *Controller) device(args ...string) []string {
	if c.serial == "" {
		return args
	}
	return append([]string{"-s", c.serial}, args...)
}

func parseDevices(output string) map[string]string {
	devices := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			devices[parts[0]] = parts[1]
		}
	}
	return devices
}

// isStartFailure reports whether the process never ran (missing or
// non-executable binary), as opposed to exiting with a status.
func isStartFailure(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

func mentionsMissingDevice(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "device offline") ||
		strings.Contains(msg, "no devices/emulators found") ||
		(strings.Contains(msg, "device") && strings.Contains(msg, "not found")) ||
		strings.Contains(msg, "device unauthorized")
}
