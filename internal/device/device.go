// Package device exposes the emulated device as two channels: a Capturer
// that returns screenshots and an Inputer that sends synthetic input.
package device

import (
	"context"
	"errors"
	"image"
	"time"

	"jordanella.com/evertale-go/internal/actions"
)

var (
	// ErrDeviceUnavailable means the bridge or emulator cannot be reached.
	// It is fatal for the current task.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrTimeout means no frame arrived within the capture deadline
	ErrTimeout = errors.New("device timed out")
	// ErrInvalidCoordinates means a gesture targets a point off screen
	ErrInvalidCoordinates = errors.New("coordinates outside screen bounds")
	// ErrBadFrame means the device answered with bytes that are not an image
	ErrBadFrame = errors.New("undecodable frame")
)

// Screenshot is an immutable captured frame
type Screenshot struct {
	Image      *image.RGBA
	CapturedAt time.Time
}

// Bounds returns the frame rectangle
func (s *Screenshot) Bounds() image.Rectangle {
	return s.Image.Bounds()
}

// Capturer obtains a screenshot on demand
type Capturer interface {
	Capture(ctx context.Context) (*Screenshot, error)
}

// Inputer issues one action to the device. Sends are not idempotent, so a
// failed send must not be repeated before the screen is re-checked.
type Inputer interface {
	Send(ctx context.Context, action actions.Action) error
}

// Endpoint describes how to reach one device. It is passed to constructors
// rather than read from globals so several devices can be driven side by side.
type Endpoint struct {
	BridgePath string
	Serial     string

	// Width and Height bound input coordinates. Zero means discover them
	// from captured frames or the window manager.
	Width  int
	Height int

	CommandTimeout  time.Duration
	CaptureTimeout  time.Duration
	CaptureInterval time.Duration
	GestureTimeout  time.Duration
}

// DefaultEndpoint returns an endpoint for the only attached device
func DefaultEndpoint(bridgePath string) Endpoint {
	return Endpoint{
		BridgePath:      bridgePath,
		CommandTimeout:  10 * time.Second,
		CaptureTimeout:  5 * time.Second,
		CaptureInterval: 250 * time.Millisecond,
		GestureTimeout:  5 * time.Second,
	}
}

// Bounds returns the configured screen rectangle, empty when unset
func (e Endpoint) Bounds() image.Rectangle {
	if e.Width <= 0 || e.Height <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(0, 0, e.Width, e.Height)
}
