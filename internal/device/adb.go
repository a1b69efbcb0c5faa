package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/adb"
	"jordanella.com/evertale-go/internal/cv"
)

// Bridge is the subset of the adb controller the channels need
type Bridge interface {
	Screencap(ctx context.Context) ([]byte, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	KeyEvent(ctx context.Context, key string) error
	WindowSize(ctx context.Context) (width, height int, err error)
}

// ADB implements Capturer and Inputer over a device bridge
type ADB struct {
	bridge  Bridge
	ep      Endpoint
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time

	mu         sync.Mutex
	bounds     image.Rectangle
	configured bool
}

// Option configures an ADB channel pair
type Option func(*ADB)

// WithLogger sets the channel logger
func WithLogger(l *zap.Logger) Option {
	return func(d *ADB) {
		d.logger = l
	}
}

// WithClock replaces the capture timestamp source
func WithClock(now func() time.Time) Option {
	return func(d *ADB) {
		d.now = now
	}
}

// NewADB creates the channels for the device described by ep
func NewADB(bridge Bridge, ep Endpoint, opts ...Option) *ADB {
	defaults := DefaultEndpoint(ep.BridgePath)
	if ep.CaptureTimeout <= 0 {
		ep.CaptureTimeout = defaults.CaptureTimeout
	}
	if ep.GestureTimeout <= 0 {
		ep.GestureTimeout = defaults.GestureTimeout
	}

	limit := rate.Inf
	if ep.CaptureInterval > 0 {
		limit = rate.Every(ep.CaptureInterval)
	}

	d := &ADB{
		bridge:  bridge,
		ep:      ep,
		limiter: rate.NewLimiter(limit, 1),
		logger:  zap.NewNop(),
		now:     time.Now,
		bounds:  ep.Bounds(),
	}
	d.configured = !d.bounds.Empty()

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Capture returns the current frame. Calls closer together than the
// endpoint's capture interval block until the interval has passed.
func (d *ADB) Capture(ctx context.Context) (*Screenshot, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: capture throttled past deadline", ErrTimeout)
	}

	cctx, cancel := context.WithTimeout(ctx, d.ep.CaptureTimeout)
	defer cancel()

	data, err := d.bridge.Screencap(cctx)
	if err != nil {
		return nil, d.captureError(ctx, err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	rgba := cv.ToRGBA(img)
	d.noteFrame(rgba.Bounds())

	return &Screenshot{Image: rgba, CapturedAt: d.now()}, nil
}

func (d *ADB) captureError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, adb.ErrBridgeUnavailable):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		// deadline hit or the command exited without a frame
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
}

// Send issues one action. Gestures run on a detached context with their
// own deadline so cancellation never interrupts one halfway.
func (d *ADB) Send(ctx context.Context, action actions.Action) error {
	switch action.Kind {
	case actions.KindDone:
		return nil
	case actions.KindWait:
		return sleep(ctx, action.Duration)
	case actions.KindTap, actions.KindSwipe, actions.KindKey:
	default:
		return fmt.Errorf("unsupported action %s", action)
	}

	if action.IsGesture() {
		if action.AtMatch {
			return fmt.Errorf("%w: tap on match was not resolved to a point", ErrInvalidCoordinates)
		}
		if err := d.checkBounds(ctx, action); err != nil {
			return err
		}
	}

	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.ep.GestureTimeout)
	defer cancel()

	var err error
	switch action.Kind {
	case actions.KindTap:
		err = d.bridge.Tap(gctx, action.X, action.Y)
	case actions.KindSwipe:
		err = d.bridge.Swipe(gctx, action.X, action.Y, action.X2, action.Y2, action.Duration)
	case actions.KindKey:
		err = d.bridge.KeyEvent(gctx, action.Key)
	}

	if err != nil {
		if errors.Is(err, adb.ErrBridgeUnavailable) {
			return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("send %s: %w", action, err)
	}

	d.logger.Debug("input sent", zap.Stringer("action", action))
	return nil
}

func (d *ADB) checkBounds(ctx context.Context, action actions.Action) error {
	bounds, err := d.Bounds(ctx)
	if err != nil {
		return err
	}

	points := []image.Point{{X: action.X, Y: action.Y}}
	if action.Kind == actions.KindSwipe {
		points = append(points, image.Point{X: action.X2, Y: action.Y2})
	}
	for _, p := range points {
		if !p.In(bounds) {
			return fmt.Errorf("%w: %v not in %v", ErrInvalidCoordinates, p, bounds)
		}
	}
	return nil
}

// Bounds returns the addressable screen rectangle. Configured bounds win,
// then the size of the latest frame, then the window manager's report.
func (d *ADB) Bounds(ctx context.Context) (image.Rectangle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.bounds.Empty() {
		return d.bounds, nil
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.ep.GestureTimeout)
	defer cancel()

	w, h, err := d.bridge.WindowSize(wctx)
	if err != nil {
		if errors.Is(err, adb.ErrBridgeUnavailable) {
			return image.Rectangle{}, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return image.Rectangle{}, fmt.Errorf("failed to discover screen size: %w", err)
	}

	d.bounds = image.Rect(0, 0, w, h)
	d.logger.Info("screen size discovered", zap.Int("width", w), zap.Int("height", h))
	return d.bounds, nil
}

func (d *ADB) noteFrame(r image.Rectangle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.configured {
		d.bounds = r
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
