// Package devicetest provides scripted Capture and Input channels for
// exercising the engine without an emulator.
package devicetest

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/cv"
	"jordanella.com/evertale-go/internal/device"
)

// LoadFrame decodes a PNG fixture
func LoadFrame(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cv.ToRGBA(img), nil
}

// MustLoadFrame is LoadFrame for tests
func MustLoadFrame(t testing.TB, path string) *image.RGBA {
	t.Helper()
	img, err := LoadFrame(path)
	if err != nil {
		t.Fatalf("failed to load frame: %v", err)
	}
	return img
}

// Shot is one scripted capture result: a frame or an error
type Shot struct {
	Frame *image.RGBA
	Err   error
}

// Frames turns images into shots
func Frames(imgs ...*image.RGBA) []Shot {
	shots := make([]Shot, len(imgs))
	for i, img := range imgs {
		shots[i] = Shot{Frame: img}
	}
	return shots
}

// ScriptedCapturer replays shots in order and repeats the last one once
// the script is exhausted.
type ScriptedCapturer struct {
	mu    sync.Mutex
	shots []Shot
	next  int
	calls int
}

// NewScriptedCapturer creates a capturer over shots
func NewScriptedCapturer(shots ...Shot) *ScriptedCapturer {
	return &ScriptedCapturer{shots: shots}
}

// Capture implements device.Capturer
func (s *ScriptedCapturer) Capture(ctx context.Context) (*device.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.shots) == 0 {
		return nil, device.ErrDeviceUnavailable
	}

	s.calls++
	shot := s.shots[s.next]
	if s.next < len(s.shots)-1 {
		s.next++
	}
	if shot.Err != nil {
		return nil, shot.Err
	}
	return &device.Screenshot{Image: shot.Frame, CapturedAt: time.Now()}, nil
}

// Calls returns how many captures were made
func (s *ScriptedCapturer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Recorder is an Inputer that records every action it receives.
// Fail, when set, decides the error for each send.
type Recorder struct {
	mu   sync.Mutex
	sent []actions.Action
	Fail func(actions.Action) error
}

// Send implements device.Inputer
func (r *Recorder) Send(ctx context.Context, action actions.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, action)
	if r.Fail != nil {
		return r.Fail(action)
	}
	return nil
}

// Sent returns a copy of the recorded actions
func (r *Recorder) Sent() []actions.Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]actions.Action, len(r.sent))
	copy(out, r.sent)
	return out
}

// Count returns how many recorded actions have the given kind
func (r *Recorder) Count(kind actions.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range r.sent {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Sim is a small screen simulator: it shows one named screen at a time and
// React decides which screen an action leads to.
type Sim struct {
	mu       sync.Mutex
	screens  map[string]*image.RGBA
	current  string
	react    func(current string, action actions.Action) string
	sent     []actions.Action
	captures int
}

// NewSim creates a simulator showing start. react returns the next screen
// name, or "" to stay on the current one.
func NewSim(screens map[string]*image.RGBA, start string, react func(string, actions.Action) string) *Sim {
	return &Sim{screens: screens, current: start, react: react}
}

// Capture implements device.Capturer
func (s *Sim) Capture(ctx context.Context) (*device.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.captures++
	frame, ok := s.screens[s.current]
	if !ok {
		return nil, fmt.Errorf("%w: no screen named %q", device.ErrBadFrame, s.current)
	}
	return &device.Screenshot{Image: frame, CapturedAt: time.Now()}, nil
}

// Send implements device.Inputer
func (s *Sim) Send(ctx context.Context, action actions.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, action)
	if s.react != nil {
		if next := s.react(s.current, action); next != "" {
			s.current = next
		}
	}
	return nil
}

// Current returns the screen being shown
func (s *Sim) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Sent returns a copy of the actions received
func (s *Sim) Sent() []actions.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]actions.Action, len(s.sent))
	copy(out, s.sent)
	return out
}

// Captures returns how many frames were taken
func (s *Sim) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}
