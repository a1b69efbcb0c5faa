package actions

import (
	"fmt"
	"time"
)

// Kind tags the Action variant
type Kind int

// KindNone is the zero Kind. An empty Action does nothing and is never
// valid in a task.
const (
	KindNone Kind = iota
	KindTap
	KindSwipe
	KindWait
	KindKey
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTap:
		return "tap"
	case KindSwipe:
		return "swipe"
	case KindWait:
		return "wait"
	case KindKey:
		return "key"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Action is one synthetic input. Which fields matter depends on Kind:
// Tap uses X,Y; Swipe uses X,Y to X2,Y2 over Duration; Wait uses Duration;
// Key uses Key. Done carries nothing and is never sent to a device.
type Action struct {
	Kind     Kind
	X, Y     int
	X2, Y2   int
	Duration time.Duration
	Key      string

	// AtMatch marks a tap whose coordinates come from the matched
	// template's bounding box at decision time.
	AtMatch bool
}

// Tap returns a tap at (x, y)
func Tap(x, y int) Action {
	return Action{Kind: KindTap, X: x, Y: y}
}

// TapMatch returns a tap resolved against the recognized template's box
func TapMatch() Action {
	return Action{Kind: KindTap, AtMatch: true}
}

// Swipe returns a swipe from (x1, y1) to (x2, y2)
func Swipe(x1, y1, x2, y2 int, d time.Duration) Action {
	return Action{Kind: KindSwipe, X: x1, Y: y1, X2: x2, Y2: y2, Duration: d}
}

// Wait returns a pause of d
func Wait(d time.Duration) Action {
	return Action{Kind: KindWait, Duration: d}
}

// KeyPress returns a key event such as "KEYCODE_BACK"
func KeyPress(key string) Action {
	return Action{Kind: KindKey, Key: key}
}

// Done signals task completion
func Done() Action {
	return Action{Kind: KindDone}
}

// IsGesture reports whether the action touches the screen
func (a Action) IsGesture() bool {
	return a.Kind == KindTap || a.Kind == KindSwipe
}

// Validate checks the fields the action's kind depends on
func (a Action) Validate() error {
	switch a.Kind {
	case KindTap:
		if a.AtMatch {
			return nil
		}
		if a.X < 0 || a.Y < 0 {
			return fmt.Errorf("coordinates (x=%d, y=%d) must be non-negative", a.X, a.Y)
		}
	case KindSwipe:
		if a.X < 0 || a.Y < 0 || a.X2 < 0 || a.Y2 < 0 {
			return fmt.Errorf("coordinates (x1=%d, y1=%d, x2=%d, y2=%d) must be non-negative", a.X, a.Y, a.X2, a.Y2)
		}
		if a.Duration <= 0 {
			return fmt.Errorf("swipe duration (%v) must be greater than 0", a.Duration)
		}
	case KindWait:
		if a.Duration <= 0 {
			return fmt.Errorf("wait duration (%v) must be greater than 0", a.Duration)
		}
	case KindKey:
		if a.Key == "" {
			return fmt.Errorf("key cannot be empty")
		}
	case KindDone:
	case KindNone:
		return fmt.Errorf("action has no kind")
	default:
		return fmt.Errorf("unknown action kind %d", int(a.Kind))
	}
	return nil
}

func (a Action) String() string {
	switch a.Kind {
	case KindTap:
		if a.AtMatch {
			return "tap(match)"
		}
		return fmt.Sprintf("tap(%d,%d)", a.X, a.Y)
	case KindSwipe:
		return fmt.Sprintf("swipe(%d,%d->%d,%d,%v)", a.X, a.Y, a.X2, a.Y2, a.Duration)
	case KindWait:
		return fmt.Sprintf("wait(%v)", a.Duration)
	case KindKey:
		return fmt.Sprintf("key(%s)", a.Key)
	default:
		return a.Kind.String()
	}
}
