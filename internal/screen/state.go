package screen

import (
	"fmt"
	"image"
	"time"
)

// Unknown is the state reported when no template clears its threshold
const Unknown = "Unknown"

// State is what one screenshot was recognized as. It is derived from a
// single capture and never carried over to the next one.
type State struct {
	Name       string
	Score      float64
	Box        image.Rectangle
	Template   string
	CapturedAt time.Time

	// Ambiguous lists other templates that also cleared their thresholds
	// but lost on priority.
	Ambiguous []Candidate
}

// Candidate is a template that matched above its threshold
type Candidate struct {
	Template string
	State    string
	Score    float64
}

// UnknownState returns the Unknown state with score 0
func UnknownState(at time.Time) State {
	return State{Name: Unknown, CapturedAt: at}
}

// Known reports whether any template was recognized
func (s State) Known() bool {
	return s.Name != "" && s.Name != Unknown
}

// Center returns the middle of the matched box
func (s State) Center() (image.Point, bool) {
	if s.Box.Empty() {
		return image.Point{}, false
	}
	return image.Point{
		X: (s.Box.Min.X + s.Box.Max.X) / 2,
		Y: (s.Box.Min.Y + s.Box.Max.Y) / 2,
	}, true
}

func (s State) String() string {
	if !s.Known() {
		return Unknown
	}
	return fmt.Sprintf("%s(%.3f)", s.Name, s.Score)
}
