package screen

import "time"

// Observation is one entry in the state history: what was seen and what
// the task expected at that moment.
type Observation struct {
	State    string
	Expected string
	Score    float64
	At       time.Time
}

// Mismatched reports whether the observation failed to show the expected state
func (o Observation) Mismatched() bool {
	return o.State == Unknown || o.State != o.Expected
}

// History is a fixed-size ring of recent observations
type History struct {
	entries []Observation
	size    int
	next    int
	full    bool
}

// NewHistory creates a history holding the last size observations
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{
		entries: make([]Observation, size),
		size:    size,
	}
}

// Observe records a classified state against the expected one
func (h *History) Observe(s State, expected string) {
	name := s.Name
	if name == "" {
		name = Unknown
	}
	h.Add(Observation{State: name, Expected: expected, Score: s.Score, At: s.CapturedAt})
}

// Add records an observation, evicting the oldest when full
func (h *History) Add(o Observation) {
	h.entries[h.next] = o
	h.next = (h.next + 1) % h.size
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of observations held
func (h *History) Len() int {
	if h.full {
		return h.size
	}
	return h.next
}

// Cap returns the window size
func (h *History) Cap() int {
	return h.size
}

// Recent returns up to n observations, newest first
func (h *History) Recent(n int) []Observation {
	if n > h.Len() {
		n = h.Len()
	}
	out := make([]Observation, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, h.entries[(h.next-i+h.size)%h.size])
	}
	return out
}

// Last returns the newest observation
func (h *History) Last() (Observation, bool) {
	recent := h.Recent(1)
	if len(recent) == 0 {
		return Observation{}, false
	}
	return recent[0], true
}

// Snapshot returns every held observation, oldest first
func (h *History) Snapshot() []Observation {
	recent := h.Recent(h.Len())
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

// Stuck reports the frozen-screen condition: the window is full, every
// entry shows the same state, and none of them is the state expected.
func (h *History) Stuck() bool {
	if !h.full {
		return false
	}
	first := h.entries[0].State
	for _, o := range h.entries {
		if o.State != first || !o.Mismatched() {
			return false
		}
	}
	return true
}

// Reset forgets every observation
func (h *History) Reset() {
	h.next = 0
	h.full = false
}
