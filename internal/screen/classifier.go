package screen

import (
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"jordanella.com/evertale-go/internal/cv"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/pkg/templates"
)

// Classifier maps a screenshot to a State using the template catalog.
// Templates are tried in catalog order and the first one above its
// threshold wins, whatever the scores of later ones.
type Classifier struct {
	entries    []*templates.Entry
	needsGray  bool
	firstMatch bool
	logger     *zap.Logger
	observe    func(State)
}

// ClassifierOption configures a Classifier
type ClassifierOption func(*Classifier)

// WithClassifierLogger sets the logger used for ambiguity reports
func WithClassifierLogger(l *zap.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.logger = l
	}
}

// WithFirstMatch stops at the winning template instead of scoring the
// rest for ambiguity reporting. The result is the same either way.
func WithFirstMatch() ClassifierOption {
	return func(c *Classifier) {
		c.firstMatch = true
	}
}

// WithObserver is called with every classification result
func WithObserver(fn func(State)) ClassifierOption {
	return func(c *Classifier) {
		c.observe = fn
	}
}

// NewClassifier creates a classifier over a preloaded catalog
func NewClassifier(catalog *templates.Catalog, opts ...ClassifierOption) (*Classifier, error) {
	if !catalog.Loaded() {
		return nil, fmt.Errorf("template catalog has not been preloaded")
	}

	c := &Classifier{
		entries: catalog.Entries(),
		logger:  zap.NewNop(),
	}
	for _, e := range c.entries {
		if e.Pattern != nil {
			c.needsGray = true
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify recognizes shot. It is deterministic: the same screenshot and
// catalog always give the same State.
func (c *Classifier) Classify(shot *device.Screenshot) State {
	if shot == nil || shot.Image == nil {
		return c.report(UnknownState(time.Time{}))
	}

	var gray *image.Gray
	if c.needsGray {
		gray = cv.ToGray(shot.Image)
	}

	var (
		result    State
		found     bool
		ambiguous []Candidate
	)

	for _, entry := range c.entries {
		match := c.match(entry, shot.Image, gray)
		if !match.Found {
			continue
		}

		if !found {
			found = true
			result = State{
				Name:       entry.State,
				Score:      match.Confidence,
				Box:        match.Box(),
				Template:   entry.Name,
				CapturedAt: shot.CapturedAt,
			}
			if c.firstMatch {
				break
			}
			continue
		}

		ambiguous = append(ambiguous, Candidate{
			Template: entry.Name,
			State:    entry.State,
			Score:    match.Confidence,
		})
	}

	if !found {
		return c.report(UnknownState(shot.CapturedAt))
	}

	if len(ambiguous) > 0 {
		result.Ambiguous = ambiguous
		fields := []zap.Field{
			zap.String("winner", result.Template),
			zap.Float64("score", result.Score),
		}
		for _, cand := range ambiguous {
			fields = append(fields, zap.Float64("also_"+cand.Template, cand.Score))
		}
		c.logger.Info("ambiguous recognition resolved by priority", fields...)
	}

	return c.report(result)
}

func (c *Classifier) match(entry *templates.Entry, frame *image.RGBA, gray *image.Gray) cv.MatchResult {
	cfg := entry.SearchConfig()
	if entry.Pattern != nil {
		return entry.Pattern.Match(gray, cfg.SearchRegion, cfg.Threshold)
	}
	return *cv.FindTemplate(frame, entry.Image, cfg)
}

func (c *Classifier) report(s State) State {
	if c.observe != nil {
		c.observe(s)
	}
	return s
}
