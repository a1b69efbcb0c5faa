package cv

// Template describes one reference image and the screen state it identifies
type Template struct {
	Name      string
	State     string
	Path      string
	Threshold float64
	Region    *Region
	Scale     float64
	Priority  int
	Method    MatchMethod
}

// Builder methods

// InRegion sets the search region for the template
func (t Template) InRegion(x1, y1, x2, y2 int) Template {
	region := NewRegion(x1, y1, x2, y2)
	t.Region = &region
	return t
}

// WithThreshold sets the matching threshold
func (t Template) WithThreshold(threshold float64) Template {
	t.Threshold = threshold
	return t
}

// WithScale sets the scale factor
func (t Template) WithScale(scale float64) Template {
	t.Scale = scale
	return t
}

// WithMethod selects the matching algorithm
func (t Template) WithMethod(m MatchMethod) Template {
	t.Method = m
	return t
}

// SearchConfig returns the MatchConfig this template is matched with
func (t Template) SearchConfig() *MatchConfig {
	cfg := &MatchConfig{Method: t.Method, Threshold: t.Threshold}
	if t.Region != nil {
		cfg.SearchRegion = t.Region.ToImageRectangle()
	}
	return cfg
}
