package cv

import (
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
)

const (
	// coarseFactor is the downscale applied before a coarse search
	coarseFactor = 4
	// coarseMinSide is the smallest template side that still has a coarse level
	coarseMinSide = 8 * coarseFactor
	// exhaustiveWindows bounds how many windows are scored at full resolution
	// before the coarse pass takes over
	exhaustiveWindows = 1 << 16
	// coarseCandidates is how many coarse peaks are refined
	coarseCandidates = 8
)

// Pattern is a template prepared for masked correlation: its luminance
// values are centred once so each window costs a single pass.
//
// Pure white and fully transparent template pixels are masked out, which
// lets a template carry an arbitrary silhouette on a white canvas.
type Pattern struct {
	size    image.Point
	offsets []image.Point
	weights []float64
	norm    float64

	// coarse is the same template at 1/coarseFactor, nil for small templates
	coarse *Pattern
}

// NewPattern prepares img for MatchMethodCCOEFF matching
func NewPattern(img *image.RGBA) (*Pattern, error) {
	p, err := newPattern(img)
	if err != nil {
		return nil, err
	}

	if p.size.X >= coarseMinSide && p.size.Y >= coarseMinSide {
		small := resize.Resize(uint(p.size.X/coarseFactor), uint(p.size.Y/coarseFactor), img, resize.Bilinear)
		// A template whose contrast vanishes when shrunk keeps the exhaustive scan.
		if coarse, err := newPattern(ToRGBA(small)); err == nil {
			p.coarse = coarse
		}
	}

	return p, nil
}

func newPattern(img *image.RGBA) (*Pattern, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, ErrInvalidImage
	}

	p := &Pattern{size: bounds.Size()}
	var values []float64
	sum := 0.0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			idx := img.PixOffset(x, y)
			r, g, b, a := img.Pix[idx], img.Pix[idx+1], img.Pix[idx+2], img.Pix[idx+3]
			if a == 0 || (r == 255 && g == 255 && b == 255) {
				continue
			}
			v := float64(luminance(r, g, b))
			p.offsets = append(p.offsets, image.Point{X: x - bounds.Min.X, Y: y - bounds.Min.Y})
			values = append(values, v)
			sum += v
		}
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("%w: every pixel is masked", ErrNoContrast)
	}

	mean := sum / float64(len(values))
	p.weights = make([]float64, len(values))
	ss := 0.0
	for i, v := range values {
		w := v - mean
		p.weights[i] = w
		ss += w * w
	}
	if ss == 0 {
		return nil, ErrNoContrast
	}
	p.norm = math.Sqrt(ss)

	return p, nil
}

// Size returns the template dimensions
func (p *Pattern) Size() image.Point {
	return p.size
}

// Pixels returns how many template pixels take part in matching
func (p *Pattern) Pixels() int {
	return len(p.offsets)
}

// ScoreAt returns the correlation of the window whose top-left corner is at.
// Negative correlation reports 0, as does a window without variance.
func (p *Pattern) ScoreAt(frame *image.Gray, at image.Point) float64 {
	var sumI, sumII int64
	sumTI := 0.0

	for i, o := range p.offsets {
		v := frame.Pix[frame.PixOffset(at.X+o.X, at.Y+o.Y)]
		sumI += int64(v)
		sumII += int64(v) * int64(v)
		sumTI += p.weights[i] * float64(v)
	}

	n := int64(len(p.offsets))
	spread := n*sumII - sumI*sumI
	if spread <= 0 {
		return 0
	}

	score := sumTI / (p.norm * math.Sqrt(float64(spread)/float64(n)))
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// Match scans the region (the whole frame when nil) and returns the best
// window. Small searches score every window and ties keep the top-left-most
// position. Large searches first score a downscaled copy of the area and
// then refine the strongest coarse peaks at full resolution.
func (p *Pattern) Match(frame *image.Gray, region *image.Rectangle, threshold float64) MatchResult {
	result := MatchResult{Size: p.size}

	area, ok := searchArea(frame.Bounds(), region)
	if !ok {
		return result
	}

	// origins holds every valid top-left corner
	origins := image.Rect(area.Min.X, area.Min.Y, area.Max.X-p.size.X+1, area.Max.Y-p.size.Y+1)
	if origins.Empty() {
		return result
	}

	if p.coarse == nil || origins.Dx()*origins.Dy() <= exhaustiveWindows {
		p.scan(frame, origins, &result)
	} else {
		for _, at := range p.coarsePeaks(frame, area) {
			near := image.Rect(at.X-coarseFactor, at.Y-coarseFactor, at.X+coarseFactor+1, at.Y+coarseFactor+1)
			p.scan(frame, near.Intersect(origins), &result)
		}
	}

	result.Found = result.Confidence > 0 && result.Confidence >= threshold
	return result
}

// Coarse reports whether large searches use a downscaled first pass
func (p *Pattern) Coarse() bool {
	return p.coarse != nil
}

func (p *Pattern) scan(frame *image.Gray, origins image.Rectangle, result *MatchResult) {
	for y := origins.Min.Y; y < origins.Max.Y; y++ {
		for x := origins.Min.X; x < origins.Max.X; x++ {
			at := image.Point{X: x, Y: y}
			if score := p.ScoreAt(frame, at); score > result.Confidence {
				result.Confidence = score
				result.Location = at
			}
		}
	}
}

type peak struct {
	at    image.Point
	score float64
}

// coarsePeaks shrinks area by coarseFactor, scores every coarse window and
// returns the best few mapped back to full-resolution corners.
func (p *Pattern) coarsePeaks(frame *image.Gray, area image.Rectangle) []image.Point {
	w, h := area.Dx()/coarseFactor, area.Dy()/coarseFactor
	crop, ok := frame.SubImage(area).(*image.Gray)
	if !ok {
		return nil
	}
	small, ok := resize.Resize(uint(w), uint(h), crop, resize.Bilinear).(*image.Gray)
	if !ok {
		return nil
	}

	var best []peak
	for y := 0; y+p.coarse.size.Y <= h; y++ {
		for x := 0; x+p.coarse.size.X <= w; x++ {
			at := image.Point{X: x, Y: y}
			score := p.coarse.ScoreAt(small, at)
			if len(best) == coarseCandidates && score <= best[len(best)-1].score {
				continue
			}
			best = insertPeak(best, peak{at: at, score: score})
		}
	}

	points := make([]image.Point, len(best))
	for i, pk := range best {
		points[i] = area.Min.Add(pk.at.Mul(coarseFactor))
	}
	return points
}

// insertPeak keeps peaks sorted by descending score, capped at coarseCandidates
func insertPeak(peaks []peak, pk peak) []peak {
	i := len(peaks)
	for i > 0 && peaks[i-1].score < pk.score {
		i--
	}
	peaks = append(peaks, peak{})
	copy(peaks[i+1:], peaks[i:])
	peaks[i] = pk
	if len(peaks) > coarseCandidates {
		peaks = peaks[:coarseCandidates]
	}
	return peaks
}
