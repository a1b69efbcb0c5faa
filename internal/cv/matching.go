package cv

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// MatchResult contains template matching results
type MatchResult struct {
	Found      bool
	Location   image.Point
	Size       image.Point
	Confidence float64
}

// Box returns the matched rectangle in frame coordinates
func (m MatchResult) Box() image.Rectangle {
	return image.Rectangle{Min: m.Location, Max: m.Location.Add(m.Size)}
}

// MatchMethod defines template matching algorithm
type MatchMethod int

const (
	// MatchMethodCCOEFF - masked zero-mean normalized correlation on luminance (default)
	MatchMethodCCOEFF MatchMethod = iota
	// MatchMethodSAD - Sum of Absolute Differences (fastest)
	MatchMethodSAD
	// MatchMethodSSD - Sum of Squared Differences (balanced)
	MatchMethodSSD
	// MatchMethodNCC - Normalized Cross-Correlation over RGB
	MatchMethodNCC
)

var methodNames = map[MatchMethod]string{
	MatchMethodCCOEFF: "ccoeff",
	MatchMethodSAD:    "sad",
	MatchMethodSSD:    "ssd",
	MatchMethodNCC:    "ncc",
}

func (m MatchMethod) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMatchMethod maps a catalog method name onto a MatchMethod.
// An empty name selects MatchMethodCCOEFF.
func ParseMatchMethod(name string) (MatchMethod, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return MatchMethodCCOEFF, nil
	}
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// MatchConfig configures template matching
type MatchConfig struct {
	Method       MatchMethod
	Threshold    float64          // 0.0-1.0, higher = more strict
	SearchRegion *image.Rectangle // Optional: limit search area
}

// DefaultMatchConfig returns recommended settings
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{
		Method:    MatchMethodCCOEFF,
		Threshold: 0.8,
	}
}

// FindTemplate finds a template image within a larger image.
//
// A search region that is not fully inside the haystack never matches.
func FindTemplate(haystack, needle *image.RGBA, config *MatchConfig) *MatchResult {
	if config == nil {
		config = DefaultMatchConfig()
	}

	if config.Method == MatchMethodCCOEFF {
		p, err := NewPattern(needle)
		if err != nil {
			return &MatchResult{}
		}
		result := p.Match(ToGray(haystack), config.SearchRegion, config.Threshold)
		return &result
	}

	searchBounds, ok := searchArea(haystack.Bounds(), config.SearchRegion)
	if !ok {
		return &MatchResult{}
	}

	needleBounds := needle.Bounds()
	needleWidth := needleBounds.Dx()
	needleHeight := needleBounds.Dy()

	maxY := searchBounds.Max.Y - needleHeight
	maxX := searchBounds.Max.X - needleWidth
	if maxY < searchBounds.Min.Y || maxX < searchBounds.Min.X {
		// Template doesn't fit in search region
		return &MatchResult{}
	}

	bestScore := 0.0
	bestLocation := image.Point{}

	for y := searchBounds.Min.Y; y <= maxY; y++ {
		for x := searchBounds.Min.X; x <= maxX; x++ {
			score := calculateMatchScore(haystack, needle, x, y, config.Method)
			if score > bestScore {
				bestScore = score
				bestLocation = image.Point{X: x, Y: y}
			}
		}
	}

	return &MatchResult{
		Found:      bestScore > 0 && bestScore >= config.Threshold,
		Location:   bestLocation,
		Size:       image.Point{X: needleWidth, Y: needleHeight},
		Confidence: bestScore,
	}
}

// searchArea resolves the rectangle to scan. A region reaching outside the
// frame is rejected rather than clipped.
func searchArea(bounds image.Rectangle, region *image.Rectangle) (image.Rectangle, bool) {
	if region == nil {
		return bounds, !bounds.Empty()
	}
	if region.Empty() || !region.In(bounds) {
		return image.Rectangle{}, false
	}
	return *region, true
}

// calculateMatchScore computes similarity between template and image region
func calculateMatchScore(haystack, needle *image.RGBA, x, y int, method MatchMethod) float64 {
	needleBounds := needle.Bounds()
	needleWidth := needleBounds.Dx()
	needleHeight := needleBounds.Dy()

	switch method {
	case MatchMethodSAD:
		return matchSAD(haystack, needle, x, y, needleWidth, needleHeight)
	case MatchMethodNCC:
		return matchNCC(haystack, needle, x, y, needleWidth, needleHeight)
	default:
		return matchSSD(haystack, needle, x, y, needleWidth, needleHeight)
	}
}

// matchSAD - Sum of Absolute Differences (fastest, least accurate)
func matchSAD(haystack, needle *image.RGBA, x, y, width, height int) float64 {
	var sad uint64

	for ny := 0; ny < height; ny++ {
		for nx := 0; nx < width; nx++ {
			hIdx := haystack.PixOffset(x+nx, y+ny)
			nIdx := needle.PixOffset(needle.Rect.Min.X+nx, needle.Rect.Min.Y+ny)

			sad += uint64(abs(int(haystack.Pix[hIdx]) - int(needle.Pix[nIdx])))
			sad += uint64(abs(int(haystack.Pix[hIdx+1]) - int(needle.Pix[nIdx+1])))
			sad += uint64(abs(int(haystack.Pix[hIdx+2]) - int(needle.Pix[nIdx+2])))
		}
	}

	// Normalize to 0-1 (lower SAD = better match)
	maxSAD := float64(width * height * 3 * 255)
	return 1.0 - (float64(sad) / maxSAD)
}

// matchSSD - Sum of Squared Differences (balanced)
func matchSSD(haystack, needle *image.RGBA, x, y, width, height int) float64 {
	var ssd uint64

	for ny := 0; ny < height; ny++ {
		for nx := 0; nx < width; nx++ {
			hIdx := haystack.PixOffset(x+nx, y+ny)
			nIdx := needle.PixOffset(needle.Rect.Min.X+nx, needle.Rect.Min.Y+ny)

			dr := int(haystack.Pix[hIdx]) - int(needle.Pix[nIdx])
			dg := int(haystack.Pix[hIdx+1]) - int(needle.Pix[nIdx+1])
			db := int(haystack.Pix[hIdx+2]) - int(needle.Pix[nIdx+2])

			ssd += uint64(dr*dr + dg*dg + db*db)
		}
	}

	maxSSD := float64(width * height * 3 * 255 * 255)
	return 1.0 - (float64(ssd) / maxSSD)
}

// matchNCC - Normalized Cross-Correlation over the RGB channels
func matchNCC(haystack, needle *image.RGBA, x, y, width, height int) float64 {
	var sumH, sumN, sumHN, sumHH, sumNN float64
	pixelCount := float64(width * height * 3)

	for ny := 0; ny < height; ny++ {
		for nx := 0; nx < width; nx++ {
			hIdx := haystack.PixOffset(x+nx, y+ny)
			nIdx := needle.PixOffset(needle.Rect.Min.X+nx, needle.Rect.Min.Y+ny)

			for c := 0; c < 3; c++ {
				h := float64(haystack.Pix[hIdx+c])
				n := float64(needle.Pix[nIdx+c])

				sumH += h
				sumN += n
				sumHN += h * n
				sumHH += h * h
				sumNN += n * n
			}
		}
	}

	numerator := sumHN - (sumH * sumN / pixelCount)
	denomH := math.Sqrt(math.Max(sumHH-(sumH*sumH/pixelCount), 0))
	denomN := math.Sqrt(math.Max(sumNN-(sumN*sumN/pixelCount), 0))

	if denomH == 0 || denomN == 0 {
		return 0
	}

	// Correlation coefficient (-1 to 1, normalize to 0-1)
	correlation := numerator / (denomH * denomN)
	return (correlation + 1.0) / 2.0
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ToRGBA converts any decoded image into an *image.RGBA anchored at (0,0)
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	return rgba
}

// ToGray converts RGBA to a luminance plane with the same bounds
func ToGray(img *image.RGBA) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			idx := img.PixOffset(x, y)
			gray.Pix[gray.PixOffset(x, y)] = luminance(img.Pix[idx], img.Pix[idx+1], img.Pix[idx+2])
		}
	}

	return gray
}

// luminance uses integer Rec. 601 weights so results are reproducible
func luminance(r, g, b uint8) uint8 {
	return uint8((int(r)*299 + int(g)*587 + int(b)*114) / 1000)
}

// Annotate returns a copy of frame with box outlined, for debug dumps
func Annotate(frame *image.RGBA, box image.Rectangle) *image.RGBA {
	debug := image.NewRGBA(frame.Bounds())
	copy(debug.Pix, frame.Pix)

	box = box.Intersect(frame.Bounds())
	if !box.Empty() {
		drawRect(debug, box, color.RGBA{255, 0, 0, 255})
	}
	return debug
}

func drawRect(img *image.RGBA, rect image.Rectangle, col color.RGBA) {
	// Top and bottom
	for x := rect.Min.X; x < rect.Max.X; x++ {
		img.SetRGBA(x, rect.Min.Y, col)
		img.SetRGBA(x, rect.Max.Y-1, col)
	}
	// Left and right
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		img.SetRGBA(rect.Min.X, y, col)
		img.SetRGBA(rect.Max.X-1, y, col)
	}
}

// Error types
var (
	ErrTemplateTooLarge = errors.New("template larger than search image")
	ErrInvalidImage     = errors.New("invalid image provided")
	ErrNoContrast       = errors.New("template has no contrast outside its mask")
	ErrUnknownMethod    = errors.New("unknown match method")
)
