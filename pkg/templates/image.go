package templates

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"jordanella.com/evertale-go/internal/cv"
)

// LoadImage decodes a template image (PNG, JPEG, BMP or WebP) and applies
// scale when it is set and not 1.
func LoadImage(path string, scale float64) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("template %s (%s) is empty", path, format)
	}

	return Scale(cv.ToRGBA(img), scale), nil
}

// Scale resizes img by factor. Nearest-neighbour sampling keeps masked
// white pixels pure white.
func Scale(img *image.RGBA, factor float64) *image.RGBA {
	if factor <= 0 || factor == 1 {
		return img
	}

	b := img.Bounds()
	w := uint(float64(b.Dx())*factor + 0.5)
	h := uint(float64(b.Dy())*factor + 0.5)
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}

	return cv.ToRGBA(resize.Resize(w, h, img, resize.NearestNeighbor))
}
