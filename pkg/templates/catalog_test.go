package templates

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/evertale-go/internal/cv"
)

var fixtureDir = filepath.Join("..", "..", "testdata", "templates")

func TestLoadFixtureCatalog(t *testing.T) {
	catalog, err := Load(context.Background(), fixtureDir, nil)
	require.NoError(t, err)

	assert.True(t, catalog.Loaded())
	assert.Equal(t, 3, catalog.Count())
	assert.Equal(t, []string{"RewardPopup", "BattleScreen", "MainMenu"}, catalog.States())

	entries := catalog.Entries()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.NotNil(t, e.Image, e.Name)
		assert.NotNil(t, e.Pattern, e.Name)
		require.NotNil(t, e.Region, e.Name)
	}

	reward, ok := catalog.Get("reward_popup")
	require.True(t, ok)
	assert.Equal(t, 0.85, reward.Threshold)
	assert.Equal(t, image.Pt(28, 20), reward.Pattern.Size())
	// the white frame around the marker is masked out
	assert.Equal(t, 24*16, reward.Pattern.Pixels())
}

func TestShippedCatalogRegionsFitScreen(t *testing.T) {
	dir := filepath.Join("..", "..", "assets", "templates")
	catalog := NewCatalog(dir, nil)
	require.NoError(t, catalog.LoadFromDirectory(dir))

	screen := image.Rect(0, 0, 1920, 1080)
	require.NotZero(t, catalog.Count())
	for _, e := range catalog.Entries() {
		require.NotNil(t, e.Region, e.Name)
		r := e.Region.Rectangle()
		assert.True(t, r.In(screen), "%s region %v", e.Name, r)
		assert.Less(t, r.Dx()*r.Dy(), screen.Dx()*screen.Dy()/4, e.Name)
	}
}

func TestPriorityThenDefinitionOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
templates:
  - {name: late, path: x.png, priority: 5}
  - {name: first_default, path: x.png}
`)
	writeFile(t, dir, "b.yaml", `
templates:
  - {name: second_default, path: x.png, threshold: 0.9}
  - {name: early, path: x.png, priority: -1}
`)
	writeFile(t, dir, "notes.txt", "ignored")
	writePNG(t, filepath.Join(dir, "x.png"))

	catalog, err := Load(context.Background(), dir, nil)
	require.NoError(t, err)

	var names []string
	for _, e := range catalog.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"early", "first_default", "second_default", "late"}, names)

	first, _ := catalog.Get("first_default")
	assert.Equal(t, DefaultThreshold, first.Threshold)
	assert.Equal(t, "first_default", first.State, "state defaults to the template name")
}

func TestDefinitionValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", `templates: [{path: x.png}]`},
		{"missing path", `templates: [{name: a}]`},
		{"bad threshold", `templates: [{name: a, path: x.png, threshold: 1.5}]`},
		{"bad method", `templates: [{name: a, path: x.png, method: orb}]`},
		{"empty region", `templates: [{name: a, path: x.png, region: {x1: 10, y1: 10, x2: 10, y2: 20}}]`},
		{"duplicate", `templates: [{name: a, path: x.png}, {name: a, path: x.png}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "catalog.yaml", tt.yaml)
			assert.Error(t, NewCatalog(dir, nil).LoadFromDirectory(dir))
		})
	}
}

func TestPreloadRejectsFlatTemplate(t *testing.T) {
	flat := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range flat.Pix {
		flat.Pix[i] = 128
	}

	catalog := NewCatalog("", nil)
	require.NoError(t, catalog.Add(cv.Template{Name: "flat"}, flat))

	err := catalog.Preload(context.Background())
	assert.ErrorIs(t, err, cv.ErrNoContrast)
}

func TestPreloadMissingImage(t *testing.T) {
	catalog := NewCatalog(t.TempDir(), nil)
	require.NoError(t, catalog.Add(cv.Template{Name: "ghost", Path: "/does/not/exist.png"}, nil))
	assert.Error(t, catalog.Preload(context.Background()))
}

func TestCatalogReadOnlyAfterPreload(t *testing.T) {
	catalog := NewCatalog("", nil)
	require.NoError(t, catalog.Add(cv.Template{Name: "a", Method: cv.MatchMethodSSD}, checker(4)))
	require.NoError(t, catalog.Preload(context.Background()))

	assert.Error(t, catalog.Add(cv.Template{Name: "b"}, checker(4)))

	a, ok := catalog.Get("a")
	require.True(t, ok)
	assert.Nil(t, a.Pattern, "only correlation templates get a prepared pattern")
}

func TestEmptyDirectory(t *testing.T) {
	_, err := Load(context.Background(), t.TempDir(), nil)
	assert.Error(t, err)
}

func TestScale(t *testing.T) {
	img := checker(10)
	assert.Same(t, img, Scale(img, 1))
	assert.Same(t, img, Scale(img, 0))

	half := Scale(img, 0.5)
	assert.Equal(t, image.Rect(0, 0, 5, 5), half.Bounds())

	double := Scale(img, 2)
	assert.Equal(t, image.Rect(0, 0, 20, 20), double.Bounds())
}

func checker(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, n, n))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{200, 200, 200, 255})
			}
		}
	}
	return img
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	src, err := os.ReadFile(filepath.Join(fixtureDir, "main_menu.png"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, src, 0o644))
}
