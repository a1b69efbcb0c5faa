package screen

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/evertale-go/internal/cv"
	"jordanella.com/evertale-go/internal/device"
	"jordanella.com/evertale-go/internal/device/devicetest"
	"jordanella.com/evertale-go/pkg/templates"
)

var testdata = filepath.Join("..", "..", "testdata")

func fixtureClassifier(t *testing.T, opts ...ClassifierOption) *Classifier {
	t.Helper()
	catalog, err := templates.Load(context.Background(), filepath.Join(testdata, "templates"), nil)
	require.NoError(t, err)
	c, err := NewClassifier(catalog, opts...)
	require.NoError(t, err)
	return c
}

func shot(t *testing.T, name string) *device.Screenshot {
	t.Helper()
	frame := devicetest.MustLoadFrame(t, filepath.Join(testdata, "screens", name))
	return &device.Screenshot{Image: frame, CapturedAt: time.Unix(1700000000, 0)}
}

func TestClassifyMainMenu(t *testing.T) {
	c := fixtureClassifier(t)

	state := c.Classify(shot(t, "main_menu.png"))
	assert.Equal(t, "MainMenu", state.Name)
	assert.GreaterOrEqual(t, state.Score, 0.8)
	assert.Equal(t, "main_menu", state.Template)
	assert.Equal(t, image.Rect(20, 80, 44, 96), state.Box)
	assert.Empty(t, state.Ambiguous)

	center, ok := state.Center()
	require.True(t, ok)
	assert.Equal(t, image.Pt(32, 88), center)
}

func TestClassifyFixtures(t *testing.T) {
	c := fixtureClassifier(t)

	tests := []struct {
		file string
		want string
	}{
		{"main_menu.png", "MainMenu"},
		{"battle_screen.png", "BattleScreen"},
		{"reward_popup.png", "RewardPopup"},
		{"unknown.png", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			state := c.Classify(shot(t, tt.file))
			assert.Equal(t, tt.want, state.Name)
			if tt.want == Unknown {
				assert.Equal(t, 0.0, state.Score)
				assert.False(t, state.Known())
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := fixtureClassifier(t)

	for _, file := range []string{"main_menu.png", "reward_popup.png", "unknown.png"} {
		s := shot(t, file)
		first := c.Classify(s)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, c.Classify(s), file)
		}
	}
}

func TestPopupOverScreenReportsAmbiguity(t *testing.T) {
	c := fixtureClassifier(t)

	state := c.Classify(shot(t, "reward_popup.png"))
	assert.Equal(t, "RewardPopup", state.Name)
	require.Len(t, state.Ambiguous, 1)
	assert.Equal(t, "main_menu", state.Ambiguous[0].Template)
	assert.Equal(t, "MainMenu", state.Ambiguous[0].State)

	first := fixtureClassifier(t, WithFirstMatch()).Classify(shot(t, "reward_popup.png"))
	assert.Equal(t, "RewardPopup", first.Name)
	assert.Empty(t, first.Ambiguous)
}

func TestPriorityBeatsScore(t *testing.T) {
	marker := devicetest.MustLoadFrame(t, filepath.Join(testdata, "templates", "main_menu.png"))

	// a degraded copy still clears a low threshold but scores below the original
	degraded := image.NewRGBA(marker.Bounds())
	copy(degraded.Pix, marker.Pix)
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			degraded.SetRGBA(x, y, color.RGBA{128, 128, 128, 255})
		}
	}

	catalog := templates.NewCatalog("", nil)
	require.NoError(t, catalog.Add(cv.Template{Name: "rough", State: "Rough", Threshold: 0.5, Priority: 1}, degraded))
	require.NoError(t, catalog.Add(cv.Template{Name: "exact", State: "Exact", Threshold: 0.5, Priority: 2}, marker))
	require.NoError(t, catalog.Preload(context.Background()))

	c, err := NewClassifier(catalog)
	require.NoError(t, err)

	state := c.Classify(shot(t, "main_menu.png"))
	assert.Equal(t, "Rough", state.Name)
	require.Len(t, state.Ambiguous, 1)
	assert.Equal(t, "Exact", state.Ambiguous[0].State)
	assert.Less(t, state.Score, state.Ambiguous[0].Score)
}

func TestClassifyObserverAndNilShot(t *testing.T) {
	var seen []string
	c := fixtureClassifier(t, WithObserver(func(s State) { seen = append(seen, s.Name) }))

	assert.Equal(t, Unknown, c.Classify(nil).Name)
	c.Classify(shot(t, "battle_screen.png"))
	assert.Equal(t, []string{Unknown, "BattleScreen"}, seen)
}

func TestNewClassifierNeedsPreload(t *testing.T) {
	catalog := templates.NewCatalog("", nil)
	_, err := NewClassifier(catalog)
	assert.Error(t, err)
}
