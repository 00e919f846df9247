package minimap

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/leetgaming-pro/replay-minimap/internal/projector"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"github.com/leetgaming-pro/replay-minimap/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidBackground(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

var bg = solidBackground(color.RGBA{R: 10, G: 60, B: 10, A: 255})

func render(t *testing.T, c *Compositor, s Scene) *image.RGBA {
	t.Helper()
	if s.Background == nil {
		s.Background = bg
	}
	img, err := c.Render(s)
	require.NoError(t, err)
	return img
}

// diffOutside возвращает число отличающихся пикселей дальше radius от центра
func diffOutside(a, b *image.RGBA, cx, cy, radius float64) int {
	n := 0
	bounds := a.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) <= radius {
				continue
			}
			if a.RGBAAt(x, y) != b.RGBAAt(x, y) {
				n++
			}
		}
	}
	return n
}

func TestRenderWithoutBackground(t *testing.T) {
	c := NewCompositor(Options{Size: 200})
	_, err := c.Render(Scene{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoBackground))
}

func TestRenderSizeAndBackground(t *testing.T) {
	c := NewCompositor(Options{Size: 200})
	img := render(t, c, Scene{})
	assert.Equal(t, image.Rect(0, 0, 200, 200), img.Bounds())
	assert.Equal(t, color.RGBA{R: 10, G: 60, B: 10, A: 255}, img.RGBAAt(5, 5))
}

func TestCompositorSizeLimits(t *testing.T) {
	assert.Equal(t, DefaultSize, NewCompositor(Options{}).Size())
	assert.Equal(t, MaxSize, NewCompositor(Options{Size: 100000}).Size())
}

func TestRenderPlayerMarker(t *testing.T) {
	c := NewCompositor(Options{Size: 400})
	img := render(t, c, Scene{
		Players: []replay.PlayerPosition{{ID: "p1", Team: replay.TeamCT, X: 50, Y: 50, Alive: true, Health: 100}},
	})

	center := img.RGBAAt(200, 200)
	assert.InDelta(t, colorCT.R, center.R, 2)
	assert.InDelta(t, colorCT.G, center.G, 2)
	assert.InDelta(t, colorCT.B, center.B, 2)
}

func TestDeadPlayerHasNoConeLabelOrHealthBar(t *testing.T) {
	c := NewCompositor(Options{Size: 400})
	toggles := DefaultToggles()

	empty := render(t, c, Scene{Toggles: toggles})
	dead := render(t, c, Scene{
		Toggles: toggles,
		Players: []replay.PlayerPosition{{
			ID: "p1", Name: "ghost", Team: replay.TeamT, X: 50, Y: 50, Angle: 0, Alive: false, Health: 40,
		}},
	})

	// Всё, что дальше контура маркера, совпадает с пустой сценой
	assert.Zero(t, diffOutside(empty, dead, 200, 200, playerRadius+1))
	assert.NotEqual(t, empty.RGBAAt(200, 200), dead.RGBAAt(200, 200))
}

func TestAlivePlayerDrawsConeAndLabel(t *testing.T) {
	c := NewCompositor(Options{Size: 400})
	toggles := DefaultToggles()

	empty := render(t, c, Scene{Toggles: toggles})
	alive := render(t, c, Scene{
		Toggles: toggles,
		Players: []replay.PlayerPosition{{
			ID: "p1", Name: "alive", Team: replay.TeamT, X: 50, Y: 50, Angle: 0, Alive: true, Health: 40,
		}},
	})

	// Конус обзора вправо от игрока
	assert.NotEqual(t, empty.RGBAAt(220, 200), alive.RGBAAt(220, 200))
	// Слева конуса нет
	assert.Equal(t, empty.RGBAAt(180, 200), alive.RGBAAt(180, 200))
	assert.Positive(t, diffOutside(empty, alive, 200, 200, playerRadius+1))
}

func TestNamesToggle(t *testing.T) {
	c := NewCompositor(Options{Size: 400})
	p := replay.PlayerPosition{ID: "p1", Name: "WWWWWW", Team: replay.TeamCT, X: 50, Y: 50, Angle: 90, Alive: true, Health: 100}

	withNames := render(t, c, Scene{Players: []replay.PlayerPosition{p}, Toggles: Toggles{ShowNames: true}})
	noNames := render(t, c, Scene{Players: []replay.PlayerPosition{p}, Toggles: Toggles{}})

	assert.Positive(t, diffOutside(withNames, noNames, 200, 200, playerRadius+1))
}

func TestEventsToggle(t *testing.T) {
	c := NewCompositor(Options{Size: 400})
	events := []projector.VisibleEvent{
		{Event: replay.MapEvent{ID: "k1", Kind: replay.EventKill, X: 25, Y: 25}, Opacity: 1},
		{Event: replay.MapEvent{ID: "s1", Kind: replay.EventGrenadeSmoke, X: 75, Y: 75}, Opacity: 1},
	}

	empty := render(t, c, Scene{})
	off := render(t, c, Scene{Events: events, Toggles: Toggles{ShowEvents: false, ShowGrenades: true}})
	assert.Equal(t, empty.Pix, off.Pix)

	on := render(t, c, Scene{Events: events, Toggles: Toggles{ShowEvents: true, ShowGrenades: true}})
	assert.NotEqual(t, empty.RGBAAt(100, 100), on.RGBAAt(100, 100), "крест убийства")
	assert.NotEqual(t, empty.RGBAAt(300, 300), on.RGBAAt(300, 300), "дым")

	noNades := render(t, c, Scene{Events: events, Toggles: Toggles{ShowEvents: true, ShowGrenades: false}})
	assert.NotEqual(t, empty.RGBAAt(100, 100), noNades.RGBAAt(100, 100))
	assert.Equal(t, empty.RGBAAt(300, 300), noNades.RGBAAt(300, 300))
}

func TestEventOpacityFades(t *testing.T) {
	c := NewCompositor(Options{Size: 400})
	ev := replay.MapEvent{ID: "s", Kind: replay.EventGrenadeSmoke, X: 50, Y: 50}
	toggles := DefaultToggles()

	empty := render(t, c, Scene{Toggles: toggles})
	full := render(t, c, Scene{Toggles: toggles, Events: []projector.VisibleEvent{{Event: ev, Opacity: 1}}})
	faded := render(t, c, Scene{Toggles: toggles, Events: []projector.VisibleEvent{{Event: ev, Opacity: 0}}})

	assert.NotEqual(t, empty.RGBAAt(200, 200), full.RGBAAt(200, 200))
	assert.Equal(t, empty.RGBAAt(200, 200), faded.RGBAAt(200, 200))
}

func TestBombOverlay(t *testing.T) {
	c := NewCompositor(Options{Size: 400})
	empty := render(t, c, Scene{})
	planted := render(t, c, Scene{Round: &replay.RoundState{BombPlanted: true, Site: "A"}})
	notPlanted := render(t, c, Scene{Round: &replay.RoundState{BombPlanted: false}})

	assert.NotEqual(t, empty.RGBAAt(200, 12), planted.RGBAAt(200, 12))
	assert.Equal(t, empty.Pix, notPlanted.Pix)
}

func TestFocusHighlight(t *testing.T) {
	c := NewCompositor(Options{Size: 400})
	p := replay.PlayerPosition{ID: "p1", Team: replay.TeamCT, X: 50, Y: 50, Angle: 90, Alive: true, Health: 100}

	plain := render(t, c, Scene{Players: []replay.PlayerPosition{p}})
	focused := render(t, c, Scene{Players: []replay.PlayerPosition{p}, FocusID: "p1"})

	// Белая обводка на краю маркера
	edge := focused.RGBAAt(200-int(playerRadius), 200)
	assert.NotEqual(t, plain.RGBAAt(200-int(playerRadius), 200), edge)
}

func TestToNormalized(t *testing.T) {
	c := NewCompositor(Options{Size: 800})
	assert.Equal(t, vec.Vec2{X: 50, Y: 25}, c.ToNormalized(400, 200))
	assert.Equal(t, vec.Vec2{X: 100, Y: 0}, c.ToNormalized(1000, -5))
}

func TestHitTest(t *testing.T) {
	players := []replay.PlayerPosition{
		{ID: "a", X: 10, Y: 10, Alive: true},
		{ID: "b", X: 50, Y: 50, Alive: true},
	}

	hit, ok := HitTest(players, vec.Vec2{X: 11, Y: 11}, 3)
	require.True(t, ok)
	assert.Equal(t, "a", hit.ID)

	_, ok = HitTest(players, vec.Vec2{X: 13, Y: 10}, 3)
	assert.False(t, ok, "расстояние ровно 3 не считается попаданием")

	_, ok = HitTest(players, vec.Vec2{X: 30, Y: 30}, 3)
	assert.False(t, ok)
}

func TestHitTestOverlapNearestWins(t *testing.T) {
	players := []replay.PlayerPosition{
		{ID: "far", X: 12, Y: 10, Alive: true},
		{ID: "near", X: 10.5, Y: 10, Alive: true},
	}
	hit, ok := HitTest(players, vec.Vec2{X: 10, Y: 10}, 3)
	require.True(t, ok)
	assert.Equal(t, "near", hit.ID)
}

func TestHitTestTieAliveFirst(t *testing.T) {
	players := []replay.PlayerPosition{
		{ID: "dead", X: 10, Y: 10, Alive: false},
		{ID: "alive", X: 10, Y: 10, Alive: true},
		{ID: "alive2", X: 10, Y: 10, Alive: true},
	}
	hit, ok := HitTest(players, vec.Vec2{X: 10, Y: 11}, 3)
	require.True(t, ok)
	assert.Equal(t, "alive", hit.ID)
}

type failingSource struct{ calls int }

func (f *failingSource) Load(ctx context.Context, mapName string) (image.Image, error) {
	f.calls++
	return nil, errors.New("404")
}

func TestBackgroundsFallbackToPlaceholder(t *testing.T) {
	src := &failingSource{}
	b := NewBackgrounds(src)

	img := b.Get(context.Background(), "de_nuke")
	require.NotNil(t, img)
	assert.Equal(t, image.Rect(0, 0, PlaceholderSize, PlaceholderSize), img.Bounds())

	_ = b.Get(context.Background(), "de_nuke")
	assert.Equal(t, 1, src.calls, "результат кешируется")
}

func TestPlaceholderDeterministic(t *testing.T) {
	a := Placeholder(32, 7).(*image.RGBA)
	b := Placeholder(32, 7).(*image.RGBA)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, bg))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "de_dust2.png"), buf.Bytes(), 0644))

	src := DirSource{Dir: dir}
	img, err := src.Load(context.Background(), "de_dust2")
	require.NoError(t, err)
	assert.Equal(t, bg.Bounds(), img.Bounds())

	_, err = src.Load(context.Background(), "de_inferno")
	assert.Error(t, err)

	_, err = src.Load(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
}

func TestEncodePNG(t *testing.T) {
	c := NewCompositor(Options{Size: 100})
	img := render(t, c, Scene{})
	data, err := EncodePNG(img)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}
