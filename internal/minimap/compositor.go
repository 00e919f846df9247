// Package minimap отрисовывает миникарту повтора: фоновый радар, маркеры событий,
// игроков и плашку заложенной бомбы. Каждый вызов Render полностью перерисовывает кадр.
package minimap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/leetgaming-pro/replay-minimap/internal/projector"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"github.com/leetgaming-pro/replay-minimap/internal/vec"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

const (
	// LogicalSize сторона логического холста
	LogicalSize = 400
	// DefaultSize сторона выходного изображения в пикселях
	DefaultSize = 800
	// MaxSize ограничение размера выходного изображения
	MaxSize = 2048

	playerRadius   = 6.0
	viewConeRadius = 28.0
	viewConeSpread = 70.0 // градусы
	labelFontSize  = 10.0 // логические единицы
)

// ErrNoBackground фон ещё не загружен: кадр не рисуется частично
var ErrNoBackground = errors.New("minimap background not loaded")

var (
	colorCT        = color.NRGBA{R: 93, G: 121, B: 174, A: 255}
	colorT         = color.NRGBA{R: 222, G: 155, B: 53, A: 255}
	colorDead      = color.NRGBA{R: 110, G: 110, B: 110, A: 200}
	colorStroke    = color.NRGBA{R: 20, G: 20, B: 20, A: 220}
	colorHighlight = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	colorLabel     = color.NRGBA{R: 240, G: 240, B: 240, A: 255}
	colorBomb      = color.NRGBA{R: 230, G: 60, B: 40, A: 255}
	colorDefuse    = color.NRGBA{R: 80, G: 170, B: 255, A: 255}
	colorHealthBg  = color.NRGBA{R: 0, G: 0, B: 0, A: 160}
)

// Toggles переключатели слоёв
type Toggles struct {
	ShowNames    bool `json:"show_names"`
	ShowEvents   bool `json:"show_events"`
	ShowGrenades bool `json:"show_grenades"`
}

// DefaultToggles все слои включены
func DefaultToggles() Toggles {
	return Toggles{ShowNames: true, ShowEvents: true, ShowGrenades: true}
}

// Scene входные данные одного кадра
type Scene struct {
	Background image.Image
	Players    []replay.PlayerPosition
	Events     []projector.VisibleEvent
	Round      *replay.RoundState
	HoverID    string
	FocusID    string
	Toggles    Toggles
}

// Options параметры компоновщика
type Options struct {
	Size int // сторона изображения в пикселях; 0 → DefaultSize
}

// Compositor рисует кадры миникарты. Безопасен для конкурентного использования.
type Compositor struct {
	size  int
	scale float64

	faceMu sync.Mutex
	face   font.Face
}

// NewCompositor создаёт компоновщик
func NewCompositor(opts Options) *Compositor {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	scale := float64(size) / LogicalSize
	return &Compositor{
		size:  size,
		scale: scale,
		face:  newLabelFace(scale),
	}
}

// Size сторона изображения в пикселях
func (c *Compositor) Size() int {
	return c.size
}

// ToNormalized переводит пиксельные координаты изображения в нормализованные [0, 100]
func (c *Compositor) ToNormalized(px, py float64) vec.Vec2 {
	k := 100 / float64(c.size)
	return vec.Vec2{X: px * k, Y: py * k}.Clamp(0, 100)
}

// toLogical переводит нормализованные координаты в логические единицы холста
func toLogical(v float64) float64 {
	return v / 100 * LogicalSize
}

// Render полностью перерисовывает кадр.
// Порядок: фон → события (если включены) → игроки → плашка бомбы.
func (c *Compositor) Render(s Scene) (*image.RGBA, error) {
	if s.Background == nil {
		return nil, ErrNoBackground
	}
	if s.Background.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty background bounds", ErrNoBackground)
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.size, c.size))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), s.Background, s.Background.Bounds(), xdraw.Src, nil)

	// font.Face из opentype не потокобезопасен
	c.faceMu.Lock()
	defer c.faceMu.Unlock()
	cv := newCanvas(dst, c.scale, c.face)

	if s.Toggles.ShowEvents {
		for _, ve := range s.Events {
			if ve.Event.Kind.IsUtility() && !s.Toggles.ShowGrenades {
				continue
			}
			drawEvent(cv, ve)
		}
	}

	for _, p := range s.Players {
		drawPlayer(cv, p, playerHighlight{
			hovered: p.ID != "" && p.ID == s.HoverID,
			focused: p.ID != "" && p.ID == s.FocusID,
		}, s.Toggles.ShowNames)
	}

	if s.Round != nil && s.Round.BombPlanted {
		drawBombOverlay(cv, s.Round.Site)
	}

	return dst, nil
}

type playerHighlight struct {
	hovered bool
	focused bool
}

func teamColor(t replay.Team) color.NRGBA {
	if t == replay.TeamCT {
		return colorCT
	}
	return colorT
}

// brighter осветляет цвет для выделенного игрока
func brighter(c color.NRGBA) color.NRGBA {
	lift := func(v uint8) uint8 {
		return uint8(int(v) + (255-int(v))/2)
	}
	return color.NRGBA{R: lift(c.R), G: lift(c.G), B: lift(c.B), A: c.A}
}

func drawPlayer(cv *canvas, p replay.PlayerPosition, hl playerHighlight, showNames bool) {
	x, y := toLogical(p.X), toLogical(p.Y)
	body := teamColor(p.Team)
	if !p.Alive {
		body = colorDead
	}
	highlighted := hl.hovered || hl.focused

	// Свечение (аналог shadowBlur)
	if highlighted {
		for i, a := range []float64{0.12, 0.2, 0.3} {
			cv.fillCircle(x, y, playerRadius+float64(6-2*i), withAlpha(body, a))
		}
	}

	if p.Alive {
		cv.wedge(x, y, viewConeRadius, p.Angle, viewConeSpread, withAlpha(body, 0.25))
	}

	cv.fillCircle(x, y, playerRadius, body)

	switch {
	case hl.focused:
		cv.strokeCircle(x, y, playerRadius+1, 1.5, colorHighlight)
	case hl.hovered:
		cv.strokeCircle(x, y, playerRadius+1, 1.5, brighter(body))
	default:
		cv.strokeCircle(x, y, playerRadius, 1, colorStroke)
	}

	if p.IsDefusing {
		cv.dashedCircle(x, y, playerRadius+4, 1.2, 8, colorDefuse)
	}

	if p.HasBomb {
		cv.rect(x+playerRadius-2, y-playerRadius-2, 4, 4, colorBomb)
	}

	if !p.Alive {
		return
	}

	if p.Health < 100 {
		barW, barH := 16.0, 2.5
		bx, by := x-barW/2, y+playerRadius+3
		cv.rect(bx, by, barW, barH, colorHealthBg)
		cv.rect(bx, by, barW*float64(p.Health)/100, barH, healthColor(p.Health))
	}

	if showNames && p.Name != "" {
		cv.text(x, y-playerRadius-4, p.Name, colorLabel, true)
	}
}

// healthColor от зелёного к красному
func healthColor(health int) color.NRGBA {
	if health < 0 {
		health = 0
	}
	if health > 100 {
		health = 100
	}
	r := uint8(255 * (100 - health) / 100)
	g := uint8(200 * health / 100)
	return color.NRGBA{R: r, G: g, B: 40, A: 255}
}

func drawEvent(cv *canvas, ve projector.VisibleEvent) {
	ev := ve.Event
	x, y := toLogical(ev.X), toLogical(ev.Y)
	op := ve.Opacity

	switch ev.Kind {
	case replay.EventKill:
		cv.cross(x, y, 5, 2, withAlpha(color.NRGBA{R: 255, G: 60, B: 60, A: 255}, op))
		if ev.Headshot {
			cv.strokeCircle(x, y, 8, 1, withAlpha(color.NRGBA{R: 255, G: 60, B: 60, A: 255}, op))
		}
	case replay.EventDeath:
		cv.cross(x, y, 4, 1.5, withAlpha(color.NRGBA{R: 180, G: 180, B: 180, A: 255}, op))
	case replay.EventBombPlant:
		cv.rect(x-4, y-4, 8, 8, withAlpha(colorBomb, op))
		cv.strokeCircle(x, y, 10, 1.5, withAlpha(colorBomb, op))
	case replay.EventBombDefuse:
		cv.rect(x-4, y-4, 8, 8, withAlpha(colorDefuse, op))
		cv.strokeCircle(x, y, 10, 1.5, withAlpha(colorDefuse, op))
	case replay.EventGrenadeSmoke:
		cv.fillCircle(x, y, 18, withAlpha(color.NRGBA{R: 200, G: 200, B: 200, A: 140}, op))
	case replay.EventGrenadeMolotov:
		cv.fillCircle(x, y, 14, withAlpha(color.NRGBA{R: 255, G: 110, B: 20, A: 130}, op))
	case replay.EventGrenadeFlash:
		cv.strokeCircle(x, y, 10, 2, withAlpha(color.NRGBA{R: 255, G: 255, B: 255, A: 230}, op))
	case replay.EventGrenadeHE:
		cv.strokeCircle(x, y, 12, 2, withAlpha(color.NRGBA{R: 255, G: 80, B: 80, A: 230}, op))
	}
}

func drawBombOverlay(cv *canvas, site string) {
	label := "BOMB PLANTED"
	if site != "" {
		label = fmt.Sprintf("BOMB PLANTED: SITE %s", site)
	}
	w := cv.textWidth(label) + 16
	if w < 120 {
		w = 120
	}
	cv.rect(LogicalSize/2-w/2, 8, w, 20, color.NRGBA{R: 150, G: 20, B: 20, A: 200})
	cv.text(LogicalSize/2, 22, label, colorLabel, true)
}

var (
	fontOnce sync.Once
	goFont   *opentype.Font
)

// newLabelFace создаёт шрифт подписей под масштаб; при ошибке: basicfont
func newLabelFace(scale float64) font.Face {
	fontOnce.Do(func() {
		f, err := opentype.Parse(goregular.TTF)
		if err == nil {
			goFont = f
		}
	})
	if goFont == nil {
		return basicfont.Face7x13
	}
	face, err := opentype.NewFace(goFont, &opentype.FaceOptions{
		Size:    labelFontSize * scale,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	return face
}
