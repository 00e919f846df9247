package minimap

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// circleSegments количество сегментов аппроксимации окружности
const circleSegments = 48

// canvas рисует примитивы в логических координатах (0..LogicalSize),
// переводя их в пиксели масштабом scale.
type canvas struct {
	dst   *image.RGBA
	r     *vector.Rasterizer
	scale float64
	face  font.Face
}

func newCanvas(dst *image.RGBA, scale float64, face font.Face) *canvas {
	b := dst.Bounds()
	return &canvas{
		dst:   dst,
		r:     vector.NewRasterizer(b.Dx(), b.Dy()),
		scale: scale,
		face:  face,
	}
}

func (cv *canvas) px(v float64) float32 {
	return float32(v * cv.scale)
}

// flush заливает накопленный путь цветом и сбрасывает растеризатор
func (cv *canvas) flush(col color.Color) {
	b := cv.dst.Bounds()
	cv.r.Draw(cv.dst, b, image.NewUniform(col), image.Point{})
	cv.r.Reset(b.Dx(), b.Dy())
}

// arcPath добавляет замкнутый путь по дуге окружности.
// Направление обхода важно: противоположные контуры вычитаются.
func (cv *canvas) arcPath(cx, cy, radius, from, to float64, reverse bool) {
	segments := int(math.Ceil(circleSegments * math.Abs(to-from) / (2 * math.Pi)))
	if segments < 2 {
		segments = 2
	}
	for i := 0; i <= segments; i++ {
		k := i
		if reverse {
			k = segments - i
		}
		a := from + (to-from)*float64(k)/float64(segments)
		x := cv.px(cx + radius*math.Cos(a))
		y := cv.px(cy + radius*math.Sin(a))
		if i == 0 {
			cv.r.MoveTo(x, y)
		} else {
			cv.r.LineTo(x, y)
		}
	}
	cv.r.ClosePath()
}

func (cv *canvas) fillCircle(cx, cy, radius float64, col color.Color) {
	cv.arcPath(cx, cy, radius, 0, 2*math.Pi, false)
	cv.flush(col)
}

// strokeCircle рисует кольцо шириной width по внешнему краю radius
func (cv *canvas) strokeCircle(cx, cy, radius, width float64, col color.Color) {
	cv.arcPath(cx, cy, radius, 0, 2*math.Pi, false)
	cv.arcPath(cx, cy, math.Max(radius-width, 0), 0, 2*math.Pi, true)
	cv.flush(col)
}

// arcBand кольцевой сектор между углами from и to (радианы)
func (cv *canvas) arcBand(cx, cy, radius, width, from, to float64) {
	segments := int(math.Ceil(circleSegments * math.Abs(to-from) / (2 * math.Pi)))
	if segments < 2 {
		segments = 2
	}
	inner := math.Max(radius-width, 0)
	for i := 0; i <= segments; i++ {
		a := from + (to-from)*float64(i)/float64(segments)
		x := cv.px(cx + radius*math.Cos(a))
		y := cv.px(cy + radius*math.Sin(a))
		if i == 0 {
			cv.r.MoveTo(x, y)
		} else {
			cv.r.LineTo(x, y)
		}
	}
	for i := segments; i >= 0; i-- {
		a := from + (to-from)*float64(i)/float64(segments)
		cv.r.LineTo(cv.px(cx+inner*math.Cos(a)), cv.px(cy+inner*math.Sin(a)))
	}
	cv.r.ClosePath()
}

// dashedCircle пунктирное кольцо из dashes штрихов
func (cv *canvas) dashedCircle(cx, cy, radius, width float64, dashes int, col color.Color) {
	if dashes < 1 {
		dashes = 1
	}
	step := 2 * math.Pi / float64(dashes)
	for i := 0; i < dashes; i++ {
		from := float64(i) * step
		cv.arcBand(cx, cy, radius, width, from, from+step/2)
	}
	cv.flush(col)
}

// wedge сектор обзора: вершина в центре, биссектриса по angle (градусы)
func (cv *canvas) wedge(cx, cy, radius, angleDeg, spreadDeg float64, col color.Color) {
	center := angleDeg * math.Pi / 180
	half := spreadDeg * math.Pi / 360
	from, to := center-half, center+half

	cv.r.MoveTo(cv.px(cx), cv.px(cy))
	segments := 12
	for i := 0; i <= segments; i++ {
		a := from + (to-from)*float64(i)/float64(segments)
		cv.r.LineTo(cv.px(cx+radius*math.Cos(a)), cv.px(cy+radius*math.Sin(a)))
	}
	cv.r.ClosePath()
	cv.flush(col)
}

func (cv *canvas) rect(x, y, w, h float64, col color.Color) {
	if w <= 0 || h <= 0 {
		return
	}
	cv.r.MoveTo(cv.px(x), cv.px(y))
	cv.r.LineTo(cv.px(x+w), cv.px(y))
	cv.r.LineTo(cv.px(x+w), cv.px(y+h))
	cv.r.LineTo(cv.px(x), cv.px(y+h))
	cv.r.ClosePath()
	cv.flush(col)
}

// line отрезок заданной толщины (прямоугольник вдоль направления)
func (cv *canvas) line(x0, y0, x1, y1, width float64, col color.Color) {
	dx, dy := x1-x0, y1-y0
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2
	cv.r.MoveTo(cv.px(x0+nx), cv.px(y0+ny))
	cv.r.LineTo(cv.px(x1+nx), cv.px(y1+ny))
	cv.r.LineTo(cv.px(x1-nx), cv.px(y1-ny))
	cv.r.LineTo(cv.px(x0-nx), cv.px(y0-ny))
	cv.r.ClosePath()
	cv.flush(col)
}

// cross крест размером size с центром (cx, cy)
func (cv *canvas) cross(cx, cy, size, width float64, col color.Color) {
	cv.line(cx-size, cy-size, cx+size, cy+size, width, col)
	cv.line(cx-size, cy+size, cx+size, cy-size, width, col)
}

// textWidth ширина строки в логических единицах
func (cv *canvas) textWidth(s string) float64 {
	if cv.face == nil {
		return 0
	}
	return float64(font.MeasureString(cv.face, s).Ceil()) / cv.scale
}

// text рисует строку; (x, y): центр базовой линии при centered, иначе левый край
func (cv *canvas) text(x, y float64, s string, col color.Color, centered bool) {
	if cv.face == nil || s == "" {
		return
	}
	if centered {
		x -= cv.textWidth(s) / 2
	}
	d := font.Drawer{
		Dst:  cv.dst,
		Src:  image.NewUniform(col),
		Face: cv.face,
		Dot:  fixed.P(int(math.Round(x*cv.scale)), int(math.Round(y*cv.scale))),
	}
	d.DrawString(s)
}

// withAlpha умножает альфа-канал цвета на opacity
func withAlpha(c color.NRGBA, opacity float64) color.NRGBA {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	c.A = uint8(math.Round(float64(c.A) * opacity))
	return c
}
