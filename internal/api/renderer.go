package api

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"
	"time"

	"github.com/leetgaming-pro/replay-minimap/internal/cache"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SceneFunc собирает сцену поверх загруженного фона
type SceneFunc func(bg image.Image) minimap.Scene

// Renderer рисует PNG-кадры и кладёт их в кеш кадров.
// Компоновщики переиспользуются по размеру: шрифт готовится один раз.
type Renderer struct {
	backgrounds *minimap.Backgrounds
	frames      cache.FrameCache // nil отключает кеш
	metrics     *RenderMetrics
	ttl         time.Duration
	log         *logging.Logger

	mu          sync.Mutex
	compositors map[int]*minimap.Compositor
}

// NewRenderer создаёт рендерер. frames и metrics могут быть nil.
func NewRenderer(bg *minimap.Backgrounds, frames cache.FrameCache, metrics *RenderMetrics, ttl time.Duration) *Renderer {
	if bg == nil {
		bg = minimap.NewBackgrounds(nil)
	}
	return &Renderer{
		backgrounds: bg,
		frames:      frames,
		metrics:     metrics,
		ttl:         ttl,
		log:         logging.GetRenderLogger(),
		compositors: make(map[int]*minimap.Compositor),
	}
}

func (r *Renderer) compositor(size int) *minimap.Compositor {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.compositors[size]
	if !ok {
		c = minimap.NewCompositor(minimap.Options{Size: size})
		r.compositors[size] = c
	}
	return c
}

// Compositor компоновщик для перевода пиксельных координат клика
func (r *Renderer) Compositor(size int) *minimap.Compositor {
	return r.compositor(size)
}

// RenderPNG возвращает PNG кадра. cached == true, если кадр пришёл из кеша.
func (r *Renderer) RenderPNG(ctx context.Context, mapName string, key cache.FrameKey, build SceneFunc) (png []byte, cached bool, err error) {
	ctx, span := observability.Tracer().Start(ctx, "minimap.render", trace.WithAttributes(
		attribute.String("replay.id", key.ReplayID),
		attribute.Int("replay.tick", key.Tick),
		attribute.Int("render.size", key.Size),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("render.cached", cached))
		span.End()
	}()

	cacheKey := key.String()
	if r.frames != nil {
		data, getErr := r.frames.Get(ctx, cacheKey)
		switch {
		case getErr == nil:
			r.countCache(true)
			return data, true, nil
		case cache.IsCacheMiss(getErr):
			r.countCache(false)
		default:
			// Недоступный кеш не мешает отрисовке
			r.log.Warn("⚠️ Кеш кадров недоступен: %v", getErr)
		}
	}

	start := time.Now()
	comp := r.compositor(key.Size)
	img, err := comp.Render(build(r.backgrounds.Get(ctx, mapName)))
	if err == nil {
		png, err = minimap.EncodePNG(img)
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.renderErrors.Inc()
		}
		return nil, false, fmt.Errorf("render %s@%d: %w", key.ReplayID, key.Tick, err)
	}

	took := time.Since(start)
	if r.metrics != nil {
		r.metrics.renderDuration.WithLabelValues(strconv.Itoa(comp.Size())).Observe(took.Seconds())
	}
	logging.LogRender(key.ReplayID, key.Tick, comp.Size(), took)

	if r.frames != nil {
		if setErr := r.frames.Set(ctx, cacheKey, png, r.ttl); setErr != nil {
			r.log.Warn("⚠️ Не удалось сохранить кадр %s в кеш: %v", cacheKey, setErr)
		}
	}
	return png, false, nil
}

// Invalidate сбрасывает кешированные кадры повтора
func (r *Renderer) Invalidate(ctx context.Context, replayID string) {
	if r.frames == nil {
		return
	}
	n, err := r.frames.InvalidateReplay(ctx, replayID)
	if err != nil {
		r.log.Warn("⚠️ Инвалидация кадров %s не удалась: %v", replayID, err)
		return
	}
	if n > 0 {
		r.log.Debug("🧹 Из кеша удалено %d кадров повтора %s", n, replayID)
	}
}

func (r *Renderer) countCache(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.cacheHits.Inc()
	} else {
		r.metrics.cacheMisses.Inc()
	}
}
