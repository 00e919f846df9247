package minimap

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/util"
	_ "golang.org/x/image/webp"
)

// PlaceholderSize сторона сгенерированного фона
const PlaceholderSize = 256

// BackgroundSource загружает радар карты
type BackgroundSource interface {
	Load(ctx context.Context, mapName string) (image.Image, error)
}

// DirSource ищет <Dir>/<map>.{png,jpg,jpeg,webp}
type DirSource struct {
	Dir string
}

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Load читает и декодирует первый найденный файл радара
func (s DirSource) Load(ctx context.Context, mapName string) (image.Image, error) {
	if s.Dir == "" {
		return nil, fmt.Errorf("background directory not configured")
	}
	name := filepath.Base(strings.TrimSpace(mapName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid map name %q", mapName)
	}

	var lastErr error
	for _, ext := range imageExtensions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.Dir, name+ext))
		if err != nil {
			lastErr = err
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s%s: %w", name, ext, err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("radar for %s not found: %w", name, lastErr)
}

// Backgrounds кеширует загруженные радары; при ошибке подставляет заглушку
type Backgrounds struct {
	src BackgroundSource
	log *logging.Logger

	mu    sync.RWMutex
	cache map[string]image.Image
}

// NewBackgrounds создаёт кеш фонов. src может быть nil: тогда всегда заглушка.
func NewBackgrounds(src BackgroundSource) *Backgrounds {
	return &Backgrounds{
		src:   src,
		log:   logging.GetRenderLogger(),
		cache: make(map[string]image.Image),
	}
}

// Get возвращает фон карты. Ошибка загрузки не всплывает: используется заглушка.
func (b *Backgrounds) Get(ctx context.Context, mapName string) image.Image {
	b.mu.RLock()
	img, ok := b.cache[mapName]
	b.mu.RUnlock()
	if ok {
		return img
	}

	if b.src != nil {
		loaded, err := b.src.Load(ctx, mapName)
		if err == nil {
			img = loaded
		} else {
			b.log.Warn("🗺️ Радар %s недоступен, используется заглушка: %v", mapName, err)
		}
	}
	if img == nil {
		img = Placeholder(PlaceholderSize, seedFor(mapName))
	}

	b.mu.Lock()
	b.cache[mapName] = img
	b.mu.Unlock()
	return img
}

// Put регистрирует фон вручную (например, загруженный через API)
func (b *Backgrounds) Put(mapName string, img image.Image) {
	b.mu.Lock()
	b.cache[mapName] = img
	b.mu.Unlock()
}

func seedFor(mapName string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(mapName))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// Placeholder генерирует тёмную текстуру шума Перлина с сеткой
func Placeholder(size int, seed int64) image.Image {
	if size <= 0 {
		size = PlaceholderSize
	}
	noise := util.NewNoiseField(seed)
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	grid := size / 8
	if grid < 1 {
		grid = 1
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			n := noise.At(float64(x)/32, float64(y)/32)
			v := uint8(30 + n*40)
			if x%grid == 0 || y%grid == 0 {
				v += 12
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v + 4, B: v + 10, A: 255})
		}
	}
	return img
}

// EncodePNG кодирует кадр в PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
