package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/projector"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"github.com/leetgaming-pro/replay-minimap/internal/session"
)

func main() {
	var (
		replayPath = flag.String("replay", "", "JSON-файл декодированного повтора (обязательно)")
		outDir     = flag.String("out", "frames", "каталог для PNG")
		tick       = flag.Int("tick", -1, "один тик (по умолчанию диапазон -from..-to)")
		from       = flag.Int("from", 0, "начало диапазона")
		to         = flag.Int("to", -1, "конец диапазона включительно (-1 = maxTick)")
		step       = flag.Int("step", 64, "шаг диапазона в тиках")
		size       = flag.Int("size", minimap.DefaultSize, "сторона изображения в пикселях")
		window     = flag.Int("window", projector.DefaultWindow, "окно видимости событий в тиках")
		names      = flag.Bool("names", true, "подписи игроков")
		events     = flag.Bool("events", true, "маркеры событий")
		grenades   = flag.Bool("grenades", true, "гранаты")
		focus      = flag.String("focus", "", "ID игрока для выделения")
		bgDir      = flag.String("backgrounds", "assets/maps", "каталог радаров <map>.png")
	)
	flag.Parse()

	if *replayPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	rep, err := loadReplay(*replayPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	ticks := frameTicks(*tick, *from, *to, *step, rep.MaxTick)
	if len(ticks) == 0 {
		log.Fatalf("❌ Пустой диапазон тиков %d..%d", *from, *to)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("❌ Не удалось создать %s: %v", *outDir, err)
	}

	comp := minimap.NewCompositor(minimap.Options{Size: *size})
	bg := minimap.NewBackgrounds(minimap.DirSource{Dir: *bgDir}).Get(context.Background(), rep.MapName)
	toggles := minimap.Toggles{ShowNames: *names, ShowEvents: *events, ShowGrenades: *grenades}

	start := time.Now()
	for _, t := range ticks {
		img, err := comp.Render(session.BuildScene(rep, t, *window, bg, toggles, "", *focus))
		if err != nil {
			log.Fatalf("❌ Тик %d: %v", t, err)
		}
		data, err := minimap.EncodePNG(img)
		if err != nil {
			log.Fatalf("❌ Тик %d: %v", t, err)
		}
		path := filepath.Join(*outDir, fmt.Sprintf("%s_%06d.png", rep.ID, t))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Fatalf("❌ Запись %s: %v", path, err)
		}
	}

	fmt.Printf("✅ %d кадров (%s, %dpx) записано в %s за %s\n",
		len(ticks), rep.MapName, comp.Size(), *outDir, time.Since(start).Round(time.Millisecond))
}

func loadReplay(path string) (*replay.Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rep replay.Replay
	if err := json.NewDecoder(f).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if rep.ID == "" {
		rep.ID = filepath.Base(path[:len(path)-len(filepath.Ext(path))])
	}
	rep.Normalize()
	if err := rep.Validate(); err != nil {
		return nil, err
	}
	return &rep, nil
}

// frameTicks список тиков для отрисовки, прижатый к [0, maxTick]
func frameTicks(single, from, to, step, maxTick int) []int {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > maxTick {
			return maxTick
		}
		return v
	}
	if single >= 0 {
		return []int{clamp(single)}
	}
	if to < 0 {
		to = maxTick
	}
	from, to = clamp(from), clamp(to)
	if step <= 0 {
		step = 1
	}

	var out []int
	for t := from; t <= to; t += step {
		out = append(out, t)
	}
	return out
}
