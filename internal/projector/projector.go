// Package projector отбирает события, видимые на текущем тике.
//
// Две политики видимости: окно затухания для маркеров на карте
// и история для ленты убийств (последние N, новые первыми).
package projector

import "github.com/leetgaming-pro/replay-minimap/internal/replay"

const (
	// DefaultWindow длина окна затухания маркера на карте, тики
	DefaultWindow = 500
	// DefaultKillFeedLimit размер ленты убийств
	DefaultKillFeedLimit = 8
)

// VisibleEvent событие с непрозрачностью отрисовки
type VisibleEvent struct {
	Event   replay.MapEvent `json:"event"`
	Opacity float64         `json:"opacity"`
}

// Filter дополнительные ограничения проекции
type Filter struct {
	// HideUtility убирает гранаты (переключатель grenades)
	HideUtility bool
}

// Opacity линейное затухание: 1 - delta/window, ограниченное [0, 1]
func Opacity(delta, window int) float64 {
	if window <= 0 {
		return 0
	}
	o := 1 - float64(delta)/float64(window)
	if o < 0 {
		return 0
	}
	if o > 1 {
		return 1
	}
	return o
}

// InWindow true, если currentTick - eventTick ∈ [0, window)
func InWindow(eventTick, currentTick, window int) bool {
	delta := currentTick - eventTick
	return delta >= 0 && delta < window
}

// Visible возвращает события окна в исходном порядке массива
func Visible(events []replay.MapEvent, currentTick, window int, f Filter) []VisibleEvent {
	if window <= 0 {
		window = DefaultWindow
	}

	out := make([]VisibleEvent, 0)
	for _, ev := range events {
		if f.HideUtility && ev.Kind.IsUtility() {
			continue
		}
		if !InWindow(ev.Tick, currentTick, window) {
			continue
		}
		out = append(out, VisibleEvent{
			Event:   ev,
			Opacity: Opacity(currentTick-ev.Tick, window),
		})
	}
	return out
}

// KillFeed возвращает последние limit убийств с tick <= currentTick, новые первыми
func KillFeed(events []replay.MapEvent, currentTick, limit int) []replay.MapEvent {
	if limit <= 0 {
		limit = DefaultKillFeedLimit
	}

	past := make([]replay.MapEvent, 0)
	for _, ev := range events {
		if ev.Kind == replay.EventKill && ev.Tick <= currentTick {
			past = append(past, ev)
		}
	}

	if len(past) > limit {
		past = past[len(past)-limit:]
	}

	// Разворот: последние события первыми
	for i, j := 0, len(past)-1; i < j; i, j = i+1, j-1 {
		past[i], past[j] = past[j], past[i]
	}
	return past
}
