package minimap

import (
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"github.com/leetgaming-pro/replay-minimap/internal/vec"
)

// DefaultHitRadius радиус попадания в нормализованных единицах
const DefaultHitRadius = 3.0

// HitTest возвращает игрока под точкой p (нормализованные координаты).
// Кандидаты: игроки на расстоянии строго меньше radius.
// Побеждает ближайший; при равенстве живой важнее мёртвого, затем порядок массива.
func HitTest(players []replay.PlayerPosition, p vec.Vec2, radius float64) (replay.PlayerPosition, bool) {
	if radius <= 0 {
		radius = DefaultHitRadius
	}

	best := -1
	bestDist := 0.0
	for i, pl := range players {
		d := pl.Point().DistanceTo(p)
		if d >= radius {
			continue
		}
		if best < 0 || d < bestDist || (d == bestDist && pl.Alive && !players[best].Alive) {
			best = i
			bestDist = d
		}
	}

	if best < 0 {
		return replay.PlayerPosition{}, false
	}
	return players[best], true
}
