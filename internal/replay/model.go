// Package replay содержит модель данных повтора матча: позиции игроков по тикам,
// игровые события и состояние раундов. Данные приходят от внешнего провайдера
// уже декодированными; пакет их только нормализует, валидирует и читает.
package replay

import (
	"time"

	"github.com/leetgaming-pro/replay-minimap/internal/vec"
)

// Team сторона игрока
type Team string

const (
	TeamCT Team = "ct"
	TeamT  Team = "t"
)

// Valid проверяет, что сторона известна
func (t Team) Valid() bool {
	return t == TeamCT || t == TeamT
}

// EventKind тип игрового события на карте
type EventKind string

const (
	EventKill           EventKind = "kill"
	EventDeath          EventKind = "death"
	EventBombPlant      EventKind = "bomb_plant"
	EventBombDefuse     EventKind = "bomb_defuse"
	EventGrenadeHE      EventKind = "grenade_he"
	EventGrenadeFlash   EventKind = "grenade_flash"
	EventGrenadeSmoke   EventKind = "grenade_smoke"
	EventGrenadeMolotov EventKind = "grenade_molotov"
)

// EventKinds перечисляет все поддерживаемые типы событий
var EventKinds = []EventKind{
	EventKill,
	EventDeath,
	EventBombPlant,
	EventBombDefuse,
	EventGrenadeHE,
	EventGrenadeFlash,
	EventGrenadeSmoke,
	EventGrenadeMolotov,
}

// Valid проверяет, что тип события известен
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsUtility true для брошенной гранаты любого вида
func (k EventKind) IsUtility() bool {
	switch k {
	case EventGrenadeHE, EventGrenadeFlash, EventGrenadeSmoke, EventGrenadeMolotov:
		return true
	}
	return false
}

// PlayerPosition снимок игрока на тике. Координаты нормализованы в [0, 100].
type PlayerPosition struct {
	ID         string  `json:"id" bson:"id"`
	Name       string  `json:"name" bson:"name"`
	Team       Team    `json:"team" bson:"team"`
	X          float64 `json:"x" bson:"x"`
	Y          float64 `json:"y" bson:"y"`
	Angle      float64 `json:"angle" bson:"angle"` // направление взгляда, градусы
	Alive      bool    `json:"alive" bson:"alive"`
	Health     int     `json:"health" bson:"health"`
	Weapon     string  `json:"weapon,omitempty" bson:"weapon,omitempty"`
	HasBomb    bool    `json:"has_bomb,omitempty" bson:"has_bomb,omitempty"`
	IsDefusing bool    `json:"is_defusing,omitempty" bson:"is_defusing,omitempty"`
}

// Point возвращает позицию игрока как вектор
func (p PlayerPosition) Point() vec.Vec2 {
	return vec.Vec2{X: p.X, Y: p.Y}
}

// MapEvent неизменяемое событие на карте
type MapEvent struct {
	ID        string    `json:"id" bson:"id"`
	Kind      EventKind `json:"type" bson:"type"`
	Tick      int       `json:"tick" bson:"tick"`
	RoundTime float64   `json:"round_time" bson:"round_time"` // секунды от начала раунда, вычисляется Normalize
	X         float64   `json:"x" bson:"x"`
	Y         float64   `json:"y" bson:"y"`
	ActorID   string    `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	TargetID  string    `json:"target_id,omitempty" bson:"target_id,omitempty"`
	Weapon    string    `json:"weapon,omitempty" bson:"weapon,omitempty"`
	Headshot  bool      `json:"headshot,omitempty" bson:"headshot,omitempty"`
}

// Point возвращает позицию события как вектор
func (e MapEvent) Point() vec.Vec2 {
	return vec.Vec2{X: e.X, Y: e.Y}
}

// RoundPhase фаза раунда
type RoundPhase string

const (
	PhasePreRound RoundPhase = "pre_round"
	PhaseLive     RoundPhase = "live"
	PhaseEnded    RoundPhase = "ended"
)

// RoundState состояние раунда
type RoundState struct {
	Number      int        `json:"number" bson:"number"`
	Phase       RoundPhase `json:"phase" bson:"phase"`
	TimeLeft    int        `json:"time_left" bson:"time_left"` // секунды до конца фазы
	ScoreCT     int        `json:"score_ct" bson:"score_ct"`
	ScoreT      int        `json:"score_t" bson:"score_t"`
	BombPlanted bool       `json:"bomb_planted" bson:"bomb_planted"`
	Site        string     `json:"site,omitempty" bson:"site,omitempty"`
	StartTick   int        `json:"start_tick" bson:"start_tick"`
	EndTick     int        `json:"end_tick" bson:"end_tick"`
	Winner      Team       `json:"winner,omitempty" bson:"winner,omitempty"`
}

// Contains проверяет, попадает ли тик в границы раунда
func (r RoundState) Contains(tick int) bool {
	if tick < r.StartTick {
		return false
	}
	return r.EndTick <= 0 || tick <= r.EndTick
}

// Frame снимок позиций всех игроков на тике
type Frame struct {
	Tick    int              `json:"tick" bson:"tick"`
	Players []PlayerPosition `json:"players" bson:"players"`
}

// ScoreboardRow строка таблицы результатов
type ScoreboardRow struct {
	PlayerID  string  `json:"player_id" bson:"player_id"`
	Name      string  `json:"name" bson:"name"`
	Team      Team    `json:"team" bson:"team"`
	Kills     int     `json:"kills" bson:"kills"`
	Deaths    int     `json:"deaths" bson:"deaths"`
	Assists   int     `json:"assists" bson:"assists"`
	Headshots int     `json:"headshots" bson:"headshots"`
	ADR       float64 `json:"adr" bson:"adr"`
}

// Replay документ повтора целиком
type Replay struct {
	ID         string          `json:"id" bson:"_id"`
	MapName    string          `json:"map_name" bson:"map_name"`
	TickRate   int             `json:"tick_rate" bson:"tick_rate"`
	MaxTick    int             `json:"max_tick" bson:"max_tick"`
	Rounds     []RoundState    `json:"rounds" bson:"rounds"`
	Events     []MapEvent      `json:"events" bson:"events"`
	Frames     []Frame         `json:"frames" bson:"frames"`
	Scoreboard []ScoreboardRow `json:"scoreboard,omitempty" bson:"scoreboard,omitempty"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
}

// Summary краткое описание повтора для списков
type Summary struct {
	ID         string    `json:"id"`
	MapName    string    `json:"map_name"`
	MaxTick    int       `json:"max_tick"`
	TickRate   int       `json:"tick_rate"`
	RoundCount int       `json:"round_count"`
	EventCount int       `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summary возвращает краткое описание повтора
func (r *Replay) Summary() Summary {
	return Summary{
		ID:         r.ID,
		MapName:    r.MapName,
		MaxTick:    r.MaxTick,
		TickRate:   r.TickRate,
		RoundCount: len(r.Rounds),
		EventCount: len(r.Events),
		CreatedAt:  r.CreatedAt,
	}
}
