package replay

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultTickRate используется, если провайдер не передал частоту тиков
const DefaultTickRate = 64

var (
	// ErrInvalidReplay возвращается при нарушении инвариантов документа
	ErrInvalidReplay = errors.New("invalid replay")
	// ErrReplayNotFound возвращается хранилищами, если повтор отсутствует
	ErrReplayNotFound = errors.New("replay not found")
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidReplay, fmt.Sprintf(format, args...))
}

// Validate проверяет документ повтора
func (r *Replay) Validate() error {
	if r.ID == "" {
		return invalid("empty replay id")
	}
	if r.MaxTick < 0 {
		return invalid("negative max_tick %d", r.MaxTick)
	}
	if r.TickRate < 0 {
		return invalid("negative tick_rate %d", r.TickRate)
	}

	for i, ev := range r.Events {
		if ev.ID == "" {
			return invalid("event #%d has empty id", i)
		}
		if !ev.Kind.Valid() {
			return invalid("event %s has unknown type %q", ev.ID, ev.Kind)
		}
		if ev.Tick < 0 {
			return invalid("event %s has negative tick %d", ev.ID, ev.Tick)
		}
		if !inRange(ev.X) || !inRange(ev.Y) {
			return invalid("event %s position (%.2f,%.2f) out of [0,100]", ev.ID, ev.X, ev.Y)
		}
	}

	for _, fr := range r.Frames {
		if fr.Tick < 0 {
			return invalid("frame has negative tick %d", fr.Tick)
		}
		for _, p := range fr.Players {
			if p.ID == "" {
				return invalid("frame %d has player with empty id", fr.Tick)
			}
			if !p.Team.Valid() {
				return invalid("player %s has unknown team %q", p.ID, p.Team)
			}
			if !inRange(p.X) || !inRange(p.Y) {
				return invalid("player %s position (%.2f,%.2f) out of [0,100]", p.ID, p.X, p.Y)
			}
			if p.Health < 0 || p.Health > 100 {
				return invalid("player %s health %d out of [0,100]", p.ID, p.Health)
			}
		}
	}

	for _, rd := range r.Rounds {
		switch rd.Phase {
		case PhasePreRound, PhaseLive, PhaseEnded, "":
		default:
			return invalid("round %d has unknown phase %q", rd.Number, rd.Phase)
		}
		if rd.EndTick > 0 && rd.EndTick < rd.StartTick {
			return invalid("round %d ends before it starts", rd.Number)
		}
	}
	return nil
}

func inRange(v float64) bool {
	return v >= 0 && v <= 100
}

// Normalize упорядочивает кадры и события по тику, выводит MaxTick и время событий в раунде.
// Повторный вызов ничего не меняет.
func (r *Replay) Normalize() {
	if r.TickRate <= 0 {
		r.TickRate = DefaultTickRate
	}

	sort.SliceStable(r.Events, func(i, j int) bool { return r.Events[i].Tick < r.Events[j].Tick })
	sort.SliceStable(r.Frames, func(i, j int) bool { return r.Frames[i].Tick < r.Frames[j].Tick })
	sort.SliceStable(r.Rounds, func(i, j int) bool { return r.Rounds[i].StartTick < r.Rounds[j].StartTick })

	if r.MaxTick == 0 {
		for _, ev := range r.Events {
			if ev.Tick > r.MaxTick {
				r.MaxTick = ev.Tick
			}
		}
		if n := len(r.Frames); n > 0 && r.Frames[n-1].Tick > r.MaxTick {
			r.MaxTick = r.Frames[n-1].Tick
		}
	}

	for i := range r.Events {
		start := 0
		if rd, ok := r.RoundAt(r.Events[i].Tick); ok {
			start = rd.StartTick
		}
		r.Events[i].RoundTime = float64(r.Events[i].Tick-start) / float64(r.TickRate)
	}
}

// FrameAt возвращает последний кадр с Tick <= tick. До первого кадра снимок пуст.
func (r *Replay) FrameAt(tick int) Frame {
	// Первый кадр с Tick > tick
	idx := sort.Search(len(r.Frames), func(i int) bool { return r.Frames[i].Tick > tick })
	if idx == 0 {
		return Frame{Tick: tick}
	}
	return r.Frames[idx-1]
}

// RoundAt возвращает раунд, содержащий тик; иначе последний начавшийся раунд
func (r *Replay) RoundAt(tick int) (RoundState, bool) {
	var (
		last  RoundState
		found bool
	)
	for _, rd := range r.Rounds {
		if rd.Contains(tick) {
			return rd, true
		}
		if rd.StartTick <= tick {
			last = rd
			found = true
		}
	}
	return last, found
}

// Player ищет игрока по id в последнем кадре до тика
func (r *Replay) Player(tick int, id string) (PlayerPosition, bool) {
	for _, p := range r.FrameAt(tick).Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerPosition{}, false
}

// PlayerNames возвращает отображение id -> имя по всем кадрам
func (r *Replay) PlayerNames() map[string]string {
	names := make(map[string]string)
	for _, fr := range r.Frames {
		for _, p := range fr.Players {
			if _, ok := names[p.ID]; !ok {
				names[p.ID] = p.Name
			}
		}
	}
	for _, row := range r.Scoreboard {
		if _, ok := names[row.PlayerID]; !ok {
			names[row.PlayerID] = row.Name
		}
	}
	return names
}
