// Package panels форматирует табличные панели повтора: таблицу результатов,
// ленту убийств и хронологию раундов. Только чтение готовых данных.
package panels

import (
	"fmt"
	"math"
	"sort"

	"github.com/leetgaming-pro/replay-minimap/internal/replay"
)

// ScoreRow строка таблицы результатов с производными полями
type ScoreRow struct {
	replay.ScoreboardRow
	KD           float64 `json:"kd"`
	HeadshotRate float64 `json:"headshot_rate"`
}

// Scoreboard сортирует строки: убийства по убыванию, смерти по возрастанию, имя
func Scoreboard(rows []replay.ScoreboardRow) []ScoreRow {
	out := make([]ScoreRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, ScoreRow{
			ScoreboardRow: r,
			KD:            ratio(r.Kills, r.Deaths),
			HeadshotRate:  percent(r.Headshots, r.Kills),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kills != b.Kills {
			return a.Kills > b.Kills
		}
		if a.Deaths != b.Deaths {
			return a.Deaths < b.Deaths
		}
		return a.Name < b.Name
	})
	return out
}

// ScoreboardFromEvents строит таблицу по событиям убийств, если провайдер её не прислал
func ScoreboardFromEvents(r *replay.Replay) []replay.ScoreboardRow {
	rows := make(map[string]*replay.ScoreboardRow)
	order := make([]string, 0)
	names := r.PlayerNames()

	teams := make(map[string]replay.Team)
	for _, fr := range r.Frames {
		for _, p := range fr.Players {
			teams[p.ID] = p.Team
		}
	}

	get := func(id string) *replay.ScoreboardRow {
		row, ok := rows[id]
		if !ok {
			row = &replay.ScoreboardRow{PlayerID: id, Name: names[id], Team: teams[id]}
			rows[id] = row
			order = append(order, id)
		}
		return row
	}

	for id := range teams {
		get(id)
	}

	for _, ev := range r.Events {
		if ev.Kind != replay.EventKill {
			continue
		}
		if ev.ActorID != "" {
			actor := get(ev.ActorID)
			actor.Kills++
			if ev.Headshot {
				actor.Headshots++
			}
		}
		if ev.TargetID != "" {
			get(ev.TargetID).Deaths++
		}
	}

	sort.Strings(order)
	out := make([]replay.ScoreboardRow, 0, len(order))
	for _, id := range order {
		out = append(out, *rows[id])
	}
	return out
}

// KillFeedEntry строка ленты убийств
type KillFeedEntry struct {
	EventID    string      `json:"event_id"`
	Tick       int         `json:"tick"`
	Clock      string      `json:"clock"`
	Killer     string      `json:"killer"`
	KillerTeam replay.Team `json:"killer_team,omitempty"`
	Victim     string      `json:"victim"`
	VictimTeam replay.Team `json:"victim_team,omitempty"`
	Weapon     string      `json:"weapon,omitempty"`
	Headshot   bool        `json:"headshot"`
}

// KillFeedLines форматирует события ленты с именами игроков
func KillFeedLines(events []replay.MapEvent, r *replay.Replay) []KillFeedEntry {
	names := r.PlayerNames()
	out := make([]KillFeedEntry, 0, len(events))
	for _, ev := range events {
		entry := KillFeedEntry{
			EventID:  ev.ID,
			Tick:     ev.Tick,
			Clock:    FormatClock(ev.RoundTime),
			Killer:   displayName(names, ev.ActorID),
			Victim:   displayName(names, ev.TargetID),
			Weapon:   ev.Weapon,
			Headshot: ev.Headshot,
		}
		if p, ok := r.Player(ev.Tick, ev.ActorID); ok {
			entry.KillerTeam = p.Team
		}
		if p, ok := r.Player(ev.Tick, ev.TargetID); ok {
			entry.VictimTeam = p.Team
		}
		out = append(out, entry)
	}
	return out
}

func displayName(names map[string]string, id string) string {
	if id == "" {
		return "world"
	}
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}

// TimelineEntry элемент хронологии раундов
type TimelineEntry struct {
	Round       int         `json:"round"`
	StartTick   int         `json:"start_tick"`
	EndTick     int         `json:"end_tick"`
	Winner      replay.Team `json:"winner,omitempty"`
	ScoreCT     int         `json:"score_ct"`
	ScoreT      int         `json:"score_t"`
	Kills       int         `json:"kills"`
	PlantTick   int         `json:"plant_tick,omitempty"`
	DefuseTick  int         `json:"defuse_tick,omitempty"`
	Site        string      `json:"site,omitempty"`
	Description string      `json:"description"`
}

// Timeline строит хронологию: один элемент на раунд
func Timeline(r *replay.Replay) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(r.Rounds))
	for _, rd := range r.Rounds {
		entry := TimelineEntry{
			Round:     rd.Number,
			StartTick: rd.StartTick,
			EndTick:   rd.EndTick,
			Winner:    rd.Winner,
			ScoreCT:   rd.ScoreCT,
			ScoreT:    rd.ScoreT,
			Site:      rd.Site,
		}
		for _, ev := range r.Events {
			if !rd.Contains(ev.Tick) {
				continue
			}
			switch ev.Kind {
			case replay.EventKill:
				entry.Kills++
			case replay.EventBombPlant:
				if entry.PlantTick == 0 {
					entry.PlantTick = ev.Tick
				}
			case replay.EventBombDefuse:
				if entry.DefuseTick == 0 {
					entry.DefuseTick = ev.Tick
				}
			}
		}
		entry.Description = describeRound(entry)
		out = append(out, entry)
	}
	return out
}

func describeRound(e TimelineEntry) string {
	winner := "undecided"
	switch e.Winner {
	case replay.TeamCT:
		winner = "CT win"
	case replay.TeamT:
		winner = "T win"
	}
	s := fmt.Sprintf("Round %d: %s (%d-%d), %d kills", e.Round, winner, e.ScoreCT, e.ScoreT, e.Kills)
	if e.PlantTick > 0 {
		s += ", bomb planted"
		if e.Site != "" {
			s += " at " + e.Site
		}
	}
	if e.DefuseTick > 0 {
		s += ", defused"
	}
	return s
}

// FormatClock форматирует секунды как m:ss; отрицательные значения дают 0:00
func FormatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func ratio(a, b int) float64 {
	if b == 0 {
		return float64(a)
	}
	return math.Round(float64(a)/float64(b)*100) / 100
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}
