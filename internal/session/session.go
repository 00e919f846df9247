package session

import (
	"image"
	"sync"
	"time"

	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/playback"
	"github.com/leetgaming-pro/replay-minimap/internal/projector"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"github.com/leetgaming-pro/replay-minimap/internal/vec"
)

// Типы обновлений для подписчиков сессии
const (
	UpdateSeek        = "seek"
	UpdateTogglePlay  = "toggle_play"
	UpdateSpeedChange = "speed_change"
	UpdateFrame       = "frame"
	UpdatePlayerClick = "player_click"
	UpdateView        = "view" // переключатели, hover, focus
	UpdateClosed      = "closed"
)

// Snapshot состояние сессии для клиента
type Snapshot struct {
	SessionID string          `json:"session_id"`
	ReplayID  string          `json:"replay_id"`
	MapName   string          `json:"map_name"`
	Tick      int             `json:"tick"`
	MaxTick   int             `json:"max_tick"`
	Playing   bool            `json:"playing"`
	Speed     float64         `json:"speed"`
	Step      int             `json:"step"`
	Toggles   minimap.Toggles `json:"toggles"`
	HoverID   string          `json:"hover_id,omitempty"`
	FocusID   string          `json:"focus_id,omitempty"`
	Round     int             `json:"round,omitempty"`
}

// Update сообщение потока состояния
type Update struct {
	Type     string   `json:"type"`
	PlayerID string   `json:"player_id,omitempty"`
	State    Snapshot `json:"state"`
}

// Session одна сессия просмотра повтора. Владеет часами и UI-состоянием.
type Session struct {
	ID       string
	ReplayID string

	rep   *replay.Replay
	clock *playback.Clock
	mgr   *Manager

	mu        sync.Mutex
	toggles   minimap.Toggles
	hoverID   string
	focusID   string
	lastSeen  time.Time
	lastFrame time.Time
	closed    bool

	subsMu  sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

// Replay данные повтора сессии (только чтение)
func (s *Session) Replay() *replay.Replay {
	return s.rep
}

// Snapshot текущее состояние
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.clock.Controller().State())
}

func (s *Session) snapshotLocked(st playback.State) Snapshot {
	snap := Snapshot{
		SessionID: s.ID,
		ReplayID:  s.ReplayID,
		MapName:   s.rep.MapName,
		Tick:      st.CurrentTick,
		MaxTick:   st.MaxTick,
		Playing:   st.Playing,
		Speed:     st.Speed,
		Step:      s.clock.Controller().StepSize(),
		Toggles:   s.toggles,
		HoverID:   s.hoverID,
		FocusID:   s.focusID,
	}
	if rd, ok := s.rep.RoundAt(st.CurrentTick); ok {
		snap.Round = rd.Number
	}
	return snap
}

// TogglePlay переключает воспроизведение
func (s *Session) TogglePlay() Snapshot {
	s.touch()
	s.clock.TogglePlay()
	return s.Snapshot()
}

// Play запускает воспроизведение
func (s *Session) Play() Snapshot {
	s.touch()
	s.clock.Play()
	return s.Snapshot()
}

// Pause ставит на паузу
func (s *Session) Pause() Snapshot {
	s.touch()
	s.clock.Pause()
	return s.Snapshot()
}

// Seek перемещает позицию (прижимается к [0, maxTick])
func (s *Session) Seek(tick int) Snapshot {
	s.touch()
	s.clock.Seek(tick)
	return s.Snapshot()
}

// SetSpeed меняет скорость; недопустимое значение возвращает ErrUnsupportedSpeed
func (s *Session) SetSpeed(speed float64) (Snapshot, error) {
	s.touch()
	if err := s.clock.SetSpeed(speed); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// SetToggles меняет видимость слоёв
func (s *Session) SetToggles(t minimap.Toggles) Snapshot {
	s.mu.Lock()
	s.lastSeen = s.mgr.now()
	s.toggles = t
	snap := s.snapshotLocked(s.clock.Controller().State())
	s.mu.Unlock()

	s.broadcast(Update{Type: UpdateView, State: snap})
	return snap
}

// SetHover задаёт игрока под курсором ("" снимает выделение)
func (s *Session) SetHover(playerID string) Snapshot {
	s.mu.Lock()
	s.lastSeen = s.mgr.now()
	changed := s.hoverID != playerID
	s.hoverID = playerID
	snap := s.snapshotLocked(s.clock.Controller().State())
	s.mu.Unlock()

	if changed {
		s.broadcast(Update{Type: UpdateView, State: snap})
	}
	return snap
}

// HoverAt выполняет hit-test в точке и обновляет hover
func (s *Session) HoverAt(p vec.Vec2) Snapshot {
	id := ""
	if pl, ok := s.hitTest(p); ok {
		id = pl.ID
	}
	return s.SetHover(id)
}

// Click выполняет hit-test; при попадании игрок получает фокус и вызывается onPlayerClick.
// Промах не меняет фокус.
func (s *Session) Click(p vec.Vec2) (replay.PlayerPosition, bool) {
	s.touch()
	pl, ok := s.hitTest(p)
	if !ok {
		return replay.PlayerPosition{}, false
	}

	s.mu.Lock()
	s.focusID = pl.ID
	snap := s.snapshotLocked(s.clock.Controller().State())
	s.mu.Unlock()

	s.broadcast(Update{Type: UpdatePlayerClick, PlayerID: pl.ID, State: snap})
	s.mgr.playerClicked(s, pl.ID, snap)
	return pl, true
}

// ClearFocus снимает фокус
func (s *Session) ClearFocus() Snapshot {
	s.mu.Lock()
	s.lastSeen = s.mgr.now()
	s.focusID = ""
	snap := s.snapshotLocked(s.clock.Controller().State())
	s.mu.Unlock()

	s.broadcast(Update{Type: UpdateView, State: snap})
	return snap
}

func (s *Session) hitTest(p vec.Vec2) (replay.PlayerPosition, bool) {
	tick := s.clock.Controller().State().CurrentTick
	return minimap.HitTest(s.rep.FrameAt(tick).Players, p, s.mgr.cfg.HitRadius)
}

// Scene собирает входные данные компоновщика для текущего тика
func (s *Session) Scene(bg image.Image) minimap.Scene {
	s.mu.Lock()
	toggles, hover, focus := s.toggles, s.hoverID, s.focusID
	s.mu.Unlock()

	tick := s.clock.Controller().State().CurrentTick
	return BuildScene(s.rep, tick, s.mgr.cfg.EventWindow, bg, toggles, hover, focus)
}

// BuildScene собирает сцену повтора на тике без сессии
func BuildScene(r *replay.Replay, tick, window int, bg image.Image, t minimap.Toggles, hoverID, focusID string) minimap.Scene {
	scene := minimap.Scene{
		Background: bg,
		Players:    r.FrameAt(tick).Players,
		Events:     projector.Visible(r.Events, tick, window, projector.Filter{HideUtility: !t.ShowGrenades}),
		HoverID:    hoverID,
		FocusID:    focusID,
		Toggles:    t,
	}
	if rd, ok := r.RoundAt(tick); ok {
		scene.Round = &rd
	}
	return scene
}

// Subscribe подписывает на поток обновлений. Медленный подписчик теряет
// промежуточные кадры, но не блокирует воспроизведение.
func (s *Session) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	s.subsMu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]chan Update)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	s.touch()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
			s.subsMu.Unlock()
		})
	}
}

// Subscribers количество активных подписчиков
func (s *Session) Subscribers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

func (s *Session) broadcast(u Update) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
			// Кадры не критичны; команды стараемся доставить, вытесняя самый старый элемент
			if u.Type == UpdateFrame {
				continue
			}
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- u:
			default:
			}
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = s.mgr.now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// shutdown останавливает часы и закрывает подписчиков
func (s *Session) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.clock.Close()
	snap := s.Snapshot()

	s.subsMu.Lock()
	for id, ch := range s.subs {
		select {
		case ch <- Update{Type: UpdateClosed, State: snap}:
		default:
		}
		close(ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
}

// listener переводит колбэки контроллера в обновления и события шины
type listener struct {
	s *Session
}

func (l listener) OnSeek(tick int) {
	l.emit(UpdateSeek, "")
}

func (l listener) OnTogglePlay(playing bool) {
	l.emit(UpdateTogglePlay, "")
}

func (l listener) OnSpeedChange(speed float64) {
	l.emit(UpdateSpeedChange, "")
}

func (l listener) OnFrame(st playback.State) {
	s := l.s
	s.mu.Lock()
	snap := s.snapshotLocked(st)
	now := s.mgr.now()
	publish := now.Sub(s.lastFrame) >= s.mgr.cfg.FrameEventInterval
	if publish {
		s.lastFrame = now
	}
	s.mu.Unlock()

	s.broadcast(Update{Type: UpdateFrame, State: snap})
	if publish {
		s.mgr.publishPlayback(s, UpdateFrame, "", snap)
	}
}

func (l listener) emit(kind, playerID string) {
	snap := l.s.Snapshot()
	l.s.broadcast(Update{Type: kind, PlayerID: playerID, State: snap})
	l.s.mgr.publishPlayback(l.s, kind, playerID, snap)
}
