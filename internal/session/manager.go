// Package session управляет сессиями просмотра повторов: часы воспроизведения,
// переключатели слоёв, hover/focus и поток обновлений для WebSocket.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leetgaming-pro/replay-minimap/internal/eventbus"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/playback"
	"github.com/leetgaming-pro/replay-minimap/internal/projector"
	"github.com/leetgaming-pro/replay-minimap/internal/storage"
)

// ErrSessionNotFound сессия не существует или истекла
var ErrSessionNotFound = errors.New("session not found")

// ErrTooManySessions достигнут лимит сессий
var ErrTooManySessions = errors.New("too many sessions")

// Config параметры сессий
type Config struct {
	Step               int
	Policy             playback.StepPolicy
	FPS                int
	EventWindow        int
	HitRadius          float64
	IdleTTL            time.Duration
	MaxSessions        int
	FrameEventInterval time.Duration // как часто кадры попадают в шину
}

func (c *Config) applyDefaults() {
	if c.Step <= 0 {
		c.Step = playback.DefaultStep
	}
	if c.FPS <= 0 {
		c.FPS = playback.DefaultFPS
	}
	if c.EventWindow <= 0 {
		c.EventWindow = projector.DefaultWindow
	}
	if c.HitRadius <= 0 {
		c.HitRadius = minimap.DefaultHitRadius
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1000
	}
	if c.FrameEventInterval <= 0 {
		c.FrameEventInterval = time.Second
	}
}

// frameQueueSize ёмкость очереди событий кадров на публикацию
const frameQueueSize = 64

// ClickHandler получает onPlayerClick
type ClickHandler func(sessionID, playerID string)

// Option настраивает Manager
type Option func(*Manager)

// WithFrameSource подменяет источник кадров (тесты, синхронизация с внешним таймером)
func WithFrameSource(f playback.FrameSourceFactory) Option {
	return func(m *Manager) { m.frames = f }
}

// WithClock подменяет источник времени для TTL
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithClickHandler регистрирует обработчик клика по игроку
func WithClickHandler(h ClickHandler) Option {
	return func(m *Manager) { m.onClick = h }
}

// Manager реестр сессий
type Manager struct {
	repo    storage.ReplayRepo
	bus     eventbus.EventBus
	cfg     Config
	frames  playback.FrameSourceFactory
	now     func() time.Time
	onClick ClickHandler
	log     *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// События кадров публикует отдельная горутина, цикл кадров в шине не ждёт
	frameEvents chan *eventbus.Envelope

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager создаёт менеджер. bus может быть nil.
func NewManager(repo storage.ReplayRepo, bus eventbus.EventBus, cfg Config, opts ...Option) *Manager {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		repo:        repo,
		bus:         bus,
		cfg:         cfg,
		now:         time.Now,
		log:         logging.GetPlaybackLogger(),
		sessions:    make(map[string]*Session),
		frameEvents: make(chan *eventbus.Envelope, frameQueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.frames == nil {
		m.frames = playback.TickerSource(cfg.FPS)
	}
	if bus != nil {
		m.wg.Add(1)
		go m.publishFrames()
	}
	return m
}

// Config действующие параметры
func (m *Manager) Config() Config {
	return m.cfg
}

// Create открывает сессию для сохранённого повтора
func (m *Manager) Create(ctx context.Context, replayID string) (*Session, error) {
	rep, err := m.repo.Load(ctx, replayID)
	if err != nil {
		return nil, err
	}

	ctrl := playback.NewController(playback.Options{
		MaxTick: rep.MaxTick,
		Step:    m.cfg.Step,
		Policy:  m.cfg.Policy,
	})
	s := &Session{
		ID:       uuid.NewString(),
		ReplayID: rep.ID,
		rep:      rep,
		clock:    playback.NewClock(ctrl, m.frames),
		mgr:      m,
		toggles:  minimap.DefaultToggles(),
		lastSeen: m.now(),
	}
	ctrl.SetListener(listener{s: s})

	// Часы ещё не запущены, поэтому отказ не требует уборки
	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrTooManySessions, m.cfg.MaxSessions)
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("🎬 Сессия %s открыта для повтора %s (%s, maxTick=%d)", s.ID, rep.ID, rep.MapName, rep.MaxTick)
	m.publish(eventbus.TypeSessionOpened, eventbus.PriorityCommand, s.ID, eventbus.PlaybackPayload{
		SessionID: s.ID,
		ReplayID:  rep.ID,
		MaxTick:   rep.MaxTick,
		Speed:     1,
	})
	return s, nil
}

// Get возвращает сессию и продлевает её жизнь
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.touch()
	return s, nil
}

// Close закрывает сессию
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	m.closeSession(s, "closed")
	return nil
}

// CloseReplay закрывает все сессии повтора (после удаления)
func (m *Manager) CloseReplay(replayID string) int {
	m.mu.Lock()
	victims := make([]*Session, 0)
	for id, s := range m.sessions {
		if s.ReplayID == replayID {
			victims = append(victims, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		m.closeSession(s, "replay deleted")
	}
	return len(victims)
}

// Count количество открытых сессий
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap закрывает сессии без подписчиков, простаивающие дольше IdleTTL
func (m *Manager) Reap() int {
	deadline := m.now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	victims := make([]*Session, 0)
	for id, s := range m.sessions {
		if s.Subscribers() == 0 && s.idleSince().Before(deadline) {
			victims = append(victims, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		m.closeSession(s, "idle")
	}
	if len(victims) > 0 {
		m.log.Info("🧹 Закрыто %d неактивных сессий", len(victims))
	}
	return len(victims)
}

// StartJanitor периодически вызывает Reap до Shutdown
func (m *Manager) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Reap()
			case <-m.ctx.Done():
				return
			}
		}
	}()
}

// Shutdown останавливает уборщик и закрывает все сессии
func (m *Manager) Shutdown() {
	m.stopOnce.Do(m.cancel)
	m.wg.Wait()

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.closeSession(s, "shutdown")
	}
}

func (m *Manager) closeSession(s *Session, reason string) {
	snap := s.Snapshot()
	s.shutdown()
	m.log.Info("🛑 Сессия %s закрыта (%s)", s.ID, reason)
	m.publish(eventbus.TypeSessionClosed, eventbus.PriorityCommand, s.ID, eventbus.PlaybackPayload{
		SessionID: s.ID,
		ReplayID:  s.ReplayID,
		Tick:      snap.Tick,
		MaxTick:   snap.MaxTick,
		Speed:     snap.Speed,
	})
}

func (m *Manager) playerClicked(s *Session, playerID string, snap Snapshot) {
	m.log.Debug("🖱️ Сессия %s: клик по игроку %s на тике %d", s.ID, playerID, snap.Tick)
	m.publishPlayback(s, UpdatePlayerClick, playerID, snap)
	if m.onClick != nil {
		m.onClick(s.ID, playerID)
	}
}

var busTypes = map[string]string{
	UpdateSeek:        eventbus.TypePlaybackSeek,
	UpdateTogglePlay:  eventbus.TypePlaybackToggle,
	UpdateSpeedChange: eventbus.TypePlaybackSpeed,
	UpdateFrame:       eventbus.TypePlaybackFrame,
	UpdatePlayerClick: eventbus.TypePlayerClick,
}

func (m *Manager) publishPlayback(s *Session, kind, playerID string, snap Snapshot) {
	typ, ok := busTypes[kind]
	if !ok {
		return
	}
	if kind != UpdateFrame {
		logging.LogPlaybackTransition(s.ID, snap.Tick, snap.MaxTick, snap.Playing, snap.Speed)
	}

	payload := eventbus.PlaybackPayload{
		SessionID: s.ID,
		ReplayID:  s.ReplayID,
		Tick:      snap.Tick,
		MaxTick:   snap.MaxTick,
		Playing:   snap.Playing,
		Speed:     snap.Speed,
		PlayerID:  playerID,
	}
	if kind == UpdateFrame {
		m.enqueueFrame(s.ID, payload)
		return
	}
	m.publish(typ, eventbus.PriorityCommand, s.ID, payload)
}

// enqueueFrame ставит событие кадра в очередь; при переполнении кадр теряется
func (m *Manager) enqueueFrame(sessionID string, payload eventbus.PlaybackPayload) {
	if m.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventbus.TypePlaybackFrame, eventbus.PriorityFrame, sessionID, payload)
	if err != nil {
		m.log.Warn("⚠️ %v", err)
		return
	}
	select {
	case m.frameEvents <- ev:
	default:
		m.log.Debug("Очередь кадров переполнена, событие сессии %s пропущено", sessionID)
	}
}

func (m *Manager) publishFrames() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.frameEvents:
			m.send(m.ctx, ev)
		}
	}
}

func (m *Manager) publish(typ string, prio int, correlationID string, payload any) {
	if m.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(typ, prio, correlationID, payload)
	if err != nil {
		m.log.Warn("⚠️ %v", err)
		return
	}
	m.send(context.Background(), ev)
}

func (m *Manager) send(parent context.Context, ev *eventbus.Envelope) {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()
	err := m.bus.Publish(ctx, ev)
	if err != nil && !errors.Is(err, eventbus.ErrBusClosed) && !errors.Is(err, context.Canceled) {
		m.log.Warn("⚠️ Не удалось опубликовать %s: %v", ev.EventType, err)
	}
}
