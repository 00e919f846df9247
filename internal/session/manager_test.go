package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leetgaming-pro/replay-minimap/internal/eventbus"
	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/playback"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"github.com/leetgaming-pro/replay-minimap/internal/storage"
	"github.com/leetgaming-pro/replay-minimap/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frames общий канал кадров для всех циклов часов в тесте
type frames struct {
	ch chan time.Time
}

func newFrames() *frames { return &frames{ch: make(chan time.Time)} }

func (f *frames) Frames() <-chan time.Time { return f.ch }
func (f *frames) Stop()                    {}

func (f *frames) factory() playback.FrameSourceFactory {
	return func() playback.FrameSource { return f }
}

// tick отправляет кадр, если цикл его ждёт
func (f *frames) tick(t *testing.T) {
	t.Helper()
	select {
	case f.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("цикл кадров не ждёт кадр")
	}
}

func testReplay() *replay.Replay {
	r := &replay.Replay{
		ID:       "r1",
		MapName:  "de_dust2",
		TickRate: 64,
		Rounds: []replay.RoundState{
			{Number: 1, Phase: replay.PhaseLive, StartTick: 0, EndTick: 1000},
		},
		Frames: []replay.Frame{
			{Tick: 0, Players: []replay.PlayerPosition{
				{ID: "p1", Name: "ZywOo", Team: replay.TeamCT, X: 20, Y: 20, Alive: true, Health: 100},
				{ID: "p2", Name: "ropz", Team: replay.TeamT, X: 80, Y: 80, Alive: true, Health: 100},
			}},
		},
		Events: []replay.MapEvent{
			{ID: "e1", Kind: replay.EventGrenadeSmoke, Tick: 0, X: 50, Y: 50},
			{ID: "e2", Kind: replay.EventKill, Tick: 0, X: 60, Y: 60, ActorID: "p1", TargetID: "p2"},
		},
		MaxTick: 100,
	}
	r.Normalize()
	return r
}

type recorder struct {
	mu     sync.Mutex
	events []*eventbus.Envelope
}

func (r *recorder) handler(ctx context.Context, ev *eventbus.Envelope) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fixture struct {
	mgr    *Manager
	bus    eventbus.EventBus
	rec    *recorder
	frames *frames
	now    time.Time
	clicks []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := storage.NewMemoryReplayRepo()
	require.NoError(t, repo.Save(context.Background(), testReplay()))

	f := &fixture{
		bus:    eventbus.NewMemoryBus(64),
		rec:    &recorder{},
		frames: newFrames(),
		now:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	_, err := f.bus.Subscribe(context.Background(), eventbus.Filter{}, f.rec.handler)
	require.NoError(t, err)

	f.mgr = NewManager(repo, f.bus, Config{IdleTTL: time.Minute},
		WithFrameSource(f.frames.factory()),
		WithClock(func() time.Time { return f.now }),
		WithClickHandler(func(sessionID, playerID string) { f.clicks = append(f.clicks, playerID) }),
	)
	t.Cleanup(func() {
		f.mgr.Shutdown()
		f.bus.Close()
	})
	return f
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	s, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "r1", snap.ReplayID)
	assert.Equal(t, "de_dust2", snap.MapName)
	assert.Equal(t, 0, snap.Tick)
	assert.Equal(t, 100, snap.MaxTick)
	assert.False(t, snap.Playing)
	assert.Equal(t, 1.0, snap.Speed)
	assert.Equal(t, minimap.DefaultToggles(), snap.Toggles)
	assert.Equal(t, 1, snap.Round)

	got, err := f.mgr.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestCreateMissingReplay(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Create(context.Background(), "nope")
	assert.ErrorIs(t, err, replay.ErrReplayNotFound)
}

func TestSeekClampsAndNotifies(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)

	updates, cancel := s.Subscribe(8)
	defer cancel()

	assert.Equal(t, 100, s.Seek(5000).Tick)
	assert.Equal(t, 0, s.Seek(-5).Tick)

	u := <-updates
	assert.Equal(t, UpdateSeek, u.Type)

	require.NoError(t, f.bus.Close())
	assert.Contains(t, f.rec.types(), eventbus.TypePlaybackSeek)
	assert.Contains(t, f.rec.types(), eventbus.TypeSessionOpened)
}

func TestPlaybackAdvancesAndAutoPauses(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)

	assert.True(t, s.TogglePlay().Playing)
	f.frames.tick(t)
	f.frames.tick(t)
	require.Eventually(t, func() bool { return s.Snapshot().Tick == 20 }, time.Second, 5*time.Millisecond)

	s.Seek(95)
	f.frames.tick(t)
	require.Eventually(t, func() bool { return !s.Snapshot().Playing }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 100, s.Snapshot().Tick)

	// Play на maxTick начинает сначала
	assert.True(t, s.Play().Playing)
	assert.Equal(t, 0, s.Snapshot().Tick)
	s.Pause()
}

func TestSpeedScalesStep(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)

	snap, err := s.SetSpeed(2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, snap.Speed)
	assert.Equal(t, 20, snap.Step)

	_, err = s.SetSpeed(3)
	assert.ErrorIs(t, err, playback.ErrUnsupportedSpeed)
	assert.Equal(t, 2.0, s.Snapshot().Speed)
}

func TestClickFocusesPlayer(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)

	pl, ok := s.Click(vec.Vec2{X: 21, Y: 19})
	require.True(t, ok)
	assert.Equal(t, "p1", pl.ID)
	assert.Equal(t, "p1", s.Snapshot().FocusID)
	assert.Equal(t, []string{"p1"}, f.clicks)

	// Промах не сбрасывает фокус и не вызывает обработчик
	_, ok = s.Click(vec.Vec2{X: 50, Y: 10})
	assert.False(t, ok)
	assert.Equal(t, "p1", s.Snapshot().FocusID)
	assert.Len(t, f.clicks, 1)

	assert.Empty(t, s.ClearFocus().FocusID)
}

func TestHoverAt(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, "p2", s.HoverAt(vec.Vec2{X: 79, Y: 81}).HoverID)
	assert.Empty(t, s.HoverAt(vec.Vec2{X: 0, Y: 100}).HoverID)
}

func TestSceneRespectsToggles(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)

	scene := s.Scene(nil)
	assert.Len(t, scene.Players, 2)
	assert.Len(t, scene.Events, 2)
	require.NotNil(t, scene.Round)
	assert.Equal(t, 1, scene.Round.Number)

	s.SetToggles(minimap.Toggles{ShowNames: false, ShowEvents: true, ShowGrenades: false})
	scene = s.Scene(nil)
	require.Len(t, scene.Events, 1)
	assert.Equal(t, "e2", scene.Events[0].Event.ID)
	assert.False(t, scene.Toggles.ShowNames)
}

func TestReapIdleSessions(t *testing.T) {
	f := newFixture(t)
	idle, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)
	watched, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)
	_, cancel := watched.Subscribe(1)
	defer cancel()

	f.now = f.now.Add(30 * time.Second)
	assert.Zero(t, f.mgr.Reap())

	f.now = f.now.Add(31 * time.Second)
	assert.Equal(t, 1, f.mgr.Reap())

	_, err = f.mgr.Get(idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.mgr.Get(watched.ID)
	assert.NoError(t, err)
}

func TestCloseNotifiesSubscribers(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create(context.Background(), "r1")
	require.NoError(t, err)

	updates, cancel := s.Subscribe(4)
	require.NoError(t, f.mgr.Close(s.ID))
	cancel() // повторная отписка после закрытия безопасна

	var last Update
	for u := range updates {
		last = u
	}
	assert.Equal(t, UpdateClosed, last.Type)
	assert.ErrorIs(t, f.mgr.Close(s.ID), ErrSessionNotFound)
}

func TestCloseReplay(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.mgr.Create(context.Background(), "r1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.mgr.CloseReplay("r1"))
	assert.Zero(t, f.mgr.Count())
}

func TestCreateRespectsSessionLimitConcurrently(t *testing.T) {
	repo := storage.NewMemoryReplayRepo()
	require.NoError(t, repo.Save(context.Background(), testReplay()))
	mgr := NewManager(repo, nil, Config{MaxSessions: 2}, WithFrameSource(newFrames().factory()))
	defer mgr.Shutdown()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		limited int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Create(context.Background(), "r1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if assert.ErrorIs(t, err, ErrTooManySessions) {
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, created)
	assert.Equal(t, 30, limited)
	assert.Equal(t, 2, mgr.Count())
}

// slowBus задерживает события кадров до release, остальные принимает сразу
type slowBus struct {
	release chan struct{}

	mu     sync.Mutex
	frames int
}

func (b *slowBus) Publish(ctx context.Context, ev *eventbus.Envelope) error {
	if ev.EventType == eventbus.TypePlaybackFrame {
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
		b.frames++
		b.mu.Unlock()
	}
	return nil
}

func (b *slowBus) Subscribe(ctx context.Context, f eventbus.Filter, h eventbus.Handler) (eventbus.Subscription, error) {
	return nil, nil
}

func (b *slowBus) Metrics() eventbus.Stats { return eventbus.Stats{} }
func (b *slowBus) Close() error            { return nil }

func (b *slowBus) published() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

func TestSlowBusDoesNotStallPlayback(t *testing.T) {
	repo := storage.NewMemoryReplayRepo()
	require.NoError(t, repo.Save(context.Background(), testReplay()))

	bus := &slowBus{release: make(chan struct{})}
	src := newFrames()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var nowMu sync.Mutex
	mgr := NewManager(repo, bus, Config{FrameEventInterval: time.Second},
		WithFrameSource(src.factory()),
		WithClock(func() time.Time {
			nowMu.Lock()
			defer nowMu.Unlock()
			return now
		}),
	)
	defer mgr.Shutdown()

	s, err := mgr.Create(context.Background(), "r1")
	require.NoError(t, err)
	s.Play()

	// Каждый кадр попадает в шину, но шина не отвечает: цикл всё равно продвигает тик
	for i := 1; i <= 4; i++ {
		nowMu.Lock()
		now = now.Add(2 * time.Second)
		nowMu.Unlock()

		select {
		case src.ch <- time.Now():
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("кадр %d не принят: цикл ждёт шину", i)
		}
		want := i * playback.DefaultStep
		require.Eventually(t, func() bool { return s.Snapshot().Tick == want }, time.Second, 5*time.Millisecond)
	}

	close(bus.release)
	require.Eventually(t, func() bool { return bus.published() > 0 }, time.Second, 5*time.Millisecond)
	s.Pause()
}
