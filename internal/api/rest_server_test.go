package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/leetgaming-pro/replay-minimap/internal/auth"
	"github.com/leetgaming-pro/replay-minimap/internal/cache"
	"github.com/leetgaming-pro/replay-minimap/internal/eventbus"
	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/panels"
	"github.com/leetgaming-pro/replay-minimap/internal/playback"
	"github.com/leetgaming-pro/replay-minimap/internal/projector"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"github.com/leetgaming-pro/replay-minimap/internal/session"
	"github.com/leetgaming-pro/replay-minimap/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stillFrames источник кадров, который никогда не тикает: позицию двигают только команды
type stillFrames struct{ ch chan time.Time }

func (s stillFrames) Frames() <-chan time.Time { return s.ch }
func (s stillFrames) Stop()                    {}

type testEnv struct {
	rest     *RestServer
	repo     *storage.MemoryReplayRepo
	frames   *cache.MemoryFrameCache
	sessions *session.Manager
	metrics  *RenderMetrics
	bus      eventbus.EventBus
	token    string
}

func sampleReplay() *replay.Replay {
	return &replay.Replay{
		ID:       "match-1",
		MapName:  "de_mirage",
		TickRate: 64,
		Rounds: []replay.RoundState{
			{Number: 1, Phase: replay.PhaseEnded, StartTick: 0, EndTick: 900, Winner: replay.TeamCT, ScoreCT: 1},
		},
		Frames: []replay.Frame{
			{Tick: 0, Players: []replay.PlayerPosition{
				{ID: "p1", Name: "s1mple", Team: replay.TeamCT, X: 20, Y: 20, Alive: true, Health: 100},
				{ID: "p2", Name: "NiKo", Team: replay.TeamT, X: 80, Y: 80, Alive: true, Health: 100},
			}},
			{Tick: 500, Players: []replay.PlayerPosition{
				{ID: "p1", Name: "s1mple", Team: replay.TeamCT, X: 40, Y: 40, Alive: true, Health: 70},
				{ID: "p2", Name: "NiKo", Team: replay.TeamT, X: 45, Y: 45, Alive: false},
			}},
		},
		Events: []replay.MapEvent{
			{ID: "e1", Kind: replay.EventGrenadeSmoke, Tick: 100, X: 50, Y: 50, ActorID: "p2"},
			{ID: "e2", Kind: replay.EventKill, Tick: 480, X: 45, Y: 45, ActorID: "p1", TargetID: "p2", Weapon: "awp", Headshot: true},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()

	repo := storage.NewMemoryReplayRepo()
	rep := sampleReplay()
	rep.Normalize()
	require.NoError(t, repo.Save(context.Background(), rep))

	bus := eventbus.NewMemoryBus(64)
	mgr := session.NewManager(repo, bus, session.Config{},
		session.WithFrameSource(func() playback.FrameSource { return stillFrames{ch: make(chan time.Time)} }),
	)

	users := auth.NewMemoryUserRepo()
	require.NoError(t, users.SeedAdmin("admin", "hunter2"))
	tokens, err := auth.NewTokenManager("", time.Hour)
	require.NoError(t, err)
	admin, err := users.GetUserByUsername("admin")
	require.NoError(t, err)
	token, err := tokens.GenerateJWT(admin)
	require.NoError(t, err)

	frames := cache.NewMemoryFrameCache(&cache.CacheConfig{})
	metrics := NewRenderMetrics(reg, mgr.Count)
	bg := minimap.NewBackgrounds(nil)

	rest, err := NewRestServer(Config{
		Replays:     repo,
		Sessions:    mgr,
		Bus:         bus,
		Renderer:    NewRenderer(bg, frames, metrics, time.Minute),
		Users:       users,
		Tokens:      tokens,
		Registry:    reg,
		DefaultSize: 200,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		mgr.Shutdown()
		frames.Close()
		bus.Close()
	})
	return &testEnv{rest: rest, repo: repo, frames: frames, sessions: mgr, metrics: metrics, bus: bus, token: token}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.rest.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env
}

func (e *testEnv) openSession(t *testing.T) session.Snapshot {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/replays/match-1/sessions", nil, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var snap session.Snapshot
	decode(t, w, &snap)
	return snap
}

func TestHealthAndServerInfo(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = env.do(t, http.MethodGet, "/api/server", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var info map[string]interface{}
	decode(t, w, &info)
	assert.Equal(t, Version, info["version"])
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "hunter2"}, false)
	require.Equal(t, http.StatusOK, w.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.IsAdmin)
	assert.NotEmpty(t, resp.Token)

	w = env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "nope"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadReplay(t *testing.T) {
	env := newTestEnv(t)
	sub := &collector{}
	_, err := env.bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.TypeReplayUploaded}}, sub.handle)
	require.NoError(t, err)

	upload := sampleReplay()
	upload.ID = "match-2"

	w := env.do(t, http.MethodPost, "/api/replays", upload, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "загрузка без токена")

	w = env.do(t, http.MethodPost, "/api/replays", upload, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var summary replay.Summary
	decode(t, w, &summary)
	assert.Equal(t, "match-2", summary.ID)
	assert.Equal(t, 500, summary.MaxTick, "maxTick выводится из кадров и событий")
	assert.False(t, summary.CreatedAt.IsZero())

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 10*time.Millisecond)

	w = env.do(t, http.MethodGet, "/api/replays", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Replays []replay.Summary `json:"replays"`
		Total   int              `json:"total"`
	}
	decode(t, w, &list)
	assert.Equal(t, 2, list.Total)

	w = env.do(t, http.MethodGet, "/api/replays/match-2", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var got replay.Replay
	decode(t, w, &got)
	assert.Len(t, got.Events, 2)
}

func TestUploadInvalidReplay(t *testing.T) {
	env := newTestEnv(t)

	bad := sampleReplay()
	bad.Events[0].X = 140
	w := env.do(t, http.MethodPost, "/api/replays", bad, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid replay")

	req := httptest.NewRequest(http.MethodPost, "/api/replays", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.rest.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplayNotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{
		"/api/replays/ghost",
		"/api/replays/ghost/minimap.png",
		"/api/replays/ghost/killfeed",
	} {
		w := env.do(t, http.MethodGet, path, nil, false)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := env.do(t, http.MethodPost, "/api/replays/ghost/sessions", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplayMinimapCached(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/replays/match-1/minimap.png?tick=480&size=200", nil, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	w = env.do(t, http.MethodGet, "/api/replays/match-1/minimap.png?tick=480&size=200", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.cacheMisses))

	// Другой набор слоёв это другой кадр
	w = env.do(t, http.MethodGet, "/api/replays/match-1/minimap.png?tick=480&size=200&names=false", nil, false)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
}

func TestReplayMinimapBadParams(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"size=0", "size=5000", "tick=abc", "names=maybe"} {
		w := env.do(t, http.MethodGet, "/api/replays/match-1/minimap.png?"+q, nil, false)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestReplayPanelsWindowAndLimit(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/replays/match-1/events?tick=500&window=0",
		"/api/replays/match-1/events?tick=500&window=-20",
		"/api/replays/match-1/killfeed?tick=500&limit=0",
	} {
		w := env.do(t, http.MethodGet, path, nil, false)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w := env.do(t, http.MethodGet, "/api/replays/match-1/events?tick=500", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Window int `json:"window"`
	}
	decode(t, w, &body)
	assert.Equal(t, projector.DefaultWindow, body.Window, "в ответе действующее окно")
}

func TestReplayPanels(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/replays/match-1/events?tick=500&window=500", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Events []struct {
			Event   replay.MapEvent `json:"event"`
			Opacity float64         `json:"opacity"`
		} `json:"events"`
	}
	decode(t, w, &events)
	assert.Len(t, events.Events, 2)

	w = env.do(t, http.MethodGet, "/api/replays/match-1/events?tick=500&grenades=false", nil, false)
	decode(t, w, &events)
	assert.Len(t, events.Events, 1, "гранаты скрыты")

	w = env.do(t, http.MethodGet, "/api/replays/match-1/killfeed?tick=500", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var feed struct {
		Kills []panels.KillFeedEntry `json:"kills"`
	}
	decode(t, w, &feed)
	require.Len(t, feed.Kills, 1)
	assert.Equal(t, "s1mple", feed.Kills[0].Killer)
	assert.Equal(t, "NiKo", feed.Kills[0].Victim)

	w = env.do(t, http.MethodGet, "/api/replays/match-1/killfeed?tick=100", nil, false)
	decode(t, w, &feed)
	assert.Empty(t, feed.Kills, "будущие убийства не показываются")

	w = env.do(t, http.MethodGet, "/api/replays/match-1/scoreboard", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var board struct {
		Source string            `json:"source"`
		Rows   []panels.ScoreRow `json:"rows"`
	}
	decode(t, w, &board)
	assert.Equal(t, "events", board.Source)
	require.NotEmpty(t, board.Rows)
	assert.Equal(t, "p1", board.Rows[0].PlayerID)

	w = env.do(t, http.MethodGet, "/api/replays/match-1/timeline", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var tl struct {
		Rounds []panels.TimelineEntry `json:"rounds"`
	}
	decode(t, w, &tl)
	require.Len(t, tl.Rounds, 1)
	assert.Equal(t, replay.TeamCT, tl.Rounds[0].Winner)
}

func TestSessionCommands(t *testing.T) {
	env := newTestEnv(t)
	snap := env.openSession(t)
	assert.Equal(t, 500, snap.MaxTick)
	base := "/api/sessions/" + snap.SessionID

	w := env.do(t, http.MethodPost, base+"/seek", map[string]int{"tick": 9999}, false)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &snap)
	assert.Equal(t, 500, snap.Tick, "перемотка прижимается к maxTick")

	w = env.do(t, http.MethodPost, base+"/seek", map[string]string{}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base+"/speed", map[string]float64{"speed": 3}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code, "неподдерживаемая скорость")

	w = env.do(t, http.MethodPost, base+"/speed", map[string]float64{"speed": 2}, false)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &snap)
	assert.Equal(t, 2.0, snap.Speed)
	assert.Equal(t, 20, snap.Step)

	w = env.do(t, http.MethodPost, base+"/toggle", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &snap)
	assert.True(t, snap.Playing)
	assert.Equal(t, 0, snap.Tick, "старт с конца перематывает в начало")

	w = env.do(t, http.MethodPost, base+"/pause", nil, false)
	decode(t, w, &snap)
	assert.False(t, snap.Playing)

	w = env.do(t, http.MethodPost, base+"/toggles", map[string]bool{"names": false}, false)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &snap)
	assert.False(t, snap.Toggles.ShowNames)
	assert.True(t, snap.Toggles.ShowEvents, "остальные слои не меняются")

	w = env.do(t, http.MethodGet, base, nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, base, nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, base, nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionClickAndHover(t *testing.T) {
	env := newTestEnv(t)
	snap := env.openSession(t)
	base := "/api/sessions/" + snap.SessionID

	// Промах: фокус не меняется
	w := env.do(t, http.MethodPost, base+"/click", map[string]float64{"x": 50, "y": 10}, false)
	require.Equal(t, http.StatusOK, w.Code)
	var click struct {
		Hit    bool                  `json:"hit"`
		State  session.Snapshot      `json:"state"`
		Player replay.PlayerPosition `json:"player"`
	}
	decode(t, w, &click)
	assert.False(t, click.Hit)
	assert.Empty(t, click.State.FocusID)

	// Пиксели изображения 200x200: (40, 40) это (20, 20) в нормализованных
	w = env.do(t, http.MethodPost, base+"/click", map[string]float64{"x": 40, "y": 40, "size": 200}, false)
	decode(t, w, &click)
	assert.True(t, click.Hit)
	assert.Equal(t, "p1", click.Player.ID)
	assert.Equal(t, "p1", click.State.FocusID)

	w = env.do(t, http.MethodPost, base+"/click", map[string]string{}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base+"/hover", map[string]float64{"x": 80, "y": 81}, false)
	decode(t, w, &snap)
	assert.Equal(t, "p2", snap.HoverID)

	w = env.do(t, http.MethodPost, base+"/hover", map[string]string{"player_id": ""}, false)
	decode(t, w, &snap)
	assert.Empty(t, snap.HoverID)

	w = env.do(t, http.MethodDelete, base+"/focus", nil, false)
	decode(t, w, &snap)
	assert.Empty(t, snap.FocusID)

	w = env.do(t, http.MethodGet, base+"/minimap.png?size=100", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-Replay-Tick"))
}

func TestDeleteReplay(t *testing.T) {
	env := newTestEnv(t)
	snap := env.openSession(t)

	w := env.do(t, http.MethodGet, "/api/replays/match-1/minimap.png", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(1), env.frames.GetMetrics().TotalKeys)

	w = env.do(t, http.MethodDelete, "/api/replays/match-1", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodDelete, "/api/replays/match-1", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(0), env.frames.GetMetrics().TotalKeys, "кадры удалённого повтора сброшены")

	w = env.do(t, http.MethodGet, "/api/sessions/"+snap.SessionID, nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code, "сессии удалённого повтора закрыты")

	w = env.do(t, http.MethodDelete, "/api/replays/match-1", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionWebSocket(t *testing.T) {
	env := newTestEnv(t)
	snap := env.openSession(t)

	srv := httptest.NewServer(env.rest.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + snap.SessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first wsMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, wsTypeState, first.Type)
	require.NotNil(t, first.State)
	assert.Equal(t, snap.SessionID, first.State.SessionID)

	require.NoError(t, conn.WriteJSON(wsCommand{Action: "seek", Tick: 250}))
	var update session.Update
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, session.UpdateSeek, update.Type)
	assert.Equal(t, 250, update.State.Tick)

	require.NoError(t, conn.WriteJSON(wsCommand{Action: "warp"}))
	var failure wsMessage
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, wsTypeError, failure.Type)

	// Закрытие сессии закрывает поток
	require.NoError(t, env.sessions.Close(snap.SessionID))
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, session.UpdateClosed, update.Type)
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(replay.ErrReplayNotFound))
	assert.Equal(t, http.StatusNotFound, statusFor(session.ErrSessionNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(playback.ErrUnsupportedSpeed))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(session.ErrTooManySessions))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

type collector struct {
	mu   sync.Mutex
	seen []*eventbus.Envelope
}

func (c *collector) handle(_ context.Context, ev *eventbus.Envelope) {
	c.mu.Lock()
	c.seen = append(c.seen, ev)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
