package api

import (
	"image"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/leetgaming-pro/replay-minimap/internal/cache"
	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/session"
	"github.com/leetgaming-pro/replay-minimap/internal/vec"
)

// SeekRequest перемотка на тик
type SeekRequest struct {
	Tick *int `json:"tick" binding:"required"`
}

// SpeedRequest смена скорости
type SpeedRequest struct {
	Speed float64 `json:"speed" binding:"required"`
}

// TogglesRequest видимость слоёв; отсутствующее поле не меняется
type TogglesRequest struct {
	Names    *bool `json:"names"`
	Events   *bool `json:"events"`
	Grenades *bool `json:"grenades"`
}

// PointRequest точка на миникарте. Без size координаты нормализованы в [0, 100],
// с size это пиксели изображения этой стороны.
type PointRequest struct {
	PlayerID string   `json:"player_id"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	Size     int      `json:"size"`
}

// handleCreateSession открывает сессию просмотра
func (rs *RestServer) handleCreateSession(c *gin.Context) {
	s, err := rs.sessions.Create(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "Сессия открыта", s.Snapshot())
}

func (rs *RestServer) handleGetSession(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Состояние сессии", s.Snapshot())
}

func (rs *RestServer) handleCloseSession(c *gin.Context) {
	if err := rs.sessions.Close(c.Param("sid")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Сессия закрыта", nil)
}

func (rs *RestServer) handleTogglePlay(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Воспроизведение переключено", s.TogglePlay())
}

func (rs *RestServer) handlePlay(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Воспроизведение", s.Play())
}

func (rs *RestServer) handlePause(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Пауза", s.Pause())
}

func (rs *RestServer) handleSeek(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, "Ожидается {\"tick\": <int>}")
		return
	}
	respondOK(c, http.StatusOK, "Перемотка", s.Seek(*req.Tick))
}

func (rs *RestServer) handleSpeed(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, "Ожидается {\"speed\": <number>}")
		return
	}
	snap, err := s.SetSpeed(req.Speed)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Скорость изменена", snap)
}

func (rs *RestServer) handleToggles(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	var req TogglesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, "Неверный формат переключателей")
		return
	}
	t := s.Snapshot().Toggles
	if req.Names != nil {
		t.ShowNames = *req.Names
	}
	if req.Events != nil {
		t.ShowEvents = *req.Events
	}
	if req.Grenades != nil {
		t.ShowGrenades = *req.Grenades
	}
	respondOK(c, http.StatusOK, "Слои обновлены", s.SetToggles(t))
}

// handleHover принимает либо player_id, либо точку для hit-test
func (rs *RestServer) handleHover(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	var req PointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	if p, hasPoint := rs.point(req); hasPoint {
		respondOK(c, http.StatusOK, "Hover", s.HoverAt(p))
		return
	}
	respondOK(c, http.StatusOK, "Hover", s.SetHover(req.PlayerID))
}

// handleClick hit-test по точке; промах фокус не меняет
func (rs *RestServer) handleClick(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	var req PointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	p, hasPoint := rs.point(req)
	if !hasPoint {
		respondFail(c, http.StatusBadRequest, "Ожидается {\"x\": <number>, \"y\": <number>}")
		return
	}

	player, hit := s.Click(p)
	data := gin.H{"hit": hit, "state": s.Snapshot()}
	if hit {
		data["player"] = player
	}
	respondOK(c, http.StatusOK, "Клик обработан", data)
}

func (rs *RestServer) handleClearFocus(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Фокус снят", s.ClearFocus())
}

// handleSessionMinimap кадр текущего состояния сессии
func (rs *RestServer) handleSessionMinimap(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	size, ok := rs.querySize(c)
	if !ok {
		return
	}

	// Один снимок на весь кадр: тик может сдвинуться во время отрисовки
	snap := s.Snapshot()
	rep := s.Replay()
	window := rs.sessions.Config().EventWindow
	key := cache.FrameKey{
		ReplayID: rep.ID,
		Tick:     snap.Tick,
		Size:     size,
		Names:    snap.Toggles.ShowNames,
		Events:   snap.Toggles.ShowEvents,
		Grenades: snap.Toggles.ShowGrenades,
		HoverID:  snap.HoverID,
		FocusID:  snap.FocusID,
	}
	c.Header("X-Replay-Tick", strconv.Itoa(snap.Tick))
	rs.writePNG(c, rep.MapName, key, func(bg image.Image) minimap.Scene {
		return session.BuildScene(rep, snap.Tick, window, bg, snap.Toggles, snap.HoverID, snap.FocusID)
	})
}

func (rs *RestServer) session(c *gin.Context) (*session.Session, bool) {
	s, err := rs.sessions.Get(c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}

func (rs *RestServer) point(req PointRequest) (vec.Vec2, bool) {
	if req.X == nil || req.Y == nil {
		return vec.Vec2{}, false
	}
	if req.Size > 0 {
		return rs.renderer.Compositor(req.Size).ToNormalized(*req.X, *req.Y), true
	}
	return vec.Vec2{X: *req.X, Y: *req.Y}.Clamp(0, 100), true
}
