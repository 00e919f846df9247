package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/leetgaming-pro/replay-minimap/internal/cache"
	"github.com/leetgaming-pro/replay-minimap/internal/eventbus"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/middleware"
	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/panels"
	"github.com/leetgaming-pro/replay-minimap/internal/projector"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"github.com/leetgaming-pro/replay-minimap/internal/session"
)

// handleListReplays список повторов, новые первыми
func (rs *RestServer) handleListReplays(c *gin.Context) {
	list, err := rs.replays.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Список повторов", gin.H{
		"replays": list,
		"total":   len(list),
	})
}

// handleUploadReplay принимает декодированный повтор в JSON
func (rs *RestServer) handleUploadReplay(c *gin.Context) {
	var rep replay.Replay
	if err := json.NewDecoder(c.Request.Body).Decode(&rep); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondFail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("Повтор больше %d байт", tooLarge.Limit))
			return
		}
		respondFail(c, http.StatusBadRequest, "Неверный формат повтора: "+err.Error())
		return
	}

	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	rep.Normalize()
	if err := rep.Validate(); err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := rs.replays.Save(ctx, &rep); err != nil {
		respondError(c, err)
		return
	}
	// Повторная загрузка с тем же ID делает старые кадры недействительными
	rs.renderer.Invalidate(ctx, rep.ID)

	user := ""
	if claims := middleware.ClaimsFrom(c); claims != nil {
		user = claims.Username
	}
	logging.Info("📼 Повтор %s (%s, %d событий, maxTick=%d) загружен пользователем %s",
		rep.ID, rep.MapName, len(rep.Events), rep.MaxTick, user)
	rs.publish(ctx, eventbus.TypeReplayUploaded, eventbus.ReplayPayload{ReplayID: rep.ID, MapName: rep.MapName, User: user})

	respondOK(c, http.StatusCreated, "Повтор сохранён", rep.Summary())
}

// handleGetReplay полный документ повтора
func (rs *RestServer) handleGetReplay(c *gin.Context) {
	rep, ok := rs.loadReplay(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Повтор найден", rep)
}

// handleDeleteReplay удаляет повтор, его сессии и кадры
func (rs *RestServer) handleDeleteReplay(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if err := rs.replays.Delete(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	closed := rs.sessions.CloseReplay(id)
	rs.renderer.Invalidate(ctx, id)

	user := ""
	if claims := middleware.ClaimsFrom(c); claims != nil {
		user = claims.Username
	}
	logging.Info("🗑️ Повтор %s удалён пользователем %s (закрыто сессий: %d)", id, user, closed)
	rs.publish(ctx, eventbus.TypeReplayDeleted, eventbus.ReplayPayload{ReplayID: id, User: user})

	respondOK(c, http.StatusOK, "Повтор удалён", gin.H{"replay_id": id, "closed_sessions": closed})
}

// handleReplayMinimap кадр миникарты на произвольном тике без сессии
func (rs *RestServer) handleReplayMinimap(c *gin.Context) {
	rep, ok := rs.loadReplay(c)
	if !ok {
		return
	}
	tick, ok := queryInt(c, "tick", 0)
	if !ok {
		return
	}
	size, ok := rs.querySize(c)
	if !ok {
		return
	}
	toggles, ok := queryToggles(c, minimap.DefaultToggles())
	if !ok {
		return
	}
	if tick < 0 {
		tick = 0
	}
	if tick > rep.MaxTick {
		tick = rep.MaxTick
	}

	hover, focus := c.Query("hover"), c.Query("focus")
	key := cache.FrameKey{
		ReplayID: rep.ID,
		Tick:     tick,
		Size:     size,
		Names:    toggles.ShowNames,
		Events:   toggles.ShowEvents,
		Grenades: toggles.ShowGrenades,
		HoverID:  hover,
		FocusID:  focus,
	}
	window := rs.cfg.EventWindow
	rs.writePNG(c, rep.MapName, key, func(bg image.Image) minimap.Scene {
		return session.BuildScene(rep, tick, window, bg, toggles, hover, focus)
	})
}

// handleReplayEvents события, видимые на тике, с непрозрачностью
func (rs *RestServer) handleReplayEvents(c *gin.Context) {
	rep, ok := rs.loadReplay(c)
	if !ok {
		return
	}
	tick, ok := queryInt(c, "tick", 0)
	if !ok {
		return
	}
	window, ok := queryPositiveInt(c, "window", rs.cfg.EventWindow)
	if !ok {
		return
	}
	hideUtility := c.Query("grenades") == "false" || c.Query("grenades") == "0"

	visible := projector.Visible(rep.Events, tick, window, projector.Filter{HideUtility: hideUtility})
	respondOK(c, http.StatusOK, "События на тике", gin.H{
		"tick":   tick,
		"window": window,
		"events": visible,
	})
}

// handleKillFeed последние убийства до тика, новые первыми
func (rs *RestServer) handleKillFeed(c *gin.Context) {
	rep, ok := rs.loadReplay(c)
	if !ok {
		return
	}
	tick, ok := queryInt(c, "tick", rep.MaxTick)
	if !ok {
		return
	}
	limit, ok := queryPositiveInt(c, "limit", rs.cfg.KillFeedLimit)
	if !ok {
		return
	}

	lines := panels.KillFeedLines(projector.KillFeed(rep.Events, tick, limit), rep)
	respondOK(c, http.StatusOK, "Лента убийств", gin.H{"tick": tick, "kills": lines})
}

// handleScoreboard таблица результатов; без данных провайдера считается по событиям
func (rs *RestServer) handleScoreboard(c *gin.Context) {
	rep, ok := rs.loadReplay(c)
	if !ok {
		return
	}
	rows := rep.Scoreboard
	source := "provider"
	if len(rows) == 0 {
		rows = panels.ScoreboardFromEvents(rep)
		source = "events"
	}
	respondOK(c, http.StatusOK, "Таблица результатов", gin.H{
		"source": source,
		"rows":   panels.Scoreboard(rows),
	})
}

// handleTimeline хронология раундов
func (rs *RestServer) handleTimeline(c *gin.Context) {
	rep, ok := rs.loadReplay(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "Хронология раундов", gin.H{"rounds": panels.Timeline(rep)})
}

func (rs *RestServer) loadReplay(c *gin.Context) (*replay.Replay, bool) {
	rep, err := rs.replays.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return rep, true
}

// writePNG отдаёт кадр; X-Cache показывает, пришёл ли он из кеша
func (rs *RestServer) writePNG(c *gin.Context, mapName string, key cache.FrameKey, build SceneFunc) {
	png, cached, err := rs.renderer.RenderPNG(c.Request.Context(), mapName, key, build)
	if err != nil {
		respondError(c, err)
		return
	}
	if cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (rs *RestServer) querySize(c *gin.Context) (int, bool) {
	size, ok := queryInt(c, "size", rs.cfg.DefaultSize)
	if !ok {
		return 0, false
	}
	if size <= 0 || size > minimap.MaxSize {
		respondFail(c, http.StatusBadRequest, fmt.Sprintf("size должен быть в (0, %d]", minimap.MaxSize))
		return 0, false
	}
	return size, true
}

// queryInt читает целый параметр; некорректное значение отвечает 400
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondFail(c, http.StatusBadRequest, fmt.Sprintf("Параметр %s должен быть целым числом", name))
		return 0, false
	}
	return v, true
}

// queryPositiveInt как queryInt, но значение должно быть больше нуля
func queryPositiveInt(c *gin.Context, name string, def int) (int, bool) {
	v, ok := queryInt(c, name, def)
	if !ok {
		return 0, false
	}
	if v <= 0 {
		respondFail(c, http.StatusBadRequest, fmt.Sprintf("Параметр %s должен быть больше нуля", name))
		return 0, false
	}
	return v, true
}

func queryToggles(c *gin.Context, t minimap.Toggles) (minimap.Toggles, bool) {
	for name, dst := range map[string]*bool{
		"names":    &t.ShowNames,
		"events":   &t.ShowEvents,
		"grenades": &t.ShowGrenades,
	} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondFail(c, http.StatusBadRequest, fmt.Sprintf("Параметр %s должен быть true или false", name))
			return t, false
		}
		*dst = v
	}
	return t, true
}
