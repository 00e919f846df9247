package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/playback"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"github.com/leetgaming-pro/replay-minimap/internal/session"
)

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func respondOK(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, GenericResponse{Success: true, Message: message, Data: data})
}

func respondFail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: message})
}

// statusFor сопоставляет доменные ошибки HTTP-кодам
func statusFor(err error) int {
	switch {
	case errors.Is(err, replay.ErrReplayNotFound), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrUnsupportedSpeed), errors.Is(err, replay.ErrInvalidReplay):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError пишет ошибку в конверте GenericResponse; 5xx дополнительно логируются
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error("❌ %s %s: %v", c.Request.Method, c.FullPath(), err)
		respondFail(c, status, "Внутренняя ошибка сервера")
		return
	}
	respondFail(c, status, err.Error())
}
