package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/leetgaming-pro/replay-minimap/internal/middleware"
)

// corsMiddleware открывает API для веб-клиента плеера
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requireAdmin проверяет, что пользователь является администратором.
// Ставится после middleware.RequireJWT.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := middleware.ClaimsFrom(c)
		if claims == nil {
			respondFail(c, http.StatusInternalServerError, "Отсутствует информация о пользователе")
			return
		}
		if !claims.IsAdmin {
			respondFail(c, http.StatusForbidden, "Недостаточно прав доступа")
			return
		}
		c.Next()
	}
}

// limitBody ограничивает размер тела загрузки
func (rs *RestServer) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, rs.cfg.MaxUploadBytes)
		c.Next()
	}
}
