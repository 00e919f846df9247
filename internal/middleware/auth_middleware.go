package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/leetgaming-pro/replay-minimap/internal/auth"
)

// ClaimsKey ключ gin.Context, под которым лежат проверенные claims
const ClaimsKey = "claims"

// RequireJWT пропускает запрос только с валидным Bearer-токеном.
// Для WebSocket допускается ?token=, браузер не умеет слать заголовки при upgrade.
func RequireJWT(tm *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortUnauthorized(c, "authorization required")
			return
		}
		claims, err := tm.ValidateJWT(token)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom возвращает claims, положенные RequireJWT, или nil.
func ClaimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": msg})
}
