package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"go.opentelemetry.io/otel/trace"
)

// TraceHeader заголовок ответа с идентификатором запроса
const TraceHeader = "X-Request-ID"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Служебные маршруты (health, metrics) пишутся на уровне Debug.
type RequestLogger struct {
	quiet map[string]bool
}

func NewRequestLogger(quietPaths ...string) *RequestLogger {
	q := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		q[p] = true
	}
	return &RequestLogger{quiet: q}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		switch {
		case span.SpanContext().IsValid():
			traceID = span.SpanContext().TraceID().String()
		case c.GetHeader(TraceHeader) != "":
			traceID = c.GetHeader(TraceHeader)
		default:
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		c.Header(TraceHeader, traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		switch {
		case rl.quiet[path]:
			logging.Debug("[HTTP] %s %s %d %s trace=%s", method, path, status, latency, traceID)
		case status >= 500:
			logging.Error("[HTTP] ❌ %s %s %d %s ip=%s trace=%s", method, path, status, latency, c.ClientIP(), traceID)
		default:
			logging.Info("[HTTP] %s %s %d %s ip=%s trace=%s", method, path, status, latency, c.ClientIP(), traceID)
		}
	}
}
