package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leetgaming-pro/replay-minimap/internal/auth"
	"github.com/leetgaming-pro/replay-minimap/internal/eventbus"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/middleware"
	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/projector"
	"github.com/leetgaming-pro/replay-minimap/internal/session"
	"github.com/leetgaming-pro/replay-minimap/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Version версия сервиса в /api/server
const Version = "v0.3.0"

// RestServer представляет REST API сервер
type RestServer struct {
	router   *gin.Engine
	replays  storage.ReplayRepo
	sessions *session.Manager
	bus      eventbus.EventBus
	renderer *Renderer
	users    auth.UserRepository
	tokens   *auth.TokenManager
	metrics  *ServerMetrics
	cfg      Config
}

// Config содержит зависимости и параметры REST сервера
type Config struct {
	Replays  storage.ReplayRepo
	Sessions *session.Manager
	Bus      eventbus.EventBus
	Renderer *Renderer
	Users    auth.UserRepository
	Tokens   *auth.TokenManager
	Registry *prometheus.Registry // nil → дефолтный регистр

	DefaultSize    int
	EventWindow    int
	KillFeedLimit  int
	MaxUploadBytes int64
	ServiceName    string
}

func (c *Config) applyDefaults() {
	if c.DefaultSize <= 0 {
		c.DefaultSize = minimap.DefaultSize
	}
	if c.EventWindow <= 0 {
		c.EventWindow = projector.DefaultWindow
	}
	if c.KillFeedLimit <= 0 {
		c.KillFeedLimit = projector.DefaultKillFeedLimit
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 64 << 20
	}
	if c.ServiceName == "" {
		c.ServiceName = "replay-minimap"
	}
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.Replays == nil || config.Sessions == nil || config.Tokens == nil || config.Users == nil {
		return nil, errors.New("api: replays, sessions, users and tokens are required")
	}
	config.applyDefaults()
	if config.Bus == nil {
		config.Bus = eventbus.NewMemoryBus(0)
	}
	if config.Renderer == nil {
		config.Renderer = NewRenderer(nil, nil, nil, 0)
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.ServiceName))
	router.Use(middleware.NewRequestLogger("/health", "/metrics").Handler())

	promMw := middleware.NewPrometheusMiddleware("replay_api", config.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:   router,
		replays:  config.Replays,
		sessions: config.Sessions,
		bus:      config.Bus,
		renderer: config.Renderer,
		users:    config.Users,
		tokens:   config.Tokens,
		metrics:  NewServerMetrics(),
		cfg:      config,
	}
	rs.setupRoutes()
	return rs, nil
}

// Handler http.Handler сервера (для http.Server и httptest)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.Use(corsMiddleware())

	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.GET("/server", rs.handleServerInfo)
	api.POST("/auth/login", rs.handleLogin)

	replays := api.Group("/replays")
	{
		replays.GET("", rs.handleListReplays)
		replays.POST("", middleware.RequireJWT(rs.tokens), rs.limitBody(), rs.handleUploadReplay)
		replays.GET("/:id", rs.handleGetReplay)
		replays.DELETE("/:id", middleware.RequireJWT(rs.tokens), requireAdmin(), rs.handleDeleteReplay)
		replays.GET("/:id/minimap.png", rs.handleReplayMinimap)
		replays.GET("/:id/events", rs.handleReplayEvents)
		replays.GET("/:id/killfeed", rs.handleKillFeed)
		replays.GET("/:id/scoreboard", rs.handleScoreboard)
		replays.GET("/:id/timeline", rs.handleTimeline)
		replays.POST("/:id/sessions", rs.handleCreateSession)
	}

	sessions := api.Group("/sessions/:sid")
	{
		sessions.GET("", rs.handleGetSession)
		sessions.DELETE("", rs.handleCloseSession)
		sessions.POST("/toggle", rs.handleTogglePlay)
		sessions.POST("/play", rs.handlePlay)
		sessions.POST("/pause", rs.handlePause)
		sessions.POST("/seek", rs.handleSeek)
		sessions.POST("/speed", rs.handleSpeed)
		sessions.POST("/toggles", rs.handleToggles)
		sessions.POST("/hover", rs.handleHover)
		sessions.POST("/click", rs.handleClick)
		sessions.DELETE("/focus", rs.handleClearFocus)
		sessions.GET("/minimap.png", rs.handleSessionMinimap)
		sessions.GET("/ws", rs.handleSessionStream)
	}
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	Message   string    `json:"message"`
	UserID    uint64    `json:"user_id,omitempty"`
	IsAdmin   bool      `json:"is_admin,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// handleLogin обрабатывает запрос на вход
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	user, err := rs.users.ValidateCredentials(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		logging.Warn("🔐 Неудачный вход пользователя %q с %s", req.Username, c.ClientIP())
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := rs.tokens.GenerateJWT(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Ошибка генерации токена",
		})
		return
	}

	logging.Info("🔑 Пользователь %s вошёл в систему", user.Username)
	c.JSON(http.StatusOK, LoginResponse{
		Success:   true,
		Token:     token,
		Message:   "Успешная авторизация",
		UserID:    user.ID,
		IsAdmin:   user.IsAdmin,
		ExpiresAt: time.Now().Add(rs.tokens.TTL()).UTC(),
	})
}

// handleServerInfo возвращает информацию о процессе
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()
	bus := rs.bus.Metrics()

	info := map[string]interface{}{
		"version":     Version,
		"name":        "Replay Minimap Service",
		"status":      "running",
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.1f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.1f", cpuPercent),
		"runtime":     rs.metrics.GetRuntimeStats(),
		"sessions":    rs.sessions.Count(),
		"eventbus": map[string]interface{}{
			"published": bus.Published,
			"dropped":   bus.Dropped,
		},
	}

	respondOK(c, http.StatusOK, "Информация о сервере", info)
}

// handleHealth проверка живости
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"time":     time.Now().Unix(),
		"sessions": rs.sessions.Count(),
	})
}

// publish отправляет событие каталога; ошибки шины не влияют на ответ
func (rs *RestServer) publish(ctx context.Context, eventType string, payload eventbus.ReplayPayload) {
	env, err := eventbus.NewEnvelope(eventType, eventbus.PriorityCatalog, payload.ReplayID, payload)
	if err != nil {
		logging.Warn("⚠️ Не удалось сформировать событие %s: %v", eventType, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := rs.bus.Publish(ctx, env); err != nil && !errors.Is(err, eventbus.ErrBusClosed) {
		logging.Warn("⚠️ Публикация %s не удалась: %v", eventType, err)
	}
}
