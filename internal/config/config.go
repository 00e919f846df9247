package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса.
// Каждое поле читается в порядке: config -> env REPLAY_* -> default.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Render    RenderConfig    `yaml:"render"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	RESTPort        int    `yaml:"rest_port"`
	LogLevel        string `yaml:"log_level"`
	LogDir          string `yaml:"log_dir"`
	ShutdownSeconds int    `yaml:"shutdown_timeout_seconds"`
	MaxUploadMB     int    `yaml:"max_upload_mb"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "REPLAY_REST_PORT", 8088)
}

// GetLogLevel уровень логирования (TRACE..ERROR)
func (s *ServerConfig) GetLogLevel() string {
	return getStringWithEnvFallback(s.LogLevel, "REPLAY_LOG_LEVEL", "INFO")
}

// GetLogDir каталог файлов логов
func (s *ServerConfig) GetLogDir() string {
	return getStringWithEnvFallback(s.LogDir, "REPLAY_LOG_DIR", "logs")
}

// GetShutdownTimeout время на корректное завершение
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(getIntWithEnvFallback(s.ShutdownSeconds, "REPLAY_SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second
}

// GetMaxUploadBytes лимит тела загрузки повтора
func (s *ServerConfig) GetMaxUploadBytes() int64 {
	return int64(getIntWithEnvFallback(s.MaxUploadMB, "REPLAY_MAX_UPLOAD_MB", 64)) << 20
}

type PlaybackConfig struct {
	Step             int     `yaml:"step"`
	StepPolicy       string  `yaml:"step_policy"` // scaled | fixed
	FPS              int     `yaml:"fps"`
	EventWindow      int     `yaml:"event_window"`
	KillFeedLimit    int     `yaml:"killfeed_limit"`
	HitRadius        float64 `yaml:"hit_radius"`
	IdleTTLMinutes   int     `yaml:"idle_ttl_minutes"`
	MaxSessions      int     `yaml:"max_sessions"`
	FrameEventMillis int     `yaml:"frame_event_ms"`
}

// GetStep шаг кадра в тиках
func (p *PlaybackConfig) GetStep() int {
	return getIntWithEnvFallback(p.Step, "REPLAY_PLAYBACK_STEP", 10)
}

// GetStepPolicy политика шага (scaled | fixed)
func (p *PlaybackConfig) GetStepPolicy() string {
	return strings.ToLower(getStringWithEnvFallback(p.StepPolicy, "REPLAY_PLAYBACK_STEP_POLICY", "scaled"))
}

// GetFPS частота кадров часов
func (p *PlaybackConfig) GetFPS() int {
	return getIntWithEnvFallback(p.FPS, "REPLAY_PLAYBACK_FPS", 60)
}

// GetEventWindow окно видимости событий в тиках
func (p *PlaybackConfig) GetEventWindow() int {
	return getIntWithEnvFallback(p.EventWindow, "REPLAY_EVENT_WINDOW", 500)
}

// GetKillFeedLimit длина ленты убийств
func (p *PlaybackConfig) GetKillFeedLimit() int {
	return getIntWithEnvFallback(p.KillFeedLimit, "REPLAY_KILLFEED_LIMIT", 8)
}

// GetHitRadius радиус hit-test в нормализованных единицах
func (p *PlaybackConfig) GetHitRadius() float64 {
	return getFloatWithEnvFallback(p.HitRadius, "REPLAY_HIT_RADIUS", 3)
}

// GetIdleTTL время жизни неактивной сессии
func (p *PlaybackConfig) GetIdleTTL() time.Duration {
	return time.Duration(getIntWithEnvFallback(p.IdleTTLMinutes, "REPLAY_SESSION_IDLE_TTL_MINUTES", 30)) * time.Minute
}

// GetMaxSessions лимит одновременных сессий
func (p *PlaybackConfig) GetMaxSessions() int {
	return getIntWithEnvFallback(p.MaxSessions, "REPLAY_MAX_SESSIONS", 1000)
}

// GetFrameEventInterval как часто кадры публикуются в шину
func (p *PlaybackConfig) GetFrameEventInterval() time.Duration {
	return time.Duration(getIntWithEnvFallback(p.FrameEventMillis, "REPLAY_FRAME_EVENT_MS", 1000)) * time.Millisecond
}

type RenderConfig struct {
	Size           int    `yaml:"size"`
	BackgroundsDir string `yaml:"backgrounds_dir"`
}

// GetSize сторона PNG по умолчанию
func (r *RenderConfig) GetSize() int {
	return getIntWithEnvFallback(r.Size, "REPLAY_RENDER_SIZE", 800)
}

// GetBackgroundsDir каталог радаров карт
func (r *RenderConfig) GetBackgroundsDir() string {
	return getStringWithEnvFallback(r.BackgroundsDir, "REPLAY_BACKGROUNDS_DIR", "assets/maps")
}

type StorageConfig struct {
	Backend         string `yaml:"backend"` // memory | badger | mongo
	DataPath        string `yaml:"data_path"`
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

// GetBackend тип хранилища повторов
func (s *StorageConfig) GetBackend() string {
	return strings.ToLower(getStringWithEnvFallback(s.Backend, "REPLAY_STORAGE_BACKEND", "badger"))
}

// GetDataPath каталог BadgerDB
func (s *StorageConfig) GetDataPath() string {
	return getStringWithEnvFallback(s.DataPath, "REPLAY_DATA_PATH", "data")
}

// GetMongoURI строка подключения MongoDB
func (s *StorageConfig) GetMongoURI() string {
	return getStringWithEnvFallback(s.MongoURI, "REPLAY_MONGO_URI", "mongodb://localhost:27017")
}

// GetMongoDatabase база MongoDB
func (s *StorageConfig) GetMongoDatabase() string {
	return getStringWithEnvFallback(s.MongoDatabase, "REPLAY_MONGO_DATABASE", "replay_minimap")
}

// GetMongoCollection коллекция повторов
func (s *StorageConfig) GetMongoCollection() string {
	return getStringWithEnvFallback(s.MongoCollection, "REPLAY_MONGO_COLLECTION", "replays")
}

type CacheConfig struct {
	Backend       string `yaml:"backend"` // none | memory | redis
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	MaxEntries    int    `yaml:"max_entries"`
}

// GetBackend тип кеша кадров
func (c *CacheConfig) GetBackend() string {
	return strings.ToLower(getStringWithEnvFallback(c.Backend, "REPLAY_CACHE_BACKEND", "memory"))
}

// GetRedisURL адрес Redis host:port
func (c *CacheConfig) GetRedisURL() string {
	return getStringWithEnvFallback(c.RedisURL, "REPLAY_REDIS_URL", "localhost:6379")
}

// GetRedisPassword пароль Redis
func (c *CacheConfig) GetRedisPassword() string {
	return getStringWithEnvFallback(c.RedisPassword, "REPLAY_REDIS_PASSWORD", "")
}

// GetRedisDB номер базы Redis
func (c *CacheConfig) GetRedisDB() int {
	return getIntWithEnvFallback(c.RedisDB, "REPLAY_REDIS_DB", 0)
}

// GetTTL время жизни кадра в кеше
func (c *CacheConfig) GetTTL() time.Duration {
	return time.Duration(getIntWithEnvFallback(c.TTLSeconds, "REPLAY_CACHE_TTL_SECONDS", 300)) * time.Second
}

// GetMaxEntries лимит in-memory кеша
func (c *CacheConfig) GetMaxEntries() int {
	return getIntWithEnvFallback(c.MaxEntries, "REPLAY_CACHE_MAX_ENTRIES", 4096)
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто: in-memory шина
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

// GetURL адрес NATS; пустая строка включает in-memory шину
func (e *EventBusConfig) GetURL() string {
	return getStringWithEnvFallback(e.URL, "REPLAY_NATS_URL", "")
}

// GetStream имя стрима JetStream
func (e *EventBusConfig) GetStream() string {
	return getStringWithEnvFallback(e.Stream, "REPLAY_NATS_STREAM", "REPLAY_EVENTS")
}

// GetRetention время хранения событий в стриме
func (e *EventBusConfig) GetRetention() time.Duration {
	return time.Duration(getIntWithEnvFallback(e.Retention, "REPLAY_NATS_RETENTION_HOURS", 24)) * time.Hour
}

// GetBuffer размер буфера in-memory шины
func (e *EventBusConfig) GetBuffer() int {
	return getIntWithEnvFallback(e.Buffer, "REPLAY_EVENTBUS_BUFFER", 1024)
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
}

// GetJWTSecret ключ подписи токенов
func (a *AuthConfig) GetJWTSecret() string {
	return getStringWithEnvFallback(a.JWTSecret, "REPLAY_JWT_SECRET", "")
}

// GetTokenTTL время жизни токена
func (a *AuthConfig) GetTokenTTL() time.Duration {
	return time.Duration(getIntWithEnvFallback(a.TokenTTLHours, "REPLAY_TOKEN_TTL_HOURS", 24)) * time.Hour
}

// GetAdminUser имя начального администратора
func (a *AuthConfig) GetAdminUser() string {
	return getStringWithEnvFallback(a.AdminUser, "REPLAY_ADMIN_USER", "admin")
}

// GetAdminPassword пароль начального администратора; пусто: не создавать
func (a *AuthConfig) GetAdminPassword() string {
	return getStringWithEnvFallback(a.AdminPassword, "REPLAY_ADMIN_PASSWORD", "")
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// IsEnabled включена ли трассировка (env REPLAY_TELEMETRY_ENABLED=true тоже включает)
func (t *TelemetryConfig) IsEnabled() bool {
	if t.Enabled {
		return true
	}
	v, err := strconv.ParseBool(os.Getenv("REPLAY_TELEMETRY_ENABLED"))
	return err == nil && v
}

// GetOTLPEndpoint адрес коллектора host:port
func (t *TelemetryConfig) GetOTLPEndpoint() string {
	return getStringWithEnvFallback(t.OTLPEndpoint, "REPLAY_OTLP_ENDPOINT", "localhost:4318")
}

// GetServiceName имя сервиса в трейсах
func (t *TelemetryConfig) GetServiceName() string {
	return getStringWithEnvFallback(t.ServiceName, "REPLAY_SERVICE_NAME", "replay-minimap")
}

// GetSampleRatio доля сэмплируемых трейсов
func (t *TelemetryConfig) GetSampleRatio() float64 {
	return getFloatWithEnvFallback(t.SampleRatio, "REPLAY_TRACE_SAMPLE_RATIO", 1)
}

// Validate проверяет значения перечислений
func (c *Config) Validate() error {
	switch c.Storage.GetBackend() {
	case "memory", "badger", "mongo":
	default:
		return fmt.Errorf("storage.backend: неизвестное значение %q", c.Storage.GetBackend())
	}
	switch c.Cache.GetBackend() {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("cache.backend: неизвестное значение %q", c.Cache.GetBackend())
	}
	switch c.Playback.GetStepPolicy() {
	case "scaled", "fixed":
	default:
		return fmt.Errorf("playback.step_policy: неизвестное значение %q", c.Playback.GetStepPolicy())
	}
	if size := c.Render.GetSize(); size <= 0 || size > 2048 {
		return fmt.Errorf("render.size: %d вне диапазона (0, 2048]", size)
	}
	return nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	return getIntWithEnvFallback(configPort, envVar, defaultPort)
}

// getIntWithEnvFallback возвращает положительное число с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	// Если значение задано в конфиге и больше 0, используем его
	if configVal > 0 {
		return configVal
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	// Используем дефолтное значение
	return defaultVal
}

func getFloatWithEnvFallback(configVal float64, envVar string, defaultVal float64) float64 {
	if configVal > 0 {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.ParseFloat(envVal, 64); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}

func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV REPLAY_CONFIG; без файла
// возвращает пустой Config, и все значения берутся из env и дефолтов.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REPLAY_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("разбор %s: %w", path, err)
	}

	return &cfg, nil
}
