package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leetgaming-pro/replay-minimap/internal/api"
	"github.com/leetgaming-pro/replay-minimap/internal/auth"
	"github.com/leetgaming-pro/replay-minimap/internal/cache"
	"github.com/leetgaming-pro/replay-minimap/internal/config"
	"github.com/leetgaming-pro/replay-minimap/internal/eventbus"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/minimap"
	"github.com/leetgaming-pro/replay-minimap/internal/observability"
	"github.com/leetgaming-pro/replay-minimap/internal/playback"
	"github.com/leetgaming-pro/replay-minimap/internal/session"
	"github.com/leetgaming-pro/replay-minimap/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигу (по умолчанию $REPLAY_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Некорректная конфигурация: %v", err)
	}

	logging.SetLogDir(cfg.Server.GetLogDir())
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer func() {
		if err := logging.GetLoggerManager().CloseAll(); err != nil {
			log.Printf("⚠️ %v", err)
		}
	}()
	logging.SetLevel(logging.ParseLevel(cfg.Server.GetLogLevel()))

	logging.Info("🎬 Запуск Replay Minimap Service %s...", api.Version)

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		_ = logging.GetLoggerManager().CloseAll()
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервис завершил работу")
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.IsEnabled() {
		shutdown, err := observability.InitTelemetry(ctx, observability.Options{
			ServiceName: cfg.Telemetry.GetServiceName(),
			Endpoint:    cfg.Telemetry.GetOTLPEndpoint(),
			SampleRatio: cfg.Telemetry.GetSampleRatio(),
			Insecure:    true,
		})
		if err != nil {
			logging.Warn("⚠️ OpenTelemetry недоступен, трейсы отключены: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Warn("⚠️ Ошибка остановки OpenTelemetry: %v", err)
				}
			}()
		}
	}

	// === ХРАНИЛИЩЕ ПОВТОРОВ ===
	replays, err := openReplayRepo(cfg.Storage)
	if err != nil {
		return err
	}
	defer replays.Close()

	// === КЕШ КАДРОВ ===
	frames, err := openFrameCache(cfg.Cache)
	if err != nil {
		return err
	}
	if frames != nil {
		defer frames.Close()
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := openEventBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter := eventbus.NewMetricsExporter(bus, registry)
	exporter.Start()
	defer exporter.Stop()

	if sub, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️ LoggingListener не запущен: %v", err)
	} else {
		defer sub.Unsubscribe()
	}

	// === СЕССИИ ===
	policy, err := playback.ParseStepPolicy(cfg.Playback.GetStepPolicy())
	if err != nil {
		return err
	}
	sessions := session.NewManager(replays, bus, session.Config{
		Step:               cfg.Playback.GetStep(),
		Policy:             policy,
		FPS:                cfg.Playback.GetFPS(),
		EventWindow:        cfg.Playback.GetEventWindow(),
		HitRadius:          cfg.Playback.GetHitRadius(),
		IdleTTL:            cfg.Playback.GetIdleTTL(),
		MaxSessions:        cfg.Playback.GetMaxSessions(),
		FrameEventInterval: cfg.Playback.GetFrameEventInterval(),
	}, session.WithFrameSource(playback.TickerSource(cfg.Playback.GetFPS())))
	sessions.StartJanitor(time.Minute)
	defer sessions.Shutdown()

	// === АУТЕНТИФИКАЦИЯ ===
	users := auth.NewMemoryUserRepo()
	if cfg.Auth.GetAdminPassword() == "" {
		logging.Warn("⚠️ REPLAY_ADMIN_PASSWORD не задан: загрузка и удаление повторов недоступны")
	}
	if err := users.SeedAdmin(cfg.Auth.GetAdminUser(), cfg.Auth.GetAdminPassword()); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if cfg.Auth.GetJWTSecret() == "" {
		logging.Warn("⚠️ JWT секрет не задан: сгенерирован временный, токены не переживут перезапуск")
	}
	tokens, err := auth.NewTokenManager(cfg.Auth.GetJWTSecret(), cfg.Auth.GetTokenTTL())
	if err != nil {
		return err
	}

	// === REST API ===
	gin.SetMode(gin.ReleaseMode)
	renderMetrics := api.NewRenderMetrics(registry, sessions.Count)
	backgrounds := minimap.NewBackgrounds(minimap.DirSource{Dir: cfg.Render.GetBackgroundsDir()})

	rest, err := api.NewRestServer(api.Config{
		Replays:        replays,
		Sessions:       sessions,
		Bus:            bus,
		Renderer:       api.NewRenderer(backgrounds, frames, renderMetrics, cfg.Cache.GetTTL()),
		Users:          users,
		Tokens:         tokens,
		Registry:       registry,
		DefaultSize:    cfg.Render.GetSize(),
		EventWindow:    cfg.Playback.GetEventWindow(),
		KillFeedLimit:  cfg.Playback.GetKillFeedLimit(),
		MaxUploadBytes: cfg.Server.GetMaxUploadBytes(),
		ServiceName:    cfg.Telemetry.GetServiceName(),
	})
	if err != nil {
		return err
	}

	server := api.NewHTTPServer(rest, fmt.Sprintf(":%d", cfg.Server.GetRESTPort()))
	if err := server.Start(); err != nil {
		return err
	}

	logging.Info("✅ Сервис запущен. Нажмите Ctrl+C для остановки")

	// === GRACEFUL SHUTDOWN ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logging.Info("🛑 Получен сигнал %v, остановка...", sig)
	case err, ok := <-server.Errors():
		if ok && err != nil {
			return err
		}
	}

	// Сначала HTTP: новые запросы больше не приходят, затем отложенные закрытия
	// сессий, шины, кеша и хранилища в обратном порядке.
	return server.Stop(cfg.Server.GetShutdownTimeout())
}

func openReplayRepo(cfg config.StorageConfig) (storage.ReplayRepo, error) {
	switch cfg.GetBackend() {
	case "memory":
		logging.Warn("⚠️ Используется in-memory хранилище повторов: данные пропадут при перезапуске")
		return storage.NewMemoryReplayRepo(), nil
	case "mongo":
		repo, err := storage.NewMongoReplayRepo(storage.MongoConfig{
			URI:        cfg.GetMongoURI(),
			Database:   cfg.GetMongoDatabase(),
			Collection: cfg.GetMongoCollection(),
		})
		if err != nil {
			return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
		}
		return repo, nil
	default:
		repo, err := storage.NewBadgerReplayRepo(cfg.GetDataPath())
		if err != nil {
			return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
		}
		return repo, nil
	}
}

func openFrameCache(cfg config.CacheConfig) (cache.FrameCache, error) {
	cc := &cache.CacheConfig{
		RedisURL:      cfg.GetRedisURL(),
		RedisPassword: cfg.GetRedisPassword(),
		RedisDB:       cfg.GetRedisDB(),
		DefaultTTL:    cfg.GetTTL(),
		MaxEntries:    cfg.GetMaxEntries(),
	}
	switch cfg.GetBackend() {
	case "none":
		logging.Info("🖼️ Кеш кадров отключён")
		return nil, nil
	case "redis":
		c, err := cache.NewRedisFrameCache(cc)
		if err != nil {
			return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
		}
		return c, nil
	default:
		return cache.NewMemoryFrameCache(cc), nil
	}
}

func openEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.GetURL() == "" {
		logging.Info("📨 Шина событий: in-memory")
		return eventbus.NewMemoryBus(cfg.GetBuffer()), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.GetURL(), cfg.GetStream(), cfg.GetRetention())
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к NATS: %w", err)
	}
	return bus, nil
}
