package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/leetgaming-pro/replay-minimap/internal/logging"
)

// HTTPServer управляет жизненным циклом http.Server поверх RestServer
type HTTPServer struct {
	rest       *RestServer
	httpServer *http.Server
	errCh      chan error
}

// NewHTTPServer оборачивает REST сервер в http.Server на addr (":8088")
func NewHTTPServer(rest *RestServer, addr string) *HTTPServer {
	return &HTTPServer{
		rest: rest,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           rest.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		errCh: make(chan error, 1),
	}
}

// Start слушает порт и обслуживает запросы в отдельной горутине
func (hs *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", hs.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", hs.httpServer.Addr, err)
	}

	go func() {
		if err := hs.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Ошибка REST API сервера: %v", err)
			hs.errCh <- err
		}
		close(hs.errCh)
	}()

	logging.Info("✅ REST API сервер запущен на http://%s", ln.Addr())
	logging.Info("📋 Доступные эндпоинты:")
	logging.Info("   GET  /health                          - Проверка состояния")
	logging.Info("   GET  /metrics                         - Метрики Prometheus")
	logging.Info("   POST /api/auth/login                  - Вход оператора")
	logging.Info("   POST /api/replays                     - Загрузка повтора (JWT)")
	logging.Info("   GET  /api/replays/:id/minimap.png     - Кадр миникарты")
	logging.Info("   POST /api/replays/:id/sessions        - Открыть сессию просмотра")
	logging.Info("   GET  /api/sessions/:sid/ws            - Поток состояния сессии")
	return nil
}

// Errors закрывается после остановки; содержит ошибку, если Serve упал
func (hs *HTTPServer) Errors() <-chan error {
	return hs.errCh
}

// Stop дожидается завершения активных запросов не дольше timeout
func (hs *HTTPServer) Stop(timeout time.Duration) error {
	logging.Info("🛑 Остановка REST API сервера...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := hs.httpServer.Shutdown(ctx); err != nil {
		logging.Error("❌ Ошибка при остановке HTTP сервера: %v", err)
		return err
	}

	logging.Info("✅ REST API сервер остановлен")
	return nil
}
