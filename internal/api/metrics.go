package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics содержит метрики процесса для /api/server
type ServerMetrics struct {
	StartTime time.Time
}

// NewServerMetrics создает новый экземпляр метрик
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		StartTime: time.Now(),
	}
}

// GetUptime возвращает время работы сервера
func (sm *ServerMetrics) GetUptime() string {
	uptime := time.Since(sm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// GetMemoryUsage возвращает RSS процесса в MB; без gopsutil падает обратно на runtime
func (sm *ServerMetrics) GetMemoryUsage() (float64, error) {
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			return float64(info.RSS) / 1024 / 1024, nil
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024, nil
}

// GetCPUUsage возвращает использование CPU процессом в процентах
func (sm *ServerMetrics) GetCPUUsage() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		// Если не удалось получить метрику процесса, попробуем системную
		cpuPercents, err := cpu.Percent(100*time.Millisecond, false)
		if err != nil || len(cpuPercents) == 0 {
			return 0, err
		}
		return cpuPercents[0], nil
	}
	return cpuPercent, nil
}

// GetRuntimeStats сводка рантайма Go
func (sm *ServerMetrics) GetRuntimeStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"heap_alloc_mb": float64(m.HeapAlloc) / 1024 / 1024,
		"sys_mb":        float64(m.Sys) / 1024 / 1024,
		"num_gc":        m.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}
}

// RenderMetrics метрики отрисовки миникарты и кеша кадров
type RenderMetrics struct {
	renderDuration *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	renderErrors   prometheus.Counter
	sessions       prometheus.GaugeFunc
}

// NewRenderMetrics регистрирует метрики в reg. sessionCount может быть nil.
func NewRenderMetrics(reg prometheus.Registerer, sessionCount func() int) *RenderMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rm := &RenderMetrics{
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replay_minimap",
			Name:      "render_duration_seconds",
			Help:      "Время отрисовки кадра миникарты (без кеша).",
			Buckets:   []float64{0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"size"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay_minimap",
			Name:      "frame_cache_hits_total",
			Help:      "Кадры, отданные из кеша.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay_minimap",
			Name:      "frame_cache_misses_total",
			Help:      "Кадры, которых не оказалось в кеше.",
		}),
		renderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay_minimap",
			Name:      "render_errors_total",
			Help:      "Ошибки отрисовки и кодирования кадров.",
		}),
	}
	reg.MustRegister(rm.renderDuration, rm.cacheHits, rm.cacheMisses, rm.renderErrors)

	if sessionCount != nil {
		rm.sessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "replay_minimap",
			Name:      "playback_sessions",
			Help:      "Открытые сессии просмотра.",
		}, func() float64 { return float64(sessionCount()) })
		reg.MustRegister(rm.sessions)
	}
	return rm
}
