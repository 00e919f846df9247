package playback

import (
	"context"
	"sync"
	"time"
)

// DefaultFPS частота кадров цикла воспроизведения
const DefaultFPS = 60

// FrameSource источник сигналов кадра (аналог requestAnimationFrame)
type FrameSource interface {
	Frames() <-chan time.Time
	Stop()
}

// FrameSourceFactory создаёт новый источник при каждом запуске воспроизведения
type FrameSourceFactory func() FrameSource

type tickerSource struct {
	t *time.Ticker
}

func (s tickerSource) Frames() <-chan time.Time { return s.t.C }
func (s tickerSource) Stop()                    { s.t.Stop() }

// TickerSource возвращает фабрику источников на time.Ticker с заданной частотой
func TickerSource(fps int) FrameSourceFactory {
	if fps <= 0 {
		fps = DefaultFPS
	}
	interval := time.Second / time.Duration(fps)
	return func() FrameSource {
		return tickerSource{t: time.NewTicker(interval)}
	}
}

// Clock продвигает Controller по сигналам FrameSource в отдельной горутине.
// Единственный писатель тика во время воспроизведения: цикл кадров.
type Clock struct {
	ctrl      *Controller
	newSource FrameSourceFactory

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewClock создаёт часы для контроллера. nil-фабрика означает TickerSource(DefaultFPS).
func NewClock(ctrl *Controller, factory FrameSourceFactory) *Clock {
	if factory == nil {
		factory = TickerSource(DefaultFPS)
	}
	return &Clock{ctrl: ctrl, newSource: factory}
}

// Controller возвращает управляемый контроллер
func (cl *Clock) Controller() *Controller {
	return cl.ctrl
}

// Play запускает воспроизведение и цикл кадров.
// Состояние контроллера и цикл меняются в одной критической секции под cl.mu,
// колбэки слушателя вызываются уже после неё.
func (cl *Clock) Play() bool {
	cl.mu.Lock()
	playing, notify := cl.ctrl.play()
	if playing {
		cl.startLocked()
	}
	cl.mu.Unlock()

	notify()
	return playing
}

// Pause останавливает воспроизведение и отменяет запланированный кадр
func (cl *Clock) Pause() {
	cl.mu.Lock()
	notify := cl.ctrl.pause()
	cl.stopLocked()
	cl.mu.Unlock()

	notify()
}

// TogglePlay переключает воспроизведение
func (cl *Clock) TogglePlay() bool {
	if cl.ctrl.State().Playing {
		cl.Pause()
		return false
	}
	return cl.Play()
}

// Seek перемещает позицию; цикл кадров продолжает работу с новой позиции
func (cl *Clock) Seek(tick int) int {
	return cl.ctrl.Seek(tick)
}

// SetSpeed меняет множитель скорости
func (cl *Clock) SetSpeed(speed float64) error {
	return cl.ctrl.SetSpeed(speed)
}

// Running сообщает, активен ли цикл кадров
func (cl *Clock) Running() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.cancel != nil
}

// Close останавливает часы
func (cl *Clock) Close() {
	cl.Pause()
}

func (cl *Clock) startLocked() {
	if cl.cancel != nil {
		return
	}

	cl.gen++
	ctx, cancel := context.WithCancel(context.Background())
	cl.cancel = cancel
	go cl.loop(ctx, cl.gen, cl.newSource())
}

func (cl *Clock) stopLocked() {
	// Новое поколение инвалидирует кадры уже запущенного цикла
	cl.gen++
	if cl.cancel != nil {
		cl.cancel()
		cl.cancel = nil
	}
}

func (cl *Clock) loop(ctx context.Context, gen uint64, src FrameSource) {
	defer src.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-src.Frames():
			if !cl.frame(gen) {
				return
			}
		}
	}
}

// frame применяет один кадр, если цикл всё ещё актуален
func (cl *Clock) frame(gen uint64) bool {
	cl.mu.Lock()
	if gen != cl.gen {
		cl.mu.Unlock()
		return false
	}
	st, notify := cl.ctrl.advance()
	if !st.Playing {
		// Автопауза на maxTick или пауза мимо Clock
		cl.stopLocked()
	}
	cl.mu.Unlock()

	notify()
	return st.Playing
}
