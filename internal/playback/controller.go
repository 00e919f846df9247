// Package playback реализует часы тиков и контроллер воспроизведения повтора.
//
// Controller хранит позицию (currentTick), флаг воспроизведения и множитель скорости.
// Clock продвигает Controller покадрово из отдельной горутины и гарантирует,
// что после Pause ни один запланированный кадр уже не сдвинет тик.
package playback

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// DefaultStep количество тиков, на которое продвигается позиция за кадр
const DefaultStep = 10

// AllowedSpeeds допустимые множители скорости
var AllowedSpeeds = []float64{0.25, 0.5, 1, 2, 4}

// ErrUnsupportedSpeed возвращается SetSpeed для множителя вне AllowedSpeeds
var ErrUnsupportedSpeed = errors.New("unsupported playback speed")

// StepPolicy определяет влияние множителя скорости на шаг кадра
type StepPolicy int

const (
	// StepScaled шаг = round(Step × speed), но не меньше 1 тика
	StepScaled StepPolicy = iota
	// StepFixed шаг всегда равен Step; скорость остаётся подписью в UI
	StepFixed
)

// String возвращает имя политики
func (p StepPolicy) String() string {
	switch p {
	case StepScaled:
		return "scaled"
	case StepFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// ParseStepPolicy разбирает имя политики из конфигурации
func ParseStepPolicy(s string) (StepPolicy, error) {
	switch s {
	case "", "scaled":
		return StepScaled, nil
	case "fixed":
		return StepFixed, nil
	default:
		return StepScaled, fmt.Errorf("unknown step policy %q", s)
	}
}

// State снимок состояния воспроизведения
type State struct {
	CurrentTick int     `json:"current_tick"`
	MaxTick     int     `json:"max_tick"`
	Playing     bool    `json:"playing"`
	Speed       float64 `json:"speed"`
}

// Listener получает колбэки контроллера. Вызывается вне внутренних блокировок.
type Listener interface {
	OnSeek(tick int)
	OnTogglePlay(playing bool)
	OnSpeedChange(speed float64)
	OnFrame(st State)
}

// ListenerFuncs адаптер Listener из отдельных функций; nil-поля игнорируются
type ListenerFuncs struct {
	Seek        func(tick int)
	TogglePlay  func(playing bool)
	SpeedChange func(speed float64)
	Frame       func(st State)
}

func (f ListenerFuncs) OnSeek(tick int) {
	if f.Seek != nil {
		f.Seek(tick)
	}
}

func (f ListenerFuncs) OnTogglePlay(playing bool) {
	if f.TogglePlay != nil {
		f.TogglePlay(playing)
	}
}

func (f ListenerFuncs) OnSpeedChange(speed float64) {
	if f.SpeedChange != nil {
		f.SpeedChange(speed)
	}
}

func (f ListenerFuncs) OnFrame(st State) {
	if f.Frame != nil {
		f.Frame(st)
	}
}

// Options параметры контроллера
type Options struct {
	MaxTick  int
	Step     int // 0 → DefaultStep
	Policy   StepPolicy
	Listener Listener
}

// Controller состояние воспроизведения. Безопасен для конкурентного использования.
type Controller struct {
	mu       sync.Mutex
	tick     int
	maxTick  int
	step     int
	playing  bool
	speed    float64
	policy   StepPolicy
	listener Listener
}

// NewController создаёт контроллер на тике 0, на паузе, со скоростью 1x
func NewController(opts Options) *Controller {
	step := opts.Step
	if step <= 0 {
		step = DefaultStep
	}
	maxTick := opts.MaxTick
	if maxTick < 0 {
		maxTick = 0
	}
	return &Controller{
		maxTick:  maxTick,
		step:     step,
		speed:    1,
		policy:   opts.Policy,
		listener: opts.Listener,
	}
}

// SetListener заменяет получателя колбэков
func (c *Controller) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// State возвращает текущее состояние
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		CurrentTick: c.tick,
		MaxTick:     c.maxTick,
		Playing:     c.playing,
		Speed:       c.speed,
	}
}

// SetMaxTick меняет верхнюю границу и прижимает текущую позицию
func (c *Controller) SetMaxTick(maxTick int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxTick < 0 {
		maxTick = 0
	}
	c.maxTick = maxTick
	c.tick = clampTick(c.tick, maxTick)
	if maxTick == 0 {
		c.playing = false
	}
}

// Play запускает воспроизведение. Без диапазона тиков ничего не делает.
// На последнем тике воспроизведение начинается с нуля.
func (c *Controller) Play() bool {
	playing, notify := c.play()
	notify()
	return playing
}

// play меняет состояние под блокировкой; колбэк вызывается после снятия всех блокировок
func (c *Controller) play() (bool, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing || c.maxTick <= 0 {
		return c.playing, func() {}
	}
	if c.tick >= c.maxTick {
		c.tick = 0
	}
	c.playing = true
	return true, c.toggleNotifier(true)
}

// Pause останавливает воспроизведение
func (c *Controller) Pause() {
	c.pause()()
}

func (c *Controller) pause() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return func() {}
	}
	c.playing = false
	return c.toggleNotifier(false)
}

func (c *Controller) toggleNotifier(playing bool) func() {
	l := c.listener
	return func() {
		if l != nil {
			l.OnTogglePlay(playing)
		}
	}
}

// TogglePlay переключает воспроизведение и возвращает новое значение флага
func (c *Controller) TogglePlay() bool {
	c.mu.Lock()
	playing := c.playing
	c.mu.Unlock()

	if playing {
		c.Pause()
		return false
	}
	return c.Play()
}

// Seek устанавливает позицию, прижимая её к [0, maxTick]. Работает и во время воспроизведения.
func (c *Controller) Seek(tick int) int {
	c.mu.Lock()
	c.tick = clampTick(tick, c.maxTick)
	tick = c.tick
	l := c.listener
	c.mu.Unlock()

	if l != nil {
		l.OnSeek(tick)
	}
	return tick
}

// SetSpeed меняет множитель скорости
func (c *Controller) SetSpeed(speed float64) error {
	if !IsAllowedSpeed(speed) {
		return fmt.Errorf("%w: %v", ErrUnsupportedSpeed, speed)
	}

	c.mu.Lock()
	changed := c.speed != speed
	c.speed = speed
	l := c.listener
	c.mu.Unlock()

	if changed && l != nil {
		l.OnSpeedChange(speed)
	}
	return nil
}

// StepSize возвращает шаг кадра с учётом политики и скорости
func (c *Controller) StepSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepLocked()
}

func (c *Controller) stepLocked() int {
	if c.policy == StepFixed {
		return c.step
	}
	n := int(math.Round(float64(c.step) * c.speed))
	if n < 1 {
		n = 1
	}
	return n
}

// Advance продвигает позицию на один кадр. На maxTick воспроизведение останавливается.
func (c *Controller) Advance() State {
	st, notify := c.advance()
	notify()
	return st
}

// advance выполняет шаг под блокировкой и возвращает отложенные колбэки
func (c *Controller) advance() (State, func()) {
	c.mu.Lock()
	if !c.playing {
		st := c.stateLocked()
		c.mu.Unlock()
		return st, func() {}
	}

	c.tick = clampTick(c.tick+c.stepLocked(), c.maxTick)
	stopped := false
	if c.tick >= c.maxTick {
		c.playing = false
		stopped = true
	}
	st := c.stateLocked()
	l := c.listener
	c.mu.Unlock()

	return st, func() {
		if l == nil {
			return
		}
		l.OnFrame(st)
		if stopped {
			l.OnTogglePlay(false)
		}
	}
}

// IsAllowedSpeed проверяет множитель скорости
func IsAllowedSpeed(speed float64) bool {
	for _, s := range AllowedSpeeds {
		if s == speed {
			return true
		}
	}
	return false
}

func clampTick(tick, maxTick int) int {
	if tick < 0 {
		return 0
	}
	if tick > maxTick {
		return maxTick
	}
	return tick
}
