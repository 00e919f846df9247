package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// Компоненты сервиса с отдельными файлами логов
const (
	ComponentPlayback = "playback"
	ComponentRender   = "render"
	ComponentStorage  = "storage"
)

// LoggerManager выдаёт логгеры компонентов. Каждый компонент пишет в свой
// файл <logDir>/<component>_<timestamp>.log, консольный уровень общий.
type LoggerManager struct {
	mu           sync.Mutex
	loggers      map[string]*Logger
	consoleLevel LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает менеджер логгеров процесса
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = newLoggerManager()
	})
	return globalManager
}

func newLoggerManager() *LoggerManager {
	return &LoggerManager{
		loggers:      make(map[string]*Logger),
		consoleLevel: INFO,
	}
}

// Logger возвращает логгер компонента, создавая его при первом обращении.
// Если файл открыть не удалось, компонент пишет только в консоль.
func (lm *LoggerManager) Logger(component string) *Logger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if l, ok := lm.loggers[component]; ok {
		return l
	}

	l, err := NewLogger(component)
	if err != nil {
		Warn("⚠️ Лог-файл компонента %s недоступен, только консоль: %v", component, err)
		l = &Logger{
			component:     component,
			consoleLogger: log.New(os.Stdout, "", log.LstdFlags),
			minFileLevel:  ERROR,
		}
	}
	l.minConsoleLevel = lm.consoleLevel
	lm.loggers[component] = l
	return l
}

// SetConsoleLevel меняет консольный уровень у всех текущих и будущих логгеров
func (lm *LoggerManager) SetConsoleLevel(level LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.consoleLevel = level
	for _, l := range lm.loggers {
		l.mu.Lock()
		l.minConsoleLevel = level
		l.mu.Unlock()
	}
}

// Components возвращает отсортированный список созданных логгеров
func (lm *LoggerManager) Components() []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	out := make([]string, 0, len(lm.loggers))
	for c := range lm.loggers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CloseAll закрывает файлы всех компонентов. Следующий Logger откроет новый файл.
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var firstErr error
	for component, l := range lm.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s log: %w", component, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
	return firstErr
}

// GetPlaybackLogger логгер сессий и воспроизведения
func GetPlaybackLogger() *Logger {
	return GetLoggerManager().Logger(ComponentPlayback)
}

// GetRenderLogger логгер отрисовки миникарты и фонов
func GetRenderLogger() *Logger {
	return GetLoggerManager().Logger(ComponentRender)
}

// GetStorageLogger логгер хранилищ повторов
func GetStorageLogger() *Logger {
	return GetLoggerManager().Logger(ComponentStorage)
}
