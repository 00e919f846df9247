package storage

import (
	"context"

	"github.com/leetgaming-pro/replay-minimap/internal/replay"
)

// ReplayRepo определяет интерфейс хранилища документов повторов.
// Документ сохраняется целиком и читается только целиком: подсистема
// воспроизведения не изменяет данные повтора.
type ReplayRepo interface {
	// Save сохраняет или заменяет повтор.
	// Возвращает:
	//   error - ошибка при сохранении
	Save(ctx context.Context, r *replay.Replay) error

	// Load загружает повтор по id.
	// Возвращает replay.ErrReplayNotFound, если повтора нет.
	Load(ctx context.Context, id string) (*replay.Replay, error)

	// Delete удаляет повтор. Удаление отсутствующего повтора не ошибка.
	Delete(ctx context.Context, id string) error

	// List возвращает краткие описания всех повторов, новые первыми.
	List(ctx context.Context) ([]replay.Summary, error)

	// Close освобождает ресурсы хранилища.
	Close() error
}
