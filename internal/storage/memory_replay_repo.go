package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
)

// MemoryReplayRepo реализует ReplayRepo в памяти.
// Используется для CI/локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryReplayRepo struct {
	mu   sync.RWMutex
	data map[string]*replay.Replay
	log  *logging.Logger
}

// NewMemoryReplayRepo создает новый репозиторий повторов в памяти
func NewMemoryReplayRepo() *MemoryReplayRepo {
	return &MemoryReplayRepo{
		data: make(map[string]*replay.Replay),
		log:  logging.GetStorageLogger(),
	}
}

// Save сохраняет повтор в памяти
func (r *MemoryReplayRepo) Save(ctx context.Context, rep *replay.Replay) error {
	if rep == nil || rep.ID == "" {
		return fmt.Errorf("недействительный повтор")
	}

	// Проверяем контекст на отмену
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[rep.ID] = rep
	return nil
}

// Load загружает повтор из памяти
func (r *MemoryReplayRepo) Load(ctx context.Context, id string) (*replay.Replay, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rep, ok := r.data[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", replay.ErrReplayNotFound, id)
	}
	return rep, nil
}

// Delete удаляет повтор из памяти
func (r *MemoryReplayRepo) Delete(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; ok {
		delete(r.data, id)
		r.log.Info("🗑️ Повтор %s удалён из памяти", id)
	}
	return nil
}

// List возвращает описания повторов, новые первыми
func (r *MemoryReplayRepo) List(ctx context.Context) ([]replay.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]replay.Summary, 0, len(r.data))
	for _, rep := range r.data {
		out = append(out, rep.Summary())
	}
	sortSummaries(out)
	return out, nil
}

// Close ничего не делает для in-memory реализации
func (r *MemoryReplayRepo) Close() error {
	return nil
}

// Count возвращает количество сохраненных повторов (для тестов)
func (r *MemoryReplayRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func sortSummaries(s []replay.Summary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
