package cache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryFrameCache LRU кеш кадров в памяти процесса с TTL.
// Используется, когда Redis не настроен.
type MemoryFrameCache struct {
	config  *CacheConfig
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
	stats   stats
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryFrameCache создаёт in-memory кеш
func NewMemoryFrameCache(config *CacheConfig) *MemoryFrameCache {
	if config == nil {
		config = &CacheConfig{}
	}
	config.applyDefaults()
	// lru.New ошибается только при размере <= 0, applyDefaults это исключает
	entries, _ := lru.New[string, memoryEntry](config.MaxEntries)
	return &MemoryFrameCache{
		config:  config,
		entries: entries,
		now:     time.Now,
	}
}

// Get возвращает кадр или ErrCacheMiss
func (m *MemoryFrameCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer m.stats.recordLatency(start)

	e, ok := m.entries.Get(key)
	if !ok {
		m.stats.miss()
		return nil, ErrCacheMiss
	}
	if !m.now().Before(e.expires) {
		m.entries.Remove(key)
		m.stats.miss()
		return nil, ErrCacheMiss
	}

	m.stats.hit()
	return e.value, nil
}

// Set сохраняет кадр, вытесняя самые старые записи при переполнении
func (m *MemoryFrameCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.entries.Add(key, memoryEntry{value: value, expires: m.now().Add(m.config.ttlFor(ttl))})
	return nil
}

// Delete удаляет ключ
func (m *MemoryFrameCache) Delete(ctx context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

// InvalidateReplay удаляет все кадры повтора
func (m *MemoryFrameCache) InvalidateReplay(ctx context.Context, replayID string) (int, error) {
	prefix := replayPrefix(replayID)
	removed := 0
	for _, key := range m.entries.Keys() {
		if strings.HasPrefix(key, prefix) && m.entries.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

// Close очищает кеш
func (m *MemoryFrameCache) Close() error {
	m.entries.Purge()
	return nil
}

// GetMetrics возвращает метрики кеша
func (m *MemoryFrameCache) GetMetrics() *CacheMetrics {
	return m.stats.snapshot(int64(m.entries.Len()))
}
