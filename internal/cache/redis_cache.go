package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
)

// RedisFrameCache реализует FrameCache используя Redis.
// Кадры разделяются между всеми экземплярами сервиса.
//
// Особенности:
// - Автоматические метрики (hit ratio, latency)
// - Инвалидация всех кадров повтора через SCAN
// - TTL ограничен MaxTTL
type RedisFrameCache struct {
	client *redis.Client
	config *CacheConfig
	stats  stats
}

// NewRedisFrameCache создаёт Redis кеш кадров.
//
// Параметры:
//
//	config - конфигурация Redis
//
// Возвращает:
//
//	*RedisFrameCache - готовый к использованию кеш
//	error - ошибка подключения или конфигурации
func NewRedisFrameCache(config *CacheConfig) (*RedisFrameCache, error) {
	config.applyDefaults()

	// Создаём Redis клиент
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("🗄️ Redis frame cache initialized: %s (ttl %v)", config.RedisURL, config.DefaultTTL)
	return &RedisFrameCache{client: rdb, config: config}, nil
}

// Get получает кадр по ключу.
func (r *RedisFrameCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer r.stats.recordLatency(start)

	val, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		r.stats.hit()
		return val, nil
	}

	r.stats.miss()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	logging.Error("Redis Get error for key %s: %v", key, err)
	return nil, fmt.Errorf("redis get error: %w", err)
}

// Set сохраняет кадр.
func (r *RedisFrameCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	start := time.Now()
	defer r.stats.recordLatency(start)

	if err := r.client.Set(ctx, key, value, r.config.ttlFor(ttl)).Err(); err != nil {
		logging.Error("Redis Set error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete удаляет ключ из кеша.
func (r *RedisFrameCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer r.stats.recordLatency(start)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		logging.Error("Redis Delete error for key %s: %v", key, err)
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// InvalidateReplay удаляет все кадры повтора пакетами по 256 ключей.
func (r *RedisFrameCache) InvalidateReplay(ctx context.Context, replayID string) (int, error) {
	start := time.Now()
	defer r.stats.recordLatency(start)

	var (
		cursor  uint64
		removed int
	)
	pattern := ReplayPattern(replayID)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan error: %w", err)
		}
		if len(keys) > 0 {
			pipe := r.client.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, fmt.Errorf("redis batch delete error: %w", err)
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	logging.Debug("🧹 Инвалидировано %d кадров повтора %s", removed, replayID)
	return removed, nil
}

// Close закрывает соединение с Redis.
func (r *RedisFrameCache) Close() error {
	err := r.client.Close()
	if err != nil {
		logging.Error("Error closing Redis connection: %v", err)
		return err
	}

	logging.Info("Redis frame cache closed")
	return nil
}

// GetMetrics возвращает текущие метрики кеша.
func (r *RedisFrameCache) GetMetrics() *CacheMetrics {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	keys, err := r.client.DBSize(ctx).Result()
	if err != nil {
		keys = -1
	}
	return r.stats.snapshot(keys)
}
