package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
)

const (
	replayKeyPrefix  = "replay:"
	summaryKeyPrefix = "summary:"
)

// BadgerReplayRepo хранит повторы в BadgerDB.
// Документ сериализуется в JSON и сжимается zstd; краткое описание
// хранится отдельным ключом, чтобы List не распаковывал кадры.
type BadgerReplayRepo struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
	log     *logging.Logger
}

// NewBadgerReplayRepo открывает хранилище в каталоге <dataPath>/replays
func NewBadgerReplayRepo(dataPath string) (*BadgerReplayRepo, error) {
	dbPath := filepath.Join(dataPath, "replays")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	log := logging.GetStorageLogger()
	log.Info("📦 BadgerDB повторов открыт: %s", dbPath)
	return &BadgerReplayRepo{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		encoder: encoder,
		decoder: decoder,
		log:     log,
	}, nil
}

// Save сохраняет повтор и его краткое описание в одной транзакции
func (br *BadgerReplayRepo) Save(ctx context.Context, r *replay.Replay) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("недействительный повтор")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	br.mutex.RLock()
	defer br.mutex.RUnlock()
	if !br.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("ошибка сериализации повтора: %w", err)
	}
	summary, err := json.Marshal(r.Summary())
	if err != nil {
		return fmt.Errorf("ошибка сериализации описания: %w", err)
	}
	compressed := br.encoder.EncodeAll(doc, make([]byte, 0, len(doc)/4))

	err = br.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(replayKeyPrefix+r.ID), compressed); err != nil {
			return err
		}
		return txn.Set([]byte(summaryKeyPrefix+r.ID), summary)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	br.log.Debug("💾 Повтор %s сохранён: %d байт JSON, %d байт zstd", r.ID, len(doc), len(compressed))
	return nil
}

// Load читает и распаковывает повтор
func (br *BadgerReplayRepo) Load(ctx context.Context, id string) (*replay.Replay, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	br.mutex.RLock()
	defer br.mutex.RUnlock()
	if !br.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := br.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(replayKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", replay.ErrReplayNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	doc, err := br.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки повтора %s: %w", id, err)
	}

	var r replay.Replay
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("ошибка десериализации повтора %s: %w", id, err)
	}
	return &r, nil
}

// Delete удаляет повтор и описание
func (br *BadgerReplayRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	br.mutex.RLock()
	defer br.mutex.RUnlock()
	if !br.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := br.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(replayKeyPrefix + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(summaryKeyPrefix + id))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	br.log.Info("🗑️ Повтор %s удалён", id)
	return nil
}

// List перебирает ключи описаний
func (br *BadgerReplayRepo) List(ctx context.Context) ([]replay.Summary, error) {
	br.mutex.RLock()
	defer br.mutex.RUnlock()
	if !br.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	out := make([]replay.Summary, 0)
	err := br.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(summaryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var s replay.Summary
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			})
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка повторов: %w", err)
	}

	sortSummaries(out)
	return out, nil
}

// Close закрывает хранилище данных
func (br *BadgerReplayRepo) Close() error {
	br.mutex.Lock()
	defer br.mutex.Unlock()

	if !br.isReady {
		return nil
	}

	br.isReady = false
	br.decoder.Close()
	_ = br.encoder.Close()
	br.log.Info("📦 BadgerDB повторов закрыт: %s", br.dbPath)
	return br.db.Close()
}
