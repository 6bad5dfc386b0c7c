package db

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

// Store is a durable key-value store of serialized JSON blobs. Load reports
// absence with ok=false rather than an error. Save returns only after the
// backend has accepted the write.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Close() error
}

// LoadJSON decodes the value stored under key into dst.
func LoadJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes value and stores it under key.
func SaveJSON(ctx context.Context, s Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Save(ctx, key, raw)
}

// Open builds the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *utils.Config, logger *zap.SugaredLogger) (Store, error) {
	if logger == nil {
		logger = utils.Logger().Sugar()
	}

	backend := cfg.Store.Backend
	logger.Debugw("opening store", "backend", backend)

	switch backend {
	case utils.StoreMemory:
		return NewMemoryStore(), nil
	case utils.StoreBolt, "":
		return NewBoltStore(cfg.Store.BoltPath)
	case utils.StoreSQLite:
		return NewSQLiteStore(ctx, cfg.Store.SQLitePath)
	case utils.StoreRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case utils.StoreMongo:
		return NewMongo(ctx, cfg.Mongo)
	case utils.StorePostgres:
		pg, err := NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", backend)
	}
}
