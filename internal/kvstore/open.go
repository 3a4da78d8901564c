package kvstore

import (
	"context"
	"fmt"
	"io"

	"webcall/internal/config"
	"webcall/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open builds the configured backend. The returned closer releases any
// connection the backend holds; it is never nil.
func Open(ctx context.Context, cfg config.Config) (Store, io.Closer, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFile, "":
		s, err := NewFile(cfg.Store.FilePath)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return s, nopCloser{}, nil

	case config.StoreBackendMemory:
		return NewMemory(), nopCloser{}, nil

	case config.StoreBackendRedis:
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return nil, nopCloser{}, err
		}
		s, err := NewRedis(rdb, cfg.Store.KeyPrefix)
		if err != nil {
			_ = rdb.Close()
			return nil, nopCloser{}, err
		}
		return s, rdb, nil

	case config.StoreBackendPostgres:
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, nopCloser{}, err
		}
		s, err := NewPostgres(ctx, db, cfg.Store.KeyPrefix)
		if err != nil {
			_ = db.Close()
			return nil, nopCloser{}, err
		}
		return s, db, nil
	}
	return nil, nopCloser{}, fmt.Errorf("kvstore: unknown backend %q", cfg.Store.Backend)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
