package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/internal/config"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/MrEthical07/authcore/store/sqlstore"
)

// openedStore is a store plus whatever else must be torn down with it.
type openedStore struct {
	store.Store
	description string
	// sweep deletes expired rows for backends without native TTLs. Nil for Redis.
	sweep   func(ctx context.Context) (int64, error)
	cleanup func()
}

func (o *openedStore) Close() error {
	err := o.Store.Close()
	if o.cleanup != nil {
		o.cleanup()
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (*openedStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		st := memory.New()
		return &openedStore{
			Store:       st,
			description: "memory",
			sweep:       func(context.Context) (int64, error) { return int64(st.Sweep()), nil },
		}, nil

	case config.StoreMiniredis:
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return &openedStore{
			Store:       redisstore.New(client, cfg.RedisPrefix),
			description: "miniredis at " + mr.Addr(),
			cleanup:     mr.Close,
		}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		st := redisstore.New(client, cfg.RedisPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return &openedStore{Store: st, description: "redis at " + cfg.RedisAddr}, nil

	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLiteFile); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return openSQL("sqlite", cfg.SQLiteFile, "sqlite "+cfg.SQLiteFile)

	case config.StorePostgres:
		return openSQL("postgres", cfg.PostgresDSN(),
			fmt.Sprintf("postgres %s:%d/%s", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB))

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func openSQL(driver, dsn, description string) (*openedStore, error) {
	db, err := sqlstore.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	st, err := sqlstore.New(db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return &openedStore{Store: st, description: description, sweep: st.Sweep}, nil
}
