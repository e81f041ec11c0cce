// Package redisstore implements store.Store on Redis using go-redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/store"
)

// Store is a Redis-backed store.Store. Update uses WATCH/MULTI/EXEC and re-runs the
// callback when a watched key changes before EXEC.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New wraps client. prefix namespaces every key; an empty prefix stores keys verbatim.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return data, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return errors.New("redisstore: negative ttl")
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, keys []string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}

	physical := make([]string, len(keys))
	for i, k := range keys {
		physical[i] = s.key(k)
	}

	txf := func(tx *redis.Tx) error {
		snapshot := make(map[string][]byte, len(keys))
		if len(physical) > 0 {
			vals, err := tx.MGet(ctx, physical...).Result()
			if err != nil {
				return err
			}
			for i, k := range keys {
				snapshot[k] = toBytes(vals[i])
			}
		}

		buf := store.NewBuffer(snapshot)
		if err := fn(buf); err != nil {
			return &store.CallbackError{Err: err}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		writes := buf.Writes()
		if len(writes) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				if w.Delete {
					pipe.Del(ctx, s.key(w.Key))
					continue
				}
				pipe.Set(ctx, s.key(w.Key), w.Value, w.TTL)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < store.MaxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, physical...)
		if err == nil {
			return nil
		}

		var cbErr *store.CallbackError
		if errors.As(err, &cbErr) {
			return cbErr.Err
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return unavailable(err)
	}

	return store.ErrConflict
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func toBytes(v interface{}) []byte {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []byte(t)
	case []byte:
		return t
	default:
		return []byte(fmt.Sprint(t))
	}
}

func unavailable(err error) error {
	return store.Unavailable(fmt.Errorf("redis: %w", err))
}
