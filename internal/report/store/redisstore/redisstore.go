// Package redisstore keeps report documents as JSON strings in redis. Mutate
// uses WATCH/MULTI so a concurrent writer aborts the transaction and the
// mutation is replayed on fresh state.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cardreport/internal/report/domain"
	"github.com/smallbiznis/cardreport/internal/report/store"
	"go.uber.org/zap"
)

const defaultPrefix = "cardreport:doc:"

type Store struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

func New(client *redis.Client, prefix string, log *zap.Logger) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, prefix: prefix, log: log.Named("report.store.redis")}
}

func (s *Store) key(path string) string {
	return s.prefix + store.NormalizePath(path)
}

func (s *Store) Get(ctx context.Context, path string) (*domain.Aggregate, bool, error) {
	return get(ctx, s.client, s.key(path))
}

func (s *Store) Save(ctx context.Context, path string, agg *domain.Aggregate) error {
	return store.Save(ctx, s, path, agg)
}

func (s *Store) Update(ctx context.Context, path string, patch map[string]any) error {
	return store.Update(ctx, s, path, patch)
}

func (s *Store) Ref(path string) domain.DocumentRef {
	return store.Ref(path)
}

func (s *Store) Mutate(ctx context.Context, path string, fn domain.MutateFunc) (*domain.Aggregate, error) {
	path = store.NormalizePath(path)
	key := s.key(path)

	for attempt := 1; attempt <= store.MaxMutateAttempts; attempt++ {
		var out *domain.Aggregate
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, exists, err := get(ctx, tx, key)
			if err != nil {
				return err
			}
			next, err := fn(cur.Clone(), exists)
			if err != nil || next == nil {
				return err
			}
			next = store.Next(path, cur, exists, next)
			body, err := json.Marshal(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, body, 0)
				return nil
			})
			if err != nil {
				return err
			}
			out = next
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug("document write conflict, retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt),
			)
			if err := store.Backoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, domain.ErrConflict
}

func get(ctx context.Context, c redis.Cmdable, key string) (*domain.Aggregate, bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var agg domain.Aggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, false, err
	}
	return &agg, true, nil
}
