// Package mongostore keeps report documents in a MongoDB collection keyed by
// path. Writes are conditioned on the stored version.
package mongostore

import (
	"context"
	"errors"

	"github.com/smallbiznis/cardreport/internal/report/domain"
	"github.com/smallbiznis/cardreport/internal/report/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const DefaultCollection = "report_documents"

type Store struct {
	coll *mongo.Collection
	log  *zap.Logger
}

func New(db *mongo.Database, collection string, log *zap.Logger) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{coll: db.Collection(collection), log: log.Named("report.store.mongo")}
}

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

func (s *Store) Get(ctx context.Context, path string) (*domain.Aggregate, bool, error) {
	var agg domain.Aggregate
	err := s.coll.FindOne(ctx, bson.M{"_id": store.NormalizePath(path)}).Decode(&agg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &agg, true, nil
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

	for attempt := 1; attempt <= store.MaxMutateAttempts; attempt++ {
		cur, exists, err := s.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		next, err := fn(cur.Clone(), exists)
		if err != nil || next == nil {
			return nil, err
		}
		next = store.Next(path, cur, exists, next)

		if !exists {
			_, err = s.coll.InsertOne(ctx, next)
			if mongo.IsDuplicateKeyError(err) {
				if err := store.Backoff(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			return next, nil
		}

		res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": path, "version": cur.Version}, next)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
		s.log.Debug("document write conflict, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt),
		)
		if err := store.Backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, domain.ErrConflict
}
