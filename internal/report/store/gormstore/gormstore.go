// Package gormstore keeps report documents in a SQL table through gorm. Each
// row holds the JSON body and a version column used for compare-and-set.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/smallbiznis/cardreport/internal/report/domain"
	"github.com/smallbiznis/cardreport/internal/report/store"
	"github.com/smallbiznis/cardreport/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errVersionMismatch = errors.New("version_mismatch")

// Document is the persisted row.
type Document struct {
	Path        string         `gorm:"primaryKey;type:varchar(191)"`
	Granularity string         `gorm:"type:varchar(16);index"`
	Body        datatypes.JSON `gorm:"not null"`
	Version     int64          `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (Document) TableName() string { return "report_documents" }

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(gdb *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: gdb, log: log.Named("report.store.gorm")}
}

// Migrate creates the documents table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Document{})
}

func (s *Store) Get(ctx context.Context, path string) (*domain.Aggregate, bool, error) {
	doc, err := s.find(s.db.WithContext(ctx), store.NormalizePath(path))
	if err != nil || doc == nil {
		return nil, false, err
	}
	agg, err := decode(doc)
	if err != nil {
		return nil, false, err
	}
	return agg, true, nil
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

	var lastErr error
	for attempt := 1; attempt <= store.MaxMutateAttempts; attempt++ {
		next, err := s.tryMutate(ctx, path, fn)
		if err == nil {
			return next, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		s.log.Debug("document write conflict, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := store.Backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, errors.Join(domain.ErrConflict, lastErr)
}

func (s *Store) tryMutate(ctx context.Context, path string, fn domain.MutateFunc) (*domain.Aggregate, error) {
	var out *domain.Aggregate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.find(tx, path)
		if err != nil {
			return err
		}

		var cur *domain.Aggregate
		exists := doc != nil
		if exists {
			if cur, err = decode(doc); err != nil {
				return err
			}
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
		row := Document{
			Path:        path,
			Granularity: string(next.Granularity),
			Body:        datatypes.JSON(body),
			Version:     next.Version,
			UpdatedAt:   time.Now().UTC(),
		}

		if !exists {
			if err := tx.Create(&row).Error; err != nil {
				if db.IsDuplicateKeyErr(err) {
					return errVersionMismatch
				}
				return err
			}
			out = next
			return nil
		}

		res := tx.Model(&Document{}).
			Where("path = ? AND version = ?", path, doc.Version).
			Updates(map[string]any{
				"granularity": row.Granularity,
				"body":        row.Body,
				"version":     row.Version,
				"updated_at":  row.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errVersionMismatch
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) find(tx *gorm.DB, path string) (*Document, error) {
	var doc Document
	err := tx.Where("path = ?", path).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func decode(doc *Document) (*domain.Aggregate, error) {
	var agg domain.Aggregate
	if err := json.Unmarshal(doc.Body, &agg); err != nil {
		return nil, err
	}
	agg.Path = doc.Path
	agg.Version = doc.Version
	return &agg, nil
}

// retryable reports whether a failed attempt lost a race rather than failed outright.
func retryable(err error) bool {
	if errors.Is(err, errVersionMismatch) {
		return true
	}
	return db.IsSerializationErr(err)
}
