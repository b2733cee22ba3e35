// Package store holds the pieces shared by the document store backends.
package store

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/smallbiznis/cardreport/internal/report/domain"
)

// MaxMutateAttempts bounds compare-and-set retries for one Mutate call.
const MaxMutateAttempts = 16

// Mutator is the atomic primitive every backend implements natively.
type Mutator interface {
	Mutate(ctx context.Context, path string, fn domain.MutateFunc) (*domain.Aggregate, error)
}

// NormalizePath trims slashes so "reports/x" and "/reports/x/" address one document.
func NormalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// Ref builds a document reference.
func Ref(path string) domain.DocumentRef {
	return domain.DocumentRef(NormalizePath(path))
}

// Save overwrites the document at path through m.
func Save(ctx context.Context, m Mutator, path string, agg *domain.Aggregate) error {
	if agg == nil {
		return domain.Validation("save", path, domain.ErrInvalidPeriod)
	}
	_, err := m.Mutate(ctx, path, func(*domain.Aggregate, bool) (*domain.Aggregate, error) {
		return agg.Clone(), nil
	})
	return err
}

// Update merges patch into the existing document at path through m.
func Update(ctx context.Context, m Mutator, path string, patch map[string]any) error {
	_, err := m.Mutate(ctx, path, func(cur *domain.Aggregate, exists bool) (*domain.Aggregate, error) {
		if !exists {
			return nil, domain.NewError(domain.KindNotFound, "update", path, domain.ErrNotFound)
		}
		if err := cur.Apply(patch); err != nil {
			return nil, domain.Validation("update", path, err)
		}
		return cur, nil
	})
	return err
}

// Next stamps the bookkeeping fields of a state about to be written.
func Next(path string, prev *domain.Aggregate, exists bool, next *domain.Aggregate) *domain.Aggregate {
	next.Path = path
	next.Version = 1
	if exists && prev != nil {
		next.Version = prev.Version + 1
	}
	if next.LastUpdated.IsZero() {
		next.LastUpdated = time.Now().UTC()
	}
	return next
}

// Backoff sleeps a short jittered interval before retry attempt n (1-based).
func Backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt) * time.Millisecond
	d += time.Duration(rand.Int64N(int64(time.Millisecond)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
